package workflow

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// definitionSchema is the JSON-schema shape check applied to raw
// definitions before structural validation. Structural rules (DAG, port
// names, expression syntax) live in the validator; this only guards the
// envelope.
const definitionSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["nodes", "edges"],
  "properties": {
    "id": {"type": "string"},
    "name": {"type": "string"},
    "version": {"type": "integer"},
    "description": {"type": "string"},
    "nodes": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "type"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "type": {"type": "string", "minLength": 1},
          "name": {"type": "string"},
          "config": {"type": "object"},
          "position": {
            "type": "object",
            "properties": {
              "x": {"type": "number"},
              "y": {"type": "number"}
            }
          },
          "signature": {
            "type": "object",
            "properties": {
              "inputs": {"$ref": "#/definitions/ports"},
              "outputs": {"$ref": "#/definitions/ports"}
            }
          }
        }
      }
    },
    "edges": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["source", "target"],
        "properties": {
          "id": {"type": "string"},
          "source": {"type": "string", "minLength": 1},
          "target": {"type": "string", "minLength": 1},
          "source_output": {"type": "string"},
          "target_input": {"type": "string"},
          "condition": {"type": "string"},
          "transform": {"type": "string"}
        }
      }
    },
    "global_config": {"type": "object"},
    "metadata": {"type": "object"}
  },
  "definitions": {
    "ports": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "type"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "type": {
            "type": "string",
            "enum": ["string", "number", "boolean", "array", "object", "file", "image", "audio", "video"]
          },
          "required": {"type": "boolean"},
          "default": {},
          "description": {"type": "string"}
        }
      }
    }
  }
}`

var compiledSchema = gojsonschema.NewStringLoader(definitionSchema)

// checkSchema validates raw definition JSON against the envelope schema
func checkSchema(raw []byte) error {
	result, err := gojsonschema.Validate(compiledSchema, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("definition is not valid JSON: %w", err)
	}

	if result.Valid() {
		return nil
	}

	var problems []string
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return fmt.Errorf("definition failed schema validation: %s", strings.Join(problems, "; "))
}
