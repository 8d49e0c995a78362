package expr

import (
	"testing"
)

func TestTransform_EmptyIsIdentity(t *testing.T) {
	e := NewTransformEvaluator()

	out, err := e.Apply("", "unchanged", nil)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if out != "unchanged" {
		t.Errorf("expected identity, got %v", out)
	}
}

func TestTransform_ValueExpression(t *testing.T) {
	e := NewTransformEvaluator()
	value := map[string]interface{}{"content": "pong", "tokens": 12}

	out, err := e.Apply(`value.content`, value, nil)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if out != "pong" {
		t.Errorf("expected pong, got %v", out)
	}
}

func TestTransform_ContextNamespace(t *testing.T) {
	e := NewTransformEvaluator()

	out, err := e.Apply(`context.prefix + "-" + value`, "x", map[string]interface{}{"prefix": "p"})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if out != "p-x" {
		t.Errorf("expected p-x, got %v", out)
	}
}

func TestTransform_JSONHelpers(t *testing.T) {
	e := NewTransformEvaluator()

	out, err := e.Apply(`json_encode(value)`, map[string]interface{}{"a": 1}, nil)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if out != `{"a":1}` {
		t.Errorf("expected encoded object, got %v", out)
	}

	out, err = e.Apply(`json_decode(value)`, `{"b":2}`, nil)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	decoded, ok := out.(map[string]interface{})
	if !ok || decoded["b"] != 2.0 {
		t.Errorf("expected decoded object, got %v", out)
	}
}

func TestTransform_CompileErrorFromCheck(t *testing.T) {
	e := NewTransformEvaluator()

	if err := e.Check("value +"); err == nil {
		t.Fatal("expected compile error")
	}
	if err := e.Check(""); err != nil {
		t.Fatalf("empty transform must pass Check: %v", err)
	}
}

func TestTransform_RuntimeErrorReturned(t *testing.T) {
	e := NewTransformEvaluator()

	// the caller keeps the original value on error
	if _, err := e.Apply(`value.missing.deeper`, map[string]interface{}{}, nil); err == nil {
		t.Fatal("expected runtime error for nil traversal")
	}
}
