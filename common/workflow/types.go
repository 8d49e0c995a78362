package workflow

import (
	"time"
)

// Node type constants
const (
	NodeTypeInput           = "input"
	NodeTypeOutput          = "output"
	NodeTypeLLM             = "llm"
	NodeTypeRAGRetriever    = "rag_retriever"
	NodeTypeHybridRetriever = "hybrid_retriever"
	NodeTypeRetriever       = "retriever"
	NodeTypeReranker        = "reranker"
	NodeTypeClassifier      = "classifier"
	NodeTypeParser          = "parser"
	NodeTypeCondition       = "condition"
	NodeTypeTransformer     = "data_transformer"
	NodeTypeEmbeddings      = "embeddings"
	NodeTypeHTTPRequest     = "http_request"
	NodeTypeCodeExecutor    = "code_executor"
)

// KnownNodeTypes is the closed set of node types accepted by the validator.
// Extension happens through the node registry, which feeds this set.
var KnownNodeTypes = map[string]bool{
	NodeTypeInput:           true,
	NodeTypeOutput:          true,
	NodeTypeLLM:             true,
	NodeTypeRAGRetriever:    true,
	NodeTypeHybridRetriever: true,
	NodeTypeRetriever:       true,
	NodeTypeReranker:        true,
	NodeTypeClassifier:      true,
	NodeTypeParser:          true,
	NodeTypeCondition:       true,
	NodeTypeTransformer:     true,
	NodeTypeEmbeddings:      true,
	NodeTypeHTTPRequest:     true,
	NodeTypeCodeExecutor:    true,
}

// Port value type constants
const (
	PortTypeString  = "string"
	PortTypeNumber  = "number"
	PortTypeBoolean = "boolean"
	PortTypeArray   = "array"
	PortTypeObject  = "object"
	PortTypeFile    = "file"
	PortTypeImage   = "image"
	PortTypeAudio   = "audio"
	PortTypeVideo   = "video"
)

// Port describes one named input or output of a node signature
type Port struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Required    bool        `json:"required,omitempty"`
	Default     interface{} `json:"default,omitempty"`
	Description string      `json:"description,omitempty"`
}

// NodeSignature declares the ordered inputs and outputs of a node.
// It is consulted by validation and alias resolution only; the runtime
// never coerces values to the declared types.
type NodeSignature struct {
	Inputs  []Port `json:"inputs,omitempty"`
	Outputs []Port `json:"outputs,omitempty"`
}

// Position is display-only metadata from the workflow editor
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is a typed processing unit. Immutable during an execution.
type Node struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Name      string                 `json:"name,omitempty"`
	Config    map[string]interface{} `json:"config,omitempty"`
	Position  *Position              `json:"position,omitempty"`
	Signature *NodeSignature         `json:"signature,omitempty"`
}

// Edge is a directed link from a source output port to a target input port
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceOutput string `json:"source_output,omitempty"`
	TargetInput  string `json:"target_input,omitempty"`
	Condition    string `json:"condition,omitempty"`
	Transform    string `json:"transform,omitempty"`
}

// Definition is a complete workflow definition. The graph (nodes, edges)
// must form a DAG; the engine snapshots it at execution start and never
// mutates it.
type Definition struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	Version      int                    `json:"version,omitempty"`
	Description  string                 `json:"description,omitempty"`
	Nodes        []Node                 `json:"nodes"`
	Edges        []Edge                 `json:"edges"`
	GlobalConfig map[string]interface{} `json:"global_config,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// NodeByID returns the node with the given id, or nil
func (d *Definition) NodeByID(id string) *Node {
	for i := range d.Nodes {
		if d.Nodes[i].ID == id {
			return &d.Nodes[i]
		}
	}
	return nil
}

// Step status constants
const (
	StepPending   = "pending"
	StepRunning   = "running"
	StepCompleted = "completed"
	StepRecovered = "recovered"
	StepError     = "error"
	StepIgnored   = "ignored"
	StepStopped   = "stopped"
)

// Execution status constants
const (
	ExecutionPending   = "pending"
	ExecutionRunning   = "running"
	ExecutionCompleted = "completed"
	ExecutionError     = "error"
	ExecutionStopped   = "stopped"
)

// ExecutionStep records one node run within an execution.
// Appended before the node runs, finalized once, never rewritten.
type ExecutionStep struct {
	StepID      string                 `json:"step_id"`
	NodeID      string                 `json:"node_id"`
	NodeName    string                 `json:"node_name,omitempty"`
	Status      string                 `json:"status"`
	StartTime   time.Time              `json:"start_time"`
	EndTime     time.Time              `json:"end_time,omitempty"`
	Duration    float64                `json:"duration,omitempty"`
	InputData   map[string]interface{} `json:"input_data,omitempty"`
	OutputData  map[string]interface{} `json:"output_data,omitempty"`
	Error       string                 `json:"error,omitempty"`
	MemoryUsage int64                  `json:"memory_usage,omitempty"`
	Metrics     map[string]interface{} `json:"metrics,omitempty"`
}

// Finalize sets the terminal status, end time, and duration of a step
func (s *ExecutionStep) Finalize(status string) {
	s.Status = status
	s.EndTime = time.Now().UTC()
	s.Duration = s.EndTime.Sub(s.StartTime).Seconds()
}

// IsTerminal reports whether a step status is terminal
func (s *ExecutionStep) IsTerminal() bool {
	switch s.Status {
	case StepCompleted, StepRecovered, StepError, StepIgnored, StepStopped:
		return true
	}
	return false
}

// ExecutionContext is the process-lifetime container for a single run.
// Owned exclusively by one execution driver; published read-only to the
// progress stream.
type ExecutionContext struct {
	ExecutionID   string                 `json:"execution_id"`
	WorkflowID    string                 `json:"workflow_id"`
	Status        string                 `json:"status"`
	StartTime     time.Time              `json:"start_time"`
	EndTime       time.Time              `json:"end_time,omitempty"`
	InputData     map[string]interface{} `json:"input_data"`
	OutputData    map[string]interface{} `json:"output_data,omitempty"`
	GlobalContext map[string]interface{} `json:"global_context,omitempty"`
	Steps         []*ExecutionStep       `json:"steps"`
	Error         string                 `json:"error,omitempty"`
	Metrics       map[string]interface{} `json:"metrics,omitempty"`
	Checkpoints   []string               `json:"checkpoints,omitempty"`
}

// AppendStep appends a step to the context. Steps are append-only.
func (c *ExecutionContext) AppendStep(step *ExecutionStep) {
	c.Steps = append(c.Steps, step)
}

// StepForNode returns the most recent step recorded for a node id, or nil
func (c *ExecutionContext) StepForNode(nodeID string) *ExecutionStep {
	for i := len(c.Steps) - 1; i >= 0; i-- {
		if c.Steps[i].NodeID == nodeID {
			return c.Steps[i]
		}
	}
	return nil
}

// Finish sets a terminal execution status and the end time
func (c *ExecutionContext) Finish(status string) {
	c.Status = status
	c.EndTime = time.Now().UTC()
}
