package runtime

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/ragflow/common/workflow"
)

// Event is one progress message of a streamed execution
type Event struct {
	Type        string      `json:"type"`
	ExecutionID string      `json:"execution_id,omitempty"`
	WorkflowID  string      `json:"workflow_id,omitempty"`
	Step        *StepView   `json:"step,omitempty"`
	Progress    *Progress   `json:"progress,omitempty"`
	Result      *Result     `json:"result,omitempty"`
	Error       *EventError `json:"error,omitempty"`
}

// Result is the terminal payload of a completed stream
type Result struct {
	ExecutionID string                 `json:"execution_id"`
	Status      string                 `json:"status"`
	OutputData  map[string]interface{} `json:"output_data"`
	Error       string                 `json:"error,omitempty"`
	Metrics     map[string]interface{} `json:"metrics,omitempty"`
}

// EventError is the terminal payload of a failed stream
type EventError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Progress counts completed steps against the total
type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// StepView is the wire shape of a finished step. Non-debug streams carry
// only the output key names; debug streams replace them with the full
// input and output maps.
type StepView struct {
	ID         string                 `json:"id"`
	NodeID     string                 `json:"nodeId"`
	NodeName   string                 `json:"nodeName,omitempty"`
	Status     string                 `json:"status"`
	StartTime  time.Time              `json:"startTime"`
	EndTime    time.Time              `json:"endTime,omitempty"`
	Duration   float64                `json:"duration"`
	Error      string                 `json:"error,omitempty"`
	Memory     int64                  `json:"memory,omitempty"`
	OutputKeys []string               `json:"outputKeys,omitempty"`
	InputData  map[string]interface{} `json:"input,omitempty"`
	OutputData map[string]interface{} `json:"output,omitempty"`
}

func stepView(step *workflow.ExecutionStep, debug bool) *StepView {
	view := &StepView{
		ID:        step.StepID,
		NodeID:    step.NodeID,
		NodeName:  step.NodeName,
		Status:    step.Status,
		StartTime: step.StartTime,
		EndTime:   step.EndTime,
		Duration:  step.Duration,
		Error:     step.Error,
		Memory:    step.MemoryUsage,
	}
	if debug {
		view.InputData = step.InputData
		view.OutputData = step.OutputData
		return view
	}
	for key := range step.OutputData {
		view.OutputKeys = append(view.OutputKeys, key)
	}
	return view
}

// ExecuteStream runs a workflow serially and emits progress events on the
// returned channel. The channel closes after the terminal event (complete
// or error). Stopping mid-stream surfaces as a terminal error event.
func (e *Engine) ExecuteStream(ctx context.Context, def *workflow.Definition, inputData map[string]interface{}, opts Options) <-chan Event {
	events := make(chan Event, 16)

	go func() {
		defer close(events)

		emit := func(ev Event) {
			select {
			case events <- ev:
			case <-ctx.Done():
			}
		}

		if opts.ExecutionID == "" {
			opts.ExecutionID = uuid.NewString()
		}
		emit(Event{
			Type:        "started",
			ExecutionID: opts.ExecutionID,
			WorkflowID:  def.ID,
		})

		opts.OnStep = func(step *workflow.ExecutionStep, completed, total int) {
			emit(Event{
				Type:     "progress",
				Step:     stepView(step, opts.Debug),
				Progress: &Progress{Current: completed, Total: total},
			})
		}

		ec, err := e.Execute(ctx, def, inputData, opts)
		if err != nil {
			emit(Event{Type: "error", Error: &EventError{Message: err.Error(), Type: "engine_error"}})
			return
		}

		switch ec.Status {
		case workflow.ExecutionCompleted:
			emit(Event{
				Type:        "complete",
				ExecutionID: ec.ExecutionID,
				Result: &Result{
					ExecutionID: ec.ExecutionID,
					Status:      ec.Status,
					OutputData:  ec.OutputData,
					Error:       ec.Error,
					Metrics:     ec.Metrics,
				},
			})
		case workflow.ExecutionStopped:
			emit(Event{Type: "error", ExecutionID: ec.ExecutionID, Error: &EventError{Message: "execution stopped", Type: "stopped"}})
		default:
			emit(Event{Type: "error", ExecutionID: ec.ExecutionID, Error: &EventError{Message: ec.Error, Type: "execution_error"}})
		}
	}()

	return events
}
