package nodes

import (
	"context"
	"fmt"

	"github.com/lyzr/ragflow/cmd/workflow-engine/sandbox"
	"github.com/lyzr/ragflow/common/workflow"
)

// codeRunner executes user Python through the process sandbox. Sandbox
// failures (validation, runtime, timeout) surface as errors so the
// recovery layer applies its policy.
type codeRunner struct {
	sandbox *sandbox.Sandbox
}

func (r *codeRunner) Type() string { return workflow.NodeTypeCodeExecutor }

func (r *codeRunner) Run(ctx context.Context, inv *Invocation) (map[string]interface{}, error) {
	code := configString(inv.Node, "code", "")
	if code == "" {
		code = inputString(inv.Input, "code")
	}
	if code == "" {
		return nil, fmt.Errorf("code_executor node missing code")
	}

	data, ok := inv.Input["data"]
	if !ok {
		data = inv.Input
	}

	result := r.sandbox.Run(ctx, code, data, inv.Execution.GlobalContext)
	if !result.Success {
		return nil, fmt.Errorf("%s", result.Error)
	}

	return map[string]interface{}{
		"result":           result.Result,
		"stdout":           result.Stdout,
		"execution_output": result.Result,
		"sandbox":          true,
	}, nil
}
