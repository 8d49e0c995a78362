package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/lyzr/ragflow/common/providers"
	"github.com/lyzr/ragflow/common/template"
	"github.com/lyzr/ragflow/common/workflow"
)

// llmRunner executes one chat completion. config.prompt_key optionally
// overrides the field the prompt is read from; both system and user
// prompts undergo template substitution.
type llmRunner struct {
	providers *providers.Set
}

func (r *llmRunner) Type() string { return workflow.NodeTypeLLM }

func (r *llmRunner) Run(ctx context.Context, inv *Invocation) (map[string]interface{}, error) {
	promptKey := configString(inv.Node, "prompt_key", "prompt")
	prompt := inputString(inv.Input, promptKey)
	if prompt == "" {
		prompt = configString(inv.Node, "prompt", "")
	}
	if prompt == "" {
		return nil, fmt.Errorf("llm node missing prompt (key %q)", promptKey)
	}

	scope := template.Scope{
		Data:    inv.Input,
		Input:   inv.Execution.InputData,
		Context: inv.Execution.GlobalContext,
	}
	prompt = template.Render(prompt, scope)

	systemPrompt := inputString(inv.Input, "system_prompt")
	if systemPrompt == "" {
		systemPrompt = configString(inv.Node, "system_prompt", "")
	}
	systemPrompt = template.Render(systemPrompt, scope)

	result, err := r.providers.Chat.Chat(ctx, &providers.ChatRequest{
		Message:      prompt,
		SystemPrompt: systemPrompt,
		Model:        configString(inv.Node, "model", ""),
		Temperature:  float32(configFloat(inv.Node, "temperature", 0.7)),
		MaxTokens:    configInt(inv.Node, "max_tokens", 0),
		TenantID:     inv.TenantID(),
		UserID:       inv.UserID(),
	})
	if err != nil {
		return nil, fmt.Errorf("llm call failed: %w", err)
	}
	if !result.Success {
		return nil, fmt.Errorf("llm call failed: %s", result.Error)
	}

	return map[string]interface{}{
		"content": result.Message,
		"metadata": map[string]interface{}{
			"tokens_used":   result.Usage.TotalTokens,
			"model":         result.Model,
			"finish_reason": result.FinishReason,
		},
	}, nil
}

// classifierRunner prompts the model with candidate labels and applies a
// heuristic confidence post-check.
type classifierRunner struct {
	providers *providers.Set
}

func (r *classifierRunner) Type() string { return workflow.NodeTypeClassifier }

func (r *classifierRunner) Run(ctx context.Context, inv *Invocation) (map[string]interface{}, error) {
	text := inputString(inv.Input, "text", "prompt", "query")
	if text == "" {
		return nil, fmt.Errorf("classifier node missing text input")
	}

	classes := configStrings(inv.Node, "classes")
	if len(classes) == 0 {
		return nil, fmt.Errorf("classifier node missing classes config")
	}

	prompt := fmt.Sprintf(
		"Classify the following text into exactly one of these categories: %s.\n"+
			"Respond with the category name only.\n\nText: %s",
		strings.Join(classes, ", "), text)

	result, err := r.providers.Chat.Chat(ctx, &providers.ChatRequest{
		Message:     prompt,
		Model:       configString(inv.Node, "model", ""),
		Temperature: 0,
		TenantID:    inv.TenantID(),
		UserID:      inv.UserID(),
	})
	if err != nil {
		return nil, fmt.Errorf("classifier llm call failed: %w", err)
	}
	if !result.Success {
		return nil, fmt.Errorf("classifier llm call failed: %s", result.Error)
	}

	class, confidence := matchClass(result.Message, classes)

	return map[string]interface{}{
		"class":        class,
		"confidence":   confidence,
		"all_classes":  classes,
		"raw_response": result.Message,
	}, nil
}

// matchClass picks the label from the raw model response with a simple
// confidence heuristic: exact match high, containment medium, otherwise
// fall back to the first label with low confidence.
func matchClass(response string, classes []string) (string, float64) {
	normalized := strings.ToLower(strings.TrimSpace(response))

	for _, class := range classes {
		if normalized == strings.ToLower(class) {
			return class, 0.9
		}
	}
	for _, class := range classes {
		if strings.Contains(normalized, strings.ToLower(class)) {
			return class, 0.6
		}
	}
	return classes[0], 0.3
}

// embeddingsRunner produces a one-shot embedding
type embeddingsRunner struct {
	providers *providers.Set
}

func (r *embeddingsRunner) Type() string { return workflow.NodeTypeEmbeddings }

func (r *embeddingsRunner) Run(ctx context.Context, inv *Invocation) (map[string]interface{}, error) {
	text := inputString(inv.Input, "text", "query", "prompt")
	if text == "" {
		return nil, fmt.Errorf("embeddings node missing text input")
	}

	model := configString(inv.Node, "model", "")
	result, err := r.providers.Embeddings.Embed(ctx, []string{text}, model, inv.TenantID(), inv.UserID())
	if err != nil {
		return nil, fmt.Errorf("embedding call failed: %w", err)
	}
	if !result.Success || len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("embedding call failed: %s", result.Error)
	}

	embedding := result.Embeddings[0]
	return map[string]interface{}{
		"embedding":  embedding,
		"dimensions": len(embedding),
		"model":      result.Model,
		"text":       text,
	}, nil
}

func configStrings(node *workflow.Node, key string) []string {
	raw, ok := node.Config[key].([]interface{})
	if !ok {
		if typed, ok := node.Config[key].([]string); ok {
			return typed
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
