// Package providers declares the collaborator capabilities the execution
// engine consumes: identity checks, model gateways, retrieval stores, and
// execution persistence. The engine depends on these interfaces only;
// concrete adapters live alongside (openai.go) or in common/store.
package providers

import (
	"context"
	"time"

	"github.com/lyzr/ragflow/common/workflow"
)

// IdentityService authorizes knowledge-base access for retriever nodes
type IdentityService interface {
	CheckKBRead(ctx context.Context, tenantID, userID, kbName string) error
}

// EmbedResult is the outcome of an embedding call
type EmbedResult struct {
	Success    bool        `json:"success"`
	Embeddings [][]float64 `json:"embeddings,omitempty"`
	Model      string      `json:"model,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// EmbeddingProvider produces embeddings for texts
type EmbeddingProvider interface {
	Embed(ctx context.Context, texts []string, model, tenantID, userID string) (*EmbedResult, error)
}

// TokenUsage reports model token consumption
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatRequest carries one chat completion request
type ChatRequest struct {
	Message      string  `json:"message"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	Model        string  `json:"model,omitempty"`
	Temperature  float32 `json:"temperature,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
	TenantID     string  `json:"tenant_id"`
	UserID       string  `json:"user_id"`
}

// ChatResult is the outcome of a chat completion call
type ChatResult struct {
	Success      bool       `json:"success"`
	Message      string     `json:"message,omitempty"`
	Usage        TokenUsage `json:"usage"`
	Model        string     `json:"model,omitempty"`
	FinishReason string     `json:"finish_reason,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// ChatChunk is one streamed fragment of a chat completion
type ChatChunk struct {
	Success bool   `json:"success"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ChatProvider is the model gateway for LLM nodes
type ChatProvider interface {
	Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error)
	StreamChat(ctx context.Context, req *ChatRequest) (<-chan ChatChunk, error)
}

// RerankProvider rescored documents against a query
type RerankProvider interface {
	Rerank(ctx context.Context, query string, documents []map[string]interface{}, provider string, topK int, tenantID string) ([]map[string]interface{}, error)
}

// VectorHit is one vector search result
type VectorHit struct {
	Text     string                 `json:"text"`
	Distance float64                `json:"distance"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// VectorStore is the shared vector index
type VectorStore interface {
	Search(ctx context.Context, collection string, vector []float64, topK int) ([]VectorHit, error)
	Recreate(ctx context.Context, collection string, dim int) error
}

// KeywordHit is one keyword search result
type KeywordHit struct {
	Text     string                 `json:"text"`
	Score    float64                `json:"score"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// KeywordIndex is the shared keyword index. Optional; a nil KeywordIndex
// in the provider set means keyword retrieval is unavailable.
type KeywordIndex interface {
	Search(ctx context.Context, index, query string, topK int, filter map[string]interface{}) ([]KeywordHit, error)
}

// Clock abstracts time for retry backoff and breaker cooldowns
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration)
}

// Persistence archives finished executions. Fire-and-forget from the
// engine's perspective: failures are logged and never roll an execution
// back.
type Persistence interface {
	SaveExecution(ctx context.Context, ec *workflow.ExecutionContext, tenantID, executorID string, debug, parallel bool) error
}

// Set bundles the collaborators handed to the node runtime
type Set struct {
	Identity    IdentityService
	Embeddings  EmbeddingProvider
	Chat        ChatProvider
	Rerank      RerankProvider
	Vector      VectorStore
	Keyword     KeywordIndex
	Clock       Clock
	Persistence Persistence
}

// SystemClock is the real time source
type SystemClock struct{}

// Now returns the current time
func (SystemClock) Now() time.Time { return time.Now() }

// Sleep blocks for d or until the context is cancelled
func (SystemClock) Sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
