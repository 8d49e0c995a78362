package providers

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider adapts the OpenAI API to the ChatProvider and
// EmbeddingProvider capabilities.
type OpenAIProvider struct {
	client         *openai.Client
	chatModel      string
	embeddingModel string
}

// NewOpenAIProvider creates an OpenAI-backed provider. baseURL may point at
// any OpenAI-compatible gateway.
func NewOpenAIProvider(apiKey, baseURL, chatModel, embeddingModel string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIProvider{
		client:         openai.NewClientWithConfig(cfg),
		chatModel:      chatModel,
		embeddingModel: embeddingModel,
	}
}

// Chat performs a single chat completion
func (p *OpenAIProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	model := req.Model
	if model == "" {
		model = p.chatModel
	}

	var messages []openai.ChatCompletionMessage
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Message,
	})

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return &ChatResult{Success: false, Error: err.Error()}, nil
	}

	if len(resp.Choices) == 0 {
		return &ChatResult{Success: false, Error: "no completion choices returned"}, nil
	}

	choice := resp.Choices[0]
	return &ChatResult{
		Success: true,
		Message: choice.Message.Content,
		Usage: TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		Model:        resp.Model,
		FinishReason: string(choice.FinishReason),
	}, nil
}

// StreamChat streams a chat completion as content chunks
func (p *OpenAIProvider) StreamChat(ctx context.Context, req *ChatRequest) (<-chan ChatChunk, error) {
	model := req.Model
	if model == "" {
		model = p.chatModel
	}

	var messages []openai.ChatCompletionMessage
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Message,
	})

	stream, err := p.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open completion stream: %w", err)
	}

	out := make(chan ChatChunk)
	go func() {
		defer close(out)
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				out <- ChatChunk{Success: false, Error: err.Error()}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			content := resp.Choices[0].Delta.Content
			if content == "" {
				continue
			}
			select {
			case out <- ChatChunk{Success: true, Content: content}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// Embed produces embeddings for the given texts
func (p *OpenAIProvider) Embed(ctx context.Context, texts []string, model, tenantID, userID string) (*EmbedResult, error) {
	if model == "" {
		model = p.embeddingModel
	}

	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(model),
		Input: texts,
	})
	if err != nil {
		return &EmbedResult{Success: false, Error: err.Error()}, nil
	}

	embeddings := make([][]float64, 0, len(resp.Data))
	for _, item := range resp.Data {
		vec := make([]float64, len(item.Embedding))
		for i, f := range item.Embedding {
			vec[i] = float64(f)
		}
		embeddings = append(embeddings, vec)
	}

	return &EmbedResult{
		Success:    true,
		Embeddings: embeddings,
		Model:      model,
	}, nil
}
