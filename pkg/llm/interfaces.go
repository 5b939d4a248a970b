// Package llm wraps the chat and embedding providers used for SQL translation
// and schema retrieval.
package llm

import (
	"context"
)

// GenerateResponseResult is a completed chat call with token usage.
type GenerateResponseResult struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// LLMClient defines the chat completion operations the translator needs.
// Use this interface for dependency injection to enable mocking in tests.
type LLMClient interface {
	// GenerateResponse generates a chat completion response.
	GenerateResponse(ctx context.Context, prompt string, systemMessage string, temperature float64) (*GenerateResponseResult, error)

	// GetModel returns the configured model name.
	GetModel() string

	// GetEndpoint returns the configured endpoint.
	GetEndpoint() string
}

// EmbeddingClient produces vectors for retrieval.
type EmbeddingClient interface {
	// CreateEmbedding generates an embedding vector for the input text.
	CreateEmbedding(ctx context.Context, input string) ([]float32, error)

	// CreateEmbeddings generates embeddings for multiple inputs, in input order.
	CreateEmbeddings(ctx context.Context, inputs []string) ([][]float32, error)
}

var (
	_ LLMClient       = (*Client)(nil)
	_ EmbeddingClient = (*Client)(nil)
	_ LLMClient       = (*AnthropicClient)(nil)
)
