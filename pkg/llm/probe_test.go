package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProber_Probe(t *testing.T) {
	okChat := func(context.Context, string, string, float64) (*GenerateResponseResult, error) {
		return &GenerateResponseResult{Content: "ok"}, nil
	}
	okEmbed := func(context.Context, string) ([]float32, error) {
		return []float32{0.1, 0.2, 0.3}, nil
	}

	tests := []struct {
		name          string
		chat          func(context.Context, string, string, float64) (*GenerateResponseResult, error)
		embed         func(context.Context, string) ([]float32, error)
		wantSuccess   bool
		wantMessage   string
		wantLLMType   ErrorType
		wantEmbedType ErrorType
	}{
		{
			name:        "both succeed",
			chat:        okChat,
			embed:       okEmbed,
			wantSuccess: true,
			wantMessage: "LLM and embedding connections successful",
		},
		{
			name: "bad key",
			chat: func(context.Context, string, string, float64) (*GenerateResponseResult, error) {
				return nil, errors.New("error, status code: 401, message: invalid api key")
			},
			embed:       okEmbed,
			wantMessage: "Embedding connection successful, LLM failed",
			wantLLMType: ErrorTypeAuth,
		},
		{
			name:  "embedding endpoint down",
			chat:  okChat,
			embed: func(context.Context, string) ([]float32, error) { return nil, errors.New("dial tcp: connection refused") },
			wantMessage:   "LLM connection successful, embedding failed",
			wantEmbedType: ErrorTypeEndpoint,
		},
		{
			name: "empty answers",
			chat: func(context.Context, string, string, float64) (*GenerateResponseResult, error) {
				return &GenerateResponseResult{Content: "  "}, nil
			},
			embed:         func(context.Context, string) ([]float32, error) { return nil, nil },
			wantMessage:   "LLM and embedding connections failed",
			wantLLMType:   ErrorTypeUnknown,
			wantEmbedType: ErrorTypeUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chat := NewMockLLMClient()
			chat.GenerateResponseFunc = tt.chat
			embedder := &MockEmbeddingClient{CreateEmbeddingFunc: tt.embed}

			result := NewProber(time.Second).Probe(context.Background(), chat, embedder)

			assert.Equal(t, tt.wantSuccess, result.Success)
			assert.Equal(t, tt.wantMessage, result.Message)
			assert.Equal(t, tt.wantLLMType, result.LLM.ErrorType)
			assert.Equal(t, tt.wantEmbedType, result.Embedding.ErrorType)
		})
	}
}

func TestProber_ReportsDimensions(t *testing.T) {
	chat := NewMockLLMClient()
	chat.GenerateResponseFunc = func(context.Context, string, string, float64) (*GenerateResponseResult, error) {
		return &GenerateResponseResult{Content: "ok"}, nil
	}
	embedder := &MockEmbeddingClient{CreateEmbeddingFunc: func(context.Context, string) ([]float32, error) {
		return make([]float32, 1536), nil
	}}

	result := NewProber(0).Probe(context.Background(), chat, embedder)

	assert.Equal(t, 1536, result.Embedding.Dimensions)
	assert.Contains(t, result.LLM.Message, "mock-model")
}
