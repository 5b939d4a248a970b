package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ProbeStatus is the outcome of one provider check.
type ProbeStatus struct {
	Success        bool      `json:"success"`
	Message        string    `json:"message"`
	ErrorType      ErrorType `json:"error_type,omitempty"`
	ResponseTimeMs int64     `json:"response_time_ms,omitempty"`
	Dimensions     int       `json:"dimensions,omitempty"`
}

// ProbeResult contains connection check results for both providers.
type ProbeResult struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	LLM       ProbeStatus `json:"llm"`
	Embedding ProbeStatus `json:"embedding"`
}

// Prober checks that the configured chat and embedding providers answer.
type Prober struct {
	timeout time.Duration
}

// NewProber creates a prober. Each provider call is bounded by timeout.
func NewProber(timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Prober{timeout: timeout}
}

// Probe sends one tiny request to each provider. Both must succeed: the chat
// model translates and the embedding model drives retrieval.
func (p *Prober) Probe(ctx context.Context, chat LLMClient, embedder EmbeddingClient) *ProbeResult {
	result := &ProbeResult{
		LLM:       p.probeLLM(ctx, chat),
		Embedding: p.probeEmbedding(ctx, embedder),
	}

	switch {
	case result.LLM.Success && result.Embedding.Success:
		result.Success = true
		result.Message = "LLM and embedding connections successful"
	case result.LLM.Success:
		result.Message = "LLM connection successful, embedding failed"
	case result.Embedding.Success:
		result.Message = "Embedding connection successful, LLM failed"
	default:
		result.Message = "LLM and embedding connections failed"
	}
	return result
}

func (p *Prober) probeLLM(ctx context.Context, chat LLMClient) ProbeStatus {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	resp, err := chat.GenerateResponse(ctx, "Say 'ok' and nothing else.", "", 0)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		return failedProbe("LLM", err, elapsed)
	}
	if strings.TrimSpace(resp.Content) == "" {
		return ProbeStatus{Message: "LLM returned no response", ErrorType: ErrorTypeUnknown, ResponseTimeMs: elapsed}
	}

	return ProbeStatus{
		Success:        true,
		Message:        fmt.Sprintf("LLM connection successful (model: %s, %dms)", chat.GetModel(), elapsed),
		ResponseTimeMs: elapsed,
	}
}

func (p *Prober) probeEmbedding(ctx context.Context, embedder EmbeddingClient) ProbeStatus {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	vector, err := embedder.CreateEmbedding(ctx, "test")
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		return failedProbe("Embedding", err, elapsed)
	}
	if len(vector) == 0 {
		return ProbeStatus{Message: "Embedding returned no vectors", ErrorType: ErrorTypeUnknown, ResponseTimeMs: elapsed}
	}

	return ProbeStatus{
		Success:        true,
		Message:        fmt.Sprintf("Embedding successful (%dms, %d dims)", elapsed, len(vector)),
		ResponseTimeMs: elapsed,
		Dimensions:     len(vector),
	}
}

func failedProbe(prefix string, err error, elapsed int64) ProbeStatus {
	classified := ClassifyError(err)
	return ProbeStatus{
		Message:        fmt.Sprintf("%s: %s", prefix, probeHint(classified)),
		ErrorType:      classified.Type,
		ResponseTimeMs: elapsed,
	}
}

// probeHint tells an operator which setting to look at.
func probeHint(err *Error) string {
	switch err.Type {
	case ErrorTypeAuth:
		return "Invalid API key"
	case ErrorTypeModel:
		return "Model not found"
	case ErrorTypeQuota:
		return "Quota or rate limit exceeded"
	case ErrorTypeEndpoint:
		return "Connection failed - check base URL"
	default:
		return err.Message
	}
}
