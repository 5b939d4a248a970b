package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-nlsql/pkg/llm"
	"github.com/ekaya-inc/ekaya-nlsql/pkg/logging"
	"github.com/ekaya-inc/ekaya-nlsql/pkg/metrics"
	"github.com/ekaya-inc/ekaya-nlsql/pkg/prompts"
)

// ErrTranslationUnavailable marks model failures caused by exhausted capacity:
// provider quota or rate limits, an open circuit, or no free worker slot.
var ErrTranslationUnavailable = errors.New("translation unavailable")

// Translator turns a compiled prompt into raw model output.
type Translator interface {
	Invoke(ctx context.Context, payload prompts.Payload) (string, error)
}

// InvokerConfig controls model dispatch.
type InvokerConfig struct {
	// MaxConcurrent bounds in-flight model calls across all requests.
	MaxConcurrent int
	// Timeout bounds one model call. Zero leaves it to the provider and the caller's context.
	Timeout time.Duration
	// CircuitThreshold consecutive failures open the circuit. Below 1 disables it.
	CircuitThreshold int
	// CircuitResetAfter is how long an open circuit rejects calls.
	CircuitResetAfter time.Duration
}

// Invoker calls the chat model with temperature 0 through a bounded worker
// pool and a circuit breaker.
type Invoker struct {
	client  llm.LLMClient
	pool    *llm.WorkerPool
	breaker *llm.CircuitBreaker
	timeout time.Duration
	logger  *zap.Logger
}

var _ Translator = (*Invoker)(nil)

// NewInvoker creates an Invoker for client.
func NewInvoker(client llm.LLMClient, cfg InvokerConfig, logger *zap.Logger) *Invoker {
	return &Invoker{
		client: client,
		pool:   llm.NewWorkerPool(llm.WorkerPoolConfig{MaxConcurrent: cfg.MaxConcurrent}, logger),
		breaker: llm.NewCircuitBreaker(llm.CircuitBreakerConfig{
			Threshold:  cfg.CircuitThreshold,
			ResetAfter: cfg.CircuitResetAfter,
		}),
		timeout: cfg.Timeout,
		logger:  logger.Named("translator"),
	}
}

// Invoke sends the payload and returns the raw model text.
//
// Errors wrap ErrTranslationUnavailable for quota exhaustion, an open circuit
// or a saturated worker pool. Any other failure is returned as a classified
// *llm.Error.
func (i *Invoker) Invoke(ctx context.Context, payload prompts.Payload) (string, error) {
	logger := logging.WithContext(ctx, i.logger)

	text, err := llm.Submit(ctx, i.pool, func(ctx context.Context) (string, error) {
		if allowed, err := i.breaker.Allow(); !allowed {
			metrics.ModelCalls.WithLabelValues(metrics.ModelResultCircuitOpen).Inc()
			return "", fmt.Errorf("%w: %w", ErrTranslationUnavailable, err)
		}
		return i.call(ctx, logger, payload)
	})
	if errors.Is(err, llm.ErrNoWorkerSlot) {
		logger.Warn("No model worker slot before the request ended", zap.Int("pool_size", i.pool.Size()))
		return "", fmt.Errorf("%w: %w", ErrTranslationUnavailable, err)
	}
	return text, err
}

func (i *Invoker) call(ctx context.Context, logger *zap.Logger, payload prompts.Payload) (string, error) {
	callCtx := ctx
	if i.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := i.client.GenerateResponse(callCtx, payload.User, payload.System, 0)
	metrics.ObserveStage("model", start)

	if err == nil {
		i.breaker.RecordSuccess()
		metrics.ModelCalls.WithLabelValues(metrics.ModelResultSuccess).Inc()
		metrics.ModelTokens.WithLabelValues("prompt").Add(float64(result.PromptTokens))
		metrics.ModelTokens.WithLabelValues("completion").Add(float64(result.CompletionTokens))
		logger.Debug("Model call completed",
			zap.String("model", i.client.GetModel()),
			zap.Int("prompt_tokens", result.PromptTokens),
			zap.Int("completion_tokens", result.CompletionTokens),
			zap.Int("thinking_chars", len(llm.ExtractThinking(result.Content))),
			zap.Duration("duration", time.Since(start)))
		return llm.StripThinking(result.Content), nil
	}

	// The caller went away; the provider is not to blame.
	if ctx.Err() != nil {
		i.breaker.RecordAbandoned()
		return "", llm.ClassifyError(err)
	}

	i.breaker.RecordFailure()
	classified := llm.ClassifyError(err)

	switch {
	case classified.Type == llm.ErrorTypeQuota:
		metrics.ModelCalls.WithLabelValues(metrics.ModelResultQuota).Inc()
		logger.Warn("Model quota exhausted",
			zap.String("model", i.client.GetModel()),
			zap.String("error", logging.SanitizeError(classified)))
		return "", fmt.Errorf("%w: %w", ErrTranslationUnavailable, classified)
	case errors.Is(err, context.DeadlineExceeded):
		metrics.ModelCalls.WithLabelValues(metrics.ModelResultTimeout).Inc()
	default:
		metrics.ModelCalls.WithLabelValues(metrics.ModelResultError).Inc()
	}

	logger.Error("Model call failed",
		zap.String("model", i.client.GetModel()),
		zap.String("error_type", string(classified.Type)),
		zap.Bool("retryable", classified.Retryable),
		zap.Int("consecutive_failures", i.breaker.ConsecutiveFailures()),
		zap.String("error", logging.SanitizeError(classified)))
	return "", classified
}
