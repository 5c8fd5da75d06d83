// Package llm calls hosted completion models. The completion model is an
// external collaborator: this package only shapes the request, guards the
// call and returns the text.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ragscope/backend/internal/metrics"
	"github.com/ragscope/backend/pkg/circuitbreaker"
	"github.com/ragscope/backend/pkg/logger"
	"github.com/ragscope/backend/pkg/retry"
)

// Completer returns the completion of prompt by model.
type Completer interface {
	Complete(ctx context.Context, model, prompt string) (string, error)
}

// Embedder returns the embedding of text.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// GuardConfig controls the breaker and retry policy around provider calls.
type GuardConfig struct {
	// Name labels the breaker; defaults to llm-<provider>.
	Name            string
	Timeout         time.Duration
	MaxAttempts     int
	BreakerFailures uint32
}

// guard wraps every provider call with a timeout, a circuit breaker and the
// retry helper, and records metrics for it.
type guard struct {
	provider string
	timeout  time.Duration
	cb       *circuitbreaker.CircuitBreaker
	retry    retry.Config
}

func newGuard(provider string, cfg GuardConfig) *guard {
	name := cfg.Name
	if name == "" {
		name = "llm-" + provider
	}
	cb := circuitbreaker.NewCircuitBreaker(name, circuitbreaker.Config{
		MaxRequests:      2,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: cfg.BreakerFailures,
		SuccessThreshold: 1,
		OnStateChange: func(name string, _, to circuitbreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
		},
		Logger: logger.GetLogger(),
	})

	rc := retry.DefaultConfig()
	rc.MaxAttempts = cfg.MaxAttempts
	if rc.MaxAttempts <= 0 {
		rc.MaxAttempts = 1
	}
	rc.Logger = logger.GetLogger()

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &guard{provider: provider, timeout: timeout, cb: cb, retry: rc}
}

func (g *guard) do(ctx context.Context, model string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	err := retry.Do(ctx, g.retry, func() error {
		err := g.cb.Execute(ctx, func() error {
			return fn(ctx)
		})
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
			return retry.Permanent(err)
		}
		return err
	})
	metrics.LLMDuration.WithLabelValues(g.provider, model).Observe(time.Since(start).Seconds())

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.LLMCalls.WithLabelValues(g.provider, model, status).Inc()

	if err != nil {
		logger.Warn("LLM call failed",
			zap.String("provider", g.provider),
			zap.String("model", model),
			zap.Error(err),
		)
		return fmt.Errorf("%s %s: %w", g.provider, model, err)
	}
	return nil
}

// Func adapts a function to Completer.
type Func func(ctx context.Context, model, prompt string) (string, error)

func (f Func) Complete(ctx context.Context, model, prompt string) (string, error) {
	return f(ctx, model, prompt)
}
