package llm

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	ragerrors "github.com/ragcore/ragcore/internal/errors"
	"github.com/ragcore/ragcore/internal/telemetry"
)

// Gateway decorates a provider Generator with the rate limiter and
// circuit breaker shared by every provider, so rate limiting and
// failure isolation are enforced once regardless of which concrete
// provider is configured.
type Gateway struct {
	inner   Generator
	limiter *RateLimiter
	breaker *ragerrors.CircuitBreaker
}

var _ Generator = (*Gateway)(nil)

// NewGateway wraps inner with rate limiting and circuit breaking.
// limiter or breaker may be nil to disable that protection.
func NewGateway(inner Generator, limiter *RateLimiter, breaker *ragerrors.CircuitBreaker) *Gateway {
	return &Gateway{inner: inner, limiter: limiter, breaker: breaker}
}

// Generate enforces the rate limit, checks the circuit breaker, then
// delegates to the wrapped provider, recording the outcome.
func (g *Gateway) Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "llm.generate",
		trace.WithAttributes(
			attribute.String("llm.model", g.inner.ModelName()),
			attribute.Int("llm.max_tokens", maxTokens),
		))
	defer span.End()

	if g.breaker != nil && !g.breaker.Allow() {
		return "", ragerrors.New(ragerrors.ErrCodeLLMCircuitOpen, "circuit breaker "+g.breaker.Name()+" is open", ragerrors.ErrCircuitOpen)
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	result, err := g.inner.Generate(ctx, prompt, maxTokens, temperature)
	if g.breaker != nil {
		if err != nil {
			g.breaker.RecordFailure()
		} else {
			g.breaker.RecordSuccess()
		}
	}
	if err != nil {
		span.RecordError(err)
	}
	return result, err
}

func (g *Gateway) ModelName() string { return g.inner.ModelName() }

func (g *Gateway) Available(ctx context.Context) bool { return g.inner.Available(ctx) }

func (g *Gateway) Close() error { return g.inner.Close() }
