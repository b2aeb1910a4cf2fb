package llm

import (
	"fmt"
	"strings"

	"github.com/ragcore/ragcore/internal/config"
	ragerrors "github.com/ragcore/ragcore/internal/errors"
)

// Provider identifiers accepted by NewGenerator.
const (
	ProviderHTTP      = "http"
	ProviderOllama    = "ollama" // alias for "http" with OpenAI-compatible defaults
	ProviderAnthropic = "anthropic"
	ProviderTest      = "test"
)

// NewGenerator builds a rate-limited, circuit-breaker-protected
// Generator from configuration.
func NewGenerator(cfg config.LLMConfig) (Generator, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))

	var inner Generator
	switch provider {
	case "", ProviderHTTP, ProviderOllama:
		inner = NewHTTPProvider(HTTPConfig{
			Endpoint: cfg.Endpoint,
			APIKey:   cfg.APIKey,
			Model:    cfg.Model,
			Timeout:  cfg.Timeout.Std(),
		})
	case ProviderAnthropic:
		inner = NewAnthropicProvider(AnthropicConfig{
			Endpoint: cfg.Endpoint,
			APIKey:   cfg.APIKey,
			Model:    cfg.Model,
			Timeout:  cfg.Timeout.Std(),
		})
	case ProviderTest:
		inner = NewTestProvider(cfg.Model, "")
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}

	var limiter *RateLimiter
	if cfg.RequestsPerMinute > 0 || cfg.MinInterval > 0 {
		limiter = NewRateLimiter(cfg.RequestsPerMinute, cfg.MinInterval.Std())
	}

	breakerOpts := []ragerrors.CircuitBreakerOption{}
	if cfg.CircuitMaxFailures > 0 {
		breakerOpts = append(breakerOpts, ragerrors.WithMaxFailures(cfg.CircuitMaxFailures))
	}
	if cfg.CircuitResetTimeout > 0 {
		breakerOpts = append(breakerOpts, ragerrors.WithResetTimeout(cfg.CircuitResetTimeout.Std()))
	}
	breaker := ragerrors.NewCircuitBreaker("llm-gateway", breakerOpts...)

	return NewGateway(inner, limiter, breaker), nil
}
