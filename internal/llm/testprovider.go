package llm

import (
	"context"
	"fmt"
)

// TestProvider is a deterministic in-process Generator used by tests
// and as a configuration-free offline default: it echoes a fixed
// response or one produced by a caller-supplied function, so callers
// that depend on Generator don't need a live provider to exercise
// their logic.
type TestProvider struct {
	Model       string
	Response    string
	ResponseFn  func(prompt string) (string, error)
	Unavailable bool
	closed      bool
}

var _ Generator = (*TestProvider)(nil)

// NewTestProvider creates a TestProvider that echoes a fixed response.
func NewTestProvider(model, response string) *TestProvider {
	return &TestProvider{Model: model, Response: response}
}

// Generate returns the configured response, or the result of
// ResponseFn when set.
func (p *TestProvider) Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	if p.closed {
		return "", fmt.Errorf("test provider is closed")
	}
	if p.ResponseFn != nil {
		return p.ResponseFn(prompt)
	}
	return p.Response, nil
}

// ModelName returns the configured model identifier.
func (p *TestProvider) ModelName() string {
	return p.Model
}

// Available reports the configured availability, true by default.
func (p *TestProvider) Available(ctx context.Context) bool {
	return !p.Unavailable && !p.closed
}

// Close marks the provider closed.
func (p *TestProvider) Close() error {
	p.closed = true
	return nil
}
