package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	anthropicDefaultVersion = "2023-06-01"
	anthropicDefaultHost    = "https://api.anthropic.com"
)

// AnthropicConfig configures the Anthropic Messages API provider.
type AnthropicConfig struct {
	Endpoint   string // defaults to anthropicDefaultHost
	APIKey     string
	Model      string
	APIVersion string // defaults to anthropicDefaultVersion
	Timeout    time.Duration
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicResponse struct {
	Content []anthropicContentBlock `json:"content"`
	Error   *anthropicErrorBody     `json:"error"`
}

type anthropicErrorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// AnthropicProvider generates completions via Anthropic's Messages API
// wire format.
type AnthropicProvider struct {
	client *http.Client
	config AnthropicConfig
}

var _ Generator = (*AnthropicProvider)(nil)

// NewAnthropicProvider creates an Anthropic Messages API provider.
func NewAnthropicProvider(cfg AnthropicConfig) *AnthropicProvider {
	if cfg.Endpoint == "" {
		cfg.Endpoint = anthropicDefaultHost
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = anthropicDefaultVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &AnthropicProvider{
		client: &http.Client{Timeout: cfg.Timeout},
		config: cfg,
	}
}

// Generate sends prompt as a single user message to the Messages API
// and concatenates the returned text blocks.
func (p *AnthropicProvider) Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	maxTokens, temperature = normalizeParams(maxTokens, temperature)

	reqBody := anthropicRequest{
		Model: p.config.Model,
		Messages: []anthropicMessage{
			{Role: "user", Content: prompt},
		},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimRight(p.config.Endpoint, "/") + "/v1/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.config.APIKey)
	req.Header.Set("anthropic-version", p.config.APIVersion)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil {
			return "", fmt.Errorf("anthropic error (%s): %s", parsed.Error.Type, parsed.Error.Message)
		}
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var sb strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

// ModelName returns the configured model.
func (p *AnthropicProvider) ModelName() string {
	return p.config.Model
}

// Available sends a minimal request and checks for a non-auth-failure
// response; Anthropic has no lightweight health endpoint.
func (p *AnthropicProvider) Available(ctx context.Context) bool {
	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	_, err := p.Generate(checkCtx, "ping", 1, 0)
	return err == nil
}

// Close is a no-op; the provider holds no long-lived resources beyond
// the pooled http.Client.
func (p *AnthropicProvider) Close() error {
	return nil
}
