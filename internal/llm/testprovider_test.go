package llm

import (
	"context"
	"errors"
	"testing"
)

func TestTestProvider_Generate_ReturnsFixedResponse(t *testing.T) {
	p := NewTestProvider("m", "fixed")
	out, err := p.Generate(context.Background(), "anything", 0, 0)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if out != "fixed" {
		t.Errorf("Generate() = %q, want %q", out, "fixed")
	}
}

func TestTestProvider_Generate_UsesResponseFn(t *testing.T) {
	p := &TestProvider{Model: "m", ResponseFn: func(prompt string) (string, error) {
		return "echo:" + prompt, nil
	}}
	out, err := p.Generate(context.Background(), "hi", 0, 0)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if out != "echo:hi" {
		t.Errorf("Generate() = %q, want %q", out, "echo:hi")
	}
}

func TestTestProvider_Close_MakesGenerateFail(t *testing.T) {
	p := NewTestProvider("m", "x")
	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := p.Generate(context.Background(), "x", 0, 0); err == nil {
		t.Error("expected Generate to fail after Close")
	}
}

func TestTestProvider_Available_RespectsUnavailableFlag(t *testing.T) {
	p := NewTestProvider("m", "x")
	if !p.Available(context.Background()) {
		t.Error("Available() = false, want true")
	}
	p.Unavailable = true
	if p.Available(context.Background()) {
		t.Error("Available() = true, want false")
	}
}

func TestTestProvider_ResponseFn_ErrorPropagates(t *testing.T) {
	p := &TestProvider{Model: "m", ResponseFn: func(string) (string, error) {
		return "", errors.New("fail")
	}}
	if _, err := p.Generate(context.Background(), "x", 0, 0); err == nil {
		t.Error("expected error from ResponseFn")
	}
}
