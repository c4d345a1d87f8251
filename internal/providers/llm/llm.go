// Package llm holds the remote text-generation clients used by the
// planner. Every provider exposes the same one-shot Generate call; the
// planner owns prompt construction and response parsing.
package llm

import (
	"context"
	"os"
	"strings"
	"time"
)

// Client produces raw model text for a prompt.
type Client interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// New returns a client for the named provider, reading API keys from the
// environment. Unknown or unconfigured providers fall back to env-key
// autodetection, and finally to the mock client so the binary works
// without any credentials.
func New(provider, model string) Client {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "openai":
		if key := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); key != "" {
			return &OpenAIClient{APIKey: key, Model: modelOr(model, "gpt-4o-mini"), BaseURL: strings.TrimRight(os.Getenv("OPENAI_API_BASE"), "/")}
		}
	case "anthropic":
		if key := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")); key != "" {
			return &AnthropicClient{APIKey: key, Model: modelOr(model, "claude-3-5-sonnet-latest")}
		}
	case "gemini":
		if key := strings.TrimSpace(os.Getenv("GOOGLE_API_KEY")); key != "" {
			return &GeminiClient{APIKey: key, Model: modelOr(model, "gemini-1.5-flash")}
		}
	case "mock":
		return &MockClient{}
	}
	return NewFromEnv(model)
}

// NewFromEnv autodetects a provider by API key presence.
func NewFromEnv(model string) Client {
	if key := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); key != "" {
		return &OpenAIClient{APIKey: key, Model: modelOr(model, "gpt-4o-mini"), BaseURL: strings.TrimRight(os.Getenv("OPENAI_API_BASE"), "/")}
	}
	if key := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")); key != "" {
		return &AnthropicClient{APIKey: key, Model: modelOr(model, "claude-3-5-sonnet-latest")}
	}
	if key := strings.TrimSpace(os.Getenv("GOOGLE_API_KEY")); key != "" {
		return &GeminiClient{APIKey: key, Model: modelOr(model, "gemini-1.5-flash")}
	}
	return &MockClient{}
}

func modelOr(model, def string) string {
	if m := strings.TrimSpace(model); m != "" {
		return m
	}
	if m := strings.TrimSpace(os.Getenv("LLM_MODEL")); m != "" {
		return m
	}
	return def
}

func clientTimeout() time.Duration {
	if v := os.Getenv("LLM_HTTP_TIMEOUT_MS"); v != "" {
		if ms, err := time.ParseDuration(v + "ms"); err == nil {
			return ms
		}
	}
	return 45 * time.Second
}

func isTimeout(err error) bool {
	type timeout interface{ Timeout() bool }
	if te, ok := err.(timeout); ok {
		return te.Timeout()
	}
	return false
}

func backoff(i int) time.Duration {
	return time.Duration(500*(1<<i)) * time.Millisecond
}
