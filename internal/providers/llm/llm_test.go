package llm_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"leadline/internal/providers/llm"
)

func clearAPIKeys(t *testing.T) {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
}

func TestNewSelectsProviderByKey(t *testing.T) {
	clearAPIKeys(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	if _, ok := llm.New("openai", "").(*llm.OpenAIClient); !ok {
		t.Fatalf("want openai client")
	}
	// named provider without its key falls through to autodetection
	if _, ok := llm.New("anthropic", "").(*llm.OpenAIClient); !ok {
		t.Fatalf("want autodetected openai client")
	}
	clearAPIKeys(t)
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")
	if _, ok := llm.New("", "").(*llm.AnthropicClient); !ok {
		t.Fatalf("want anthropic client from env")
	}
	clearAPIKeys(t)
	if _, ok := llm.New("", "").(*llm.MockClient); !ok {
		t.Fatalf("want mock without any key")
	}
	if _, ok := llm.New("mock", "").(*llm.MockClient); !ok {
		t.Fatalf("mock provider must stay mock")
	}
}

func TestOpenAIGenerate(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			t.Errorf("missing auth header")
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": `{"actions":[]}`}},
			},
		})
	}))
	defer srv.Close()

	c := &llm.OpenAIClient{APIKey: "sk-test", Model: "gpt-4o-mini", BaseURL: srv.URL}
	out, err := c.Generate(context.Background(), "plan something")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out != `{"actions":[]}` {
		t.Fatalf("unexpected output %q", out)
	}
	if gotPath != "/v1/chat/completions" {
		t.Fatalf("unexpected path %s", gotPath)
	}
}

func TestOpenAIRetriesOnServerError(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "ok"}},
			},
		})
	}))
	defer srv.Close()

	c := &llm.OpenAIClient{APIKey: "sk-test", Model: "gpt-4o-mini", BaseURL: srv.URL}
	out, err := c.Generate(context.Background(), "x")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out != "ok" || attempts != 3 {
		t.Fatalf("want success on third attempt, got %q after %d", out, attempts)
	}
}

func TestOpenAIDoesNotRetryClientError(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := &llm.OpenAIClient{APIKey: "bad", Model: "gpt-4o-mini", BaseURL: srv.URL}
	if _, err := c.Generate(context.Background(), "x"); err == nil {
		t.Fatalf("want error")
	}
	if attempts != 1 {
		t.Fatalf("401 must not be retried, got %d attempts", attempts)
	}
}

func TestAnthropicGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") == "" || r.Header.Get("anthropic-version") == "" {
			t.Errorf("missing anthropic headers")
		}
		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": "hello"},
			},
		})
	}))
	defer srv.Close()

	t.Setenv("ANTHROPIC_API_URL", srv.URL)
	c := &llm.AnthropicClient{APIKey: "sk-ant", Model: "claude-3-5-sonnet-latest"}
	out, err := c.Generate(context.Background(), "x")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out != "hello" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestMockClientShape(t *testing.T) {
	out, err := (&llm.MockClient{}).Generate(context.Background(), "anything")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	var plan struct {
		Actions []map[string]any `json:"actions"`
	}
	if err := json.Unmarshal([]byte(out), &plan); err != nil {
		t.Fatalf("mock output must be valid plan JSON: %v", err)
	}
	if len(plan.Actions) == 0 {
		t.Fatalf("mock plan must contain actions")
	}
}
