// Package planner turns a natural-language prompt into an ordered action
// plan, either through a remote model or through a deterministic local
// generator when no model is configured.
package planner

import (
	"context"
	"strings"
	"time"

	"leadline/internal/providers/llm"
)

// ActionSpec is one proposed step of a plan. RequiresConfirm carries the
// generator's own suggestion and is rewritten downstream before anything
// is persisted.
type ActionSpec struct {
	Type            string         `json:"action_type"`
	EntityType      string         `json:"entity_type,omitempty"`
	Payload         map[string]any `json:"payload"`
	RequiresConfirm bool           `json:"requires_confirm"`
}

// Plan is the ordered proposal for one prompt.
type Plan struct {
	Summary string       `json:"summary"`
	Actions []ActionSpec `json:"actions"`
}

// Options are the per-invocation knobs forwarded to the generator.
type Options struct {
	MaxLeads int
	Source   string
}

// Source produces a plan for a prompt.
type Source interface {
	Plan(ctx context.Context, prompt string, opts Options) (Plan, error)
}

// Config selects and tunes the plan source.
type Config struct {
	Provider string
	Model    string
	Timeout  time.Duration
}

// New picks the plan source. A configured remote provider gets the LLM
// source; otherwise the deterministic fallback serves every prompt.
func New(cfg Config) Source {
	if strings.EqualFold(strings.TrimSpace(cfg.Provider), "mock") {
		return FallbackSource{}
	}
	client := llm.New(cfg.Provider, cfg.Model)
	if _, ok := client.(*llm.MockClient); ok {
		return FallbackSource{}
	}
	return &LLMSource{Client: client, Timeout: cfg.Timeout}
}
