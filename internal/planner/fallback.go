package planner

import (
	"context"
	"fmt"
)

// FallbackSource is the deterministic generator used when no remote model
// is reachable. Same prompt and options always yield a structurally
// identical plan.
type FallbackSource struct{}

func (FallbackSource) Plan(ctx context.Context, prompt string, opts Options) (Plan, error) {
	max := opts.MaxLeads
	if max <= 0 {
		max = 10
	}
	payload := map[string]any{
		"query":       prompt,
		"max_results": max,
	}
	if opts.Source != "" {
		payload["source"] = opts.Source
	}
	return Plan{
		Summary: fmt.Sprintf("Source up to %d leads matching the prompt", max),
		Actions: []ActionSpec{{
			Type:       "source_leads",
			EntityType: "lead",
			Payload:    payload,
		}},
	}, nil
}
