package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"leadline/internal/providers/llm"
)

// LLMSource asks a remote model for a plan. A transport error or an
// unparseable response is a hard failure; callers decide whether to fail
// the run or retry.
type LLMSource struct {
	Client  llm.Client
	Timeout time.Duration
}

func (s *LLMSource) Plan(ctx context.Context, prompt string, opts Options) (Plan, error) {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	raw, err := s.Client.Generate(ctx, buildPrompt(prompt, opts))
	if err != nil {
		return Plan{}, fmt.Errorf("plan generation: %w", err)
	}
	plan, err := parsePlan(raw)
	if err != nil {
		return Plan{}, fmt.Errorf("plan parse: %w", err)
	}
	return plan, nil
}

func buildPrompt(prompt string, opts Options) string {
	var b strings.Builder
	b.WriteString(`You are a planning assistant for a sales-prospecting CRM.
Output ONLY a JSON object, no prose, no code fences, with this shape:
{"actions":[{"action_type":"...","entity_type":"lead"|"task"|"project","payload":{...},"requires_confirm":false}],"summary":"..."}

Action types you may use:
- source_leads: payload {"query": string, "max_results": int, "source": string}
- create_lead: payload {"email": string, "name": string, "company": string, "city": string}
- update_lead: payload {"id": string, plus fields to change}
- rescore: payload {"id": string} or {} for all leads
- schedule_nurture: payload {"lead_id": string, "campaign": string}
- create_task: payload {"title": string, "lead_id": string, "due_at": RFC3339 string}
- delete_lead: payload {"id": string}
- bulk_delete_leads: payload {"status": string, "source": string}

Rules:
- Produce the fewest actions that satisfy the instruction, in execution order.
- Never exceed max_results beyond the stated limit.
- Set requires_confirm true for anything destructive.
`)
	fmt.Fprintf(&b, "\nLimits: max_leads=%d", opts.MaxLeads)
	if opts.Source != "" {
		fmt.Fprintf(&b, " source=%s", opts.Source)
	}
	fmt.Fprintf(&b, "\n\nInstruction: %s\n", prompt)
	return b.String()
}

func parsePlan(raw string) (Plan, error) {
	text := normalizeJSONText(raw)
	var plan Plan
	if err := json.Unmarshal([]byte(text), &plan); err != nil {
		return Plan{}, err
	}
	if len(plan.Actions) == 0 {
		return Plan{}, fmt.Errorf("response contains no actions")
	}
	for i := range plan.Actions {
		if plan.Actions[i].Payload == nil {
			plan.Actions[i].Payload = map[string]any{}
		}
	}
	return plan, nil
}

// normalizeJSONText strips markdown code fences and, failing that, pulls
// the first top-level JSON object out of surrounding prose.
func normalizeJSONText(s string) string {
	t := strings.TrimSpace(s)
	if strings.HasPrefix(t, "```") {
		t = strings.TrimPrefix(t, "```")
		if idx := strings.IndexByte(t, '\n'); idx != -1 {
			t = t[idx+1:]
		}
		if j := strings.LastIndex(t, "```"); j != -1 {
			t = t[:j]
		}
		t = strings.TrimSpace(t)
	}
	if !strings.HasPrefix(t, "{") {
		if obj := extractJSONObject(t); obj != "" {
			return obj
		}
	}
	return t
}

func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	if start == -1 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
