package planner_test

import (
	"context"
	"fmt"
	"reflect"
	"testing"

	"leadline/internal/planner"
)

type cannedClient struct {
	response string
	err      error
}

func (c cannedClient) Generate(ctx context.Context, prompt string) (string, error) {
	return c.response, c.err
}

func TestFallbackIsDeterministic(t *testing.T) {
	src := planner.FallbackSource{}
	opts := planner.Options{MaxLeads: 5, Source: "web"}
	first, err := src.Plan(context.Background(), "Trouve 5 leads dentistes à Lyon", opts)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	second, err := src.Plan(context.Background(), "Trouve 5 leads dentistes à Lyon", opts)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("same prompt must yield the same plan")
	}
	if len(first.Actions) != 1 || first.Actions[0].Type != "source_leads" {
		t.Fatalf("want one source_leads action, got %+v", first.Actions)
	}
	if first.Actions[0].Payload["max_results"] != 5 {
		t.Fatalf("want max_results 5, got %v", first.Actions[0].Payload["max_results"])
	}
	if first.Actions[0].Payload["source"] != "web" {
		t.Fatalf("want source web, got %v", first.Actions[0].Payload["source"])
	}
}

func TestFallbackDefaultsMaxLeads(t *testing.T) {
	plan, err := planner.FallbackSource{}.Plan(context.Background(), "find leads", planner.Options{})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.Actions[0].Payload["max_results"] != 10 {
		t.Fatalf("want default 10, got %v", plan.Actions[0].Payload["max_results"])
	}
}

func TestLLMSourceParsesFencedJSON(t *testing.T) {
	src := &planner.LLMSource{Client: cannedClient{response: "```json\n" +
		`{"actions":[{"action_type":"create_lead","payload":{"email":"a@b.fr"}}],"summary":"ok"}` +
		"\n```"}}
	plan, err := src.Plan(context.Background(), "add a lead", planner.Options{MaxLeads: 10})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.Summary != "ok" || len(plan.Actions) != 1 {
		t.Fatalf("unexpected plan: %+v", plan)
	}
	if plan.Actions[0].Payload["email"] != "a@b.fr" {
		t.Fatalf("payload lost: %+v", plan.Actions[0].Payload)
	}
}

func TestLLMSourceExtractsObjectFromProse(t *testing.T) {
	src := &planner.LLMSource{Client: cannedClient{response: `Here is your plan:
{"actions":[{"action_type":"rescore","payload":{}}],"summary":"rescore all"}
Hope that helps!`}}
	plan, err := src.Plan(context.Background(), "rescore", planner.Options{MaxLeads: 10})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.Actions[0].Type != "rescore" {
		t.Fatalf("unexpected plan: %+v", plan)
	}
}

func TestLLMSourceBracesInsideStrings(t *testing.T) {
	src := &planner.LLMSource{Client: cannedClient{response: `Sure thing:
{"actions":[{"action_type":"create_lead","payload":{"name":"Braces {Ltd}"}}],"summary":"payload shape is {email, name}"}
Let me know.`}}
	plan, err := src.Plan(context.Background(), "add a lead", planner.Options{MaxLeads: 10})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.Summary != "payload shape is {email, name}" {
		t.Fatalf("summary mangled: %q", plan.Summary)
	}
	if plan.Actions[0].Payload["name"] != "Braces {Ltd}" {
		t.Fatalf("payload mangled: %+v", plan.Actions[0].Payload)
	}
}

func TestLLMSourceEscapedQuotesInStrings(t *testing.T) {
	src := &planner.LLMSource{Client: cannedClient{response: `Result:
{"actions":[{"action_type":"rescore","payload":{}}],"summary":"said \"go\" then }"}`}}
	plan, err := src.Plan(context.Background(), "rescore", planner.Options{})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.Summary != `said "go" then }` {
		t.Fatalf("summary mangled: %q", plan.Summary)
	}
}

func TestLLMSourceNilPayloadNormalized(t *testing.T) {
	src := &planner.LLMSource{Client: cannedClient{response: `{"actions":[{"action_type":"rescore"}],"summary":"s"}`}}
	plan, err := src.Plan(context.Background(), "rescore", planner.Options{})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.Actions[0].Payload == nil {
		t.Fatalf("payload must never be nil")
	}
}

func TestLLMSourceHardFailures(t *testing.T) {
	cases := map[string]cannedClient{
		"transport error": {err: fmt.Errorf("connection refused")},
		"not json":        {response: "sorry, I cannot help with that"},
		"empty actions":   {response: `{"actions":[],"summary":"nothing"}`},
	}
	for name, client := range cases {
		src := &planner.LLMSource{Client: client}
		if _, err := src.Plan(context.Background(), "x", planner.Options{}); err == nil {
			t.Fatalf("%s: want error", name)
		}
	}
}

func TestNewSelectsFallbackWithoutProvider(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	src := planner.New(planner.Config{})
	if _, ok := src.(planner.FallbackSource); !ok {
		t.Fatalf("unconfigured provider should use the fallback, got %T", src)
	}
	src = planner.New(planner.Config{Provider: "mock"})
	if _, ok := src.(planner.FallbackSource); !ok {
		t.Fatalf("mock provider should use the fallback, got %T", src)
	}
}
