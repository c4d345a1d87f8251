package orchestrator_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"leadline/internal/config"
	"leadline/internal/db"
	"leadline/internal/dispatch"
	"leadline/internal/domain"
	"leadline/internal/handlers"
	"leadline/internal/migrate"
	"leadline/internal/orchestrator"
	"leadline/internal/planner"
	"leadline/internal/repo"
)

type stubSource struct {
	plan planner.Plan
	err  error
}

func (s stubSource) Plan(ctx context.Context, prompt string, opts planner.Options) (planner.Plan, error) {
	return s.plan, s.err
}

type countingNotifier struct {
	calls int
	last  domain.Run
}

func (n *countingNotifier) RunFinished(ctx context.Context, run domain.Run) {
	n.calls++
	n.last = run
}

type testEnv struct {
	Orch     *orchestrator.Orchestrator
	Notifier *countingNotifier
	Ctx      context.Context
}

func newTestEnv(t *testing.T, source planner.Source) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	registry := dispatch.NewRegistry()
	handlers.New(repo.Repo{DB: conn}, cfg).Register(registry)
	notifier := &countingNotifier{}
	o := orchestrator.New(conn, cfg, registry, source, notifier)
	o.Now = func() time.Time { return time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC) }
	return testEnv{Orch: o, Notifier: notifier, Ctx: context.Background()}
}

func boolPtr(b bool) *bool { return &b }

func TestFallbackPromptSourcesLeads(t *testing.T) {
	env := newTestEnv(t, planner.FallbackSource{})
	run, actions, err := env.Orch.Start(env.Ctx, orchestrator.StartOptions{
		Prompt:      "Trouve 5 leads dentistes à Lyon",
		ActorID:     "tester",
		MaxLeads:    5,
		AutoConfirm: boolPtr(true),
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if run.Status != "completed" {
		t.Fatalf("want completed, got %s (%s)", run.Status, run.Summary)
	}
	if len(actions) != 1 {
		t.Fatalf("want 1 action, got %d", len(actions))
	}
	a := actions[0]
	if a.ActionType != "source_leads" || a.Status != "executed" || a.RequiresConfirm {
		t.Fatalf("unexpected action: %+v", a)
	}
	if got, ok := a.Payload["max_results"].(float64); !ok || int(got) != 5 {
		t.Fatalf("want max_results 5, got %v", a.Payload["max_results"])
	}
	sourced, ok := a.Result["sourced"].(float64)
	if !ok || sourced < 1 || sourced > 5 {
		t.Fatalf("want 1..5 sourced leads, got %v", a.Result["sourced"])
	}
	if env.Notifier.calls != 1 {
		t.Fatalf("want exactly one notification, got %d", env.Notifier.calls)
	}
}

func TestAllDangerousPlanStaysPending(t *testing.T) {
	src := stubSource{plan: planner.Plan{
		Summary: "Delete two leads",
		Actions: []planner.ActionSpec{
			{Type: "delete_lead", Payload: map[string]any{"id": "x"}},
			{Type: "delete_lead", Payload: map[string]any{"id": "y"}},
		},
	}}
	env := newTestEnv(t, src)
	run, actions, err := env.Orch.Start(env.Ctx, orchestrator.StartOptions{
		Prompt:      "clean up",
		ActorID:     "tester",
		AutoConfirm: boolPtr(true),
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if run.Status != "completed" {
		t.Fatalf("want completed, got %s", run.Status)
	}
	for _, a := range actions {
		if a.Status != "pending" || !a.RequiresConfirm {
			t.Fatalf("dangerous action should stay gated: %+v", a)
		}
	}
	if env.Notifier.calls != 1 {
		t.Fatalf("want exactly one notification, got %d", env.Notifier.calls)
	}
}

func TestPartialFailureCompletesWithErrors(t *testing.T) {
	src := stubSource{plan: planner.Plan{
		Summary: "Three steps",
		Actions: []planner.ActionSpec{
			{Type: "create_lead", Payload: map[string]any{"email": "a@acme.fr"}},
			{Type: "create_lead", Payload: map[string]any{}}, // missing email
			{Type: "create_lead", Payload: map[string]any{"email": "b@acme.fr"}},
		},
	}}
	env := newTestEnv(t, src)
	run, actions, err := env.Orch.Start(env.Ctx, orchestrator.StartOptions{
		Prompt:      "add leads",
		ActorID:     "tester",
		AutoConfirm: boolPtr(true),
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if run.Status != "completed_with_errors" {
		t.Fatalf("want completed_with_errors, got %s", run.Status)
	}
	statuses := map[string]int{}
	for _, a := range actions {
		statuses[a.Status]++
	}
	if statuses["executed"] != 2 || statuses["failed"] != 1 {
		t.Fatalf("want 2 executed and 1 failed, got %v", statuses)
	}
	for _, a := range actions {
		if a.Status == "failed" {
			if _, ok := a.Result["error"]; !ok {
				t.Fatalf("failed action missing error result: %+v", a.Result)
			}
		}
	}
}

func TestErrorSummaryCapsAtThree(t *testing.T) {
	var specs []planner.ActionSpec
	for i := 0; i < 5; i++ {
		specs = append(specs, planner.ActionSpec{Type: "create_lead", Payload: map[string]any{}})
	}
	env := newTestEnv(t, stubSource{plan: planner.Plan{Summary: "Five bad steps", Actions: specs}})
	run, actions, err := env.Orch.Start(env.Ctx, orchestrator.StartOptions{
		Prompt:      "add leads",
		ActorID:     "tester",
		AutoConfirm: boolPtr(true),
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if run.Status != "completed_with_errors" {
		t.Fatalf("want completed_with_errors, got %s", run.Status)
	}
	for _, a := range actions {
		if a.Status != "failed" {
			t.Fatalf("every action should fail: %+v", a)
		}
	}
	if got := strings.Count(run.Summary, "email is required"); got != 3 {
		t.Fatalf("want 3 surfaced errors, got %d in %q", got, run.Summary)
	}
	if !strings.Contains(run.Summary, "(+2 more)") {
		t.Fatalf("want overflow marker for the 2 hidden errors, got %q", run.Summary)
	}
}

// blockExecutedWrites installs a trigger that rejects any status update to
// executed, simulating a store write failure at outcome-recording time.
func blockExecutedWrites(t *testing.T, env testEnv) {
	t.Helper()
	_, err := env.Orch.DB.ExecContext(env.Ctx, `
		CREATE TRIGGER block_executed BEFORE UPDATE OF status ON actions
		WHEN NEW.status = 'executed'
		BEGIN SELECT RAISE(ABORT, 'status write rejected'); END`)
	if err != nil {
		t.Fatalf("create trigger: %v", err)
	}
}

func TestOutcomeWriteFailureFailsAction(t *testing.T) {
	src := stubSource{plan: planner.Plan{
		Summary: "One step",
		Actions: []planner.ActionSpec{
			{Type: "create_lead", Payload: map[string]any{"email": "a@acme.fr"}},
		},
	}}
	env := newTestEnv(t, src)
	blockExecutedWrites(t, env)
	run, actions, err := env.Orch.Start(env.Ctx, orchestrator.StartOptions{
		Prompt:      "add a lead",
		ActorID:     "tester",
		AutoConfirm: boolPtr(true),
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	// the handler ran but the outcome could not be recorded; the run must
	// not claim a clean completion
	if run.Status != "completed_with_errors" {
		t.Fatalf("want completed_with_errors, got %s", run.Status)
	}
	if !strings.Contains(run.Summary, "record outcome") {
		t.Fatalf("summary should surface the write failure, got %q", run.Summary)
	}
	if actions[0].Status != "pending" {
		t.Fatalf("stored status should be untouched, got %s", actions[0].Status)
	}
	if env.Notifier.calls != 1 {
		t.Fatalf("want one notification, got %d", env.Notifier.calls)
	}
}

func TestConfirmOutcomeWriteFailureReported(t *testing.T) {
	src := stubSource{plan: planner.Plan{
		Summary: "Gated delete",
		Actions: []planner.ActionSpec{
			{Type: "delete_lead", Payload: map[string]any{"id": "no-such-lead"}},
		},
	}}
	env := newTestEnv(t, src)
	_, actions, err := env.Orch.Start(env.Ctx, orchestrator.StartOptions{
		Prompt:      "delete it",
		ActorID:     "tester",
		AutoConfirm: boolPtr(true),
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	id := actions[0].ID
	blockExecutedWrites(t, env)

	outcomes, err := env.Orch.ExecuteConfirmed(env.Ctx, []string{id}, "tester")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if !strings.HasPrefix(outcomes[id], "failed:") || !strings.Contains(outcomes[id], "record outcome") {
		t.Fatalf("caller must not see executed when the status write failed, got %q", outcomes[id])
	}
	a, err := env.Orch.Repo.GetAction(env.Ctx, id)
	if err != nil {
		t.Fatalf("get action: %v", err)
	}
	if a.Status != "confirmed" {
		t.Fatalf("action should stay confirmed, got %s", a.Status)
	}
}

func TestPlanSourceFailureFinalizesRunFailed(t *testing.T) {
	env := newTestEnv(t, stubSource{err: fmt.Errorf("backend unreachable")})
	run, actions, err := env.Orch.Start(env.Ctx, orchestrator.StartOptions{
		Prompt:  "anything",
		ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if run.Status != "failed" {
		t.Fatalf("want failed, got %s", run.Status)
	}
	if len(actions) != 0 {
		t.Fatalf("want no actions, got %d", len(actions))
	}
	if env.Notifier.calls != 1 {
		t.Fatalf("want one notification on failure, got %d", env.Notifier.calls)
	}
}

func TestConfirmThenExecute(t *testing.T) {
	src := stubSource{plan: planner.Plan{
		Summary: "Gated delete",
		Actions: []planner.ActionSpec{
			{Type: "delete_lead", Payload: map[string]any{"id": "no-such-lead"}},
		},
	}}
	env := newTestEnv(t, src)
	_, actions, err := env.Orch.Start(env.Ctx, orchestrator.StartOptions{
		Prompt:      "delete it",
		ActorID:     "tester",
		AutoConfirm: boolPtr(true),
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	id := actions[0].ID

	outcomes, err := env.Orch.ExecuteConfirmed(env.Ctx, []string{id}, "tester")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if outcomes[id] != "executed" {
		t.Fatalf("want executed, got %q", outcomes[id])
	}
	a, err := env.Orch.Repo.GetAction(env.Ctx, id)
	if err != nil {
		t.Fatalf("get action: %v", err)
	}
	if a.Status != "executed" {
		t.Fatalf("want executed status, got %s", a.Status)
	}
	// delete of a missing lead is idempotent, not a failure
	if deleted, ok := a.Result["deleted"].(bool); !ok || deleted {
		t.Fatalf("want deleted false, got %v", a.Result["deleted"])
	}

	// second confirm finds nothing eligible
	again, err := env.Orch.ExecuteConfirmed(env.Ctx, []string{id}, "tester")
	if err != nil {
		t.Fatalf("second confirm: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("want empty outcomes on repeat, got %v", again)
	}
}

func TestRejectIsIdempotent(t *testing.T) {
	src := stubSource{plan: planner.Plan{
		Summary: "Gated bulk delete",
		Actions: []planner.ActionSpec{
			{Type: "bulk_delete_leads", Payload: map[string]any{"status": "archived"}},
			{Type: "delete_task", Payload: map[string]any{"id": "t1"}},
		},
	}}
	env := newTestEnv(t, src)
	_, actions, err := env.Orch.Start(env.Ctx, orchestrator.StartOptions{
		Prompt:      "clear archive",
		ActorID:     "tester",
		AutoConfirm: boolPtr(true),
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	ids := []string{actions[0].ID, actions[1].ID}

	count, err := env.Orch.Reject(env.Ctx, ids, "tester")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if count != 2 {
		t.Fatalf("want 2 rejected, got %d", count)
	}
	count, err = env.Orch.Reject(env.Ctx, ids, "tester")
	if err != nil {
		t.Fatalf("second reject: %v", err)
	}
	if count != 0 {
		t.Fatalf("repeat reject should be a no-op, got %d", count)
	}
	// rejected actions are no longer confirmable
	outcomes, err := env.Orch.ExecuteConfirmed(env.Ctx, ids, "tester")
	if err != nil {
		t.Fatalf("confirm after reject: %v", err)
	}
	if len(outcomes) != 0 {
		t.Fatalf("rejected actions must not execute, got %v", outcomes)
	}
}

func TestUnknownActionExecutesWithWarning(t *testing.T) {
	src := stubSource{plan: planner.Plan{
		Summary: "Novel step",
		Actions: []planner.ActionSpec{
			{Type: "send_carrier_pigeon", Payload: map[string]any{"to": "lyon"}},
		},
	}}
	env := newTestEnv(t, src)
	run, actions, err := env.Orch.Start(env.Ctx, orchestrator.StartOptions{
		Prompt:      "pigeon",
		ActorID:     "tester",
		AutoConfirm: boolPtr(true),
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if run.Status != "completed" {
		t.Fatalf("want completed, got %s", run.Status)
	}
	a := actions[0]
	if a.Status != "executed" {
		t.Fatalf("unknown type should execute as a warning, got %s", a.Status)
	}
	if _, ok := a.Result["warning"]; !ok {
		t.Fatalf("want warning in result, got %v", a.Result)
	}
}

func TestAutoConfirmOffGatesEverything(t *testing.T) {
	src := stubSource{plan: planner.Plan{
		Summary: "Safe work",
		Actions: []planner.ActionSpec{
			{Type: "create_lead", Payload: map[string]any{"email": "c@acme.fr"}},
			{Type: "rescore", Payload: map[string]any{}},
		},
	}}
	env := newTestEnv(t, src)
	run, actions, err := env.Orch.Start(env.Ctx, orchestrator.StartOptions{
		Prompt:  "safe things",
		ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if run.Status != "completed" {
		t.Fatalf("want completed, got %s", run.Status)
	}
	for _, a := range actions {
		if a.Status != "pending" || !a.RequiresConfirm {
			t.Fatalf("all actions should be gated without auto-confirm: %+v", a)
		}
	}
}
