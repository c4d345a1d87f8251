// Package orchestrator coordinates the assistant pipeline: obtain a plan
// for a prompt, persist it as a run with actions, execute what may run
// unattended and finalize the run. Previously gated actions advance
// through the confirmation operations.
package orchestrator

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"leadline/internal/config"
	"leadline/internal/dispatch"
	"leadline/internal/domain"
	"leadline/internal/events"
	"leadline/internal/notify"
	"leadline/internal/planner"
	"leadline/internal/repo"
	"leadline/internal/safety"
)

type Orchestrator struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Registry *dispatch.Registry
	Source   planner.Source
	Notifier notify.Notifier
	Config   *config.Config
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config, registry *dispatch.Registry, source planner.Source, notifier notify.Notifier) *Orchestrator {
	return &Orchestrator{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{DB: db},
		Registry: registry,
		Source:   source,
		Notifier: notifier,
		Config:   cfg,
		Now:      time.Now,
	}
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// StartOptions are the per-invocation knobs. Zero values fall back to the
// configured defaults; AutoConfirm is a pointer so "not specified" and
// "explicitly false" stay distinct.
type StartOptions struct {
	Prompt      string
	ActorID     string
	MaxLeads    int
	Source      string
	AutoConfirm *bool
}

// Start creates a run for the prompt, obtains a plan and executes it. The
// returned run is terminal (completed, completed_with_errors or failed)
// except for its still-pending gated actions. A plan source failure
// finalizes the run as failed; it is recorded on the run, not returned as
// an error.
func (o *Orchestrator) Start(ctx context.Context, opts StartOptions) (domain.Run, []domain.Action, error) {
	if strings.TrimSpace(opts.Prompt) == "" {
		return domain.Run{}, nil, fmt.Errorf("prompt is required")
	}
	rc := domain.RunConfig{
		MaxLeads:    opts.MaxLeads,
		Source:      opts.Source,
		AutoConfirm: o.Config.Assistant.AutoConfirm,
	}
	if rc.MaxLeads <= 0 {
		rc.MaxLeads = o.Config.Assistant.MaxLeads
	}
	if rc.Source == "" {
		rc.Source = o.Config.Assistant.Source
	}
	if opts.AutoConfirm != nil {
		rc.AutoConfirm = *opts.AutoConfirm
	}

	run := domain.Run{
		ID:        uuid.NewString(),
		Prompt:    opts.Prompt,
		Status:    "pending",
		ActorID:   opts.ActorID,
		Config:    rc,
		CreatedAt: o.now().UTC().Format(time.RFC3339),
	}
	if err := o.Repo.InsertRun(ctx, run); err != nil {
		return domain.Run{}, nil, fmt.Errorf("insert run: %w", err)
	}
	if err := o.Events.Append(ctx, nil, "run.start", "run", run.ID, run.ActorID, events.EventPayload{"prompt": run.Prompt}); err != nil {
		return domain.Run{}, nil, err
	}

	plan, err := o.Source.Plan(ctx, run.Prompt, planner.Options{MaxLeads: rc.MaxLeads, Source: rc.Source})
	if err != nil {
		summary := fmt.Sprintf("Plan generation failed: %v", err)
		if ferr := o.finishRun(ctx, run.ID, "failed", summary, run.ActorID); ferr != nil {
			return domain.Run{}, nil, ferr
		}
		final, gerr := o.Repo.GetRun(ctx, run.ID)
		if gerr != nil {
			return domain.Run{}, nil, gerr
		}
		return final, nil, nil
	}

	if err := o.ExecutePlan(ctx, run, plan); err != nil {
		return domain.Run{}, nil, err
	}
	final, err := o.Repo.GetRun(ctx, run.ID)
	if err != nil {
		return domain.Run{}, nil, err
	}
	actions, err := o.Repo.ListRunActions(ctx, run.ID)
	if err != nil {
		return domain.Run{}, nil, err
	}
	return final, actions, nil
}

const maxSummaryErrors = 3

// ExecutePlan persists the classified plan as this run's action list and
// dispatches every action that does not require confirmation, in plan
// order. The action batch becomes visible atomically. Exactly one
// completion notification fires, whether or not actions stay pending.
func (o *Orchestrator) ExecutePlan(ctx context.Context, run domain.Run, plan planner.Plan) error {
	if err := o.Repo.MarkRunRunning(ctx, run.ID); err != nil {
		return fmt.Errorf("run %s to running: %w", run.ID, err)
	}

	classified := safety.Classify(plan.Actions, run.Config.AutoConfirm)
	now := o.now().UTC().Format(time.RFC3339)
	actions := make([]domain.Action, 0, len(classified))
	for i, c := range classified {
		a := domain.Action{
			ID:              uuid.NewString(),
			RunID:           run.ID,
			Position:        i,
			ActionType:      c.Spec.Type,
			Payload:         c.Spec.Payload,
			RequiresConfirm: c.RequiresConfirm,
			Status:          "pending",
			CreatedAt:       now,
		}
		if c.Spec.EntityType != "" {
			et := c.Spec.EntityType
			a.EntityType = &et
		}
		actions = append(actions, a)
	}

	tx, err := o.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := o.Repo.InsertActionsTx(ctx, tx, actions); err != nil {
		return fmt.Errorf("insert actions: %w", err)
	}
	if err := o.Events.Append(ctx, tx, "run.planned", "run", run.ID, run.ActorID, events.EventPayload{
		"actions": len(actions),
		"summary": plan.Summary,
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	var failures []string
	for _, a := range actions {
		if a.RequiresConfirm {
			continue
		}
		if msg, ok := o.dispatchAction(ctx, a, run.ActorID); !ok {
			failures = append(failures, msg)
		}
	}

	summary := plan.Summary
	status := "completed"
	if len(failures) > 0 {
		status = "completed_with_errors"
		shown := failures
		extra := 0
		if len(shown) > maxSummaryErrors {
			extra = len(shown) - maxSummaryErrors
			shown = shown[:maxSummaryErrors]
		}
		summary = fmt.Sprintf("%s. Errors: %s", plan.Summary, strings.Join(shown, "; "))
		if extra > 0 {
			summary += fmt.Sprintf(" (+%d more)", extra)
		}
	}
	return o.finishRun(ctx, run.ID, status, summary, run.ActorID)
}

// dispatchAction runs one action through the registry and records the
// outcome. It reports (failureMessage, ok). A failed outcome write counts
// as a failure of the action itself: the store is the source of truth for
// status, so an action whose status could not be recorded must not be
// reported as executed.
func (o *Orchestrator) dispatchAction(ctx context.Context, a domain.Action, actorID string) (string, bool) {
	executedAt := o.now().UTC().Format(time.RFC3339)
	result, err := o.Registry.Dispatch(ctx, a.ActionType, a.Payload)
	if err != nil {
		msg := fmt.Sprintf("%s: %v", a.ActionType, err)
		if werr := o.Repo.MarkActionOutcome(ctx, a.ID, "failed", map[string]any{"error": err.Error()}, executedAt); werr != nil {
			return fmt.Sprintf("%s; record outcome: %v", msg, werr), false
		}
		if werr := o.Events.Append(ctx, nil, "action.failed", "action", a.ID, actorID, events.EventPayload{
			"run_id": a.RunID, "action_type": a.ActionType, "error": err.Error(),
		}); werr != nil {
			return fmt.Sprintf("%s; append event: %v", msg, werr), false
		}
		return msg, false
	}
	if werr := o.Repo.MarkActionOutcome(ctx, a.ID, "executed", result, executedAt); werr != nil {
		return fmt.Sprintf("%s: record outcome: %v", a.ActionType, werr), false
	}
	if werr := o.Events.Append(ctx, nil, "action.executed", "action", a.ID, actorID, events.EventPayload{
		"run_id": a.RunID, "action_type": a.ActionType,
	}); werr != nil {
		return fmt.Sprintf("%s: append event: %v", a.ActionType, werr), false
	}
	return "", true
}

func (o *Orchestrator) finishRun(ctx context.Context, runID, status, summary, actorID string) error {
	finishedAt := o.now().UTC().Format(time.RFC3339)
	if err := o.Repo.FinishRun(ctx, runID, status, summary, finishedAt); err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	if err := o.Events.Append(ctx, nil, "run.finished", "run", runID, actorID, events.EventPayload{
		"status": status, "summary": summary,
	}); err != nil {
		return err
	}
	if o.Notifier != nil {
		run, err := o.Repo.GetRun(ctx, runID)
		if err != nil {
			return err
		}
		o.Notifier.RunFinished(ctx, run)
	}
	return nil
}

// ExecuteConfirmed advances previously gated actions. Only actions that
// are still pending with requires_confirm set are touched; every other id
// is silently ignored, which makes a repeated call a no-op. The atomic
// pending-to-confirmed claim is what keeps racing confirmations from
// double-dispatching.
func (o *Orchestrator) ExecuteConfirmed(ctx context.Context, actionIDs []string, actorID string) (map[string]string, error) {
	outcomes := make(map[string]string)
	for _, id := range actionIDs {
		claimed, err := o.Repo.ClaimPendingConfirm(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("claim action %s: %w", id, err)
		}
		if !claimed {
			continue
		}
		a, err := o.Repo.GetAction(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("get action %s: %w", id, err)
		}
		if err := o.Events.Append(ctx, nil, "action.confirmed", "action", a.ID, actorID, events.EventPayload{
			"run_id": a.RunID, "action_type": a.ActionType,
		}); err != nil {
			return nil, err
		}
		if msg, ok := o.dispatchAction(ctx, a, actorID); !ok {
			outcomes[id] = "failed: " + msg
		} else {
			outcomes[id] = "executed"
		}
	}
	return outcomes, nil
}

// Reject marks eligible gated actions rejected and returns how many were
// actually rejected, so callers can detect stale ids.
func (o *Orchestrator) Reject(ctx context.Context, actionIDs []string, actorID string) (int, error) {
	count := 0
	for _, id := range actionIDs {
		rejected, err := o.Repo.RejectPendingConfirm(ctx, id)
		if err != nil {
			return 0, fmt.Errorf("reject action %s: %w", id, err)
		}
		if !rejected {
			continue
		}
		if err := o.Events.Append(ctx, nil, "action.rejected", "action", id, actorID, nil); err != nil {
			return 0, err
		}
		count++
	}
	return count, nil
}
