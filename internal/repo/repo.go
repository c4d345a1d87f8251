package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"leadline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const runColumns = `id,prompt,status,actor_id,COALESCE(summary,'') AS summary,config_json,created_at,finished_at`

func scanRun(scan func(dest ...any) error) (domain.Run, error) {
	var r domain.Run
	var configJSON string
	var finishedAt sql.NullString
	err := scan(&r.ID, &r.Prompt, &r.Status, &r.ActorID, &r.Summary, &configJSON, &r.CreatedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return r, ErrNotFound
	}
	if err != nil {
		return r, err
	}
	if err := json.Unmarshal([]byte(configJSON), &r.Config); err != nil {
		return r, fmt.Errorf("decode run config: %w", err)
	}
	if finishedAt.Valid {
		r.FinishedAt = &finishedAt.String
	}
	return r, nil
}

func (r Repo) InsertRun(ctx context.Context, run domain.Run) error {
	cfg, err := json.Marshal(run.Config)
	if err != nil {
		return fmt.Errorf("encode run config: %w", err)
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO runs(id,prompt,status,actor_id,summary,config_json,created_at,finished_at) VALUES (?,?,?,?,?,?,?,?)`,
		run.ID, run.Prompt, run.Status, run.ActorID, nullable(run.Summary), string(cfg), run.CreatedAt, nullableStringPtr(run.FinishedAt))
	return err
}

func (r Repo) GetRun(ctx context.Context, id string) (domain.Run, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id=?`, id)
	return scanRun(row.Scan)
}

type RunFilters struct {
	Status          string
	ActorID         string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListRuns(ctx context.Context, f RunFilters) ([]domain.Run, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.ActorID != "" {
		clauses = append(clauses, "actor_id=?")
		args = append(args, f.ActorID)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + runColumns + ` FROM runs ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Run
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, run)
	}
	return res, rows.Err()
}

// MarkRunRunning transitions a run from pending to running. The status
// guard keeps a re-entrant call from resurrecting a finished run.
func (r Repo) MarkRunRunning(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE runs SET status='running' WHERE id=? AND status='pending'`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s is not pending: %w", id, ErrNotFound)
	}
	return nil
}

// FinishRun records the terminal status, summary and finish time.
func (r Repo) FinishRun(ctx context.Context, id, status, summary, finishedAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE runs SET status=?, summary=?, finished_at=? WHERE id=?`,
		status, nullable(summary), finishedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteRun(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM runs WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const actionColumns = `id,run_id,position,action_type,entity_type,payload_json,requires_confirm,status,result_json,created_at,executed_at`

func scanAction(scan func(dest ...any) error) (domain.Action, error) {
	var a domain.Action
	var entityType, resultJSON, executedAt sql.NullString
	var payloadJSON string
	var requiresConfirm int
	err := scan(&a.ID, &a.RunID, &a.Position, &a.ActionType, &entityType, &payloadJSON, &requiresConfirm, &a.Status, &resultJSON, &a.CreatedAt, &executedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.RequiresConfirm = requiresConfirm != 0
	if entityType.Valid {
		a.EntityType = &entityType.String
	}
	if payloadJSON != "" {
		if err := json.Unmarshal([]byte(payloadJSON), &a.Payload); err != nil {
			return a, fmt.Errorf("decode action payload: %w", err)
		}
	}
	if resultJSON.Valid && resultJSON.String != "" {
		if err := json.Unmarshal([]byte(resultJSON.String), &a.Result); err != nil {
			return a, fmt.Errorf("decode action result: %w", err)
		}
	}
	if executedAt.Valid {
		a.ExecutedAt = &executedAt.String
	}
	return a, nil
}

// InsertActionsTx writes a full action batch inside the caller's
// transaction so a partial batch is never visible as a run's action list.
func (r Repo) InsertActionsTx(ctx context.Context, tx *sql.Tx, actions []domain.Action) error {
	for _, a := range actions {
		payload, err := json.Marshal(orEmptyMap(a.Payload))
		if err != nil {
			return fmt.Errorf("encode action payload: %w", err)
		}
		confirm := 0
		if a.RequiresConfirm {
			confirm = 1
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO actions(id,run_id,position,action_type,entity_type,payload_json,requires_confirm,status,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
			a.ID, a.RunID, a.Position, a.ActionType, nullableStringPtr(a.EntityType), string(payload), confirm, a.Status, a.CreatedAt); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) GetAction(ctx context.Context, id string) (domain.Action, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+actionColumns+` FROM actions WHERE id=?`, id)
	return scanAction(row.Scan)
}

func (r Repo) ListRunActions(ctx context.Context, runID string) ([]domain.Action, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+actionColumns+` FROM actions WHERE run_id=? ORDER BY position ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Action
	for rows.Next() {
		a, err := scanAction(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// ClaimPendingConfirm atomically moves an action from pending to confirmed.
// Only actions that are pending AND gated on confirmation match; anything
// else reports false so racing confirmations and stale ids are no-ops.
func (r Repo) ClaimPendingConfirm(ctx context.Context, id string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE actions SET status='confirmed' WHERE id=? AND status='pending' AND requires_confirm=1`, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// RejectPendingConfirm atomically moves an action from pending to rejected
// under the same eligibility guard as ClaimPendingConfirm.
func (r Repo) RejectPendingConfirm(ctx context.Context, id string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE actions SET status='rejected' WHERE id=? AND status='pending' AND requires_confirm=1`, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// MarkActionOutcome records the executed/failed status together with the
// handler result.
func (r Repo) MarkActionOutcome(ctx context.Context, id, status string, result map[string]any, executedAt string) error {
	data, err := json.Marshal(orEmptyMap(result))
	if err != nil {
		return fmt.Errorf("encode action result: %w", err)
	}
	res, err := r.DB.ExecContext(ctx, `UPDATE actions SET status=?, result_json=?, executed_at=? WHERE id=?`,
		status, string(data), executedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) CountActionsByStatus(ctx context.Context, runID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM actions WHERE run_id=? GROUP BY status`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
