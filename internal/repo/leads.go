package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"leadline/internal/domain"
)

const leadColumns = `id,email,COALESCE(name,'') AS name,COALESCE(company,'') AS company,COALESCE(city,'') AS city,COALESCE(source,'') AS source,score,status,created_at,updated_at`

func scanLead(scan func(dest ...any) error) (domain.Lead, error) {
	var l domain.Lead
	err := scan(&l.ID, &l.Email, &l.Name, &l.Company, &l.City, &l.Source, &l.Score, &l.Status, &l.CreatedAt, &l.UpdatedAt)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	return l, err
}

func (r Repo) GetLead(ctx context.Context, id string) (domain.Lead, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id=?`, id)
	return scanLead(row.Scan)
}

func (r Repo) GetLeadByEmail(ctx context.Context, email string) (domain.Lead, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE email=?`, email)
	return scanLead(row.Scan)
}

// UpsertLeadByEmail inserts a lead keyed by email or refreshes the existing
// row. It reports whether a new row was created, which lets handlers stay
// idempotent across re-delivery of the same payload.
func (r Repo) UpsertLeadByEmail(ctx context.Context, lead domain.Lead) (domain.Lead, bool, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Lead{}, false, err
	}
	defer tx.Rollback()

	existing, err := scanLead(tx.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE email=?`, lead.Email).Scan)
	if err != nil && err != ErrNotFound {
		return domain.Lead{}, false, err
	}
	if err == nil {
		if _, err := tx.ExecContext(ctx, `UPDATE leads SET name=COALESCE(?,name), company=COALESCE(?,company), city=COALESCE(?,city), source=COALESCE(?,source), updated_at=? WHERE id=?`,
			nullable(lead.Name), nullable(lead.Company), nullable(lead.City), nullable(lead.Source), lead.UpdatedAt, existing.ID); err != nil {
			return domain.Lead{}, false, err
		}
		if err := tx.Commit(); err != nil {
			return domain.Lead{}, false, err
		}
		refreshed, err := r.GetLead(ctx, existing.ID)
		return refreshed, false, err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO leads(id,email,name,company,city,source,score,status,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		lead.ID, lead.Email, nullable(lead.Name), nullable(lead.Company), nullable(lead.City), nullable(lead.Source), lead.Score, lead.Status, lead.CreatedAt, lead.UpdatedAt); err != nil {
		return domain.Lead{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Lead{}, false, err
	}
	return lead, true, nil
}

type LeadUpdate struct {
	Name    *string
	Company *string
	City    *string
	Status  *string
	Score   *int
}

func (r Repo) UpdateLead(ctx context.Context, id string, upd LeadUpdate, updatedAt string) error {
	var (
		fields []string
		args   []any
	)
	if upd.Name != nil {
		fields = append(fields, "name=?")
		args = append(args, nullable(*upd.Name))
	}
	if upd.Company != nil {
		fields = append(fields, "company=?")
		args = append(args, nullable(*upd.Company))
	}
	if upd.City != nil {
		fields = append(fields, "city=?")
		args = append(args, nullable(*upd.City))
	}
	if upd.Status != nil {
		fields = append(fields, "status=?")
		args = append(args, *upd.Status)
	}
	if upd.Score != nil {
		fields = append(fields, "score=?")
		args = append(args, *upd.Score)
	}
	if len(fields) == 0 {
		return nil
	}
	fields = append(fields, "updated_at=?")
	args = append(args, updatedAt, id)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE leads SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteLead(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM leads WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteLeadsWhere bulk-deletes by optional status/source filters and
// returns how many rows went away.
func (r Repo) DeleteLeadsWhere(ctx context.Context, status, source string) (int64, error) {
	clauses := []string{"1=1"}
	var args []any
	if status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, status)
	}
	if source != "" {
		clauses = append(clauses, "source=?")
		args = append(args, source)
	}
	res, err := r.DB.ExecContext(ctx, `DELETE FROM leads WHERE `+strings.Join(clauses, " AND "), args...)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

type LeadFilters struct {
	Status          string
	Source          string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListLeads(ctx context.Context, f LeadFilters) ([]domain.Lead, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Source != "" {
		clauses = append(clauses, "source=?")
		args = append(args, f.Source)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + leadColumns + ` FROM leads ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Lead
	for rows.Next() {
		l, err := scanLead(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

func (r Repo) InsertFollowUp(ctx context.Context, f domain.FollowUp) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO followups(id,lead_id,title,due_at,status,created_at) VALUES (?,?,?,?,?,?)`,
		f.ID, nullableStringPtr(f.LeadID), f.Title, nullableStringPtr(f.DueAt), f.Status, f.CreatedAt)
	return err
}

func (r Repo) ListFollowUps(ctx context.Context, leadID string) ([]domain.FollowUp, error) {
	clause := ""
	var args []any
	if leadID != "" {
		clause = "WHERE lead_id=?"
		args = append(args, leadID)
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,lead_id,title,due_at,status,created_at FROM followups `+clause+` ORDER BY created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.FollowUp
	for rows.Next() {
		var f domain.FollowUp
		var leadID, dueAt sql.NullString
		if err := rows.Scan(&f.ID, &leadID, &f.Title, &dueAt, &f.Status, &f.CreatedAt); err != nil {
			return nil, err
		}
		if leadID.Valid {
			f.LeadID = &leadID.String
		}
		if dueAt.Valid {
			f.DueAt = &dueAt.String
		}
		res = append(res, f)
	}
	return res, rows.Err()
}

func (r Repo) DeleteFollowUp(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM followups WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertEnrollment enrolls a lead into a campaign. The (lead, campaign)
// unique constraint makes repeats report created=false.
func (r Repo) InsertEnrollment(ctx context.Context, e domain.Enrollment) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT OR IGNORE INTO enrollments(id,lead_id,campaign,start_at,created_at) VALUES (?,?,?,?,?)`,
		e.ID, e.LeadID, e.Campaign, e.StartAt, e.CreatedAt)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) ListEnrollments(ctx context.Context, leadID string) ([]domain.Enrollment, error) {
	clause := ""
	var args []any
	if leadID != "" {
		clause = "WHERE lead_id=?"
		args = append(args, leadID)
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,lead_id,campaign,start_at,created_at FROM enrollments `+clause+` ORDER BY created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Enrollment
	for rows.Next() {
		var e domain.Enrollment
		if err := rows.Scan(&e.ID, &e.LeadID, &e.Campaign, &e.StartAt, &e.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events WHERE %s ORDER BY id DESC LIMIT ?`, strings.Join(clauses, " AND "))
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending
// order, for webhook delivery.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.queryEvents(ctx, `SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
}

// LatestEventID returns the most recent event ID.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
