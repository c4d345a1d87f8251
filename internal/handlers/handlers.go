// Package handlers implements the business-entity handlers behind the
// action dispatcher. Every handler takes only the action payload and is
// idempotent against re-invocation with the same identifying fields.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/google/uuid"

	"leadline/internal/config"
	"leadline/internal/dispatch"
	"leadline/internal/domain"
	"leadline/internal/repo"
)

type Handlers struct {
	Repo   repo.Repo
	Config *config.Config
	Now    func() time.Time
}

func New(r repo.Repo, cfg *config.Config) *Handlers {
	return &Handlers{Repo: r, Config: cfg, Now: time.Now}
}

// Register wires every handler into the registry.
func (h *Handlers) Register(reg *dispatch.Registry) {
	reg.Register("source_leads", h.SourceLeads)
	reg.Register("create_lead", h.CreateLead)
	reg.Register("update_lead", h.UpdateLead)
	reg.Register("rescore", h.Rescore)
	reg.Register("schedule_nurture", h.ScheduleNurture)
	reg.Register("create_task", h.CreateTask)
	reg.Register("delete_lead", h.DeleteLead)
	reg.Register("delete_task", h.DeleteTask)
	reg.Register("bulk_delete_leads", h.BulkDeleteLeads)
}

func (h *Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *Handlers) nowRFC3339() string {
	return h.now().UTC().Format(time.RFC3339)
}

var sampleContacts = []struct {
	name    string
	company string
}{
	{"Claire Fontaine", "Fontaine Conseil"},
	{"Marc Dubois", "Dubois et Fils"},
	{"Sophie Laurent", "Atelier Laurent"},
	{"Julien Petit", "Petit Services"},
	{"Emma Moreau", "Moreau Groupe"},
	{"Lucas Bernard", "Bernard SARL"},
	{"Lea Rousseau", "Rousseau Digital"},
	{"Hugo Lambert", "Lambert Partners"},
	{"Alice Girard", "Girard Studio"},
	{"Nathan Faure", "Faure Industrie"},
}

// SourceLeads materializes up to max_results leads for the query from the
// built-in directory stub. Emails are derived from the query, so re-running
// the same sourcing action upserts instead of duplicating.
func (h *Handlers) SourceLeads(ctx context.Context, payload map[string]any) (map[string]any, error) {
	query := stringField(payload, "query")
	max := intField(payload, "max_results")
	if max <= 0 {
		max = h.Config.Assistant.MaxLeads
	}
	if max > len(sampleContacts) {
		max = len(sampleContacts)
	}
	source := stringField(payload, "source")
	if source == "" {
		source = h.Config.Assistant.Source
	}
	if source == "" {
		source = "directory"
	}

	seed := fnv.New32a()
	seed.Write([]byte(strings.ToLower(strings.TrimSpace(query))))
	tag := seed.Sum32()

	var ids []string
	created := 0
	for i := 0; i < max; i++ {
		c := sampleContacts[i]
		slug := strings.ToLower(strings.ReplaceAll(c.name, " ", "."))
		now := h.nowRFC3339()
		lead := domain.Lead{
			ID:        uuid.NewString(),
			Email:     fmt.Sprintf("%s.%x@example.com", slug, tag),
			Name:      c.name,
			Company:   c.company,
			Source:    source,
			Status:    "new",
			CreatedAt: now,
			UpdatedAt: now,
		}
		lead.Score = scoreLead(lead)
		stored, isNew, err := h.Repo.UpsertLeadByEmail(ctx, lead)
		if err != nil {
			return nil, fmt.Errorf("source lead %s: %w", lead.Email, err)
		}
		if isNew {
			created++
		}
		ids = append(ids, stored.ID)
	}
	return map[string]any{"sourced": len(ids), "created": created, "lead_ids": ids, "source": source}, nil
}

// CreateLead upserts one lead keyed by email.
func (h *Handlers) CreateLead(ctx context.Context, payload map[string]any) (map[string]any, error) {
	email := strings.TrimSpace(strings.ToLower(stringField(payload, "email")))
	if email == "" {
		return nil, fmt.Errorf("create_lead: email is required")
	}
	now := h.nowRFC3339()
	lead := domain.Lead{
		ID:        uuid.NewString(),
		Email:     email,
		Name:      stringField(payload, "name"),
		Company:   stringField(payload, "company"),
		City:      stringField(payload, "city"),
		Source:    stringField(payload, "source"),
		Status:    "new",
		CreatedAt: now,
		UpdatedAt: now,
	}
	lead.Score = scoreLead(lead)
	stored, created, err := h.Repo.UpsertLeadByEmail(ctx, lead)
	if err != nil {
		return nil, fmt.Errorf("create lead: %w", err)
	}
	return map[string]any{"id": stored.ID, "email": stored.Email, "created": created}, nil
}

func (h *Handlers) UpdateLead(ctx context.Context, payload map[string]any) (map[string]any, error) {
	id := stringField(payload, "id")
	if id == "" {
		return nil, fmt.Errorf("update_lead: id is required")
	}
	var upd repo.LeadUpdate
	if v, ok := payload["name"].(string); ok {
		upd.Name = &v
	}
	if v, ok := payload["company"].(string); ok {
		upd.Company = &v
	}
	if v, ok := payload["city"].(string); ok {
		upd.City = &v
	}
	if v, ok := payload["status"].(string); ok {
		upd.Status = &v
	}
	if _, ok := payload["score"]; ok {
		s := intField(payload, "score")
		upd.Score = &s
	}
	if err := h.Repo.UpdateLead(ctx, id, upd, h.nowRFC3339()); err != nil {
		return nil, fmt.Errorf("update lead %s: %w", id, err)
	}
	return map[string]any{"id": id, "updated": true}, nil
}

// Rescore recomputes the score for one lead or, without an id, for every
// lead.
func (h *Handlers) Rescore(ctx context.Context, payload map[string]any) (map[string]any, error) {
	id := stringField(payload, "id")
	var leads []domain.Lead
	if id != "" {
		lead, err := h.Repo.GetLead(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("rescore %s: %w", id, err)
		}
		leads = []domain.Lead{lead}
	} else {
		all, err := h.Repo.ListLeads(ctx, repo.LeadFilters{})
		if err != nil {
			return nil, fmt.Errorf("rescore: %w", err)
		}
		leads = all
	}
	n := 0
	for _, lead := range leads {
		score := scoreLead(lead)
		if score == lead.Score {
			continue
		}
		if err := h.Repo.UpdateLead(ctx, lead.ID, repo.LeadUpdate{Score: &score}, h.nowRFC3339()); err != nil {
			return nil, fmt.Errorf("rescore %s: %w", lead.ID, err)
		}
		n++
	}
	return map[string]any{"rescored": n, "examined": len(leads)}, nil
}

// ScheduleNurture enrolls a lead into a campaign from the configured
// catalog. A repeated enrollment for the same pair reports enrolled=false.
func (h *Handlers) ScheduleNurture(ctx context.Context, payload map[string]any) (map[string]any, error) {
	leadID := stringField(payload, "lead_id")
	campaign := stringField(payload, "campaign")
	if leadID == "" || campaign == "" {
		return nil, fmt.Errorf("schedule_nurture: lead_id and campaign are required")
	}
	delayDays := 0
	if len(h.Config.Campaigns.Catalog) > 0 {
		entry, ok := h.Config.Campaigns.Catalog[campaign]
		if !ok {
			return nil, fmt.Errorf("schedule_nurture: campaign %q not in catalog", campaign)
		}
		delayDays = entry.DelayDays
	}
	if _, err := h.Repo.GetLead(ctx, leadID); err != nil {
		return nil, fmt.Errorf("schedule_nurture lead %s: %w", leadID, err)
	}
	startAt := h.now().UTC().AddDate(0, 0, delayDays).Format(time.RFC3339)
	enrolled, err := h.Repo.InsertEnrollment(ctx, domain.Enrollment{
		ID:        uuid.NewString(),
		LeadID:    leadID,
		Campaign:  campaign,
		StartAt:   startAt,
		CreatedAt: h.nowRFC3339(),
	})
	if err != nil {
		return nil, fmt.Errorf("schedule_nurture: %w", err)
	}
	return map[string]any{"lead_id": leadID, "campaign": campaign, "start_at": startAt, "enrolled": enrolled}, nil
}

func (h *Handlers) CreateTask(ctx context.Context, payload map[string]any) (map[string]any, error) {
	title := stringField(payload, "title")
	if title == "" {
		return nil, fmt.Errorf("create_task: title is required")
	}
	f := domain.FollowUp{
		ID:        uuid.NewString(),
		Title:     title,
		Status:    "open",
		CreatedAt: h.nowRFC3339(),
	}
	if v := stringField(payload, "lead_id"); v != "" {
		if _, err := h.Repo.GetLead(ctx, v); err != nil {
			return nil, fmt.Errorf("create_task lead %s: %w", v, err)
		}
		f.LeadID = &v
	}
	if v := stringField(payload, "due_at"); v != "" {
		if _, err := time.Parse(time.RFC3339, v); err != nil {
			return nil, fmt.Errorf("create_task: due_at must be RFC3339: %w", err)
		}
		f.DueAt = &v
	}
	if err := h.Repo.InsertFollowUp(ctx, f); err != nil {
		return nil, fmt.Errorf("create_task: %w", err)
	}
	return map[string]any{"id": f.ID, "title": f.Title}, nil
}

// DeleteLead removes one lead. A missing id reports deleted=false so a
// confirmed retry of an already-applied delete stays a no-op.
func (h *Handlers) DeleteLead(ctx context.Context, payload map[string]any) (map[string]any, error) {
	id := stringField(payload, "id")
	if id == "" {
		return nil, fmt.Errorf("delete_lead: id is required")
	}
	err := h.Repo.DeleteLead(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return map[string]any{"id": id, "deleted": false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("delete lead %s: %w", id, err)
	}
	return map[string]any{"id": id, "deleted": true}, nil
}

func (h *Handlers) DeleteTask(ctx context.Context, payload map[string]any) (map[string]any, error) {
	id := stringField(payload, "id")
	if id == "" {
		return nil, fmt.Errorf("delete_task: id is required")
	}
	err := h.Repo.DeleteFollowUp(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return map[string]any{"id": id, "deleted": false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("delete task %s: %w", id, err)
	}
	return map[string]any{"id": id, "deleted": true}, nil
}

func (h *Handlers) BulkDeleteLeads(ctx context.Context, payload map[string]any) (map[string]any, error) {
	status := stringField(payload, "status")
	source := stringField(payload, "source")
	if status == "" && source == "" {
		return nil, fmt.Errorf("bulk_delete_leads: status or source filter is required")
	}
	n, err := h.Repo.DeleteLeadsWhere(ctx, status, source)
	if err != nil {
		return nil, fmt.Errorf("bulk delete leads: %w", err)
	}
	return map[string]any{"deleted": n}, nil
}

// scoreLead is a fixed heuristic over profile completeness.
func scoreLead(l domain.Lead) int {
	score := 10
	if l.Name != "" {
		score += 20
	}
	if l.Company != "" {
		score += 25
	}
	if l.City != "" {
		score += 10
	}
	if at := strings.Index(l.Email, "@"); at > 0 {
		domainPart := l.Email[at+1:]
		switch domainPart {
		case "gmail.com", "yahoo.com", "hotmail.com", "outlook.com":
		default:
			score += 25
		}
	}
	if score > 100 {
		score = 100
	}
	return score
}

func stringField(payload map[string]any, key string) string {
	if v, ok := payload[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func intField(payload map[string]any, key string) int {
	switch v := payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		var n int
		if _, err := fmt.Sscanf(strings.TrimSpace(v), "%d", &n); err == nil {
			return n
		}
	}
	return 0
}
