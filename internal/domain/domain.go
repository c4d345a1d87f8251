package domain

// Run is one persisted invocation of the assistant orchestrator.
type Run struct {
	ID         string    `json:"id"`
	Prompt     string    `json:"prompt"`
	Status     string    `json:"status" enum:"pending,running,completed,completed_with_errors,failed"`
	ActorID    string    `json:"actor_id"`
	Summary    string    `json:"summary,omitempty"`
	Config     RunConfig `json:"config"`
	CreatedAt  string    `json:"created_at" format:"date-time"`
	FinishedAt *string   `json:"finished_at,omitempty" format:"date-time"`
}

// RunConfig is the snapshot of invocation options stored with a run.
type RunConfig struct {
	MaxLeads    int    `json:"max_leads"`
	Source      string `json:"source,omitempty"`
	AutoConfirm bool   `json:"auto_confirm"`
}

// Action is one independently tracked step of a Run. RequiresConfirm holds
// the post-classification value and never changes after insert.
type Action struct {
	ID              string         `json:"id"`
	RunID           string         `json:"run_id"`
	Position        int            `json:"position"`
	ActionType      string         `json:"action_type"`
	EntityType      *string        `json:"entity_type,omitempty"`
	Payload         map[string]any `json:"payload"`
	RequiresConfirm bool           `json:"requires_confirm"`
	Status          string         `json:"status" enum:"pending,confirmed,executed,failed,rejected"`
	Result          map[string]any `json:"result,omitempty"`
	CreatedAt       string         `json:"created_at" format:"date-time"`
	ExecutedAt      *string        `json:"executed_at,omitempty" format:"date-time"`
}

type Lead struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
	Company   string `json:"company,omitempty"`
	City      string `json:"city,omitempty"`
	Source    string `json:"source,omitempty"`
	Score     int    `json:"score"`
	Status    string `json:"status" enum:"new,contacted,qualified,archived"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

// FollowUp is a small CRM task attached to a lead, created by the
// create_task handler.
type FollowUp struct {
	ID        string  `json:"id"`
	LeadID    *string `json:"lead_id,omitempty"`
	Title     string  `json:"title"`
	DueAt     *string `json:"due_at,omitempty" format:"date-time"`
	Status    string  `json:"status" enum:"open,done,canceled"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

// Enrollment records a lead scheduled into a nurture campaign. One
// enrollment per (lead, campaign) pair.
type Enrollment struct {
	ID        string `json:"id"`
	LeadID    string `json:"lead_id"`
	Campaign  string `json:"campaign"`
	StartAt   string `json:"start_at" format:"date-time"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Event is one row of the append-only audit log.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
