package server

import (
	"fmt"
	"strings"

	"leadline/internal/domain"
)

type StartRunRequest struct {
	Prompt      string `json:"prompt" example:"Trouve 5 leads dentistes à Lyon"`
	MaxLeads    int    `json:"max_leads,omitempty" minimum:"0"`
	Source      string `json:"source,omitempty"`
	AutoConfirm *bool  `json:"auto_confirm,omitempty"`
}

type ConfirmRequest struct {
	ActionIDs []string `json:"action_ids"`
	Approve   bool     `json:"approve"`
}

type ConfirmResponse struct {
	Approved bool              `json:"approved,omitempty"`
	Results  map[string]string `json:"results,omitempty"`
	Rejected bool              `json:"rejected,omitempty"`
	Count    int               `json:"count,omitempty"`
}

type RunResponse struct {
	Run     domain.Run      `json:"run"`
	Actions []domain.Action `json:"actions,omitempty"`
}

type paginatedRuns struct {
	Items      []domain.Run `json:"items"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

type paginatedLeads struct {
	Items      []domain.Lead `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

func nonNilRuns(in []domain.Run) []domain.Run {
	if in == nil {
		return []domain.Run{}
	}
	return in
}

func nonNilActions(in []domain.Action) []domain.Action {
	if in == nil {
		return []domain.Action{}
	}
	return in
}

func nonNilLeads(in []domain.Lead) []domain.Lead {
	if in == nil {
		return []domain.Lead{}
	}
	return in
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cursor")
	}
	return parts[0], parts[1], nil
}

func composeCursor(ts, id string) string {
	if ts == "" || id == "" {
		return ""
	}
	return ts + "|" + id
}
