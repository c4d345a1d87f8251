// Package safety decides which planned actions may run without a human in
// the loop. The safe and dangerous sets are fixed at compile time on
// purpose: no configuration or plan content can widen the safe set.
package safety

import "leadline/internal/planner"

var safeTypes = map[string]bool{
	"source_leads":     true,
	"create_lead":      true,
	"update_lead":      true,
	"rescore":          true,
	"schedule_nurture": true,
	"create_task":      true,
}

var dangerousTypes = map[string]bool{
	"delete_lead":       true,
	"delete_task":       true,
	"bulk_delete_leads": true,
}

// Dangerous reports whether an action type always requires confirmation,
// regardless of the auto-confirm flag.
func Dangerous(actionType string) bool {
	return dangerousTypes[actionType]
}

// Known reports whether the action type belongs to either classification
// set.
func Known(actionType string) bool {
	return safeTypes[actionType] || dangerousTypes[actionType]
}

// Classified pairs a planned action with its confirmation requirement.
type Classified struct {
	Spec            planner.ActionSpec
	RequiresConfirm bool
}

// Classify walks the plan in order and marks each action. Dangerous types
// always require confirmation no matter what the plan suggested. Without
// autoConfirm everything requires confirmation. With autoConfirm the
// plan's own suggestion stands, including for types the classifier has
// never seen.
func Classify(specs []planner.ActionSpec, autoConfirm bool) []Classified {
	out := make([]Classified, 0, len(specs))
	for _, s := range specs {
		requires := s.RequiresConfirm
		switch {
		case dangerousTypes[s.Type]:
			requires = true
		case !autoConfirm:
			requires = true
		}
		out = append(out, Classified{Spec: s, RequiresConfirm: requires})
	}
	return out
}
