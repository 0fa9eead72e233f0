// Package workflow implements the production request status lifecycle:
// the transition table, status updates with their ledger entries, derived
// follow-up actions and the deadline sweep.
package workflow

import "github.com/hochfrequenz/factory-coordinator/internal/domain"

// Table is the status transition model. The zero value is not usable; use
// DefaultTable.
type Table struct {
	edges      map[domain.Status][]domain.Status
	escalation map[domain.Status]bool
}

// DefaultTable returns the production request lifecycle. Edges into overdue
// are not ordinary transitions: only the AUTO_SYSTEM actor may take them,
// and only from statuses still waiting on the factory's answer. A rejected
// request already has one.
func DefaultTable() *Table {
	return &Table{
		edges: map[domain.Status][]domain.Status{
			domain.StatusSubmitted:   {domain.StatusUnderReview, domain.StatusResponded, domain.StatusCancelled},
			domain.StatusUnderReview: {domain.StatusResponded, domain.StatusApproved, domain.StatusRejected, domain.StatusCancelled},
			domain.StatusResponded:   {domain.StatusApproved, domain.StatusRejected, domain.StatusUnderReview},
			domain.StatusApproved:    {domain.StatusInProgress, domain.StatusCompleted, domain.StatusCancelled},
			domain.StatusRejected:    {domain.StatusUnderReview, domain.StatusCancelled},
			domain.StatusInProgress:  {domain.StatusCompleted, domain.StatusCancelled, domain.StatusOnHold},
			domain.StatusOnHold:      {domain.StatusInProgress, domain.StatusCancelled},
			domain.StatusOverdue:     {domain.StatusUnderReview, domain.StatusResponded, domain.StatusCancelled},
			domain.StatusCompleted:   nil,
			domain.StatusCancelled:   nil,
		},
		escalation: map[domain.Status]bool{
			domain.StatusSubmitted:   true,
			domain.StatusUnderReview: true,
			domain.StatusResponded:   true,
		},
	}
}

// AllowedTargets returns the statuses reachable from from, in table order.
// Terminal and unknown statuses return an empty slice.
func (t *Table) AllowedTargets(from domain.Status) []domain.Status {
	targets := t.edges[from]
	out := make([]domain.Status, len(targets))
	copy(out, targets)
	return out
}

// IsAllowed reports whether from -> to is an edge of the table
func (t *Table) IsAllowed(from, to domain.Status) bool {
	for _, s := range t.edges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CanEscalate reports whether a request in from may be flagged overdue
func (t *Table) CanEscalate(from domain.Status) bool {
	return t.escalation[from]
}

// Permits is the check applied by status updates: a table edge, or the
// deadline escalation taken by the sweep.
func (t *Table) Permits(from, to domain.Status, actor domain.Actor) bool {
	if t.IsAllowed(from, to) {
		return true
	}
	return to == domain.StatusOverdue && actor == domain.ActorAutoSystem && t.CanEscalate(from)
}

// TargetsFor lists what actor may move a request in from to
func (t *Table) TargetsFor(from domain.Status, actor domain.Actor) []domain.Status {
	targets := t.AllowedTargets(from)
	if actor == domain.ActorAutoSystem && t.CanEscalate(from) {
		targets = append(targets, domain.StatusOverdue)
	}
	return targets
}

// TransitionRule annotates an allowed target for callers deciding how to
// present it.
type TransitionRule struct {
	ToStatus         domain.Status `json:"to_status" yaml:"to_status"`
	RequiresApproval bool          `json:"requires_approval" yaml:"requires_approval"`
	AutoAllowed      bool          `json:"auto_allowed" yaml:"auto_allowed"`
}

// Rules returns the annotated targets of from
func (t *Table) Rules(from domain.Status) []TransitionRule {
	targets := t.AllowedTargets(from)
	rules := make([]TransitionRule, 0, len(targets))
	for _, to := range targets {
		rules = append(rules, TransitionRule{
			ToStatus:         to,
			RequiresApproval: to == domain.StatusApproved || to == domain.StatusCompleted,
			AutoAllowed:      to == domain.StatusUnderReview || to == domain.StatusOverdue,
		})
	}
	return rules
}
