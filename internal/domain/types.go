package domain

import (
	"fmt"
	"strings"
)

// Status represents the lifecycle state of a production request
type Status string

const (
	StatusSubmitted   Status = "submitted"
	StatusUnderReview Status = "under_review"
	StatusResponded   Status = "responded"
	StatusApproved    Status = "approved"
	StatusRejected    Status = "rejected"
	StatusInProgress  Status = "in_progress"
	StatusOnHold      Status = "on_hold"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
	StatusOverdue     Status = "overdue"
)

// AllStatuses lists every status in lifecycle order
var AllStatuses = []Status{
	StatusSubmitted,
	StatusUnderReview,
	StatusResponded,
	StatusApproved,
	StatusRejected,
	StatusInProgress,
	StatusOnHold,
	StatusCompleted,
	StatusCancelled,
	StatusOverdue,
}

// Valid reports whether s is a member of the status enum
func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal returns true for statuses that admit no further transitions
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// ParseStatus parses a status name, case-insensitively
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrValidation, s)
	}
	return st, nil
}

// Priority represents request priority
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank orders priorities for processing, high first
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

// AdjustmentType is the direction of a production adjustment
type AdjustmentType string

const (
	AdjustmentIncrease AdjustmentType = "increase"
	AdjustmentDecrease AdjustmentType = "decrease"
)

// AcceptanceStatus is the factory's stance extracted from a response
type AcceptanceStatus string

const (
	AcceptanceAccepted    AcceptanceStatus = "accepted"
	AcceptanceRejected    AcceptanceStatus = "rejected"
	AcceptanceConditional AcceptanceStatus = "conditional"
	AcceptanceUnknown     AcceptanceStatus = "unknown"
)

// Known reports whether a is one of accepted, rejected or conditional
func (a AcceptanceStatus) Known() bool {
	switch AcceptanceStatus(strings.ToLower(string(a))) {
	case AcceptanceAccepted, AcceptanceRejected, AcceptanceConditional:
		return true
	}
	return false
}
