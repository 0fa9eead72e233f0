package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidTransition  = errors.New("invalid transition")
	ErrConflict           = errors.New("conflict")
	ErrValidation         = errors.New("validation error")
	ErrAIServiceFailure   = errors.New("ai service failure")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// TransitionError describes a rejected status change. Conflict is set when
// the change was validated against a status that stopped being current
// before it could be written.
type TransitionError struct {
	RequestID string
	From      Status
	To        Status
	Allowed   []Status
	Conflict  bool
}

func (e *TransitionError) Error() string {
	allowed := make([]string, len(e.Allowed))
	for i, s := range e.Allowed {
		allowed[i] = string(s)
	}
	valid := "none"
	if len(allowed) > 0 {
		valid = strings.Join(allowed, ", ")
	}
	if e.Conflict {
		return fmt.Sprintf("conflicting update on %s: status is now %q, cannot move to %q (valid transitions: %s)",
			e.RequestID, e.From, e.To, valid)
	}
	return fmt.Sprintf("invalid status transition: %s -> %s (valid transitions: %s)", e.From, e.To, valid)
}

// Is matches ErrInvalidTransition, and ErrConflict for lost races
func (e *TransitionError) Is(target error) bool {
	if target == ErrInvalidTransition {
		return true
	}
	return e.Conflict && target == ErrConflict
}

// Kind maps an error onto the taxonomy reported to callers
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrAIServiceFailure):
		return "ai_service_failure"
	case errors.Is(err, ErrStorageUnavailable):
		return "storage_unavailable"
	default:
		return "internal"
	}
}
