package domain

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New()

// ProductionRequest is a production-adjustment ask directed at a factory.
// JSON names are the persisted field names shared with the UI and reports.
type ProductionRequest struct {
	RequestID         string         `json:"request_id" yaml:"request_id"`
	RequesterID       string         `json:"requester_id,omitempty" yaml:"requester_id,omitempty"`
	FactoryID         string         `json:"factory_id" yaml:"factory_id" validate:"required"`
	ProductID         string         `json:"product_id" yaml:"product_id" validate:"required"`
	RequestedQuantity int            `json:"requested_quantity" yaml:"requested_quantity" validate:"gt=0"`
	CurrentQuantity   int            `json:"current_quantity,omitempty" yaml:"current_quantity,omitempty" validate:"gte=0"`
	AdjustmentType    AdjustmentType `json:"adjustment_type" yaml:"adjustment_type" validate:"oneof=increase decrease"`
	Priority          Priority       `json:"priority" yaml:"priority" validate:"oneof=high medium low"`
	ResponseDeadline  time.Time      `json:"response_deadline" yaml:"response_deadline"`
	DeliveryDeadline  time.Time      `json:"delivery_deadline" yaml:"delivery_deadline"`
	Reason            string         `json:"reason,omitempty" yaml:"reason,omitempty"`
	Status            Status         `json:"status" yaml:"status"`
	StatusMemo        string         `json:"status_memo" yaml:"status_memo"`
	RevisionCount     int            `json:"revision_count" yaml:"revision_count" validate:"gte=0"`
	CreatedAt         time.Time      `json:"created_at" yaml:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at" yaml:"updated_at"`
}

// Validate checks the request's attributes before it is persisted
func (r *ProductionRequest) Validate() error {
	var problems []string

	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		for _, fe := range verrs {
			problems = append(problems, fmt.Sprintf("%s failed %q (got %v)", fe.Field(), fe.Tag(), fe.Value()))
		}
	}
	if r.ResponseDeadline.IsZero() {
		problems = append(problems, "ResponseDeadline is required")
	}
	if r.DeliveryDeadline.IsZero() {
		problems = append(problems, "DeliveryDeadline is required")
	}
	if r.Status != "" && !r.Status.Valid() {
		problems = append(problems, fmt.Sprintf("Status %q is not a known status", r.Status))
	}
	if !r.CreatedAt.IsZero() && r.UpdatedAt.Before(r.CreatedAt) {
		problems = append(problems, "UpdatedAt precedes CreatedAt")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}

// StatusHistoryEntry is one immutable ledger record of a status change.
// PreviousStatus is nil only for the initial submission entry.
type StatusHistoryEntry struct {
	HistoryID      string    `json:"history_id" yaml:"history_id"`
	RequestID      string    `json:"request_id" yaml:"request_id"`
	PreviousStatus *Status   `json:"previous_status" yaml:"previous_status"`
	NewStatus      Status    `json:"new_status" yaml:"new_status"`
	ChangedBy      Actor     `json:"changed_by" yaml:"changed_by"`
	ChangeReason   string    `json:"change_reason" yaml:"change_reason"`
	ChangedAt      time.Time `json:"changed_at" yaml:"changed_at"`
}

// RequestFilter narrows request listings; empty fields match everything
type RequestFilter struct {
	Statuses  []Status
	FactoryID string
}

// Matches reports whether r passes the filter
func (f RequestFilter) Matches(r *ProductionRequest) bool {
	if f.FactoryID != "" && r.FactoryID != f.FactoryID {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if r.Status == s {
			return true
		}
	}
	return false
}

// Transition is a validated status change ready to be written: the request
// update and its ledger entry, applied together or not at all.
type Transition struct {
	RequestID string
	From      Status
	To        Status
	Memo      string
	At        time.Time
	Entry     *StatusHistoryEntry
}

// NewRequestID returns a fresh request id such as "REQ0192F3A1..."
func NewRequestID() string {
	return "REQ" + orderedHex()
}

// NewHistoryID returns a fresh ledger id; ids sort in creation order
func NewHistoryID() string {
	return "HIST" + orderedHex()
}

func orderedHex() string {
	id := uuid.Must(uuid.NewV7())
	return strings.ToUpper(hex.EncodeToString(id[:]))
}
