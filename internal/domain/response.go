package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExtractedFactoryResponse is the structured reading of a factory's
// free-text reply. It is transient and never persisted by the engine.
type ExtractedFactoryResponse struct {
	RequestID         string           `json:"request_id,omitempty" yaml:"request_id,omitempty"`
	AcceptanceStatus  AcceptanceStatus `json:"acceptance_status" yaml:"acceptance_status"`
	AvailableQuantity *float64         `json:"available_quantity,omitempty" yaml:"available_quantity,omitempty"`
	AvailableDate     string           `json:"available_date,omitempty" yaml:"available_date,omitempty"`
	AvailableOn       *time.Time       `json:"-" yaml:"-"`
	AdditionalCost    *decimal.Decimal `json:"additional_cost,omitempty" yaml:"additional_cost,omitempty"`
	Comments          string           `json:"comments,omitempty" yaml:"comments,omitempty"`
	Conditions        string           `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// SchemaField describes one field the AI collaborator is asked to extract
type SchemaField struct {
	Name        string
	Type        string
	Description string
}

// ResponseSchema is the fixed extraction schema for factory responses
var ResponseSchema = []SchemaField{
	{Name: "request_id", Type: "string", Description: "production request id, e.g. REQ123"},
	{Name: "acceptance_status", Type: "string", Description: "one of accepted, rejected, conditional"},
	{Name: "available_quantity", Type: "number", Description: "quantity the factory can supply"},
	{Name: "available_date", Type: "string", Description: "date the quantity is available, YYYY-MM-DD"},
	{Name: "additional_cost", Type: "number", Description: "extra cost quoted by the factory"},
	{Name: "comments", Type: "string", Description: "free-form remarks"},
	{Name: "conditions", Type: "string", Description: "conditions attached to the answer"},
}

// ActionType tags a follow-up signal
type ActionType string

const (
	ActionNotification     ActionType = "notification"
	ActionScheduleFollowup ActionType = "schedule_followup"
	ActionEscalation       ActionType = "escalation"
	ActionArchive          ActionType = "archive"
)

// Action is an advisory follow-up for external collaborators to act on
type Action struct {
	Type      ActionType `json:"type" yaml:"type"`
	Target    string     `json:"target,omitempty" yaml:"target,omitempty"`
	Message   string     `json:"message,omitempty" yaml:"message,omitempty"`
	Days      int        `json:"days,omitempty" yaml:"days,omitempty"`
	Action    string     `json:"action,omitempty" yaml:"action,omitempty"`
	DelayDays int        `json:"delay_days,omitempty" yaml:"delay_days,omitempty"`
}
