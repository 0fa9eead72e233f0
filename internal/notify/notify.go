// Package notify forwards follow-up actions to downstream agents.
package notify

import (
	"context"
	"time"

	"github.com/hochfrequenz/factory-coordinator/internal/domain"
)

// Signal is one follow-up action for one request
type Signal struct {
	Type      domain.ActionType `json:"type"`
	RequestID string            `json:"request_id"`
	Status    domain.Status     `json:"status"`
	Target    string            `json:"target,omitempty"`
	Message   string            `json:"message,omitempty"`
	Days      int               `json:"days,omitempty"`
	Action    string            `json:"action,omitempty"`
	DelayDays int               `json:"delay_days,omitempty"`
	At        time.Time         `json:"at"`
}

// NewSignal builds the signal for action a on a request that entered status
func NewSignal(requestID string, status domain.Status, a domain.Action, at time.Time) Signal {
	return Signal{
		Type:      a.Type,
		RequestID: requestID,
		Status:    status,
		Target:    a.Target,
		Message:   a.Message,
		Days:      a.Days,
		Action:    a.Action,
		DelayDays: a.DelayDays,
		At:        at,
	}
}

// Sender is the interface for delivering signals
type Sender interface {
	Send(ctx context.Context, s Signal) error
}

// MultiSender sends to multiple senders
type MultiSender struct {
	senders []Sender
}

// NewMultiSender creates a sender that sends to all provided senders
func NewMultiSender(senders ...Sender) *MultiSender {
	return &MultiSender{senders: senders}
}

// Send sends the signal to all senders
func (m *MultiSender) Send(ctx context.Context, s Signal) error {
	var lastErr error
	for _, sender := range m.senders {
		if err := sender.Send(ctx, s); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// NoopSender drops signals; used when signals are disabled
type NoopSender struct{}

func (NoopSender) Send(ctx context.Context, s Signal) error { return nil }
