package notify

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/hochfrequenz/factory-coordinator/internal/domain"
)

// LogSender writes signals to the log. It is the local sink used when no
// webhook is configured.
type LogSender struct {
	log logrus.FieldLogger
}

// NewLogSender creates a LogSender
func NewLogSender(log logrus.FieldLogger) *LogSender {
	return &LogSender{log: log}
}

// Send logs the signal
func (l *LogSender) Send(ctx context.Context, s Signal) error {
	entry := l.log.WithFields(logrus.Fields{
		"request_id": s.RequestID,
		"type":       s.Type,
		"status":     s.Status,
	})
	if s.Target != "" {
		entry = entry.WithField("target", s.Target)
	}
	if s.Days > 0 {
		entry = entry.WithField("days", s.Days)
	}
	if s.DelayDays > 0 {
		entry = entry.WithField("delay_days", s.DelayDays)
	}
	msg := s.Message
	if msg == "" {
		msg = string(s.Type)
	}
	if s.Type == domain.ActionEscalation {
		entry.Warn(msg)
		return nil
	}
	entry.Info(msg)
	return nil
}
