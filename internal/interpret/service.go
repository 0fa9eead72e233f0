package interpret

import (
	"context"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/hochfrequenz/factory-coordinator/internal/domain"
	"github.com/hochfrequenz/factory-coordinator/internal/workflow"
)

// ApplyThreshold is the confidence a reading must exceed before its status
// is applied without a human.
const ApplyThreshold = 0.7

// Updater applies status changes
type Updater interface {
	UpdateStatus(ctx context.Context, requestID string, newStatus domain.Status, changedBy domain.Actor, reason string) (*workflow.Result, error)
}

// Outcome is what Process did with a factory reply
type Outcome struct {
	RequestID      string           `json:"request_id,omitempty" yaml:"request_id,omitempty"`
	Interpretation *Result          `json:"interpretation" yaml:"interpretation"`
	TargetStatus   domain.Status    `json:"target_status" yaml:"target_status"`
	Applied        bool             `json:"applied" yaml:"applied"`
	ManualReview   bool             `json:"manual_review" yaml:"manual_review"`
	Update         *workflow.Result `json:"update,omitempty" yaml:"update,omitempty"`
}

// Service interprets replies and applies confident ones
type Service struct {
	interp  *Interpreter
	updater Updater
	log     logrus.FieldLogger
}

// NewService creates a Service. A nil log uses the standard logger.
func NewService(interp *Interpreter, updater Updater, log logrus.FieldLogger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{interp: interp, updater: updater, log: log}
}

// Process interprets text for requestID. When requestID is empty the id
// found in the text is used. The status change is applied only when the
// confidence exceeds ApplyThreshold; otherwise the outcome is flagged for
// manual review. Errors come only from the status update itself.
func (s *Service) Process(ctx context.Context, requestID, text string) (*Outcome, error) {
	res := s.interp.Interpret(ctx, text)

	out := &Outcome{
		RequestID:      requestID,
		Interpretation: res,
		TargetStatus:   TargetStatus(res.Data.AcceptanceStatus),
	}
	if out.RequestID == "" {
		out.RequestID = res.Data.RequestID
	}

	log := s.log.WithFields(logrus.Fields{
		"request_id": out.RequestID,
		"confidence": res.Confidence,
		"fallback":   res.FallbackUsed,
		"target":     out.TargetStatus,
	})

	if out.RequestID == "" || res.Confidence <= ApplyThreshold {
		out.ManualReview = true
		log.Info("factory response needs manual review")
		return out, nil
	}

	reason := fmt.Sprintf("Factory response processed with %d%% confidence", int(math.Round(res.Confidence*100)))
	update, err := s.updater.UpdateStatus(ctx, out.RequestID, out.TargetStatus, domain.ActorAIAgent, reason)
	if err != nil {
		out.ManualReview = true
		return out, fmt.Errorf("apply factory response to %s: %w", out.RequestID, err)
	}

	out.Applied = true
	out.Update = update
	log.Info("factory response applied")
	return out, nil
}
