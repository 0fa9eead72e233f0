package workflow

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hochfrequenz/factory-coordinator/internal/domain"
)

// OverdueReason is the ledger reason recorded for deadline escalations
const OverdueReason = "Response deadline exceeded"

// Progression records one request the sweep moved
type Progression struct {
	RequestID  string        `json:"request_id" yaml:"request_id"`
	FromStatus domain.Status `json:"from_status" yaml:"from_status"`
	ToStatus   domain.Status `json:"to_status" yaml:"to_status"`
	Reason     string        `json:"reason" yaml:"reason"`
}

// CompletionCandidate is an in-progress request past its delivery deadline.
// Completion still needs confirmation from whoever can see the shipment.
type CompletionCandidate struct {
	RequestID        string    `json:"request_id" yaml:"request_id"`
	DeliveryDeadline time.Time `json:"delivery_deadline" yaml:"delivery_deadline"`
}

// SweepFailure is a request the sweep could not update
type SweepFailure struct {
	RequestID string `json:"request_id" yaml:"request_id"`
	Kind      string `json:"kind" yaml:"kind"`
	Error     string `json:"error" yaml:"error"`
}

// SweepReport summarizes one sweep run
type SweepReport struct {
	ProcessedCount       int                   `json:"processed_count" yaml:"processed_count"`
	ProgressedCount      int                   `json:"progressed_count" yaml:"progressed_count"`
	Progressed           []Progression         `json:"progressed_requests" yaml:"progressed_requests"`
	CompletionCandidates []CompletionCandidate `json:"completion_candidates" yaml:"completion_candidates"`
	Skipped              []string              `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Failures             []SweepFailure        `json:"failures,omitempty" yaml:"failures,omitempty"`
	Timestamp            time.Time             `json:"timestamp" yaml:"timestamp"`
}

// Sweep scans every open request once. Requests past their response
// deadline are moved to overdue; in-progress requests past their delivery
// deadline are only surfaced. One request failing never stops the run, and a
// second run with the same now and no other changes progresses nothing.
//
// An error is returned only when the request list cannot be read, or when
// ctx ends mid-run; in the latter case the partial report is returned too.
func (e *Engine) Sweep(ctx context.Context, now time.Time) (*SweepReport, error) {
	report := &SweepReport{
		Progressed:           []Progression{},
		CompletionCandidates: []CompletionCandidate{},
		Timestamp:            now.UTC(),
	}

	requests, err := e.List(ctx, domain.RequestFilter{})
	if err != nil {
		return nil, fmt.Errorf("sweep: %w", err)
	}
	report.ProcessedCount = len(requests)
	sortForSweep(requests)

	for _, req := range requests {
		if err := ctx.Err(); err != nil {
			e.finishSweep(report)
			return report, err
		}
		if req.Status.IsTerminal() {
			continue
		}
		log := e.log.WithFields(logrus.Fields{"request_id": req.RequestID, "status": req.Status})

		if !req.ResponseDeadline.IsZero() && req.ResponseDeadline.Before(now) && req.Status != domain.StatusOverdue {
			if !e.table.CanEscalate(req.Status) {
				report.Skipped = append(report.Skipped, req.RequestID)
			} else {
				res, err := e.UpdateStatus(ctx, req.RequestID, domain.StatusOverdue, domain.ActorAutoSystem, OverdueReason)
				if err != nil {
					log.WithError(err).Warn("sweep could not mark request overdue")
					report.Failures = append(report.Failures, SweepFailure{
						RequestID: req.RequestID,
						Kind:      domain.Kind(err),
						Error:     err.Error(),
					})
				} else {
					report.Progressed = append(report.Progressed, Progression{
						RequestID:  req.RequestID,
						FromStatus: res.PreviousStatus,
						ToStatus:   res.NewStatus,
						Reason:     OverdueReason,
					})
				}
			}
		}

		if req.Status == domain.StatusInProgress && !req.DeliveryDeadline.IsZero() && req.DeliveryDeadline.Before(now) {
			log.WithField("delivery_deadline", req.DeliveryDeadline).
				Info("request may be ready for completion (past delivery deadline)")
			report.CompletionCandidates = append(report.CompletionCandidates, CompletionCandidate{
				RequestID:        req.RequestID,
				DeliveryDeadline: req.DeliveryDeadline,
			})
		}
	}

	e.finishSweep(report)
	return report, nil
}

func (e *Engine) finishSweep(report *SweepReport) {
	report.ProgressedCount = len(report.Progressed)
	e.metrics.sweep(report)
	e.log.WithFields(logrus.Fields{
		"processed":  report.ProcessedCount,
		"progressed": report.ProgressedCount,
		"candidates": len(report.CompletionCandidates),
		"failures":   len(report.Failures),
	}).Info("sweep finished")
}

// sortForSweep visits high priority first, then the earliest deadline
func sortForSweep(reqs []*domain.ProductionRequest) {
	sort.SliceStable(reqs, func(i, j int) bool {
		pi, pj := reqs[i].Priority.Rank(), reqs[j].Priority.Rank()
		if pi != pj {
			return pi < pj
		}
		return reqs[i].ResponseDeadline.Before(reqs[j].ResponseDeadline)
	})
}
