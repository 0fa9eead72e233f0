package notify

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hochfrequenz/factory-coordinator/internal/workflow"
)

// Dispatcher sends the next actions of each status change in the
// background. Delivery failures are logged and never reach the caller.
type Dispatcher struct {
	sender  Sender
	log     logrus.FieldLogger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewDispatcher creates a Dispatcher. Each send is bounded by timeout; a nil
// sender drops every signal.
func NewDispatcher(sender Sender, log logrus.FieldLogger, timeout time.Duration) *Dispatcher {
	if sender == nil {
		sender = NoopSender{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{sender: sender, log: log, timeout: timeout}
}

// Observe dispatches res.NextActions without blocking
func (d *Dispatcher) Observe(res *workflow.Result) {
	for _, a := range res.NextActions {
		sig := NewSignal(res.RequestID, res.NewStatus, a, res.UpdatedAt)
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			defer cancel()
			if err := d.sender.Send(ctx, sig); err != nil {
				d.log.WithError(err).WithFields(logrus.Fields{
					"request_id": sig.RequestID,
					"type":       sig.Type,
				}).Warn("failed to deliver signal")
			}
		}()
	}
}

// Wait blocks until in-flight sends finish
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
