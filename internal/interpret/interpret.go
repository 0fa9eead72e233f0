// Package interpret turns a factory's free-text reply into a structured
// response, a confidence score and the status it implies.
package interpret

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/hochfrequenz/factory-coordinator/internal/domain"
)

// DefaultTimeout bounds each AI collaborator call
const DefaultTimeout = 20 * time.Second

// defaultConfidence is used when only the confidence call fails
const defaultConfidence = 0.5

// Extractor is the AI collaborator
type Extractor interface {
	ExtractStructuredData(ctx context.Context, text string, schema []domain.SchemaField) (json.RawMessage, error)
	EvaluateConfidence(ctx context.Context, text string, data json.RawMessage) (float64, error)
}

// Result is one interpretation of a factory reply
type Result struct {
	Data         domain.ExtractedFactoryResponse `json:"data" yaml:"data"`
	Confidence   float64                         `json:"confidence" yaml:"confidence"`
	FallbackUsed bool                            `json:"fallback_used" yaml:"fallback_used"`
	Validation   Validation                      `json:"validation" yaml:"validation"`
	ProcessedAt  time.Time                       `json:"processed_at" yaml:"processed_at"`
}

// Interpreter runs the AI path and falls back to keyword heuristics when
// the collaborator is missing or fails.
type Interpreter struct {
	ai      Extractor
	timeout time.Duration
	log     logrus.FieldLogger
	now     func() time.Time
	runs    *prometheus.CounterVec
}

// Option configures an Interpreter
type Option func(*Interpreter)

// WithTimeout bounds each AI call
func WithTimeout(d time.Duration) Option {
	return func(in *Interpreter) { in.timeout = d }
}

// WithLogger sets the logger
func WithLogger(log logrus.FieldLogger) Option {
	return func(in *Interpreter) { in.log = log }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(in *Interpreter) { in.now = now }
}

// WithRegisterer registers the interpretation counter with reg
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(in *Interpreter) {
		in.runs = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coordinator_interpretations_total",
			Help: "Factory replies interpreted, by path (ai or fallback).",
		}, []string{"path"})
		reg.MustRegister(in.runs)
	}
}

// NewInterpreter creates an Interpreter. A nil ai always takes the
// fallback path.
func NewInterpreter(ai Extractor, opts ...Option) *Interpreter {
	in := &Interpreter{
		ai:      ai,
		timeout: DefaultTimeout,
		log:     logrus.StandardLogger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Interpret reads text. It never fails: AI errors and timeouts route to the
// fallback, whose low confidence keeps automatic transitions off.
func (in *Interpreter) Interpret(ctx context.Context, text string) *Result {
	now := in.now().UTC()

	if in.ai == nil {
		return in.fallback(text, now, nil)
	}

	raw, err := in.extract(ctx, text)
	if err != nil {
		return in.fallback(text, now, err)
	}
	data, v, err := Decode(raw, now)
	if err != nil {
		return in.fallback(text, now, err)
	}

	confidence, err := in.confidence(ctx, text, raw)
	if err != nil {
		in.log.WithError(err).Warn("confidence evaluation failed, using default")
		v.warn("Confidence evaluation failed: %v", err)
		confidence = defaultConfidence
	}

	in.count("ai")
	return &Result{
		Data:        data,
		Confidence:  clamp(confidence),
		Validation:  *v,
		ProcessedAt: now,
	}
}

func (in *Interpreter) extract(ctx context.Context, text string) (json.RawMessage, error) {
	ctx, cancel := in.callCtx(ctx)
	defer cancel()
	raw, err := in.ai.ExtractStructuredData(ctx, text, domain.ResponseSchema)
	if err != nil {
		return nil, fmt.Errorf("%w: extract: %w", domain.ErrAIServiceFailure, err)
	}
	return raw, nil
}

func (in *Interpreter) confidence(ctx context.Context, text string, raw json.RawMessage) (float64, error) {
	ctx, cancel := in.callCtx(ctx)
	defer cancel()
	c, err := in.ai.EvaluateConfidence(ctx, text, raw)
	if err != nil {
		return 0, fmt.Errorf("%w: confidence: %w", domain.ErrAIServiceFailure, err)
	}
	return c, nil
}

func (in *Interpreter) fallback(text string, now time.Time, cause error) *Result {
	if cause != nil {
		in.log.WithError(cause).Warn("AI extraction failed, using keyword fallback")
	}
	data := Fallback(text)
	v := Validate(&data, now)
	in.count("fallback")
	return &Result{
		Data:         data,
		Confidence:   FallbackConfidence,
		FallbackUsed: true,
		Validation:   *v,
		ProcessedAt:  now,
	}
}

func (in *Interpreter) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if in.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, in.timeout)
}

func (in *Interpreter) count(path string) {
	if in.runs != nil {
		in.runs.WithLabelValues(path).Inc()
	}
}

func clamp(c float64) float64 {
	switch {
	case math.IsNaN(c):
		return defaultConfidence
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}

// TargetStatus maps an acceptance category to the request status it implies
func TargetStatus(a domain.AcceptanceStatus) domain.Status {
	switch domain.AcceptanceStatus(strings.ToLower(strings.TrimSpace(string(a)))) {
	case domain.AcceptanceAccepted:
		return domain.StatusApproved
	case domain.AcceptanceRejected:
		return domain.StatusRejected
	case domain.AcceptanceConditional:
		return domain.StatusUnderReview
	default:
		return domain.StatusResponded
	}
}
