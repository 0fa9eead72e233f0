package interpret

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hochfrequenz/factory-coordinator/internal/domain"
	"github.com/hochfrequenz/factory-coordinator/internal/store"
	"github.com/hochfrequenz/factory-coordinator/internal/workflow"
)

var now = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeAI struct {
	raw        string
	extractErr error
	confidence float64
	confErr    error
	block      bool
	gotSchema  []domain.SchemaField
}

func (f *fakeAI) ExtractStructuredData(ctx context.Context, text string, schema []domain.SchemaField) (json.RawMessage, error) {
	f.gotSchema = schema
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.extractErr != nil {
		return nil, f.extractErr
	}
	return json.RawMessage(f.raw), nil
}

func (f *fakeAI) EvaluateConfidence(ctx context.Context, text string, data json.RawMessage) (float64, error) {
	if f.confErr != nil {
		return 0, f.confErr
	}
	return f.confidence, nil
}

func newInterpreter(ai Extractor, opts ...Option) *Interpreter {
	logger, _ := logtest.NewNullLogger()
	all := append([]Option{WithLogger(logger), WithClock(func() time.Time { return now })}, opts...)
	return NewInterpreter(ai, all...)
}

func TestInterpret_AIPath(t *testing.T) {
	ai := &fakeAI{
		raw: `{"request_id":"REQ123","acceptance_status":"accepted","available_quantity":500,
			"available_date":"2025-03-15","additional_cost":"1250.50","comments":"fine","conditions":""}`,
		confidence: 0.92,
	}
	res := newInterpreter(ai).Interpret(context.Background(), "We accept REQ123")

	assert.False(t, res.FallbackUsed)
	assert.Equal(t, 0.92, res.Confidence)
	assert.Equal(t, "REQ123", res.Data.RequestID)
	assert.Equal(t, domain.AcceptanceAccepted, res.Data.AcceptanceStatus)
	require.NotNil(t, res.Data.AvailableQuantity)
	assert.Equal(t, 500.0, *res.Data.AvailableQuantity)
	require.NotNil(t, res.Data.AdditionalCost)
	assert.Equal(t, "1250.5", res.Data.AdditionalCost.String())
	require.NotNil(t, res.Data.AvailableOn)
	assert.Equal(t, time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC), *res.Data.AvailableOn)
	assert.True(t, res.Validation.Valid())
	assert.Empty(t, res.Validation.Warnings)
	assert.Equal(t, domain.ResponseSchema, ai.gotSchema)
}

func TestInterpret_ValidationFindings(t *testing.T) {
	ai := &fakeAI{
		raw:        `{"acceptance_status":"maybe","available_quantity":-5,"additional_cost":-1,"available_date":"someday soonish"}`,
		confidence: 0.8,
	}
	res := newInterpreter(ai).Interpret(context.Background(), "text")

	assert.False(t, res.FallbackUsed)
	assert.Equal(t, []string{"Request ID is missing"}, res.Validation.Errors)
	assert.Contains(t, res.Validation.Warnings, "Unusual acceptance status: maybe")
	assert.Contains(t, res.Validation.Warnings, "Available quantity should be a positive number")
	assert.Contains(t, res.Validation.Warnings, "Additional cost should be a positive number")
	assert.Contains(t, res.Validation.Warnings, "Available date format may be invalid")
	assert.Equal(t, domain.AcceptanceStatus("maybe"), res.Data.AcceptanceStatus)
}

func TestInterpret_MissingAcceptance(t *testing.T) {
	ai := &fakeAI{raw: `{"request_id":"REQ9","available_quantity":"lots"}`, confidence: 0.9}
	res := newInterpreter(ai).Interpret(context.Background(), "text")

	assert.Equal(t, []string{"Acceptance status is missing"}, res.Validation.Errors)
	assert.Nil(t, res.Data.AvailableQuantity)
	assert.Contains(t, res.Validation.Warnings, "Available quantity should be a positive number")
}

func TestInterpret_FallbackOnAIError(t *testing.T) {
	for _, text := range []string{"We accept the revised volume for REQ7F3", "本件は承認します。依頼番号: REQ7F3"} {
		t.Run(text, func(t *testing.T) {
			reg := prometheus.NewRegistry()
			in := newInterpreter(&fakeAI{extractErr: errors.New("503 from upstream")}, WithRegisterer(reg))
			res := in.Interpret(context.Background(), text)

			assert.True(t, res.FallbackUsed)
			assert.Equal(t, 0.3, res.Confidence)
			assert.Equal(t, domain.AcceptanceAccepted, res.Data.AcceptanceStatus)
			assert.Equal(t, "REQ7F3", res.Data.RequestID)
			assert.Equal(t, text, res.Data.Comments)
			assert.Equal(t, 1.0, testutil.ToFloat64(in.runs.WithLabelValues("fallback")))
		})
	}
}

func TestInterpret_FallbackOnMalformedJSON(t *testing.T) {
	res := newInterpreter(&fakeAI{raw: "Sure! Here is the data:", confidence: 0.9}).Interpret(context.Background(), "NG, cannot do it")

	assert.True(t, res.FallbackUsed)
	assert.Equal(t, domain.AcceptanceRejected, res.Data.AcceptanceStatus)
}

func TestInterpret_FallbackOnTimeout(t *testing.T) {
	in := newInterpreter(&fakeAI{block: true}, WithTimeout(10*time.Millisecond))
	res := in.Interpret(context.Background(), "条件付きで対応可能です")

	assert.True(t, res.FallbackUsed)
	assert.Equal(t, domain.AcceptanceConditional, res.Data.AcceptanceStatus)
}

func TestInterpret_NoCollaborator(t *testing.T) {
	res := newInterpreter(nil).Interpret(context.Background(), "accept")
	assert.True(t, res.FallbackUsed)
	assert.Equal(t, FallbackConfidence, res.Confidence)
}

func TestInterpret_ConfidenceFailure(t *testing.T) {
	ai := &fakeAI{raw: `{"request_id":"REQ1","acceptance_status":"accepted"}`, confErr: errors.New("timeout")}
	res := newInterpreter(ai).Interpret(context.Background(), "ok")

	assert.False(t, res.FallbackUsed)
	assert.Equal(t, 0.5, res.Confidence)
	assert.Len(t, res.Validation.Warnings, 1)
}

func TestInterpret_ConfidenceClamped(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{1.7, 1},
		{-0.2, 0},
		{math.NaN(), 0.5},
		{0.42, 0.42},
	}
	for _, tt := range tests {
		ai := &fakeAI{raw: `{"request_id":"REQ1","acceptance_status":"accepted"}`, confidence: tt.in}
		res := newInterpreter(ai).Interpret(context.Background(), "ok")
		assert.Equal(t, tt.want, res.Confidence, "confidence %v", tt.in)
	}
}

func TestTargetStatus(t *testing.T) {
	tests := map[domain.AcceptanceStatus]domain.Status{
		"accepted":    domain.StatusApproved,
		"ACCEPTED":    domain.StatusApproved,
		"rejected":    domain.StatusRejected,
		"conditional": domain.StatusUnderReview,
		"unknown":     domain.StatusResponded,
		"":            domain.StatusResponded,
		"partially":   domain.StatusResponded,
	}
	for in, want := range tests {
		assert.Equal(t, want, TargetStatus(in), string(in))
	}
}

// processFixture wires a real engine so applied changes land in the ledger
func processFixture(t *testing.T, ai Extractor) (*Service, *workflow.Engine) {
	t.Helper()
	s, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	logger, _ := logtest.NewNullLogger()
	engine := workflow.NewEngine(s, workflow.WithLogger(logger))

	_, err = engine.Submit(context.Background(), &domain.ProductionRequest{
		RequestID:         "REQ123",
		FactoryID:         "F-1",
		ProductID:         "P-100",
		RequestedQuantity: 500,
		AdjustmentType:    domain.AdjustmentIncrease,
		Priority:          domain.PriorityHigh,
		ResponseDeadline:  time.Now().Add(48 * time.Hour),
		DeliveryDeadline:  time.Now().Add(14 * 24 * time.Hour),
	}, "")
	require.NoError(t, err)
	_, err = engine.UpdateStatus(context.Background(), "REQ123", domain.StatusUnderReview, domain.ActorCoordinationAgent, "sent to factory planner")
	require.NoError(t, err)

	return NewService(newInterpreter(ai), engine, logger), engine
}

func TestProcess_AppliesConfidentReading(t *testing.T) {
	ai := &fakeAI{raw: `{"request_id":"REQ123","acceptance_status":"accepted"}`, confidence: 0.85}
	svc, engine := processFixture(t, ai)

	out, err := svc.Process(context.Background(), "", "We accept REQ123")
	require.NoError(t, err)

	assert.True(t, out.Applied)
	assert.False(t, out.ManualReview)
	assert.Equal(t, "REQ123", out.RequestID)
	assert.Equal(t, domain.StatusApproved, out.Update.NewStatus)

	history, err := engine.History(context.Background(), "REQ123")
	require.NoError(t, err)
	last := history[len(history)-1]
	assert.Equal(t, domain.ActorAIAgent, last.ChangedBy)
	assert.Equal(t, "Factory response processed with 85% confidence", last.ChangeReason)
}

func TestProcess_LowConfidenceLeavesStatus(t *testing.T) {
	for _, c := range []float64{0.7, 0.5} {
		ai := &fakeAI{raw: `{"request_id":"REQ123","acceptance_status":"accepted"}`, confidence: c}
		svc, engine := processFixture(t, ai)

		out, err := svc.Process(context.Background(), "REQ123", "We accept")
		require.NoError(t, err)
		assert.False(t, out.Applied)
		assert.True(t, out.ManualReview)
		assert.Equal(t, domain.StatusApproved, out.TargetStatus)

		got, err := engine.Get(context.Background(), "REQ123")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusUnderReview, got.Status, "confidence %v", c)
	}
}

func TestProcess_FallbackNeverApplies(t *testing.T) {
	svc, engine := processFixture(t, &fakeAI{extractErr: errors.New("down")})

	out, err := svc.Process(context.Background(), "", "REQ123 accepted")
	require.NoError(t, err)
	assert.True(t, out.ManualReview)
	assert.True(t, out.Interpretation.FallbackUsed)

	got, err := engine.Get(context.Background(), "REQ123")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnderReview, got.Status)
}

func TestProcess_CallerIDWins(t *testing.T) {
	ai := &fakeAI{raw: `{"request_id":"REQ999","acceptance_status":"rejected"}`, confidence: 0.9}
	svc, engine := processFixture(t, ai)

	out, err := svc.Process(context.Background(), "REQ123", "rejected")
	require.NoError(t, err)
	assert.True(t, out.Applied)

	got, err := engine.Get(context.Background(), "REQ123")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, got.Status)
}

func TestProcess_InvalidTransitionSurfaces(t *testing.T) {
	ai := &fakeAI{raw: `{"request_id":"REQ123","acceptance_status":"accepted"}`, confidence: 0.95}
	svc, engine := processFixture(t, ai)
	_, err := engine.UpdateStatus(context.Background(), "REQ123", domain.StatusCancelled, domain.Actor("planner-7"), "")
	require.NoError(t, err)

	out, err := svc.Process(context.Background(), "", "accepted")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.True(t, out.ManualReview)
	assert.False(t, out.Applied)
}

func TestProcess_NoRequestID(t *testing.T) {
	ai := &fakeAI{raw: `{"acceptance_status":"accepted"}`, confidence: 0.99}
	svc, _ := processFixture(t, ai)

	out, err := svc.Process(context.Background(), "", "accepted")
	require.NoError(t, err)
	assert.True(t, out.ManualReview)
	assert.Empty(t, out.RequestID)
}
