package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hochfrequenz/factory-coordinator/internal/domain"
)

// DefaultStoreTimeout bounds every storage call made by the engine
const DefaultStoreTimeout = 5 * time.Second

const submitReason = "Request submitted and sent to factory"

// Store is the storage collaborator the engine runs against.
//
// ApplyTransition must write the request update and the ledger entry
// together, and only if the request's status still equals tr.From; otherwise
// it returns an error matching domain.ErrConflict and writes nothing.
type Store interface {
	CreateRequest(ctx context.Context, req *domain.ProductionRequest, entry *domain.StatusHistoryEntry) error
	GetRequest(ctx context.Context, id string) (*domain.ProductionRequest, error)
	ListRequests(ctx context.Context, filter domain.RequestFilter) ([]*domain.ProductionRequest, error)
	ApplyTransition(ctx context.Context, tr domain.Transition) error
	ListHistory(ctx context.Context, requestID string) ([]*domain.StatusHistoryEntry, error)
}

// Result is the outcome of a successful status change
type Result struct {
	RequestID      string          `json:"request_id" yaml:"request_id"`
	PreviousStatus domain.Status   `json:"previous_status,omitempty" yaml:"previous_status,omitempty"`
	NewStatus      domain.Status   `json:"new_status" yaml:"new_status"`
	UpdatedAt      time.Time       `json:"updated_at" yaml:"updated_at"`
	HistoryID      string          `json:"history_id" yaml:"history_id"`
	NextActions    []domain.Action `json:"next_actions" yaml:"next_actions"`
}

// TransitionReport describes where a request can go from its current status
type TransitionReport struct {
	RequestID          string           `json:"request_id" yaml:"request_id"`
	CurrentStatus      domain.Status    `json:"current_status" yaml:"current_status"`
	AllowedTransitions []domain.Status  `json:"allowed_transitions" yaml:"allowed_transitions"`
	IsTerminal         bool             `json:"is_terminal" yaml:"is_terminal"`
	Rules              []TransitionRule `json:"transition_rules" yaml:"transition_rules"`
}

// Observer is told about every status change the engine writes. Observe
// must not block.
type Observer interface {
	Observe(res *Result)
}

// Engine runs status changes against a Store. Changes to one request are
// serialized in-process; the store's compare-and-set covers other processes.
type Engine struct {
	store        Store
	table        *Table
	log          logrus.FieldLogger
	metrics      *Metrics
	now          func() time.Time
	storeTimeout time.Duration
	locks        *keyedMutex
	observers    []Observer
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the engine's logger
func WithLogger(log logrus.FieldLogger) Option {
	return func(e *Engine) { e.log = log }
}

// WithMetrics attaches prometheus instruments
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithStoreTimeout bounds each storage call
func WithStoreTimeout(d time.Duration) Option {
	return func(e *Engine) { e.storeTimeout = d }
}

// WithObserver adds an observer of written status changes
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observers = append(e.observers, o) }
}

// WithTable replaces the default transition table
func WithTable(t *Table) Option {
	return func(e *Engine) { e.table = t }
}

// NewEngine creates an Engine backed by store
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:        store,
		table:        DefaultTable(),
		log:          logrus.StandardLogger(),
		now:          time.Now,
		storeTimeout: DefaultStoreTimeout,
		locks:        newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Table returns the transition table in use
func (e *Engine) Table() *Table {
	return e.table
}

// Submit persists a new request in status submitted together with its
// initial ledger entry.
func (e *Engine) Submit(ctx context.Context, req *domain.ProductionRequest, changedBy domain.Actor) (*Result, error) {
	if changedBy == "" {
		changedBy = domain.ActorCoordinationAgent
	}
	now := e.now().UTC()

	if req.RequestID == "" {
		req.RequestID = domain.NewRequestID()
	}
	req.Status = domain.StatusSubmitted
	if req.StatusMemo == "" {
		req.StatusMemo = submitReason
	}
	req.CreatedAt = now
	req.UpdatedAt = now
	if err := req.Validate(); err != nil {
		return nil, err
	}

	entry := &domain.StatusHistoryEntry{
		HistoryID:    domain.NewHistoryID(),
		RequestID:    req.RequestID,
		NewStatus:    domain.StatusSubmitted,
		ChangedBy:    changedBy,
		ChangeReason: req.StatusMemo,
		ChangedAt:    now,
	}

	ctx, cancel := e.storeCtx(ctx)
	defer cancel()
	if err := e.store.CreateRequest(ctx, req, entry); err != nil {
		e.metrics.failure(domain.Kind(err))
		return nil, fmt.Errorf("create request %s: %w", req.RequestID, err)
	}

	e.metrics.transition("", string(domain.StatusSubmitted), changedBy.Kind())
	e.log.WithFields(logrus.Fields{
		"request_id": req.RequestID,
		"factory_id": req.FactoryID,
		"changed_by": changedBy,
	}).Info("request submitted")

	res := &Result{
		RequestID:   req.RequestID,
		NewStatus:   domain.StatusSubmitted,
		UpdatedAt:   now,
		HistoryID:   entry.HistoryID,
		NextActions: NextActions(domain.StatusSubmitted),
	}
	e.notify(res)
	return res, nil
}

// UpdateStatus moves a request to newStatus, records the change in the
// ledger and returns the follow-up actions for the new status.
func (e *Engine) UpdateStatus(ctx context.Context, requestID string, newStatus domain.Status, changedBy domain.Actor, reason string) (*Result, error) {
	res, err := e.updateStatus(ctx, requestID, newStatus, changedBy, reason)
	if err != nil {
		e.metrics.failure(domain.Kind(err))
		return nil, err
	}
	return res, nil
}

func (e *Engine) updateStatus(ctx context.Context, requestID string, newStatus domain.Status, changedBy domain.Actor, reason string) (*Result, error) {
	if !newStatus.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrValidation, newStatus)
	}
	if changedBy == "" {
		return nil, fmt.Errorf("%w: changed_by is required", domain.ErrValidation)
	}

	unlock := e.locks.Lock(requestID)
	defer unlock()

	req, err := e.getRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	from := req.Status
	if !e.table.Permits(from, newStatus, changedBy) {
		return nil, &domain.TransitionError{
			RequestID: requestID,
			From:      from,
			To:        newStatus,
			Allowed:   e.table.TargetsFor(from, changedBy),
		}
	}

	now := e.now().UTC()
	if now.Before(req.UpdatedAt) {
		now = req.UpdatedAt
	}
	prev := from
	entry := &domain.StatusHistoryEntry{
		HistoryID:      domain.NewHistoryID(),
		RequestID:      requestID,
		PreviousStatus: &prev,
		NewStatus:      newStatus,
		ChangedBy:      changedBy,
		ChangeReason:   reason,
		ChangedAt:      now,
	}

	if err := e.apply(ctx, domain.Transition{
		RequestID: requestID,
		From:      from,
		To:        newStatus,
		Memo:      reason,
		At:        now,
		Entry:     entry,
	}); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, e.conflict(ctx, requestID, newStatus, changedBy, err)
		}
		return nil, fmt.Errorf("update request %s: %w", requestID, err)
	}

	e.metrics.transition(string(from), string(newStatus), changedBy.Kind())
	e.log.WithFields(logrus.Fields{
		"request_id": requestID,
		"from":       from,
		"to":         newStatus,
		"changed_by": changedBy,
	}).Info("status updated")

	res := &Result{
		RequestID:      requestID,
		PreviousStatus: from,
		NewStatus:      newStatus,
		UpdatedAt:      now,
		HistoryID:      entry.HistoryID,
		NextActions:    NextActions(newStatus),
	}
	e.notify(res)
	return res, nil
}

func (e *Engine) notify(res *Result) {
	for _, o := range e.observers {
		o.Observe(res)
	}
}

// conflict builds the error for a lost compare-and-set, naming the status
// that won.
func (e *Engine) conflict(ctx context.Context, requestID string, to domain.Status, actor domain.Actor, cause error) error {
	current, err := e.getRequest(ctx, requestID)
	if err != nil {
		return fmt.Errorf("update request %s: %w", requestID, cause)
	}
	return &domain.TransitionError{
		RequestID: requestID,
		From:      current.Status,
		To:        to,
		Allowed:   e.table.TargetsFor(current.Status, actor),
		Conflict:  true,
	}
}

// CheckTransitions reports the statuses a request may move to next
func (e *Engine) CheckTransitions(ctx context.Context, requestID string) (*TransitionReport, error) {
	req, err := e.getRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	allowed := e.table.AllowedTargets(req.Status)
	return &TransitionReport{
		RequestID:          requestID,
		CurrentStatus:      req.Status,
		AllowedTransitions: allowed,
		IsTerminal:         len(allowed) == 0,
		Rules:              e.table.Rules(req.Status),
	}, nil
}

// History returns a request's ledger in chronological order
func (e *Engine) History(ctx context.Context, requestID string) ([]*domain.StatusHistoryEntry, error) {
	if _, err := e.getRequest(ctx, requestID); err != nil {
		return nil, err
	}
	ctx, cancel := e.storeCtx(ctx)
	defer cancel()
	entries, err := e.store.ListHistory(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("list history for %s: %w", requestID, err)
	}
	SortHistory(entries)
	return entries, nil
}

// Get returns a single request
func (e *Engine) Get(ctx context.Context, requestID string) (*domain.ProductionRequest, error) {
	return e.getRequest(ctx, requestID)
}

// List returns requests matching filter
func (e *Engine) List(ctx context.Context, filter domain.RequestFilter) ([]*domain.ProductionRequest, error) {
	ctx, cancel := e.storeCtx(ctx)
	defer cancel()
	reqs, err := e.store.ListRequests(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	return reqs, nil
}

func (e *Engine) getRequest(ctx context.Context, requestID string) (*domain.ProductionRequest, error) {
	ctx, cancel := e.storeCtx(ctx)
	defer cancel()
	req, err := e.store.GetRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("request %s: %w", requestID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get request %s: %w", requestID, err)
	}
	return req, nil
}

func (e *Engine) apply(ctx context.Context, tr domain.Transition) error {
	ctx, cancel := e.storeCtx(ctx)
	defer cancel()
	return e.store.ApplyTransition(ctx, tr)
}

func (e *Engine) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.storeTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.storeTimeout)
}

// keyedMutex hands out one mutex per key and drops it once unused
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock blocks until key is free and returns its unlock func
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
