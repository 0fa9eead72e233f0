// Package api serves production requests over HTTP and streams status
// changes to browsers as server-sent events.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/hochfrequenz/factory-coordinator/internal/domain"
	"github.com/hochfrequenz/factory-coordinator/internal/interpret"
	"github.com/hochfrequenz/factory-coordinator/internal/workflow"
)

// Engine is the workflow surface the API exposes
type Engine interface {
	Submit(ctx context.Context, req *domain.ProductionRequest, changedBy domain.Actor) (*workflow.Result, error)
	UpdateStatus(ctx context.Context, requestID string, newStatus domain.Status, changedBy domain.Actor, reason string) (*workflow.Result, error)
	Get(ctx context.Context, requestID string) (*domain.ProductionRequest, error)
	List(ctx context.Context, filter domain.RequestFilter) ([]*domain.ProductionRequest, error)
	CheckTransitions(ctx context.Context, requestID string) (*workflow.TransitionReport, error)
	History(ctx context.Context, requestID string) ([]*domain.StatusHistoryEntry, error)
	Sweep(ctx context.Context, now time.Time) (*workflow.SweepReport, error)
}

// Processor interprets factory replies and applies confident ones
type Processor interface {
	Process(ctx context.Context, requestID, text string) (*interpret.Outcome, error)
}

// Server is the HTTP API server
type Server struct {
	engine    Engine
	processor Processor
	log       logrus.FieldLogger
	mux       *http.ServeMux
	sseHub    *SSEHub
	http      *http.Server
}

// Option configures a Server
type Option func(*Server)

// WithProcessor enables POST /api/requests/{id}/process-response
func WithProcessor(p Processor) Option {
	return func(s *Server) { s.processor = p }
}

// WithLogger sets the server's logger
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Server) { s.log = log }
}

// WithMetrics serves reg's metrics on /metrics
func WithMetrics(reg *prometheus.Registry) Option {
	return func(s *Server) {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
}

// NewServer creates a new API server
func NewServer(engine Engine, addr string, opts ...Option) *Server {
	s := &Server{
		engine: engine,
		log:    logrus.StandardLogger(),
		mux:    http.NewServeMux(),
		sseHub: NewSSEHub(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	s.http = &http.Server{Addr: addr, Handler: s.mux, ReadHeaderTimeout: 10 * time.Second}
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /api/status", s.statusHandler())
	s.mux.HandleFunc("GET /api/requests", s.listRequestsHandler())
	s.mux.HandleFunc("POST /api/requests", s.submitHandler())
	s.mux.HandleFunc("GET /api/requests/{id}", s.getRequestHandler())
	s.mux.HandleFunc("PUT /api/requests/{id}/status", s.updateStatusHandler())
	s.mux.HandleFunc("GET /api/requests/{id}/transitions", s.transitionsHandler())
	s.mux.HandleFunc("GET /api/requests/{id}/history", s.historyHandler())
	s.mux.HandleFunc("POST /api/requests/{id}/process-response", s.processResponseHandler())
	s.mux.HandleFunc("POST /api/sweep", s.sweepHandler())
	s.mux.HandleFunc("GET /api/events", s.sseHandler())
}

// Handler returns the server's routes
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start runs the SSE hub and serves until Shutdown
func (s *Server) Start() error {
	go s.sseHub.Run()
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and closes event streams
func (s *Server) Shutdown(ctx context.Context) error {
	s.sseHub.Stop()
	return s.http.Shutdown(ctx)
}

// Broadcast sends an event to all SSE clients
func (s *Server) Broadcast(event SSEEvent) {
	s.sseHub.Broadcast(event)
}

// Observe streams every status change to SSE clients
func (s *Server) Observe(res *workflow.Result) {
	s.Broadcast(SSEEvent{Type: "status_changed", Data: res})
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, kind, message string) {
	writeJSONStatus(w, code, ErrorResponse{Kind: kind, Message: message})
}

// writeDomainError maps the error taxonomy onto HTTP status codes
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	kind := domain.Kind(err)
	code := http.StatusInternalServerError
	switch kind {
	case "not_found":
		code = http.StatusNotFound
	case "validation":
		code = http.StatusBadRequest
	case "invalid_transition":
		code = http.StatusUnprocessableEntity
	case "conflict":
		code = http.StatusConflict
	case "ai_service_failure":
		code = http.StatusBadGateway
	case "storage_unavailable":
		code = http.StatusServiceUnavailable
	default:
		s.log.WithError(err).Error("request failed")
	}
	writeError(w, code, kind, err.Error())
}
