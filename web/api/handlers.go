package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hochfrequenz/factory-coordinator/internal/domain"
	"github.com/hochfrequenz/factory-coordinator/internal/interpret"
)

// SubmitRequest is the body of POST /api/requests. Deadlines accept
// RFC 3339 timestamps, plain dates, or phrases such as "next friday".
type SubmitRequest struct {
	RequesterID       string `json:"requester_id"`
	FactoryID         string `json:"factory_id"`
	ProductID         string `json:"product_id"`
	RequestedQuantity int    `json:"requested_quantity"`
	CurrentQuantity   int    `json:"current_quantity"`
	AdjustmentType    string `json:"adjustment_type"`
	Priority          string `json:"priority"`
	ResponseDeadline  string `json:"response_deadline"`
	DeliveryDeadline  string `json:"delivery_deadline"`
	Reason            string `json:"reason"`
	ChangedBy         string `json:"changed_by,omitempty"`
}

// UpdateStatusRequest is the body of PUT /api/requests/{id}/status
type UpdateStatusRequest struct {
	Status       string `json:"status"`
	ChangedBy    string `json:"changed_by"`
	ChangeReason string `json:"change_reason"`
}

// ProcessResponseRequest is the body of POST /api/requests/{id}/process-response
type ProcessResponseRequest struct {
	ResponseText string `json:"response_text"`
}

// StatusResponse is the API response for overall status
type StatusResponse struct {
	Total    int                   `json:"total"`
	Open     int                   `json:"open"`
	Overdue  int                   `json:"overdue"`
	ByStatus map[domain.Status]int `json:"by_status"`
}

func (b SubmitRequest) toDomain(now time.Time) (*domain.ProductionRequest, domain.Actor, error) {
	req := &domain.ProductionRequest{
		RequesterID:       b.RequesterID,
		FactoryID:         b.FactoryID,
		ProductID:         b.ProductID,
		RequestedQuantity: b.RequestedQuantity,
		CurrentQuantity:   b.CurrentQuantity,
		AdjustmentType:    domain.AdjustmentType(strings.ToLower(b.AdjustmentType)),
		Priority:          domain.Priority(strings.ToLower(b.Priority)),
		Reason:            b.Reason,
	}
	if req.AdjustmentType == "" {
		req.AdjustmentType = domain.AdjustmentIncrease
	}
	if req.Priority == "" {
		req.Priority = domain.PriorityMedium
	}

	var err error
	if b.ResponseDeadline != "" {
		if req.ResponseDeadline, err = interpret.ParseDate(b.ResponseDeadline, now); err != nil {
			return nil, "", fmt.Errorf("%w: response_deadline: %v", domain.ErrValidation, err)
		}
	}
	if b.DeliveryDeadline != "" {
		if req.DeliveryDeadline, err = interpret.ParseDate(b.DeliveryDeadline, now); err != nil {
			return nil, "", fmt.Errorf("%w: delivery_deadline: %v", domain.ErrValidation, err)
		}
	}

	actor := domain.ActorCoordinationAgent
	if b.ChangedBy != "" {
		if actor, err = domain.ParseExternalActor(b.ChangedBy); err != nil {
			return nil, "", err
		}
	}
	return req, actor, nil
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", domain.ErrValidation, err)
	}
	return nil
}

func (s *Server) statusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqs, err := s.engine.List(r.Context(), domain.RequestFilter{})
		if err != nil {
			s.writeDomainError(w, err)
			return
		}

		status := StatusResponse{Total: len(reqs), ByStatus: map[domain.Status]int{}}
		for _, req := range reqs {
			status.ByStatus[req.Status]++
			if !req.Status.IsTerminal() {
				status.Open++
			}
			if req.Status == domain.StatusOverdue {
				status.Overdue++
			}
		}

		writeJSON(w, status)
	}
}

func (s *Server) listRequestsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := domain.RequestFilter{FactoryID: q.Get("factory")}
		for _, raw := range q["status"] {
			for _, part := range strings.Split(raw, ",") {
				st, err := domain.ParseStatus(part)
				if err != nil {
					s.writeDomainError(w, err)
					return
				}
				filter.Statuses = append(filter.Statuses, st)
			}
		}

		reqs, err := s.engine.List(r.Context(), filter)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		if reqs == nil {
			reqs = []*domain.ProductionRequest{}
		}
		writeJSON(w, reqs)
	}
}

func (s *Server) submitHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body SubmitRequest
		if err := decodeBody(r, &body); err != nil {
			s.writeDomainError(w, err)
			return
		}
		req, actor, err := body.toDomain(time.Now())
		if err != nil {
			s.writeDomainError(w, err)
			return
		}

		res, err := s.engine.Submit(r.Context(), req, actor)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSONStatus(w, http.StatusCreated, res)
	}
}

func (s *Server) getRequestHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := s.engine.Get(r.Context(), r.PathValue("id"))
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, req)
	}
}

func (s *Server) updateStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body UpdateStatusRequest
		if err := decodeBody(r, &body); err != nil {
			s.writeDomainError(w, err)
			return
		}
		status, err := domain.ParseStatus(body.Status)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		actor, err := domain.ParseExternalActor(body.ChangedBy)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}

		res, err := s.engine.UpdateStatus(r.Context(), r.PathValue("id"), status, actor, body.ChangeReason)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, res)
	}
}

func (s *Server) transitionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep, err := s.engine.CheckTransitions(r.Context(), r.PathValue("id"))
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, rep)
	}
}

func (s *Server) historyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := s.engine.History(r.Context(), r.PathValue("id"))
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, entries)
	}
}

func (s *Server) processResponseHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.processor == nil {
			writeError(w, http.StatusServiceUnavailable, "internal", "response processing not configured")
			return
		}

		var body ProcessResponseRequest
		if err := decodeBody(r, &body); err != nil {
			s.writeDomainError(w, err)
			return
		}
		if strings.TrimSpace(body.ResponseText) == "" {
			writeError(w, http.StatusBadRequest, "validation", "response_text is required")
			return
		}

		id := r.PathValue("id")
		if _, err := s.engine.Get(r.Context(), id); err != nil {
			s.writeDomainError(w, err)
			return
		}

		out, err := s.processor.Process(r.Context(), id, body.ResponseText)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, out)
	}
}

func (s *Server) sweepHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep, err := s.engine.Sweep(r.Context(), time.Now())
		if err != nil && rep == nil {
			s.writeDomainError(w, err)
			return
		}
		s.Broadcast(SSEEvent{Type: "sweep_finished", Data: rep})
		writeJSON(w, rep)
	}
}
