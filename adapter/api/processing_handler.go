package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/circulum/internal/billing/application"
	"github.com/felixgeelhaar/circulum/internal/billing/application/workers"
	"github.com/felixgeelhaar/circulum/pkg/observability"
)

// Scheduler is the operational surface of the payment scheduler.
type Scheduler interface {
	ProcessDueNow(ctx context.Context) ([]application.Outcome, error)
	GetStatus(ctx context.Context) workers.Status
}

// ProcessingHandler triggers payment cycles and reports scheduler status.
type ProcessingHandler struct {
	scheduler Scheduler
	logger    *slog.Logger
}

// NewProcessingHandler creates a new processing handler.
func NewProcessingHandler(scheduler Scheduler, logger *slog.Logger) *ProcessingHandler {
	return &ProcessingHandler{scheduler: scheduler, logger: observability.OrDefault(logger)}
}

// OutcomeResponse reports what a cycle did to one subscription.
type OutcomeResponse struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
	Kind           string    `json:"kind"`
	Attempts       int       `json:"attempts"`
	Reference      string    `json:"reference,omitempty"`
	FailedPayments int       `json:"failed_payments"`
	Error          string    `json:"error,omitempty"`
}

// RunResponse is the body of POST /api/v1/processing/run.
type RunResponse struct {
	Processed int               `json:"processed"`
	Counts    map[string]int    `json:"counts"`
	Outcomes  []OutcomeResponse `json:"outcomes"`
}

// NewRunResponse summarises a cycle's outcomes.
func NewRunResponse(outcomes []application.Outcome) RunResponse {
	resp := RunResponse{
		Processed: len(outcomes),
		Counts:    make(map[string]int),
		Outcomes:  make([]OutcomeResponse, 0, len(outcomes)),
	}
	for _, o := range outcomes {
		resp.Counts[string(o.Kind)]++
		out := OutcomeResponse{
			SubscriptionID: o.SubscriptionID,
			Kind:           string(o.Kind),
			Attempts:       o.Attempts,
			Reference:      string(o.Reference),
			FailedPayments: o.FailedPayments,
		}
		if o.Err != nil {
			out.Error = o.Err.Error()
		}
		resp.Outcomes = append(resp.Outcomes, out)
	}
	return resp
}

// Run handles POST /api/v1/processing/run
func (h *ProcessingHandler) Run(w http.ResponseWriter, r *http.Request) {
	outcomes, err := h.scheduler.ProcessDueNow(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, NewRunResponse(outcomes))
}

// Status handles GET /api/v1/processing/status
func (h *ProcessingHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.scheduler.GetStatus(r.Context()))
}
