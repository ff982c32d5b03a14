package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	webhooksApp "github.com/felixgeelhaar/circulum/internal/webhooks/application"
	"github.com/felixgeelhaar/circulum/internal/webhooks/domain"
	"github.com/felixgeelhaar/circulum/pkg/observability"
)

// WebhooksHandler handles webhook endpoint requests.
type WebhooksHandler struct {
	registration *webhooksApp.RegistrationService
	logger       *slog.Logger
}

// NewWebhooksHandler creates a new webhooks handler.
func NewWebhooksHandler(registration *webhooksApp.RegistrationService, logger *slog.Logger) *WebhooksHandler {
	return &WebhooksHandler{registration: registration, logger: observability.OrDefault(logger)}
}

// EndpointResponse is the public form of an endpoint. Secret is set only in
// the registration response.
type EndpointResponse struct {
	ID                  uuid.UUID  `json:"id"`
	URL                 string     `json:"url"`
	EventTypes          []string   `json:"event_types"`
	Secret              string     `json:"secret,omitempty"`
	Active              bool       `json:"active"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastDeliveryAttempt *time.Time `json:"last_delivery_attempt,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
}

func newEndpointResponse(ep domain.Endpoint) EndpointResponse {
	return EndpointResponse{
		ID:                  ep.ID,
		URL:                 ep.URL,
		EventTypes:          ep.EventTypes,
		Secret:              ep.Secret,
		Active:              ep.Active,
		ConsecutiveFailures: ep.ConsecutiveFailures,
		LastDeliveryAttempt: ep.LastDeliveryAttempt,
		CreatedAt:           ep.CreatedAt,
	}
}

// RegisterEndpoint handles POST /api/v1/webhooks/endpoints
func (h *WebhooksHandler) RegisterEndpoint(w http.ResponseWriter, r *http.Request) {
	var req webhooksApp.RegisterEndpointCommand
	if err := decodeRequest(r, w, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	ep, err := h.registration.RegisterEndpoint(r.Context(), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, newEndpointResponse(*ep))
}

// ListEndpoints handles GET /api/v1/webhooks/endpoints
func (h *WebhooksHandler) ListEndpoints(w http.ResponseWriter, r *http.Request) {
	endpoints, err := h.registration.ListEndpoints(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	out := make([]EndpointResponse, 0, len(endpoints))
	for _, ep := range endpoints {
		out = append(out, newEndpointResponse(ep))
	}
	writeJSON(w, http.StatusOK, map[string]any{"endpoints": out, "count": len(out)})
}

// GetEndpoint handles GET /api/v1/webhooks/endpoints/{endpointID}
func (h *WebhooksHandler) GetEndpoint(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "endpointID")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	ep, err := h.registration.GetEndpoint(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newEndpointResponse(ep))
}

// DisableEndpoint handles POST /api/v1/webhooks/endpoints/{endpointID}/disable
func (h *WebhooksHandler) DisableEndpoint(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "endpointID")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.registration.DisableEndpoint(r.Context(), id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
