package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/felixgeelhaar/circulum/internal/billing/application/commands"
	"github.com/felixgeelhaar/circulum/internal/billing/application/queries"
	"github.com/felixgeelhaar/circulum/pkg/observability"
)

// CallerHeader identifies the acting creator or subscriber on
// ownership-checked routes.
const CallerHeader = "X-Caller-ID"

// BillingHandler handles plan and subscription requests.
type BillingHandler struct {
	createPlan         *commands.CreatePlanHandler
	updatePlan         *commands.UpdatePlanHandler
	changePlanState    *commands.ChangePlanStateHandler
	subscribe          *commands.SubscribeHandler
	cancelSubscription *commands.CancelSubscriptionHandler
	changeSubState     *commands.ChangeSubscriptionStateHandler
	getPlan            *queries.GetPlanHandler
	listPlans          *queries.ListPlansHandler
	getSubscription    *queries.GetSubscriptionHandler
	listSubscriptions  *queries.ListSubscriptionsHandler
	logger             *slog.Logger
}

// BillingHandlerConfig holds dependencies for the billing handler.
type BillingHandlerConfig struct {
	CreatePlan              *commands.CreatePlanHandler
	UpdatePlan              *commands.UpdatePlanHandler
	ChangePlanState         *commands.ChangePlanStateHandler
	Subscribe               *commands.SubscribeHandler
	CancelSubscription      *commands.CancelSubscriptionHandler
	ChangeSubscriptionState *commands.ChangeSubscriptionStateHandler
	GetPlan                 *queries.GetPlanHandler
	ListPlans               *queries.ListPlansHandler
	GetSubscription         *queries.GetSubscriptionHandler
	ListSubscriptions       *queries.ListSubscriptionsHandler
	Logger                  *slog.Logger
}

// NewBillingHandler creates a new billing handler.
func NewBillingHandler(cfg BillingHandlerConfig) *BillingHandler {
	return &BillingHandler{
		createPlan:         cfg.CreatePlan,
		updatePlan:         cfg.UpdatePlan,
		changePlanState:    cfg.ChangePlanState,
		subscribe:          cfg.Subscribe,
		cancelSubscription: cfg.CancelSubscription,
		changeSubState:     cfg.ChangeSubscriptionState,
		getPlan:            cfg.GetPlan,
		listPlans:          cfg.ListPlans,
		getSubscription:    cfg.GetSubscription,
		listSubscriptions:  cfg.ListSubscriptions,
		logger:             observability.OrDefault(cfg.Logger),
	}
}

// CreatePlanRequest is the body of POST /api/v1/plans.
type CreatePlanRequest struct {
	CreatorID       string `json:"creator_id" validate:"required"`
	PlanID          int64  `json:"plan_id" validate:"gt=0"`
	Price           int64  `json:"price" validate:"gt=0"`
	IntervalSeconds int64  `json:"interval_seconds" validate:"gt=0"`
	MaxSubscribers  int    `json:"max_subscribers" validate:"gte=0"`
	MetadataURI     string `json:"metadata_uri,omitempty" validate:"max=200"`
}

// UpdatePlanRequest is the body of PATCH on a plan. Omitted fields are kept.
type UpdatePlanRequest struct {
	Price           *int64  `json:"price,omitempty" validate:"omitempty,gt=0"`
	IntervalSeconds *int64  `json:"interval_seconds,omitempty" validate:"omitempty,gt=0"`
	MaxSubscribers  *int    `json:"max_subscribers,omitempty" validate:"omitempty,gte=0"`
	MetadataURI     *string `json:"metadata_uri,omitempty" validate:"omitempty,max=200"`
}

// SubscribeRequest is the body of POST /api/v1/subscriptions.
type SubscribeRequest struct {
	SubscriberID string `json:"subscriber_id" validate:"required"`
	CreatorID    string `json:"creator_id" validate:"required"`
	PlanID       int64  `json:"plan_id" validate:"gt=0"`
}

// CreatePlan handles POST /api/v1/plans
func (h *BillingHandler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	var req CreatePlanRequest
	if err := decodeRequest(r, w, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	plan, err := h.createPlan.Handle(r.Context(), commands.CreatePlanCommand{
		CreatorID:       req.CreatorID,
		PlanID:          req.PlanID,
		Price:           req.Price,
		IntervalSeconds: req.IntervalSeconds,
		MaxSubscribers:  req.MaxSubscribers,
		MetadataURI:     req.MetadataURI,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, queries.NewPlanDTO(plan))
}

// ListPlans handles GET /api/v1/creators/{creatorID}/plans
func (h *BillingHandler) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.listPlans.Handle(r.Context(), queries.ListPlansQuery{
		CreatorID:  chi.URLParam(r, "creatorID"),
		ActiveOnly: parseBoolParam(r, "active", false),
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"plans": plans, "count": len(plans)})
}

// GetPlan handles GET /api/v1/creators/{creatorID}/plans/{planID}
func (h *BillingHandler) GetPlan(w http.ResponseWriter, r *http.Request) {
	planID, err := planIDParam(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	plan, err := h.getPlan.Handle(r.Context(), queries.GetPlanQuery{
		CreatorID: chi.URLParam(r, "creatorID"),
		PlanID:    planID,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// UpdatePlan handles PATCH /api/v1/creators/{creatorID}/plans/{planID}
func (h *BillingHandler) UpdatePlan(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}
	planID, err := planIDParam(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req UpdatePlanRequest
	if err := decodeRequest(r, w, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	plan, err := h.updatePlan.Handle(r.Context(), commands.UpdatePlanCommand{
		CallerID:        caller,
		CreatorID:       chi.URLParam(r, "creatorID"),
		PlanID:          planID,
		Price:           req.Price,
		IntervalSeconds: req.IntervalSeconds,
		MaxSubscribers:  req.MaxSubscribers,
		MetadataURI:     req.MetadataURI,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, queries.NewPlanDTO(plan))
}

// PausePlan handles POST .../plans/{planID}/pause
func (h *BillingHandler) PausePlan(w http.ResponseWriter, r *http.Request) {
	h.changePlan(w, r, commands.PlanActionPause)
}

// UnpausePlan handles POST .../plans/{planID}/unpause
func (h *BillingHandler) UnpausePlan(w http.ResponseWriter, r *http.Request) {
	h.changePlan(w, r, commands.PlanActionUnpause)
}

// DeactivatePlan handles POST .../plans/{planID}/deactivate
func (h *BillingHandler) DeactivatePlan(w http.ResponseWriter, r *http.Request) {
	h.changePlan(w, r, commands.PlanActionDeactivate)
}

func (h *BillingHandler) changePlan(w http.ResponseWriter, r *http.Request, action commands.PlanAction) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}
	planID, err := planIDParam(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	plan, err := h.changePlanState.Handle(r.Context(), commands.ChangePlanStateCommand{
		CallerID:  caller,
		CreatorID: chi.URLParam(r, "creatorID"),
		PlanID:    planID,
		Action:    action,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, queries.NewPlanDTO(plan))
}

// Subscribe handles POST /api/v1/subscriptions
func (h *BillingHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req SubscribeRequest
	if err := decodeRequest(r, w, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	sub, err := h.subscribe.Handle(r.Context(), commands.SubscribeCommand{
		SubscriberID: req.SubscriberID,
		CreatorID:    req.CreatorID,
		PlanID:       req.PlanID,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, queries.NewSubscriptionDTO(sub))
}

// ListSubscriptions handles GET /api/v1/subscriptions
func (h *BillingHandler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	q := queries.ListSubscriptionsQuery{
		SubscriberID: r.URL.Query().Get("subscriber_id"),
		CreatorID:    r.URL.Query().Get("creator_id"),
		PlanID:       int64(parseIntParam(r, "plan_id", 0)),
		Limit:        parseIntParam(r, "limit", queries.DefaultListLimit),
		Offset:       parseIntParam(r, "offset", 0),
	}
	if status := r.URL.Query().Get("status"); status != "" {
		q.Statuses = strings.Split(status, ",")
	}

	subs, err := h.listSubscriptions.Handle(r.Context(), q)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscriptions": subs, "count": len(subs)})
}

// GetSubscription handles GET /api/v1/subscriptions/{subscriptionID}
func (h *BillingHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "subscriptionID")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	sub, err := h.getSubscription.Handle(r.Context(), queries.GetSubscriptionQuery{SubscriptionID: id})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// CancelSubscription handles POST /api/v1/subscriptions/{subscriptionID}/cancel
func (h *BillingHandler) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}
	id, err := uuidParam(r, "subscriptionID")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	sub, err := h.cancelSubscription.Handle(r.Context(), commands.CancelSubscriptionCommand{
		SubscriptionID: id,
		SubscriberID:   caller,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, queries.NewSubscriptionDTO(sub))
}

// PauseSubscription handles POST /api/v1/subscriptions/{subscriptionID}/pause
func (h *BillingHandler) PauseSubscription(w http.ResponseWriter, r *http.Request) {
	h.changeSubscription(w, r, commands.SubscriptionActionPause)
}

// ResumeSubscription handles POST /api/v1/subscriptions/{subscriptionID}/resume
func (h *BillingHandler) ResumeSubscription(w http.ResponseWriter, r *http.Request) {
	h.changeSubscription(w, r, commands.SubscriptionActionResume)
}

func (h *BillingHandler) changeSubscription(w http.ResponseWriter, r *http.Request, action commands.SubscriptionAction) {
	caller, ok := callerID(w, r)
	if !ok {
		return
	}
	id, err := uuidParam(r, "subscriptionID")
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	sub, err := h.changeSubState.Handle(r.Context(), commands.ChangeSubscriptionStateCommand{
		SubscriptionID: id,
		SubscriberID:   caller,
		Action:         action,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, queries.NewSubscriptionDTO(sub))
}

// callerID reads CallerHeader, writing missing_caller when it is empty.
func callerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	caller := strings.TrimSpace(r.Header.Get(CallerHeader))
	if caller == "" {
		writeJSON(w, ErrMissingCaller.Status, ErrMissingCaller)
		return "", false
	}
	return caller, true
}

func planIDParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "planID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, &APIError{
			Status:  http.StatusBadRequest,
			Code:    "invalid_plan_id",
			Message: "Plan ID must be a positive integer",
		}
	}
	return id, nil
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, &APIError{
			Status:  http.StatusBadRequest,
			Code:    "invalid_id",
			Message: "ID must be a UUID",
		}
	}
	return id, nil
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func parseBoolParam(r *http.Request, name string, defaultVal bool) bool {
	if v := r.URL.Query().Get(name); v != "" {
		return v == "true" || v == "1"
	}
	return defaultVal
}
