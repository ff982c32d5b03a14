package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/felixgeelhaar/circulum/internal/billing/application/queries"
	"github.com/felixgeelhaar/circulum/internal/billing/application/workers"
	billingDomain "github.com/felixgeelhaar/circulum/internal/billing/domain"
	webhooksDomain "github.com/felixgeelhaar/circulum/internal/webhooks/domain"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// APIError represents an API error.
type APIError struct {
	Status  int               `json:"-"`
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Common API errors
var (
	ErrBadRequest = &APIError{
		Status:  http.StatusBadRequest,
		Code:    "bad_request",
		Message: "Invalid request",
	}
	ErrNotFound = &APIError{
		Status:  http.StatusNotFound,
		Code:    "not_found",
		Message: "Resource not found",
	}
	ErrInternalServer = &APIError{
		Status:  http.StatusInternalServerError,
		Code:    "internal_error",
		Message: "Internal server error",
	}
	ErrMissingCaller = &APIError{
		Status:  http.StatusBadRequest,
		Code:    "missing_caller",
		Message: "X-Caller-ID header is required",
	}
)

type errorMapping struct {
	target error
	status int
	code   string
}

// errorMappings is checked in order with errors.Is.
var errorMappings = []errorMapping{
	{billingDomain.ErrPlanNotFound, http.StatusNotFound, "plan_not_found"},
	{billingDomain.ErrSubscriptionNotFound, http.StatusNotFound, "subscription_not_found"},
	{webhooksDomain.ErrEndpointNotFound, http.StatusNotFound, "endpoint_not_found"},

	{billingDomain.ErrNotPlanCreator, http.StatusForbidden, "not_plan_creator"},
	{billingDomain.ErrNotSubscriptionOwner, http.StatusForbidden, "not_subscription_owner"},

	{billingDomain.ErrPlanExists, http.StatusConflict, "plan_exists"},
	{billingDomain.ErrAlreadySubscribed, http.StatusConflict, "already_subscribed"},
	{billingDomain.ErrPlanFull, http.StatusConflict, "plan_full"},
	{billingDomain.ErrPlanInactive, http.StatusConflict, "plan_inactive"},
	{billingDomain.ErrPlanPaused, http.StatusConflict, "plan_paused"},
	{billingDomain.ErrPlanAlreadyPaused, http.StatusConflict, "plan_already_paused"},
	{billingDomain.ErrPlanNotPaused, http.StatusConflict, "plan_not_paused"},
	{billingDomain.ErrPlanAlreadyInactive, http.StatusConflict, "plan_already_inactive"},
	{billingDomain.ErrMaxSubscribersTooLow, http.StatusConflict, "max_subscribers_too_low"},
	{billingDomain.ErrSubscriptionNotActive, http.StatusConflict, "subscription_not_active"},
	{billingDomain.ErrSubscriptionNotPaused, http.StatusConflict, "subscription_not_paused"},
	{workers.ErrCycleInProgress, http.StatusConflict, "cycle_in_progress"},

	{billingDomain.ErrInitialPaymentFailed, http.StatusPaymentRequired, "initial_payment_failed"},

	{billingDomain.ErrInvalidPlanID, http.StatusBadRequest, "invalid_plan_id"},
	{billingDomain.ErrEmptyCreator, http.StatusBadRequest, "empty_creator"},
	{billingDomain.ErrEmptySubscriber, http.StatusBadRequest, "empty_subscriber"},
	{billingDomain.ErrSelfSubscription, http.StatusBadRequest, "self_subscription"},
	{billingDomain.ErrInvalidPrice, http.StatusBadRequest, "invalid_price"},
	{billingDomain.ErrInvalidInterval, http.StatusBadRequest, "invalid_interval"},
	{billingDomain.ErrInvalidMaxSubscribers, http.StatusBadRequest, "invalid_max_subscribers"},
	{billingDomain.ErrMetadataURITooLong, http.StatusBadRequest, "metadata_uri_too_long"},
	{queries.ErrUnknownStatus, http.StatusBadRequest, "unknown_status"},
	{webhooksDomain.ErrInvalidURL, http.StatusBadRequest, "invalid_url"},
	{webhooksDomain.ErrNoEventTypes, http.StatusBadRequest, "no_event_types"},
	{webhooksDomain.ErrUnknownEventType, http.StatusBadRequest, "unknown_event_type"},
	{webhooksDomain.ErrEmptyEventType, http.StatusBadRequest, "empty_event_type"},
	{webhooksDomain.ErrSecretTooShort, http.StatusBadRequest, "secret_too_short"},
}

// toAPIError maps an application error onto a response. Unknown errors
// become internal_error and their text is not exposed.
func toAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		return &APIError{
			Status:  http.StatusBadRequest,
			Code:    "validation_failed",
			Message: "Request validation failed",
			Fields:  FormatValidationError(err),
		}
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return &APIError{Status: m.status, Code: m.code, Message: err.Error()}
		}
	}
	return ErrInternalServer
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", "error", err)
		}
	}
}

// writeError maps err and writes it. Internal faults are logged.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	apiErr := toAPIError(err)
	if apiErr.Status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, apiErr.Status, apiErr)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeRequest decodes a JSON body into req and validates it.
func decodeRequest(r *http.Request, w http.ResponseWriter, req any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(req); err != nil {
		return &APIError{
			Status:  http.StatusBadRequest,
			Code:    "invalid_json",
			Message: "Request body is not valid JSON: " + err.Error(),
		}
	}
	return validate.Struct(req)
}

// FormatValidationError turns validator errors into field messages keyed by
// the JSON field name.
func FormatValidationError(err error) map[string]string {
	if err == nil {
		return nil
	}

	errs := make(map[string]string)
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		errs["error"] = "Invalid request format"
		return errs
	}

	for _, e := range validationErrors {
		field := strings.ToLower(e.Field())
		switch e.Tag() {
		case "required":
			errs[field] = "This field is required"
		case "http_url", "url":
			errs[field] = "Must be an absolute http or https URL"
		case "min":
			errs[field] = fmt.Sprintf("Must be at least %s", e.Param())
		case "max":
			errs[field] = fmt.Sprintf("Must be at most %s", e.Param())
		case "gt":
			errs[field] = fmt.Sprintf("Must be greater than %s", e.Param())
		case "gte":
			errs[field] = fmt.Sprintf("Must be at least %s", e.Param())
		default:
			errs[field] = "Invalid value"
		}
	}
	return errs
}
