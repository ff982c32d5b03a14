package application

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	sharedDomain "github.com/felixgeelhaar/circulum/internal/shared/domain"
	"github.com/felixgeelhaar/circulum/internal/webhooks/domain"
	"github.com/felixgeelhaar/circulum/pkg/observability"
)

// RegisterEndpointCommand registers a webhook receiver. An empty Secret is generated.
type RegisterEndpointCommand struct {
	URL        string   `json:"url" validate:"required,http_url"`
	EventTypes []string `json:"event_types" validate:"required,min=1,dive,required"`
	Secret     string   `json:"secret,omitempty" validate:"omitempty,min=16"`
}

// RegistrationService manages webhook endpoints.
type RegistrationService struct {
	endpoints  domain.EndpointRepository
	knownTypes []string
	logger     *slog.Logger
	now        sharedDomain.Clock
}

// NewRegistrationService creates a service that accepts only knownTypes.
func NewRegistrationService(endpoints domain.EndpointRepository, knownTypes []string, logger *slog.Logger) *RegistrationService {
	return &RegistrationService{
		endpoints:  endpoints,
		knownTypes: slices.Clone(knownTypes),
		logger:     observability.OrDefault(logger).With("component", "webhook_registration"),
		now:        sharedDomain.SystemClock,
	}
}

// WithClock replaces the wall clock.
func (s *RegistrationService) WithClock(clock sharedDomain.Clock) *RegistrationService {
	s.now = clock
	return s
}

// RegisterEndpoint validates and stores a new endpoint. The returned
// endpoint carries its secret; later reads should be redacted.
func (s *RegistrationService) RegisterEndpoint(ctx context.Context, cmd RegisterEndpointCommand) (*domain.Endpoint, error) {
	if err := validate.Struct(cmd); err != nil {
		return nil, err
	}
	for _, t := range cmd.EventTypes {
		if !slices.Contains(s.knownTypes, t) {
			return nil, fmt.Errorf("%w: %q", domain.ErrUnknownEventType, t)
		}
	}

	secret := cmd.Secret
	if secret == "" {
		generated, err := domain.GenerateSecret()
		if err != nil {
			return nil, fmt.Errorf("generate endpoint secret: %w", err)
		}
		secret = generated
	}

	ep, err := domain.NewEndpoint(cmd.URL, cmd.EventTypes, secret, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.endpoints.Create(ctx, ep); err != nil {
		return nil, fmt.Errorf("store endpoint: %w", err)
	}

	s.logger.Info("webhook endpoint registered", "endpoint_id", ep.ID, "url", ep.URL, "event_types", ep.EventTypes)
	return ep, nil
}

// ListEndpoints returns every endpoint with secrets removed.
func (s *RegistrationService) ListEndpoints(ctx context.Context) ([]domain.Endpoint, error) {
	all, err := s.endpoints.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list endpoints: %w", err)
	}
	out := make([]domain.Endpoint, 0, len(all))
	for _, ep := range all {
		out = append(out, ep.Redacted())
	}
	return out, nil
}

// GetEndpoint returns one endpoint with its secret removed.
func (s *RegistrationService) GetEndpoint(ctx context.Context, id uuid.UUID) (domain.Endpoint, error) {
	ep, err := s.endpoints.FindByID(ctx, id)
	if err != nil {
		return domain.Endpoint{}, fmt.Errorf("find endpoint: %w", err)
	}
	if ep == nil {
		return domain.Endpoint{}, domain.ErrEndpointNotFound
	}
	return ep.Redacted(), nil
}

// DisableEndpoint turns an endpoint off. Re-enabling is left to operators
// working on the store directly.
func (s *RegistrationService) DisableEndpoint(ctx context.Context, id uuid.UUID) error {
	if err := s.endpoints.SetActive(ctx, id, false); err != nil {
		return err
	}
	s.logger.Info("webhook endpoint disabled", "endpoint_id", id)
	return nil
}
