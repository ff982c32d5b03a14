package commands

import (
	"context"
	"log/slog"

	"github.com/felixgeelhaar/circulum/internal/billing/domain"
	sharedDomain "github.com/felixgeelhaar/circulum/internal/shared/domain"
)

// publishCommitted hands events over once the unit of work has committed.
// Delivery is best effort; a publish error never undoes a committed change.
func publishCommitted(ctx context.Context, publisher domain.EventPublisher, logger *slog.Logger, events []sharedDomain.DomainEvent) {
	if publisher == nil || len(events) == 0 {
		return
	}
	if err := publisher.Publish(ctx, events...); err != nil {
		logger.WarnContext(ctx, "publish events failed", "count", len(events), "error", err)
	}
}
