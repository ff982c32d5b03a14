package subscription

import (
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/circulum/internal/billing/application/queries"
)

// Cmd is the subscription command group
var Cmd = &cobra.Command{
	Use:     "subscription",
	Aliases: []string{"sub"},
	Short:   "Manage subscriptions",
	Long:    `Subscribe to plans, list subscriptions and cancel, pause or resume them.`,
}

func init() {
	Cmd.AddCommand(createCmd)
	Cmd.AddCommand(listCmd)
	Cmd.AddCommand(showCmd)
	Cmd.AddCommand(cancelCmd)
	Cmd.AddCommand(pauseCmd)
	Cmd.AddCommand(resumeCmd)
}

func parseID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid subscription id %q: %w", raw, err)
	}
	return id, nil
}

func printSubscription(w io.Writer, s queries.SubscriptionDTO) {
	fmt.Fprintf(w, "Subscription %s [%s]\n", s.ID, s.Status)
	fmt.Fprintf(w, "  subscriber: %s\n", s.SubscriberID)
	fmt.Fprintf(w, "  plan: %s/%d\n", s.CreatorID, s.PlanID)
	fmt.Fprintf(w, "  payments: %d (failed: %d)\n", s.TotalPayments, s.FailedPayments)
	fmt.Fprintf(w, "  next payment: %s\n", s.NextPayment.Local().Format(time.RFC1123))
	if s.CancelledAt != nil {
		fmt.Fprintf(w, "  cancelled: %s\n", s.CancelledAt.Local().Format(time.RFC1123))
	}
}
