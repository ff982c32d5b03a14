package subscription

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/circulum/adapter/cli"
	"github.com/felixgeelhaar/circulum/internal/billing/application/commands"
	"github.com/felixgeelhaar/circulum/internal/billing/application/queries"
)

var createCmd = &cobra.Command{
	Use:   "create [subscriber-id] [creator-id] [plan-id]",
	Short: "Subscribe to a plan",
	Long: `Subscribe to a plan. The first period is charged immediately and the
subscription is created only when that charge succeeds.

Examples:
  circulum subscription create alice creator-1 1`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		app := cli.GetApp()
		if app == nil || app.SubscribeHandler == nil {
			return cli.ErrNotInitialized
		}
		planID, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid plan id %q: %w", args[2], err)
		}

		sub, err := app.SubscribeHandler.Handle(cmd.Context(), commands.SubscribeCommand{
			SubscriberID: args[0],
			CreatorID:    args[1],
			PlanID:       planID,
		})
		if err != nil {
			return fmt.Errorf("failed to subscribe: %w", err)
		}

		dto := queries.NewSubscriptionDTO(sub)
		if cli.JSONOutput() {
			return cli.PrintJSON(cmd.OutOrStdout(), dto)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Subscribed.")
		printSubscription(cmd.OutOrStdout(), dto)
		return nil
	},
}
