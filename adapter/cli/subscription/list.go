package subscription

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/circulum/adapter/cli"
	"github.com/felixgeelhaar/circulum/internal/billing/application/queries"
)

var (
	filterSubscriber string
	filterCreator    string
	filterPlan       int64
	filterStatus     string
	limit            int
)

var listCmd = &cobra.Command{
	Use:     "list",
	Short:   "List subscriptions",
	Aliases: []string{"ls"},
	Long: `List subscriptions with optional filters.

Examples:
  circulum subscription list --subscriber alice
  circulum subscription list --creator creator-1 --plan 1 --status active,paused`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := cli.GetApp()
		if app == nil || app.ListSubscriptionsHandler == nil {
			return cli.ErrNotInitialized
		}

		q := queries.ListSubscriptionsQuery{
			SubscriberID: filterSubscriber,
			CreatorID:    filterCreator,
			PlanID:       filterPlan,
			Limit:        limit,
		}
		if filterStatus != "" {
			q.Statuses = strings.Split(filterStatus, ",")
		}

		subs, err := app.ListSubscriptionsHandler.Handle(cmd.Context(), q)
		if err != nil {
			return fmt.Errorf("failed to list subscriptions: %w", err)
		}

		out := cmd.OutOrStdout()
		if cli.JSONOutput() {
			return cli.PrintJSON(out, subs)
		}
		if len(subs) == 0 {
			fmt.Fprintln(out, "No subscriptions found.")
			return nil
		}
		fmt.Fprintf(out, "Subscriptions (%d):\n", len(subs))
		for _, s := range subs {
			printSubscription(out, s)
		}
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show [subscription-id]",
	Short: "Show one subscription",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app := cli.GetApp()
		if app == nil || app.GetSubscriptionHandler == nil {
			return cli.ErrNotInitialized
		}
		id, err := parseID(args[0])
		if err != nil {
			return err
		}

		sub, err := app.GetSubscriptionHandler.Handle(cmd.Context(), queries.GetSubscriptionQuery{SubscriptionID: id})
		if err != nil {
			return err
		}
		if cli.JSONOutput() {
			return cli.PrintJSON(cmd.OutOrStdout(), sub)
		}
		printSubscription(cmd.OutOrStdout(), *sub)
		return nil
	},
}

func init() {
	listCmd.Flags().StringVar(&filterSubscriber, "subscriber", "", "filter by subscriber")
	listCmd.Flags().StringVar(&filterCreator, "creator", "", "filter by creator")
	listCmd.Flags().Int64Var(&filterPlan, "plan", 0, "filter by plan id (with --creator)")
	listCmd.Flags().StringVarP(&filterStatus, "status", "s", "", "comma-separated statuses (active, paused, cancelled, expired)")
	listCmd.Flags().IntVarP(&limit, "limit", "n", 0, "max number of subscriptions to show")
}
