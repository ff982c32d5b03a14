package plan

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/circulum/adapter/cli"
	"github.com/felixgeelhaar/circulum/internal/billing/application/commands"
	"github.com/felixgeelhaar/circulum/internal/billing/application/queries"
)

var (
	updatePrice          int64
	updateInterval       int64
	updateMaxSubscribers int
	updateMetadataURI    string
	caller               string
)

var updateCmd = &cobra.Command{
	Use:   "update [creator-id] [plan-id]",
	Short: "Change a plan's terms",
	Long: `Change price, interval, capacity or metadata. Only the flags given
are changed. Running subscriptions pick up new terms at their next payment.

Examples:
  circulum plan update creator-1 1 --price 750
  circulum plan update creator-1 1 --max 100 --metadata ipfs://plan`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		app := cli.GetApp()
		if app == nil || app.UpdatePlanHandler == nil {
			return cli.ErrNotInitialized
		}
		planID, err := parsePlanID(args[1])
		if err != nil {
			return err
		}

		update := commands.UpdatePlanCommand{
			CallerID:  callerOr(args[0]),
			CreatorID: args[0],
			PlanID:    planID,
		}
		flags := cmd.Flags()
		if flags.Changed("price") {
			update.Price = &updatePrice
		}
		if flags.Changed("interval") {
			update.IntervalSeconds = &updateInterval
		}
		if flags.Changed("max") {
			update.MaxSubscribers = &updateMaxSubscribers
		}
		if flags.Changed("metadata") {
			update.MetadataURI = &updateMetadataURI
		}

		plan, err := app.UpdatePlanHandler.Handle(cmd.Context(), update)
		if err != nil {
			return fmt.Errorf("failed to update plan: %w", err)
		}
		dto := queries.NewPlanDTO(plan)
		if cli.JSONOutput() {
			return cli.PrintJSON(cmd.OutOrStdout(), dto)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Plan updated.")
		printPlan(cmd.OutOrStdout(), dto)
		return nil
	},
}

func newStateCmd(action, short string) *cobra.Command {
	c := &cobra.Command{
		Use:   action + " [creator-id] [plan-id]",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := cli.GetApp()
			if app == nil || app.ChangePlanStateHandler == nil {
				return cli.ErrNotInitialized
			}
			planID, err := parsePlanID(args[1])
			if err != nil {
				return err
			}

			plan, err := app.ChangePlanStateHandler.Handle(cmd.Context(), commands.ChangePlanStateCommand{
				CallerID:  callerOr(args[0]),
				CreatorID: args[0],
				PlanID:    planID,
				Action:    commands.PlanAction(action),
			})
			if err != nil {
				return fmt.Errorf("failed to %s plan: %w", action, err)
			}
			dto := queries.NewPlanDTO(plan)
			if cli.JSONOutput() {
				return cli.PrintJSON(cmd.OutOrStdout(), dto)
			}
			printPlan(cmd.OutOrStdout(), dto)
			return nil
		},
	}
	c.Flags().StringVar(&caller, "as", "", "act as this caller (defaults to the creator)")
	return c
}

// callerOr returns --as, or fallback when it was not given.
func callerOr(fallback string) string {
	if caller != "" {
		return caller
	}
	return fallback
}

func init() {
	updateCmd.Flags().Int64Var(&updatePrice, "price", 0, "new price per interval")
	updateCmd.Flags().Int64Var(&updateInterval, "interval", 0, "new billing interval in seconds")
	updateCmd.Flags().IntVar(&updateMaxSubscribers, "max", 0, "new maximum subscribers (0 = unlimited)")
	updateCmd.Flags().StringVar(&updateMetadataURI, "metadata", "", "new metadata URI")
	updateCmd.Flags().StringVar(&caller, "as", "", "act as this caller (defaults to the creator)")
}
