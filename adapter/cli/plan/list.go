package plan

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/circulum/adapter/cli"
	"github.com/felixgeelhaar/circulum/internal/billing/application/queries"
)

var activeOnly bool

var listCmd = &cobra.Command{
	Use:     "list [creator-id]",
	Short:   "List a creator's plans",
	Aliases: []string{"ls"},
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app := cli.GetApp()
		if app == nil || app.ListPlansHandler == nil {
			return cli.ErrNotInitialized
		}

		plans, err := app.ListPlansHandler.Handle(cmd.Context(), queries.ListPlansQuery{
			CreatorID:  args[0],
			ActiveOnly: activeOnly,
		})
		if err != nil {
			return fmt.Errorf("failed to list plans: %w", err)
		}

		out := cmd.OutOrStdout()
		if cli.JSONOutput() {
			return cli.PrintJSON(out, plans)
		}
		if len(plans) == 0 {
			fmt.Fprintln(out, "No plans found.")
			return nil
		}
		for _, p := range plans {
			printPlan(out, p)
		}
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show [creator-id] [plan-id]",
	Short: "Show one plan",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		app := cli.GetApp()
		if app == nil || app.GetPlanHandler == nil {
			return cli.ErrNotInitialized
		}
		planID, err := parsePlanID(args[1])
		if err != nil {
			return err
		}

		plan, err := app.GetPlanHandler.Handle(cmd.Context(), queries.GetPlanQuery{CreatorID: args[0], PlanID: planID})
		if err != nil {
			return err
		}
		if cli.JSONOutput() {
			return cli.PrintJSON(cmd.OutOrStdout(), plan)
		}
		printPlan(cmd.OutOrStdout(), *plan)
		return nil
	},
}

func parsePlanID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid plan id %q: must be a positive integer", raw)
	}
	return id, nil
}

func init() {
	listCmd.Flags().BoolVar(&activeOnly, "active", false, "show only active plans")
}
