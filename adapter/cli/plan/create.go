package plan

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/circulum/adapter/cli"
	"github.com/felixgeelhaar/circulum/internal/billing/application/commands"
	"github.com/felixgeelhaar/circulum/internal/billing/application/queries"
)

var (
	createPrice          int64
	createInterval       int64
	createMaxSubscribers int
	createMetadataURI    string
)

var createCmd = &cobra.Command{
	Use:   "create [creator-id] [plan-id]",
	Short: "Create a new plan",
	Long: `Create a plan charging a fixed price every interval.

Examples:
  circulum plan create creator-1 1 --price 500 --interval 2592000
  circulum plan create creator-1 2 --price 100 --interval 86400 --max 50`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		app := cli.GetApp()
		if app == nil || app.CreatePlanHandler == nil {
			return cli.ErrNotInitialized
		}
		planID, err := parsePlanID(args[1])
		if err != nil {
			return err
		}

		plan, err := app.CreatePlanHandler.Handle(cmd.Context(), commands.CreatePlanCommand{
			CreatorID:       args[0],
			PlanID:          planID,
			Price:           createPrice,
			IntervalSeconds: createInterval,
			MaxSubscribers:  createMaxSubscribers,
			MetadataURI:     createMetadataURI,
		})
		if err != nil {
			return fmt.Errorf("failed to create plan: %w", err)
		}

		dto := queries.NewPlanDTO(plan)
		if cli.JSONOutput() {
			return cli.PrintJSON(cmd.OutOrStdout(), dto)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Plan created.")
		printPlan(cmd.OutOrStdout(), dto)
		return nil
	},
}

func init() {
	createCmd.Flags().Int64Var(&createPrice, "price", 0, "price per interval in minor units")
	createCmd.Flags().Int64Var(&createInterval, "interval", 0, "billing interval in seconds")
	createCmd.Flags().IntVar(&createMaxSubscribers, "max", 0, "maximum subscribers (0 = unlimited)")
	createCmd.Flags().StringVar(&createMetadataURI, "metadata", "", "metadata URI")
	_ = createCmd.MarkFlagRequired("price")
	_ = createCmd.MarkFlagRequired("interval")
}
