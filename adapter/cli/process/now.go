package process

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/circulum/adapter/api"
	"github.com/felixgeelhaar/circulum/adapter/cli"
)

var drain bool

var nowCmd = &cobra.Command{
	Use:   "now",
	Short: "Process every due subscription now",
	Long: `Run one payment cycle immediately on this process. Fails when a
cycle is already running.

Examples:
  circulum process now
  circulum process now --drain=false`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := cli.GetApp()
		if app == nil || app.Scheduler == nil {
			return cli.ErrNotInitialized
		}

		ctx := cmd.Context()
		outcomes, err := app.Scheduler.ProcessDueNow(ctx)
		if err != nil {
			return fmt.Errorf("payment cycle failed: %w", err)
		}

		delivered := 0
		if drain && app.Bus != nil {
			delivered, err = app.Bus.Drain(ctx)
			if err != nil {
				return fmt.Errorf("deliver events: %w", err)
			}
		}

		resp := api.NewRunResponse(outcomes)
		out := cmd.OutOrStdout()
		if cli.JSONOutput() {
			return cli.PrintJSON(out, resp)
		}

		fmt.Fprintf(out, "Processed %d subscription(s)\n", resp.Processed)
		kinds := make([]string, 0, len(resp.Counts))
		for kind := range resp.Counts {
			kinds = append(kinds, kind)
		}
		sort.Strings(kinds)
		for _, kind := range kinds {
			fmt.Fprintf(out, "  %s: %d\n", kind, resp.Counts[kind])
		}
		if cli.Verbose() {
			for _, o := range resp.Outcomes {
				line := fmt.Sprintf("  %s %s attempts=%d", o.SubscriptionID, o.Kind, o.Attempts)
				if o.Error != "" {
					line += " error=" + o.Error
				}
				fmt.Fprintln(out, line)
			}
		}
		if drain {
			fmt.Fprintf(out, "Delivered %d event(s)\n", delivered)
		}
		return nil
	},
}

func init() {
	nowCmd.Flags().BoolVar(&drain, "drain", true, "deliver queued webhook events before exiting")
}
