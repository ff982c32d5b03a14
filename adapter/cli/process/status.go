package process

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/circulum/adapter/cli"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show payment processing status",
	RunE: func(cmd *cobra.Command, args []string) error {
		app := cli.GetApp()
		if app == nil || app.Scheduler == nil {
			return cli.ErrNotInitialized
		}

		status := app.Scheduler.GetStatus(cmd.Context())
		out := cmd.OutOrStdout()
		if cli.JSONOutput() {
			return cli.PrintJSON(out, status)
		}

		fmt.Fprintf(out, "Running: %t\n", status.IsRunning)
		fmt.Fprintf(out, "Cycles completed: %d\n", status.CyclesCompleted)
		fmt.Fprintf(out, "Skipped ticks: %d\n", status.SkippedTicks)
		if status.LastCycleAt != nil {
			fmt.Fprintf(out, "Last cycle: %s (%s, %d outcomes)\n",
				status.LastCycleAt.Local().Format(time.RFC1123),
				status.LastCycleDuration.Round(time.Millisecond),
				status.LastCycleOutcomes,
			)
		}
		if status.LastError != "" {
			fmt.Fprintf(out, "Last error: %s\n", status.LastError)
		}
		if p := status.Processing; p != nil {
			fmt.Fprintf(out, "Active subscriptions: %d\n", p.TotalActive)
			fmt.Fprintf(out, "Due for payment: %d\n", p.DueForPayment)
			fmt.Fprintf(out, "With failures: %d\n", p.SubscriptionsWithFailures)
			fmt.Fprintf(out, "Cancelled in last day: %d\n", p.CancelledInLastDay)
		}
		if status.ProcessingError != "" {
			fmt.Fprintf(out, "Processing stats unavailable: %s\n", status.ProcessingError)
		}
		return nil
	},
}
