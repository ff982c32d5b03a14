package process

import (
	"github.com/spf13/cobra"
)

// Cmd is the process command group
var Cmd = &cobra.Command{
	Use:   "process",
	Short: "Run and inspect payment processing",
	Long:  `Trigger a payment cycle on demand or show the scheduler's state.`,
}

func init() {
	Cmd.AddCommand(nowCmd)
	Cmd.AddCommand(statusCmd)
}
