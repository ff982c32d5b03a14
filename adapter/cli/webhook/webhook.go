package webhook

import (
	"github.com/spf13/cobra"
)

// Cmd is the webhook command group
var Cmd = &cobra.Command{
	Use:   "webhook",
	Short: "Manage webhook endpoints",
	Long:  `Register, list and disable endpoints that receive billing events.`,
}

func init() {
	Cmd.AddCommand(addCmd)
	Cmd.AddCommand(listCmd)
	Cmd.AddCommand(disableCmd)
	Cmd.AddCommand(flushCmd)
}
