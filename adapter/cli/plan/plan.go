package plan

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/circulum/internal/billing/application/queries"
)

// Cmd is the plan command group
var Cmd = &cobra.Command{
	Use:   "plan",
	Short: "Manage subscription plans",
	Long:  `Create, list, update, pause and deactivate creator plans.`,
}

func init() {
	Cmd.AddCommand(createCmd)
	Cmd.AddCommand(listCmd)
	Cmd.AddCommand(showCmd)
	Cmd.AddCommand(updateCmd)
	Cmd.AddCommand(newStateCmd("pause", "Pause a plan so subscribers are not billed"))
	Cmd.AddCommand(newStateCmd("unpause", "Resume billing on a paused plan"))
	Cmd.AddCommand(newStateCmd("deactivate", "Deactivate a plan permanently"))
}

func printPlan(w io.Writer, p queries.PlanDTO) {
	state := "active"
	switch {
	case !p.IsActive:
		state = "inactive"
	case p.IsPaused:
		state = "paused"
	}
	capacity := "unlimited"
	if p.MaxSubscribers > 0 {
		capacity = fmt.Sprintf("%d", p.MaxSubscribers)
	}

	fmt.Fprintf(w, "Plan %s/%d [%s]\n", p.CreatorID, p.PlanID, state)
	fmt.Fprintf(w, "  price: %d every %ds\n", p.Price, p.IntervalSeconds)
	fmt.Fprintf(w, "  subscribers: %d/%s\n", p.CurrentSubscribers, capacity)
	if p.MetadataURI != "" {
		fmt.Fprintf(w, "  metadata: %s\n", p.MetadataURI)
	}
}
