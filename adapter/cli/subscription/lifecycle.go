package subscription

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/circulum/adapter/cli"
	"github.com/felixgeelhaar/circulum/internal/billing/application/commands"
	"github.com/felixgeelhaar/circulum/internal/billing/application/queries"
	"github.com/felixgeelhaar/circulum/internal/billing/domain"
)

var subscriber string

var cancelCmd = &cobra.Command{
	Use:   "cancel [subscription-id]",
	Short: "Cancel a subscription",
	Long: `Cancel an active or paused subscription on the subscriber's behalf.

Examples:
  circulum subscription cancel 5f0c... --subscriber alice`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app := cli.GetApp()
		if app == nil || app.CancelSubscriptionHandler == nil {
			return cli.ErrNotInitialized
		}
		id, err := parseID(args[0])
		if err != nil {
			return err
		}

		sub, err := app.CancelSubscriptionHandler.Handle(cmd.Context(), commands.CancelSubscriptionCommand{
			SubscriptionID: id,
			SubscriberID:   subscriber,
		})
		if err != nil {
			return fmt.Errorf("failed to cancel subscription: %w", err)
		}
		return report(cmd, sub)
	},
}

var pauseCmd = newStateCmd(commands.SubscriptionActionPause, "Pause billing on a subscription")

var resumeCmd = newStateCmd(commands.SubscriptionActionResume, "Resume a paused subscription")

func newStateCmd(action commands.SubscriptionAction, short string) *cobra.Command {
	c := &cobra.Command{
		Use:   string(action) + " [subscription-id]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := cli.GetApp()
			if app == nil || app.ChangeSubscriptionStateHandler == nil {
				return cli.ErrNotInitialized
			}
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			sub, err := app.ChangeSubscriptionStateHandler.Handle(cmd.Context(), commands.ChangeSubscriptionStateCommand{
				SubscriptionID: id,
				SubscriberID:   subscriber,
				Action:         action,
			})
			if err != nil {
				return fmt.Errorf("failed to %s subscription: %w", action, err)
			}
			return report(cmd, sub)
		},
	}
	c.Flags().StringVar(&subscriber, "subscriber", "", "subscriber performing the change")
	_ = c.MarkFlagRequired("subscriber")
	return c
}

func report(cmd *cobra.Command, sub *domain.Subscription) error {
	dto := queries.NewSubscriptionDTO(sub)
	if cli.JSONOutput() {
		return cli.PrintJSON(cmd.OutOrStdout(), dto)
	}
	printSubscription(cmd.OutOrStdout(), dto)
	return nil
}

func init() {
	cancelCmd.Flags().StringVar(&subscriber, "subscriber", "", "subscriber performing the cancellation")
	_ = cancelCmd.MarkFlagRequired("subscriber")
}
