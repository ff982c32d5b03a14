package webhook

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/circulum/adapter/cli"
	webhooksApp "github.com/felixgeelhaar/circulum/internal/webhooks/application"
)

var (
	eventTypes []string
	secret     string
)

var addCmd = &cobra.Command{
	Use:   "add [url]",
	Short: "Register a webhook endpoint",
	Long: `Register an endpoint for one or more event types. A signing secret
is generated unless --secret is given; it is printed only once.

Examples:
  circulum webhook add https://example.com/hooks -e payment.processed -e payment.failed`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app := cli.GetApp()
		if app == nil || app.Registration == nil {
			return cli.ErrNotInitialized
		}

		ep, err := app.Registration.RegisterEndpoint(cmd.Context(), webhooksApp.RegisterEndpointCommand{
			URL:        args[0],
			EventTypes: eventTypes,
			Secret:     secret,
		})
		if err != nil {
			return fmt.Errorf("failed to register endpoint: %w", err)
		}

		out := cmd.OutOrStdout()
		if cli.JSONOutput() {
			return cli.PrintJSON(out, ep)
		}
		fmt.Fprintf(out, "Endpoint registered: %s\n", ep.ID)
		fmt.Fprintf(out, "  url: %s\n", ep.URL)
		fmt.Fprintf(out, "  events: %s\n", strings.Join(ep.EventTypes, ", "))
		fmt.Fprintf(out, "  secret: %s\n", ep.Secret)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:     "list",
	Short:   "List webhook endpoints",
	Aliases: []string{"ls"},
	RunE: func(cmd *cobra.Command, args []string) error {
		app := cli.GetApp()
		if app == nil || app.Registration == nil {
			return cli.ErrNotInitialized
		}

		endpoints, err := app.Registration.ListEndpoints(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if cli.JSONOutput() {
			return cli.PrintJSON(out, endpoints)
		}
		if len(endpoints) == 0 {
			fmt.Fprintln(out, "No webhook endpoints registered.")
			return nil
		}
		for _, ep := range endpoints {
			state := "active"
			if !ep.Active {
				state = "disabled"
			}
			fmt.Fprintf(out, "%s [%s] %s\n", ep.ID, state, ep.URL)
			fmt.Fprintf(out, "  events: %s\n", strings.Join(ep.EventTypes, ", "))
			fmt.Fprintf(out, "  consecutive failures: %d\n", ep.ConsecutiveFailures)
			if ep.LastDeliveryAttempt != nil {
				fmt.Fprintf(out, "  last attempt: %s\n", ep.LastDeliveryAttempt.Local().Format(time.RFC1123))
			}
		}
		return nil
	},
}

var disableCmd = &cobra.Command{
	Use:   "disable [endpoint-id]",
	Short: "Stop delivering to an endpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app := cli.GetApp()
		if app == nil || app.Registration == nil {
			return cli.ErrNotInitialized
		}
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid endpoint id %q: %w", args[0], err)
		}
		if err := app.Registration.DisableEndpoint(cmd.Context(), id); err != nil {
			return fmt.Errorf("failed to disable endpoint: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Endpoint %s disabled.\n", id)
		return nil
	},
}

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Deliver every queued event now",
	RunE: func(cmd *cobra.Command, args []string) error {
		app := cli.GetApp()
		if app == nil || app.Bus == nil {
			return cli.ErrNotInitialized
		}
		n, err := app.Bus.Drain(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to deliver events: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Delivered %d event(s).\n", n)
		return nil
	},
}

func init() {
	addCmd.Flags().StringSliceVarP(&eventTypes, "event", "e", nil, "event type to receive (repeatable)")
	addCmd.Flags().StringVar(&secret, "secret", "", "signing secret (generated when empty)")
	_ = addCmd.MarkFlagRequired("event")
}
