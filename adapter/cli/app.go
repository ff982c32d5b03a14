package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/felixgeelhaar/circulum/internal/app"
	"github.com/felixgeelhaar/circulum/internal/billing/application/commands"
	"github.com/felixgeelhaar/circulum/internal/billing/application/queries"
	"github.com/felixgeelhaar/circulum/internal/billing/application/workers"
	webhooksApp "github.com/felixgeelhaar/circulum/internal/webhooks/application"
)

// ErrNotInitialized is returned by commands run without a wired application.
var ErrNotInitialized = errors.New("application not initialized - database connection required")

// App holds the CLI application dependencies.
type App struct {
	// Plan Command Handlers
	CreatePlanHandler      *commands.CreatePlanHandler
	UpdatePlanHandler      *commands.UpdatePlanHandler
	ChangePlanStateHandler *commands.ChangePlanStateHandler

	// Subscription Command Handlers
	SubscribeHandler               *commands.SubscribeHandler
	CancelSubscriptionHandler      *commands.CancelSubscriptionHandler
	ChangeSubscriptionStateHandler *commands.ChangeSubscriptionStateHandler

	// Query Handlers
	GetPlanHandler           *queries.GetPlanHandler
	ListPlansHandler         *queries.ListPlansHandler
	GetSubscriptionHandler   *queries.GetSubscriptionHandler
	ListSubscriptionsHandler *queries.ListSubscriptionsHandler

	// Webhooks
	Registration *webhooksApp.RegistrationService
	Bus          *webhooksApp.Bus

	// Processing
	Scheduler *workers.PaymentScheduler
}

// NewAppFromContainer builds the CLI application over a wired container.
func NewAppFromContainer(c *app.Container) *App {
	return &App{
		CreatePlanHandler:              c.CreatePlanHandler,
		UpdatePlanHandler:              c.UpdatePlanHandler,
		ChangePlanStateHandler:         c.ChangePlanStateHandler,
		SubscribeHandler:               c.SubscribeHandler,
		CancelSubscriptionHandler:      c.CancelSubscriptionHandler,
		ChangeSubscriptionStateHandler: c.ChangeSubscriptionStateHandler,
		GetPlanHandler:                 c.GetPlanHandler,
		ListPlansHandler:               c.ListPlansHandler,
		GetSubscriptionHandler:         c.GetSubscriptionHandler,
		ListSubscriptionsHandler:       c.ListSubscriptionsHandler,
		Registration:                   c.Registration,
		Bus:                            c.Bus,
		Scheduler:                      c.Scheduler,
	}
}

// current is the global CLI application instance
var current *App

// SetApp sets the global CLI application instance.
func SetApp(a *App) {
	current = a
}

// GetApp returns the global CLI application instance.
func GetApp() *App {
	return current
}

// PrintJSON writes v as indented JSON.
func PrintJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
