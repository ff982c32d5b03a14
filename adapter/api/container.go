package api

import (
	"github.com/felixgeelhaar/circulum/internal/app"
)

// HandlersFromContainer mounts every handler over the container's components.
func HandlersFromContainer(c *app.Container) Handlers {
	return Handlers{
		Billing: NewBillingHandler(BillingHandlerConfig{
			CreatePlan:              c.CreatePlanHandler,
			UpdatePlan:              c.UpdatePlanHandler,
			ChangePlanState:         c.ChangePlanStateHandler,
			Subscribe:               c.SubscribeHandler,
			CancelSubscription:      c.CancelSubscriptionHandler,
			ChangeSubscriptionState: c.ChangeSubscriptionStateHandler,
			GetPlan:                 c.GetPlanHandler,
			ListPlans:               c.ListPlansHandler,
			GetSubscription:         c.GetSubscriptionHandler,
			ListSubscriptions:       c.ListSubscriptionsHandler,
			Logger:                  c.Logger,
		}),
		Webhooks:   NewWebhooksHandler(c.Registration, c.Logger),
		Processing: NewProcessingHandler(c.Scheduler, c.Logger),
		Health:     c.Health,
		Metrics:    c.Metrics,
	}
}
