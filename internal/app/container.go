package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	billingApp "github.com/felixgeelhaar/circulum/internal/billing/application"
	"github.com/felixgeelhaar/circulum/internal/billing/application/commands"
	"github.com/felixgeelhaar/circulum/internal/billing/application/queries"
	"github.com/felixgeelhaar/circulum/internal/billing/application/workers"
	billingDomain "github.com/felixgeelhaar/circulum/internal/billing/domain"
	"github.com/felixgeelhaar/circulum/internal/billing/infrastructure/gateway"
	sharedApplication "github.com/felixgeelhaar/circulum/internal/shared/application"
	"github.com/felixgeelhaar/circulum/internal/shared/infrastructure/crypto"
	"github.com/felixgeelhaar/circulum/internal/shared/infrastructure/database"
	_ "github.com/felixgeelhaar/circulum/internal/shared/infrastructure/database/postgres" // Register PostgreSQL driver
	_ "github.com/felixgeelhaar/circulum/internal/shared/infrastructure/database/sqlite"   // Register SQLite driver
	"github.com/felixgeelhaar/circulum/internal/shared/infrastructure/eventbus"
	"github.com/felixgeelhaar/circulum/internal/shared/infrastructure/metrics"
	"github.com/felixgeelhaar/circulum/internal/shared/infrastructure/migrations"
	webhooksApp "github.com/felixgeelhaar/circulum/internal/webhooks/application"
	webhooksDomain "github.com/felixgeelhaar/circulum/internal/webhooks/domain"
	"github.com/felixgeelhaar/circulum/internal/webhooks/infrastructure/delivery"
	"github.com/felixgeelhaar/circulum/pkg/config"
	"github.com/felixgeelhaar/circulum/pkg/observability"
)

// Container holds all application dependencies.
type Container struct {
	Config *config.Config
	Logger *slog.Logger

	// Observability
	Metrics    observability.Metrics
	Prometheus *metrics.PrometheusMetrics
	Health     *observability.HealthRegistry

	// Infrastructure; nil when not configured
	DBConn      database.Connection
	RedisClient *redis.Client
	Broker      eventbus.Publisher

	// Repositories
	Plans         billingDomain.PlanRepository
	Subscriptions billingDomain.SubscriptionRepository
	Endpoints     webhooksDomain.EndpointRepository
	UnitOfWork    sharedApplication.UnitOfWork

	// Settlement. Ledger is set only when the in-process ledger is used.
	Gateway *gateway.ResilientGateway
	Ledger  *gateway.LedgerGateway

	// Core
	Bus          *webhooksApp.Bus
	Registration *webhooksApp.RegistrationService
	Processor    *billingApp.PaymentProcessor
	Scheduler    *workers.PaymentScheduler

	// Command handlers
	CreatePlanHandler              *commands.CreatePlanHandler
	UpdatePlanHandler              *commands.UpdatePlanHandler
	ChangePlanStateHandler         *commands.ChangePlanStateHandler
	SubscribeHandler               *commands.SubscribeHandler
	CancelSubscriptionHandler      *commands.CancelSubscriptionHandler
	ChangeSubscriptionStateHandler *commands.ChangeSubscriptionStateHandler

	// Query handlers
	GetPlanHandler           *queries.GetPlanHandler
	ListPlansHandler         *queries.ListPlansHandler
	GetSubscriptionHandler   *queries.GetSubscriptionHandler
	ListSubscriptionsHandler *queries.ListSubscriptionsHandler
}

// NewContainer connects to the configured database, applies migrations and
// wires every component. Redis and RabbitMQ are optional; in development a
// failure to reach them is logged and the component is left out.
func NewContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	logger = observability.OrDefault(logger)
	c := &Container{
		Config: cfg,
		Logger: logger,
		Health: observability.NewHealthRegistry(),
	}
	c.Prometheus = metrics.NewPrometheusMetrics()
	c.Metrics = c.Prometheus

	conn, err := database.NewConnection(ctx, cfg.DatabaseConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	c.DBConn = conn
	logger.Info("connected to database", "driver", conn.Driver())

	if _, err := migrations.Migrate(ctx, conn, logger); err != nil {
		c.closeInfra()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	c.Health.Register("database", observability.DatabaseHealthChecker(conn.Ping))

	if err := c.connectRedis(ctx); err != nil {
		c.closeInfra()
		return nil, err
	}
	if err := c.connectBroker(); err != nil {
		c.closeInfra()
		return nil, err
	}

	sealer, err := crypto.NewSealer(cfg.EncryptionKey)
	if err != nil {
		c.closeInfra()
		return nil, fmt.Errorf("invalid encryption key: %w", err)
	}
	if cfg.EncryptionKey == "" {
		logger.Warn("CIRCULUM_ENCRYPTION_KEY not set, webhook secrets are stored unsealed")
	}

	if err := c.wire(NewRepositoryFactory(conn, sealer), database.NewUnitOfWork(conn)); err != nil {
		c.closeInfra()
		return nil, err
	}
	return c, nil
}

// NewInMemoryContainer wires every component on in-memory repositories and
// the in-process ledger. Nothing is persisted and no network is used.
func NewInMemoryContainer(cfg *config.Config, logger *slog.Logger) (*Container, error) {
	c := &Container{
		Config:  cfg,
		Logger:  observability.OrDefault(logger),
		Metrics: observability.NoopMetrics{},
		Health:  observability.NewHealthRegistry(),
	}
	if err := c.wire(NewRepositoryFactory(nil, nil), sharedApplication.NoopUnitOfWork{}); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Container) connectRedis(ctx context.Context) error {
	if c.Config.RedisURL == "" {
		return nil
	}
	opt, err := redis.ParseURL(c.Config.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		if !c.Config.IsDevelopment() {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		c.Logger.Warn("Redis not available, continuing without it", "error", err)
		return nil
	}
	c.RedisClient = client
	c.Health.Register("redis", observability.RedisHealthChecker(func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}))
	c.Logger.Info("connected to Redis")
	return nil
}

func (c *Container) connectBroker() error {
	if c.Config.RabbitMQURL == "" {
		return nil
	}
	publisher, err := eventbus.NewRabbitMQPublisher(c.Config.RabbitMQURL, c.Config.RabbitMQExchange, c.Logger)
	if err != nil {
		if !c.Config.IsDevelopment() {
			return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
		}
		c.Logger.Warn("RabbitMQ not available, events are not mirrored", "error", err)
		return nil
	}
	c.Broker = publisher
	c.Health.Register("rabbitmq", observability.RabbitMQHealthChecker(func(context.Context) error {
		if publisher.IsClosed() {
			return errors.New("connection closed")
		}
		return nil
	}))
	return nil
}

func (c *Container) wire(repos *RepositoryFactory, uow sharedApplication.UnitOfWork) error {
	cfg := c.Config
	logger := c.Logger

	c.Plans = repos.PlanRepository()
	c.Subscriptions = repos.SubscriptionRepository()
	c.Endpoints = repos.EndpointRepository()
	c.UnitOfWork = uow

	gw, err := c.buildGateway()
	if err != nil {
		return err
	}

	busOpts := []webhooksApp.BusOption{webhooksApp.WithBusMetrics(c.Metrics)}
	if c.Broker != nil {
		busOpts = append(busOpts, webhooksApp.WithMirror(c.Broker))
	}
	c.Bus, err = webhooksApp.NewBus(c.Endpoints, delivery.NewHTTPDeliverer(nil), cfg.BusConfig(), logger, busOpts...)
	if err != nil {
		return err
	}
	c.Registration = webhooksApp.NewRegistrationService(c.Endpoints, billingDomain.EventTypes, logger)

	c.Processor, err = billingApp.NewPaymentProcessor(
		c.Subscriptions, c.Plans, gw, c.Bus, cfg.ProcessorConfig(), logger,
		billingApp.WithMetrics(c.Metrics),
	)
	if err != nil {
		return err
	}
	c.Scheduler, err = workers.NewPaymentScheduler(c.Processor, cfg.SchedulerConfig(), c.Metrics, logger)
	if err != nil {
		return err
	}

	c.CreatePlanHandler = commands.NewCreatePlanHandler(c.Plans, c.Bus, uow, logger)
	c.UpdatePlanHandler = commands.NewUpdatePlanHandler(c.Plans, c.Bus, uow, logger)
	c.ChangePlanStateHandler = commands.NewChangePlanStateHandler(c.Plans, c.Bus, uow, logger)
	c.SubscribeHandler = commands.NewSubscribeHandler(c.Subscriptions, c.Plans, gw, c.Bus, uow, cfg.SettlementTimeout, logger).WithMetrics(c.Metrics)
	c.CancelSubscriptionHandler = commands.NewCancelSubscriptionHandler(c.Subscriptions, c.Plans, c.Bus, uow, logger)
	c.ChangeSubscriptionStateHandler = commands.NewChangeSubscriptionStateHandler(c.Subscriptions, c.Bus, uow, logger)

	c.GetPlanHandler = queries.NewGetPlanHandler(c.Plans)
	c.ListPlansHandler = queries.NewListPlansHandler(c.Plans)
	c.GetSubscriptionHandler = queries.NewGetSubscriptionHandler(c.Subscriptions)
	c.ListSubscriptionsHandler = queries.NewListSubscriptionsHandler(c.Subscriptions)

	logger.Info("container wired",
		"store", repos.Driver(),
		"gateway", gatewayKind(cfg.GatewayConfig()),
		"broker_mirror", c.Broker != nil,
	)
	return nil
}

func (c *Container) buildGateway() (*gateway.ResilientGateway, error) {
	gc := c.Config.GatewayConfig()
	var next billingDomain.SettlementGateway
	if gc.UsesLedger() {
		c.Ledger = gateway.NewLedgerGateway(gc.DefaultBalance)
		next = c.Ledger
	} else {
		httpGateway, err := gateway.NewHTTPGateway(gc.URL, gc.Token, nil)
		if err != nil {
			return nil, err
		}
		next = httpGateway
	}
	c.Gateway = gateway.NewResilientGateway(next, gc.Breaker, c.Metrics, c.Logger)
	return c.Gateway, nil
}

func gatewayKind(gc config.GatewayConfig) string {
	if gc.UsesLedger() {
		return "ledger"
	}
	return "http"
}

// Shutdown stops the scheduler, then the bus with a final drain, then closes
// the broker, redis and database. If a cycle is still running when ctx ends,
// nothing else is stopped: the cycle keeps its bus and database, and a later
// Shutdown call finishes the job.
func (c *Container) Shutdown(ctx context.Context) error {
	if c.Scheduler != nil {
		if err := c.Scheduler.Stop(ctx); err != nil {
			c.Logger.Error("payment cycle still in flight, infrastructure left open", "error", err)
			return fmt.Errorf("stop scheduler: %w", err)
		}
	}
	var errs []error
	if c.Bus != nil {
		if err := c.Bus.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop event bus: %w", err))
		}
	}
	c.closeInfra()
	return errors.Join(errs...)
}

func (c *Container) closeInfra() {
	if c.Broker != nil {
		if err := c.Broker.Close(); err != nil {
			c.Logger.Warn("error closing event publisher", "error", err)
		}
		c.Broker = nil
	}

	if c.RedisClient != nil {
		if err := c.RedisClient.Close(); err != nil {
			c.Logger.Warn("error closing Redis connection", "error", err)
		} else {
			c.Logger.Info("Redis connection closed")
		}
		c.RedisClient = nil
	}

	if c.DBConn != nil {
		driver := c.DBConn.Driver()
		if err := c.DBConn.Close(); err != nil {
			c.Logger.Warn("error closing database connection", "driver", driver, "error", err)
		} else {
			c.Logger.Info("database connection closed", "driver", driver)
		}
		c.DBConn = nil
	}
}
