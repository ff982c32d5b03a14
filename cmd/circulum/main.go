package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/felixgeelhaar/circulum/adapter/cli"
	"github.com/felixgeelhaar/circulum/adapter/cli/plan"
	"github.com/felixgeelhaar/circulum/adapter/cli/process"
	"github.com/felixgeelhaar/circulum/adapter/cli/subscription"
	"github.com/felixgeelhaar/circulum/adapter/cli/webhook"
	"github.com/felixgeelhaar/circulum/internal/app"
	"github.com/felixgeelhaar/circulum/pkg/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}

	logger := config.LoggerFromConfig(cfg)
	cli.SetLogger(logger)

	container, err := app.NewContainer(ctx, cfg, logger)
	if err != nil {
		if !cfg.IsDevelopment() {
			logger.Error("failed to initialize container", "error", err)
			return 1
		}
		// Commands report ErrNotInitialized; help and version still work.
		logger.Warn("failed to initialize container, running in limited mode", "error", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := container.Shutdown(shutdownCtx); err != nil {
				logger.Warn("shutdown incomplete", "error", err)
			}
		}()
		cli.SetApp(cli.NewAppFromContainer(container))
	}

	cli.AddCommand(plan.Cmd)
	cli.AddCommand(subscription.Cmd)
	cli.AddCommand(webhook.Cmd)
	cli.AddCommand(process.Cmd)

	if err := cli.Execute(ctx); err != nil {
		return 1
	}
	return 0
}
