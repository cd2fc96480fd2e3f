package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/checkinhub/pkg/cmd"
	"github.com/dukex/checkinhub/pkg/eventbus"
	"github.com/dukex/checkinhub/pkg/flow"
	"github.com/dukex/checkinhub/pkg/log"
	"github.com/dukex/checkinhub/pkg/notify"
	"github.com/dukex/checkinhub/pkg/otelhelper"
	"github.com/dukex/checkinhub/pkg/persistence"
	"github.com/dukex/checkinhub/pkg/scheduler"
	"github.com/dukex/checkinhub/pkg/vault"
	"github.com/dukex/checkinhub/pkg/worker"
	cli "github.com/urfave/cli/v3"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

var errMissingEncryptionKey = errors.New("encryption key is required (--encryption-key or ENCRYPTION_KEY)")

// components is the object graph shared by serve and run.
type components struct {
	logger    *slog.Logger
	tracer    *sdktrace.TracerProvider
	store     persistence.Persistence
	vault     *vault.Vault
	bus       eventbus.EventBus
	notifier  *notify.Notifier
	worker    *worker.Worker
	scheduler *scheduler.Service
}

func setupLogging(command *cli.Command) *slog.Logger {
	log.Setup(command.String("log-level"), command.String("log-format"))

	return log.WithModule("checkinhub")
}

func newComponents(ctx context.Context, command *cli.Command, logger *slog.Logger) (*components, error) {
	key := command.String("encryption-key")
	if key == "" {
		return nil, errMissingEncryptionKey
	}

	c := &components{logger: logger, vault: vault.New(key)}

	if command.Bool("tracing") {
		tracer, err := otelhelper.NewTracerProvider(ctx, "checkinhub")
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}

		c.tracer = tracer
	}

	store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		c.Close(ctx)

		return nil, err
	}

	c.store = store

	bus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), logger)
	if err != nil {
		c.Close(ctx)

		return nil, err
	}

	c.bus = bus

	c.notifier = notify.NewNotifier(command.String("webhook-url"), logger)

	err = c.notifier.Register(bus)
	if err != nil {
		c.Close(ctx)

		return nil, fmt.Errorf("failed to register notifier: %w", err)
	}

	engine := flow.NewEngine(c.vault, logger)
	c.worker = worker.NewWorker(store, engine, bus, logger)
	c.scheduler = scheduler.NewService(store, c.worker, logger)

	return c, nil
}

// Close releases everything newComponents opened, in reverse order.
func (c *components) Close(ctx context.Context) {
	if c.bus != nil {
		if err := c.bus.Close(); err != nil {
			c.logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}

	if c.store != nil {
		if err := c.store.Close(ctx); err != nil {
			c.logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}

	if c.tracer != nil {
		if err := c.tracer.Shutdown(ctx); err != nil {
			c.logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
		}
	}
}
