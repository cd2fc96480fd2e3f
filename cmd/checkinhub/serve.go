package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	cli "github.com/urfave/cli/v3"
)

const (
	shutdownTimeout = 10 * time.Second
	// drainTimeout covers one flow whose steps each hit the request timeout.
	drainTimeout = 2 * time.Minute
)

var errMissingAdminToken = errors.New("admin token is required (--admin-token or ADMIN_TOKEN)")

func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Start the scheduler and the admin API",
		Flags:   serveFlags(),
		Action:  serveAction,
	}
}

func serveAction(ctx context.Context, command *cli.Command) error {
	logger := setupLogging(command)

	if command.String("admin-token") == "" {
		return errMissingAdminToken
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.InfoContext(ctx, "Initializing CheckinHub", "version", version)

	c, err := newComponents(ctx, command, logger)
	if err != nil {
		return err
	}

	defer c.Close(context.WithoutCancel(ctx))

	err = c.bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to events: %w", err)
	}

	err = c.scheduler.Start(ctx)
	if err != nil {
		return err
	}

	// runs the scheduler started must finish before the store is closed
	defer func() {
		c.scheduler.Stop()

		drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
		defer cancel()

		if err := c.scheduler.Wait(drainCtx); err != nil {
			logger.Warn("Scheduled runs still in flight at shutdown", "error", err)
		}
	}()

	api := NewAPI(
		logger,
		c.store,
		c.scheduler,
		c.worker,
		c.notifier,
		c.vault,
		command.String("admin-token"),
		command.StringSlice("cors-origins"),
	)
	app := api.App()

	listenErr := make(chan error, 1)

	go func() {
		port := command.Int("port")
		logger.InfoContext(ctx, "Admin API listening", "port", port)

		listenErr <- api.Start(app, port)
	}()

	select {
	case err := <-listenErr:
		if err != nil {
			return fmt.Errorf("admin API stopped: %w", err)
		}

		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutdown signal received")

	c.scheduler.Stop()

	err = app.ShutdownWithTimeout(shutdownTimeout)
	if err != nil {
		logger.Error("Failed to stop admin API", "error", err)

		return fmt.Errorf("failed to stop admin API: %w", err)
	}

	logger.Info("CheckinHub stopped")

	return nil
}
