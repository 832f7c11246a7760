// Package main provides the contentflow API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dukex/contentflow/pkg/orchestrator"
	"github.com/dukex/contentflow/pkg/scheduler"
	"github.com/dukex/contentflow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

const shutdownTimeout = 30 * time.Second

type API struct {
	logger       *slog.Logger
	orchestrator *orchestrator.Orchestrator
	scheduler    *scheduler.Scheduler
	validate     *validator.Validate
}

// NewAPI creates the server. sched may be nil.
func NewAPI(
	logger *slog.Logger,
	orchestrator *orchestrator.Orchestrator,
	sched *scheduler.Scheduler,
) *API {
	return &API{
		logger:       logger,
		orchestrator: orchestrator,
		scheduler:    sched,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.orchestrator, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("contentflow API")
	})

	handlers.Routes(app)

	return app
}

// Start serves until ctx is done, then stops the scheduler and the server.
func (a *API) Start(ctx context.Context, port int) error {
	app := a.App()

	if a.scheduler != nil {
		a.scheduler.Start()
	}

	served := make(chan error, 1)

	go func() {
		served <- app.Listen(":" + strconv.Itoa(port))
	}()

	select {
	case err := <-served:
		a.stopScheduler(ctx)

		return err
	case <-ctx.Done():
	}

	a.logger.InfoContext(ctx, "Shutting down contentflow API")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	a.stopScheduler(shutdownCtx)

	err := app.ShutdownWithContext(shutdownCtx)
	if err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}

	err = <-served
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (a *API) stopScheduler(ctx context.Context) {
	if a.scheduler == nil {
		return
	}

	err := a.scheduler.Stop(ctx)
	if err != nil {
		a.logger.ErrorContext(ctx, "Failed to stop scheduler", "error", err)
	}
}
