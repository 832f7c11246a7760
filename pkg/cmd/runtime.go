package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/contentflow/pkg/config"
	"github.com/dukex/contentflow/pkg/eventbus"
	"github.com/dukex/contentflow/pkg/orchestrator"
	"github.com/dukex/contentflow/pkg/otelhelper"
	"github.com/dukex/contentflow/pkg/persistence"
)

// RuntimeOptions carries the flags shared by every contentflow binary.
type RuntimeOptions struct {
	ServiceName  string
	DatabaseURL  string
	LogCapacity  int
	ConfigFile   string
	EventBus     string
	KafkaBrokers string
	DispatchMode string
	Tracing      bool
}

// Runtime bundles the store, bus and orchestrator of one process.
type Runtime struct {
	Config       *config.Config
	Persistence  persistence.Persistence
	EventBus     eventbus.EventBus
	Orchestrator *orchestrator.Orchestrator

	shutdownTracer otelhelper.ShutdownFunc
	logger         *slog.Logger
}

// NewRuntime opens every dependency described by opts. Without a config file
// no collaborator is configured, which suits read-only commands. Bus dispatch
// over an in-process bus registers the run handlers on that same bus.
func NewRuntime(ctx context.Context, logger *slog.Logger, opts RuntimeOptions) (*Runtime, error) {
	mode, err := orchestrator.ParseDispatchMode(opts.DispatchMode)
	if err != nil {
		return nil, err
	}

	cfg := &config.Config{}
	if opts.ConfigFile != "" {
		cfg, err = config.Load(opts.ConfigFile)
		if err != nil {
			return nil, err
		}
	}

	rt := &Runtime{Config: cfg, logger: logger}

	rt.Persistence, err = NewPersistence(ctx, logger, opts.DatabaseURL, opts.LogCapacity)
	if err != nil {
		return nil, fmt.Errorf("failed to open persistence: %w", err)
	}

	rt.EventBus, err = NewEventBus(opts.EventBus, opts.KafkaBrokers, opts.ServiceName, logger)
	if err != nil {
		rt.Close(ctx)

		return nil, err
	}

	orchestratorCfg := orchestrator.Config{
		Persistence:   rt.Persistence,
		Collaborators: cfg.BuildCollaborators(nil),
		Settings:      cfg.Settings(),
		Publisher:     rt.EventBus,
		Mode:          mode,
		Logger:        logger,
	}

	if opts.Tracing {
		tracer, shutdown, tracerErr := otelhelper.NewTracer(ctx, opts.ServiceName)
		if tracerErr != nil {
			rt.Close(ctx)

			return nil, fmt.Errorf("failed to create tracer: %w", tracerErr)
		}

		orchestratorCfg.Tracer = tracer
		rt.shutdownTracer = shutdown
	}

	rt.Orchestrator, err = orchestrator.New(orchestratorCfg)
	if err != nil {
		rt.Close(ctx)

		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	if mode == orchestrator.DispatchBus && !IsDistributed(opts.EventBus) {
		logger.InfoContext(ctx, "Handling run dispatches in process", "event_bus", opts.EventBus)

		err = rt.Consume(ctx)
		if err != nil {
			rt.Close(ctx)

			return nil, err
		}
	}

	return rt, nil
}

// Consume registers the run dispatch handlers and starts consuming.
func (rt *Runtime) Consume(ctx context.Context) error {
	err := rt.Orchestrator.RegisterHandlers(rt.EventBus)
	if err != nil {
		return fmt.Errorf("failed to register run handlers: %w", err)
	}

	err = rt.EventBus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to run dispatches: %w", err)
	}

	return nil
}

// Close stops running executions, then releases the bus, the tracer and the
// store in that order. Failures are logged.
func (rt *Runtime) Close(ctx context.Context) {
	if rt.Orchestrator != nil {
		err := rt.Orchestrator.Shutdown(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			rt.logger.ErrorContext(ctx, "Failed to shut down orchestrator", "error", err)
		}
	}

	if rt.EventBus != nil {
		err := rt.EventBus.Close()
		if err != nil {
			rt.logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}

	if rt.shutdownTracer != nil {
		err := rt.shutdownTracer(ctx)
		if err != nil {
			rt.logger.ErrorContext(ctx, "Failed to shut down tracer", "error", err)
		}
	}

	if rt.Persistence != nil {
		err := rt.Persistence.Close(ctx)
		if err != nil {
			rt.logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}
}
