package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/contentflow/pkg/cmd"
	"github.com/dukex/contentflow/pkg/log"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "contentflow-worker",
		EnableShellCompletion: true,
		Usage:                 "Execute pipeline runs dispatched over the event bus",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.BoolFlag{
				Name:    "recover",
				Usage:   "Resume runs left running by a previous process on startup",
				Sources: cli.EnvVars("RECOVER_RUNS"),
			},
		}, cmd.RuntimeFlags()...),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("contentflow-worker").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing contentflow worker")

			opts := cmd.RuntimeOptionsFrom(command, "contentflow-worker")
			opts.DispatchMode = "inline"

			runtime, err := cmd.NewRuntime(ctx, logger, opts)
			if err != nil {
				return err
			}

			defer runtime.Close(context.WithoutCancel(ctx))

			worker := NewWorker(workerID, runtime.Orchestrator, runtime.EventBus, logger)

			err = worker.Start(ctx)
			if err != nil {
				return err
			}

			if command.Bool("recover") {
				_, err = worker.Recover(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to recover runs", "error", err)
				}
			}

			<-ctx.Done()

			logger.InfoContext(ctx, "Stopping contentflow worker")

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
