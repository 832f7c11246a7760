package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/contentflow/pkg/cmd"
	"github.com/dukex/contentflow/pkg/log"
	"github.com/dukex/contentflow/pkg/scheduler"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	logger := log.WithModule("api")

	command := &cli.Command{
		Name:                  "contentflow-api",
		Usage:                 "Serve the pipeline API and run scheduled pipelines",
		EnableShellCompletion: true,
		Flags: append([]cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.BoolFlag{
				Name:    "disable-scheduler",
				Usage:   "Do not start runs from the configured schedules",
				Sources: cli.EnvVars("DISABLE_SCHEDULER"),
			},
		}, cmd.RuntimeFlags()...),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.InfoContext(ctx, "Initializing contentflow API")

			runtime, err := cmd.NewRuntime(ctx, logger, cmd.RuntimeOptionsFrom(command, "contentflow-api"))
			if err != nil {
				return err
			}

			defer runtime.Close(context.WithoutCancel(ctx))

			var sched *scheduler.Scheduler
			if !command.Bool("disable-scheduler") {
				sched, err = scheduler.New(runtime.Orchestrator, runtime.Config.Schedules, logger)
				if err != nil {
					return err
				}
			}

			api := NewAPI(logger, runtime.Orchestrator, sched)

			err = api.Start(ctx, command.Int("port"))
			if err != nil {
				logger.ErrorContext(ctx, "Failed to serve API", "error", err)

				return err
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
