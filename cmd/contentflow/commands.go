package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dukex/contentflow/pkg/cmd"
	"github.com/dukex/contentflow/pkg/log"
	"github.com/dukex/contentflow/pkg/models"
	"github.com/dukex/contentflow/pkg/orchestrator"
	"github.com/dukex/contentflow/pkg/persistence"
	"github.com/urfave/cli/v3"
)

// withRuntime opens the runtime for one command and closes it afterwards.
func withRuntime(fn func(ctx context.Context, command *cli.Command, o *orchestrator.Orchestrator) error) cli.ActionFunc {
	return func(ctx context.Context, command *cli.Command) error {
		log.Setup(command.String("log-level"), command.String("log-format"))

		logger := log.WithModule("cli")

		runtime, err := cmd.NewRuntime(ctx, logger, cmd.RuntimeOptionsFrom(command, "contentflow"))
		if err != nil {
			logger.ErrorContext(ctx, "Failed to initialize", "error", err)

			return err
		}

		defer runtime.Close(context.WithoutCancel(ctx))

		err = fn(ctx, command, runtime.Orchestrator)
		if err != nil {
			logger.ErrorContext(ctx, "Command failed", "command", command.Name, "error", err)
		}

		return err
	}
}

func StartCommand() *cli.Command {
	return &cli.Command{
		Name:  "start",
		Usage: "Start a run and wait until it completes, fails or pauses",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "kind", Usage: "Pipeline kind", Value: models.DefaultPipelineKind},
			&cli.StringFlag{Name: "title", Usage: "Topic title; the topic source is asked when empty"},
			&cli.StringFlag{Name: "seed", Usage: "Seed as a JSON object"},
			&cli.BoolFlag{Name: "detach", Usage: "Return as soon as the run is dispatched"},
		},
		Action: withRuntime(func(ctx context.Context, command *cli.Command, o *orchestrator.Orchestrator) error {
			seed, err := parseSeed(command.String("seed"))
			if err != nil {
				return err
			}

			if title := command.String("title"); title != "" {
				seed["title"] = title
			}

			handle, err := o.Start(ctx, orchestrator.StartRequest{
				Trigger: models.TriggerManual,
				Kind:    command.String("kind"),
				Seed:    seed,
			})
			if err != nil {
				return err
			}

			if command.Bool("detach") {
				return printRunByID(ctx, command.Root().Writer, o, handle.RunID)
			}

			return waitAndPrint(ctx, command.Root().Writer, o, handle)
		}),
	}
}

func RunsCommand() *cli.Command {
	return &cli.Command{
		Name:  "runs",
		Usage: "List runs, most recent first",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "status", Usage: "Filter by status (running, paused, completed, failed)"},
			&cli.IntFlag{Name: "limit", Usage: "Maximum number of runs", Value: 20},
		},
		Action: withRuntime(func(ctx context.Context, command *cli.Command, o *orchestrator.Orchestrator) error {
			opts := persistence.ListRunsOptions{Limit: command.Int("limit")}

			if raw := command.String("status"); raw != "" {
				status := models.RunStatus(raw)
				opts.Status = &status
			}

			runs, err := o.Runs(ctx, opts)
			if err != nil {
				return err
			}

			return printJSON(command.Root().Writer, runs)
		}),
	}
}

func ShowCommand() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Show a run",
		ArgsUsage: "<run-id>",
		Action: withRuntime(func(ctx context.Context, command *cli.Command, o *orchestrator.Orchestrator) error {
			runID, err := requireArg(command, "run id")
			if err != nil {
				return err
			}

			return printRunByID(ctx, command.Root().Writer, o, runID)
		}),
	}
}

func ApprovalsCommand() *cli.Command {
	return &cli.Command{
		Name:  "approvals",
		Usage: "List approvals",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "status", Usage: "Filter by status", Value: string(models.ApprovalStatusPending)},
			&cli.StringFlag{Name: "run", Usage: "List the approvals of one run"},
		},
		Action: withRuntime(func(ctx context.Context, command *cli.Command, o *orchestrator.Orchestrator) error {
			var (
				approvals []*models.Approval
				err       error
			)

			if runID := command.String("run"); runID != "" {
				approvals, err = o.RunApprovals(ctx, runID)
			} else {
				approvals, err = o.Approvals(ctx, models.ApprovalStatus(command.String("status")))
			}

			if err != nil {
				return err
			}

			return printJSON(command.Root().Writer, approvals)
		}),
	}
}

func ResolveCommand() *cli.Command {
	return &cli.Command{
		Name:      "resolve",
		Usage:     "Resolve a pending approval and continue the run when approved",
		ArgsUsage: "<approval-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "decision",
				Usage:    "approved, rejected or changes-requested",
				Required: true,
			},
			&cli.StringFlag{Name: "reviewer", Usage: "Reviewer name", Sources: cli.EnvVars("USER")},
			&cli.StringFlag{Name: "feedback", Usage: "Reviewer feedback"},
			&cli.BoolFlag{Name: "detach", Usage: "Return as soon as the continuation is dispatched"},
		},
		Action: withRuntime(func(ctx context.Context, command *cli.Command, o *orchestrator.Orchestrator) error {
			approvalID, err := requireArg(command, "approval id")
			if err != nil {
				return err
			}

			resolution, handle, err := o.ResolveApproval(ctx, approvalID, models.Decision{
				Status:   models.ApprovalStatus(command.String("decision")),
				Reviewer: command.String("reviewer"),
				Feedback: command.String("feedback"),
			})
			if err != nil {
				return err
			}

			if handle == nil || command.Bool("detach") {
				return printJSON(command.Root().Writer, resolution.Run)
			}

			return waitAndPrint(ctx, command.Root().Writer, o, handle)
		}),
	}
}

func AbortCommand() *cli.Command {
	return &cli.Command{
		Name:      "abort",
		Usage:     "Fail a running or paused run",
		ArgsUsage: "<run-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "reason", Usage: "Why the run is aborted"},
		},
		Action: withRuntime(func(ctx context.Context, command *cli.Command, o *orchestrator.Orchestrator) error {
			runID, err := requireArg(command, "run id")
			if err != nil {
				return err
			}

			run, err := o.Abort(ctx, runID, command.String("reason"))
			if err != nil {
				return err
			}

			return printJSON(command.Root().Writer, run)
		}),
	}
}

func ResumeCommand() *cli.Command {
	return &cli.Command{
		Name:      "resume",
		Usage:     "Continue a run interrupted while running",
		ArgsUsage: "<run-id>",
		Action: withRuntime(func(ctx context.Context, command *cli.Command, o *orchestrator.Orchestrator) error {
			runID, err := requireArg(command, "run id")
			if err != nil {
				return err
			}

			handle, err := o.Resume(ctx, runID)
			if err != nil {
				return err
			}

			return waitAndPrint(ctx, command.Root().Writer, o, handle)
		}),
	}
}

func LogsCommand() *cli.Command {
	return &cli.Command{
		Name:  "logs",
		Usage: "Query the journal",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "run", Usage: "Only entries of this run"},
			&cli.StringFlag{Name: "severity", Usage: "Only entries of this severity (info, warn, error, success)"},
			&cli.IntFlag{Name: "limit", Usage: "Maximum number of entries", Value: 100},
		},
		Action: withRuntime(func(ctx context.Context, command *cli.Command, o *orchestrator.Orchestrator) error {
			entries, err := o.Logs(ctx, models.LogFilter{
				CorrelationID: command.String("run"),
				Severity:      models.Severity(command.String("severity")),
				Limit:         command.Int("limit"),
			})
			if err != nil {
				return err
			}

			return printJSON(command.Root().Writer, entries)
		}),
	}
}

func waitAndPrint(ctx context.Context, w io.Writer, o *orchestrator.Orchestrator, handle *orchestrator.RunHandle) error {
	run, err := handle.Wait(ctx)
	if err != nil && run == nil {
		return err
	}

	if run == nil {
		return printRunByID(ctx, w, o, handle.RunID)
	}

	return printJSON(w, run)
}

func printRunByID(ctx context.Context, w io.Writer, o *orchestrator.Orchestrator, runID string) error {
	run, err := o.Run(ctx, runID)
	if err != nil {
		return err
	}

	return printJSON(w, run)
}

func parseSeed(raw string) (map[string]any, error) {
	seed := make(map[string]any)
	if raw == "" {
		return seed, nil
	}

	err := json.Unmarshal([]byte(raw), &seed)
	if err != nil {
		return nil, fmt.Errorf("invalid seed: %w", err)
	}

	return seed, nil
}

func requireArg(command *cli.Command, name string) (string, error) {
	value := command.Args().First()
	if value == "" {
		return "", errors.New("missing " + name)
	}

	return value, nil
}

func printJSON(w io.Writer, v any) error {
	if w == nil {
		w = os.Stdout
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	return encoder.Encode(v)
}
