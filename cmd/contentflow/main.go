package main

import (
	"context"
	"os"

	"github.com/dukex/contentflow/pkg/cmd"
	cli "github.com/urfave/cli/v3"
)

func main() {
	err := NewApp().Run(context.Background(), os.Args)
	if err != nil {
		os.Exit(1)
	}
}

// NewApp builds the contentflow command tree.
func NewApp() *cli.Command {
	return &cli.Command{
		Name:                  "contentflow",
		Usage:                 "Start, inspect and steer pipeline runs",
		EnableShellCompletion: true,
		Flags:                 cmd.RuntimeFlags(),
		Commands: []*cli.Command{
			StartCommand(),
			RunsCommand(),
			ShowCommand(),
			ApprovalsCommand(),
			ResolveCommand(),
			AbortCommand(),
			ResumeCommand(),
			LogsCommand(),
		},
	}
}
