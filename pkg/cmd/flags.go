package cmd

import (
	"github.com/dukex/contentflow/pkg/persistence"
	"github.com/urfave/cli/v3"
)

// RuntimeFlags returns the flags read by RuntimeOptionsFrom.
func RuntimeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "database-url",
			Usage:    "Database connection URL for persistence (file path, postgres:// or redis://)",
			Required: true,
			Sources:  cli.EnvVars("DATABASE_URL"),
		},
		&cli.IntFlag{
			Name:    "log-capacity",
			Usage:   "Maximum number of journal entries kept",
			Value:   persistence.DefaultLogCapacity,
			Sources: cli.EnvVars("LOG_CAPACITY"),
		},
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to the pipeline YAML configuration",
			Sources: cli.EnvVars("CONFIG_FILE"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (memory, kafka)",
			Value:   "memory",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Comma separated Kafka brokers",
			Value:   "localhost:9092",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "dispatch-mode",
			Usage:   "How runs are executed (inline, bus)",
			Value:   "inline",
			Sources: cli.EnvVars("DISPATCH_MODE"),
		},
		&cli.BoolFlag{
			Name:    "tracing",
			Usage:   "Export traces over OTLP/HTTP",
			Sources: cli.EnvVars("TRACING_ENABLED"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format (text, json)",
			Value:   "text",
			Sources: cli.EnvVars("LOG_FORMAT"),
		},
	}
}

// RuntimeOptionsFrom reads the runtime flags of command.
func RuntimeOptionsFrom(command *cli.Command, serviceName string) RuntimeOptions {
	return RuntimeOptions{
		ServiceName:  serviceName,
		DatabaseURL:  command.String("database-url"),
		LogCapacity:  command.Int("log-capacity"),
		ConfigFile:   command.String("config"),
		EventBus:     command.String("event-bus"),
		KafkaBrokers: command.String("kafka-brokers"),
		DispatchMode: command.String("dispatch-mode"),
		Tracing:      command.Bool("tracing"),
	}
}
