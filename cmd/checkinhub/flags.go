package main

import (
	cli "github.com/urfave/cli/v3"
)

const (
	defaultPort        = 8000
	defaultDatabaseURL = "file://./data"
)

func portFlag() cli.Flag {
	return &cli.IntFlag{
		Name:    "port",
		Aliases: []string{"p"},
		Usage:   "Port to run the API server on",
		Value:   defaultPort,
		Sources: cli.EnvVars("PORT"),
	}
}

func databaseURLFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "database-url",
		Usage:   "Persistence URL: file://<dir>, postgres://..., or redis://...",
		Value:   defaultDatabaseURL,
		Sources: cli.EnvVars("DATABASE_URL"),
	}
}

func encryptionKeyFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "encryption-key",
		Usage:   "Passphrase the credential vault key is derived from",
		Sources: cli.EnvVars("ENCRYPTION_KEY"),
	}
}

func adminTokenFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "admin-token",
		Usage:   "Bearer token required by the admin API",
		Sources: cli.EnvVars("ADMIN_TOKEN"),
	}
}

func webhookURLFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "webhook-url",
		Usage:   "URL notified when a run fails",
		Sources: cli.EnvVars("WEBHOOK_URL"),
	}
}

func corsOriginsFlag() cli.Flag {
	return &cli.StringSliceFlag{
		Name:    "cors-origins",
		Usage:   "Origins allowed to call the admin API",
		Value:   []string{"*"},
		Sources: cli.EnvVars("CORS_ORIGINS"),
	}
}

func eventBusFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "event-bus",
		Usage:   "Event bus type (gochannel, kafka)",
		Value:   "gochannel",
		Sources: cli.EnvVars("EVENT_BUS"),
	}
}

func kafkaBrokersFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "kafka-brokers",
		Usage:   "Comma separated Kafka brokers used by the kafka event bus",
		Sources: cli.EnvVars("KAFKA_BROKERS"),
	}
}

func logLevelFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "log-level",
		Usage:   "Log level (debug, info, warn, error)",
		Value:   "info",
		Sources: cli.EnvVars("LOG_LEVEL"),
	}
}

func logFormatFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "log-format",
		Usage:   "Log format (text, json)",
		Value:   "text",
		Sources: cli.EnvVars("LOG_FORMAT"),
	}
}

func tracingFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:    "tracing",
		Usage:   "Export OpenTelemetry traces over OTLP/HTTP",
		Sources: cli.EnvVars("OTEL_ENABLED"),
	}
}

// runtimeFlags are shared by every command that executes flows.
func runtimeFlags() []cli.Flag {
	return []cli.Flag{
		databaseURLFlag(),
		encryptionKeyFlag(),
		webhookURLFlag(),
		eventBusFlag(),
		kafkaBrokersFlag(),
		logLevelFlag(),
		logFormatFlag(),
		tracingFlag(),
	}
}

func serveFlags() []cli.Flag {
	return append([]cli.Flag{
		portFlag(),
		adminTokenFlag(),
		corsOriginsFlag(),
	}, runtimeFlags()...)
}
