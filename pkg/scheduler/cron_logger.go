package scheduler

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// cronLogger adapts slog to the cron.Logger interface. cron's info messages
// are logged at debug level.
type cronLogger struct {
	logger *slog.Logger
}

var _ cron.Logger = cronLogger{}

func newCronLogger(logger *slog.Logger) cronLogger {
	return cronLogger{logger: logger.With("component", "cron")}
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
