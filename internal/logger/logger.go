package logger

import (
	"log/slog"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	slogmulti "github.com/samber/slog-multi"
	slogsentry "github.com/samber/slog-sentry/v2"
)

// Log is the global logger instance
var Log *slog.Logger

// sentryEnabled records whether Init wired the Sentry handler, so Flush is a no-op otherwise.
var sentryEnabled bool

// Init initializes the global logger based on environment
// Development: Text format with Debug level
// Production: JSON format with Info level
// Error records (storage and consistency faults) are forwarded to Sentry when a DSN is set
func Init(isDev bool, sentryDSN, service string) *slog.Logger {
	var handlers []slog.Handler

	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if isDev {
		opts.Level = slog.LevelDebug
		handlers = append(handlers, slog.NewTextHandler(os.Stdout, opts))
	} else {
		handlers = append(handlers, slog.NewJSONHandler(os.Stdout, opts))
	}

	if sentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              sentryDSN,
			ServerName:       service,
			TracesSampleRate: 1.0,
		})
		if err != nil {
			// stdout logging still works, report and continue without Sentry
			slog.New(handlers[0]).Warn("sentry init failed", "error", err)
		} else {
			sentryEnabled = true
			handlers = append(handlers, slogsentry.Option{
				Level:     slog.LevelError,
				AddSource: true,
			}.NewSentryHandler())
		}
	}

	var handler slog.Handler
	if len(handlers) > 1 {
		handler = slogmulti.Fanout(handlers...)
	} else {
		handler = handlers[0]
	}

	Log = slog.New(handler).With("service", service)
	slog.SetDefault(Log)
	return Log
}

// Flush waits for buffered Sentry events to be delivered. Call before process exit.
func Flush(timeout time.Duration) {
	if sentryEnabled {
		sentry.Flush(timeout)
	}
}
