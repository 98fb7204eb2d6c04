// Package telemetry forwards errors to Sentry when a DSN is configured.
// Without a DSN every function is a no-op.
package telemetry

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"layerdeck/internal/config"

	sentry "github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"
)

var enabled atomic.Bool

// Init configures the Sentry client. It reports whether reporting is on.
func Init(cfg config.TelemetryConfig) (bool, error) {
	if cfg.SentryDSN == "" {
		enabled.Store(false)
		return false, nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.SentryDSN,
		Environment:      cfg.Environment,
		Release:          cfg.Release,
		TracesSampleRate: 0.2,
	}); err != nil {
		return false, err
	}
	enabled.Store(true)
	return true, nil
}

// Enabled reports whether Init configured a client.
func Enabled() bool {
	return enabled.Load()
}

// hub returns the request-scoped hub when ctx carries one.
func hub(ctx context.Context) *sentry.Hub {
	if ctx != nil {
		if h := sentry.GetHubFromContext(ctx); h != nil {
			return h
		}
	}
	return sentry.CurrentHub()
}

// ReportError captures err with the given tags.
func ReportError(ctx context.Context, err error, tags map[string]string) {
	if !Enabled() || err == nil {
		return
	}
	h := hub(ctx).Clone()
	h.ConfigureScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
	})
	h.CaptureException(err)
}

// AddBreadcrumb records a playback step on the hub in ctx.
func AddBreadcrumb(ctx context.Context, category, message string, data map[string]interface{}) {
	if !Enabled() {
		return
	}
	hub(ctx).AddBreadcrumb(&sentry.Breadcrumb{
		Category: category,
		Message:  message,
		Data:     data,
		Level:    sentry.LevelInfo,
	}, nil)
}

// Middleware attaches a hub to every request and reports panics.
func Middleware(next http.Handler) http.Handler {
	if !Enabled() {
		return next
	}
	return sentryhttp.New(sentryhttp.Options{Repanic: true}).Handle(next)
}

// Flush waits for buffered events to be sent.
func Flush(timeout time.Duration) {
	if !Enabled() {
		return
	}
	sentry.Flush(timeout)
}
