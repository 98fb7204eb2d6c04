package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"layerdeck/internal/config"
)

func TestDisabledWithoutDSN(t *testing.T) {
	on, err := Init(config.TelemetryConfig{})
	if err != nil || on {
		t.Fatalf("Init() = %v, %v; want disabled", on, err)
	}

	// All of these must be safe no-ops.
	ReportError(context.Background(), errors.New("boom"), map[string]string{"track_id": "x"})
	AddBreadcrumb(context.Background(), "playback", "play", nil)
	Flush(time.Millisecond)

	called := false
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !called {
		t.Error("middleware did not call the next handler")
	}
}

func TestInitRejectsMalformedDSN(t *testing.T) {
	if _, err := Init(config.TelemetryConfig{SentryDSN: "::not a dsn"}); err == nil {
		t.Error("expected error for malformed DSN")
	}
	if Enabled() {
		t.Error("Enabled() after failed Init")
	}
}
