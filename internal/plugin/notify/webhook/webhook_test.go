package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentorch/ao/internal/common/config"
	"github.com/agentorch/ao/internal/common/logger"
	"github.com/agentorch/ao/internal/oerr"
	"github.com/agentorch/ao/internal/plugin"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func testNotification() plugin.Notification {
	return plugin.Notification{
		Type:      "session.needs_input",
		Priority:  "urgent",
		SessionID: "tbp-1",
		ProjectID: "taskboard",
		Message:   "agent is waiting for input",
		Timestamp: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC),
	}
}

func newNotifier(t *testing.T, url string) *Notifier {
	t.Helper()
	return New(config.WebhookConfig{URL: url, RatePerSecond: 100, Burst: 10}, testLogger(t))
}

func TestNotifyDeliversPayload(t *testing.T) {
	var got payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content type = %q", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := newNotifier(t, srv.URL).Notify(context.Background(), testNotification()); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if got.SessionID != "tbp-1" || got.Priority != "urgent" {
		t.Errorf("payload = %+v", got)
	}
}

func TestNotifyRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := newNotifier(t, srv.URL).Notify(context.Background(), testNotification()); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestNotifyDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := newNotifier(t, srv.URL).Notify(context.Background(), testNotification())
	if err == nil {
		t.Fatal("Notify() succeeded on 400")
	}
	if oerr.IsKind(err, oerr.KindTransient) {
		t.Errorf("400 classified transient: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestClassifyResponse(t *testing.T) {
	tests := []struct {
		status    int
		retryHint string
		wantErr   bool
		wantKind  oerr.Kind
		wantWait  time.Duration
	}{
		{200, "", false, "", 0},
		{204, "", false, "", 0},
		{429, "3", true, oerr.KindTransient, 3 * time.Second},
		{500, "", true, oerr.KindTransient, 0},
		{503, "9999", true, oerr.KindTransient, maxBackoff},
		{403, "", true, oerr.KindPlugin, 0},
	}
	for _, tt := range tests {
		wait, err := classifyResponse(tt.status, tt.retryHint)
		if (err != nil) != tt.wantErr {
			t.Errorf("classifyResponse(%d) error = %v, wantErr %v", tt.status, err, tt.wantErr)
			continue
		}
		if err != nil && oerr.KindOf(err) != tt.wantKind {
			t.Errorf("classifyResponse(%d) kind = %v, want %v", tt.status, oerr.KindOf(err), tt.wantKind)
		}
		if wait != tt.wantWait {
			t.Errorf("classifyResponse(%d) wait = %v, want %v", tt.status, wait, tt.wantWait)
		}
	}
}

func TestNotifyRequiresURL(t *testing.T) {
	n := New(config.WebhookConfig{RatePerSecond: 1, Burst: 1}, testLogger(t))
	err := n.Notify(context.Background(), testNotification())
	if !oerr.IsKind(err, oerr.KindConfig) {
		t.Errorf("error = %v, want config kind", err)
	}
}
