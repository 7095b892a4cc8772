package observability

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/getsentry/sentry-go"
)

type captured struct {
	mu     sync.Mutex
	events []*sentry.Event
}

func (c *captured) all() []*sentry.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*sentry.Event(nil), c.events...)
}

func newTestHub(t *testing.T) (*sentry.Hub, *captured) {
	t.Helper()
	c := &captured{}
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn: "https://public@example.com/1",
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			c.mu.Lock()
			c.events = append(c.events, event)
			c.mu.Unlock()
			return nil
		},
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return sentry.NewHub(client, sentry.NewScope()), c
}

func TestSentryHandlerForwardsErrorsOnly(t *testing.T) {
	hub, c := newTestHub(t)
	var buf bytes.Buffer
	logger := slog.New(NewSentryHandler(slog.NewJSONHandler(&buf, nil), hub, slog.LevelError))

	logger.Info("login ok", "handle", "alice")
	logger.With("component", "mail").Error("mail send failed", "error", errors.New("smtp down"))
	logger.Error("plain failure")

	if !strings.Contains(buf.String(), "login ok") || !strings.Contains(buf.String(), "mail send failed") {
		t.Fatalf("expected records passed to the inner handler, got %s", buf.String())
	}

	events := c.all()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	first := events[0]
	if len(first.Exception) == 0 {
		t.Fatalf("expected error attribute captured as exception, got %+v", first)
	}
	if first.Extra["component"] != "mail" || first.Tags["log.message"] != "mail send failed" {
		t.Fatalf("unexpected event context: extra=%v tags=%v", first.Extra, first.Tags)
	}
	if events[1].Message != "plain failure" || events[1].Level != sentry.LevelError {
		t.Fatalf("unexpected message event %+v", events[1])
	}
}

func TestSentryHandlerGroupsKeys(t *testing.T) {
	hub, c := newTestHub(t)
	logger := slog.New(NewSentryHandler(slog.NewTextHandler(&bytes.Buffer{}, nil), hub, slog.LevelWarn))

	logger.WithGroup("download").Warn("denied", "reason", "assignment_revoked")

	events := c.all()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Extra["download.reason"] != "assignment_revoked" || events[0].Level != sentry.LevelWarning {
		t.Fatalf("unexpected event %+v", events[0])
	}
}

func TestRecoverReturns500(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := Recover(logger, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/files/1", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if !strings.Contains(buf.String(), "panic_recovered") {
		t.Fatalf("expected panic logged, got %s", buf.String())
	}
}

func TestRequestLoggingRecordsStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := RequestLogging(logger, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/admin", nil))

	if !strings.Contains(buf.String(), `"status":403`) || !strings.Contains(buf.String(), `"path":"/admin"`) {
		t.Fatalf("unexpected log line %s", buf.String())
	}
}
