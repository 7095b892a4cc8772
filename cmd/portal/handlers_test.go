package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	fileGate "github.com/MrEthical07/fileGate"
	"github.com/MrEthical07/fileGate/internal/rate"
	"github.com/MrEthical07/fileGate/password"
	"github.com/MrEthical07/fileGate/store/memstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const adminPassword = "Corr3ct!Horse#Battery"

type testPortal struct {
	engine  *fileGate.Engine
	handler http.Handler
}

func newTestPortal(t *testing.T, limitPerHour int) *testPortal {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg, err := loadConfig("", envMap(map[string]string{"SECRET_KEY": "0123456789abcdef0123"}))
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	ec := cfg.engineConfig()
	ec.Password.Argon2 = password.Argon2Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	ec.Password.AcceptLegacyBcrypt = false

	logger := slog.New(slog.DiscardHandler)
	engine, err := fileGate.New().
		WithConfig(ec).
		WithRedis(rdb).
		WithRepository(memstore.New()).
		WithLogger(logger).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	if err := bootstrapAdmin(context.Background(), engine, adminSection{Handle: "root", Email: "root@example.com", Password: adminPassword}, logger); err != nil {
		t.Fatalf("bootstrapAdmin failed: %v", err)
	}
	// A second bootstrap is a no-op.
	if err := bootstrapAdmin(context.Background(), engine, adminSection{Handle: "root", Email: "root@example.com", Password: adminPassword}, logger); err != nil {
		t.Fatalf("repeated bootstrapAdmin failed: %v", err)
	}

	srv := &server{
		engine:   engine,
		sessions: newSessionStore(rdb, "", 15*time.Minute, false),
		logger:   logger,
		baseURL:  cfg.BaseURL,
		checks:   map[string]pinger{"redis": redisPinger{rdb}},
		limiter:  rate.New(rdb, "", rate.Rule{Limit: limitPerHour, Window: time.Hour}),
	}
	return &testPortal{engine: engine, handler: srv.routes(nil)}
}

func (p *testPortal) do(t *testing.T, method, path string, body any, cookies []*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Marshal failed: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	p.handler.ServeHTTP(rec, req)
	return rec
}

func (p *testPortal) login(t *testing.T, handle, pw string) []*http.Cookie {
	t.Helper()
	rec := p.do(t, http.MethodPost, "/login", map[string]string{"handle": handle, "password": pw}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", rec.Code, rec.Body.String())
	}
	return rec.Result().Cookies()
}

func TestLoginSessionAndLogout(t *testing.T) {
	p := newTestPortal(t, 0)

	rec := p.do(t, http.MethodPost, "/login", map[string]string{"handle": "root", "password": "wrong"}, nil)
	if rec.Code != http.StatusUnauthorized || !strings.Contains(rec.Body.String(), "Invalid username or password") {
		t.Fatalf("expected generic 401, got %d %s", rec.Code, rec.Body.String())
	}

	cookies := p.login(t, "root", adminPassword)
	rec = p.do(t, http.MethodGet, "/account", nil, cookies)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"handle":"root"`) {
		t.Fatalf("unexpected account response %d %s", rec.Code, rec.Body.String())
	}

	if rec := p.do(t, http.MethodGet, "/account", nil, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without session, got %d", rec.Code)
	}
	if rec := p.do(t, http.MethodPost, "/files/1/download", nil, cookies); rec.Code != http.StatusForbidden {
		t.Fatalf("expected admin kept off customer routes, got %d", rec.Code)
	}

	if rec := p.do(t, http.MethodPost, "/logout", nil, cookies); rec.Code != http.StatusNoContent {
		t.Fatalf("logout failed: %d", rec.Code)
	}
	if rec := p.do(t, http.MethodGet, "/account", nil, cookies); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", rec.Code)
	}
}

func TestBadRequestBodies(t *testing.T) {
	p := newTestPortal(t, 0)

	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	p.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	rec = p.do(t, http.MethodPost, "/activate/not-a-token", map[string]string{"password": adminPassword}, nil)
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "invalid or has expired") {
		t.Fatalf("expected invalid link, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestAdminCreatesCustomerAndReadsLedger(t *testing.T) {
	p := newTestPortal(t, 0)
	cookies := p.login(t, "root", adminPassword)

	rec := p.do(t, http.MethodPost, "/admin/customers", map[string]string{
		"handle":       "alice",
		"email":        "alice@example.com",
		"company_name": "Alice Ltd",
	}, cookies)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create customer failed: %d %s", rec.Code, rec.Body.String())
	}
	var created struct {
		AccountID         int64  `json:"account_id"`
		TemporaryPassword string `json:"temporary_password"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if created.AccountID == 0 || created.TemporaryPassword == "" {
		t.Fatalf("unexpected response %s", rec.Body.String())
	}

	rec = p.do(t, http.MethodPost, "/admin/customers", map[string]string{
		"handle": "alice",
		"email":  "other@example.com",
	}, cookies)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate handle, got %d", rec.Code)
	}

	rec = p.do(t, http.MethodGet, "/admin/login-attempts?handle=root", nil, cookies)
	if rec.Code != http.StatusOK {
		t.Fatalf("ledger query failed: %d", rec.Code)
	}
	var attempts []fileGate.LoginAttempt
	if err := json.Unmarshal(rec.Body.Bytes(), &attempts); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if len(attempts) != 1 || !attempts[0].Success || attempts[0].SourceAddress != "192.0.2.1" {
		t.Fatalf("unexpected attempts %+v", attempts)
	}

	if rec := p.do(t, http.MethodGet, "/admin/downloads", nil, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected admin routes guarded, got %d", rec.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	p := newTestPortal(t, 0)
	p.login(t, "root", adminPassword)

	if rec := p.do(t, http.MethodGet, "/health", nil, nil); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"redis":"ok"`) {
		t.Fatalf("unexpected health %d %s", rec.Code, rec.Body.String())
	}
	rec := p.do(t, http.MethodGet, "/metrics", nil, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `filegate_logins_total{result="success"} 1`) {
		t.Fatalf("unexpected metrics %d %s", rec.Code, rec.Body.String())
	}
}

func TestPublicFormsAreRateLimited(t *testing.T) {
	p := newTestPortal(t, 2)

	for i := 0; i < 2; i++ {
		rec := p.do(t, http.MethodPost, "/forgot-password", map[string]string{"email": "nobody@example.com"}, nil)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("request %d: expected 202, got %d", i, rec.Code)
		}
	}
	rec := p.do(t, http.MethodPost, "/login", map[string]string{"handle": "root", "password": adminPassword}, nil)
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected 429 with Retry-After, got %d", rec.Code)
	}
	if rec := p.do(t, http.MethodGet, "/health", nil, nil); rec.Code != http.StatusOK {
		t.Fatalf("health must not be limited, got %d", rec.Code)
	}
}
