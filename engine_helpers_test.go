package fileGate_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	fileGate "github.com/MrEthical07/fileGate"
	"github.com/MrEthical07/fileGate/password"
	"github.com/MrEthical07/fileGate/store/memstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const strongPassword = "Corr3ct!Horse#Battery"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sentMail struct {
	to         string
	templateID string
	vars       map[string]string
}

type recordingMailer struct {
	sent chan sentMail
	err  error
}

func newRecordingMailer() *recordingMailer {
	return &recordingMailer{sent: make(chan sentMail, 32)}
}

func (m *recordingMailer) Send(_ context.Context, to, templateID string, vars map[string]string) error {
	m.sent <- sentMail{to: to, templateID: templateID, vars: vars}
	return m.err
}

func (m *recordingMailer) next(t *testing.T) sentMail {
	t.Helper()
	select {
	case msg := <-m.sent:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for mail")
		return sentMail{}
	}
}

type memFiles map[string][]byte

func (m memFiles) Exists(_ context.Context, path string) (bool, error) {
	_, ok := m[path]
	return ok, nil
}

func (m memFiles) Open(_ context.Context, path string) (io.ReadCloser, error) {
	b, ok := m[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type harness struct {
	engine *fileGate.Engine
	repo   fileGate.Repository
	clock  *fakeClock
	mailer *recordingMailer
	files  memFiles
	logs   *syncBuffer
	audit  *fileGate.ChannelSink
}

type harnessOption func(*fileGate.Config, *harnessDeps)

type harnessDeps struct {
	repo   fileGate.Repository
	mailer *recordingMailer
}

func withRepository(repo fileGate.Repository) harnessOption {
	return func(_ *fileGate.Config, d *harnessDeps) { d.repo = repo }
}

func withConfig(fn func(*fileGate.Config)) harnessOption {
	return func(cfg *fileGate.Config, _ *harnessDeps) { fn(cfg) }
}

func withMailer(m *recordingMailer) harnessOption {
	return func(_ *fileGate.Config, d *harnessDeps) { d.mailer = m }
}

func testConfig() fileGate.Config {
	cfg := fileGate.DefaultConfig()
	cfg.Token.Secret = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.Argon2 = password.Argon2Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
	cfg.Password.AcceptLegacyBcrypt = false
	cfg.Metrics.Enabled = true
	return cfg
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := testConfig()
	deps := harnessDeps{repo: memstore.New(), mailer: newRecordingMailer()}
	for _, opt := range opts {
		opt(&cfg, &deps)
	}

	h := &harness{
		repo:   deps.repo,
		clock:  &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
		mailer: deps.mailer,
		files:  memFiles{},
		logs:   &syncBuffer{},
		audit:  fileGate.NewChannelSink(1024),
	}

	engine, err := fileGate.New().
		WithConfig(cfg).
		WithRepository(h.repo).
		WithRedis(rdb).
		WithMailer(h.mailer).
		WithFileStore(h.files).
		WithAuditSink(h.audit).
		WithLogger(slog.New(slog.NewTextHandler(h.logs, nil))).
		WithClock(h.clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	h.engine = engine

	t.Cleanup(func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	})
	return h
}

// activeCustomer creates, activates and accepts terms for a customer.
func (h *harness) activeCustomer(t *testing.T, handle string) *fileGate.Account {
	t.Helper()
	ctx := context.Background()

	created, err := h.engine.CreateCustomer(ctx, fileGate.NewCustomer{
		Handle:      handle,
		Email:       handle + "@example.com",
		CompanyName: "Acme",
	})
	if err != nil {
		t.Fatalf("CreateCustomer failed: %v", err)
	}
	h.mailer.next(t)

	if err := h.engine.ActivateAccount(ctx, created.ActivationToken, strongPassword); err != nil {
		t.Fatalf("ActivateAccount failed: %v", err)
	}
	if err := h.engine.AcceptTerms(ctx, created.Account.ID); err != nil {
		t.Fatalf("AcceptTerms failed: %v", err)
	}
	acc, err := h.repo.GetAccountByID(ctx, created.Account.ID)
	if err != nil {
		t.Fatalf("GetAccountByID failed: %v", err)
	}
	return acc
}

func (h *harness) account(t *testing.T, id int64) *fileGate.Account {
	t.Helper()
	acc, err := h.repo.GetAccountByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetAccountByID failed: %v", err)
	}
	return acc
}

func (h *harness) loginAttempts(t *testing.T, handle string) []fileGate.LoginAttempt {
	t.Helper()
	attempts, err := h.engine.LoginAttempts(context.Background(), fileGate.LoginAttemptQuery{Handle: handle})
	if err != nil {
		t.Fatalf("LoginAttempts failed: %v", err)
	}
	return attempts
}

func (h *harness) registerFile(t *testing.T, name string, content []byte) *fileGate.File {
	t.Helper()
	path := "files/" + name
	h.files[path] = content
	f, err := h.engine.RegisterFile(context.Background(), fileGate.File{
		OriginalName: name,
		StoragePath:  path,
		SizeBytes:    int64(len(content)),
		ContentType:  "application/octet-stream",
	})
	if err != nil {
		t.Fatalf("RegisterFile failed: %v", err)
	}
	return f
}

func loginError(t *testing.T, err error) *fileGate.LoginError {
	t.Helper()
	var lerr *fileGate.LoginError
	if !errors.As(err, &lerr) {
		t.Fatalf("expected *LoginError, got %T: %v", err, err)
	}
	return lerr
}
