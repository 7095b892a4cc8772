package fileGate_test

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	fileGate "github.com/MrEthical07/fileGate"
	"github.com/MrEthical07/fileGate/store/memstore"
)

func TestLoginSucceedsAndRecordsLedger(t *testing.T) {
	h := newHarness(t)
	acc := h.activeCustomer(t, "alice")
	ctx := fileGate.WithUserAgent(fileGate.WithClientIP(context.Background(), "203.0.113.9"), "curl/8")

	res, err := h.engine.Login(ctx, "alice", strongPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if res.AccountID != acc.ID || res.Role != fileGate.RoleCustomer || res.MFARequired {
		t.Fatalf("unexpected result: %+v", res)
	}

	got := h.account(t, acc.ID)
	if got.LastLoginAt == nil || !got.LastLoginAt.Equal(h.clock.Now()) {
		t.Fatalf("expected last login at %v, got %v", h.clock.Now(), got.LastLoginAt)
	}

	attempts := h.loginAttempts(t, "alice")
	if len(attempts) != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", len(attempts))
	}
	a := attempts[0]
	if !a.Success || a.SourceAddress != "203.0.113.9" || a.ClientDescriptor != "curl/8" || a.FailureReason != "" {
		t.Fatalf("unexpected ledger entry: %+v", a)
	}
}

func TestLoginLocksAtThreshold(t *testing.T) {
	h := newHarness(t)
	acc := h.activeCustomer(t, "alice")
	ctx := context.Background()

	for want := 4; want >= 1; want-- {
		_, err := h.engine.Login(ctx, "alice", "wrong-password")
		lerr := loginError(t, err)
		if lerr.Reason != fileGate.ReasonInvalidPassword || lerr.Locked {
			t.Fatalf("expected plain failure, got %+v", lerr)
		}
		if lerr.AttemptsRemaining != want {
			t.Fatalf("expected %d attempts remaining, got %d", want, lerr.AttemptsRemaining)
		}
	}
	if got := h.account(t, acc.ID); got.Lockout.Locked || got.Lockout.FailedAttempts != 4 {
		t.Fatalf("expected active with 4 failures, got %+v", got.Lockout)
	}

	_, err := h.engine.Login(ctx, "alice", "wrong-password")
	lerr := loginError(t, err)
	if !lerr.Locked || !errors.Is(err, fileGate.ErrAccountLocked) {
		t.Fatalf("expected the fifth failure to lock, got %+v", lerr)
	}
	if !strings.Contains(lerr.Message(), "locked") {
		t.Fatalf("expected locked message, got %q", lerr.Message())
	}

	// Correct password while locked is still rejected.
	_, err = h.engine.Login(ctx, "alice", strongPassword)
	lerr = loginError(t, err)
	if lerr.Reason != fileGate.ReasonAccountLocked {
		t.Fatalf("expected account_locked, got %s", lerr.Reason)
	}

	got := h.account(t, acc.ID)
	if !got.Lockout.Locked || got.Lockout.FailedAttempts != 5 || got.Lockout.LockedUntil == nil {
		t.Fatalf("unexpected lockout state: %+v", got.Lockout)
	}
	if want := h.clock.Now().Add(30 * time.Minute); !got.Lockout.LockedUntil.Equal(want) {
		t.Fatalf("expected lock until %v, got %v", want, got.Lockout.LockedUntil)
	}
	if n := h.engine.MetricsSnapshot().Counters[fileGate.MetricAccountLocked]; n != 1 {
		t.Fatalf("expected one lock, got %d", n)
	}
	if n := len(h.loginAttempts(t, "alice")); n != 6 {
		t.Fatalf("expected 6 ledger entries, got %d", n)
	}
}

func TestLoginRemainingAttemptsMessage(t *testing.T) {
	h := newHarness(t)
	h.activeCustomer(t, "alice")

	var err error
	for i := 0; i < 4; i++ {
		_, err = h.engine.Login(context.Background(), "alice", "nope")
	}
	lerr := loginError(t, err)
	if lerr.Message() != "Invalid username or password. 1 attempt remaining." {
		t.Fatalf("unexpected message %q", lerr.Message())
	}
	if lerr.Error() != fileGate.ErrInvalidCredentials.Error() {
		t.Fatalf("Error() must stay generic, got %q", lerr.Error())
	}
}

func TestLoginSuccessResetsCounter(t *testing.T) {
	h := newHarness(t)
	acc := h.activeCustomer(t, "alice")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = h.engine.Login(ctx, "alice", "wrong")
	}
	if _, err := h.engine.Login(ctx, "alice", strongPassword); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if got := h.account(t, acc.ID).Lockout.FailedAttempts; got != 0 {
		t.Fatalf("expected counter reset, got %d", got)
	}
}

func TestLockExpiresOnNextLogin(t *testing.T) {
	h := newHarness(t)
	acc := h.activeCustomer(t, "alice")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = h.engine.Login(ctx, "alice", "wrong")
	}
	if !h.account(t, acc.ID).Lockout.Locked {
		t.Fatal("expected account locked")
	}

	h.clock.Advance(30*time.Minute - time.Second)
	if _, err := h.engine.Login(ctx, "alice", strongPassword); !errors.Is(err, fileGate.ErrAccountLocked) {
		t.Fatalf("expected lock to hold until expiry, got %v", err)
	}

	h.clock.Advance(time.Second)
	if _, err := h.engine.Login(ctx, "alice", strongPassword); err != nil {
		t.Fatalf("expected login after expiry, got %v", err)
	}
	got := h.account(t, acc.ID)
	if got.Lockout.Locked || got.Lockout.FailedAttempts != 0 || got.Lockout.LockedUntil != nil {
		t.Fatalf("expected cleared lockout, got %+v", got.Lockout)
	}
}

func TestLoginUnknownHandleIsGeneric(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.Login(context.Background(), "ghost", strongPassword)
	lerr := loginError(t, err)
	if lerr.Reason != fileGate.ReasonInvalidHandle {
		t.Fatalf("expected invalid_handle, got %s", lerr.Reason)
	}
	if !errors.Is(err, fileGate.ErrInvalidCredentials) || errors.Is(err, fileGate.ErrAccountLocked) {
		t.Fatalf("unexpected error identity: %v", err)
	}
	if lerr.Message() != "Invalid username or password." {
		t.Fatalf("unexpected message %q", lerr.Message())
	}

	attempts := h.loginAttempts(t, "ghost")
	if len(attempts) != 1 || attempts[0].FailureReason != fileGate.ReasonInvalidHandle {
		t.Fatalf("expected ledger entry for unknown handle, got %+v", attempts)
	}
	if !strings.Contains(h.logs.String(), "reason=invalid_handle") {
		t.Fatalf("expected reason in logs, got %s", h.logs.String())
	}
}

func TestDisabledAccountRejectedRegardlessOfLock(t *testing.T) {
	h := newHarness(t)
	acc := h.activeCustomer(t, "alice")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = h.engine.Login(ctx, "alice", "wrong")
	}
	if err := h.engine.SetAccountActive(ctx, acc.ID, false); err != nil {
		t.Fatalf("SetAccountActive failed: %v", err)
	}

	_, err := h.engine.Login(ctx, "alice", strongPassword)
	lerr := loginError(t, err)
	if lerr.Reason != fileGate.ReasonAccountInactive || !errors.Is(err, fileGate.ErrAccountInactive) {
		t.Fatalf("expected account_inactive, got %+v", lerr)
	}

	if err := h.engine.UnlockAccount(ctx, acc.ID); err != nil {
		t.Fatalf("UnlockAccount failed: %v", err)
	}
	if _, err := h.engine.Login(ctx, "alice", strongPassword); !errors.Is(err, fileGate.ErrAccountInactive) {
		t.Fatalf("expected still inactive after unlock, got %v", err)
	}

	if err := h.engine.SetAccountActive(ctx, acc.ID, true); err != nil {
		t.Fatalf("SetAccountActive failed: %v", err)
	}
	if _, err := h.engine.Login(ctx, "alice", strongPassword); err != nil {
		t.Fatalf("expected login after re-enable, got %v", err)
	}
}

// countingHasher rejects every password and counts the verifications.
type countingHasher struct {
	verifies atomic.Int32
}

func (c *countingHasher) Hash(string) (string, error) {
	return "", errors.New("not supported")
}

func (c *countingHasher) Verify(string, string) (bool, error) {
	c.verifies.Add(1)
	return false, nil
}

func (c *countingHasher) NeedsUpgrade(string) (bool, error) {
	return false, nil
}

func TestInactiveAccountLoginCostsOneVerify(t *testing.T) {
	h := newHarness(t)
	acc := h.activeCustomer(t, "alice")
	ctx := context.Background()
	if err := h.engine.SetAccountActive(ctx, acc.ID, false); err != nil {
		t.Fatalf("SetAccountActive failed: %v", err)
	}

	hasher := &countingHasher{}
	fileGate.SetHasher(h.engine, hasher)

	_, err := h.engine.Login(ctx, "nobody", strongPassword)
	if lerr := loginError(t, err); lerr.Reason != fileGate.ReasonInvalidHandle {
		t.Fatalf("expected invalid_handle, got %+v", lerr)
	}
	unknown := hasher.verifies.Swap(0)

	_, err = h.engine.Login(ctx, "alice", strongPassword)
	if lerr := loginError(t, err); lerr.Reason != fileGate.ReasonAccountInactive {
		t.Fatalf("expected account_inactive, got %+v", lerr)
	}
	if got := hasher.verifies.Load(); got != 1 || got != unknown {
		t.Fatalf("inactive account ran %d verifications, unknown handle ran %d", got, unknown)
	}
}

func TestLockoutEntryPoints(t *testing.T) {
	h := newHarness(t)
	acc := h.activeCustomer(t, "alice")
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		out, err := h.engine.RecordFailure(ctx, acc.ID)
		if err != nil {
			t.Fatalf("RecordFailure failed: %v", err)
		}
		if out.JustLocked {
			t.Fatalf("locked early at failure %d", i+1)
		}
	}
	if err := h.engine.RecordSuccess(ctx, acc.ID); err != nil {
		t.Fatalf("RecordSuccess failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		_, _ = h.engine.RecordFailure(ctx, acc.ID)
	}

	locked, until, err := h.engine.CheckLocked(ctx, acc.ID)
	if err != nil || !locked || until == nil {
		t.Fatalf("expected locked, got %v %v %v", locked, until, err)
	}

	if err := h.engine.UnlockAccount(ctx, acc.ID); err != nil {
		t.Fatalf("UnlockAccount failed: %v", err)
	}
	locked, _, _ = h.engine.CheckLocked(ctx, acc.ID)
	if locked {
		t.Fatal("expected unlocked")
	}
	if got := h.account(t, acc.ID).Lockout.FailedAttempts; got != 0 {
		t.Fatalf("expected counter cleared, got %d", got)
	}

	if _, err := h.engine.RecordFailure(ctx, 999); !errors.Is(err, fileGate.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

// racyStore keeps the atomic UpdateAccount contract but widens every window
// around it: reads are delayed so callers act on stale copies, and the
// mutation yields mid-update.
type racyStore struct {
	*memstore.Store
}

func (s racyStore) GetAccountByHandle(ctx context.Context, handle string) (*fileGate.Account, error) {
	acc, err := s.Store.GetAccountByHandle(ctx, handle)
	runtime.Gosched()
	time.Sleep(time.Millisecond)
	return acc, err
}

func (s racyStore) UpdateAccount(ctx context.Context, id int64, mutate func(*fileGate.Account) error) (*fileGate.Account, error) {
	runtime.Gosched()
	return s.Store.UpdateAccount(ctx, id, func(a *fileGate.Account) error {
		runtime.Gosched()
		return mutate(a)
	})
}

func TestConcurrentFailuresLockExactlyOnce(t *testing.T) {
	h := newHarness(t, withRepository(racyStore{memstore.New()}))
	acc := h.activeCustomer(t, "alice")

	const n = 12
	start := make(chan struct{})
	errs := make(chan error, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			<-start
			_, err := h.engine.Login(context.Background(), "alice", "wrong-password")
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	var invalidPassword, justLocked int
	for err := range errs {
		lerr := loginError(t, err)
		switch lerr.Reason {
		case fileGate.ReasonInvalidPassword:
			invalidPassword++
			if lerr.Locked {
				justLocked++
			}
		case fileGate.ReasonAccountLocked:
		default:
			t.Fatalf("unexpected reason %s", lerr.Reason)
		}
	}

	if invalidPassword != 5 || justLocked != 1 {
		t.Fatalf("expected 5 counted failures and 1 lock, got %d and %d", invalidPassword, justLocked)
	}
	got := h.account(t, acc.ID)
	if !got.Lockout.Locked || got.Lockout.FailedAttempts != 5 {
		t.Fatalf("unexpected lockout state: %+v", got.Lockout)
	}
	if locks := h.engine.MetricsSnapshot().Counters[fileGate.MetricAccountLocked]; locks != 1 {
		t.Fatalf("expected exactly one lock, got %d", locks)
	}
	if entries := len(h.loginAttempts(t, "alice")); entries != n {
		t.Fatalf("expected %d ledger entries, got %d", n, entries)
	}
}

func TestAuditEventsEmitted(t *testing.T) {
	h := newHarness(t)
	h.activeCustomer(t, "alice")
	for i := 0; i < 5; i++ {
		_, _ = h.engine.Login(context.Background(), "alice", "wrong")
	}
	h.engine.Close()

	var failures, locks int
	for {
		select {
		case ev := <-h.audit.Events():
			switch ev.EventType {
			case "login_failure":
				failures++
				if ev.Error != string(fileGate.ReasonInvalidPassword) {
					t.Fatalf("unexpected audit error %q", ev.Error)
				}
			case "account_locked":
				locks++
			}
			continue
		default:
		}
		break
	}
	if failures != 5 || locks != 1 {
		t.Fatalf("expected 5 failures and 1 lock event, got %d and %d", failures, locks)
	}
}
