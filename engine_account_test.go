package fileGate_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	fileGate "github.com/MrEthical07/fileGate"
	"github.com/MrEthical07/fileGate/password"
	"github.com/MrEthical07/fileGate/store/memstore"
)

func tokenFromURL(t *testing.T, url string) string {
	t.Helper()
	i := strings.LastIndex(url, "/")
	if i < 0 || i == len(url)-1 {
		t.Fatalf("no token in %q", url)
	}
	return url[i+1:]
}

func TestCreateCustomerSendsActivation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	created, err := h.engine.CreateCustomer(ctx, fileGate.NewCustomer{
		Handle:      "alice",
		Email:       "Alice@Example.com",
		CompanyName: "Acme",
	})
	if err != nil {
		t.Fatalf("CreateCustomer failed: %v", err)
	}
	acc := created.Account
	if acc.Active || acc.Activated || acc.Role != fileGate.RoleCustomer || acc.Email != "alice@example.com" {
		t.Fatalf("unexpected new account: %+v", acc)
	}
	if err := h.engine.Policy().ValidateStrength(created.TemporaryPassword); err != nil {
		t.Fatalf("temporary password is weak: %v", err)
	}

	msg := h.mailer.next(t)
	if msg.to != "alice@example.com" || msg.templateID != fileGate.MailTemplateWelcome {
		t.Fatalf("unexpected mail: %+v", msg)
	}
	if want := "http://localhost:8080/activate/" + created.ActivationToken; msg.vars["activation_url"] != want {
		t.Fatalf("expected activation url %q, got %q", want, msg.vars["activation_url"])
	}
	if msg.vars["customer_name"] != "Acme" || msg.vars["company_name"] == "" {
		t.Fatalf("missing template vars: %v", msg.vars)
	}

	// Inactive until activation, even with the temporary password.
	_, err = h.engine.Login(ctx, "alice", created.TemporaryPassword)
	if lerr := loginError(t, err); lerr.Reason != fileGate.ReasonAccountInactive {
		t.Fatalf("expected account_inactive, got %s", lerr.Reason)
	}

	_, err = h.engine.CreateCustomer(ctx, fileGate.NewCustomer{Handle: "alice2", Email: "ALICE@example.com"})
	if !errors.Is(err, fileGate.ErrAccountExists) {
		t.Fatalf("expected duplicate email to be rejected, got %v", err)
	}
	_, err = h.engine.CreateCustomer(ctx, fileGate.NewCustomer{Handle: "bob", Email: "not an email"})
	if !errors.Is(err, fileGate.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestActivateAccountOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	created, err := h.engine.CreateCustomer(ctx, fileGate.NewCustomer{Handle: "alice", Email: "alice@example.com"})
	if err != nil {
		t.Fatalf("CreateCustomer failed: %v", err)
	}
	h.mailer.next(t)

	err = h.engine.ActivateAccount(ctx, created.ActivationToken, "short")
	if !errors.Is(err, fileGate.ErrValidation) || !errors.Is(err, password.ErrWeakPassword) {
		t.Fatalf("expected weak password rejection, got %v", err)
	}
	if h.account(t, created.Account.ID).Activated {
		t.Fatal("weak password must not activate")
	}

	if err := h.engine.ActivateAccount(ctx, created.ActivationToken, strongPassword); err != nil {
		t.Fatalf("ActivateAccount failed: %v", err)
	}
	acc := h.account(t, created.Account.ID)
	if !acc.Active || !acc.Activated {
		t.Fatalf("expected active account, got %+v", acc)
	}

	if err := h.engine.ActivateAccount(ctx, created.ActivationToken, strongPassword+"x"); !errors.Is(err, fileGate.ErrAlreadyActivated) {
		t.Fatalf("expected second activation to fail, got %v", err)
	}
	if _, err := h.engine.Login(ctx, "alice", strongPassword); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if n := h.engine.MetricsSnapshot().Counters[fileGate.MetricActivationSuccess]; n != 1 {
		t.Fatalf("expected one activation, got %d", n)
	}
}

func TestActivationTokenRejectedForReset(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	created, err := h.engine.CreateCustomer(ctx, fileGate.NewCustomer{Handle: "alice", Email: "alice@example.com"})
	if err != nil {
		t.Fatalf("CreateCustomer failed: %v", err)
	}
	h.mailer.next(t)

	if err := h.engine.ResetPassword(ctx, created.ActivationToken, strongPassword); !errors.Is(err, fileGate.ErrTokenInvalid) {
		t.Fatalf("expected purpose mismatch, got %v", err)
	}
	if !strings.Contains(h.logs.String(), "token rejected") {
		t.Fatalf("expected rejection to be logged, got %s", h.logs.String())
	}
}

func TestPasswordResetIsSingleUseAndUnlocks(t *testing.T) {
	h := newHarness(t)
	acc := h.activeCustomer(t, "alice")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = h.engine.Login(ctx, "alice", "wrong")
	}
	if !h.account(t, acc.ID).Lockout.Locked {
		t.Fatal("expected lock")
	}

	if err := h.engine.RequestPasswordReset(ctx, "ALICE@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	msg := h.mailer.next(t)
	if msg.templateID != fileGate.MailTemplatePasswordReset {
		t.Fatalf("unexpected mail: %+v", msg)
	}
	tok := tokenFromURL(t, msg.vars["reset_url"])

	const newPassword = "An0ther!Strong#Secret"
	if err := h.engine.ResetPassword(ctx, tok, newPassword); err != nil {
		t.Fatalf("ResetPassword failed: %v", err)
	}
	got := h.account(t, acc.ID)
	if got.Lockout.Locked || got.Lockout.FailedAttempts != 0 {
		t.Fatalf("expected reset to unlock, got %+v", got.Lockout)
	}

	if err := h.engine.ResetPassword(ctx, tok, "Th1rd!Strong#Secret"); !errors.Is(err, fileGate.ErrTokenInvalid) {
		t.Fatalf("expected reused token to fail, got %v", err)
	}

	if _, err := h.engine.Login(ctx, "alice", strongPassword); err == nil {
		t.Fatal("old password must stop working")
	}
	if _, err := h.engine.Login(ctx, "alice", newPassword); err != nil {
		t.Fatalf("Login with new password failed: %v", err)
	}
}

// failingStore refuses account writes while fail is set.
type failingStore struct {
	*memstore.Store
	fail *atomic.Bool
}

func (s failingStore) UpdateAccount(ctx context.Context, id int64, mutate func(*fileGate.Account) error) (*fileGate.Account, error) {
	if s.fail.Load() {
		return nil, errors.New("disk full")
	}
	return s.Store.UpdateAccount(ctx, id, mutate)
}

func TestPasswordResetTokenSurvivesFailedWrite(t *testing.T) {
	fail := &atomic.Bool{}
	h := newHarness(t, withRepository(failingStore{Store: memstore.New(), fail: fail}))
	h.activeCustomer(t, "alice")
	ctx := context.Background()

	if err := h.engine.RequestPasswordReset(ctx, "alice@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	tok := tokenFromURL(t, h.mailer.next(t).vars["reset_url"])

	const newPassword = "An0ther!Strong#Secret"
	fail.Store(true)
	if err := h.engine.ResetPassword(ctx, tok, newPassword); !errors.Is(err, fileGate.ErrPersistence) {
		t.Fatalf("expected persistence failure, got %v", err)
	}

	fail.Store(false)
	if err := h.engine.ResetPassword(ctx, tok, newPassword); err != nil {
		t.Fatalf("expected reset link to stay usable after a failed write, got %v", err)
	}
	if _, err := h.engine.Login(ctx, "alice", newPassword); err != nil {
		t.Fatalf("Login with new password failed: %v", err)
	}
	if err := h.engine.ResetPassword(ctx, tok, newPassword); !errors.Is(err, fileGate.ErrTokenInvalid) {
		t.Fatalf("expected spent token after successful reset, got %v", err)
	}
}

func TestPasswordResetUnknownEmailSendsNothing(t *testing.T) {
	h := newHarness(t)

	if err := h.engine.RequestPasswordReset(context.Background(), "nobody@example.com"); err != nil {
		t.Fatalf("expected nil for unknown email, got %v", err)
	}
	h.engine.Close()
	select {
	case msg := <-h.mailer.sent:
		t.Fatalf("unexpected mail: %+v", msg)
	default:
	}
}

func TestChangePassword(t *testing.T) {
	h := newHarness(t)
	acc := h.activeCustomer(t, "alice")
	ctx := context.Background()

	if err := h.engine.ChangePassword(ctx, acc.ID, "wrong", "An0ther!Strong#Secret"); !errors.Is(err, fileGate.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if err := h.engine.ChangePassword(ctx, acc.ID, strongPassword, "weak"); !errors.Is(err, password.ErrWeakPassword) {
		t.Fatalf("expected weak password, got %v", err)
	}
	if err := h.engine.ChangePassword(ctx, acc.ID, strongPassword, "An0ther!Strong#Secret"); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}
	if _, err := h.engine.Login(ctx, "alice", "An0ther!Strong#Secret"); err != nil {
		t.Fatalf("Login with changed password failed: %v", err)
	}
}

func TestAcceptTermsKeepsFirstTimestamp(t *testing.T) {
	h := newHarness(t)
	acc := h.activeCustomer(t, "alice")
	first := *h.account(t, acc.ID).TermsAcceptedAt

	h.clock.Advance(1)
	if err := h.engine.AcceptTerms(context.Background(), acc.ID); err != nil {
		t.Fatalf("AcceptTerms failed: %v", err)
	}
	if got := h.account(t, acc.ID).TermsAcceptedAt; !got.Equal(first) {
		t.Fatalf("expected %v, got %v", first, got)
	}
}

func TestCreateAdminLogsIn(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.engine.CreateAdmin(ctx, "root", "root@example.com", "short"); !errors.Is(err, fileGate.ErrValidation) {
		t.Fatalf("expected weak password rejection, got %v", err)
	}
	admin, err := h.engine.CreateAdmin(ctx, "root", "root@example.com", strongPassword)
	if err != nil {
		t.Fatalf("CreateAdmin failed: %v", err)
	}
	res, err := h.engine.Login(ctx, "root", strongPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if res.AccountID != admin.ID || res.Role != fileGate.RoleAdmin {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestMailFailureIsOnlyLogged(t *testing.T) {
	mailer := newRecordingMailer()
	mailer.err = errors.New("smtp down")
	h := newHarness(t, withMailer(mailer))

	if _, err := h.engine.CreateCustomer(context.Background(), fileGate.NewCustomer{Handle: "alice", Email: "alice@example.com"}); err != nil {
		t.Fatalf("CreateCustomer must not fail on mail errors: %v", err)
	}
	h.engine.Close()

	if n := h.engine.MetricsSnapshot().Counters[fileGate.MetricMailFailed]; n != 1 {
		t.Fatalf("expected one failed mail, got %d", n)
	}
	if !strings.Contains(h.logs.String(), "mail send failed") {
		t.Fatalf("expected failure in logs, got %s", h.logs.String())
	}
}
