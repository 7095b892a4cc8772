package fileGate

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/MrEthical07/fileGate/internal/queue"
	"github.com/MrEthical07/fileGate/internal/stores"
	"github.com/MrEthical07/fileGate/lockout"
	"github.com/MrEthical07/fileGate/mfa"
	"github.com/MrEthical07/fileGate/password"
	"github.com/MrEthical07/fileGate/token"
	"github.com/google/uuid"
)

// Engine runs every security operation of the portal. Build it with New.
type Engine struct {
	config     Config
	repo       Repository
	files      FileStore
	tokens     *token.Manager
	hasher     password.Hasher
	dummyHash  string
	policy     password.Policy
	mfa        *mfa.Service
	lockout    *lockout.Machine
	staging    *stores.MFAStagingStore
	challenges *stores.MFALoginChallengeStore
	tokenUse   *stores.TokenUseStore
	mailer     Mailer
	mail       *queue.Worker[mailJob]
	audit      *queue.Worker[AuditEvent]
	metrics    *Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// errNoChange aborts an UpdateAccount whose mutation turned out to be a no-op.
var errNoChange = errors.New("no change")

// Close drains queued mail and audit events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.mail != nil {
		e.mail.Close()
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports audit events lost to a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// Policy returns the password policy enforced on activation, reset and
// password change.
func (e *Engine) Policy() password.Policy {
	return e.policy
}

/*
====================================
LOGIN
====================================
*/

// Login checks handle and password. Every call appends exactly one entry to
// the login ledger, except a call that passes the password check on an
// MFA-enabled account: that login is recorded by ConfirmLoginMFA.
//
// Failures are *LoginError values. A disabled account is rejected before the
// lock is looked at. A locked account is rejected before the password is
// checked, and an expired lock is cleared first.
func (e *Engine) Login(ctx context.Context, handle, pw string) (*LoginResult, error) {
	if e == nil || e.repo == nil {
		return nil, ErrEngineNotReady
	}
	start := e.now()
	defer func() {
		e.metrics.Observe(MetricLoginLatency, e.now().Sub(start))
	}()

	handle = strings.TrimSpace(handle)

	acc, err := e.repo.GetAccountByHandle(ctx, handle)
	if errors.Is(err, ErrNotFound) || (err == nil && acc == nil) {
		_, _ = e.hasher.Verify(pw, e.dummyHash)
		return nil, e.loginFailed(ctx, handle, 0, &LoginError{Reason: ReasonInvalidHandle})
	}
	if err != nil {
		return nil, persistenceError(err)
	}

	if !acc.Active {
		_, _ = e.hasher.Verify(pw, e.dummyHash)
		return nil, e.loginFailed(ctx, handle, acc.ID, &LoginError{Reason: ReasonAccountInactive})
	}

	if acc.Lockout.Locked {
		out, err := e.checkLock(ctx, acc.ID)
		if err != nil {
			return nil, err
		}
		if out.Status == lockout.StatusLocked {
			return nil, e.loginFailed(ctx, handle, acc.ID, &LoginError{
				Reason:      ReasonAccountLocked,
				Locked:      true,
				LockedUntil: out.LockedUntil,
			})
		}
	}

	ok, verr := e.hasher.Verify(pw, acc.PasswordHash)
	if verr != nil && !errors.Is(verr, password.ErrEmptyPassword) && !errors.Is(verr, password.ErrPasswordTooLong) {
		e.logger.Error("stored password hash unusable",
			slog.Int64("account_id", acc.ID),
			slog.Any("error", verr),
		)
	}
	if !ok {
		return nil, e.passwordFailed(ctx, acc)
	}

	return e.passwordAccepted(ctx, acc, pw)
}

func (e *Engine) passwordFailed(ctx context.Context, acc *Account) error {
	now := e.now()
	var out lockout.Outcome
	_, err := e.repo.UpdateAccount(ctx, acc.ID, func(a *Account) error {
		out = e.lockout.RecordFailure(&a.Lockout, now)
		if !out.Changed {
			return errNoChange
		}
		return nil
	})
	if err != nil && !errors.Is(err, errNoChange) {
		return persistenceError(err)
	}

	lerr := &LoginError{
		Reason:            ReasonInvalidPassword,
		AttemptsRemaining: out.AttemptsRemaining,
	}
	switch {
	case out.JustLocked:
		lerr.Locked = true
		lerr.LockedUntil = out.LockedUntil
		e.onLocked(ctx, acc, out)
	case out.Status == lockout.StatusLocked:
		// Another request locked the account after our pre-check.
		lerr.Reason = ReasonAccountLocked
		lerr.Locked = true
		lerr.LockedUntil = out.LockedUntil
	}
	return e.loginFailed(ctx, acc.Handle, acc.ID, lerr)
}

func (e *Engine) onLocked(ctx context.Context, acc *Account, out lockout.Outcome) {
	e.metricInc(MetricAccountLocked)
	attrs := []any{
		slog.Int64("account_id", acc.ID),
		slog.String("handle", acc.Handle),
		slog.String("ip", clientIPFromContext(ctx)),
	}
	if out.LockedUntil != nil {
		attrs = append(attrs, slog.Time("locked_until", *out.LockedUntil))
	}
	e.logger.Warn("account locked", attrs...)
	e.emitAudit(ctx, auditEventAccountLocked, true, auditTarget{accountID: acc.ID, handle: acc.Handle}, nil, nil)
}

func (e *Engine) passwordAccepted(ctx context.Context, acc *Account, pw string) (*LoginResult, error) {
	var upgraded string
	if e.config.Password.UpgradeOnLogin {
		if need, err := e.hasher.NeedsUpgrade(acc.PasswordHash); err == nil && need {
			if h, err := e.hasher.Hash(pw); err == nil {
				upgraded = h
			}
		}
	}

	now := e.now()
	var lockedOut lockout.Outcome
	var inactive bool
	updated, err := e.repo.UpdateAccount(ctx, acc.ID, func(a *Account) error {
		if !a.Active {
			inactive = true
			return errNoChange
		}
		lockedOut = e.lockout.Check(&a.Lockout, now)
		if lockedOut.Status == lockout.StatusLocked {
			return errNoChange
		}
		e.lockout.RecordSuccess(&a.Lockout)
		if upgraded != "" && a.PasswordHash == acc.PasswordHash {
			a.PasswordHash = upgraded
		}
		if !a.MFAEnabled {
			a.LastLoginAt = &now
		}
		return nil
	})
	switch {
	case inactive:
		return nil, e.loginFailed(ctx, acc.Handle, acc.ID, &LoginError{Reason: ReasonAccountInactive})
	case lockedOut.Status == lockout.StatusLocked:
		return nil, e.loginFailed(ctx, acc.Handle, acc.ID, &LoginError{
			Reason:      ReasonAccountLocked,
			Locked:      true,
			LockedUntil: lockedOut.LockedUntil,
		})
	case err != nil:
		return nil, persistenceError(err)
	}

	if updated.MFAEnabled {
		challengeID := uuid.NewString()
		record := &stores.MFALoginChallenge{
			AccountID: updated.ID,
			Handle:    updated.Handle,
			ExpiresAt: now.Add(e.config.MFA.ChallengeTTL).Unix(),
		}
		if err := e.challenges.Save(ctx, challengeID, record, e.config.MFA.ChallengeTTL); err != nil {
			return nil, persistenceError(err)
		}
		e.metricInc(MetricMFALoginRequired)
		e.emitAudit(ctx, auditEventMFARequired, true, auditTarget{accountID: updated.ID, handle: updated.Handle}, nil, nil)
		return &LoginResult{
			AccountID:   updated.ID,
			Handle:      updated.Handle,
			Role:        updated.Role,
			MFARequired: true,
			ChallengeID: challengeID,
		}, nil
	}

	if err := e.recordLogin(ctx, updated.Handle, true, ""); err != nil {
		return nil, err
	}
	e.metricInc(MetricLoginSuccess)
	e.logger.Info("login succeeded",
		slog.Int64("account_id", updated.ID),
		slog.String("handle", updated.Handle),
		slog.String("ip", clientIPFromContext(ctx)),
	)
	e.emitAudit(ctx, auditEventLoginSuccess, true, auditTarget{accountID: updated.ID, handle: updated.Handle}, nil, nil)

	return &LoginResult{
		AccountID: updated.ID,
		Handle:    updated.Handle,
		Role:      updated.Role,
	}, nil
}

// ConfirmLoginMFA completes a login that Login answered with MFARequired.
// Wrong codes do not count towards the account lockout; the challenge is
// discarded after MFA.ChallengeMaxAttempts of them.
func (e *Engine) ConfirmLoginMFA(ctx context.Context, challengeID, code string) (*LoginResult, error) {
	if e == nil || e.repo == nil {
		return nil, ErrEngineNotReady
	}
	if strings.TrimSpace(challengeID) == "" {
		return nil, e.loginFailed(ctx, "", 0, &LoginError{Reason: ReasonMFAChallengeExpired})
	}

	ch, err := e.challenges.Get(ctx, challengeID)
	if errors.Is(err, stores.ErrMFALoginChallengeNotFound) || errors.Is(err, stores.ErrMFALoginChallengeExpired) {
		e.metricInc(MetricMFALoginFailure)
		return nil, e.loginFailed(ctx, "", 0, &LoginError{Reason: ReasonMFAChallengeExpired})
	}
	if err != nil {
		return nil, persistenceError(err)
	}

	acc, err := e.repo.GetAccountByID(ctx, ch.AccountID)
	if errors.Is(err, ErrNotFound) {
		_, _ = e.challenges.Delete(ctx, challengeID)
		return nil, e.loginFailed(ctx, ch.Handle, ch.AccountID, &LoginError{Reason: ReasonMFAChallengeExpired})
	}
	if err != nil {
		return nil, persistenceError(err)
	}
	if !acc.Active {
		_, _ = e.challenges.Delete(ctx, challengeID)
		return nil, e.loginFailed(ctx, acc.Handle, acc.ID, &LoginError{Reason: ReasonAccountInactive})
	}

	// MFA turned off since the challenge was issued: the challenge no longer
	// proves anything.
	if !acc.MFAEnabled || acc.MFASecret == "" {
		e.metricInc(MetricMFALoginFailure)
		_, _ = e.challenges.Delete(ctx, challengeID)
		return nil, e.loginFailed(ctx, acc.Handle, acc.ID, &LoginError{Reason: ReasonMFAChallengeExpired})
	}

	now := e.now()
	if !e.mfa.Verify(acc.MFASecret, code, e.config.MFA.Window, now) {
		e.metricInc(MetricMFALoginFailure)
		exceeded, rerr := e.challenges.RecordFailure(ctx, challengeID, e.config.MFA.ChallengeMaxAttempts)
		switch {
		case errors.Is(rerr, stores.ErrMFALoginChallengeNotFound), errors.Is(rerr, stores.ErrMFALoginChallengeExpired):
			return nil, e.loginFailed(ctx, acc.Handle, acc.ID, &LoginError{Reason: ReasonMFAChallengeExpired})
		case rerr != nil:
			return nil, persistenceError(rerr)
		}
		if exceeded {
			e.emitAudit(ctx, auditEventMFAAttemptsExceeded, false, auditTarget{accountID: acc.ID, handle: acc.Handle}, nil, nil)
		}
		return nil, e.loginFailed(ctx, acc.Handle, acc.ID, &LoginError{Reason: ReasonInvalidMFACode})
	}

	// Whoever deletes the challenge completes the login.
	deleted, err := e.challenges.Delete(ctx, challengeID)
	if err != nil {
		return nil, persistenceError(err)
	}
	if !deleted {
		return nil, e.loginFailed(ctx, acc.Handle, acc.ID, &LoginError{Reason: ReasonMFAChallengeExpired})
	}

	var lockedOut lockout.Outcome
	updated, err := e.repo.UpdateAccount(ctx, acc.ID, func(a *Account) error {
		lockedOut = e.lockout.Check(&a.Lockout, now)
		if lockedOut.Status == lockout.StatusLocked {
			return errNoChange
		}
		e.lockout.RecordSuccess(&a.Lockout)
		a.LastLoginAt = &now
		return nil
	})
	if lockedOut.Status == lockout.StatusLocked {
		return nil, e.loginFailed(ctx, acc.Handle, acc.ID, &LoginError{
			Reason:      ReasonAccountLocked,
			Locked:      true,
			LockedUntil: lockedOut.LockedUntil,
		})
	}
	if err != nil {
		return nil, persistenceError(err)
	}

	if err := e.recordLogin(ctx, updated.Handle, true, ""); err != nil {
		return nil, err
	}
	e.metricInc(MetricMFALoginSuccess)
	e.metricInc(MetricLoginSuccess)
	e.logger.Info("login succeeded",
		slog.Int64("account_id", updated.ID),
		slog.String("handle", updated.Handle),
		slog.String("ip", clientIPFromContext(ctx)),
		slog.Bool("mfa", true),
	)
	e.emitAudit(ctx, auditEventMFASuccess, true, auditTarget{accountID: updated.ID, handle: updated.Handle}, nil, nil)

	return &LoginResult{
		AccountID: updated.ID,
		Handle:    updated.Handle,
		Role:      updated.Role,
	}, nil
}

// loginFailed records a failed attempt and returns lerr. A ledger write
// failure is joined to lerr so neither is lost.
func (e *Engine) loginFailed(ctx context.Context, handle string, accountID int64, lerr *LoginError) error {
	e.metricInc(MetricLoginFailure)
	attrs := []any{
		slog.String("reason", string(lerr.Reason)),
		slog.String("handle", handle),
		slog.String("ip", clientIPFromContext(ctx)),
	}
	if lerr.Reason == ReasonInvalidPassword && !lerr.Locked {
		attrs = append(attrs, slog.Int("attempts_remaining", lerr.AttemptsRemaining))
	}
	e.logger.Info("login failed", attrs...)

	event := auditEventLoginFailure
	if lerr.Reason == ReasonInvalidMFACode || lerr.Reason == ReasonMFAChallengeExpired {
		event = auditEventMFAFailure
	}
	e.emitAudit(ctx, event, false, auditTarget{accountID: accountID, handle: handle}, lerr, nil)

	if err := e.recordLogin(ctx, handle, false, lerr.Reason); err != nil {
		return errors.Join(lerr, err)
	}
	return lerr
}

func (e *Engine) recordLogin(ctx context.Context, handle string, success bool, reason FailureReason) error {
	err := e.repo.AppendLoginAttempt(ctx, LoginAttempt{
		ID:               uuid.NewString(),
		Handle:           handle,
		SourceAddress:    clientIPFromContext(ctx),
		ClientDescriptor: userAgentFromContext(ctx),
		Success:          success,
		FailureReason:    reason,
		OccurredAt:       e.now().UTC(),
	})
	if err != nil {
		e.logger.Error("login ledger write failed", slog.String("handle", handle), slog.Any("error", err))
		return persistenceError(err)
	}
	return nil
}

/*
====================================
LOCKOUT ENTRY POINTS
====================================
*/

// RecordFailure counts one failed credential check against accountID.
func (e *Engine) RecordFailure(ctx context.Context, accountID int64) (lockout.Outcome, error) {
	now := e.now()
	var out lockout.Outcome
	acc, err := e.repo.UpdateAccount(ctx, accountID, func(a *Account) error {
		out = e.lockout.RecordFailure(&a.Lockout, now)
		if !out.Changed {
			return errNoChange
		}
		return nil
	})
	if err != nil && !errors.Is(err, errNoChange) {
		return lockout.Outcome{}, repoError(err)
	}
	if out.JustLocked && acc != nil {
		e.onLocked(ctx, acc, out)
	}
	return out, nil
}

// RecordSuccess resets the failure counter of accountID.
func (e *Engine) RecordSuccess(ctx context.Context, accountID int64) error {
	_, err := e.repo.UpdateAccount(ctx, accountID, func(a *Account) error {
		if !e.lockout.RecordSuccess(&a.Lockout).Changed {
			return errNoChange
		}
		return nil
	})
	if err != nil && !errors.Is(err, errNoChange) {
		return repoError(err)
	}
	return nil
}

// CheckLocked reports whether accountID is locked now, clearing an expired
// lock as a side effect.
func (e *Engine) CheckLocked(ctx context.Context, accountID int64) (bool, *time.Time, error) {
	out, err := e.checkLock(ctx, accountID)
	if err != nil {
		return false, nil, err
	}
	return out.Status == lockout.StatusLocked, out.LockedUntil, nil
}

func (e *Engine) checkLock(ctx context.Context, accountID int64) (lockout.Outcome, error) {
	now := e.now()
	var out lockout.Outcome
	_, err := e.repo.UpdateAccount(ctx, accountID, func(a *Account) error {
		out = e.lockout.Check(&a.Lockout, now)
		if !out.Changed {
			return errNoChange
		}
		return nil
	})
	if err != nil && !errors.Is(err, errNoChange) {
		return lockout.Outcome{}, repoError(err)
	}
	if out.AutoUnlocked {
		e.metricInc(MetricAccountUnlocked)
		e.logger.Info("account lock expired", slog.Int64("account_id", accountID))
	}
	return out, nil
}

// UnlockAccount clears the lock and the failure counter.
func (e *Engine) UnlockAccount(ctx context.Context, accountID int64) error {
	acc, err := e.repo.UpdateAccount(ctx, accountID, func(a *Account) error {
		if !e.lockout.Unlock(&a.Lockout).Changed {
			return errNoChange
		}
		return nil
	})
	if errors.Is(err, errNoChange) {
		return nil
	}
	if err != nil {
		return repoError(err)
	}
	e.metricInc(MetricAccountUnlocked)
	e.logger.Info("account unlocked", slog.Int64("account_id", accountID))
	e.emitAudit(ctx, auditEventAccountUnlocked, true, auditTarget{accountID: acc.ID, handle: acc.Handle}, nil, nil)
	return nil
}

// repoError keeps ErrNotFound recognizable and wraps everything else as a
// persistence failure.
func repoError(err error) error {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrValidation) {
		return err
	}
	return persistenceError(err)
}
