package fileGate

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/MrEthical07/fileGate/internal/stores"
)

// BeginMFAEnrollment generates a TOTP secret for accountID and stages it
// under sessionID. The account is not changed until ConfirmMFAEnrollment
// succeeds. Starting again from the same session replaces the staged secret.
func (e *Engine) BeginMFAEnrollment(ctx context.Context, sessionID string, accountID int64) (*MFAEnrollment, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" || accountID <= 0 {
		return nil, ErrInvalidInput
	}

	acc, err := e.repo.GetAccountByID(ctx, accountID)
	if err != nil {
		return nil, repoError(err)
	}
	if acc.MFAEnabled {
		return nil, ErrMFAAlreadyEnabled
	}

	secret, err := e.mfa.GenerateSecret()
	if err != nil {
		return nil, err
	}
	label := acc.Email
	if label == "" {
		label = acc.Handle
	}
	uri, err := e.mfa.ProvisioningURI(label, secret, e.config.MFA.Issuer)
	if err != nil {
		return nil, err
	}

	expiresAt := e.now().Add(e.config.MFA.StagingTTL)
	staged := &stores.StagedSecret{
		AccountID: accountID,
		Secret:    secret,
		ExpiresAt: expiresAt.Unix(),
	}
	if err := e.staging.Save(ctx, sessionID, staged, e.config.MFA.StagingTTL); err != nil {
		return nil, persistenceError(err)
	}

	e.emitAudit(ctx, auditEventMFAEnrollmentStarted, true, auditTarget{accountID: acc.ID, handle: acc.Handle}, nil, nil)

	return &MFAEnrollment{
		Secret:          secret,
		ProvisioningURI: uri,
		ExpiresAt:       time.Unix(staged.ExpiresAt, 0).UTC(),
	}, nil
}

// ConfirmMFAEnrollment commits the secret staged for sessionID once code
// verifies against it. A wrong code leaves the staged secret in place for
// another try. Staging problems are validation errors.
func (e *Engine) ConfirmMFAEnrollment(ctx context.Context, sessionID string, accountID int64, code string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" || accountID <= 0 {
		return ErrInvalidInput
	}

	staged, err := e.staging.Get(ctx, sessionID)
	switch {
	case errors.Is(err, stores.ErrMFAStagingNotFound), errors.Is(err, stores.ErrMFAStagingExpired):
		return ErrMFAStagingMissing
	case err != nil:
		return persistenceError(err)
	}
	if staged.AccountID != accountID {
		return ErrMFAStagingMissing
	}

	target := auditTarget{accountID: accountID}
	if !e.mfa.Verify(staged.Secret, code, e.config.MFA.Window, e.now()) {
		e.logger.Info("mfa enrollment code rejected", slog.Int64("account_id", accountID))
		e.emitAudit(ctx, auditEventMFAEnrollmentFailed, false, target, ErrMFACodeInvalid, nil)
		return ErrMFACodeInvalid
	}

	acc, err := e.repo.UpdateAccount(ctx, accountID, func(a *Account) error {
		if a.MFAEnabled {
			return ErrMFAAlreadyEnabled
		}
		a.MFAEnabled = true
		a.MFASecret = staged.Secret
		return nil
	})
	if err != nil {
		return repoError(err)
	}

	if _, err := e.staging.Delete(ctx, sessionID); err != nil {
		e.logger.Warn("mfa staging cleanup failed", slog.Int64("account_id", accountID), slog.Any("error", err))
	}

	e.metricInc(MetricMFAEnrolled)
	e.logger.Info("mfa enabled", slog.Int64("account_id", accountID))
	target.handle = acc.Handle
	e.emitAudit(ctx, auditEventMFAEnabled, true, target, nil, nil)
	return nil
}

// CancelMFAEnrollment discards whatever is staged for sessionID.
func (e *Engine) CancelMFAEnrollment(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrInvalidInput
	}
	if _, err := e.staging.Delete(ctx, sessionID); err != nil {
		return persistenceError(err)
	}
	return nil
}

// DisableMFA clears the enabled flag and the secret in one update.
func (e *Engine) DisableMFA(ctx context.Context, accountID int64) error {
	acc, err := e.repo.UpdateAccount(ctx, accountID, func(a *Account) error {
		if !a.MFAEnabled {
			return ErrMFANotEnabled
		}
		a.MFAEnabled = false
		a.MFASecret = ""
		return nil
	})
	if err != nil {
		return repoError(err)
	}

	e.metricInc(MetricMFADisabled)
	e.logger.Info("mfa disabled", slog.Int64("account_id", accountID))
	e.emitAudit(ctx, auditEventMFADisabled, true, auditTarget{accountID: acc.ID, handle: acc.Handle}, nil, nil)
	return nil
}
