package fileGate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/MrEthical07/fileGate/token"
)

// CreateCustomer creates an inactive customer with a generated temporary
// password, issues an activation token and mails the activation link.
func (e *Engine) CreateCustomer(ctx context.Context, req NewCustomer) (*CustomerCreated, error) {
	handle, email, err := normalizeIdentity(req.Handle, req.Email)
	if err != nil {
		return nil, err
	}
	if err := e.ensureUnique(ctx, handle, email); err != nil {
		return nil, err
	}

	temp, err := e.policy.GenerateStrong()
	if err != nil {
		return nil, err
	}
	hash, err := e.hasher.Hash(temp)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	acc, err := e.repo.CreateAccount(ctx, &Account{
		Handle:       handle,
		Email:        email,
		PasswordHash: hash,
		Role:         RoleCustomer,
		CompanyName:  strings.TrimSpace(req.CompanyName),
		ContactInfo:  strings.TrimSpace(req.ContactInfo),
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return nil, repoError(err)
	}

	tok, err := e.issue(token.PurposeAccountActivation, token.Subject{AccountID: acc.ID}, e.config.Token.ActivationTTL)
	if err != nil {
		return nil, err
	}

	e.sendMail(ctx, acc.Email, MailTemplateWelcome, e.mailVars(map[string]string{
		"handle":         acc.Handle,
		"customer_name":  acc.CompanyName,
		"activation_url": e.link("activate", tok),
	}))

	e.metricInc(MetricAccountCreated)
	e.logger.Info("customer created", slog.Int64("account_id", acc.ID), slog.String("handle", acc.Handle))
	e.emitAudit(ctx, auditEventAccountCreated, true, auditTarget{accountID: acc.ID, handle: acc.Handle}, nil, nil)

	return &CustomerCreated{
		Account:           acc,
		TemporaryPassword: temp,
		ActivationToken:   tok,
	}, nil
}

// CreateAdmin creates an active administrator with the given password. It is
// meant for seeding.
func (e *Engine) CreateAdmin(ctx context.Context, handle, email, pw string) (*Account, error) {
	handle, email, err := normalizeIdentity(handle, email)
	if err != nil {
		return nil, err
	}
	if err := e.policy.ValidateStrength(pw); err != nil {
		return nil, validationError(err)
	}
	if err := e.ensureUnique(ctx, handle, email); err != nil {
		return nil, err
	}

	hash, err := e.hasher.Hash(pw)
	if err != nil {
		return nil, err
	}
	now := e.now().UTC()
	acc, err := e.repo.CreateAccount(ctx, &Account{
		Handle:          handle,
		Email:           email,
		PasswordHash:    hash,
		Role:            RoleAdmin,
		Active:          true,
		Activated:       true,
		TermsAccepted:   true,
		TermsAcceptedAt: &now,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	if err != nil {
		return nil, repoError(err)
	}

	e.metricInc(MetricAccountCreated)
	e.emitAudit(ctx, auditEventAccountCreated, true, auditTarget{accountID: acc.ID, handle: acc.Handle}, nil, func() map[string]string {
		return map[string]string{"role": string(RoleAdmin)}
	})
	return acc, nil
}

// ActivateAccount redeems an activation token, sets the owner's password and
// marks the account active. An account activates once; later tokens for it
// fail with ErrAlreadyActivated.
func (e *Engine) ActivateAccount(ctx context.Context, tok, newPassword string) error {
	claims, err := e.verify(ctx, tok, token.PurposeAccountActivation)
	if err != nil {
		return err
	}
	if err := e.policy.ValidateStrength(newPassword); err != nil {
		return validationError(err)
	}
	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	acc, err := e.repo.UpdateAccount(ctx, claims.AccountID, func(a *Account) error {
		if a.Activated {
			return ErrAlreadyActivated
		}
		a.PasswordHash = hash
		a.Active = true
		a.Activated = true
		e.lockout.Unlock(&a.Lockout)
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: account not found", ErrTokenInvalid)
	}
	if err != nil {
		return repoError(err)
	}

	e.metricInc(MetricActivationSuccess)
	e.logger.Info("account activated", slog.Int64("account_id", acc.ID))
	e.emitAudit(ctx, auditEventAccountActivated, true, auditTarget{accountID: acc.ID, handle: acc.Handle}, nil, nil)
	return nil
}

// RequestPasswordReset mails a reset link when email belongs to an active
// account. It returns nil whether or not the account exists.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	e.metricInc(MetricPasswordResetRequest)
	if email == "" {
		return nil
	}

	acc, err := e.repo.GetAccountByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		e.logger.Info("password reset for unknown email", slog.String("ip", clientIPFromContext(ctx)))
		e.emitAudit(ctx, auditEventPasswordResetRequest, false, auditTarget{}, ErrNotFound, nil)
		return nil
	}
	if err != nil {
		return persistenceError(err)
	}
	if !acc.Active {
		e.logger.Info("password reset for inactive account", slog.Int64("account_id", acc.ID))
		return nil
	}

	tok, err := e.issue(token.PurposePasswordReset, token.Subject{AccountID: acc.ID}, e.config.Token.PasswordResetTTL)
	if err != nil {
		return err
	}

	e.sendMail(ctx, acc.Email, MailTemplatePasswordReset, e.mailVars(map[string]string{
		"handle":    acc.Handle,
		"reset_url": e.link("reset-password", tok),
	}))
	e.emitAudit(ctx, auditEventPasswordResetRequest, true, auditTarget{accountID: acc.ID, handle: acc.Handle}, nil, nil)
	return nil
}

// ResetPassword redeems a reset token once, stores the new password and
// clears any lock. The link stays usable when the store write fails.
func (e *Engine) ResetPassword(ctx context.Context, tok, newPassword string) error {
	claims, err := e.verify(ctx, tok, token.PurposePasswordReset)
	if err != nil {
		return err
	}
	if err := e.policy.ValidateStrength(newPassword); err != nil {
		return validationError(err)
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	// Consume before writing so two concurrent resets cannot both apply.
	first, err := e.tokenUse.Consume(ctx, claims.ID, claims.ExpiresAt.Time)
	if err != nil {
		return persistenceError(err)
	}
	if !first {
		e.metricInc(MetricTokenInvalid)
		e.logger.Info("token rejected", slog.String("purpose", string(token.PurposePasswordReset)), slog.String("reason", "used"))
		e.emitAudit(ctx, auditEventPasswordResetConfirm, false, auditTarget{accountID: claims.AccountID}, ErrTokenInvalid, nil)
		return fmt.Errorf("%w: token already used", ErrTokenInvalid)
	}

	acc, err := e.repo.UpdateAccount(ctx, claims.AccountID, func(a *Account) error {
		a.PasswordHash = hash
		e.lockout.Unlock(&a.Lockout)
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: account not found", ErrTokenInvalid)
	}
	if err != nil {
		e.releaseToken(ctx, claims.ID)
		return repoError(err)
	}

	e.metricInc(MetricPasswordResetSuccess)
	e.logger.Info("password reset", slog.Int64("account_id", acc.ID))
	e.emitAudit(ctx, auditEventPasswordResetConfirm, true, auditTarget{accountID: acc.ID, handle: acc.Handle}, nil, nil)
	return nil
}

// ChangePassword replaces the password of a signed-in account after checking
// the current one. It does not touch the lockout counter.
func (e *Engine) ChangePassword(ctx context.Context, accountID int64, current, next string) error {
	acc, err := e.repo.GetAccountByID(ctx, accountID)
	if err != nil {
		return repoError(err)
	}
	ok, _ := e.hasher.Verify(current, acc.PasswordHash)
	if !ok {
		e.emitAudit(ctx, auditEventPasswordChange, false, auditTarget{accountID: acc.ID, handle: acc.Handle}, ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}
	if err := e.policy.ValidateStrength(next); err != nil {
		return validationError(err)
	}
	hash, err := e.hasher.Hash(next)
	if err != nil {
		return err
	}

	if _, err := e.repo.UpdateAccount(ctx, accountID, func(a *Account) error {
		a.PasswordHash = hash
		return nil
	}); err != nil {
		return repoError(err)
	}

	e.metricInc(MetricPasswordChanged)
	e.emitAudit(ctx, auditEventPasswordChange, true, auditTarget{accountID: acc.ID, handle: acc.Handle}, nil, nil)
	return nil
}

// AcceptTerms records that the account accepted the terms of use. Accepting
// twice keeps the first timestamp.
func (e *Engine) AcceptTerms(ctx context.Context, accountID int64) error {
	now := e.now().UTC()
	acc, err := e.repo.UpdateAccount(ctx, accountID, func(a *Account) error {
		if a.TermsAccepted {
			return errNoChange
		}
		a.TermsAccepted = true
		a.TermsAcceptedAt = &now
		return nil
	})
	if errors.Is(err, errNoChange) {
		return nil
	}
	if err != nil {
		return repoError(err)
	}
	e.emitAudit(ctx, auditEventTermsAccepted, true, auditTarget{accountID: acc.ID, handle: acc.Handle}, nil, nil)
	return nil
}

// SetAccountActive soft-disables or re-enables an account. Nothing is ever
// deleted.
func (e *Engine) SetAccountActive(ctx context.Context, accountID int64, active bool) error {
	acc, err := e.repo.UpdateAccount(ctx, accountID, func(a *Account) error {
		if a.Active == active {
			return errNoChange
		}
		a.Active = active
		return nil
	})
	if errors.Is(err, errNoChange) {
		return nil
	}
	if err != nil {
		return repoError(err)
	}

	e.logger.Info("account status changed", slog.Int64("account_id", acc.ID), slog.Bool("active", active))
	e.emitAudit(ctx, auditEventAccountStatusChange, true, auditTarget{accountID: acc.ID, handle: acc.Handle}, nil, func() map[string]string {
		if active {
			return map[string]string{"status": "active"}
		}
		return map[string]string{"status": "disabled"}
	})
	return nil
}

// GetAccount returns a copy of the account.
func (e *Engine) GetAccount(ctx context.Context, accountID int64) (*Account, error) {
	acc, err := e.repo.GetAccountByID(ctx, accountID)
	if err != nil {
		return nil, repoError(err)
	}
	return acc.Clone(), nil
}

func (e *Engine) ensureUnique(ctx context.Context, handle, email string) error {
	if _, err := e.repo.GetAccountByHandle(ctx, handle); err == nil {
		return ErrAccountExists
	} else if !errors.Is(err, ErrNotFound) {
		return persistenceError(err)
	}
	if _, err := e.repo.GetAccountByEmail(ctx, email); err == nil {
		return ErrAccountExists
	} else if !errors.Is(err, ErrNotFound) {
		return persistenceError(err)
	}
	return nil
}

func normalizeIdentity(handle, email string) (string, string, error) {
	handle = strings.TrimSpace(handle)
	email = strings.ToLower(strings.TrimSpace(email))
	if handle == "" || len(handle) > 150 || strings.ContainsAny(handle, " \t\r\n") {
		return "", "", fmt.Errorf("%w: handle", ErrInvalidInput)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", "", fmt.Errorf("%w: email", ErrInvalidInput)
	}
	return handle, email, nil
}

/*
====================================
TOKENS
====================================
*/

func (e *Engine) issue(purpose token.Purpose, subject token.Subject, ttl time.Duration) (string, error) {
	tok, err := e.tokens.Issue(purpose, subject, ttl)
	if err != nil {
		return "", err
	}
	e.metricInc(MetricTokenIssued)
	return tok, nil
}

// verify collapses every token failure into ErrTokenInvalid and logs the
// specific reason.
func (e *Engine) verify(ctx context.Context, tok string, purpose token.Purpose) (*token.Claims, error) {
	claims, err := e.tokens.Verify(tok, purpose)
	if err != nil {
		e.metricInc(MetricTokenInvalid)
		e.logger.Info("token rejected",
			slog.String("purpose", string(purpose)),
			slog.String("reason", token.Reason(err)),
			slog.String("ip", clientIPFromContext(ctx)),
		)
		return nil, fmt.Errorf("%w: %s", ErrTokenInvalid, token.Reason(err))
	}
	return claims, nil
}
