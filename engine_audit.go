package fileGate

import (
	"context"
	"errors"
)

const (
	auditEventLoginSuccess           = "login_success"
	auditEventLoginFailure           = "login_failure"
	auditEventAccountLocked          = "account_locked"
	auditEventAccountUnlocked        = "account_unlocked"
	auditEventMFARequired            = "mfa_required"
	auditEventMFASuccess             = "mfa_success"
	auditEventMFAFailure             = "mfa_failure"
	auditEventMFAAttemptsExceeded    = "mfa_attempts_exceeded"
	auditEventMFAEnrollmentStarted   = "mfa_enrollment_started"
	auditEventMFAEnabled             = "mfa_enabled"
	auditEventMFAEnrollmentFailed    = "mfa_enrollment_failed"
	auditEventMFADisabled            = "mfa_disabled"
	auditEventAccountCreated         = "account_created"
	auditEventAccountActivated       = "account_activated"
	auditEventAccountStatusChange    = "account_status_change"
	auditEventPasswordResetRequest   = "password_reset_request"
	auditEventPasswordResetConfirm   = "password_reset_confirm"
	auditEventPasswordChange         = "password_change"
	auditEventTermsAccepted          = "terms_accepted"
	auditEventFileRegistered         = "file_registered"
	auditEventAssignmentCreated      = "assignment_created"
	auditEventAssignmentRevoked      = "assignment_revoked"
	auditEventDownloadAuthorized     = "download_authorized"
	auditEventDownloadDenied         = "download_denied"
	auditEventDownloadRedeemed       = "download_redeemed"
	auditEventDownloadRedeemRejected = "download_redeem_rejected"
)

// AuditErrorCode is the stable error label stored on failed audit events.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrDenied             AuditErrorCode = "authorization_denied"
	auditErrValidation         AuditErrorCode = "validation"
	auditErrNotFound           AuditErrorCode = "not_found"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

type auditTarget struct {
	accountID int64
	handle    string
	fileID    int64
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	target auditTarget,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		AccountID: target.accountID,
		Handle:    target.handle,
		FileID:    target.fileID,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Submit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	var loginErr *LoginError
	if errors.As(err, &loginErr) {
		return AuditErrorCode(loginErr.Reason)
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrTokenInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrAuthorizationDenied):
		return auditErrDenied
	case errors.Is(err, ErrValidation):
		return auditErrValidation
	case errors.Is(err, ErrNotFound):
		return auditErrNotFound
	case errors.Is(err, ErrPersistence):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
