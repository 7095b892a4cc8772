package fileGate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/MrEthical07/fileGate/token"
	"github.com/google/uuid"
)

// Download record reasons.
const (
	DownloadReasonTokenInvalid      = "token_invalid"
	DownloadReasonTokenUsed         = "token_used"
	DownloadReasonAccountNotFound   = "account_not_found"
	DownloadReasonAccountInactive   = "account_inactive"
	DownloadReasonTermsNotAccepted  = "terms_not_accepted"
	DownloadReasonAssignmentMissing = "assignment_missing"
	DownloadReasonAssignmentRevoked = "assignment_revoked"
	DownloadReasonAssignmentExpired = "assignment_expired"
	DownloadReasonFileInactive      = "file_inactive"
	DownloadReasonFileMissing       = "file_missing"
)

// AuthorizeDownload issues a file_download token for (accountID, fileID)
// when the account holds an active, unexpired assignment for the file.
func (e *Engine) AuthorizeDownload(ctx context.Context, accountID, fileID int64) (string, error) {
	if accountID <= 0 || fileID <= 0 {
		return "", ErrInvalidInput
	}
	target := auditTarget{accountID: accountID, fileID: fileID}

	acc, err := e.repo.GetAccountByID(ctx, accountID)
	switch {
	case errors.Is(err, ErrNotFound):
		return "", e.downloadDenied(ctx, target, DownloadReasonAccountNotFound)
	case err != nil:
		return "", persistenceError(err)
	}
	target.handle = acc.Handle
	if !acc.Active {
		return "", e.downloadDenied(ctx, target, DownloadReasonAccountInactive)
	}
	if e.config.Download.RequireTermsAccepted && !acc.TermsAccepted {
		return "", e.downloadDenied(ctx, target, DownloadReasonTermsNotAccepted)
	}

	if reason, err := e.checkAssignment(ctx, accountID, fileID); err != nil {
		return "", err
	} else if reason != "" {
		return "", e.downloadDenied(ctx, target, reason)
	}

	file, err := e.repo.GetFile(ctx, fileID)
	switch {
	case errors.Is(err, ErrNotFound):
		return "", e.downloadDenied(ctx, target, DownloadReasonFileMissing)
	case err != nil:
		return "", persistenceError(err)
	}
	if !file.Active {
		return "", e.downloadDenied(ctx, target, DownloadReasonFileInactive)
	}

	tok, err := e.issue(token.PurposeFileDownload, token.Subject{AccountID: accountID, FileID: fileID}, e.config.Token.DownloadTTL)
	if err != nil {
		return "", err
	}
	e.emitAudit(ctx, auditEventDownloadAuthorized, true, target, nil, nil)
	return tok, nil
}

func (e *Engine) downloadDenied(ctx context.Context, target auditTarget, reason string) error {
	e.metricInc(MetricDownloadDenied)
	e.logger.Info("download denied",
		slog.Int64("account_id", target.accountID),
		slog.Int64("file_id", target.fileID),
		slog.String("reason", reason),
	)
	err := fmt.Errorf("%w: %s", ErrAuthorizationDenied, reason)
	e.emitAudit(ctx, auditEventDownloadDenied, false, target, err, func() map[string]string {
		return map[string]string{"reason": reason}
	})
	return err
}

// checkAssignment returns the denial reason, or "" when the pair is
// currently entitled.
func (e *Engine) checkAssignment(ctx context.Context, accountID, fileID int64) (string, error) {
	a, err := e.repo.GetAssignment(ctx, accountID, fileID)
	switch {
	case errors.Is(err, ErrNotFound):
		return DownloadReasonAssignmentMissing, nil
	case err != nil:
		return "", persistenceError(err)
	case !a.Active:
		return DownloadReasonAssignmentRevoked, nil
	case a.Expired(e.now()):
		return DownloadReasonAssignmentExpired, nil
	}
	return "", nil
}

// Redeem verifies a download token and checks the assignment again, since
// it may have been revoked or have expired since the token was issued. Every
// call writes a DownloadRecord before returning; if that write fails the
// redemption fails.
func (e *Engine) Redeem(ctx context.Context, tok string) (*DownloadGrant, error) {
	grant, used, reason, err := e.redeem(ctx, tok)
	if err != nil && reason == "" {
		return nil, err
	}
	if rerr := e.writeDownloadRecord(ctx, grant, reason, err); rerr != nil {
		e.releaseToken(ctx, used)
		return nil, rerr
	}
	if err != nil {
		return nil, err
	}
	e.downloadGranted(ctx, grant)
	return grant, nil
}

// OpenDownload redeems tok and opens the file. It writes one DownloadRecord:
// a success, a redemption denial, or file_missing when the catalog entry or
// the stored bytes are gone. A single-use token is only spent when the file
// was opened and recorded. The caller must close Content.
func (e *Engine) OpenDownload(ctx context.Context, tok string) (*Download, error) {
	if e.files == nil {
		return nil, ErrEngineNotReady
	}

	grant, used, reason, err := e.redeem(ctx, tok)
	if err != nil && reason == "" {
		return nil, err
	}
	if err != nil {
		if rerr := e.writeDownloadRecord(ctx, grant, reason, err); rerr != nil {
			return nil, rerr
		}
		return nil, err
	}

	file, content, reason, err := e.openFile(ctx, grant.FileID)
	if err != nil {
		e.releaseToken(ctx, used)
	}
	if err != nil && reason == "" {
		return nil, err
	}
	if rerr := e.writeDownloadRecord(ctx, grant, reason, err); rerr != nil {
		if content != nil {
			_ = content.Close()
			e.releaseToken(ctx, used)
		}
		return nil, rerr
	}
	if err != nil {
		return nil, err
	}

	e.downloadGranted(ctx, grant)
	return &Download{DownloadGrant: *grant, File: file, Content: content}, nil
}

// redeem returns the grant, or a denial reason with its error. An error with
// an empty reason is a backend failure that must not be recorded as a denial.
// used is the token id marked spent, empty unless single-use tokens are on.
func (e *Engine) redeem(ctx context.Context, tok string) (grant *DownloadGrant, used, reason string, err error) {
	claims, err := e.verify(ctx, tok, token.PurposeFileDownload)
	if err != nil {
		return &DownloadGrant{}, "", DownloadReasonTokenInvalid, err
	}
	grant = &DownloadGrant{AccountID: claims.AccountID, FileID: claims.FileID}

	acc, err := e.repo.GetAccountByID(ctx, grant.AccountID)
	switch {
	case errors.Is(err, ErrNotFound):
		return grant, "", DownloadReasonTokenInvalid, fmt.Errorf("%w: account not found", ErrTokenInvalid)
	case err != nil:
		return grant, "", "", persistenceError(err)
	}
	if !acc.Active {
		return grant, "", DownloadReasonAccountInactive, fmt.Errorf("%w: %s", ErrAuthorizationDenied, DownloadReasonAccountInactive)
	}

	reason, err = e.checkAssignment(ctx, grant.AccountID, grant.FileID)
	if err != nil {
		return grant, "", "", err
	}
	if reason != "" {
		return grant, "", reason, fmt.Errorf("%w: %s", ErrAuthorizationDenied, reason)
	}

	if e.config.Download.SingleUseTokens {
		first, err := e.tokenUse.Consume(ctx, claims.ID, claims.ExpiresAt.Time)
		if err != nil {
			return grant, "", "", persistenceError(err)
		}
		if !first {
			e.metricInc(MetricTokenInvalid)
			return grant, "", DownloadReasonTokenUsed, fmt.Errorf("%w: token already used", ErrTokenInvalid)
		}
		used = claims.ID
	}

	return grant, used, "", nil
}

// releaseToken un-spends a single-use token after a failure that happened
// once it was consumed.
func (e *Engine) releaseToken(ctx context.Context, tokenID string) {
	if tokenID == "" {
		return
	}
	if err := e.tokenUse.Release(context.WithoutCancel(ctx), tokenID); err != nil {
		e.logger.Warn("token release failed", slog.Any("error", err))
	}
}

func (e *Engine) openFile(ctx context.Context, fileID int64) (*File, io.ReadCloser, string, error) {
	missing := fmt.Errorf("%w: %s", ErrAuthorizationDenied, DownloadReasonFileMissing)

	file, err := e.repo.GetFile(ctx, fileID)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, nil, DownloadReasonFileMissing, missing
	case err != nil:
		return nil, nil, "", persistenceError(err)
	}
	if !file.Active {
		return nil, nil, DownloadReasonFileMissing, missing
	}

	exists, err := e.files.Exists(ctx, file.StoragePath)
	if err != nil {
		return nil, nil, "", fmt.Errorf("file store: %w", err)
	}
	if !exists {
		e.logger.Error("assigned file missing from storage",
			slog.Int64("file_id", file.ID),
			slog.String("path", file.StoragePath),
		)
		return nil, nil, DownloadReasonFileMissing, missing
	}

	content, err := e.files.Open(ctx, file.StoragePath)
	if err != nil {
		return nil, nil, "", fmt.Errorf("file store: %w", err)
	}
	return file, content, "", nil
}

func (e *Engine) writeDownloadRecord(ctx context.Context, grant *DownloadGrant, reason string, cause error) error {
	rec := DownloadRecord{
		ID:               uuid.NewString(),
		AccountID:        grant.AccountID,
		FileID:           grant.FileID,
		SourceAddress:    clientIPFromContext(ctx),
		ClientDescriptor: userAgentFromContext(ctx),
		Success:          reason == "",
		Reason:           reason,
		OccurredAt:       e.now().UTC(),
	}
	if err := e.repo.AppendDownloadRecord(ctx, rec); err != nil {
		e.logger.Error("download record write failed",
			slog.Int64("account_id", grant.AccountID),
			slog.Int64("file_id", grant.FileID),
			slog.Any("error", err),
		)
		return persistenceError(err)
	}

	if reason != "" {
		e.metricInc(MetricDownloadDenied)
		e.logger.Info("download redemption rejected",
			slog.Int64("account_id", grant.AccountID),
			slog.Int64("file_id", grant.FileID),
			slog.String("reason", reason),
			slog.String("ip", rec.SourceAddress),
		)
		e.emitAudit(ctx, auditEventDownloadRedeemRejected, false,
			auditTarget{accountID: grant.AccountID, fileID: grant.FileID}, cause,
			func() map[string]string { return map[string]string{"reason": reason} })
	}
	return nil
}

func (e *Engine) downloadGranted(ctx context.Context, grant *DownloadGrant) {
	e.metricInc(MetricDownloadGranted)
	e.emitAudit(ctx, auditEventDownloadRedeemed, true, auditTarget{accountID: grant.AccountID, fileID: grant.FileID}, nil, nil)
}
