package fileGate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// RegisterFile adds a file to the catalog. The bytes must already be in the
// FileStore under StoragePath.
func (e *Engine) RegisterFile(ctx context.Context, file File) (*File, error) {
	file.OriginalName = strings.TrimSpace(file.OriginalName)
	file.StoragePath = strings.TrimSpace(file.StoragePath)
	if file.OriginalName == "" || file.StoragePath == "" || file.SizeBytes < 0 {
		return nil, ErrInvalidInput
	}
	if e.files != nil {
		exists, err := e.files.Exists(ctx, file.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("file store: %w", err)
		}
		if !exists {
			return nil, fmt.Errorf("%w: %s not in storage", ErrInvalidInput, file.StoragePath)
		}
	}
	file.Active = true
	if file.CreatedAt.IsZero() {
		file.CreatedAt = e.now().UTC()
	}

	created, err := e.repo.CreateFile(ctx, &file)
	if err != nil {
		return nil, repoError(err)
	}
	e.emitAudit(ctx, auditEventFileRegistered, true, auditTarget{accountID: file.UploadedBy, fileID: created.ID}, nil, nil)
	return created, nil
}

// AssignFile grants req.FileID to req.AccountID and mails the account. An
// existing assignment that still grants access makes it fail with
// ErrAssignmentExists.
func (e *Engine) AssignFile(ctx context.Context, req AssignmentRequest) (*FileAssignment, error) {
	if req.AccountID <= 0 || req.FileID <= 0 {
		return nil, ErrInvalidInput
	}
	now := e.now()
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		return nil, fmt.Errorf("%w: expiry in the past", ErrInvalidInput)
	}

	acc, err := e.repo.GetAccountByID(ctx, req.AccountID)
	if err != nil {
		return nil, repoError(err)
	}
	file, err := e.repo.GetFile(ctx, req.FileID)
	if err != nil {
		return nil, repoError(err)
	}
	if !file.Active {
		return nil, fmt.Errorf("%w: file is inactive", ErrInvalidInput)
	}

	existing, err := e.repo.GetAssignment(ctx, req.AccountID, req.FileID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, persistenceError(err)
	}
	if err == nil && existing.Grants(now) {
		return nil, ErrAssignmentExists
	}

	created, err := e.repo.CreateAssignment(ctx, &FileAssignment{
		AccountID: req.AccountID,
		FileID:    req.FileID,
		GrantorID: req.GrantorID,
		GrantedAt: now.UTC(),
		ExpiresAt: cloneTime(req.ExpiresAt),
		Active:    true,
	})
	if err != nil {
		return nil, repoError(err)
	}

	vars := map[string]string{
		"handle":    acc.Handle,
		"file_name": file.OriginalName,
	}
	if req.ExpiresAt != nil {
		vars["expires_at"] = req.ExpiresAt.UTC().Format(time.RFC1123)
	}
	e.sendMail(ctx, acc.Email, MailTemplateFileAssigned, e.mailVars(vars))

	e.metricInc(MetricAssignmentCreated)
	e.logger.Info("file assigned",
		slog.Int64("assignment_id", created.ID),
		slog.Int64("account_id", acc.ID),
		slog.Int64("file_id", file.ID),
	)
	e.emitAudit(ctx, auditEventAssignmentCreated, true, auditTarget{accountID: acc.ID, handle: acc.Handle, fileID: file.ID}, nil, nil)
	return created, nil
}

// AssignFiles assigns one file to many accounts. Accounts that already hold
// the file, or do not exist, are reported in Skipped; a persistence failure
// stops the batch.
func (e *Engine) AssignFiles(ctx context.Context, fileID, grantorID int64, accountIDs []int64, expiresAt *time.Time) (*BulkAssignmentResult, error) {
	res := &BulkAssignmentResult{}
	seen := make(map[int64]struct{}, len(accountIDs))
	for _, id := range accountIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		a, err := e.AssignFile(ctx, AssignmentRequest{
			AccountID: id,
			FileID:    fileID,
			GrantorID: grantorID,
			ExpiresAt: expiresAt,
		})
		switch {
		case err == nil:
			res.Created = append(res.Created, a)
		case errors.Is(err, ErrValidation), errors.Is(err, ErrNotFound):
			res.Skipped = append(res.Skipped, id)
		default:
			return res, err
		}
	}
	return res, nil
}

// RevokeAssignment deactivates an assignment. Download tokens issued for it
// stop working at redemption.
func (e *Engine) RevokeAssignment(ctx context.Context, assignmentID int64) error {
	a, err := e.repo.GetAssignmentByID(ctx, assignmentID)
	if err != nil {
		return repoError(err)
	}
	if !a.Active {
		return nil
	}
	if err := e.repo.SetAssignmentActive(ctx, assignmentID, false); err != nil {
		return repoError(err)
	}

	e.metricInc(MetricAssignmentRevoked)
	e.logger.Info("assignment revoked",
		slog.Int64("assignment_id", assignmentID),
		slog.Int64("account_id", a.AccountID),
		slog.Int64("file_id", a.FileID),
	)
	e.emitAudit(ctx, auditEventAssignmentRevoked, true, auditTarget{accountID: a.AccountID, fileID: a.FileID}, nil, nil)
	return nil
}
