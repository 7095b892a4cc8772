package sqlstore

import (
	"context"
	"fmt"
	"strings"

	fileGate "github.com/MrEthical07/fileGate"
)

func (s *Store) AppendLoginAttempt(ctx context.Context, a fileGate.LoginAttempt) error {
	query := s.rebind(`INSERT INTO login_attempts (id, handle, source_address, client_descriptor,
		success, failure_reason, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query,
		a.ID, a.Handle, a.SourceAddress, a.ClientDescriptor,
		a.Success, string(a.FailureReason), s.ts(a.OccurredAt),
	)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// ListLoginAttempts returns matching entries, newest first.
func (s *Store) ListLoginAttempts(ctx context.Context, q fileGate.LoginAttemptQuery) ([]fileGate.LoginAttempt, error) {
	var (
		where []string
		args  []any
	)
	if q.Handle != "" {
		where = append(where, "handle = ?")
		args = append(args, q.Handle)
	}
	if q.SourceAddress != "" {
		where = append(where, "source_address = ?")
		args = append(args, q.SourceAddress)
	}
	if !q.Since.IsZero() {
		where = append(where, "occurred_at >= ?")
		args = append(args, s.ts(q.Since))
	}

	query := `SELECT id, handle, source_address, client_descriptor, success, failure_reason, occurred_at
		FROM login_attempts` + whereClause(where) + ` ORDER BY occurred_at DESC` + limitClause(q.Limit, &args)

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []fileGate.LoginAttempt
	for rows.Next() {
		var (
			a      fileGate.LoginAttempt
			reason string
			at     dbTime
		)
		if err := rows.Scan(&a.ID, &a.Handle, &a.SourceAddress, &a.ClientDescriptor, &a.Success, &reason, &at); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		a.FailureReason = fileGate.FailureReason(reason)
		a.OccurredAt = at.Time
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (s *Store) AppendDownloadRecord(ctx context.Context, r fileGate.DownloadRecord) error {
	query := s.rebind(`INSERT INTO download_records (id, account_id, file_id, source_address,
		client_descriptor, success, reason, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.AccountID, r.FileID, r.SourceAddress,
		r.ClientDescriptor, r.Success, r.Reason, s.ts(r.OccurredAt),
	)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// ListDownloadRecords returns matching records, newest first.
func (s *Store) ListDownloadRecords(ctx context.Context, q fileGate.DownloadRecordQuery) ([]fileGate.DownloadRecord, error) {
	var (
		where []string
		args  []any
	)
	if q.AccountID != 0 {
		where = append(where, "account_id = ?")
		args = append(args, q.AccountID)
	}
	if q.FileID != 0 {
		where = append(where, "file_id = ?")
		args = append(args, q.FileID)
	}

	query := `SELECT id, account_id, file_id, source_address, client_descriptor, success, reason, occurred_at
		FROM download_records` + whereClause(where) + ` ORDER BY occurred_at DESC` + limitClause(q.Limit, &args)

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []fileGate.DownloadRecord
	for rows.Next() {
		var (
			r  fileGate.DownloadRecord
			at dbTime
		)
		if err := rows.Scan(&r.ID, &r.AccountID, &r.FileID, &r.SourceAddress, &r.ClientDescriptor, &r.Success, &r.Reason, &at); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		r.OccurredAt = at.Time
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

func limitClause(limit int, args *[]any) string {
	if limit <= 0 {
		return ""
	}
	*args = append(*args, limit)
	return " LIMIT ?"
}
