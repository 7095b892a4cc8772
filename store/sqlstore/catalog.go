package sqlstore

import (
	"context"
	"fmt"

	fileGate "github.com/MrEthical07/fileGate"
)

/*
====================================
FILES
====================================
*/

func (s *Store) CreateFile(ctx context.Context, file *fileGate.File) (*fileGate.File, error) {
	f := *file
	query := s.rebind(`INSERT INTO files (original_name, storage_path, size_bytes, content_type,
		description, uploaded_by, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`)
	err := s.db.QueryRowContext(ctx, query,
		f.OriginalName, f.StoragePath, f.SizeBytes, f.ContentType,
		f.Description, f.UploadedBy, f.Active, s.ts(f.CreatedAt),
	).Scan(&f.ID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &f, nil
}

func (s *Store) GetFile(ctx context.Context, id int64) (*fileGate.File, error) {
	query := s.rebind(`SELECT id, original_name, storage_path, size_bytes, content_type,
		description, uploaded_by, active, created_at
		FROM files WHERE id = ?`)

	var (
		f         fileGate.File
		createdAt dbTime
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&f.ID, &f.OriginalName, &f.StoragePath, &f.SizeBytes, &f.ContentType,
		&f.Description, &f.UploadedBy, &f.Active, &createdAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	f.CreatedAt = createdAt.Time
	return &f, nil
}

/*
====================================
ASSIGNMENTS
====================================
*/

const assignmentColumns = `id, account_id, file_id, grantor_id, granted_at, expires_at, active`

func scanAssignment(row rowScanner) (*fileGate.FileAssignment, error) {
	var (
		a                    fileGate.FileAssignment
		grantedAt, expiresAt dbTime
	)
	if err := row.Scan(&a.ID, &a.AccountID, &a.FileID, &a.GrantorID, &grantedAt, &expiresAt, &a.Active); err != nil {
		return nil, err
	}
	a.GrantedAt = grantedAt.Time
	a.ExpiresAt = expiresAt.ptr()
	return &a, nil
}

// GetAssignment prefers an active row, then the newest grant.
func (s *Store) GetAssignment(ctx context.Context, accountID, fileID int64) (*fileGate.FileAssignment, error) {
	query := s.rebind(`SELECT ` + assignmentColumns + ` FROM file_assignments
		WHERE account_id = ? AND file_id = ?
		ORDER BY active DESC, granted_at DESC, id DESC
		LIMIT 1`)
	a, err := scanAssignment(s.db.QueryRowContext(ctx, query, accountID, fileID))
	if err != nil {
		return nil, notFound(err)
	}
	return a, nil
}

func (s *Store) GetAssignmentByID(ctx context.Context, id int64) (*fileGate.FileAssignment, error) {
	query := s.rebind(`SELECT ` + assignmentColumns + ` FROM file_assignments WHERE id = ?`)
	a, err := scanAssignment(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err)
	}
	return a, nil
}

func (s *Store) CreateAssignment(ctx context.Context, assignment *fileGate.FileAssignment) (*fileGate.FileAssignment, error) {
	a := *assignment
	query := s.rebind(`INSERT INTO file_assignments (account_id, file_id, grantor_id, granted_at, expires_at, active)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id`)
	err := s.db.QueryRowContext(ctx, query,
		a.AccountID, a.FileID, a.GrantorID, s.ts(a.GrantedAt), s.tsPtr(a.ExpiresAt), a.Active,
	).Scan(&a.ID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	if a.ExpiresAt != nil {
		t := *a.ExpiresAt
		a.ExpiresAt = &t
	}
	return &a, nil
}

func (s *Store) SetAssignmentActive(ctx context.Context, id int64, active bool) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE file_assignments SET active = ? WHERE id = ?`), active, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return fileGate.ErrNotFound
	}
	return nil
}
