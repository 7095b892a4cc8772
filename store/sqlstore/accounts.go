package sqlstore

import (
	"context"
	"fmt"
	"time"

	fileGate "github.com/MrEthical07/fileGate"
)

const accountColumns = `id, handle, email, password_hash, role, company_name, contact_info,
	active, activated, failed_attempts, locked, locked_until, last_login_at,
	mfa_enabled, mfa_secret, terms_accepted, terms_accepted_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*fileGate.Account, error) {
	var (
		a                               fileGate.Account
		role                            string
		lockedUntil, lastLogin, termsAt dbTime
		createdAt, updatedAt            dbTime
	)
	err := row.Scan(
		&a.ID, &a.Handle, &a.Email, &a.PasswordHash, &role, &a.CompanyName, &a.ContactInfo,
		&a.Active, &a.Activated, &a.Lockout.FailedAttempts, &a.Lockout.Locked, &lockedUntil, &lastLogin,
		&a.MFAEnabled, &a.MFASecret, &a.TermsAccepted, &termsAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Role = fileGate.Role(role)
	a.Lockout.LockedUntil = lockedUntil.ptr()
	a.LastLoginAt = lastLogin.ptr()
	a.TermsAcceptedAt = termsAt.ptr()
	a.CreatedAt = createdAt.Time
	a.UpdatedAt = updatedAt.Time
	return &a, nil
}

func (s *Store) getAccount(ctx context.Context, q dbtx, where string, arg any) (*fileGate.Account, error) {
	query := s.rebind(`SELECT ` + accountColumns + ` FROM accounts WHERE ` + where)
	a, err := scanAccount(q.QueryRowContext(ctx, query, arg))
	if err != nil {
		return nil, notFound(err)
	}
	return a, nil
}

func (s *Store) GetAccountByID(ctx context.Context, id int64) (*fileGate.Account, error) {
	return s.getAccount(ctx, s.db, `id = ?`, id)
}

func (s *Store) GetAccountByHandle(ctx context.Context, handle string) (*fileGate.Account, error) {
	return s.getAccount(ctx, s.db, `handle = ?`, handle)
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*fileGate.Account, error) {
	return s.getAccount(ctx, s.db, `lower(email) = lower(?)`, email)
}

func (s *Store) CreateAccount(ctx context.Context, account *fileGate.Account) (*fileGate.Account, error) {
	a := account.Clone()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = a.CreatedAt
	}

	query := s.rebind(`INSERT INTO accounts (handle, email, password_hash, role, company_name, contact_info,
		active, activated, failed_attempts, locked, locked_until, last_login_at,
		mfa_enabled, mfa_secret, terms_accepted, terms_accepted_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`)
	err := s.db.QueryRowContext(ctx, query,
		a.Handle, a.Email, a.PasswordHash, string(a.Role), a.CompanyName, a.ContactInfo,
		a.Active, a.Activated, a.Lockout.FailedAttempts, a.Lockout.Locked, s.tsPtr(a.Lockout.LockedUntil), s.tsPtr(a.LastLoginAt),
		a.MFAEnabled, a.MFASecret, a.TermsAccepted, s.tsPtr(a.TermsAcceptedAt), s.ts(a.CreatedAt), s.ts(a.UpdatedAt),
	).Scan(&a.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fileGate.ErrAccountExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return a, nil
}

// SaveAccount overwrites every mutable column of the row.
func (s *Store) SaveAccount(ctx context.Context, account *fileGate.Account) error {
	return s.saveAccount(ctx, s.db, account)
}

func (s *Store) saveAccount(ctx context.Context, q dbtx, a *fileGate.Account) error {
	query := s.rebind(`UPDATE accounts SET handle = ?, email = ?, password_hash = ?, role = ?,
		company_name = ?, contact_info = ?, active = ?, activated = ?,
		failed_attempts = ?, locked = ?, locked_until = ?, last_login_at = ?,
		mfa_enabled = ?, mfa_secret = ?, terms_accepted = ?, terms_accepted_at = ?, updated_at = ?
		WHERE id = ?`)
	res, err := q.ExecContext(ctx, query,
		a.Handle, a.Email, a.PasswordHash, string(a.Role),
		a.CompanyName, a.ContactInfo, a.Active, a.Activated,
		a.Lockout.FailedAttempts, a.Lockout.Locked, s.tsPtr(a.Lockout.LockedUntil), s.tsPtr(a.LastLoginAt),
		a.MFAEnabled, a.MFASecret, a.TermsAccepted, s.tsPtr(a.TermsAcceptedAt), s.ts(a.UpdatedAt),
		a.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fileGate.ErrAccountExists
		}
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

// UpdateAccount reads the row inside a transaction (FOR UPDATE on
// PostgreSQL), applies mutate and writes it back before committing.
func (s *Store) UpdateAccount(ctx context.Context, id int64, mutate func(*fileGate.Account) error) (*fileGate.Account, error) {
	var out *fileGate.Account
	err := s.withTx(ctx, func(tx dbtx) error {
		where := `id = ?`
		if s.dialect == Postgres {
			where += ` FOR UPDATE`
		}
		a, err := s.getAccount(ctx, tx, where, id)
		if err != nil {
			return err
		}
		if err := mutate(a); err != nil {
			return err
		}
		a.ID = id
		a.UpdatedAt = time.Now().UTC()
		if err := s.saveAccount(ctx, tx, a); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
