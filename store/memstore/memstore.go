// Package memstore is an in-memory fileGate.Repository for tests, demos and
// single-process deployments. A single mutex serializes every operation, so
// UpdateAccount is trivially atomic.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	fileGate "github.com/MrEthical07/fileGate"
)

type Store struct {
	mu sync.Mutex

	nextAccountID    int64
	nextFileID       int64
	nextAssignmentID int64

	accounts    map[int64]*fileGate.Account
	byHandle    map[string]int64
	byEmail     map[string]int64
	files       map[int64]*fileGate.File
	assignments map[int64]*fileGate.FileAssignment
	logins      []fileGate.LoginAttempt
	downloads   []fileGate.DownloadRecord
}

var _ fileGate.Repository = (*Store)(nil)

func New() *Store {
	return &Store{
		accounts:    make(map[int64]*fileGate.Account),
		byHandle:    make(map[string]int64),
		byEmail:     make(map[string]int64),
		files:       make(map[int64]*fileGate.File),
		assignments: make(map[int64]*fileGate.FileAssignment),
	}
}

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

/*
====================================
ACCOUNTS
====================================
*/

func (s *Store) GetAccountByID(_ context.Context, id int64) (*fileGate.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, fileGate.ErrNotFound
	}
	return a.Clone(), nil
}

func (s *Store) GetAccountByHandle(_ context.Context, handle string) (*fileGate.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byHandle[handle]
	if !ok {
		return nil, fileGate.ErrNotFound
	}
	return s.accounts[id].Clone(), nil
}

func (s *Store) GetAccountByEmail(_ context.Context, email string) (*fileGate.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[emailKey(email)]
	if !ok {
		return nil, fileGate.ErrNotFound
	}
	return s.accounts[id].Clone(), nil
}

func (s *Store) CreateAccount(_ context.Context, account *fileGate.Account) (*fileGate.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byHandle[account.Handle]; ok {
		return nil, fileGate.ErrAccountExists
	}
	if _, ok := s.byEmail[emailKey(account.Email)]; ok {
		return nil, fileGate.ErrAccountExists
	}

	s.nextAccountID++
	a := account.Clone()
	a.ID = s.nextAccountID
	s.accounts[a.ID] = a
	s.byHandle[a.Handle] = a.ID
	s.byEmail[emailKey(a.Email)] = a.ID
	return a.Clone(), nil
}

// SaveAccount overwrites the stored account. Handle and email changes are
// reindexed.
func (s *Store) SaveAccount(_ context.Context, account *fileGate.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.saveLocked(account)
}

func (s *Store) saveLocked(account *fileGate.Account) error {
	prev, ok := s.accounts[account.ID]
	if !ok {
		return fileGate.ErrNotFound
	}
	if id, ok := s.byHandle[account.Handle]; ok && id != account.ID {
		return fileGate.ErrAccountExists
	}
	if id, ok := s.byEmail[emailKey(account.Email)]; ok && id != account.ID {
		return fileGate.ErrAccountExists
	}

	delete(s.byHandle, prev.Handle)
	delete(s.byEmail, emailKey(prev.Email))
	a := account.Clone()
	s.accounts[a.ID] = a
	s.byHandle[a.Handle] = a.ID
	s.byEmail[emailKey(a.Email)] = a.ID
	return nil
}

func (s *Store) UpdateAccount(_ context.Context, id int64, mutate func(*fileGate.Account) error) (*fileGate.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.accounts[id]
	if !ok {
		return nil, fileGate.ErrNotFound
	}
	working := current.Clone()
	if err := mutate(working); err != nil {
		return nil, err
	}
	working.ID = id
	if err := s.saveLocked(working); err != nil {
		return nil, err
	}
	return working.Clone(), nil
}

/*
====================================
FILES
====================================
*/

func (s *Store) CreateFile(_ context.Context, file *fileGate.File) (*fileGate.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextFileID++
	f := *file
	f.ID = s.nextFileID
	s.files[f.ID] = &f
	out := f
	return &out, nil
}

func (s *Store) GetFile(_ context.Context, id int64) (*fileGate.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[id]
	if !ok {
		return nil, fileGate.ErrNotFound
	}
	out := *f
	return &out, nil
}

/*
====================================
ASSIGNMENTS
====================================
*/

func cloneAssignment(a *fileGate.FileAssignment) *fileGate.FileAssignment {
	out := *a
	if a.ExpiresAt != nil {
		t := *a.ExpiresAt
		out.ExpiresAt = &t
	}
	return &out
}

func (s *Store) GetAssignment(_ context.Context, accountID, fileID int64) (*fileGate.FileAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *fileGate.FileAssignment
	for _, a := range s.assignments {
		if a.AccountID != accountID || a.FileID != fileID {
			continue
		}
		if best == nil || newer(a, best) {
			best = a
		}
	}
	if best == nil {
		return nil, fileGate.ErrNotFound
	}
	return cloneAssignment(best), nil
}

// newer orders active before revoked, then by grant time, then by id.
func newer(a, b *fileGate.FileAssignment) bool {
	if a.Active != b.Active {
		return a.Active
	}
	if !a.GrantedAt.Equal(b.GrantedAt) {
		return a.GrantedAt.After(b.GrantedAt)
	}
	return a.ID > b.ID
}

func (s *Store) GetAssignmentByID(_ context.Context, id int64) (*fileGate.FileAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assignments[id]
	if !ok {
		return nil, fileGate.ErrNotFound
	}
	return cloneAssignment(a), nil
}

func (s *Store) CreateAssignment(_ context.Context, assignment *fileGate.FileAssignment) (*fileGate.FileAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextAssignmentID++
	a := cloneAssignment(assignment)
	a.ID = s.nextAssignmentID
	s.assignments[a.ID] = a
	return cloneAssignment(a), nil
}

func (s *Store) SetAssignmentActive(_ context.Context, id int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assignments[id]
	if !ok {
		return fileGate.ErrNotFound
	}
	a.Active = active
	return nil
}

/*
====================================
LEDGER
====================================
*/

func (s *Store) AppendLoginAttempt(_ context.Context, attempt fileGate.LoginAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logins = append(s.logins, attempt)
	return nil
}

func (s *Store) ListLoginAttempts(_ context.Context, q fileGate.LoginAttemptQuery) ([]fileGate.LoginAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []fileGate.LoginAttempt
	for i := len(s.logins) - 1; i >= 0; i-- {
		a := s.logins[i]
		if q.Handle != "" && a.Handle != q.Handle {
			continue
		}
		if q.SourceAddress != "" && a.SourceAddress != q.SourceAddress {
			continue
		}
		if !q.Since.IsZero() && a.OccurredAt.Before(q.Since) {
			continue
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OccurredAt.After(out[j].OccurredAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *Store) AppendDownloadRecord(_ context.Context, record fileGate.DownloadRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.downloads = append(s.downloads, record)
	return nil
}

func (s *Store) ListDownloadRecords(_ context.Context, q fileGate.DownloadRecordQuery) ([]fileGate.DownloadRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []fileGate.DownloadRecord
	for i := len(s.downloads) - 1; i >= 0; i-- {
		r := s.downloads[i]
		if q.AccountID != 0 && r.AccountID != q.AccountID {
			continue
		}
		if q.FileID != 0 && r.FileID != q.FileID {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OccurredAt.After(out[j].OccurredAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}
