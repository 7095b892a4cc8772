package fileGate

import (
	"context"
	"io"
	"time"

	"github.com/MrEthical07/fileGate/lockout"
)

// Role is an account's role.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleCustomer Role = "customer"
)

// Account is an identity with its credential and security state.
//
// MFASecret is non-empty iff MFAEnabled. Activated records that the owner
// completed activation at least once and is independent of Active, which an
// admin may toggle.
type Account struct {
	ID              int64
	Handle          string
	Email           string
	PasswordHash    string
	Role            Role
	CompanyName     string
	ContactInfo     string
	Active          bool
	Activated       bool
	Lockout         lockout.State
	LastLoginAt     *time.Time
	MFAEnabled      bool
	MFASecret       string
	TermsAccepted   bool
	TermsAcceptedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Clone returns a deep copy.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	out := *a
	out.Lockout.LockedUntil = cloneTime(a.Lockout.LockedUntil)
	out.LastLoginAt = cloneTime(a.LastLoginAt)
	out.TermsAcceptedAt = cloneTime(a.TermsAcceptedAt)
	return &out
}

// LoginAttempt is an immutable ledger entry, written once per login call.
type LoginAttempt struct {
	ID               string
	Handle           string
	SourceAddress    string
	ClientDescriptor string
	Success          bool
	FailureReason    FailureReason
	OccurredAt       time.Time
}

// LoginAttemptQuery filters the ledger. Zero fields are ignored; results are
// newest first.
type LoginAttemptQuery struct {
	Handle        string
	SourceAddress string
	Since         time.Time
	Limit         int
}

// File is the metadata of a downloadable file. StoragePath is resolved by the
// FileStore.
type File struct {
	ID           int64
	OriginalName string
	StoragePath  string
	SizeBytes    int64
	ContentType  string
	Description  string
	UploadedBy   int64
	Active       bool
	CreatedAt    time.Time
}

// FileAssignment grants one account access to one file. Revocation flips
// Active; rows are never removed.
type FileAssignment struct {
	ID        int64
	AccountID int64
	FileID    int64
	GrantorID int64
	GrantedAt time.Time
	ExpiresAt *time.Time
	Active    bool
}

// Expired reports whether the optional expiry has passed at now.
func (a *FileAssignment) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && now.After(*a.ExpiresAt)
}

// Grants reports whether the assignment currently entitles access.
func (a *FileAssignment) Grants(now time.Time) bool {
	return a != nil && a.Active && !a.Expired(now)
}

// DownloadRecord is the audit row written for every redemption attempt.
// AccountID and FileID are zero when the token could not be read.
type DownloadRecord struct {
	ID               string
	AccountID        int64
	FileID           int64
	SourceAddress    string
	ClientDescriptor string
	Success          bool
	Reason           string
	OccurredAt       time.Time
}

type DownloadRecordQuery struct {
	AccountID int64
	FileID    int64
	Limit     int
}

// AccountStore persists accounts. UpdateAccount must apply mutate as one
// atomic read-modify-write: concurrent calls for the same id are serialized
// and none observes a stale copy. If mutate returns an error nothing is
// written and the error is returned unchanged.
type AccountStore interface {
	GetAccountByID(ctx context.Context, id int64) (*Account, error)
	GetAccountByHandle(ctx context.Context, handle string) (*Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*Account, error)
	CreateAccount(ctx context.Context, account *Account) (*Account, error)
	SaveAccount(ctx context.Context, account *Account) error
	UpdateAccount(ctx context.Context, id int64, mutate func(*Account) error) (*Account, error)
}

type FileCatalog interface {
	CreateFile(ctx context.Context, file *File) (*File, error)
	GetFile(ctx context.Context, id int64) (*File, error)
}

// AssignmentStore persists assignments. GetAssignment returns the newest
// assignment for the pair, preferring active rows over revoked ones, or
// ErrNotFound when the pair was never assigned.
type AssignmentStore interface {
	GetAssignment(ctx context.Context, accountID, fileID int64) (*FileAssignment, error)
	GetAssignmentByID(ctx context.Context, id int64) (*FileAssignment, error)
	CreateAssignment(ctx context.Context, assignment *FileAssignment) (*FileAssignment, error)
	SetAssignmentActive(ctx context.Context, id int64, active bool) error
}

// LedgerStore is append-only.
type LedgerStore interface {
	AppendLoginAttempt(ctx context.Context, attempt LoginAttempt) error
	ListLoginAttempts(ctx context.Context, query LoginAttemptQuery) ([]LoginAttempt, error)
	AppendDownloadRecord(ctx context.Context, record DownloadRecord) error
	ListDownloadRecords(ctx context.Context, query DownloadRecordQuery) ([]DownloadRecord, error)
}

// Repository is everything the engine persists. Implementations return
// ErrNotFound for missing rows and ErrAccountExists for duplicate handles or
// emails.
type Repository interface {
	AccountStore
	FileCatalog
	AssignmentStore
	LedgerStore
}

// Mail templates sent by the engine.
const (
	MailTemplateWelcome       = "welcome"
	MailTemplatePasswordReset = "password_reset"
	MailTemplateFileAssigned  = "file_assigned"
)

// Mailer delivers templated mail. The engine calls it off the request path
// and only logs failures.
type Mailer interface {
	Send(ctx context.Context, to string, templateID string, vars map[string]string) error
}

// FileStore resolves stored file bytes. It is consulted only after a
// download token has been redeemed.
type FileStore interface {
	Exists(ctx context.Context, path string) (bool, error)
	Open(ctx context.Context, path string) (io.ReadCloser, error)
}

// LoginResult is returned by a successful Login or ConfirmLoginMFA. When
// MFARequired is set the login is not complete: pass ChallengeID and a code
// to ConfirmLoginMFA.
type LoginResult struct {
	AccountID   int64
	Handle      string
	Role        Role
	MFARequired bool
	ChallengeID string
}

// MFAEnrollment is the staged secret shown to the user during setup.
type MFAEnrollment struct {
	Secret          string
	ProvisioningURI string
	ExpiresAt       time.Time
}

// DownloadGrant is the outcome of a successful redemption.
type DownloadGrant struct {
	AccountID int64
	FileID    int64
}

// Download is an opened file ready to stream. The caller closes Content.
type Download struct {
	DownloadGrant
	File    *File
	Content io.ReadCloser
}

// NewCustomer describes a customer account created by an admin.
type NewCustomer struct {
	Handle      string
	Email       string
	CompanyName string
	ContactInfo string
}

// CustomerCreated carries the new account and the one-time material the
// admin flow may need.
type CustomerCreated struct {
	Account           *Account
	TemporaryPassword string
	ActivationToken   string
}

// AssignmentRequest grants FileID to AccountID. A nil ExpiresAt never expires.
type AssignmentRequest struct {
	AccountID int64
	FileID    int64
	GrantorID int64
	ExpiresAt *time.Time
}

// BulkAssignmentResult reports which accounts received the file.
type BulkAssignmentResult struct {
	Created []*FileAssignment
	Skipped []int64
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
