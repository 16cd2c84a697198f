package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/ledgerlink/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// LedgerEntryFilter defines filtering options for ledger entry queries
type LedgerEntryFilter struct {
	shared.Filter
	ProjectID *uuid.UUID
	Type      *EntryType
	From      *time.Time
	To        *time.Time
}

// CompanyRepository persists companies
type CompanyRepository interface {
	CreateCompany(ctx context.Context, company *Company) error
	GetCompany(ctx context.Context, id uuid.UUID) (*Company, error)
}

// ProjectRepository persists projects. Projects are archived, never deleted.
type ProjectRepository interface {
	CreateProject(ctx context.Context, project *Project) error
	GetProject(ctx context.Context, id uuid.UUID) (*Project, error)
	FindProjectByCode(ctx context.Context, companyID uuid.UUID, code string) (*Project, error)
	ArchiveProject(ctx context.Context, id uuid.UUID) error
	// BatchGetProjectsByIDs loads all projects in one IN query. Missing IDs are skipped.
	BatchGetProjectsByIDs(ctx context.Context, ids []uuid.UUID) ([]Project, error)
}

// AccountRepository persists chart-of-accounts entries
type AccountRepository interface {
	CreateAccount(ctx context.Context, account *Account) error
	BatchGetAccountsByIDs(ctx context.Context, ids []uuid.UUID) ([]Account, error)
}

// LedgerEntryRepository is append-only.
type LedgerEntryRepository interface {
	CreateLedgerEntry(ctx context.Context, entry *LedgerEntry) error
	GetLedgerEntry(ctx context.Context, id uuid.UUID) (*LedgerEntry, error)
	GetLedgerEntriesByCompany(ctx context.Context, companyID uuid.UUID, filter LedgerEntryFilter) ([]LedgerEntry, int64, error)
	BatchGetLedgerEntries(ctx context.Context, ids []uuid.UUID) ([]LedgerEntry, error)
	// UpdateLedgerEntryAmount always fails: posted amounts are immutable.
	UpdateLedgerEntryAmount(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error
	ReverseLedgerEntry(ctx context.Context, id uuid.UUID, reason string) (*LedgerEntry, error)
}

// DocumentRefRepository persists the structured-side document pointers
type DocumentRefRepository interface {
	CreateDocumentRef(ctx context.Context, ref *DocumentRef) error
	// PostLedgerEntryForDocument creates the entry and points the document ref at it
	// in a single transaction.
	PostLedgerEntryForDocument(ctx context.Context, entry *LedgerEntry, documentID uuid.UUID) error
	BatchGetDocumentContexts(ctx context.Context, documentIDs []uuid.UUID) ([]DocumentContext, error)
}

// Store is the full structured store contract
type Store interface {
	CompanyRepository
	ProjectRepository
	AccountRepository
	LedgerEntryRepository
	DocumentRefRepository
}
