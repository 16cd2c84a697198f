package document

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// LinkFilter selects links for audit scans. Results are ordered by document ID and
// paged with a keyset cursor.
type LinkFilter struct {
	CompanyID     *uuid.UUID
	States        []LinkState
	AfterDocument uuid.UUID
	ClaimedBefore *time.Time
	Limit         int
}

// DocumentRepository persists documents
type DocumentRepository interface {
	CreateDocument(ctx context.Context, doc *Document) error
	// GetDocument returns the document, verifying its checksum when a content
	// verifier is configured. A mismatch flags the record corrupt.
	GetDocument(ctx context.Context, id uuid.UUID) (*Document, error)
	// UpdateDocumentStatus applies update if the current status is a valid predecessor.
	UpdateDocumentStatus(ctx context.Context, id uuid.UUID, update StatusUpdate) error
	// BatchGetDocumentMetadata loads metadata in one query, skipping corrupt and missing records.
	BatchGetDocumentMetadata(ctx context.Context, ids []uuid.UUID) ([]Metadata, error)
	ListDocuments(ctx context.Context, companyID uuid.UUID, filter Filter) ([]Metadata, int64, error)
	MarkCorrupt(ctx context.Context, id uuid.UUID) error
	ClearCorrupt(ctx context.Context, id uuid.UUID) error
}

// ExtractionRepository persists financial extractions
type ExtractionRepository interface {
	CreateFinancialExtraction(ctx context.Context, extraction *FinancialExtraction) error
	GetLatestExtraction(ctx context.Context, documentID uuid.UUID) (*FinancialExtraction, error)
	// UpdateExtractionLink moves an extraction to status and records the ledger entry it produced.
	UpdateExtractionLink(ctx context.Context, id uuid.UUID, status LinkStatus, ledgerEntryID *uuid.UUID) error
}

// LinkRepository holds the compare-and-swap primitives for cross-store links.
// Only the posting pipeline writes links.
type LinkRepository interface {
	GetLink(ctx context.Context, documentID uuid.UUID) (*CrossStoreLink, error)
	// ClaimLink inserts link at version 1. It fails with ErrLinkVersionConflict when
	// a link for the document already exists.
	ClaimLink(ctx context.Context, link *CrossStoreLink) error
	// SwapLink replaces the stored link if its version equals expectedVersion.
	SwapLink(ctx context.Context, link *CrossStoreLink, expectedVersion int64) error
	ListLinks(ctx context.Context, filter LinkFilter) ([]CrossStoreLink, error)
	// BatchGetLinksByLedgerEntries loads links pointing at the given entries in one query.
	BatchGetLinksByLedgerEntries(ctx context.Context, ledgerEntryIDs []uuid.UUID) ([]CrossStoreLink, error)
}

// MarkerRepository persists reconciliation markers
type MarkerRepository interface {
	CreateMarker(ctx context.Context, marker *ReconciliationMarker) error
	ListOpenMarkers(ctx context.Context, companyID *uuid.UUID, limit int) ([]ReconciliationMarker, error)
	ResolveMarkers(ctx context.Context, documentID uuid.UUID, reason MarkerReason) error
}

// Store is the full document store contract
type Store interface {
	DocumentRepository
	ExtractionRepository
	LinkRepository
	MarkerRepository
}
