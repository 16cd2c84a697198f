package document

import (
	"time"

	"github.com/google/uuid"
)

// MarkerReason says why a reconciliation marker was raised
type MarkerReason string

const (
	MarkerPostingFailed      MarkerReason = "posting_failed"
	MarkerMissingLedgerEntry MarkerReason = "missing_ledger_entry"
	MarkerMissingDocument    MarkerReason = "missing_document"
	MarkerStaleClaim         MarkerReason = "stale_claim"
	MarkerReviewRejected     MarkerReason = "review_rejected"
)

// ReconciliationMarker is a work item for the external reconciliation job
type ReconciliationMarker struct {
	ID            uuid.UUID    `json:"id"`
	CompanyID     uuid.UUID    `json:"company_id"`
	DocumentID    uuid.UUID    `json:"document_id"`
	LedgerEntryID *uuid.UUID   `json:"ledger_entry_id,omitempty"`
	Reason        MarkerReason `json:"reason"`
	Detail        string       `json:"detail,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	ResolvedAt    *time.Time   `json:"resolved_at,omitempty"`
}

// NewMarker creates an open marker
func NewMarker(companyID, documentID uuid.UUID, ledgerEntryID *uuid.UUID, reason MarkerReason, detail string) *ReconciliationMarker {
	if len(detail) > 1000 {
		detail = detail[:1000]
	}
	return &ReconciliationMarker{
		ID:            uuid.New(),
		CompanyID:     companyID,
		DocumentID:    documentID,
		LedgerEntryID: ledgerEntryID,
		Reason:        reason,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}
}

// IsOpen reports whether the marker still needs action
func (m *ReconciliationMarker) IsOpen() bool {
	return m.ResolvedAt == nil
}
