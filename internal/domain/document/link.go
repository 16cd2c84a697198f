package document

import (
	"time"

	"github.com/google/uuid"
	"github.com/ledgerlink/backend/internal/domain/shared"
)

// LinkState is the state of a cross-store link
type LinkState string

const (
	// LinkStatePosting means a posting attempt holds the claim and has not finished.
	LinkStatePosting       LinkState = "posting"
	LinkStateLinked        LinkState = "linked"
	LinkStatePostingFailed LinkState = "posting_failed"
)

// ErrLinkVersionConflict is returned when a compare-and-swap on the link version loses.
var ErrLinkVersionConflict = shared.NewDomainError("LINK_VERSION_CONFLICT", "Cross-store link was modified by a concurrent posting attempt")

// CrossStoreLink ties a document to the ledger entry it produced. Version grows by
// one on every write and every write is a compare-and-swap on it.
type CrossStoreLink struct {
	DocumentID    uuid.UUID  `json:"document_id"`
	CompanyID     uuid.UUID  `json:"company_id"`
	ProjectID     *uuid.UUID `json:"project_id,omitempty"`
	LedgerEntryID *uuid.UUID `json:"ledger_entry_id,omitempty"`
	ExtractionID  *uuid.UUID `json:"extraction_id,omitempty"`
	State         LinkState  `json:"state"`
	Version       int64      `json:"version"`
	AttemptID     uuid.UUID  `json:"attempt_id"`
	ClaimedAt     time.Time  `json:"claimed_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// NewClaim builds the first version of a link for a posting attempt
func NewClaim(doc *Document, projectID *uuid.UUID, attemptID uuid.UUID) *CrossStoreLink {
	now := time.Now().UTC()
	return &CrossStoreLink{
		DocumentID: doc.ID,
		CompanyID:  doc.CompanyID,
		ProjectID:  projectID,
		State:      LinkStatePosting,
		Version:    1,
		AttemptID:  attemptID,
		ClaimedAt:  now,
		UpdatedAt:  now,
	}
}

// IsLinked reports whether the link is complete
func (l *CrossStoreLink) IsLinked() bool {
	return l.State == LinkStateLinked && l.LedgerEntryID != nil
}

// HeldBy reports whether attemptID owns the current claim
func (l *CrossStoreLink) HeldBy(attemptID uuid.UUID) bool {
	return l.AttemptID == attemptID
}

// Next returns a copy at the following version with the given state
func (l *CrossStoreLink) Next(state LinkState) *CrossStoreLink {
	next := *l
	next.State = state
	next.Version = l.Version + 1
	next.UpdatedAt = time.Now().UTC()
	return &next
}
