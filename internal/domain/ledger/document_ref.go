package ledger

import (
	"time"

	"github.com/google/uuid"
)

// DocumentRef is the structured-store pointer to a document held in the document
// store. It lets list and audit paths join on documents without reading them.
type DocumentRef struct {
	DocumentID    uuid.UUID  `json:"document_id"`
	CompanyID     uuid.UUID  `json:"company_id"`
	ProjectID     *uuid.UUID `json:"project_id,omitempty"`
	Checksum      string     `json:"checksum"`
	LedgerEntryID *uuid.UUID `json:"ledger_entry_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// DocumentContext is a DocumentRef joined with the project and ledger entry it points at.
type DocumentContext struct {
	Ref         DocumentRef
	Project     *Project
	LedgerEntry *LedgerEntry
}
