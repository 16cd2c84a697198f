package document

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ledgerlink/backend/internal/domain/shared"
)

// Status is the processing state of a document
type Status string

const (
	StatusUploaded         Status = "uploaded"
	StatusExtracting       Status = "extracting"
	StatusExtracted        Status = "extracted"
	StatusNeedsReview      Status = "needs_review"
	StatusPosting          Status = "posting"
	StatusLinked           Status = "linked"
	StatusExtractionFailed Status = "extraction_failed"
	StatusPostingFailed    Status = "posting_failed"
)

// transitions lists, for every target status, the statuses it may be entered from.
var transitions = map[Status][]Status{
	StatusExtracting:       {StatusUploaded, StatusExtractionFailed},
	StatusExtracted:        {StatusUploaded, StatusExtracting, StatusExtracted},
	StatusExtractionFailed: {StatusExtracting},
	StatusNeedsReview:      {StatusExtracted, StatusNeedsReview},
	StatusPosting:          {StatusExtracted, StatusNeedsReview, StatusPostingFailed},
	StatusLinked:           {StatusPosting, StatusPostingFailed},
	StatusPostingFailed:    {StatusPosting},
}

// IsValid checks if the status is a valid Status
func (s Status) IsValid() bool {
	switch s {
	case StatusUploaded, StatusExtracting, StatusExtracted, StatusNeedsReview,
		StatusPosting, StatusLinked, StatusExtractionFailed, StatusPostingFailed:
		return true
	}
	return false
}

// String returns the string representation of Status
func (s Status) String() string {
	return string(s)
}

// IsTerminal returns true for states the pipeline never leaves on its own
func (s Status) IsTerminal() bool {
	return s == StatusLinked || s == StatusExtractionFailed || s == StatusPostingFailed
}

// CanTransitionTo reports whether next may follow s
func (s Status) CanTransitionTo(next Status) bool {
	for _, from := range transitions[next] {
		if from == s {
			return true
		}
	}
	return false
}

// Predecessors returns the statuses next may be entered from
func Predecessors(next Status) []Status {
	return append([]Status(nil), transitions[next]...)
}

// VisibleStatus is the tri-state shown to end users
type VisibleStatus string

const (
	VisibleProcessing  VisibleStatus = "processing"
	VisibleLinked      VisibleStatus = "linked"
	VisibleNeedsReview VisibleStatus = "needs_review"
)

// Visible collapses the internal state into what end users see. A posting failure
// is still "processing" for the user while reconciliation repairs the link.
func (s Status) Visible() VisibleStatus {
	switch s {
	case StatusLinked:
		return VisibleLinked
	case StatusNeedsReview, StatusExtractionFailed:
		return VisibleNeedsReview
	default:
		return VisibleProcessing
	}
}

// Document is an uploaded source file. Content lives behind ContentLocator and is
// never inlined in the record.
type Document struct {
	shared.CompanyEntity
	ProjectID      *uuid.UUID `json:"project_id,omitempty"`
	ContentLocator string     `json:"content_locator"`
	Checksum       string     `json:"checksum"`
	MimeType       string     `json:"mime_type"`
	Status         Status     `json:"status"`
	Corrupt        bool       `json:"corrupt"`
	LedgerEntryID  *uuid.UUID `json:"ledger_entry_id,omitempty"`
	FailureReason  string     `json:"failure_reason,omitempty"`
	Attributes     Attributes `json:"attributes,omitempty"`
}

// NewDocument creates a document in the uploaded state
func NewDocument(companyID uuid.UUID, projectID *uuid.UUID, locator, checksum, mimeType string) (*Document, error) {
	if companyID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_COMPANY", "Company ID cannot be empty")
	}
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return nil, shared.NewDomainError("INVALID_LOCATOR", "Content locator cannot be empty")
	}
	if len(locator) > 1024 {
		return nil, shared.NewDomainError("INVALID_LOCATOR", "Content locator cannot exceed 1024 characters")
	}
	sum, err := ParseChecksum(checksum)
	if err != nil {
		return nil, err
	}
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if !strings.Contains(mimeType, "/") {
		return nil, shared.NewDomainError("INVALID_MIME_TYPE", fmt.Sprintf("Invalid mime type %q", mimeType))
	}
	return &Document{
		CompanyEntity:  shared.NewCompanyEntity(companyID),
		ProjectID:      projectID,
		ContentLocator: locator,
		Checksum:       sum.String(),
		MimeType:       mimeType,
		Status:         StatusUploaded,
	}, nil
}

// Metadata returns the list-rendering projection of the document
func (d *Document) Metadata() Metadata {
	return Metadata{
		ID:             d.ID,
		CompanyID:      d.CompanyID,
		ProjectID:      d.ProjectID,
		ContentLocator: d.ContentLocator,
		Checksum:       d.Checksum,
		MimeType:       d.MimeType,
		Status:         d.Status,
		LedgerEntryID:  d.LedgerEntryID,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

// Metadata is the cheap, content-free view of a document used by batch reads
type Metadata struct {
	ID             uuid.UUID  `json:"id"`
	CompanyID      uuid.UUID  `json:"company_id"`
	ProjectID      *uuid.UUID `json:"project_id,omitempty"`
	ContentLocator string     `json:"content_locator"`
	Checksum       string     `json:"checksum"`
	MimeType       string     `json:"mime_type"`
	Status         Status     `json:"status"`
	LedgerEntryID  *uuid.UUID `json:"ledger_entry_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// StatusUpdate is the change applied by UpdateDocumentStatus
type StatusUpdate struct {
	Status        Status
	LedgerEntryID *uuid.UUID
	FailureReason string
}

// Filter narrows document list queries
type Filter struct {
	shared.Filter
	ProjectID *uuid.UUID
	Status    *Status
}
