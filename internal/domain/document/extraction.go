package document

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ledgerlink/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// Well-known entity roles in an extraction result
const (
	EntityEntryType   = "entry_type"
	EntityDate        = "date"
	EntityDescription = "description"
	EntityAccountCode = "account_code"
)

// ExtractionResult is what the external extraction service proposes for a document
type ExtractionResult struct {
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	Confidence float64         `json:"confidence"`
	Entities   Attributes      `json:"entities,omitempty"`
	CompanyRef string          `json:"company_ref,omitempty"`
	ProjectRef string          `json:"project_ref,omitempty"`
}

// Validate checks the structural shape of the result. It does not check the
// confidence threshold or resolve references.
func (r ExtractionResult) Validate() error {
	if r.Confidence < 0 || r.Confidence > 1 {
		return shared.NewDomainError("INVALID_CONFIDENCE", "Confidence must be between 0 and 1")
	}
	if strings.TrimSpace(r.Currency) == "" {
		return shared.NewDomainError("INVALID_CURRENCY", "Currency is required")
	}
	return r.Entities.Validate()
}

// Entity returns the text value of a role, or "" if absent
func (r ExtractionResult) Entity(role string) string {
	if v, ok := r.Entities.Get(role); ok {
		return v.String()
	}
	return ""
}

// TransactionDate parses the "date" entity (YYYY-MM-DD)
func (r ExtractionResult) TransactionDate() (time.Time, bool) {
	raw := r.Entity(EntityDate)
	if raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// LinkStatus is the posting state of a FinancialExtraction
type LinkStatus string

const (
	LinkStatusNeedsReview LinkStatus = "needs_review"
	LinkStatusLinked      LinkStatus = "linked"
	LinkStatusRejected    LinkStatus = "rejected"
)

// IsValid checks if the status is a valid LinkStatus
func (s LinkStatus) IsValid() bool {
	switch s {
	case LinkStatusNeedsReview, LinkStatusLinked, LinkStatusRejected:
		return true
	}
	return false
}

// FinancialExtraction is the persisted extraction for a document
type FinancialExtraction struct {
	shared.CompanyEntity
	DocumentID    uuid.UUID       `json:"document_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Confidence    float64         `json:"confidence"`
	Entities      Attributes      `json:"entities,omitempty"`
	CompanyRef    string          `json:"company_ref,omitempty"`
	ProjectRef    string          `json:"project_ref,omitempty"`
	LinkStatus    LinkStatus      `json:"link_status"`
	LedgerEntryID *uuid.UUID      `json:"ledger_entry_id,omitempty"`
	ReviewReason  string          `json:"review_reason,omitempty"`
}

// NewFinancialExtraction records result for doc
func NewFinancialExtraction(doc *Document, result ExtractionResult, status LinkStatus) (*FinancialExtraction, error) {
	if doc == nil {
		return nil, shared.NewDomainError("INVALID_DOCUMENT", "Document is required")
	}
	if !status.IsValid() {
		return nil, shared.NewDomainError("INVALID_LINK_STATUS", "Link status is not valid")
	}
	if err := result.Validate(); err != nil {
		return nil, err
	}
	return &FinancialExtraction{
		CompanyEntity: shared.NewCompanyEntity(doc.CompanyID),
		DocumentID:    doc.ID,
		Amount:        result.Amount,
		Currency:      strings.ToUpper(strings.TrimSpace(result.Currency)),
		Confidence:    result.Confidence,
		Entities:      result.Entities,
		CompanyRef:    result.CompanyRef,
		ProjectRef:    result.ProjectRef,
		LinkStatus:    status,
	}, nil
}

// Result rebuilds the ExtractionResult the record was created from
func (f *FinancialExtraction) Result() ExtractionResult {
	return ExtractionResult{
		Amount:     f.Amount,
		Currency:   f.Currency,
		Confidence: f.Confidence,
		Entities:   f.Entities,
		CompanyRef: f.CompanyRef,
		ProjectRef: f.ProjectRef,
	}
}
