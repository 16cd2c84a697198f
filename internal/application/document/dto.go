package document

import (
	"time"

	"github.com/google/uuid"
	"github.com/ledgerlink/backend/internal/application/metadata"
	"github.com/ledgerlink/backend/internal/application/posting"
	"github.com/ledgerlink/backend/internal/application/reconciliation"
	"github.com/ledgerlink/backend/internal/domain/document"
	"github.com/ledgerlink/backend/internal/domain/ledger"
	"github.com/shopspring/decimal"
)

// IngestRequest registers a document whose content is already stored
type IngestRequest struct {
	CompanyID      uuid.UUID  `json:"company_id" binding:"required"`
	ProjectID      *uuid.UUID `json:"project_id"`
	ContentLocator string     `json:"content_locator" binding:"required,min=1,max=1024"`
	Checksum       string     `json:"checksum" binding:"required,max=200,checksum"`
	MimeType       string     `json:"mime_type" binding:"required,max=100"`
}

// ListFilter narrows a document list
type ListFilter struct {
	ProjectID *uuid.UUID `form:"-"`
	Status    string     `form:"status" binding:"omitempty,max=32"`
	Page      int        `form:"page" binding:"omitempty,min=1"`
	PageSize  int        `form:"page_size" binding:"omitempty,min=1,max=100"`
	SortBy    string     `form:"sort_by" binding:"omitempty,max=32"`
	SortOrder string     `form:"sort_order" binding:"omitempty,oneof=asc desc"`
}

// Review decisions
const (
	DecisionApprove = "approve"
	DecisionReject  = "reject"
)

// ReviewRequest is a reviewer's decision on a document waiting for review
type ReviewRequest struct {
	Decision  string     `json:"decision" binding:"required,oneof=approve reject"`
	ProjectID *uuid.UUID `json:"project_id"`
	Reason    string     `json:"reason" binding:"max=1000"`
}

// ExtractionResponse summarizes the latest extraction of a document
type ExtractionResponse struct {
	ID            uuid.UUID           `json:"id"`
	Amount        decimal.Decimal     `json:"amount"`
	Currency      string              `json:"currency"`
	Confidence    float64             `json:"confidence"`
	ProjectRef    string              `json:"project_ref,omitempty"`
	LinkStatus    document.LinkStatus `json:"link_status"`
	LedgerEntryID *uuid.UUID          `json:"ledger_entry_id,omitempty"`
	ReviewReason  string              `json:"review_reason,omitempty"`
}

// DocumentResponse is a single document. Status is what end users see;
// InternalStatus is the pipeline state.
type DocumentResponse struct {
	ID             uuid.UUID              `json:"id"`
	CompanyID      uuid.UUID              `json:"company_id"`
	ProjectID      *uuid.UUID             `json:"project_id,omitempty"`
	ContentLocator string                 `json:"content_locator"`
	Checksum       string                 `json:"checksum"`
	MimeType       string                 `json:"mime_type"`
	Status         document.VisibleStatus `json:"status"`
	InternalStatus document.Status        `json:"internal_status"`
	LedgerEntryID  *uuid.UUID             `json:"ledger_entry_id,omitempty"`
	Extraction     *ExtractionResponse    `json:"extraction,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// DocumentListItem is a list row enriched from both stores
type DocumentListItem struct {
	ID             uuid.UUID              `json:"id"`
	ProjectID      *uuid.UUID             `json:"project_id,omitempty"`
	ProjectCode    string                 `json:"project_code,omitempty"`
	MimeType       string                 `json:"mime_type"`
	Status         document.VisibleStatus `json:"status"`
	InternalStatus document.Status        `json:"internal_status"`
	LedgerEntryID  *uuid.UUID             `json:"ledger_entry_id,omitempty"`
	Amount         *decimal.Decimal       `json:"amount,omitempty"`
	Currency       string                 `json:"currency,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

// ListResult is one page of documents
type ListResult struct {
	Items []DocumentListItem `json:"items"`
	Total int64              `json:"total"`
}

// LedgerEntryResponse is the ledger entry a document resolved to
type LedgerEntryResponse struct {
	ID          uuid.UUID        `json:"id"`
	CompanyID   uuid.UUID        `json:"company_id"`
	ProjectID   *uuid.UUID       `json:"project_id,omitempty"`
	Type        ledger.EntryType `json:"type"`
	Amount      decimal.Decimal  `json:"amount"`
	Currency    string           `json:"currency"`
	EntryDate   time.Time        `json:"entry_date"`
	SourceRef   string           `json:"source_ref"`
	Description string           `json:"description,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// OutcomeResponse reports a pipeline run
type OutcomeResponse struct {
	DocumentID     uuid.UUID              `json:"document_id"`
	Status         document.VisibleStatus `json:"status"`
	InternalStatus document.Status        `json:"internal_status"`
	Result         string                 `json:"result"`
	LedgerEntryID  *uuid.UUID             `json:"ledger_entry_id,omitempty"`
	Reason         string                 `json:"reason,omitempty"`
}

// OrphanResponse is one audit finding
type OrphanResponse struct {
	Kind          document.MarkerReason `json:"kind"`
	DocumentID    uuid.UUID             `json:"document_id"`
	CompanyID     uuid.UUID             `json:"company_id"`
	LedgerEntryID *uuid.UUID            `json:"ledger_entry_id,omitempty"`
	LinkState     document.LinkState    `json:"link_state"`
	LinkVersion   int64                 `json:"link_version"`
	Detail        string                `json:"detail"`
}

// ToDocumentResponse converts a document and its latest extraction, if any
func ToDocumentResponse(d *document.Document, extraction *document.FinancialExtraction) *DocumentResponse {
	resp := &DocumentResponse{
		ID:             d.ID,
		CompanyID:      d.CompanyID,
		ProjectID:      d.ProjectID,
		ContentLocator: d.ContentLocator,
		Checksum:       d.Checksum,
		MimeType:       d.MimeType,
		Status:         d.Status.Visible(),
		InternalStatus: d.Status,
		LedgerEntryID:  d.LedgerEntryID,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
	if extraction != nil {
		resp.Extraction = &ExtractionResponse{
			ID:            extraction.ID,
			Amount:        extraction.Amount,
			Currency:      extraction.Currency,
			Confidence:    extraction.Confidence,
			ProjectRef:    extraction.ProjectRef,
			LinkStatus:    extraction.LinkStatus,
			LedgerEntryID: extraction.LedgerEntryID,
			ReviewReason:  extraction.ReviewReason,
		}
	}
	return resp
}

// ToDocumentListItem converts loaded metadata to a list row
func ToDocumentListItem(m metadata.Metadata) DocumentListItem {
	item := DocumentListItem{
		ID:             m.Document.ID,
		ProjectID:      m.Document.ProjectID,
		MimeType:       m.Document.MimeType,
		Status:         m.Document.Status.Visible(),
		InternalStatus: m.Document.Status,
		LedgerEntryID:  m.Document.LedgerEntryID,
		CreatedAt:      m.Document.CreatedAt,
	}
	if m.Project != nil {
		item.ProjectCode = m.Project.Code
	}
	if m.LedgerEntry != nil {
		amount := m.LedgerEntry.Amount
		item.Amount = &amount
		item.Currency = m.LedgerEntry.Currency
		item.LedgerEntryID = &m.LedgerEntry.ID
	}
	return item
}

// ToLedgerEntryResponse converts a ledger entry
func ToLedgerEntryResponse(e *ledger.LedgerEntry) *LedgerEntryResponse {
	return &LedgerEntryResponse{
		ID:          e.ID,
		CompanyID:   e.CompanyID,
		ProjectID:   e.ProjectID,
		Type:        e.Type,
		Amount:      e.Amount,
		Currency:    e.Currency,
		EntryDate:   e.EntryDate,
		SourceRef:   e.SourceRef,
		Description: e.Description,
		CreatedAt:   e.CreatedAt,
	}
}

// ToOutcomeResponse converts a pipeline outcome
func ToOutcomeResponse(o *posting.Outcome) *OutcomeResponse {
	return &OutcomeResponse{
		DocumentID:     o.DocumentID,
		Status:         o.Visible(),
		InternalStatus: o.Status,
		Result:         o.Result,
		LedgerEntryID:  o.LedgerEntryID,
		Reason:         o.Reason,
	}
}

// ToOrphanResponses converts audit findings
func ToOrphanResponses(findings []reconciliation.OrphanedLink) []OrphanResponse {
	out := make([]OrphanResponse, 0, len(findings))
	for _, f := range findings {
		out = append(out, OrphanResponse{
			Kind:          f.Kind,
			DocumentID:    f.Link.DocumentID,
			CompanyID:     f.Link.CompanyID,
			LedgerEntryID: f.Link.LedgerEntryID,
			LinkState:     f.Link.State,
			LinkVersion:   f.Link.Version,
			Detail:        f.Detail,
		})
	}
	return out
}
