package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/ledgerlink/backend/internal/domain/document"
	"github.com/ledgerlink/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// DocumentModel is the persistence model for Document. Content stays behind
// ContentLocator; only metadata is stored.
type DocumentModel struct {
	BaseModel
	CompanyID      uuid.UUID                               `gorm:"type:uuid;not null;index:idx_documents_company_status,priority:1"`
	Status         document.Status                         `gorm:"type:varchar(30);not null;index:idx_documents_company_status,priority:2"`
	ProjectID      *uuid.UUID                              `gorm:"type:uuid"`
	ContentLocator string                                  `gorm:"type:varchar(1024);not null"`
	Checksum       string                                  `gorm:"type:varchar(80);not null"`
	MimeType       string                                  `gorm:"type:varchar(100);not null"`
	Corrupt        bool                                    `gorm:"not null;default:false"`
	LedgerEntryID  *uuid.UUID                              `gorm:"type:uuid"`
	FailureReason  string                                  `gorm:"type:text"`
	Attributes     datatypes.JSONType[document.Attributes] `gorm:"column:attributes"`
}

// TableName returns the table name for GORM
func (DocumentModel) TableName() string { return "documents" }

// ToDomain converts the model to a domain Document
func (m *DocumentModel) ToDomain() *document.Document {
	return &document.Document{
		CompanyEntity:  shared.CompanyEntity{BaseEntity: m.BaseModel.Entity(), CompanyID: m.CompanyID},
		ProjectID:      m.ProjectID,
		ContentLocator: m.ContentLocator,
		Checksum:       m.Checksum,
		MimeType:       m.MimeType,
		Status:         m.Status,
		Corrupt:        m.Corrupt,
		LedgerEntryID:  m.LedgerEntryID,
		FailureReason:  m.FailureReason,
		Attributes:     m.Attributes.Data(),
	}
}

// DocumentModelFromDomain builds the model from a domain Document
func DocumentModelFromDomain(d *document.Document) *DocumentModel {
	m := &DocumentModel{
		CompanyID:      d.CompanyID,
		Status:         d.Status,
		ProjectID:      d.ProjectID,
		ContentLocator: d.ContentLocator,
		Checksum:       d.Checksum,
		MimeType:       d.MimeType,
		Corrupt:        d.Corrupt,
		LedgerEntryID:  d.LedgerEntryID,
		FailureReason:  d.FailureReason,
		Attributes:     datatypes.NewJSONType(d.Attributes),
	}
	m.SetEntity(d.BaseEntity)
	return m
}

// DocumentMetadataColumns are the columns selected by metadata-only reads
var DocumentMetadataColumns = []string{
	"id", "company_id", "project_id", "content_locator", "checksum",
	"mime_type", "status", "ledger_entry_id", "created_at", "updated_at",
}

// ToMetadata converts a metadata-only row to domain Metadata
func (m *DocumentModel) ToMetadata() document.Metadata {
	return document.Metadata{
		ID:             m.ID,
		CompanyID:      m.CompanyID,
		ProjectID:      m.ProjectID,
		ContentLocator: m.ContentLocator,
		Checksum:       m.Checksum,
		MimeType:       m.MimeType,
		Status:         m.Status,
		LedgerEntryID:  m.LedgerEntryID,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

// FinancialExtractionModel is the persistence model for FinancialExtraction
type FinancialExtractionModel struct {
	CompanyScopedModel
	DocumentID    uuid.UUID                               `gorm:"type:uuid;not null;index"`
	Amount        decimal.Decimal                         `gorm:"type:decimal(20,4);not null"`
	Currency      string                                  `gorm:"type:char(3);not null"`
	Confidence    float64                                 `gorm:"not null"`
	Entities      datatypes.JSONType[document.Attributes] `gorm:"column:entities"`
	CompanyRef    string                                  `gorm:"type:varchar(200)"`
	ProjectRef    string                                  `gorm:"type:varchar(200)"`
	LinkStatus    document.LinkStatus                     `gorm:"type:varchar(20);not null"`
	LedgerEntryID *uuid.UUID                              `gorm:"type:uuid;index"`
	ReviewReason  string                                  `gorm:"type:text"`
}

// TableName returns the table name for GORM
func (FinancialExtractionModel) TableName() string { return "financial_extractions" }

// ToDomain converts the model to a domain FinancialExtraction
func (m *FinancialExtractionModel) ToDomain() *document.FinancialExtraction {
	return &document.FinancialExtraction{
		CompanyEntity: m.CompanyEntity(),
		DocumentID:    m.DocumentID,
		Amount:        m.Amount,
		Currency:      m.Currency,
		Confidence:    m.Confidence,
		Entities:      m.Entities.Data(),
		CompanyRef:    m.CompanyRef,
		ProjectRef:    m.ProjectRef,
		LinkStatus:    m.LinkStatus,
		LedgerEntryID: m.LedgerEntryID,
		ReviewReason:  m.ReviewReason,
	}
}

// FinancialExtractionModelFromDomain builds the model from a domain FinancialExtraction
func FinancialExtractionModelFromDomain(f *document.FinancialExtraction) *FinancialExtractionModel {
	m := &FinancialExtractionModel{
		DocumentID:    f.DocumentID,
		Amount:        f.Amount,
		Currency:      f.Currency,
		Confidence:    f.Confidence,
		Entities:      datatypes.NewJSONType(f.Entities),
		CompanyRef:    f.CompanyRef,
		ProjectRef:    f.ProjectRef,
		LinkStatus:    f.LinkStatus,
		LedgerEntryID: f.LedgerEntryID,
		ReviewReason:  f.ReviewReason,
	}
	m.SetCompanyEntity(f.CompanyEntity)
	return m
}

// CrossStoreLinkModel is the persistence model for CrossStoreLink. There is
// one row per document; Version is the compare-and-swap token.
type CrossStoreLinkModel struct {
	DocumentID    uuid.UUID          `gorm:"type:uuid;primaryKey"`
	CompanyID     uuid.UUID          `gorm:"type:uuid;not null;index:idx_links_company_state,priority:1"`
	State         document.LinkState `gorm:"type:varchar(20);not null;index:idx_links_company_state,priority:2"`
	ProjectID     *uuid.UUID         `gorm:"type:uuid"`
	LedgerEntryID *uuid.UUID         `gorm:"type:uuid;index"`
	ExtractionID  *uuid.UUID         `gorm:"type:uuid"`
	Version       int64              `gorm:"not null"`
	AttemptID     uuid.UUID          `gorm:"type:uuid;not null"`
	ClaimedAt     time.Time          `gorm:"not null"`
	UpdatedAt     time.Time          `gorm:"not null"`
}

// TableName returns the table name for GORM
func (CrossStoreLinkModel) TableName() string { return "cross_store_links" }

// ToDomain converts the model to a domain CrossStoreLink
func (m *CrossStoreLinkModel) ToDomain() *document.CrossStoreLink {
	return &document.CrossStoreLink{
		DocumentID:    m.DocumentID,
		CompanyID:     m.CompanyID,
		ProjectID:     m.ProjectID,
		LedgerEntryID: m.LedgerEntryID,
		ExtractionID:  m.ExtractionID,
		State:         m.State,
		Version:       m.Version,
		AttemptID:     m.AttemptID,
		ClaimedAt:     m.ClaimedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

// CrossStoreLinkModelFromDomain builds the model from a domain CrossStoreLink
func CrossStoreLinkModelFromDomain(l *document.CrossStoreLink) *CrossStoreLinkModel {
	return &CrossStoreLinkModel{
		DocumentID:    l.DocumentID,
		CompanyID:     l.CompanyID,
		State:         l.State,
		ProjectID:     l.ProjectID,
		LedgerEntryID: l.LedgerEntryID,
		ExtractionID:  l.ExtractionID,
		Version:       l.Version,
		AttemptID:     l.AttemptID,
		ClaimedAt:     l.ClaimedAt,
		UpdatedAt:     l.UpdatedAt,
	}
}

// ReconciliationMarkerModel is the persistence model for ReconciliationMarker
type ReconciliationMarkerModel struct {
	ID            uuid.UUID             `gorm:"type:uuid;primaryKey"`
	CompanyID     uuid.UUID             `gorm:"type:uuid;not null;index"`
	DocumentID    uuid.UUID             `gorm:"type:uuid;not null;index"`
	LedgerEntryID *uuid.UUID            `gorm:"type:uuid"`
	Reason        document.MarkerReason `gorm:"type:varchar(40);not null"`
	Detail        string                `gorm:"type:text"`
	CreatedAt     time.Time             `gorm:"not null"`
	ResolvedAt    *time.Time            `gorm:"index"`
}

// TableName returns the table name for GORM
func (ReconciliationMarkerModel) TableName() string { return "reconciliation_markers" }

// ToDomain converts the model to a domain ReconciliationMarker
func (m *ReconciliationMarkerModel) ToDomain() *document.ReconciliationMarker {
	return &document.ReconciliationMarker{
		ID:            m.ID,
		CompanyID:     m.CompanyID,
		DocumentID:    m.DocumentID,
		LedgerEntryID: m.LedgerEntryID,
		Reason:        m.Reason,
		Detail:        m.Detail,
		CreatedAt:     m.CreatedAt,
		ResolvedAt:    m.ResolvedAt,
	}
}

// ReconciliationMarkerModelFromDomain builds the model from a domain ReconciliationMarker
func ReconciliationMarkerModelFromDomain(r *document.ReconciliationMarker) *ReconciliationMarkerModel {
	return &ReconciliationMarkerModel{
		ID:            r.ID,
		CompanyID:     r.CompanyID,
		DocumentID:    r.DocumentID,
		LedgerEntryID: r.LedgerEntryID,
		Reason:        r.Reason,
		Detail:        r.Detail,
		CreatedAt:     r.CreatedAt,
		ResolvedAt:    r.ResolvedAt,
	}
}

// DocumentStoreModels lists the document store tables for AutoMigrate in tests
func DocumentStoreModels() []any {
	return []any{
		&DocumentModel{},
		&FinancialExtractionModel{},
		&CrossStoreLinkModel{},
		&ReconciliationMarkerModel{},
	}
}
