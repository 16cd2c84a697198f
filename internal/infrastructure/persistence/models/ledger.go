package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/ledgerlink/backend/internal/domain/ledger"
	"github.com/ledgerlink/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// CompanyModel is the persistence model for Company
type CompanyModel struct {
	BaseModel
	Name         string `gorm:"type:varchar(200);not null"`
	BaseCurrency string `gorm:"type:char(3);not null"`
}

// TableName returns the table name for GORM
func (CompanyModel) TableName() string { return "companies" }

// ToDomain converts the model to a domain Company
func (m *CompanyModel) ToDomain() *ledger.Company {
	return &ledger.Company{
		BaseEntity:   m.BaseModel.Entity(),
		Name:         m.Name,
		BaseCurrency: m.BaseCurrency,
	}
}

// CompanyModelFromDomain builds the model from a domain Company
func CompanyModelFromDomain(c *ledger.Company) *CompanyModel {
	m := &CompanyModel{Name: c.Name, BaseCurrency: c.BaseCurrency}
	m.SetEntity(c.BaseEntity)
	return m
}

// ProjectModel is the persistence model for Project
type ProjectModel struct {
	CompanyScopedModel
	Code       string               `gorm:"type:varchar(50);not null"`
	Name       string               `gorm:"type:varchar(200);not null"`
	Status     ledger.ProjectStatus `gorm:"type:varchar(20);not null"`
	ArchivedAt *time.Time
}

// TableName returns the table name for GORM
func (ProjectModel) TableName() string { return "projects" }

// ToDomain converts the model to a domain Project
func (m *ProjectModel) ToDomain() *ledger.Project {
	return &ledger.Project{
		CompanyEntity: m.CompanyEntity(),
		Code:          m.Code,
		Name:          m.Name,
		Status:        m.Status,
		ArchivedAt:    m.ArchivedAt,
	}
}

// ProjectModelFromDomain builds the model from a domain Project
func ProjectModelFromDomain(p *ledger.Project) *ProjectModel {
	m := &ProjectModel{Code: p.Code, Name: p.Name, Status: p.Status, ArchivedAt: p.ArchivedAt}
	m.SetCompanyEntity(p.CompanyEntity)
	return m
}

// AccountModel is the persistence model for Account
type AccountModel struct {
	CompanyScopedModel
	Code   string             `gorm:"type:varchar(50);not null"`
	Name   string             `gorm:"type:varchar(200);not null"`
	Type   ledger.AccountType `gorm:"type:varchar(20);not null"`
	Active bool               `gorm:"not null"`
}

// TableName returns the table name for GORM
func (AccountModel) TableName() string { return "accounts" }

// ToDomain converts the model to a domain Account
func (m *AccountModel) ToDomain() *ledger.Account {
	return &ledger.Account{
		CompanyEntity: m.CompanyEntity(),
		Code:          m.Code,
		Name:          m.Name,
		Type:          m.Type,
		Active:        m.Active,
	}
}

// AccountModelFromDomain builds the model from a domain Account
func AccountModelFromDomain(a *ledger.Account) *AccountModel {
	m := &AccountModel{Code: a.Code, Name: a.Name, Type: a.Type, Active: a.Active}
	m.SetCompanyEntity(a.CompanyEntity)
	return m
}

// LedgerEntryModel is the persistence model for LedgerEntry. Rows are never
// updated after insert.
type LedgerEntryModel struct {
	CompanyScopedModel
	ProjectID       *uuid.UUID       `gorm:"type:uuid;index"`
	AccountID       *uuid.UUID       `gorm:"type:uuid"`
	Type            ledger.EntryType `gorm:"type:varchar(20);not null"`
	Amount          decimal.Decimal  `gorm:"type:decimal(20,4);not null"`
	Currency        string           `gorm:"type:char(3);not null"`
	EntryDate       time.Time        `gorm:"type:date;not null"`
	SourceRef       string           `gorm:"type:varchar(200)"`
	Description     string           `gorm:"type:text"`
	ReversesEntryID *uuid.UUID       `gorm:"type:uuid"`
}

// TableName returns the table name for GORM
func (LedgerEntryModel) TableName() string { return "ledger_entries" }

// ToDomain converts the model to a domain LedgerEntry
func (m *LedgerEntryModel) ToDomain() *ledger.LedgerEntry {
	return &ledger.LedgerEntry{
		CompanyEntity:   m.CompanyEntity(),
		ProjectID:       m.ProjectID,
		AccountID:       m.AccountID,
		Type:            m.Type,
		Amount:          m.Amount,
		Currency:        m.Currency,
		EntryDate:       m.EntryDate.UTC(),
		SourceRef:       m.SourceRef,
		Description:     m.Description,
		ReversesEntryID: m.ReversesEntryID,
	}
}

// LedgerEntryModelFromDomain builds the model from a domain LedgerEntry
func LedgerEntryModelFromDomain(e *ledger.LedgerEntry) *LedgerEntryModel {
	m := &LedgerEntryModel{
		ProjectID:       e.ProjectID,
		AccountID:       e.AccountID,
		Type:            e.Type,
		Amount:          e.Amount,
		Currency:        e.Currency,
		EntryDate:       e.EntryDate,
		SourceRef:       e.SourceRef,
		Description:     e.Description,
		ReversesEntryID: e.ReversesEntryID,
	}
	m.SetCompanyEntity(e.CompanyEntity)
	return m
}

// DocumentRefModel is the structured-side pointer to a document
type DocumentRefModel struct {
	DocumentID    uuid.UUID  `gorm:"type:uuid;primaryKey"`
	CompanyID     uuid.UUID  `gorm:"type:uuid;not null;index"`
	ProjectID     *uuid.UUID `gorm:"type:uuid"`
	Checksum      string     `gorm:"type:varchar(80);not null"`
	LedgerEntryID *uuid.UUID `gorm:"type:uuid"`
	CreatedAt     time.Time  `gorm:"not null"`
}

// TableName returns the table name for GORM
func (DocumentRefModel) TableName() string { return "document_refs" }

// ToDomain converts the model to a domain DocumentRef
func (m *DocumentRefModel) ToDomain() *ledger.DocumentRef {
	return &ledger.DocumentRef{
		DocumentID:    m.DocumentID,
		CompanyID:     m.CompanyID,
		ProjectID:     m.ProjectID,
		Checksum:      m.Checksum,
		LedgerEntryID: m.LedgerEntryID,
		CreatedAt:     m.CreatedAt,
	}
}

// DocumentRefModelFromDomain builds the model from a domain DocumentRef
func DocumentRefModelFromDomain(r *ledger.DocumentRef) *DocumentRefModel {
	return &DocumentRefModel{
		DocumentID:    r.DocumentID,
		CompanyID:     r.CompanyID,
		ProjectID:     r.ProjectID,
		Checksum:      r.Checksum,
		LedgerEntryID: r.LedgerEntryID,
		CreatedAt:     r.CreatedAt,
	}
}

// DocumentContextRow is one row of the document context join
type DocumentContextRow struct {
	DocumentID    uuid.UUID
	CompanyID     uuid.UUID
	ProjectID     *uuid.UUID
	Checksum      string
	LedgerEntryID *uuid.UUID
	RefCreatedAt  time.Time

	ProjectCode       *string
	ProjectName       *string
	ProjectStatus     *string
	ProjectArchivedAt *time.Time
	ProjectCreatedAt  *time.Time

	EntryType      *string
	EntryAmount    decimal.NullDecimal
	EntryCurrency  *string
	EntryDate      *time.Time
	EntrySourceRef *string
	EntryCreatedAt *time.Time
}

// ToDomain converts the joined row into a DocumentContext
func (r *DocumentContextRow) ToDomain() ledger.DocumentContext {
	ref := ledger.DocumentRef{
		DocumentID:    r.DocumentID,
		CompanyID:     r.CompanyID,
		ProjectID:     r.ProjectID,
		Checksum:      r.Checksum,
		LedgerEntryID: r.LedgerEntryID,
		CreatedAt:     r.RefCreatedAt,
	}
	dc := ledger.DocumentContext{Ref: ref}

	if r.ProjectID != nil && r.ProjectCode != nil {
		p := &ledger.Project{
			CompanyEntity: shared.CompanyEntity{
				BaseEntity: shared.BaseEntity{ID: *r.ProjectID},
				CompanyID:  r.CompanyID,
			},
			Code:       *r.ProjectCode,
			Status:     ledger.ProjectStatus(deref(r.ProjectStatus)),
			Name:       deref(r.ProjectName),
			ArchivedAt: r.ProjectArchivedAt,
		}
		if r.ProjectCreatedAt != nil {
			p.CreatedAt = *r.ProjectCreatedAt
		}
		dc.Project = p
	}

	if r.LedgerEntryID != nil && r.EntryType != nil {
		e := &ledger.LedgerEntry{
			CompanyEntity: shared.CompanyEntity{
				BaseEntity: shared.BaseEntity{ID: *r.LedgerEntryID},
				CompanyID:  r.CompanyID,
			},
			Type:      ledger.EntryType(*r.EntryType),
			Amount:    r.EntryAmount.Decimal,
			Currency:  deref(r.EntryCurrency),
			SourceRef: deref(r.EntrySourceRef),
		}
		if r.EntryDate != nil {
			e.EntryDate = r.EntryDate.UTC()
		}
		if r.EntryCreatedAt != nil {
			e.CreatedAt = *r.EntryCreatedAt
		}
		dc.LedgerEntry = e
	}
	return dc
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
