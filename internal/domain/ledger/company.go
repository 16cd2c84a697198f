package ledger

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ledgerlink/backend/internal/domain/shared"
)

// Company is the isolation boundary for every other entity.
type Company struct {
	shared.BaseEntity
	Name         string `json:"name"`
	BaseCurrency string `json:"base_currency"`
}

// NewCompany creates a company
func NewCompany(name, baseCurrency string) (*Company, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, shared.NewDomainError("INVALID_NAME", "Company name cannot be empty")
	}
	if len(name) > 200 {
		return nil, shared.NewDomainError("INVALID_NAME", "Company name cannot exceed 200 characters")
	}
	code, err := NormalizeCurrency(baseCurrency)
	if err != nil {
		return nil, err
	}
	return &Company{
		BaseEntity:   shared.NewBaseEntity(),
		Name:         name,
		BaseCurrency: code,
	}, nil
}

// ProjectStatus is the soft lifecycle flag of a project. Projects are never hard-deleted.
type ProjectStatus string

const (
	ProjectStatusActive   ProjectStatus = "active"
	ProjectStatusArchived ProjectStatus = "archived"
)

// IsValid checks if the status is a valid ProjectStatus
func (s ProjectStatus) IsValid() bool {
	return s == ProjectStatusActive || s == ProjectStatusArchived
}

// Project belongs to a company and optionally groups ledger entries and documents.
type Project struct {
	shared.CompanyEntity
	Code       string        `json:"code"`
	Name       string        `json:"name"`
	Status     ProjectStatus `json:"status"`
	ArchivedAt *time.Time    `json:"archived_at,omitempty"`
}

// NewProject creates an active project
func NewProject(companyID uuid.UUID, code, name string) (*Project, error) {
	if companyID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_COMPANY", "Company ID cannot be empty")
	}
	code = strings.TrimSpace(code)
	if code == "" || len(code) > 50 {
		return nil, shared.NewDomainError("INVALID_CODE", "Project code must be 1-50 characters")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, shared.NewDomainError("INVALID_NAME", "Project name cannot be empty")
	}
	return &Project{
		CompanyEntity: shared.NewCompanyEntity(companyID),
		Code:          code,
		Name:          name,
		Status:        ProjectStatusActive,
	}, nil
}

// IsActive reports whether new entries may be posted against the project
func (p *Project) IsActive() bool {
	return p.Status == ProjectStatusActive
}

// Archive soft-deletes the project
func (p *Project) Archive() error {
	if p.Status == ProjectStatusArchived {
		return shared.NewDomainError("INVALID_STATE", "Project is already archived")
	}
	now := time.Now().UTC()
	p.Status = ProjectStatusArchived
	p.ArchivedAt = &now
	p.UpdatedAt = now
	return nil
}

// AccountType classifies a chart-of-accounts entry
type AccountType string

const (
	AccountTypeAsset     AccountType = "asset"
	AccountTypeLiability AccountType = "liability"
	AccountTypeEquity    AccountType = "equity"
	AccountTypeIncome    AccountType = "income"
	AccountTypeExpense   AccountType = "expense"
)

// IsValid checks if the type is a valid AccountType
func (t AccountType) IsValid() bool {
	switch t {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeEquity, AccountTypeIncome, AccountTypeExpense:
		return true
	}
	return false
}

// Account is a company-scoped chart-of-accounts entry
type Account struct {
	shared.CompanyEntity
	Code   string      `json:"code"`
	Name   string      `json:"name"`
	Type   AccountType `json:"type"`
	Active bool        `json:"active"`
}

// NewAccount creates an active account
func NewAccount(companyID uuid.UUID, code, name string, accountType AccountType) (*Account, error) {
	if companyID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_COMPANY", "Company ID cannot be empty")
	}
	code = strings.TrimSpace(code)
	if code == "" || len(code) > 20 {
		return nil, shared.NewDomainError("INVALID_CODE", "Account code must be 1-20 characters")
	}
	if strings.TrimSpace(name) == "" {
		return nil, shared.NewDomainError("INVALID_NAME", "Account name cannot be empty")
	}
	if !accountType.IsValid() {
		return nil, shared.NewDomainError("INVALID_ACCOUNT_TYPE", "Account type is not valid")
	}
	return &Account{
		CompanyEntity: shared.NewCompanyEntity(companyID),
		Code:          code,
		Name:          strings.TrimSpace(name),
		Type:          accountType,
		Active:        true,
	}, nil
}
