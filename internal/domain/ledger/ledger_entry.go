package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ledgerlink/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// EntryType is the direction of a ledger entry
type EntryType string

const (
	EntryTypeIncome   EntryType = "income"
	EntryTypeExpense  EntryType = "expense"
	EntryTypeTransfer EntryType = "transfer"
)

// IsValid checks if the type is a valid EntryType
func (t EntryType) IsValid() bool {
	switch t {
	case EntryTypeIncome, EntryTypeExpense, EntryTypeTransfer:
		return true
	}
	return false
}

// String returns the string representation of EntryType
func (t EntryType) String() string {
	return string(t)
}

// ParseEntryType parses a loosely formatted entry type, defaulting to expense.
func ParseEntryType(s string) (EntryType, error) {
	if strings.TrimSpace(s) == "" {
		return EntryTypeExpense, nil
	}
	t := EntryType(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", shared.NewDomainError("INVALID_ENTRY_TYPE", fmt.Sprintf("Unknown entry type %q", s))
	}
	return t, nil
}

// LedgerEntry is an append-only financial record. The amount never changes after
// posting; corrections are offsetting entries created by Reverse.
type LedgerEntry struct {
	shared.CompanyEntity
	ProjectID       *uuid.UUID      `json:"project_id,omitempty"`
	AccountID       *uuid.UUID      `json:"account_id,omitempty"`
	Type            EntryType       `json:"type"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	EntryDate       time.Time       `json:"entry_date"`
	SourceRef       string          `json:"source_ref"`
	Description     string          `json:"description"`
	ReversesEntryID *uuid.UUID      `json:"reverses_entry_id,omitempty"`
}

// NewLedgerEntry creates a ledger entry with a positive amount
func NewLedgerEntry(
	companyID uuid.UUID,
	entryType EntryType,
	amount decimal.Decimal,
	currencyCode string,
	entryDate time.Time,
	sourceRef string,
) (*LedgerEntry, error) {
	if companyID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_COMPANY", "Company ID cannot be empty")
	}
	if !entryType.IsValid() {
		return nil, shared.NewDomainError("INVALID_ENTRY_TYPE", "Entry type is not valid")
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, shared.NewDomainError("INVALID_AMOUNT", "Amount must be positive")
	}
	code, err := NormalizeCurrency(currencyCode)
	if err != nil {
		return nil, err
	}
	if entryDate.IsZero() {
		return nil, shared.NewDomainError("INVALID_DATE", "Entry date is required")
	}
	if len(sourceRef) > 200 {
		return nil, shared.NewDomainError("INVALID_SOURCE_REF", "Source reference cannot exceed 200 characters")
	}
	return &LedgerEntry{
		CompanyEntity: shared.NewCompanyEntity(companyID),
		Type:          entryType,
		Amount:        amount.Round(4),
		Currency:      code,
		EntryDate:     truncateToDate(entryDate),
		SourceRef:     sourceRef,
	}, nil
}

// WithProject assigns the entry to a project of the same company
func (e *LedgerEntry) WithProject(p *Project) error {
	if p == nil {
		e.ProjectID = nil
		return nil
	}
	if !p.BelongsTo(e.CompanyID) {
		return shared.NewReferenceError("ledger_entry", p.ID.String(), "ledger_entries_project_company_fkey", nil)
	}
	id := p.ID
	e.ProjectID = &id
	return nil
}

// WithAccount assigns the entry to an account of the same company
func (e *LedgerEntry) WithAccount(a *Account) error {
	if a == nil {
		e.AccountID = nil
		return nil
	}
	if !a.BelongsTo(e.CompanyID) {
		return shared.NewReferenceError("ledger_entry", a.ID.String(), "ledger_entries_account_company_fkey", nil)
	}
	id := a.ID
	e.AccountID = &id
	return nil
}

// IsReversal reports whether this entry offsets another entry
func (e *LedgerEntry) IsReversal() bool {
	return e.ReversesEntryID != nil
}

// Reverse builds the offsetting entry that cancels e
func (e *LedgerEntry) Reverse(reason string) (*LedgerEntry, error) {
	if e.IsReversal() {
		return nil, shared.NewDomainError("INVALID_STATE", "A reversal entry cannot itself be reversed")
	}
	if strings.TrimSpace(reason) == "" {
		return nil, shared.NewDomainError("INVALID_REASON", "Reversal reason is required")
	}
	origin := e.ID
	return &LedgerEntry{
		CompanyEntity:   shared.NewCompanyEntity(e.CompanyID),
		ProjectID:       e.ProjectID,
		AccountID:       e.AccountID,
		Type:            e.Type,
		Amount:          e.Amount.Neg(),
		Currency:        e.Currency,
		EntryDate:       truncateToDate(time.Now().UTC()),
		SourceRef:       e.SourceRef,
		Description:     reason,
		ReversesEntryID: &origin,
	}, nil
}

func truncateToDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
