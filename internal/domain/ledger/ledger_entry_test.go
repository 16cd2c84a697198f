package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ledgerlink/backend/internal/domain/shared"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLedgerEntry(t *testing.T) {
	companyID := uuid.New()
	date := time.Date(2024, 5, 17, 13, 45, 0, 0, time.UTC)

	t.Run("creates entry truncated to date", func(t *testing.T) {
		entry, err := NewLedgerEntry(companyID, EntryTypeExpense, decimal.RequireFromString("99.999"), "eur", date, "doc-1")
		require.NoError(t, err)
		assert.Equal(t, "EUR", entry.Currency)
		assert.Equal(t, 0, entry.EntryDate.Hour())
		assert.True(t, entry.Amount.Equal(decimal.RequireFromString("99.999")))
		assert.False(t, entry.IsReversal())
	})

	tests := []struct {
		name      string
		entryType EntryType
		amount    string
		currency  string
	}{
		{"invalid type", EntryType("gift"), "10", "USD"},
		{"zero amount", EntryTypeIncome, "0", "USD"},
		{"negative amount", EntryTypeIncome, "-1", "USD"},
		{"unknown currency", EntryTypeIncome, "10", "XQQ"},
		{"malformed currency", EntryTypeIncome, "10", "dollars"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLedgerEntry(companyID, tt.entryType, decimal.RequireFromString(tt.amount), tt.currency, date, "")
			assert.Error(t, err)
		})
	}
}

func TestLedgerEntry_Reverse(t *testing.T) {
	entry, err := NewLedgerEntry(uuid.New(), EntryTypeIncome, decimal.NewFromInt(250), "USD", time.Now(), "inv-7")
	require.NoError(t, err)

	t.Run("requires a reason", func(t *testing.T) {
		_, err := entry.Reverse(" ")
		assert.Error(t, err)
	})

	reversal, err := entry.Reverse("duplicate invoice")
	require.NoError(t, err)
	assert.True(t, reversal.Amount.Equal(decimal.NewFromInt(-250)))
	assert.Equal(t, entry.ID, *reversal.ReversesEntryID)
	assert.Equal(t, entry.CompanyID, reversal.CompanyID)
	assert.NotEqual(t, entry.ID, reversal.ID)

	t.Run("reversal cannot be reversed", func(t *testing.T) {
		_, err := reversal.Reverse("again")
		assert.Error(t, err)
	})
}

func TestLedgerEntry_WithProject(t *testing.T) {
	companyID := uuid.New()
	entry, err := NewLedgerEntry(companyID, EntryTypeExpense, decimal.NewFromInt(5), "USD", time.Now(), "")
	require.NoError(t, err)

	own, err := NewProject(companyID, "P1", "Roof")
	require.NoError(t, err)
	require.NoError(t, entry.WithProject(own))
	assert.Equal(t, own.ID, *entry.ProjectID)

	foreign, err := NewProject(uuid.New(), "P1", "Roof")
	require.NoError(t, err)
	err = entry.WithProject(foreign)
	var refErr *shared.ReferenceError
	assert.True(t, errors.As(err, &refErr))
}

func TestProject_Archive(t *testing.T) {
	p, err := NewProject(uuid.New(), "OPS", "Operations")
	require.NoError(t, err)
	assert.True(t, p.IsActive())

	require.NoError(t, p.Archive())
	assert.False(t, p.IsActive())
	assert.NotNil(t, p.ArchivedAt)
	assert.Error(t, p.Archive())
}

func TestParseEntryType(t *testing.T) {
	got, err := ParseEntryType("")
	require.NoError(t, err)
	assert.Equal(t, EntryTypeExpense, got)

	got, err = ParseEntryType(" Income ")
	require.NoError(t, err)
	assert.Equal(t, EntryTypeIncome, got)

	_, err = ParseEntryType("refund")
	assert.Error(t, err)
}
