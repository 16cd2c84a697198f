package ledger

import (
	"strings"

	"github.com/ledgerlink/backend/internal/domain/shared"
	"golang.org/x/text/currency"
)

// NormalizeCurrency validates an ISO 4217 code and returns it upper-cased.
func NormalizeCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 3 {
		return "", shared.NewDomainError("INVALID_CURRENCY", "Currency must be a 3-letter ISO 4217 code")
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", shared.NewDomainError("INVALID_CURRENCY", "Unknown currency code "+code)
	}
	return unit.String(), nil
}
