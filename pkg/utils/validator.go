package utils

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceDateLayout is the dd/mm/yyyy layout used on invoices and in the ledger.
const InvoiceDateLayout = "02/01/2006"

var accountRegex = regexp.MustCompile(`^[0-9A-Za-z]+$`)

// ValidateAccount checks a ledger account code.
func ValidateAccount(account string) error {
	if !accountRegex.MatchString(strings.TrimSpace(account)) {
		return fmt.Errorf("invalid ledger account: %q", account)
	}
	return nil
}

// ParseAmount parses an amount written with either a dot or a comma as
// decimal separator. Spaces, non-breaking spaces and a trailing currency sign are ignored.
func ParseAmount(s string) (decimal.Decimal, error) {
	cleaned := strings.NewReplacer(" ", "", "\u00a0", "", "\u202f", "", "€", "", "EUR", "").Replace(strings.TrimSpace(s))
	cleaned = strings.ReplaceAll(cleaned, ",", ".")
	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return d, nil
}

// ParseInvoiceDate parses dd/mm/yyyy. It returns ok=false when s does not match.
func ParseInvoiceDate(s string) (time.Time, bool) {
	t, err := time.Parse(InvoiceDateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// InvoiceDateOrToday parses dd/mm/yyyy and falls back to the current day.
func InvoiceDateOrToday(s string, now time.Time) time.Time {
	if t, ok := ParseInvoiceDate(s); ok {
		return t
	}
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SanitizeString removes control characters.
func SanitizeString(s string) string {
	return regexp.MustCompile(`[\x00-\x1f\x7f]`).ReplaceAllString(s, "")
}
