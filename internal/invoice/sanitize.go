package invoice

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/garyjia/ai-invoice-intake/internal/domain/entity"
)

// SanitizeSupplier keeps letters, digits, spaces and underscores, then joins
// the remaining words with underscores.
func SanitizeSupplier(name string) string {
	kept := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '_' {
			return r
		}
		return -1
	}, name)
	return strings.Join(strings.Fields(kept), "_")
}

// SanitizeInvoiceNumber keeps letters, digits, hyphens and underscores.
func SanitizeInvoiceNumber(id string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			return r
		}
		return -1
	}, id)
}

// SplitFileName is the output name of one split invoice.
// A descriptor whose identifier sanitizes to nothing is named by its pages.
func SplitFileName(d entity.InvoiceDescriptor) string {
	supplier := SanitizeSupplier(d.SupplierName)
	if supplier == "" {
		supplier = SanitizeSupplier(entity.UnknownSupplier)
	}
	id := SanitizeInvoiceNumber(d.InvoiceNumber)
	if id == "" {
		id = fmt.Sprintf("p%d-%d", d.StartPage, d.EndPage)
	}
	return supplier + "_" + id + ".pdf"
}

// FinalFileName is the name of a validated invoice in the ready area:
// {supplier}_{dd-mm-yyyy}.pdf.
func FinalFileName(supplier string, date time.Time) string {
	clean := strings.TrimSpace(strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '_' || r == '-' {
			return r
		}
		return -1
	}, supplier))
	if clean == "" {
		clean = entity.UnknownSupplier
	}
	return fmt.Sprintf("%s_%s.pdf", clean, date.Format("02-01-2006"))
}
