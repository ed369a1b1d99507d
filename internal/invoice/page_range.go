package invoice

import (
	"fmt"
	"sort"
	"strings"

	"github.com/garyjia/ai-invoice-intake/internal/domain/entity"
)

// OverlapPolicy decides what happens to candidates whose page ranges intersect.
type OverlapPolicy string

const (
	// OverlapReject keeps the earliest-starting candidate and drops any later
	// candidate that shares a page with an accepted one.
	OverlapReject OverlapPolicy = "reject"
	// OverlapAllow passes overlapping candidates through in start-page order.
	OverlapAllow OverlapPolicy = "allow"
)

// ParseOverlapPolicy defaults to OverlapReject for unknown values.
func ParseOverlapPolicy(s string) OverlapPolicy {
	if OverlapPolicy(strings.ToLower(strings.TrimSpace(s))) == OverlapAllow {
		return OverlapAllow
	}
	return OverlapReject
}

// Resolution is the outcome of validating AI-proposed invoice descriptors.
type Resolution struct {
	Descriptors []entity.InvoiceDescriptor
	// Warnings lists every skipped candidate and why.
	Warnings []string
	// Fallback is set when no candidate survived and the whole document
	// is treated as a single invoice.
	Fallback bool
}

// Multiple reports whether the document holds more than one invoice.
func (r Resolution) Multiple() bool {
	return len(r.Descriptors) > 1
}

// ResolvePageRanges validates candidates against pageCount.
//
// Candidates without an invoice number, with start < 1, end > pageCount or
// start > end are skipped with a warning; ranges are never clamped. Survivors
// are ordered by start page. When nothing survives, a single descriptor
// spanning the whole document is returned.
func ResolvePageRanges(pageCount int, candidates []entity.InvoiceDescriptor, policy OverlapPolicy) Resolution {
	var res Resolution
	if pageCount < 1 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("document has no pages (page count %d)", pageCount))
		return res
	}

	valid := make([]entity.InvoiceDescriptor, 0, len(candidates))
	for i, c := range candidates {
		c.InvoiceNumber = strings.TrimSpace(c.InvoiceNumber)
		c.SupplierName = strings.TrimSpace(c.SupplierName)
		c.TotalAmount = strings.TrimSpace(c.TotalAmount)

		switch {
		case c.InvoiceNumber == "":
			res.Warnings = append(res.Warnings, fmt.Sprintf("candidate %d: missing invoice number", i+1))
			continue
		case c.StartPage < 1:
			res.Warnings = append(res.Warnings, fmt.Sprintf("candidate %d (%s): start page %d before first page", i+1, c.InvoiceNumber, c.StartPage))
			continue
		case c.EndPage > pageCount:
			res.Warnings = append(res.Warnings, fmt.Sprintf("candidate %d (%s): end page %d beyond page count %d", i+1, c.InvoiceNumber, c.EndPage, pageCount))
			continue
		case c.StartPage > c.EndPage:
			res.Warnings = append(res.Warnings, fmt.Sprintf("candidate %d (%s): start page %d after end page %d", i+1, c.InvoiceNumber, c.StartPage, c.EndPage))
			continue
		}

		if c.SupplierName == "" {
			c.SupplierName = entity.UnknownSupplier
		}
		valid = append(valid, c)
	}

	sort.SliceStable(valid, func(i, j int) bool {
		return valid[i].StartPage < valid[j].StartPage
	})

	for _, c := range valid {
		if policy != OverlapAllow {
			if prev, ok := overlapping(res.Descriptors, c); ok {
				res.Warnings = append(res.Warnings, fmt.Sprintf("%s (pages %d-%d) overlaps %s (pages %d-%d)",
					c.InvoiceNumber, c.StartPage, c.EndPage, prev.InvoiceNumber, prev.StartPage, prev.EndPage))
				continue
			}
		}
		res.Descriptors = append(res.Descriptors, c)
	}

	if len(res.Descriptors) == 0 {
		res.Fallback = true
		res.Descriptors = []entity.InvoiceDescriptor{WholeDocument(pageCount)}
	}
	return res
}

// WholeDocument returns the descriptor covering every page of a document.
func WholeDocument(pageCount int) entity.InvoiceDescriptor {
	return entity.InvoiceDescriptor{
		SupplierName: entity.UnknownSupplier,
		StartPage:    1,
		EndPage:      pageCount,
	}
}

func overlapping(accepted []entity.InvoiceDescriptor, c entity.InvoiceDescriptor) (entity.InvoiceDescriptor, bool) {
	for _, a := range accepted {
		if a.Overlaps(c) {
			return a, true
		}
	}
	return entity.InvoiceDescriptor{}, false
}
