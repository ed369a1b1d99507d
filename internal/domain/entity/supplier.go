package entity

import (
	"strings"
	"time"
)

// MaxAllocationRules is the number of (account, rule) slots a supplier carries.
const MaxAllocationRules = 6

// UnknownSupplier is used when no supplier name could be extracted.
const UnknownSupplier = "Unknown supplier"

// EntryMode selects whether allocation amounts are AI-computed or typed by hand.
type EntryMode string

const (
	EntryModeAutomatic EntryMode = "A"
	EntryModeManual    EntryMode = "M"
)

// IsValid reports whether the mode is one of the known values.
func (m EntryMode) IsValid() bool {
	return m == EntryModeAutomatic || m == EntryModeManual
}

// String returns the human readable name of the mode.
func (m EntryMode) String() string {
	switch m {
	case EntryModeAutomatic:
		return "Automatic"
	case EntryModeManual:
		return "Manual"
	default:
		return string(m)
	}
}

// ParseEntryMode accepts both the stored code and the readable name.
func ParseEntryMode(s string) (EntryMode, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "A", "AUTOMATIC":
		return EntryModeAutomatic, true
	case "M", "MANUAL":
		return EntryModeManual, true
	}
	return "", false
}

// AllocationRule is one (ledger account, extraction instruction) pair.
// An empty RuleText means a fixed account with no AI computation.
type AllocationRule struct {
	Slot     int    `json:"slot"`
	Account  string `json:"account"`
	RuleText string `json:"rule_text"`
}

// NeedsExtraction reports whether the rule must be computed by the extractor.
func (r AllocationRule) NeedsExtraction() bool {
	return strings.TrimSpace(r.RuleText) != ""
}

// Supplier holds the allocation rules for one supplier, unique by case-insensitive name.
type Supplier struct {
	ID             int64            `json:"id"`
	Name           string           `json:"name"`
	AssociatedName string           `json:"associated_name,omitempty"`
	Mode           EntryMode        `json:"mode"`
	Rules          []AllocationRule `json:"rules"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// NormalizeRules drops rules without an account, caps the list at
// MaxAllocationRules and renumbers slots from 1.
func NormalizeRules(rules []AllocationRule) []AllocationRule {
	out := make([]AllocationRule, 0, len(rules))
	for _, r := range rules {
		account := strings.TrimSpace(r.Account)
		if account == "" {
			continue
		}
		if len(out) == MaxAllocationRules {
			break
		}
		out = append(out, AllocationRule{
			Slot:     len(out) + 1,
			Account:  account,
			RuleText: strings.TrimSpace(r.RuleText),
		})
	}
	return out
}

// ExtractionRules returns the rules that carry an instruction, in slot order.
func ExtractionRules(rules []AllocationRule) []AllocationRule {
	out := make([]AllocationRule, 0, len(rules))
	for _, r := range rules {
		if r.NeedsExtraction() {
			out = append(out, r)
		}
	}
	return out
}
