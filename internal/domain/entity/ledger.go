package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerEntry is one posted accounting line.
type LedgerEntry struct {
	ID             int64           `json:"id"`
	Account        string          `json:"account"`
	InvoiceDate    time.Time       `json:"invoice_date"`
	SupplierName   string          `json:"supplier_name"`
	Amount         decimal.Decimal `json:"amount"`
	SourceFilename string          `json:"source_filename"`
	CreatedAt      time.Time       `json:"created_at"`
}
