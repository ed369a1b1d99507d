package entity

import (
	"time"

	"github.com/garyjia/ai-invoice-intake/internal/domain/workflow"
)

// BatchItem is one PDF moving through the intake pipeline.
// Split parents keep their row; each per-invoice output becomes a child item.
type BatchItem struct {
	ID            int64            `json:"id"`
	BatchID       string           `json:"batch_id"`
	ParentID      *int64           `json:"parent_id,omitempty"`
	FileName      string           `json:"file_name"`
	FilePath      string           `json:"file_path"`
	PageCount     int              `json:"page_count"`
	State         workflow.State   `json:"state"`
	SupplierName  string           `json:"supplier_name,omitempty"`
	InvoiceDate   string           `json:"invoice_date,omitempty"`
	Allocations   []AllocationLine `json:"allocations,omitempty"`
	PaymentMethod PaymentMethod    `json:"payment_method,omitempty"`
	PaymentDetail string           `json:"payment_detail,omitempty"`
	ErrorMessage  string           `json:"error_message,omitempty"`
	FinalPath     string           `json:"final_path,omitempty"`
	ArchivePath   string           `json:"archive_path,omitempty"`
	// Stamp footprint on page 1, zero until the first stamp.
	StampWidth  float64   `json:"stamp_width,omitempty"`
	StampHeight float64   `json:"stamp_height,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// IsSplitChild reports whether the item was produced by splitting another one.
func (i *BatchItem) IsSplitChild() bool {
	return i.ParentID != nil
}
