package entity

// InvoiceDescriptor identifies one invoice inside a multi-invoice source document.
// Pages are 1-based and inclusive.
type InvoiceDescriptor struct {
	SupplierName  string `json:"supplier_name"`
	InvoiceNumber string `json:"invoice_number"`
	StartPage     int    `json:"start_page"`
	EndPage       int    `json:"end_page"`
	TotalAmount   string `json:"total_amount,omitempty"`
}

// PageCount returns the number of pages covered by the descriptor.
func (d InvoiceDescriptor) PageCount() int {
	return d.EndPage - d.StartPage + 1
}

// Overlaps reports whether two descriptors share at least one page.
func (d InvoiceDescriptor) Overlaps(other InvoiceDescriptor) bool {
	return d.StartPage <= other.EndPage && other.StartPage <= d.EndPage
}

// InvoiceIdentity is the supplier name and invoice date read from a single invoice.
// Date is formatted dd/mm/yyyy.
type InvoiceIdentity struct {
	SupplierName string `json:"supplier_name"`
	Date         string `json:"date"`
}

// AllocationLine is one computed or typed (account, value) pair shown on the stamp.
type AllocationLine struct {
	Account string `json:"account"`
	Value   string `json:"value"`
}
