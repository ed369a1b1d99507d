package port

import (
	"context"

	"github.com/garyjia/ai-invoice-intake/internal/domain/entity"
)

// Extractor is the AI document-understanding service. Every call may upload
// the document; implementations release remote resources on all paths.
type Extractor interface {
	// ExtractInvoiceDescriptors proposes the invoices contained in a multi-page document.
	ExtractInvoiceDescriptors(ctx context.Context, pdfPath string, pageCount int) ([]entity.InvoiceDescriptor, error)

	// ExtractIdentity reads the supplier name and invoice date of a single invoice.
	ExtractIdentity(ctx context.Context, pdfPath string) (entity.InvoiceIdentity, error)

	// ExtractAllocations returns the raw response for the given instructions.
	// The caller parses it.
	ExtractAllocations(ctx context.Context, pdfPath string, ruleTexts []string) (string, error)
}

// Compressor writes a compacted copy of a PDF.
type Compressor interface {
	Compress(src, dst string) error
}
