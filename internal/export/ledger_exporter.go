// Package export writes the ledger to spreadsheet files.
package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/ai-invoice-intake/internal/domain/entity"
	"github.com/garyjia/ai-invoice-intake/pkg/utils"
)

// LedgerSheet is the name of the exported worksheet.
const LedgerSheet = "Ledger"

var ledgerHeader = []interface{}{"ID", "Account", "Invoice date", "Supplier", "Amount", "Source file"}

// LedgerExporter writes ledger entries as an xlsx workbook
type LedgerExporter struct {
	logger *zap.Logger
}

// NewLedgerExporter creates a new ledger exporter
func NewLedgerExporter(logger *zap.Logger) *LedgerExporter {
	return &LedgerExporter{logger: logger}
}

// Export writes one header row then one row per entry, in the given order
func (e *LedgerExporter) Export(w io.Writer, entries []*entity.LedgerEntry) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", LedgerSheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	amountFormat := "#,##0.00"
	amountStyle, err := f.NewStyle(&excelize.Style{CustomNumFmt: &amountFormat})
	if err != nil {
		return fmt.Errorf("failed to create amount style: %w", err)
	}
	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	if err := f.SetSheetRow(LedgerSheet, "A1", &ledgerHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if err := f.SetCellStyle(LedgerSheet, "A1", "F1", headerStyle); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}

	for i, entry := range entries {
		row := i + 2
		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return err
		}

		values := []interface{}{
			entry.ID,
			entry.Account,
			entry.InvoiceDate.Format(utils.InvoiceDateLayout),
			entry.SupplierName,
			entry.Amount.InexactFloat64(),
			entry.SourceFilename,
		}
		if err := f.SetSheetRow(LedgerSheet, cell, &values); err != nil {
			return fmt.Errorf("failed to write row %d: %w", row, err)
		}

		amountCell, _ := excelize.CoordinatesToCellName(5, row)
		if err := f.SetCellStyle(LedgerSheet, amountCell, amountCell, amountStyle); err != nil {
			return fmt.Errorf("failed to style row %d: %w", row, err)
		}
	}

	if err := f.SetColWidth(LedgerSheet, "B", "F", 18); err != nil {
		e.logger.Warn("Failed to set column width", zap.Error(err))
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}

	e.logger.Info("Ledger exported", zap.Int("entries", len(entries)))
	return nil
}
