package service

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/garyjia/ai-invoice-intake/internal/application/port"
	"github.com/garyjia/ai-invoice-intake/internal/domain/entity"
	"github.com/garyjia/ai-invoice-intake/pkg/utils"
)

// LedgerExporter writes ledger entries to a spreadsheet.
type LedgerExporter interface {
	Export(w io.Writer, entries []*entity.LedgerEntry) error
}

// LedgerService exposes the posted accounting lines
type LedgerService interface {
	List(ctx context.Context, limit, offset int) ([]*entity.LedgerEntry, error)
	Get(ctx context.Context, id int64) (*entity.LedgerEntry, error)
	Update(ctx context.Context, entry *entity.LedgerEntry) (*entity.LedgerEntry, error)
	Delete(ctx context.Context, id int64) error
	Export(ctx context.Context, w io.Writer) error
}

type ledgerServiceImpl struct {
	ledger   port.LedgerRepository
	exporter LedgerExporter
	logger   Logger
}

// NewLedgerService creates a new LedgerService
func NewLedgerService(ledger port.LedgerRepository, exporter LedgerExporter, logger Logger) LedgerService {
	return &ledgerServiceImpl{
		ledger:   ledger,
		exporter: exporter,
		logger:   logger,
	}
}

// List returns entries newest invoice date first
func (s *ledgerServiceImpl) List(ctx context.Context, limit, offset int) ([]*entity.LedgerEntry, error) {
	return s.ledger.List(ctx, limit, offset)
}

// Get returns one entry
func (s *ledgerServiceImpl) Get(ctx context.Context, id int64) (*entity.LedgerEntry, error) {
	return s.ledger.GetByID(ctx, id)
}

// Update corrects an entry
func (s *ledgerServiceImpl) Update(ctx context.Context, entry *entity.LedgerEntry) (*entity.LedgerEntry, error) {
	entry.Account = strings.TrimSpace(entry.Account)
	if err := utils.ValidateAccount(entry.Account); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if entry.InvoiceDate.IsZero() {
		return nil, validationError("invoice date is required")
	}
	if strings.TrimSpace(entry.SupplierName) == "" {
		return nil, validationError("supplier name is required")
	}

	if err := s.ledger.Update(ctx, entry); err != nil {
		s.logger.Error("Failed to update ledger entry", "error", err, "id", entry.ID)
		return nil, err
	}
	s.logger.Info("Ledger entry updated", "id", entry.ID)
	return s.ledger.GetByID(ctx, entry.ID)
}

// Delete removes an entry
func (s *ledgerServiceImpl) Delete(ctx context.Context, id int64) error {
	if err := s.ledger.Delete(ctx, id); err != nil {
		s.logger.Error("Failed to delete ledger entry", "error", err, "id", id)
		return err
	}
	s.logger.Info("Ledger entry deleted", "id", id)
	return nil
}

// Export writes the whole ledger as a spreadsheet
func (s *ledgerServiceImpl) Export(ctx context.Context, w io.Writer) error {
	entries, err := s.ledger.List(ctx, 0, 0)
	if err != nil {
		return fmt.Errorf("list ledger: %w", err)
	}
	return s.exporter.Export(w, entries)
}
