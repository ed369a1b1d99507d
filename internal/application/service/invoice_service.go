package service

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/garyjia/ai-invoice-intake/internal/annotation"
	"github.com/garyjia/ai-invoice-intake/internal/application/port"
	"github.com/garyjia/ai-invoice-intake/internal/domain/entity"
	"github.com/garyjia/ai-invoice-intake/internal/domain/workflow"
	"github.com/garyjia/ai-invoice-intake/internal/invoice"
	"github.com/garyjia/ai-invoice-intake/pkg/utils"
)

// AllocationResolver computes the allocation lines of an invoice from its supplier's rules.
type AllocationResolver interface {
	Resolve(ctx context.Context, pdfPath string, rules []entity.AllocationRule) ([]entity.AllocationLine, error)
}

// DocumentStamper draws the annotation block on page 1.
type DocumentStamper interface {
	Restamp(ctx context.Context, pdfPath, redText, blackText string, previous annotation.Rect) (annotation.Rect, error)
}

// ManualEntry is a hand-typed set of allocation values.
type ManualEntry struct {
	Allocations []entity.AllocationLine `json:"allocations"`

	// Optional identity corrections.
	SupplierName string `json:"supplier_name,omitempty"`
	InvoiceDate  string `json:"invoice_date,omitempty"`

	// SaveAccounts stores the typed accounts as the supplier's fixed rules.
	SaveAccounts bool `json:"save_accounts,omitempty"`
}

// StampRequest selects the payment line printed under the allocations.
type StampRequest struct {
	PaymentMethod entity.PaymentMethod `json:"payment_method"`
	Detail        string               `json:"detail,omitempty"`
}

// InvoiceConfig holds the output locations for validated invoices
type InvoiceConfig struct {
	ReadyDir string
}

// InvoiceService carries an identified invoice through allocation, stamping and validation.
type InvoiceService interface {
	ResolveAllocations(ctx context.Context, itemID int64) (*entity.BatchItem, error)
	EnterAllocations(ctx context.Context, itemID int64, entry ManualEntry) (*entity.BatchItem, error)
	Stamp(ctx context.Context, itemID int64, req StampRequest) (*entity.BatchItem, error)
	// Validate renames the stamped file into the ready area, posts one ledger
	// entry per allocation and archives the file.
	Validate(ctx context.Context, itemID int64) (*entity.BatchItem, error)
	// WriteBatchArchive zips the validated files of a batch.
	WriteBatchArchive(ctx context.Context, batchID string, w io.Writer) error
}

type invoiceServiceImpl struct {
	items      port.BatchItemRepository
	suppliers  port.SupplierRepository
	ledger     port.LedgerRepository
	resolver   AllocationResolver
	stamper    DocumentStamper
	compressor port.Compressor
	archiver   port.Archiver
	txManager  port.TransactionManager
	cfg        InvoiceConfig
	now        func() time.Time
	logger     Logger
	claims     itemClaims
}

// NewInvoiceService creates a new InvoiceService
func NewInvoiceService(
	items port.BatchItemRepository,
	suppliers port.SupplierRepository,
	ledger port.LedgerRepository,
	resolver AllocationResolver,
	stamper DocumentStamper,
	compressor port.Compressor,
	archiver port.Archiver,
	txManager port.TransactionManager,
	cfg InvoiceConfig,
	logger Logger,
) InvoiceService {
	return &invoiceServiceImpl{
		items:      items,
		suppliers:  suppliers,
		ledger:     ledger,
		resolver:   resolver,
		stamper:    stamper,
		compressor: compressor,
		archiver:   archiver,
		txManager:  txManager,
		cfg:        cfg,
		now:        time.Now,
		logger:     logger,
	}
}

// ResolveAllocations runs the allocation resolver with the supplier's rules.
// An extraction failure moves the item to AllocationFailed and is returned.
func (s *invoiceServiceImpl) ResolveAllocations(ctx context.Context, itemID int64) (*entity.BatchItem, error) {
	item, release, err := s.claim(ctx, itemID)
	if err != nil {
		return nil, err
	}
	defer release()

	from := item.State
	if err := canFire(item, workflow.TriggerResolveAllocation); err != nil {
		return nil, err
	}

	supplier, err := s.suppliers.GetByName(ctx, item.SupplierName)
	if err != nil {
		return nil, fmt.Errorf("get supplier: %w", err)
	}
	if supplier == nil {
		return item, fmt.Errorf("%w: %s", ErrUnknownSupplier, item.SupplierName)
	}
	if supplier.Mode == entity.EntryModeManual {
		return item, fmt.Errorf("%w: supplier %s", ErrManualEntryRequired, supplier.Name)
	}

	lines, err := s.resolver.Resolve(ctx, item.FilePath, supplier.Rules)
	if err != nil {
		s.logger.Error("Allocation failed", "error", err, "item_id", item.ID, "supplier", supplier.Name)
		item.ErrorMessage = err.Error()
		if ferr := fire(ctx, item, workflow.TriggerFailAllocation); ferr != nil {
			return nil, ferr
		}
		if uerr := saveItem(ctx, s.items, item, from); uerr != nil {
			return nil, uerr
		}
		return item, err
	}

	item.Allocations = lines
	item.ErrorMessage = ""
	if err := fire(ctx, item, workflow.TriggerResolveAllocation); err != nil {
		return nil, err
	}
	if err := saveItem(ctx, s.items, item, from); err != nil {
		return nil, err
	}

	s.logger.Info("Allocations resolved", "item_id", item.ID, "supplier", supplier.Name, "lines", len(lines))
	return item, nil
}

// EnterAllocations records hand-typed values, optionally saving the accounts as rules
func (s *invoiceServiceImpl) EnterAllocations(ctx context.Context, itemID int64, entry ManualEntry) (*entity.BatchItem, error) {
	lines, err := validateManualEntry(entry)
	if err != nil {
		return nil, err
	}

	item, release, err := s.claim(ctx, itemID)
	if err != nil {
		return nil, err
	}
	defer release()

	from := item.State
	if err := fire(ctx, item, workflow.TriggerManualEntry); err != nil {
		return nil, err
	}

	if name := strings.TrimSpace(entry.SupplierName); name != "" {
		item.SupplierName = name
	}
	if date := strings.TrimSpace(entry.InvoiceDate); date != "" {
		item.InvoiceDate = date
	}
	item.Allocations = lines
	item.ErrorMessage = ""

	err = s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		if err := saveItem(ctx, s.items, item, from); err != nil {
			return err
		}
		if entry.SaveAccounts {
			return s.saveAccounts(ctx, item.SupplierName, lines)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Manual entry failed", "error", err, "item_id", item.ID)
		return nil, fmt.Errorf("manual entry: %w", err)
	}

	s.logger.Info("Allocations entered", "item_id", item.ID, "lines", len(lines), "rules_saved", entry.SaveAccounts)
	return item, nil
}

// saveAccounts stores the typed accounts as fixed rules, creating a manual
// supplier when none exists yet.
func (s *invoiceServiceImpl) saveAccounts(ctx context.Context, supplierName string, lines []entity.AllocationLine) error {
	rules := make([]entity.AllocationRule, 0, len(lines))
	for _, l := range lines {
		rules = append(rules, entity.AllocationRule{Account: l.Account})
	}

	existing, err := s.suppliers.GetByName(ctx, supplierName)
	if err != nil {
		return err
	}
	if existing == nil {
		return s.suppliers.Create(ctx, &entity.Supplier{
			Name:  supplierName,
			Mode:  entity.EntryModeManual,
			Rules: rules,
		})
	}
	return s.suppliers.ReplaceRules(ctx, supplierName, rules)
}

// Stamp draws the stamp on page 1. Stamping again covers the earlier stamp.
func (s *invoiceServiceImpl) Stamp(ctx context.Context, itemID int64, req StampRequest) (*entity.BatchItem, error) {
	if !req.PaymentMethod.IsValid() {
		return nil, validationError("unknown payment method %q", req.PaymentMethod)
	}
	if req.PaymentMethod == entity.PaymentComment && strings.TrimSpace(req.Detail) == "" {
		return nil, validationError("a comment is required")
	}

	item, release, err := s.claim(ctx, itemID)
	if err != nil {
		return nil, err
	}
	defer release()

	from := item.State
	if err := canFire(item, workflow.TriggerStamp); err != nil {
		return nil, err
	}

	red := annotation.RedText(item.SupplierName, item.Allocations)
	black := annotation.BlackText(req.PaymentMethod, req.Detail)
	previous := annotation.Rect{Width: item.StampWidth, Height: item.StampHeight}

	footprint, err := s.stamper.Restamp(ctx, item.FilePath, red, black, previous)
	if err != nil {
		s.logger.Error("Stamp failed", "error", err, "item_id", item.ID)
		return nil, fmt.Errorf("stamp item %d: %w", item.ID, err)
	}

	if err := fire(ctx, item, workflow.TriggerStamp); err != nil {
		return nil, err
	}
	item.PaymentMethod = req.PaymentMethod
	item.PaymentDetail = strings.TrimSpace(req.Detail)
	item.StampWidth = footprint.Width
	item.StampHeight = footprint.Height
	if err := saveItem(ctx, s.items, item, from); err != nil {
		return nil, err
	}

	s.logger.Info("Item stamped", "item_id", item.ID, "payment_method", string(req.PaymentMethod))
	return item, nil
}

// Validate finalises a stamped invoice
func (s *invoiceServiceImpl) Validate(ctx context.Context, itemID int64) (*entity.BatchItem, error) {
	item, release, err := s.claim(ctx, itemID)
	if err != nil {
		return nil, err
	}
	defer release()

	from := item.State
	if err := canFire(item, workflow.TriggerArchive); err != nil {
		return nil, err
	}

	date := utils.InvoiceDateOrToday(item.InvoiceDate, s.now())
	finalName := invoice.FinalFileName(item.SupplierName, date)

	entries, err := ledgerEntries(item, date, finalName)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(s.cfg.ReadyDir, 0755); err != nil {
		return nil, fmt.Errorf("create ready dir: %w", err)
	}
	finalPath := filepath.Join(s.cfg.ReadyDir, finalName)
	if err := s.compressor.Compress(item.FilePath, finalPath); err != nil {
		s.logger.Error("Compression failed", "error", err, "item_id", item.ID)
		return nil, fmt.Errorf("compress item %d: %w", item.ID, err)
	}

	archivePath, err := s.archiver.Archive(ctx, finalPath, finalName)
	if err != nil {
		s.logger.Error("Archive failed", "error", err, "item_id", item.ID)
		return nil, fmt.Errorf("archive item %d: %w", item.ID, err)
	}

	if err := fire(ctx, item, workflow.TriggerArchive); err != nil {
		return nil, err
	}
	item.FinalPath = finalPath
	item.ArchivePath = archivePath

	// The state write comes first so a concurrent validation posts nothing.
	err = s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		if err := saveItem(ctx, s.items, item, from); err != nil {
			return err
		}
		for _, e := range entries {
			if err := s.ledger.Append(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to post ledger entries", "error", err, "item_id", item.ID)
		return nil, fmt.Errorf("validate item %d: %w", item.ID, err)
	}

	s.logger.Info("Invoice validated",
		"item_id", item.ID,
		"final_path", finalPath,
		"archive_path", archivePath,
		"ledger_entries", len(entries))
	return item, nil
}

// claim reserves itemID for one operation and loads it.
func (s *invoiceServiceImpl) claim(ctx context.Context, itemID int64) (*entity.BatchItem, func(), error) {
	release, err := s.claims.acquire(itemID)
	if err != nil {
		return nil, nil, err
	}
	item, err := s.items.GetByID(ctx, itemID)
	if err != nil {
		release()
		return nil, nil, err
	}
	return item, release, nil
}

// WriteBatchArchive zips every validated file of the batch
func (s *invoiceServiceImpl) WriteBatchArchive(ctx context.Context, batchID string, w io.Writer) error {
	items, err := s.items.GetByBatchID(ctx, batchID)
	if err != nil {
		return fmt.Errorf("get batch items: %w", err)
	}

	var files []string
	for _, item := range items {
		if item.State == workflow.StateArchived && item.FinalPath != "" {
			files = append(files, item.FinalPath)
		}
	}
	if len(files) == 0 {
		return fmt.Errorf("batch %s has no validated files: %w", batchID, port.ErrNotFound)
	}

	zw := zip.NewWriter(w)
	used := make(map[string]bool, len(files))
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := filepath.Base(path)
		if used[name] {
			continue
		}
		used[name] = true
		if err := addZipFile(zw, path, name); err != nil {
			return err
		}
	}
	return zw.Close()
}

func addZipFile(zw *zip.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()

	dst, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	if _, err := io.Copy(dst, f); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// ledgerEntries builds one entry per allocation with a value.
func ledgerEntries(item *entity.BatchItem, date time.Time, sourceName string) ([]*entity.LedgerEntry, error) {
	entries := make([]*entity.LedgerEntry, 0, len(item.Allocations))
	for _, line := range item.Allocations {
		if strings.TrimSpace(line.Value) == "" {
			continue
		}
		amount, err := utils.ParseAmount(line.Value)
		if err != nil {
			return nil, validationError("account %s: %v", line.Account, err)
		}
		entries = append(entries, &entity.LedgerEntry{
			Account:        line.Account,
			InvoiceDate:    date,
			SupplierName:   item.SupplierName,
			Amount:         amount,
			SourceFilename: sourceName,
		})
	}
	return entries, nil
}

func validateManualEntry(entry ManualEntry) ([]entity.AllocationLine, error) {
	if len(entry.Allocations) == 0 {
		return nil, validationError("at least one allocation is required")
	}
	if len(entry.Allocations) > entity.MaxAllocationRules {
		return nil, validationError("at most %d allocations", entity.MaxAllocationRules)
	}
	if entry.InvoiceDate != "" {
		if _, ok := utils.ParseInvoiceDate(entry.InvoiceDate); !ok {
			return nil, validationError("invoice date %q is not dd/mm/yyyy", entry.InvoiceDate)
		}
	}

	lines := make([]entity.AllocationLine, 0, len(entry.Allocations))
	for _, a := range entry.Allocations {
		account := strings.TrimSpace(a.Account)
		if err := utils.ValidateAccount(account); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		value := strings.TrimSpace(a.Value)
		if value != "" {
			if _, err := utils.ParseAmount(value); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrValidation, err)
			}
		}
		lines = append(lines, entity.AllocationLine{Account: account, Value: value})
	}
	return lines, nil
}
