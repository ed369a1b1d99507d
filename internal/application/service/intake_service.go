package service

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/ai-invoice-intake/internal/application/port"
	"github.com/garyjia/ai-invoice-intake/internal/domain/entity"
	"github.com/garyjia/ai-invoice-intake/internal/domain/workflow"
	"github.com/garyjia/ai-invoice-intake/internal/invoice"
	"github.com/garyjia/ai-invoice-intake/pkg/utils"
)

// DocumentSplitter writes one PDF per descriptor and returns their paths.
type DocumentSplitter interface {
	Split(ctx context.Context, sourcePath string, descriptors []entity.InvoiceDescriptor, outputDir string) ([]string, error)
}

// PageCounter returns the number of pages of a PDF.
type PageCounter func(path string) (int, error)

// UploadedFile is one document of a new batch.
type UploadedFile struct {
	Name    string
	Content io.Reader
}

// Batch groups the items created from one upload.
type Batch struct {
	ID    string              `json:"batch_id"`
	Items []*entity.BatchItem `json:"items"`
}

// IntakeConfig holds intake settings
type IntakeConfig struct {
	SplitDir       string
	OverlapPolicy  invoice.OverlapPolicy
	ExtractTimeout time.Duration
}

// IntakeService receives documents, splits multi-invoice files and reads each invoice's identity.
type IntakeService interface {
	CreateBatch(ctx context.Context, files []UploadedFile) (*Batch, error)
	GetBatch(ctx context.Context, batchID string) (*Batch, error)
	GetItem(ctx context.Context, id int64) (*entity.BatchItem, error)
	// Prepare advances an uploaded item: a multi-invoice document is split
	// into child items, anything else gets its identity resolved.
	Prepare(ctx context.Context, itemID int64) ([]*entity.BatchItem, error)
	// PrepareBatch prepares every uploaded item of the batch, children included.
	PrepareBatch(ctx context.Context, batchID string) (*Batch, error)
	ListUploaded(ctx context.Context, limit int) ([]*entity.BatchItem, error)
}

type intakeServiceImpl struct {
	items     port.BatchItemRepository
	storage   port.FileStorage
	extractor port.Extractor
	splitter  DocumentSplitter
	pageCount PageCounter
	txManager port.TransactionManager
	cfg       IntakeConfig
	now       func() time.Time
	logger    Logger
	claims    itemClaims
}

// NewIntakeService creates a new IntakeService
func NewIntakeService(
	items port.BatchItemRepository,
	storage port.FileStorage,
	extractor port.Extractor,
	splitter DocumentSplitter,
	pageCount PageCounter,
	txManager port.TransactionManager,
	cfg IntakeConfig,
	logger Logger,
) IntakeService {
	return &intakeServiceImpl{
		items:     items,
		storage:   storage,
		extractor: extractor,
		splitter:  splitter,
		pageCount: pageCount,
		txManager: txManager,
		cfg:       cfg,
		now:       time.Now,
		logger:    logger,
	}
}

// CreateBatch stores every file under a new batch id and records one item per file.
// Files whose pages cannot be counted are recorded as failed.
func (s *intakeServiceImpl) CreateBatch(ctx context.Context, files []UploadedFile) (*Batch, error) {
	if len(files) == 0 {
		return nil, validationError("no files uploaded")
	}

	names := make([]string, len(files))
	seen := make(map[string]int, len(files))
	for i, f := range files {
		name, err := uploadName(f.Name)
		if err != nil {
			return nil, err
		}
		if n := seen[strings.ToLower(name)]; n > 0 {
			name = fmt.Sprintf("%s_%d%s", strings.TrimSuffix(name, filepath.Ext(name)), n+1, filepath.Ext(name))
		}
		seen[strings.ToLower(name)]++
		names[i] = name
	}

	batch := &Batch{ID: uuid.NewString()}
	for i, f := range files {
		path, err := s.storage.Save(ctx, filepath.Join(batch.ID, names[i]), f.Content)
		if err != nil {
			s.logger.Error("Failed to store upload", "error", err, "batch_id", batch.ID, "file", names[i])
			return nil, fmt.Errorf("store %s: %w", names[i], err)
		}

		item := &entity.BatchItem{
			BatchID:  batch.ID,
			FileName: names[i],
			FilePath: path,
			State:    workflow.StateUploaded,
		}

		pages, err := s.pageCount(path)
		if err != nil {
			s.logger.Error("Unreadable upload", "error", err, "batch_id", batch.ID, "file", names[i])
			item.ErrorMessage = err.Error()
			if ferr := fire(ctx, item, workflow.TriggerFail); ferr != nil {
				return nil, ferr
			}
		}
		item.PageCount = pages

		if err := s.items.Create(ctx, item); err != nil {
			return nil, fmt.Errorf("create item: %w", err)
		}
		batch.Items = append(batch.Items, item)
	}

	s.logger.Info("Batch created", "batch_id", batch.ID, "files", len(batch.Items))
	return batch, nil
}

// GetBatch returns a batch with all of its items
func (s *intakeServiceImpl) GetBatch(ctx context.Context, batchID string) (*Batch, error) {
	items, err := s.items.GetByBatchID(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("get batch items: %w", err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("batch %s: %w", batchID, port.ErrNotFound)
	}
	return &Batch{ID: batchID, Items: items}, nil
}

// GetItem returns one item
func (s *intakeServiceImpl) GetItem(ctx context.Context, id int64) (*entity.BatchItem, error) {
	return s.items.GetByID(ctx, id)
}

// ListUploaded returns items waiting for Prepare, oldest first
func (s *intakeServiceImpl) ListUploaded(ctx context.Context, limit int) ([]*entity.BatchItem, error) {
	return s.items.GetByState(ctx, workflow.StateUploaded, limit)
}

// Prepare splits or identifies an uploaded item. The item is claimed before
// it is read so concurrent callers never run the extractor twice.
func (s *intakeServiceImpl) Prepare(ctx context.Context, itemID int64) ([]*entity.BatchItem, error) {
	release, err := s.claims.acquire(itemID)
	if err != nil {
		return nil, err
	}
	defer release()

	item, err := s.items.GetByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.State != workflow.StateUploaded {
		return nil, fmt.Errorf("%w: item %d is %s, want %s", ErrInvalidState, item.ID, item.State, workflow.StateUploaded)
	}

	// Split outputs hold a single invoice by construction.
	if item.PageCount > 1 && !item.IsSplitChild() {
		res := s.detectInvoices(ctx, item)
		if res.Multiple() {
			return s.split(ctx, item, res.Descriptors)
		}
	}

	if err := s.resolveIdentity(ctx, item); err != nil {
		return nil, err
	}
	return []*entity.BatchItem{item}, nil
}

// PrepareBatch runs Prepare until no item of the batch is left uploaded
func (s *intakeServiceImpl) PrepareBatch(ctx context.Context, batchID string) (*Batch, error) {
	batch, err := s.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	queue := make([]*entity.BatchItem, 0, len(batch.Items))
	for _, item := range batch.Items {
		if item.State == workflow.StateUploaded {
			queue = append(queue, item)
		}
	}

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		out, err := s.Prepare(ctx, item.ID)
		if err != nil {
			return nil, err
		}
		for _, o := range out {
			if o.State == workflow.StateUploaded {
				queue = append(queue, o)
			}
		}
	}

	return s.GetBatch(ctx, batchID)
}

func (s *intakeServiceImpl) detectInvoices(ctx context.Context, item *entity.BatchItem) invoice.Resolution {
	tctx, cancel := s.withTimeout(ctx)
	defer cancel()

	candidates, err := s.extractor.ExtractInvoiceDescriptors(tctx, item.FilePath, item.PageCount)
	if err != nil {
		// The document is then handled as a single invoice.
		s.logger.Error("Invoice detection failed", "error", err, "item_id", item.ID)
		candidates = nil
	}

	res := invoice.ResolvePageRanges(item.PageCount, candidates, s.cfg.OverlapPolicy)
	for _, w := range res.Warnings {
		s.logger.Info("Invoice candidate skipped", "item_id", item.ID, "reason", w)
	}
	s.logger.Info("Invoices detected",
		"item_id", item.ID,
		"candidates", len(candidates),
		"accepted", len(res.Descriptors),
		"fallback", res.Fallback)
	return res
}

func (s *intakeServiceImpl) split(ctx context.Context, parent *entity.BatchItem, descriptors []entity.InvoiceDescriptor) ([]*entity.BatchItem, error) {
	outDir := filepath.Join(s.cfg.SplitDir, parent.BatchID)
	paths, err := s.splitter.Split(ctx, parent.FilePath, descriptors, outDir)
	if err != nil {
		s.logger.Error("Split failed", "error", err, "item_id", parent.ID)
		s.markFailed(ctx, parent, err)
		return nil, fmt.Errorf("split item %d: %w", parent.ID, err)
	}

	children := make([]*entity.BatchItem, 0, len(paths))
	err = s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		if err := fire(ctx, parent, workflow.TriggerSplit); err != nil {
			return err
		}
		if err := saveItem(ctx, s.items, parent, workflow.StateUploaded); err != nil {
			return err
		}

		for i, path := range paths {
			child := &entity.BatchItem{
				BatchID:      parent.BatchID,
				ParentID:     &parent.ID,
				FileName:     filepath.Base(path),
				FilePath:     path,
				PageCount:    descriptors[i].PageCount(),
				State:        workflow.StateUploaded,
				SupplierName: descriptors[i].SupplierName,
			}
			if err := s.items.Create(ctx, child); err != nil {
				return fmt.Errorf("create split item: %w", err)
			}
			children = append(children, child)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Document split", "item_id", parent.ID, "invoices", len(children))
	return children, nil
}

func (s *intakeServiceImpl) resolveIdentity(ctx context.Context, item *entity.BatchItem) error {
	tctx, cancel := s.withTimeout(ctx)
	defer cancel()

	identity, err := s.extractor.ExtractIdentity(tctx, item.FilePath)
	if err != nil {
		s.logger.Error("Identity extraction failed", "error", err, "item_id", item.ID)
		identity = entity.InvoiceIdentity{
			SupplierName: entity.UnknownSupplier,
			Date:         utils.InvoiceDateOrToday("", s.now()).Format(utils.InvoiceDateLayout),
		}
	}

	from := item.State
	item.SupplierName = identity.SupplierName
	item.InvoiceDate = identity.Date
	if err := fire(ctx, item, workflow.TriggerResolveIdentity); err != nil {
		return err
	}
	if err := saveItem(ctx, s.items, item, from); err != nil {
		return err
	}

	s.logger.Info("Identity resolved",
		"item_id", item.ID,
		"supplier", item.SupplierName,
		"date", item.InvoiceDate)
	return nil
}

func (s *intakeServiceImpl) markFailed(ctx context.Context, item *entity.BatchItem, cause error) {
	from := item.State
	item.ErrorMessage = cause.Error()
	if err := fire(ctx, item, workflow.TriggerFail); err != nil {
		return
	}
	if err := saveItem(ctx, s.items, item, from); err != nil {
		s.logger.Error("Failed to record item failure", "error", err, "item_id", item.ID)
	}
}

func (s *intakeServiceImpl) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.ExtractTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.ExtractTimeout)
}

// uploadName keeps the base name of an uploaded PDF.
func uploadName(name string) (string, error) {
	base := filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if base == "." || base == "/" || base == "" {
		return "", validationError("empty file name")
	}
	if !strings.EqualFold(filepath.Ext(base), ".pdf") {
		return "", validationError("%s is not a PDF", base)
	}
	return base, nil
}
