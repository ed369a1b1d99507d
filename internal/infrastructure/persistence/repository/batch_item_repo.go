package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/ai-invoice-intake/internal/application/port"
	"github.com/garyjia/ai-invoice-intake/internal/domain/entity"
	"github.com/garyjia/ai-invoice-intake/internal/domain/workflow"
	"github.com/garyjia/ai-invoice-intake/internal/infrastructure/persistence/sqlite"
)

const batchItemColumns = `id, batch_id, parent_id, file_name, file_path, page_count, state,
	supplier_name, invoice_date, allocations, payment_method, payment_detail,
	error_message, final_path, archive_path, stamp_width, stamp_height,
	created_at, updated_at`

// BatchItemRepository implements port.BatchItemRepository.
// Allocation lines are stored as a JSON array.
type BatchItemRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewBatchItemRepository creates a new batch item repository
func NewBatchItemRepository(db *sql.DB, logger *zap.Logger) port.BatchItemRepository {
	return &BatchItemRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new batch item
func (r *BatchItemRepository) Create(ctx context.Context, item *entity.BatchItem) error {
	allocations, err := marshalAllocations(item.Allocations)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO batch_items (batch_id, parent_id, file_name, file_path, page_count, state,
			supplier_name, invoice_date, allocations, payment_method, payment_detail,
			error_message, final_path, archive_path, stamp_width, stamp_height)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.exec(ctx).ExecContext(ctx, query,
		item.BatchID,
		item.ParentID,
		item.FileName,
		item.FilePath,
		item.PageCount,
		string(item.State),
		item.SupplierName,
		item.InvoiceDate,
		allocations,
		string(item.PaymentMethod),
		item.PaymentDetail,
		item.ErrorMessage,
		item.FinalPath,
		item.ArchivePath,
		item.StampWidth,
		item.StampHeight,
	)
	if err != nil {
		r.logger.Error("Failed to create batch item",
			zap.String("batch_id", item.BatchID),
			zap.String("file_name", item.FileName),
			zap.Error(err))
		return fmt.Errorf("failed to create batch item: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	item.ID = id

	r.logger.Debug("Batch item created",
		zap.Int64("id", id),
		zap.String("batch_id", item.BatchID),
		zap.String("state", string(item.State)))
	return nil
}

// GetByID retrieves a batch item by ID
func (r *BatchItemRepository) GetByID(ctx context.Context, id int64) (*entity.BatchItem, error) {
	query := `SELECT ` + batchItemColumns + ` FROM batch_items WHERE id = ?`

	item, err := scanBatchItem(r.exec(ctx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("batch item %d: %w", id, port.ErrNotFound)
	}
	if err != nil {
		r.logger.Error("Failed to get batch item", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get batch item: %w", err)
	}
	return item, nil
}

// GetByBatchID retrieves all items of a batch in insertion order
func (r *BatchItemRepository) GetByBatchID(ctx context.Context, batchID string) ([]*entity.BatchItem, error) {
	query := `SELECT ` + batchItemColumns + ` FROM batch_items WHERE batch_id = ? ORDER BY id ASC`
	return r.query(ctx, query, batchID)
}

// GetByState retrieves the oldest items in a given state for worker processing
func (r *BatchItemRepository) GetByState(ctx context.Context, state workflow.State, limit int) ([]*entity.BatchItem, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `SELECT ` + batchItemColumns + ` FROM batch_items WHERE state = ? ORDER BY created_at ASC, id ASC LIMIT ?`
	return r.query(ctx, query, string(state), limit)
}

// Update writes every mutable column of the item. The row must still be in
// state from; otherwise nothing is written and port.ErrStateConflict is returned.
func (r *BatchItemRepository) Update(ctx context.Context, item *entity.BatchItem, from workflow.State) error {
	allocations, err := marshalAllocations(item.Allocations)
	if err != nil {
		return err
	}

	query := `
		UPDATE batch_items SET
			page_count = ?, state = ?, supplier_name = ?, invoice_date = ?, allocations = ?,
			payment_method = ?, payment_detail = ?, error_message = ?, final_path = ?,
			archive_path = ?, stamp_width = ?, stamp_height = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND state = ?
	`

	result, err := r.exec(ctx).ExecContext(ctx, query,
		item.PageCount,
		string(item.State),
		item.SupplierName,
		item.InvoiceDate,
		allocations,
		string(item.PaymentMethod),
		item.PaymentDetail,
		item.ErrorMessage,
		item.FinalPath,
		item.ArchivePath,
		item.StampWidth,
		item.StampHeight,
		item.ID,
		string(from),
	)
	if err != nil {
		r.logger.Error("Failed to update batch item", zap.Int64("id", item.ID), zap.Error(err))
		return fmt.Errorf("failed to update batch item: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	current, err := r.GetByID(ctx, item.ID)
	if err != nil {
		return err
	}
	r.logger.Warn("Batch item state changed concurrently",
		zap.Int64("id", item.ID),
		zap.String("expected", string(from)),
		zap.String("actual", string(current.State)))
	return fmt.Errorf("batch item %d is %s, expected %s: %w", item.ID, current.State, from, port.ErrStateConflict)
}

func (r *BatchItemRepository) query(ctx context.Context, query string, args ...interface{}) ([]*entity.BatchItem, error) {
	rows, err := r.exec(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to query batch items", zap.Error(err))
		return nil, fmt.Errorf("failed to query batch items: %w", err)
	}
	defer rows.Close()

	items := []*entity.BatchItem{}
	for rows.Next() {
		item, err := scanBatchItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *BatchItemRepository) exec(ctx context.Context) sqlite.Executor {
	return sqlite.ExecutorFrom(ctx, r.db)
}

func scanBatchItem(row rowScanner) (*entity.BatchItem, error) {
	var (
		item        entity.BatchItem
		parentID    sql.NullInt64
		state       string
		allocations string
		method      string
	)

	err := row.Scan(
		&item.ID,
		&item.BatchID,
		&parentID,
		&item.FileName,
		&item.FilePath,
		&item.PageCount,
		&state,
		&item.SupplierName,
		&item.InvoiceDate,
		&allocations,
		&method,
		&item.PaymentDetail,
		&item.ErrorMessage,
		&item.FinalPath,
		&item.ArchivePath,
		&item.StampWidth,
		&item.StampHeight,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if parentID.Valid {
		id := parentID.Int64
		item.ParentID = &id
	}
	item.State = workflow.State(state)
	item.PaymentMethod = entity.PaymentMethod(method)

	if allocations != "" {
		if err := json.Unmarshal([]byte(allocations), &item.Allocations); err != nil {
			return nil, fmt.Errorf("invalid stored allocations: %w", err)
		}
	}
	return &item, nil
}

func marshalAllocations(lines []entity.AllocationLine) (string, error) {
	if lines == nil {
		lines = []entity.AllocationLine{}
	}
	data, err := json.Marshal(lines)
	if err != nil {
		return "", fmt.Errorf("failed to marshal allocations: %w", err)
	}
	return string(data), nil
}

// Verify interface compliance
var _ port.BatchItemRepository = (*BatchItemRepository)(nil)
