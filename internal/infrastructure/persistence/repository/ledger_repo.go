package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/garyjia/ai-invoice-intake/internal/application/port"
	"github.com/garyjia/ai-invoice-intake/internal/domain/entity"
	"github.com/garyjia/ai-invoice-intake/internal/infrastructure/persistence/sqlite"
)

const (
	ledgerDateLayout = "2006-01-02"
	ledgerColumns    = `id, account, invoice_date, supplier_name, amount, source_filename, created_at`
)

// LedgerRepository implements port.LedgerRepository.
// Amounts are stored as decimal strings.
type LedgerRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(db *sql.DB, logger *zap.Logger) port.LedgerRepository {
	return &LedgerRepository{
		db:     db,
		logger: logger,
	}
}

// Append inserts a ledger entry
func (r *LedgerRepository) Append(ctx context.Context, e *entity.LedgerEntry) error {
	query := `
		INSERT INTO ledger_entries (account, invoice_date, supplier_name, amount, source_filename)
		VALUES (?, ?, ?, ?, ?)
	`

	result, err := r.exec(ctx).ExecContext(ctx, query,
		e.Account,
		e.InvoiceDate.Format(ledgerDateLayout),
		e.SupplierName,
		e.Amount.StringFixed(2),
		e.SourceFilename,
	)
	if err != nil {
		r.logger.Error("Failed to append ledger entry",
			zap.String("account", e.Account),
			zap.String("supplier", e.SupplierName),
			zap.Error(err))
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	e.ID = id

	r.logger.Debug("Ledger entry appended",
		zap.Int64("id", id),
		zap.String("account", e.Account))
	return nil
}

// GetByID retrieves a ledger entry by ID
func (r *LedgerRepository) GetByID(ctx context.Context, id int64) (*entity.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledger_entries WHERE id = ?`

	e, err := scanLedgerEntry(r.exec(ctx).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ledger entry %d: %w", id, port.ErrNotFound)
	}
	if err != nil {
		r.logger.Error("Failed to get ledger entry", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}
	return e, nil
}

// List returns entries by invoice date descending. A limit <= 0 returns all rows.
func (r *LedgerRepository) List(ctx context.Context, limit, offset int) ([]*entity.LedgerEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT ` + ledgerColumns + `
		FROM ledger_entries
		ORDER BY invoice_date DESC, id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := r.exec(ctx).QueryContext(ctx, query, limit, offset)
	if err != nil {
		r.logger.Error("Failed to list ledger entries", zap.Error(err))
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	entries := []*entity.LedgerEntry{}
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Update overwrites an existing ledger entry
func (r *LedgerRepository) Update(ctx context.Context, e *entity.LedgerEntry) error {
	query := `
		UPDATE ledger_entries
		SET account = ?, invoice_date = ?, supplier_name = ?, amount = ?, source_filename = ?
		WHERE id = ?
	`

	result, err := r.exec(ctx).ExecContext(ctx, query,
		e.Account,
		e.InvoiceDate.Format(ledgerDateLayout),
		e.SupplierName,
		e.Amount.StringFixed(2),
		e.SourceFilename,
		e.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update ledger entry", zap.Int64("id", e.ID), zap.Error(err))
		return fmt.Errorf("failed to update ledger entry: %w", err)
	}
	return requireRow(result, fmt.Sprintf("ledger entry %d", e.ID))
}

// Delete removes a ledger entry
func (r *LedgerRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.exec(ctx).ExecContext(ctx, `DELETE FROM ledger_entries WHERE id = ?`, id)
	if err != nil {
		r.logger.Error("Failed to delete ledger entry", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to delete ledger entry: %w", err)
	}
	return requireRow(result, fmt.Sprintf("ledger entry %d", id))
}

func (r *LedgerRepository) exec(ctx context.Context) sqlite.Executor {
	return sqlite.ExecutorFrom(ctx, r.db)
}

func scanLedgerEntry(row rowScanner) (*entity.LedgerEntry, error) {
	var (
		e      entity.LedgerEntry
		date   time.Time
		amount string
	)

	if err := row.Scan(&e.ID, &e.Account, &date, &e.SupplierName, &amount, &e.SourceFilename, &e.CreatedAt); err != nil {
		return nil, err
	}

	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid stored amount %q: %w", amount, err)
	}
	e.Amount = d
	e.InvoiceDate = time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	return &e, nil
}

// Verify interface compliance
var _ port.LedgerRepository = (*LedgerRepository)(nil)
