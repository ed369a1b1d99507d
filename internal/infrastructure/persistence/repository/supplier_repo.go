package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sqlite3 "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/garyjia/ai-invoice-intake/internal/application/port"
	"github.com/garyjia/ai-invoice-intake/internal/domain/entity"
	"github.com/garyjia/ai-invoice-intake/internal/infrastructure/persistence/sqlite"
)

const supplierColumns = `id, name, associated_name, mode,
	account1, rule1, account2, rule2, account3, rule3,
	account4, rule4, account5, rule5, account6, rule6,
	created_at, updated_at`

// SupplierRepository implements port.SupplierRepository on the suppliers table.
// Rules live in six (account, rule) column pairs.
type SupplierRepository struct {
	db     *sql.DB
	tx     port.TransactionManager
	logger *zap.Logger
}

// NewSupplierRepository creates a new supplier repository
func NewSupplierRepository(db *sql.DB, tx port.TransactionManager, logger *zap.Logger) port.SupplierRepository {
	return &SupplierRepository{
		db:     db,
		tx:     tx,
		logger: logger,
	}
}

// FindRules returns the supplier's rules that have an account, in slot order.
func (r *SupplierRepository) FindRules(ctx context.Context, supplierName string) ([]entity.AllocationRule, error) {
	s, err := r.GetByName(ctx, supplierName)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return []entity.AllocationRule{}, nil
	}
	return s.Rules, nil
}

// GetByName retrieves a supplier by case-insensitive name
func (r *SupplierRepository) GetByName(ctx context.Context, name string) (*entity.Supplier, error) {
	query := `SELECT ` + supplierColumns + ` FROM suppliers WHERE name_key = ?`

	s, err := scanSupplier(r.exec(ctx).QueryRowContext(ctx, query, nameKey(name)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get supplier", zap.String("name", name), zap.Error(err))
		return nil, fmt.Errorf("failed to get supplier: %w", err)
	}
	return s, nil
}

// Create inserts a supplier with up to six rules
func (r *SupplierRepository) Create(ctx context.Context, s *entity.Supplier) error {
	rules := entity.NormalizeRules(s.Rules)
	args := []interface{}{strings.TrimSpace(s.Name), nameKey(s.Name), nullIfEmpty(s.AssociatedName), string(modeOrDefault(s.Mode))}
	args = append(args, ruleArgs(rules)...)

	query := `
		INSERT INTO suppliers (name, name_key, associated_name, mode,
			account1, rule1, account2, rule2, account3, rule3,
			account4, rule4, account5, rule5, account6, rule6)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.exec(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", port.ErrSupplierExists, s.Name)
		}
		r.logger.Error("Failed to create supplier", zap.String("name", s.Name), zap.Error(err))
		return fmt.Errorf("failed to create supplier: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	s.ID = id
	s.Rules = rules
	s.Mode = modeOrDefault(s.Mode)
	return nil
}

// ReplaceRules clears all six slots then writes rules in one transaction.
func (r *SupplierRepository) ReplaceRules(ctx context.Context, supplierName string, rules []entity.AllocationRule) error {
	rules = entity.NormalizeRules(rules)

	return r.tx.WithTransaction(ctx, func(ctx context.Context) error {
		reset := `
			UPDATE suppliers SET
				account1 = NULL, rule1 = NULL, account2 = NULL, rule2 = NULL,
				account3 = NULL, rule3 = NULL, account4 = NULL, rule4 = NULL,
				account5 = NULL, rule5 = NULL, account6 = NULL, rule6 = NULL,
				updated_at = CURRENT_TIMESTAMP
			WHERE name_key = ?
		`
		result, err := r.exec(ctx).ExecContext(ctx, reset, nameKey(supplierName))
		if err != nil {
			r.logger.Error("Failed to reset supplier rules", zap.String("name", supplierName), zap.Error(err))
			return fmt.Errorf("failed to reset rules: %w", err)
		}
		if err := requireRow(result, "supplier "+supplierName); err != nil {
			return err
		}

		set := make([]string, 0, len(rules)*2)
		args := make([]interface{}, 0, len(rules)*2+1)
		for _, rule := range rules {
			set = append(set, fmt.Sprintf("account%d = ?", rule.Slot), fmt.Sprintf("rule%d = ?", rule.Slot))
			args = append(args, rule.Account, nullIfEmpty(rule.RuleText))
		}
		if len(set) == 0 {
			return nil
		}
		args = append(args, nameKey(supplierName))

		update := `UPDATE suppliers SET ` + strings.Join(set, ", ") + ` WHERE name_key = ?`
		if _, err := r.exec(ctx).ExecContext(ctx, update, args...); err != nil {
			r.logger.Error("Failed to set supplier rules", zap.String("name", supplierName), zap.Error(err))
			return fmt.Errorf("failed to set rules: %w", err)
		}
		return nil
	})
}

// Replace overwrites name, associated name, mode and all rules of the
// supplier currently called oldName.
func (r *SupplierRepository) Replace(ctx context.Context, oldName string, s *entity.Supplier) error {
	rules := entity.NormalizeRules(s.Rules)
	args := []interface{}{strings.TrimSpace(s.Name), nameKey(s.Name), nullIfEmpty(s.AssociatedName), string(modeOrDefault(s.Mode))}
	args = append(args, ruleArgs(rules)...)
	args = append(args, nameKey(oldName))

	query := `
		UPDATE suppliers SET
			name = ?, name_key = ?, associated_name = ?, mode = ?,
			account1 = ?, rule1 = ?, account2 = ?, rule2 = ?, account3 = ?, rule3 = ?,
			account4 = ?, rule4 = ?, account5 = ?, rule5 = ?, account6 = ?, rule6 = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE name_key = ?
	`

	return r.tx.WithTransaction(ctx, func(ctx context.Context) error {
		result, err := r.exec(ctx).ExecContext(ctx, query, args...)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s", port.ErrSupplierExists, s.Name)
			}
			r.logger.Error("Failed to replace supplier", zap.String("name", oldName), zap.Error(err))
			return fmt.Errorf("failed to replace supplier: %w", err)
		}
		if err := requireRow(result, "supplier "+oldName); err != nil {
			return err
		}
		s.Rules = rules
		s.Mode = modeOrDefault(s.Mode)
		return nil
	})
}

// List returns every supplier ordered by name
func (r *SupplierRepository) List(ctx context.Context) ([]*entity.Supplier, error) {
	query := `SELECT ` + supplierColumns + ` FROM suppliers ORDER BY name_key`

	rows, err := r.exec(ctx).QueryContext(ctx, query)
	if err != nil {
		r.logger.Error("Failed to list suppliers", zap.Error(err))
		return nil, fmt.Errorf("failed to list suppliers: %w", err)
	}
	defer rows.Close()

	var suppliers []*entity.Supplier
	for rows.Next() {
		s, err := scanSupplier(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan supplier: %w", err)
		}
		suppliers = append(suppliers, s)
	}
	return suppliers, rows.Err()
}

func (r *SupplierRepository) exec(ctx context.Context) sqlite.Executor {
	return sqlite.ExecutorFrom(ctx, r.db)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSupplier(row rowScanner) (*entity.Supplier, error) {
	var (
		s          entity.Supplier
		associated sql.NullString
		mode       string
		slots      [entity.MaxAllocationRules][2]sql.NullString
	)

	dest := []interface{}{&s.ID, &s.Name, &associated, &mode}
	for i := range slots {
		dest = append(dest, &slots[i][0], &slots[i][1])
	}
	dest = append(dest, &s.CreatedAt, &s.UpdatedAt)

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	s.AssociatedName = associated.String
	s.Mode = entity.EntryMode(mode)
	s.Rules = []entity.AllocationRule{}
	for i, slot := range slots {
		account := strings.TrimSpace(slot[0].String)
		if account == "" {
			continue
		}
		s.Rules = append(s.Rules, entity.AllocationRule{
			Slot:     i + 1,
			Account:  account,
			RuleText: slot[1].String,
		})
	}
	return &s, nil
}

// ruleArgs flattens rules into the twelve slot columns, padding with NULLs.
func ruleArgs(rules []entity.AllocationRule) []interface{} {
	args := make([]interface{}, 0, entity.MaxAllocationRules*2)
	for i := 0; i < entity.MaxAllocationRules; i++ {
		if i < len(rules) {
			args = append(args, rules[i].Account, nullIfEmpty(rules[i].RuleText))
			continue
		}
		args = append(args, nil, nil)
	}
	return args
}

// nameKey is the lookup form of a supplier name. SQLite UPPER only folds
// ASCII, so accented names are folded here.
func nameKey(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

func modeOrDefault(m entity.EntryMode) entity.EntryMode {
	if m.IsValid() {
		return m
	}
	return entity.EntryModeAutomatic
}

func nullIfEmpty(s string) interface{} {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func requireRow(result sql.Result, what string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, port.ErrNotFound)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

// Verify interface compliance
var _ port.SupplierRepository = (*SupplierRepository)(nil)
