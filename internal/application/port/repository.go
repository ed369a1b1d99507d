package port

import (
	"context"
	"errors"

	"github.com/garyjia/ai-invoice-intake/internal/domain/entity"
	"github.com/garyjia/ai-invoice-intake/internal/domain/workflow"
)

var (
	// ErrNotFound is returned by updates and deletes that match no row.
	ErrNotFound = errors.New("not found")

	// ErrSupplierExists is returned when creating a supplier whose name is taken.
	ErrSupplierExists = errors.New("supplier already exists")

	// ErrStateConflict is returned when an item is no longer in the state an
	// update was computed from.
	ErrStateConflict = errors.New("item state changed")
)

// SupplierRepository is the allocation rule store.
// Names are matched case-insensitively.
type SupplierRepository interface {
	FindRules(ctx context.Context, supplierName string) ([]entity.AllocationRule, error)
	// GetByName returns nil, nil when the supplier is unknown.
	GetByName(ctx context.Context, name string) (*entity.Supplier, error)
	Create(ctx context.Context, supplier *entity.Supplier) error
	// ReplaceRules clears every slot then writes rules, atomically.
	ReplaceRules(ctx context.Context, supplierName string, rules []entity.AllocationRule) error
	// Replace overwrites the whole record identified by oldName.
	Replace(ctx context.Context, oldName string, supplier *entity.Supplier) error
	List(ctx context.Context) ([]*entity.Supplier, error)
}

// LedgerRepository stores posted accounting lines.
type LedgerRepository interface {
	Append(ctx context.Context, entry *entity.LedgerEntry) error
	GetByID(ctx context.Context, id int64) (*entity.LedgerEntry, error)
	// List returns entries newest invoice date first.
	List(ctx context.Context, limit, offset int) ([]*entity.LedgerEntry, error)
	Update(ctx context.Context, entry *entity.LedgerEntry) error
	Delete(ctx context.Context, id int64) error
}

// BatchItemRepository persists intake items and their lifecycle state.
type BatchItemRepository interface {
	Create(ctx context.Context, item *entity.BatchItem) error
	GetByID(ctx context.Context, id int64) (*entity.BatchItem, error)
	GetByBatchID(ctx context.Context, batchID string) ([]*entity.BatchItem, error)
	GetByState(ctx context.Context, state workflow.State, limit int) ([]*entity.BatchItem, error)
	// Update writes item only while its stored state is still from.
	Update(ctx context.Context, item *entity.BatchItem, from workflow.State) error
}

// TransactionManager runs fn in a transaction carried by the context.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
