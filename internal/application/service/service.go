// Package service holds the application use cases of the intake pipeline.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/garyjia/ai-invoice-intake/internal/application/port"
	"github.com/garyjia/ai-invoice-intake/internal/domain/entity"
	"github.com/garyjia/ai-invoice-intake/internal/domain/workflow"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

var (
	// ErrInvalidState is returned when an operation does not apply to the item's current state.
	ErrInvalidState = errors.New("invalid item state")

	// ErrValidation is returned for rejected input.
	ErrValidation = errors.New("validation failed")

	// ErrManualEntryRequired is returned when the supplier's allocations are typed by hand.
	ErrManualEntryRequired = errors.New("manual entry required")

	// ErrUnknownSupplier is returned when no rules exist for the item's supplier.
	ErrUnknownSupplier = errors.New("supplier not registered")
)

// fire moves item through its lifecycle.
func fire(ctx context.Context, item *entity.BatchItem, trigger workflow.Trigger) error {
	sm := workflow.NewItemStateMachine(item.State)
	if err := sm.Fire(ctx, trigger); err != nil {
		return fmt.Errorf("%w: item %d: %w", ErrInvalidState, item.ID, err)
	}
	item.State = sm.State()
	return nil
}

// canFire reports whether trigger applies to item without changing it.
func canFire(item *entity.BatchItem, trigger workflow.Trigger) error {
	if !workflow.NewItemStateMachine(item.State).CanFire(trigger) {
		return fmt.Errorf("%w: item %d is %s, cannot %s", ErrInvalidState, item.ID, item.State, trigger)
	}
	return nil
}

// saveItem persists item if it is still in state from. A concurrent change
// is reported as ErrInvalidState.
func saveItem(ctx context.Context, items port.BatchItemRepository, item *entity.BatchItem, from workflow.State) error {
	err := items.Update(ctx, item, from)
	if errors.Is(err, port.ErrStateConflict) {
		return fmt.Errorf("%w: %w", ErrInvalidState, err)
	}
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

// itemClaims marks items with an operation in flight in this process.
// The zero value is ready to use.
type itemClaims struct {
	mu  sync.Mutex
	ids map[int64]struct{}
}

// acquire claims id and returns its release func, or ErrInvalidState if
// another operation holds it.
func (c *itemClaims) acquire(id int64) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ids == nil {
		c.ids = make(map[int64]struct{})
	}
	if _, busy := c.ids[id]; busy {
		return nil, fmt.Errorf("%w: item %d is being processed", ErrInvalidState, id)
	}
	c.ids[id] = struct{}{}
	return func() {
		c.mu.Lock()
		delete(c.ids, id)
		c.mu.Unlock()
	}, nil
}

func validationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
