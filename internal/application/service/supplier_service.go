package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/garyjia/ai-invoice-intake/internal/application/port"
	"github.com/garyjia/ai-invoice-intake/internal/domain/entity"
	"github.com/garyjia/ai-invoice-intake/pkg/utils"
)

// SupplierService manages suppliers and their allocation rules
type SupplierService interface {
	List(ctx context.Context) ([]*entity.Supplier, error)
	Get(ctx context.Context, name string) (*entity.Supplier, error)
	Create(ctx context.Context, supplier *entity.Supplier) (*entity.Supplier, error)
	Replace(ctx context.Context, oldName string, supplier *entity.Supplier) (*entity.Supplier, error)
	Rules(ctx context.Context, name string) ([]entity.AllocationRule, error)
	ReplaceRules(ctx context.Context, name string, rules []entity.AllocationRule) ([]entity.AllocationRule, error)
}

type supplierServiceImpl struct {
	suppliers port.SupplierRepository
	logger    Logger
}

// NewSupplierService creates a new SupplierService
func NewSupplierService(suppliers port.SupplierRepository, logger Logger) SupplierService {
	return &supplierServiceImpl{
		suppliers: suppliers,
		logger:    logger,
	}
}

// List returns every supplier
func (s *supplierServiceImpl) List(ctx context.Context) ([]*entity.Supplier, error) {
	suppliers, err := s.suppliers.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list suppliers: %w", err)
	}
	if suppliers == nil {
		suppliers = []*entity.Supplier{}
	}
	return suppliers, nil
}

// Get returns one supplier by case-insensitive name
func (s *supplierServiceImpl) Get(ctx context.Context, name string) (*entity.Supplier, error) {
	supplier, err := s.suppliers.GetByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("get supplier: %w", err)
	}
	if supplier == nil {
		return nil, fmt.Errorf("supplier %s: %w", name, port.ErrNotFound)
	}
	return supplier, nil
}

// Create registers a new supplier
func (s *supplierServiceImpl) Create(ctx context.Context, supplier *entity.Supplier) (*entity.Supplier, error) {
	if err := validateSupplier(supplier); err != nil {
		return nil, err
	}
	if err := s.suppliers.Create(ctx, supplier); err != nil {
		s.logger.Error("Failed to create supplier", "error", err, "name", supplier.Name)
		return nil, err
	}

	s.logger.Info("Supplier created", "name", supplier.Name, "rules", len(supplier.Rules))
	return supplier, nil
}

// Replace overwrites the supplier currently named oldName
func (s *supplierServiceImpl) Replace(ctx context.Context, oldName string, supplier *entity.Supplier) (*entity.Supplier, error) {
	if err := validateSupplier(supplier); err != nil {
		return nil, err
	}
	if err := s.suppliers.Replace(ctx, oldName, supplier); err != nil {
		s.logger.Error("Failed to replace supplier", "error", err, "name", oldName)
		return nil, err
	}

	s.logger.Info("Supplier replaced", "old_name", oldName, "name", supplier.Name)
	return s.Get(ctx, supplier.Name)
}

// Rules returns the supplier's rules. Unknown suppliers have none.
func (s *supplierServiceImpl) Rules(ctx context.Context, name string) ([]entity.AllocationRule, error) {
	return s.suppliers.FindRules(ctx, name)
}

// ReplaceRules clears the supplier's rules and stores the given ones
func (s *supplierServiceImpl) ReplaceRules(ctx context.Context, name string, rules []entity.AllocationRule) ([]entity.AllocationRule, error) {
	if err := validateRules(rules); err != nil {
		return nil, err
	}
	if err := s.suppliers.ReplaceRules(ctx, name, rules); err != nil {
		s.logger.Error("Failed to replace rules", "error", err, "name", name)
		return nil, err
	}

	s.logger.Info("Supplier rules replaced", "name", name, "rules", len(rules))
	return s.suppliers.FindRules(ctx, name)
}

func validateSupplier(supplier *entity.Supplier) error {
	if supplier == nil || strings.TrimSpace(supplier.Name) == "" {
		return validationError("supplier name is required")
	}
	supplier.Name = strings.TrimSpace(supplier.Name)
	if supplier.Mode == "" {
		supplier.Mode = entity.EntryModeAutomatic
	}
	if mode, ok := entity.ParseEntryMode(string(supplier.Mode)); ok {
		supplier.Mode = mode
	} else {
		return validationError("unknown mode %q", supplier.Mode)
	}
	return validateRules(supplier.Rules)
}

func validateRules(rules []entity.AllocationRule) error {
	if len(rules) > entity.MaxAllocationRules {
		return validationError("at most %d rules", entity.MaxAllocationRules)
	}
	for _, r := range rules {
		if strings.TrimSpace(r.Account) == "" {
			if strings.TrimSpace(r.RuleText) != "" {
				return validationError("rule %q has no account", r.RuleText)
			}
			continue
		}
		if err := utils.ValidateAccount(r.Account); err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}
	return nil
}
