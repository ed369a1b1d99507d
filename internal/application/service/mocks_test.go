package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/garyjia/ai-invoice-intake/internal/annotation"
	"github.com/garyjia/ai-invoice-intake/internal/application/port"
	"github.com/garyjia/ai-invoice-intake/internal/domain/entity"
	"github.com/garyjia/ai-invoice-intake/internal/domain/workflow"
)

type mockLogger struct{}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{})  {}
func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {}

// mockTxManager rolls the item repository back when fn fails.
type mockTxManager struct {
	items *memItemRepo
}

func (m *mockTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.items == nil {
		return fn(ctx)
	}
	items, nextID := m.items.snapshot()
	if err := fn(ctx); err != nil {
		m.items.restore(items, nextID)
		return err
	}
	return nil
}

// memItemRepo keeps copies so tests observe only what was persisted.
type memItemRepo struct {
	mu     sync.Mutex
	nextID int64
	items  map[int64]entity.BatchItem
}

func newMemItemRepo() *memItemRepo {
	return &memItemRepo{items: map[int64]entity.BatchItem{}}
}

func (m *memItemRepo) Create(ctx context.Context, item *entity.BatchItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	item.ID = m.nextID
	m.items[item.ID] = *item
	return nil
}

func (m *memItemRepo) GetByID(ctx context.Context, id int64) (*entity.BatchItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return nil, fmt.Errorf("batch item %d: %w", id, port.ErrNotFound)
	}
	return &item, nil
}

func (m *memItemRepo) GetByBatchID(ctx context.Context, batchID string) ([]*entity.BatchItem, error) {
	return m.filter(func(i entity.BatchItem) bool { return i.BatchID == batchID }), nil
}

func (m *memItemRepo) GetByState(ctx context.Context, state workflow.State, limit int) ([]*entity.BatchItem, error) {
	items := m.filter(func(i entity.BatchItem) bool { return i.State == state })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (m *memItemRepo) Update(ctx context.Context, item *entity.BatchItem, from workflow.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.items[item.ID]
	if !ok {
		return fmt.Errorf("batch item %d: %w", item.ID, port.ErrNotFound)
	}
	if stored.State != from {
		return fmt.Errorf("batch item %d is %s: %w", item.ID, stored.State, port.ErrStateConflict)
	}
	m.items[item.ID] = *item
	return nil
}

func (m *memItemRepo) snapshot() (map[int64]entity.BatchItem, int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int64]entity.BatchItem, len(m.items))
	for id, item := range m.items {
		out[id] = item
	}
	return out, m.nextID
}

func (m *memItemRepo) restore(items map[int64]entity.BatchItem, nextID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = items
	m.nextID = nextID
}

// put stores item as is, for arranging test state.
func (m *memItemRepo) put(item *entity.BatchItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.ID] = *item
}

func (m *memItemRepo) filter(keep func(entity.BatchItem) bool) []*entity.BatchItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*entity.BatchItem{}
	for _, item := range m.items {
		if keep(item) {
			item := item
			out = append(out, &item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type memSupplierRepo struct {
	suppliers map[string]*entity.Supplier
}

func newMemSupplierRepo(suppliers ...*entity.Supplier) *memSupplierRepo {
	m := &memSupplierRepo{suppliers: map[string]*entity.Supplier{}}
	for _, s := range suppliers {
		s.Rules = entity.NormalizeRules(s.Rules)
		m.suppliers[strings.ToUpper(s.Name)] = s
	}
	return m
}

func (m *memSupplierRepo) FindRules(ctx context.Context, name string) ([]entity.AllocationRule, error) {
	if s, ok := m.suppliers[strings.ToUpper(name)]; ok {
		return s.Rules, nil
	}
	return []entity.AllocationRule{}, nil
}

func (m *memSupplierRepo) GetByName(ctx context.Context, name string) (*entity.Supplier, error) {
	return m.suppliers[strings.ToUpper(name)], nil
}

func (m *memSupplierRepo) Create(ctx context.Context, s *entity.Supplier) error {
	if _, ok := m.suppliers[strings.ToUpper(s.Name)]; ok {
		return port.ErrSupplierExists
	}
	s.Rules = entity.NormalizeRules(s.Rules)
	m.suppliers[strings.ToUpper(s.Name)] = s
	return nil
}

func (m *memSupplierRepo) ReplaceRules(ctx context.Context, name string, rules []entity.AllocationRule) error {
	s, ok := m.suppliers[strings.ToUpper(name)]
	if !ok {
		return port.ErrNotFound
	}
	s.Rules = entity.NormalizeRules(rules)
	return nil
}

func (m *memSupplierRepo) Replace(ctx context.Context, oldName string, s *entity.Supplier) error {
	if _, ok := m.suppliers[strings.ToUpper(oldName)]; !ok {
		return port.ErrNotFound
	}
	delete(m.suppliers, strings.ToUpper(oldName))
	s.Rules = entity.NormalizeRules(s.Rules)
	m.suppliers[strings.ToUpper(s.Name)] = s
	return nil
}

func (m *memSupplierRepo) List(ctx context.Context) ([]*entity.Supplier, error) {
	out := make([]*entity.Supplier, 0, len(m.suppliers))
	for _, s := range m.suppliers {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type mockLedgerRepo struct {
	entries   []*entity.LedgerEntry
	appendErr error
}

func (m *mockLedgerRepo) Append(ctx context.Context, e *entity.LedgerEntry) error {
	if m.appendErr != nil {
		return m.appendErr
	}
	e.ID = int64(len(m.entries) + 1)
	m.entries = append(m.entries, e)
	return nil
}

func (m *mockLedgerRepo) GetByID(ctx context.Context, id int64) (*entity.LedgerEntry, error) {
	for _, e := range m.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, port.ErrNotFound
}

func (m *mockLedgerRepo) List(ctx context.Context, limit, offset int) ([]*entity.LedgerEntry, error) {
	return m.entries, nil
}

func (m *mockLedgerRepo) Update(ctx context.Context, e *entity.LedgerEntry) error {
	for i, existing := range m.entries {
		if existing.ID == e.ID {
			m.entries[i] = e
			return nil
		}
	}
	return port.ErrNotFound
}

func (m *mockLedgerRepo) Delete(ctx context.Context, id int64) error {
	for i, e := range m.entries {
		if e.ID == id {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			return nil
		}
	}
	return port.ErrNotFound
}

type mockExtractor struct {
	descriptorsFunc func(ctx context.Context, path string, pageCount int) ([]entity.InvoiceDescriptor, error)
	identityFunc    func(ctx context.Context, path string) (entity.InvoiceIdentity, error)
	allocationsFunc func(ctx context.Context, path string, texts []string) (string, error)
	descriptorCalls int
}

func (m *mockExtractor) ExtractInvoiceDescriptors(ctx context.Context, path string, pageCount int) ([]entity.InvoiceDescriptor, error) {
	m.descriptorCalls++
	if m.descriptorsFunc != nil {
		return m.descriptorsFunc(ctx, path, pageCount)
	}
	return nil, nil
}

func (m *mockExtractor) ExtractIdentity(ctx context.Context, path string) (entity.InvoiceIdentity, error) {
	if m.identityFunc != nil {
		return m.identityFunc(ctx, path)
	}
	return entity.InvoiceIdentity{SupplierName: "ACME Corp", Date: "15/01/2024"}, nil
}

func (m *mockExtractor) ExtractAllocations(ctx context.Context, path string, texts []string) (string, error) {
	if m.allocationsFunc != nil {
		return m.allocationsFunc(ctx, path, texts)
	}
	return "[]", nil
}

// dirStorage writes below a temp dir.
type dirStorage struct {
	base string
}

func (d *dirStorage) Save(ctx context.Context, path string, r io.Reader) (string, error) {
	full := d.GetFullPath(path)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return "", err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return full, os.WriteFile(full, data, 0644)
}

func (d *dirStorage) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	return os.Open(d.GetFullPath(path))
}

func (d *dirStorage) Exists(ctx context.Context, path string) bool {
	_, err := os.Stat(d.GetFullPath(path))
	return err == nil
}

func (d *dirStorage) Delete(ctx context.Context, path string) error {
	return os.Remove(d.GetFullPath(path))
}

func (d *dirStorage) GetFullPath(relativePath string) string {
	return filepath.Join(d.base, relativePath)
}

type mockSplitter struct {
	splitFunc func(ctx context.Context, src string, descriptors []entity.InvoiceDescriptor, outDir string) ([]string, error)
}

func (m *mockSplitter) Split(ctx context.Context, src string, descriptors []entity.InvoiceDescriptor, outDir string) ([]string, error) {
	return m.splitFunc(ctx, src, descriptors, outDir)
}

type mockResolver struct {
	resolveFunc func(ctx context.Context, path string, rules []entity.AllocationRule) ([]entity.AllocationLine, error)
}

func (m *mockResolver) Resolve(ctx context.Context, path string, rules []entity.AllocationRule) ([]entity.AllocationLine, error) {
	return m.resolveFunc(ctx, path, rules)
}

// recordingStamper remembers what it was asked to draw and optionally delegates.
type recordingStamper struct {
	next     DocumentStamper
	red      []string
	black    []string
	previous []annotation.Rect
	err      error
}

func (r *recordingStamper) Restamp(ctx context.Context, path, red, black string, previous annotation.Rect) (annotation.Rect, error) {
	r.red = append(r.red, red)
	r.black = append(r.black, black)
	r.previous = append(r.previous, previous)
	if r.err != nil {
		return annotation.Rect{}, r.err
	}
	if r.next != nil {
		return r.next.Restamp(ctx, path, red, black, previous)
	}
	return annotation.Rect{Width: 100, Height: 38}, nil
}

type mockArchiver struct {
	archived  []string
	onArchive func()
}

func (m *mockArchiver) Archive(ctx context.Context, localPath, name string) (string, error) {
	if m.onArchive != nil {
		m.onArchive()
	}
	m.archived = append(m.archived, name)
	return "archive/" + name, nil
}
