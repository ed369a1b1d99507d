package service

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/ai-invoice-intake/internal/allocation"
	"github.com/garyjia/ai-invoice-intake/internal/annotation"
	"github.com/garyjia/ai-invoice-intake/internal/application/port"
	"github.com/garyjia/ai-invoice-intake/internal/domain/entity"
	"github.com/garyjia/ai-invoice-intake/internal/domain/workflow"
	"github.com/garyjia/ai-invoice-intake/internal/invoice"
	"github.com/garyjia/ai-invoice-intake/internal/testutil"
)

type invoiceFixture struct {
	svc       *invoiceServiceImpl
	items     *memItemRepo
	suppliers *memSupplierRepo
	ledger    *mockLedgerRepo
	extractor *mockExtractor
	stamper   *recordingStamper
	archiver  *mockArchiver
	dir       string
}

func newInvoiceFixture(t *testing.T, suppliers ...*entity.Supplier) *invoiceFixture {
	t.Helper()
	dir := t.TempDir()
	f := &invoiceFixture{
		items:     newMemItemRepo(),
		suppliers: newMemSupplierRepo(suppliers...),
		ledger:    &mockLedgerRepo{},
		extractor: &mockExtractor{},
		stamper:   &recordingStamper{next: annotation.NewStamper(zap.NewNop())},
		archiver:  &mockArchiver{},
		dir:       dir,
	}
	svc := NewInvoiceService(
		f.items,
		f.suppliers,
		f.ledger,
		allocation.NewResolver(f.extractor, time.Second, zap.NewNop()),
		f.stamper,
		invoice.NewCompressor(false, zap.NewNop()),
		f.archiver,
		&mockTxManager{items: f.items},
		InvoiceConfig{ReadyDir: filepath.Join(dir, "ready")},
		&mockLogger{},
	).(*invoiceServiceImpl)
	svc.now = func() time.Time { return time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC) }
	f.svc = svc
	return f
}

// addItem stores a one-page invoice in the given state.
func (f *invoiceFixture) addItem(t *testing.T, state workflow.State, supplier, date string) *entity.BatchItem {
	t.Helper()
	path := testutil.WritePDF(t, f.dir, "invoice.pdf", 1)
	item := &entity.BatchItem{
		BatchID:      "batch-1",
		FileName:     "invoice.pdf",
		FilePath:     path,
		PageCount:    1,
		State:        state,
		SupplierName: supplier,
		InvoiceDate:  date,
	}
	require.NoError(t, f.items.Create(context.Background(), item))
	return item
}

func acme() *entity.Supplier {
	return &entity.Supplier{
		Name: "ACME Corp",
		Mode: entity.EntryModeAutomatic,
		Rules: []entity.AllocationRule{
			{Account: "601", RuleText: "total excluding VAT"},
		},
	}
}

func TestInvoiceService_EndToEnd(t *testing.T) {
	f := newInvoiceFixture(t, acme())
	f.extractor.allocationsFunc = func(ctx context.Context, path string, texts []string) (string, error) {
		assert.Equal(t, []string{"total excluding VAT"}, texts)
		return `("120.00",)`, nil
	}
	splitter := &mockSplitter{
		splitFunc: func(ctx context.Context, src string, descriptors []entity.InvoiceDescriptor, outDir string) ([]string, error) {
			t.Errorf("single-page upload was split into %d parts", len(descriptors))
			return nil, errors.New("unexpected split")
		},
	}
	intake := NewIntakeService(
		f.items,
		&dirStorage{base: filepath.Join(f.dir, "uploads")},
		f.extractor,
		splitter,
		invoice.PageCount,
		&mockTxManager{items: f.items},
		IntakeConfig{SplitDir: filepath.Join(f.dir, "split"), OverlapPolicy: invoice.OverlapReject},
		&mockLogger{},
	)
	ctx := context.Background()

	upload, err := os.Open(testutil.WritePDF(t, f.dir, "scan.pdf", 1))
	require.NoError(t, err)
	defer upload.Close()
	batch, err := intake.CreateBatch(ctx, []UploadedFile{{Name: "invoice.pdf", Content: upload}})
	require.NoError(t, err)
	require.Len(t, batch.Items, 1)
	assert.Equal(t, 1, batch.Items[0].PageCount)

	prepared, err := intake.Prepare(ctx, batch.Items[0].ID)
	require.NoError(t, err)
	require.Len(t, prepared, 1)
	item := prepared[0]
	assert.Equal(t, workflow.StateIdentityResolved, item.State)
	assert.Equal(t, "ACME Corp", item.SupplierName)
	assert.Equal(t, "15/01/2024", item.InvoiceDate)
	assert.Zero(t, f.extractor.descriptorCalls)

	resolved, err := f.svc.ResolveAllocations(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StateAllocationResolved, resolved.State)
	assert.Equal(t, []entity.AllocationLine{{Account: "601", Value: "120.00"}}, resolved.Allocations)

	stamped, err := f.svc.Stamp(ctx, item.ID, StampRequest{PaymentMethod: entity.PaymentCB})
	require.NoError(t, err)
	assert.Equal(t, workflow.StateStamped, stamped.State)
	require.Len(t, f.stamper.red, 1)
	assert.Equal(t, " ACME CORP\n - 601 : 120.00", f.stamper.red[0])
	assert.Equal(t, " -> CB", f.stamper.black[0])
	assert.True(t, f.stamper.previous[0].IsZero())
	assert.Positive(t, stamped.StampWidth)
	assert.Positive(t, stamped.StampHeight)

	validated, err := f.svc.Validate(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StateArchived, validated.State)
	assert.Equal(t, filepath.Join(f.dir, "ready", "ACME Corp_15-01-2024.pdf"), validated.FinalPath)
	assert.Equal(t, 1, testutil.PageCount(t, validated.FinalPath))
	assert.Equal(t, []string{"ACME Corp_15-01-2024.pdf"}, f.archiver.archived)
	assert.Equal(t, "archive/ACME Corp_15-01-2024.pdf", validated.ArchivePath)

	require.Len(t, f.ledger.entries, 1)
	entry := f.ledger.entries[0]
	assert.Equal(t, "601", entry.Account)
	assert.Equal(t, "ACME Corp", entry.SupplierName)
	assert.True(t, entry.Amount.Equal(decimal.RequireFromString("120")))
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), entry.InvoiceDate)
	assert.Equal(t, "ACME Corp_15-01-2024.pdf", entry.SourceFilename)

	var buf bytes.Buffer
	require.NoError(t, f.svc.WriteBatchArchive(ctx, batch.ID, &buf))
	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	assert.Equal(t, "ACME Corp_15-01-2024.pdf", zr.File[0].Name)
}

func TestInvoiceService_ValidateRunsOnce(t *testing.T) {
	t.Run("claimed item is rejected", func(t *testing.T) {
		f := newInvoiceFixture(t)
		item := f.addItem(t, workflow.StateStamped, "ACME Corp", "15/01/2024")
		item.Allocations = []entity.AllocationLine{{Account: "601", Value: "120.00"}}
		require.NoError(t, f.items.Update(context.Background(), item, item.State))

		release, err := f.svc.claims.acquire(item.ID)
		require.NoError(t, err)
		_, err = f.svc.Validate(context.Background(), item.ID)
		assert.ErrorIs(t, err, ErrInvalidState)
		assert.Empty(t, f.ledger.entries)

		release()
		_, err = f.svc.Validate(context.Background(), item.ID)
		require.NoError(t, err)
		assert.Len(t, f.ledger.entries, 1)
	})

	t.Run("state changed during archive posts nothing", func(t *testing.T) {
		f := newInvoiceFixture(t)
		item := f.addItem(t, workflow.StateStamped, "ACME Corp", "15/01/2024")
		item.Allocations = []entity.AllocationLine{{Account: "601", Value: "120.00"}}
		require.NoError(t, f.items.Update(context.Background(), item, item.State))

		f.archiver.onArchive = func() {
			done := *item
			done.State = workflow.StateArchived
			f.items.put(&done)
		}

		_, err := f.svc.Validate(context.Background(), item.ID)
		assert.ErrorIs(t, err, ErrInvalidState)
		assert.Empty(t, f.ledger.entries)
	})
}

func TestInvoiceService_ResolveAllocationsFailure(t *testing.T) {
	tests := []struct {
		name     string
		response string
		err      error
	}{
		{name: "service error", err: errors.New("timeout")},
		{name: "wrong arity", response: `["1", "2"]`},
		{name: "prose", response: "The total is 120"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newInvoiceFixture(t, acme())
			f.extractor.allocationsFunc = func(ctx context.Context, path string, texts []string) (string, error) {
				return tt.response, tt.err
			}
			item := f.addItem(t, workflow.StateIdentityResolved, "ACME Corp", "15/01/2024")

			got, err := f.svc.ResolveAllocations(context.Background(), item.ID)
			assert.ErrorIs(t, err, allocation.ErrExtractionFailed)
			require.NotNil(t, got)
			assert.Equal(t, workflow.StateAllocationFailed, got.State)

			stored, err := f.items.GetByID(context.Background(), item.ID)
			require.NoError(t, err)
			assert.Equal(t, workflow.StateAllocationFailed, stored.State)
			assert.NotEmpty(t, stored.ErrorMessage)
		})
	}
}

func TestInvoiceService_ResolveAllocationsSupplierChecks(t *testing.T) {
	manual := &entity.Supplier{Name: "Handmade", Mode: entity.EntryModeManual, Rules: []entity.AllocationRule{{Account: "606"}}}
	tests := []struct {
		name     string
		supplier string
		state    workflow.State
		wantErr  error
	}{
		{name: "unknown supplier", supplier: "Nobody", state: workflow.StateIdentityResolved, wantErr: ErrUnknownSupplier},
		{name: "manual supplier", supplier: "handmade", state: workflow.StateIdentityResolved, wantErr: ErrManualEntryRequired},
		{name: "wrong state", supplier: "ACME Corp", state: workflow.StateUploaded, wantErr: ErrInvalidState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newInvoiceFixture(t, acme(), manual)
			item := f.addItem(t, tt.state, tt.supplier, "")

			_, err := f.svc.ResolveAllocations(context.Background(), item.ID)
			assert.ErrorIs(t, err, tt.wantErr)

			stored, err := f.items.GetByID(context.Background(), item.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.state, stored.State)
		})
	}
}

func TestInvoiceService_ResolveMixedRules(t *testing.T) {
	supplier := &entity.Supplier{
		Name: "Mixed",
		Mode: entity.EntryModeAutomatic,
		Rules: []entity.AllocationRule{
			{Account: "601", RuleText: "goods"},
			{Account: "445"},
			{Account: "624", RuleText: "shipping"},
		},
	}
	f := newInvoiceFixture(t, supplier)
	f.extractor.allocationsFunc = func(ctx context.Context, path string, texts []string) (string, error) {
		assert.Equal(t, []string{"goods", "shipping"}, texts)
		return `("100.00", "8.50")`, nil
	}
	item := f.addItem(t, workflow.StateIdentityResolved, "Mixed", "")

	got, err := f.svc.ResolveAllocations(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, []entity.AllocationLine{
		{Account: "601", Value: "100.00"},
		{Account: "445", Value: ""},
		{Account: "624", Value: "8.50"},
	}, got.Allocations)
}

func TestInvoiceService_EnterAllocations(t *testing.T) {
	f := newInvoiceFixture(t)
	item := f.addItem(t, workflow.StateAllocationFailed, "New Shop", "")

	got, err := f.svc.EnterAllocations(context.Background(), item.ID, ManualEntry{
		Allocations: []entity.AllocationLine{
			{Account: " 606 ", Value: "12,50"},
			{Account: "445", Value: ""},
		},
		InvoiceDate:  "03/04/2024",
		SaveAccounts: true,
	})
	require.NoError(t, err)

	assert.Equal(t, workflow.StateAllocationResolved, got.State)
	assert.Equal(t, "03/04/2024", got.InvoiceDate)
	assert.Equal(t, []entity.AllocationLine{{Account: "606", Value: "12,50"}, {Account: "445"}}, got.Allocations)

	saved, err := f.suppliers.GetByName(context.Background(), "new shop")
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, entity.EntryModeManual, saved.Mode)
	assert.Equal(t, []entity.AllocationRule{{Slot: 1, Account: "606"}, {Slot: 2, Account: "445"}}, saved.Rules)
}

func TestInvoiceService_EnterAllocationsReplacesRules(t *testing.T) {
	f := newInvoiceFixture(t, acme())
	item := f.addItem(t, workflow.StateIdentityResolved, "ACME Corp", "")

	_, err := f.svc.EnterAllocations(context.Background(), item.ID, ManualEntry{
		Allocations:  []entity.AllocationLine{{Account: "602", Value: "5"}},
		SaveAccounts: true,
	})
	require.NoError(t, err)

	saved, err := f.suppliers.GetByName(context.Background(), "ACME Corp")
	require.NoError(t, err)
	assert.Equal(t, entity.EntryModeAutomatic, saved.Mode)
	assert.Equal(t, []entity.AllocationRule{{Slot: 1, Account: "602"}}, saved.Rules)
}

func TestInvoiceService_EnterAllocationsValidation(t *testing.T) {
	seven := make([]entity.AllocationLine, 7)
	for i := range seven {
		seven[i] = entity.AllocationLine{Account: "601", Value: "1"}
	}
	tests := []struct {
		name  string
		entry ManualEntry
	}{
		{name: "empty", entry: ManualEntry{}},
		{name: "too many", entry: ManualEntry{Allocations: seven}},
		{name: "bad account", entry: ManualEntry{Allocations: []entity.AllocationLine{{Account: "60-1", Value: "1"}}}},
		{name: "bad amount", entry: ManualEntry{Allocations: []entity.AllocationLine{{Account: "601", Value: "abc"}}}},
		{name: "bad date", entry: ManualEntry{
			Allocations: []entity.AllocationLine{{Account: "601", Value: "1"}},
			InvoiceDate: "2024-01-15",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newInvoiceFixture(t)
			item := f.addItem(t, workflow.StateIdentityResolved, "ACME Corp", "")

			_, err := f.svc.EnterAllocations(context.Background(), item.ID, tt.entry)
			assert.ErrorIs(t, err, ErrValidation)

			stored, err := f.items.GetByID(context.Background(), item.ID)
			require.NoError(t, err)
			assert.Equal(t, workflow.StateIdentityResolved, stored.State)
		})
	}
}

func TestInvoiceService_StampValidation(t *testing.T) {
	tests := []struct {
		name string
		req  StampRequest
	}{
		{name: "unknown method", req: StampRequest{PaymentMethod: "WIRE"}},
		{name: "comment without text", req: StampRequest{PaymentMethod: entity.PaymentComment, Detail: "  "}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newInvoiceFixture(t)
			item := f.addItem(t, workflow.StateAllocationResolved, "ACME Corp", "")

			_, err := f.svc.Stamp(context.Background(), item.ID, tt.req)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Empty(t, f.stamper.red)
		})
	}
}

func TestInvoiceService_RestampCoversPrevious(t *testing.T) {
	f := newInvoiceFixture(t)
	f.stamper.next = nil
	item := f.addItem(t, workflow.StateAllocationResolved, "ACME Corp", "")
	item.Allocations = []entity.AllocationLine{{Account: "601", Value: "120.00"}}
	require.NoError(t, f.items.Update(context.Background(), item, item.State))
	ctx := context.Background()

	_, err := f.svc.Stamp(ctx, item.ID, StampRequest{PaymentMethod: entity.PaymentCheque, Detail: "0042"})
	require.NoError(t, err)
	got, err := f.svc.Stamp(ctx, item.ID, StampRequest{PaymentMethod: entity.PaymentComment, Detail: "paid in cash"})
	require.NoError(t, err)

	require.Len(t, f.stamper.previous, 2)
	assert.True(t, f.stamper.previous[0].IsZero())
	assert.Equal(t, annotation.Rect{Width: 100, Height: 38}, f.stamper.previous[1])
	assert.Equal(t, " -> Chèque n° : 0042", f.stamper.black[0])
	assert.Equal(t, " -> paid in cash", f.stamper.black[1])
	assert.Equal(t, workflow.StateStamped, got.State)
	assert.Equal(t, entity.PaymentComment, got.PaymentMethod)
	assert.Equal(t, "paid in cash", got.PaymentDetail)
}

func TestInvoiceService_StampFailureKeepsState(t *testing.T) {
	f := newInvoiceFixture(t)
	f.stamper.err = annotation.ErrStampFailed
	item := f.addItem(t, workflow.StateAllocationResolved, "ACME Corp", "")

	_, err := f.svc.Stamp(context.Background(), item.ID, StampRequest{PaymentMethod: entity.PaymentBAP})
	assert.ErrorIs(t, err, annotation.ErrStampFailed)

	stored, err := f.items.GetByID(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StateAllocationResolved, stored.State)
}

func TestInvoiceService_Validate(t *testing.T) {
	t.Run("dates default to today and empty values are skipped", func(t *testing.T) {
		f := newInvoiceFixture(t)
		item := f.addItem(t, workflow.StateStamped, "Shop/Name?", "")
		item.Allocations = []entity.AllocationLine{{Account: "601", Value: "10,5"}, {Account: "445"}}
		require.NoError(t, f.items.Update(context.Background(), item, item.State))

		got, err := f.svc.Validate(context.Background(), item.ID)
		require.NoError(t, err)

		assert.Equal(t, "ShopName_02-05-2024.pdf", filepath.Base(got.FinalPath))
		require.Len(t, f.ledger.entries, 1)
		assert.Equal(t, "10.5", f.ledger.entries[0].Amount.String())
		assert.Equal(t, time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC), f.ledger.entries[0].InvoiceDate)
	})

	t.Run("requires a stamp", func(t *testing.T) {
		f := newInvoiceFixture(t)
		item := f.addItem(t, workflow.StateAllocationResolved, "ACME Corp", "")

		_, err := f.svc.Validate(context.Background(), item.ID)
		assert.ErrorIs(t, err, ErrInvalidState)
		assert.NoFileExists(t, filepath.Join(f.dir, "ready", "ACME Corp_02-05-2024.pdf"))
	})

	t.Run("invalid amount posts nothing", func(t *testing.T) {
		f := newInvoiceFixture(t)
		item := f.addItem(t, workflow.StateStamped, "ACME Corp", "")
		item.Allocations = []entity.AllocationLine{{Account: "601", Value: "twelve"}}
		require.NoError(t, f.items.Update(context.Background(), item, item.State))

		_, err := f.svc.Validate(context.Background(), item.ID)
		assert.ErrorIs(t, err, ErrValidation)
		assert.Empty(t, f.ledger.entries)
		assert.Empty(t, f.archiver.archived)
	})

	t.Run("ledger failure leaves item stamped", func(t *testing.T) {
		f := newInvoiceFixture(t)
		f.ledger.appendErr = errors.New("database is locked")
		item := f.addItem(t, workflow.StateStamped, "ACME Corp", "")
		item.Allocations = []entity.AllocationLine{{Account: "601", Value: "1"}}
		require.NoError(t, f.items.Update(context.Background(), item, item.State))

		_, err := f.svc.Validate(context.Background(), item.ID)
		require.Error(t, err)

		stored, err := f.items.GetByID(context.Background(), item.ID)
		require.NoError(t, err)
		assert.Equal(t, workflow.StateStamped, stored.State)
	})
}

func TestInvoiceService_WriteBatchArchiveEmpty(t *testing.T) {
	f := newInvoiceFixture(t)
	f.addItem(t, workflow.StateStamped, "ACME Corp", "")

	var buf bytes.Buffer
	err := f.svc.WriteBatchArchive(context.Background(), "batch-1", &buf)
	assert.ErrorIs(t, err, port.ErrNotFound)
}
