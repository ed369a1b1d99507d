package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/ai-invoice-intake/internal/allocation"
	"github.com/garyjia/ai-invoice-intake/internal/application/port"
	"github.com/garyjia/ai-invoice-intake/internal/application/service"
	"github.com/garyjia/ai-invoice-intake/internal/domain/entity"
	"github.com/garyjia/ai-invoice-intake/internal/domain/workflow"
)

type mockLogger struct{}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{})  {}
func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {}

type mockIntake struct {
	createBatchFunc func(ctx context.Context, files []service.UploadedFile) (*service.Batch, error)
	getItemFunc     func(ctx context.Context, id int64) (*entity.BatchItem, error)
}

func (m *mockIntake) CreateBatch(ctx context.Context, files []service.UploadedFile) (*service.Batch, error) {
	return m.createBatchFunc(ctx, files)
}

func (m *mockIntake) GetBatch(ctx context.Context, batchID string) (*service.Batch, error) {
	return nil, fmt.Errorf("batch %s: %w", batchID, port.ErrNotFound)
}

func (m *mockIntake) GetItem(ctx context.Context, id int64) (*entity.BatchItem, error) {
	return m.getItemFunc(ctx, id)
}

func (m *mockIntake) Prepare(ctx context.Context, itemID int64) ([]*entity.BatchItem, error) {
	return nil, service.ErrInvalidState
}

func (m *mockIntake) PrepareBatch(ctx context.Context, batchID string) (*service.Batch, error) {
	return &service.Batch{ID: batchID}, nil
}

func (m *mockIntake) ListUploaded(ctx context.Context, limit int) ([]*entity.BatchItem, error) {
	return nil, nil
}

type mockInvoices struct {
	resolveFunc func(ctx context.Context, id int64) (*entity.BatchItem, error)
	stampFunc   func(ctx context.Context, id int64, req service.StampRequest) (*entity.BatchItem, error)
	archiveFunc func(ctx context.Context, batchID string, w io.Writer) error
}

func (m *mockInvoices) ResolveAllocations(ctx context.Context, id int64) (*entity.BatchItem, error) {
	return m.resolveFunc(ctx, id)
}

func (m *mockInvoices) EnterAllocations(ctx context.Context, id int64, entry service.ManualEntry) (*entity.BatchItem, error) {
	if len(entry.Allocations) == 0 {
		return nil, fmt.Errorf("%w: at least one allocation is required", service.ErrValidation)
	}
	return &entity.BatchItem{ID: id, State: workflow.StateAllocationResolved, Allocations: entry.Allocations}, nil
}

func (m *mockInvoices) Stamp(ctx context.Context, id int64, req service.StampRequest) (*entity.BatchItem, error) {
	return m.stampFunc(ctx, id, req)
}

func (m *mockInvoices) Validate(ctx context.Context, id int64) (*entity.BatchItem, error) {
	return nil, fmt.Errorf("%w: item %d is STAMPED", workflow.ErrInvalidTransition, id)
}

func (m *mockInvoices) WriteBatchArchive(ctx context.Context, batchID string, w io.Writer) error {
	return m.archiveFunc(ctx, batchID, w)
}

type mockSuppliers struct {
	created []*entity.Supplier
}

func (m *mockSuppliers) List(ctx context.Context) ([]*entity.Supplier, error) {
	return m.created, nil
}

func (m *mockSuppliers) Get(ctx context.Context, name string) (*entity.Supplier, error) {
	return nil, port.ErrNotFound
}

func (m *mockSuppliers) Create(ctx context.Context, s *entity.Supplier) (*entity.Supplier, error) {
	for _, c := range m.created {
		if strings.EqualFold(c.Name, s.Name) {
			return nil, port.ErrSupplierExists
		}
	}
	m.created = append(m.created, s)
	return s, nil
}

func (m *mockSuppliers) Replace(ctx context.Context, oldName string, s *entity.Supplier) (*entity.Supplier, error) {
	return s, nil
}

func (m *mockSuppliers) Rules(ctx context.Context, name string) ([]entity.AllocationRule, error) {
	return []entity.AllocationRule{}, nil
}

func (m *mockSuppliers) ReplaceRules(ctx context.Context, name string, rules []entity.AllocationRule) ([]entity.AllocationRule, error) {
	return entity.NormalizeRules(rules), nil
}

type mockLedger struct {
	entry   *entity.LedgerEntry
	updated *entity.LedgerEntry
}

func (m *mockLedger) List(ctx context.Context, limit, offset int) ([]*entity.LedgerEntry, error) {
	return []*entity.LedgerEntry{m.entry}, nil
}

func (m *mockLedger) Get(ctx context.Context, id int64) (*entity.LedgerEntry, error) {
	if id != m.entry.ID {
		return nil, port.ErrNotFound
	}
	copied := *m.entry
	return &copied, nil
}

func (m *mockLedger) Update(ctx context.Context, e *entity.LedgerEntry) (*entity.LedgerEntry, error) {
	m.updated = e
	return e, nil
}

func (m *mockLedger) Delete(ctx context.Context, id int64) error {
	if id != m.entry.ID {
		return port.ErrNotFound
	}
	return nil
}

func (m *mockLedger) Export(ctx context.Context, w io.Writer) error {
	_, err := w.Write([]byte("PK-xlsx"))
	return err
}

type testEnv struct {
	router    *gin.Engine
	intake    *mockIntake
	invoices  *mockInvoices
	suppliers *mockSuppliers
	ledger    *mockLedger
}

func newTestEnv() *testEnv {
	gin.SetMode(gin.TestMode)
	env := &testEnv{
		intake: &mockIntake{
			getItemFunc: func(ctx context.Context, id int64) (*entity.BatchItem, error) {
				if id == 1 {
					return &entity.BatchItem{ID: 1, State: workflow.StateIdentityResolved}, nil
				}
				return nil, port.ErrNotFound
			},
		},
		invoices:  &mockInvoices{},
		suppliers: &mockSuppliers{},
		ledger: &mockLedger{entry: &entity.LedgerEntry{
			ID:           3,
			Account:      "601",
			InvoiceDate:  time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
			SupplierName: "ACME Corp",
			Amount:       decimal.RequireFromString("120"),
		}},
	}
	server := NewServer(DefaultServerConfig(), Services{
		Intake:    env.intake,
		Invoices:  env.invoices,
		Suppliers: env.suppliers,
		Ledger:    env.ledger,
	}, &mockLogger{})
	env.router = server.Router()
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, contentType string) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var resp Response
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func (e *testEnv) doJSON(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, Response) {
	return e.do(t, method, path, strings.NewReader(body), "application/json")
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv()
	rec, resp := env.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
}

func TestCreateBatch(t *testing.T) {
	env := newTestEnv()
	var received []string
	env.intake.createBatchFunc = func(ctx context.Context, files []service.UploadedFile) (*service.Batch, error) {
		for _, f := range files {
			data, err := io.ReadAll(f.Content)
			require.NoError(t, err)
			received = append(received, f.Name+"="+string(data))
		}
		return &service.Batch{ID: "b1", Items: []*entity.BatchItem{{ID: 1}, {ID: 2}}}, nil
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, name := range []string{"a.pdf", "b.pdf"} {
		part, err := mw.CreateFormFile(uploadField, name)
		require.NoError(t, err)
		_, err = part.Write([]byte("%PDF " + name))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	rec, resp := env.do(t, http.MethodPost, "/api/batches", &body, mw.FormDataContentType())

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, []string{"a.pdf=%PDF a.pdf", "b.pdf=%PDF b.pdf"}, received)
	assert.Contains(t, rec.Body.String(), `"batch_id":"b1"`)
}

func TestCreateBatchWithoutFiles(t *testing.T) {
	env := newTestEnv()
	rec, resp := env.doJSON(t, http.MethodPost, "/api/batches", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, resp.Success)
}

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{name: "unknown item", method: http.MethodGet, path: "/api/items/9", want: http.StatusNotFound},
		{name: "bad id", method: http.MethodGet, path: "/api/items/abc", want: http.StatusBadRequest},
		{name: "unknown batch", method: http.MethodGet, path: "/api/batches/nope", want: http.StatusNotFound},
		{name: "invalid state", method: http.MethodPost, path: "/api/items/1/prepare", want: http.StatusConflict},
		{name: "invalid transition", method: http.MethodPost, path: "/api/items/1/validate", want: http.StatusConflict},
		{name: "validation", method: http.MethodPut, path: "/api/items/1/allocations", body: `{"allocations":[]}`, want: http.StatusBadRequest},
		{name: "unknown supplier", method: http.MethodGet, path: "/api/suppliers/nobody", want: http.StatusNotFound},
		{name: "unknown ledger entry", method: http.MethodDelete, path: "/api/ledger/99", want: http.StatusNotFound},
		{name: "bad payment method", method: http.MethodPost, path: "/api/items/1/stamp", body: `{"payment_method":"WIRE"}`, want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			rec, resp := env.doJSON(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code)
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestResolveAllocationsFailureReturnsItem(t *testing.T) {
	env := newTestEnv()
	env.invoices.resolveFunc = func(ctx context.Context, id int64) (*entity.BatchItem, error) {
		return &entity.BatchItem{ID: id, State: workflow.StateAllocationFailed},
			fmt.Errorf("%w: timeout", allocation.ErrExtractionFailed)
	}

	rec, resp := env.doJSON(t, http.MethodPost, "/api/items/1/allocations", "")

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.False(t, resp.Success)
	assert.Contains(t, rec.Body.String(), `"state":"ALLOCATION_FAILED"`)
}

func TestResolveAllocationsManualSupplier(t *testing.T) {
	env := newTestEnv()
	env.invoices.resolveFunc = func(ctx context.Context, id int64) (*entity.BatchItem, error) {
		return nil, service.ErrManualEntryRequired
	}

	rec, resp := env.doJSON(t, http.MethodPost, "/api/items/1/allocations", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.NotContains(t, rec.Body.String(), `"data"`)
	assert.Contains(t, resp.Error, "manual entry required")
}

func TestStampParsesPaymentMethod(t *testing.T) {
	env := newTestEnv()
	var got service.StampRequest
	env.invoices.stampFunc = func(ctx context.Context, id int64, req service.StampRequest) (*entity.BatchItem, error) {
		got = req
		return &entity.BatchItem{ID: id, State: workflow.StateStamped}, nil
	}

	rec, resp := env.doJSON(t, http.MethodPost, "/api/items/1/stamp", `{"payment_method":"chèque","detail":"0042"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, entity.PaymentCheque, got.PaymentMethod)
	assert.Equal(t, "0042", got.Detail)
}

func TestDownloadBatchArchive(t *testing.T) {
	t.Run("zip body", func(t *testing.T) {
		env := newTestEnv()
		env.invoices.archiveFunc = func(ctx context.Context, batchID string, w io.Writer) error {
			_, err := w.Write([]byte("PK" + batchID))
			return err
		}
		rec, _ := env.do(t, http.MethodGet, "/api/batches/b1/archive", nil, "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
		assert.Contains(t, rec.Header().Get("Content-Disposition"), "batch_b1.zip")
		assert.Equal(t, "PKb1", rec.Body.String())
	})

	t.Run("nothing validated", func(t *testing.T) {
		env := newTestEnv()
		env.invoices.archiveFunc = func(ctx context.Context, batchID string, w io.Writer) error {
			return fmt.Errorf("no files: %w", port.ErrNotFound)
		}
		rec, resp := env.do(t, http.MethodGet, "/api/batches/b1/archive", nil, "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.False(t, resp.Success)
	})
}

func TestSupplierRoutes(t *testing.T) {
	env := newTestEnv()

	body := `{"name":"ACME Corp","mode":"A","rules":[{"account":"601","rule_text":"total"}]}`
	rec, resp := env.doJSON(t, http.MethodPost, "/api/suppliers", body)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, resp.Success)

	rec, _ = env.doJSON(t, http.MethodPost, "/api/suppliers", body)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = env.doJSON(t, http.MethodPut, "/api/suppliers/ACME%20Corp/rules", `{"rules":[{"account":"602"},{"account":""}]}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"account":"602"`)

	rec, _ = env.doJSON(t, http.MethodGet, "/api/suppliers", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"ACME Corp"`)
}

func TestLedgerRoutes(t *testing.T) {
	env := newTestEnv()

	rec, resp := env.doJSON(t, http.MethodGet, "/api/ledger?limit=10", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)

	rec, _ = env.doJSON(t, http.MethodPut, "/api/ledger/3", `{"amount":"99,90","invoice_date":"01/02/2024"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, env.ledger.updated)
	assert.Equal(t, "99.9", env.ledger.updated.Amount.String())
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), env.ledger.updated.InvoiceDate)
	assert.Equal(t, "601", env.ledger.updated.Account)

	rec, _ = env.doJSON(t, http.MethodPut, "/api/ledger/3", `{"invoice_date":"2024-02-01"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = env.doJSON(t, http.MethodGet, "/api/ledger/-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/ledger/export", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	assert.Equal(t, "PK-xlsx", rec.Body.String())
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("disk full")))
	assert.Equal(t, http.StatusConflict, statusFor(fmt.Errorf("x: %w", service.ErrUnknownSupplier)))
}

func TestServer_StartStop(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := DefaultServerConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	server := NewServer(cfg, Services{}, &mockLogger{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Start(ctx) }()

	// let the listener come up before cancelling
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServer_BodyLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := DefaultServerConfig()
	cfg.MaxUploadBytes = 16
	server := NewServer(cfg, Services{Intake: &mockIntake{}}, &mockLogger{})

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(uploadField, "big.pdf")
	require.NoError(t, err)
	_, err = fw.Write(bytes.Repeat([]byte("x"), 1024))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/batches", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
