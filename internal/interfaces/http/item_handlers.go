package http

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/ai-invoice-intake/internal/application/service"
	"github.com/garyjia/ai-invoice-intake/internal/domain/entity"
)

// uploadField is the multipart field carrying the PDFs.
const uploadField = "files"

// StampBody is the body of POST /api/items/:id/stamp
type StampBody struct {
	PaymentMethod string `json:"payment_method" binding:"required"`
	Detail        string `json:"detail"`
}

// CreateBatch handles POST /api/batches
func (h *Handlers) CreateBatch(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		h.badRequest(c, "expected a multipart form")
		return
	}
	headers := form.File[uploadField]
	if len(headers) == 0 {
		h.badRequest(c, fmt.Sprintf("no files in field %q", uploadField))
		return
	}

	files := make([]service.UploadedFile, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			h.badRequest(c, "unreadable upload "+fh.Filename)
			return
		}
		defer func(f multipart.File) { _ = f.Close() }(f)
		files = append(files, service.UploadedFile{Name: fh.Filename, Content: f})
	}

	batch, err := h.intake.CreateBatch(c.Request.Context(), files)
	if err != nil {
		h.fail(c, "failed to create batch", err, nil)
		return
	}

	c.JSON(http.StatusCreated, Response{
		Success: true,
		Data:    batch,
	})
}

// GetBatch handles GET /api/batches/:batch_id
func (h *Handlers) GetBatch(c *gin.Context) {
	batch, err := h.intake.GetBatch(c.Request.Context(), c.Param("batch_id"))
	if err != nil {
		h.fail(c, "failed to get batch", err, nil)
		return
	}
	ok(c, batch)
}

// PrepareBatch handles POST /api/batches/:batch_id/prepare
func (h *Handlers) PrepareBatch(c *gin.Context) {
	batch, err := h.intake.PrepareBatch(c.Request.Context(), c.Param("batch_id"))
	if err != nil {
		h.fail(c, "failed to prepare batch", err, nil)
		return
	}
	ok(c, batch)
}

// DownloadBatchArchive handles GET /api/batches/:batch_id/archive
func (h *Handlers) DownloadBatchArchive(c *gin.Context) {
	batchID := c.Param("batch_id")

	var buf bytes.Buffer
	if err := h.invoices.WriteBatchArchive(c.Request.Context(), batchID, &buf); err != nil {
		h.fail(c, "failed to build archive", err, nil)
		return
	}
	attachment(c, fmt.Sprintf("batch_%s.zip", batchID), "application/zip", &buf)
}

// GetItem handles GET /api/items/:id
func (h *Handlers) GetItem(c *gin.Context) {
	id, valid := h.idParam(c)
	if !valid {
		return
	}
	item, err := h.intake.GetItem(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "failed to get item", err, nil)
		return
	}
	ok(c, item)
}

// PrepareItem handles POST /api/items/:id/prepare
func (h *Handlers) PrepareItem(c *gin.Context) {
	id, valid := h.idParam(c)
	if !valid {
		return
	}
	items, err := h.intake.Prepare(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "failed to prepare item", err, nil)
		return
	}
	ok(c, items)
}

// ResolveAllocations handles POST /api/items/:id/allocations
func (h *Handlers) ResolveAllocations(c *gin.Context) {
	id, valid := h.idParam(c)
	if !valid {
		return
	}
	item, err := h.invoices.ResolveAllocations(c.Request.Context(), id)
	if err != nil {
		// The item is returned when it moved to ALLOCATION_FAILED.
		var data interface{}
		if item != nil {
			data = item
		}
		h.fail(c, "failed to resolve allocations", err, data)
		return
	}
	ok(c, item)
}

// EnterAllocations handles PUT /api/items/:id/allocations
func (h *Handlers) EnterAllocations(c *gin.Context) {
	id, valid := h.idParam(c)
	if !valid {
		return
	}
	var entry service.ManualEntry
	if err := c.ShouldBindJSON(&entry); err != nil {
		h.badRequest(c, "invalid request body")
		return
	}
	item, err := h.invoices.EnterAllocations(c.Request.Context(), id, entry)
	if err != nil {
		h.fail(c, "failed to enter allocations", err, nil)
		return
	}
	ok(c, item)
}

// StampItem handles POST /api/items/:id/stamp
func (h *Handlers) StampItem(c *gin.Context) {
	id, valid := h.idParam(c)
	if !valid {
		return
	}
	var body StampBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badRequest(c, "invalid request body")
		return
	}
	method, err := entity.ParsePaymentMethod(body.PaymentMethod)
	if err != nil {
		h.badRequest(c, err.Error())
		return
	}

	item, err := h.invoices.Stamp(c.Request.Context(), id, service.StampRequest{
		PaymentMethod: method,
		Detail:        body.Detail,
	})
	if err != nil {
		h.fail(c, "failed to stamp item", err, nil)
		return
	}
	ok(c, item)
}

// ValidateItem handles POST /api/items/:id/validate
func (h *Handlers) ValidateItem(c *gin.Context) {
	id, valid := h.idParam(c)
	if !valid {
		return
	}
	item, err := h.invoices.Validate(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "failed to validate item", err, nil)
		return
	}
	ok(c, item)
}

func attachment(c *gin.Context, name, contentType string, buf *bytes.Buffer) {
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, contentType, buf.Bytes())
}
