package http

import (
	"bytes"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/ai-invoice-intake/pkg/utils"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ListLedgerRequest represents query parameters for listing ledger entries.
// A zero limit returns every entry.
type ListLedgerRequest struct {
	Limit  int `form:"limit"`
	Offset int `form:"offset"`
}

// LedgerEntryBody is the body of PUT /api/ledger/:id. Empty fields keep
// their stored value.
type LedgerEntryBody struct {
	Account        string `json:"account"`
	InvoiceDate    string `json:"invoice_date"`
	SupplierName   string `json:"supplier_name"`
	Amount         string `json:"amount"`
	SourceFilename string `json:"source_filename"`
}

// ListLedger handles GET /api/ledger
func (h *Handlers) ListLedger(c *gin.Context) {
	var req ListLedgerRequest
	if err := c.ShouldBindQuery(&req); err != nil || req.Limit < 0 || req.Offset < 0 {
		h.badRequest(c, "invalid query parameters")
		return
	}
	entries, err := h.ledger.List(c.Request.Context(), req.Limit, req.Offset)
	if err != nil {
		h.fail(c, "failed to list ledger", err, nil)
		return
	}
	ok(c, entries)
}

// GetLedgerEntry handles GET /api/ledger/:id
func (h *Handlers) GetLedgerEntry(c *gin.Context) {
	id, valid := h.idParam(c)
	if !valid {
		return
	}
	entry, err := h.ledger.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "failed to get ledger entry", err, nil)
		return
	}
	ok(c, entry)
}

// UpdateLedgerEntry handles PUT /api/ledger/:id
func (h *Handlers) UpdateLedgerEntry(c *gin.Context) {
	id, valid := h.idParam(c)
	if !valid {
		return
	}
	var body LedgerEntryBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badRequest(c, "invalid request body")
		return
	}

	entry, err := h.ledger.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "failed to get ledger entry", err, nil)
		return
	}
	if v := strings.TrimSpace(body.Account); v != "" {
		entry.Account = v
	}
	if v := strings.TrimSpace(body.SupplierName); v != "" {
		entry.SupplierName = v
	}
	if v := strings.TrimSpace(body.SourceFilename); v != "" {
		entry.SourceFilename = v
	}
	if v := strings.TrimSpace(body.InvoiceDate); v != "" {
		date, parsed := utils.ParseInvoiceDate(v)
		if !parsed {
			h.badRequest(c, "invoice_date must be dd/mm/yyyy")
			return
		}
		entry.InvoiceDate = date
	}
	if v := strings.TrimSpace(body.Amount); v != "" {
		amount, err := utils.ParseAmount(v)
		if err != nil {
			h.badRequest(c, err.Error())
			return
		}
		entry.Amount = amount
	}

	updated, err := h.ledger.Update(c.Request.Context(), entry)
	if err != nil {
		h.fail(c, "failed to update ledger entry", err, nil)
		return
	}
	ok(c, updated)
}

// DeleteLedgerEntry handles DELETE /api/ledger/:id
func (h *Handlers) DeleteLedgerEntry(c *gin.Context) {
	id, valid := h.idParam(c)
	if !valid {
		return
	}
	if err := h.ledger.Delete(c.Request.Context(), id); err != nil {
		h.fail(c, "failed to delete ledger entry", err, nil)
		return
	}
	ok(c, gin.H{"id": id})
}

// ExportLedger handles GET /api/ledger/export
func (h *Handlers) ExportLedger(c *gin.Context) {
	var buf bytes.Buffer
	if err := h.ledger.Export(c.Request.Context(), &buf); err != nil {
		h.fail(c, "failed to export ledger", err, nil)
		return
	}
	attachment(c, "ledger.xlsx", xlsxContentType, &buf)
}
