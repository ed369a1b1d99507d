package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/ai-invoice-intake/internal/domain/entity"
)

// RulesBody is the body of PUT /api/suppliers/:name/rules
type RulesBody struct {
	Rules []entity.AllocationRule `json:"rules"`
}

// ListSuppliers handles GET /api/suppliers
func (h *Handlers) ListSuppliers(c *gin.Context) {
	suppliers, err := h.suppliers.List(c.Request.Context())
	if err != nil {
		h.fail(c, "failed to list suppliers", err, nil)
		return
	}
	ok(c, suppliers)
}

// GetSupplier handles GET /api/suppliers/:name
func (h *Handlers) GetSupplier(c *gin.Context) {
	supplier, err := h.suppliers.Get(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.fail(c, "failed to get supplier", err, nil)
		return
	}
	ok(c, supplier)
}

// CreateSupplier handles POST /api/suppliers
func (h *Handlers) CreateSupplier(c *gin.Context) {
	var supplier entity.Supplier
	if err := c.ShouldBindJSON(&supplier); err != nil {
		h.badRequest(c, "invalid request body")
		return
	}
	created, err := h.suppliers.Create(c.Request.Context(), &supplier)
	if err != nil {
		h.fail(c, "failed to create supplier", err, nil)
		return
	}
	c.JSON(http.StatusCreated, Response{
		Success: true,
		Data:    created,
	})
}

// ReplaceSupplier handles PUT /api/suppliers/:name
func (h *Handlers) ReplaceSupplier(c *gin.Context) {
	var supplier entity.Supplier
	if err := c.ShouldBindJSON(&supplier); err != nil {
		h.badRequest(c, "invalid request body")
		return
	}
	replaced, err := h.suppliers.Replace(c.Request.Context(), c.Param("name"), &supplier)
	if err != nil {
		h.fail(c, "failed to replace supplier", err, nil)
		return
	}
	ok(c, replaced)
}

// GetRules handles GET /api/suppliers/:name/rules
func (h *Handlers) GetRules(c *gin.Context) {
	rules, err := h.suppliers.Rules(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.fail(c, "failed to get rules", err, nil)
		return
	}
	ok(c, rules)
}

// ReplaceRules handles PUT /api/suppliers/:name/rules
func (h *Handlers) ReplaceRules(c *gin.Context) {
	var body RulesBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badRequest(c, "invalid request body")
		return
	}
	rules, err := h.suppliers.ReplaceRules(c.Request.Context(), c.Param("name"), body.Rules)
	if err != nil {
		h.fail(c, "failed to replace rules", err, nil)
		return
	}
	ok(c, rules)
}
