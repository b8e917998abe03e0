package handler

import (
	"github.com/gin-gonic/gin"

	"docmeta/internal/domain"
	"docmeta/internal/validator"
)

// RulesHandler exposes the loaded validation rules.
type RulesHandler struct {
	rules *validator.Loader
}

// NewRulesHandler creates a new RulesHandler.
func NewRulesHandler(rules *validator.Loader) *RulesHandler {
	return &RulesHandler{rules: rules}
}

// List handles GET /api/v1/rules
func (h *RulesHandler) List(c *gin.Context) {
	doc := h.rules.Document()
	RespondList(c, doc.DocumentTypes, len(doc.DocumentTypes))
}

// Show handles GET /api/v1/rules/:type
func (h *RulesHandler) Show(c *gin.Context) {
	docType := c.Param("type")
	if !h.rules.Has(docType) {
		HandleError(c, domain.ErrUnknownDocumentType)
		return
	}
	RespondOK(c, h.rules.RulesFor(docType))
}

// Reload handles POST /api/v1/rules/reload
func (h *RulesHandler) Reload(c *gin.Context) {
	if err := h.rules.Reload(c.Request.Context()); err != nil {
		HandleError(c, err)
		return
	}
	RespondOK(c, gin.H{
		"source":         h.rules.Source(),
		"document_types": h.rules.DocumentTypes(),
	})
}
