package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"docmeta/internal/domain"
	"docmeta/internal/service"
)

// ValidationHandler handles standalone validation and status endpoints.
type ValidationHandler struct {
	extraction service.ExtractionService
}

// NewValidationHandler creates a new ValidationHandler.
func NewValidationHandler(extraction service.ExtractionService) *ValidationHandler {
	return &ValidationHandler{extraction: extraction}
}

// ValidateRequest is the body of POST /api/v1/validate. Fields accepts the
// same loose shapes the remote service returns.
type ValidateRequest struct {
	DocumentType string          `json:"document_type"`
	Fields       json.RawMessage `json:"fields" binding:"required"`
}

// Validate handles POST /api/v1/validate
func (h *ValidationHandler) Validate(c *gin.Context) {
	var req ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "INVALID_REQUEST", "fields is required")
		return
	}
	extracted, err := domain.ParseExtracted(req.Fields)
	if err != nil {
		HandleError(c, err)
		return
	}
	RespondOK(c, h.extraction.ValidateOnly(req.DocumentType, extracted))
}

// Status handles GET /api/v1/status
func (h *ValidationHandler) Status(c *gin.Context) {
	RespondOK(c, h.extraction.Status())
}
