package handler

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"docmeta/internal/domain"
	"docmeta/internal/export"
	"docmeta/internal/service"
)

// RunHandler handles extraction run endpoints.
type RunHandler struct {
	extraction service.ExtractionService
}

// NewRunHandler creates a new RunHandler.
func NewRunHandler(extraction service.ExtractionService) *RunHandler {
	return &RunHandler{extraction: extraction}
}

// CreateRunRequest is the body of POST /api/v1/runs.
type CreateRunRequest struct {
	Bucket       string   `json:"bucket"`
	Keys         []string `json:"keys"`
	Prefix       string   `json:"prefix"`
	DocumentType string   `json:"document_type"`
	Model        string   `json:"model"`
	WriteBack    bool     `json:"write_back"`
	BatchSize    int      `json:"batch_size"`
	MaxWorkers   int      `json:"max_workers"`
	Timeout      string   `json:"timeout"`
}

func (r CreateRunRequest) toInput() (*service.RunInput, error) {
	in := &service.RunInput{
		Bucket:       r.Bucket,
		Keys:         r.Keys,
		Prefix:       r.Prefix,
		DocumentType: r.DocumentType,
		Model:        r.Model,
		WriteBack:    r.WriteBack,
		BatchSize:    r.BatchSize,
		MaxWorkers:   r.MaxWorkers,
	}
	if r.BatchSize < 0 || r.MaxWorkers < 0 {
		return nil, fmt.Errorf("%w: batch_size and max_workers must not be negative", domain.ErrInvalidInput)
	}
	if r.Timeout != "" {
		d, err := time.ParseDuration(r.Timeout)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("%w: timeout must be a positive duration such as \"30s\"", domain.ErrInvalidInput)
		}
		in.Timeout = d
	}
	return in, nil
}

// Create handles POST /api/v1/runs
func (h *RunHandler) Create(c *gin.Context) {
	var req CreateRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}
	input, err := req.toInput()
	if err != nil {
		HandleError(c, err)
		return
	}

	run, err := h.extraction.Run(c.Request.Context(), input)
	if err != nil {
		HandleError(c, err)
		return
	}
	RespondCreated(c, run)
}

// List handles GET /api/v1/runs
func (h *RunHandler) List(c *gin.Context) {
	runs := h.extraction.ListRuns()
	summaries := make([]RunListItem, 0, len(runs))
	for _, r := range runs {
		summaries = append(summaries, RunListItem{
			ID:           r.ID,
			Bucket:       r.Bucket,
			DocumentType: r.DocumentType,
			Status:       r.Status,
			StartedAt:    r.StartedAt,
			FinishedAt:   r.FinishedAt,
			Summary:      r.Summary,
		})
	}
	RespondList(c, summaries, len(summaries))
}

// RunListItem is a run without its items.
type RunListItem struct {
	ID           uuid.UUID          `json:"id"`
	Bucket       string             `json:"bucket"`
	DocumentType string             `json:"document_type,omitempty"`
	Status       domain.RunStatus   `json:"status"`
	StartedAt    time.Time          `json:"started_at"`
	FinishedAt   time.Time          `json:"finished_at"`
	Summary      service.RunSummary `json:"summary"`
}

// Get handles GET /api/v1/runs/:id
func (h *RunHandler) Get(c *gin.Context) {
	run, ok := h.lookup(c)
	if !ok {
		return
	}
	RespondOK(c, run)
}

// Export handles GET /api/v1/runs/:id/export?format=csv|xlsx
func (h *RunHandler) Export(c *gin.Context) {
	run, ok := h.lookup(c)
	if !ok {
		return
	}
	format, err := export.ParseFormat(c.Query("format"))
	if err != nil {
		HandleError(c, err)
		return
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, run, format); err != nil {
		HandleError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, export.BuildFilename(run, format)))
	c.Data(http.StatusOK, format.ContentType(), buf.Bytes())
}

func (h *RunHandler) lookup(c *gin.Context) (*service.Run, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "INVALID_ID", "invalid run ID")
		return nil, false
	}
	run, err := h.extraction.GetRun(id)
	if err != nil {
		HandleError(c, err)
		return nil, false
	}
	return run, true
}
