// Package handler provides the memvault HTTP handlers.
package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kart-io/memvault/internal/memvault/biz"
	"github.com/kart-io/memvault/internal/memvault/metrics"
	"github.com/kart-io/memvault/internal/memvault/model"
	"github.com/kart-io/memvault/internal/memvault/store"
)

// Handler handles memvault HTTP requests.
type Handler struct {
	service *biz.Service
	metrics *metrics.Metrics
}

// New creates a Handler.
func New(service *biz.Service, m *metrics.Metrics) *Handler {
	return &Handler{service: service, metrics: m}
}

// SuccessResponse is a standard success response.
type SuccessResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ErrorResponse is a standard error response.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if se, ok := store.GetStorageError(err); ok {
		switch {
		// Expiry wraps the validation sentinel, so it must be matched first
		// to keep its more specific status.
		case errors.Is(se, store.ErrRollbackExpired):
			status = http.StatusGone
		case errors.Is(se, store.ErrValidation):
			status = http.StatusBadRequest
		case errors.Is(se, store.ErrNotFound):
			status = http.StatusNotFound
		case errors.Is(se, store.ErrPoolExhausted),
			errors.Is(se, store.ErrPoolClosed),
			errors.Is(se, store.ErrConnectionFailed),
			errors.Is(se, store.ErrConnUnhealthy):
			status = http.StatusServiceUnavailable
		}
	}
	c.JSON(status, ErrorResponse{Code: status, Message: err.Error()})
}

func respond(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, SuccessResponse{Code: 0, Message: message, Data: data})
}

// StoreRequest is the body of POST /v1/records.
type StoreRequest struct {
	Content    string         `json:"content" binding:"required"`
	Category   string         `json:"category"`
	Project    string         `json:"project"`
	Tags       []string       `json:"tags"`
	Metadata   model.Metadata `json:"metadata"`
	Importance float64        `json:"importance"`
}

// Store creates a record.
func (h *Handler) Store(c *gin.Context) {
	var req StoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: 400, Message: err.Error()})
		return
	}

	start := time.Now()
	rec, err := h.service.Store(c.Request.Context(), &model.Record{
		Content:    req.Content,
		Category:   req.Category,
		Project:    req.Project,
		Tags:       req.Tags,
		Metadata:   req.Metadata,
		Importance: req.Importance,
	})
	h.metrics.Record(metrics.OpStore, time.Since(start), err)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, SuccessResponse{Code: 0, Message: "record stored", Data: rec})
}

// Retrieve returns one live record.
func (h *Handler) Retrieve(c *gin.Context) {
	start := time.Now()
	rec, err := h.service.Get(c.Request.Context(), c.Param("id"))
	h.metrics.Record(metrics.OpRetrieve, time.Since(start), err)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, "ok", rec)
}

// Update applies a partial update.
func (h *Handler) Update(c *gin.Context) {
	var req store.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: 400, Message: err.Error()})
		return
	}

	start := time.Now()
	rec, err := h.service.Update(c.Request.Context(), c.Param("id"), req)
	h.metrics.Record(metrics.OpUpdate, time.Since(start), err)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, "record updated", rec)
}

// DeleteResponse carries the rollback token of a deletion.
type DeleteResponse struct {
	RollbackToken string `json:"rollback_token"`
}

// Delete soft-deletes one record.
func (h *Handler) Delete(c *gin.Context) {
	start := time.Now()
	token, err := h.service.Delete(c.Request.Context(), c.Param("id"),
		c.Query("deleted_by"), c.Query("reason"))
	h.metrics.Record(metrics.OpDelete, time.Since(start), err)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, "record deleted", DeleteResponse{RollbackToken: token})
}

// List returns records matching query filters.
func (h *Handler) List(c *gin.Context) {
	filters := model.ListFilters{
		Category: c.Query("category"),
		Project:  c.Query("project"),
	}
	if tags := c.Query("tags"); tags != "" {
		filters.Tags = strings.Split(tags, ",")
	}
	if v := c.Query("min_importance"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Code: 400, Message: "invalid min_importance"})
			return
		}
		filters.MinImportance = f
	}
	filters.IncludeDeleted = c.Query("include_deleted") == "true"
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Code: 400, Message: "invalid limit"})
			return
		}
		filters.Limit = n
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Code: 400, Message: "invalid offset"})
			return
		}
		filters.Offset = n
	}

	start := time.Now()
	recs, err := h.service.List(c.Request.Context(), filters)
	h.metrics.Record(metrics.OpList, time.Since(start), err)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, "ok", gin.H{"records": recs, "count": len(recs)})
}

// BulkFilterRequest is the filter section of bulk requests.
type BulkFilterRequest struct {
	Category  string    `json:"category"`
	Project   string    `json:"project"`
	Tags      []string  `json:"tags"`
	OlderThan time.Time `json:"older_than"`
	MaxCount  int       `json:"max_count"`
}

func (r BulkFilterRequest) filter() model.BulkFilter {
	return model.BulkFilter{
		Category:  r.Category,
		Project:   r.Project,
		Tags:      r.Tags,
		OlderThan: r.OlderThan,
		MaxCount:  r.MaxCount,
	}
}

// BulkPreview reports what a bulk delete would remove.
func (h *Handler) BulkPreview(c *gin.Context) {
	var req BulkFilterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: 400, Message: err.Error()})
		return
	}

	start := time.Now()
	preview, err := h.service.BulkPreview(c.Request.Context(), req.filter())
	h.metrics.Record(metrics.OpBulkPreview, time.Since(start), err)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, "ok", preview)
}

// BulkExecuteRequest is the body of POST /v1/bulk/execute.
type BulkExecuteRequest struct {
	BulkFilterRequest
	DryRun         bool   `json:"dry_run"`
	Confirmed      bool   `json:"confirmed"`
	EnableRollback bool   `json:"enable_rollback"`
	DeletedBy      string `json:"deleted_by"`
	Reason         string `json:"reason"`
}

// BulkExecute runs a bulk delete.
func (h *Handler) BulkExecute(c *gin.Context) {
	var req BulkExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: 400, Message: err.Error()})
		return
	}

	start := time.Now()
	result, err := h.service.BulkExecute(c.Request.Context(), req.filter(), biz.ExecuteOptions{
		DryRun:         req.DryRun,
		Confirmed:      req.Confirmed,
		EnableRollback: req.EnableRollback,
		DeletedBy:      req.DeletedBy,
		Reason:         req.Reason,
	})
	h.metrics.Record(metrics.OpBulkExecute, time.Since(start), err)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, "bulk delete finished", result)
}

// Rollback restores the records deleted under a token. dry_run and
// skip_age_check query parameters map onto the restore options.
func (h *Handler) Rollback(c *gin.Context) {
	opts := biz.RestoreOptions{
		DryRun:       c.Query("dry_run") == "true",
		SkipAgeCheck: c.Query("skip_age_check") == "true",
	}

	start := time.Now()
	result, err := h.service.Rollback(c.Request.Context(), c.Param("token"), opts)
	h.metrics.Record(metrics.OpRollback, time.Since(start), err)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, "rollback finished", result)
}

// Sweep runs a retention sweep immediately.
func (h *Handler) Sweep(c *gin.Context) {
	start := time.Now()
	result, err := h.service.Sweep(c.Request.Context())
	h.metrics.Record(metrics.OpSweep, time.Since(start), err)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, "sweep finished", result)
}

// Stats exposes pool, backend, cache and operation statistics.
func (h *Handler) Stats(c *gin.Context) {
	stats := h.service.Stats(c.Request.Context())
	respond(c, "ok", gin.H{
		"service":    stats,
		"operations": h.metrics.Snapshot(),
	})
}

// Healthz is the liveness endpoint.
func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
