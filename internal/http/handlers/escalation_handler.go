// Agent-facing endpoints: the escalation queue listing and the per-session
// interaction log agents pull when picking up a handoff.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/finvola/go-support-backend/internal/domain"
	"github.com/finvola/go-support-backend/internal/repo"
	"github.com/finvola/go-support-backend/internal/utils"
)

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListEscalationsResponse wraps a page of escalation records.
type ListEscalationsResponse struct {
	Escalations []domain.EscalationRecord `json:"escalations"`
	Pagination  Pagination                `json:"pagination"`
}

// SessionHistoryResponse wraps one session's interaction log.
type SessionHistoryResponse struct {
	SessionID    string                   `json:"session_id"`
	Interactions []domain.ChatInteraction `json:"interactions"`
}

// clampPagination parses and bounds page and page_size query params.
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// ListEscalations handles GET /api/v1/escalations. Supports an optional
// ?status= filter (pending, in_progress, resolved) and pagination.
func (h *Handlers) ListEscalations(c *gin.Context) {
	ctx := c.Request.Context()
	status := c.Query("status")
	switch status {
	case "", domain.EscalationPending, domain.EscalationInProgress, domain.EscalationResolved:
	default:
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown status filter")
		return
	}
	page, pageSize := clampPagination(c)

	total, err := repo.CountEscalations(ctx, h.db, status)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	items, err := repo.ListEscalationsPage(ctx, h.db, status, (page-1)*pageSize, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListEscalationsResponse{
		Escalations: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// SessionHistory handles GET /api/v1/sessions/:id/history, returning the
// durable interaction log oldest-first.
func (h *Handlers) SessionHistory(c *gin.Context) {
	sessionID := c.Param("id")
	rows, err := repo.GetSessionHistory(c.Request.Context(), h.db, sessionID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	if len(rows) == 0 {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
		return
	}
	ok(c, http.StatusOK, SessionHistoryResponse{SessionID: sessionID, Interactions: rows})
}
