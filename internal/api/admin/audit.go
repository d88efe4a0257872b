package admin

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/campusgate/gatepass/internal/api/respond"
	"github.com/campusgate/gatepass/internal/db/models"
	"github.com/campusgate/gatepass/internal/db/repositories"
)

// AuditLister reads the audit trail. *repositories.AuditRepository satisfies it.
type AuditLister interface {
	ListAuditLogs(ctx context.Context, filters repositories.AuditFilters, limit, offset int) ([]*models.AuditLog, int, error)
	GetAuditLog(ctx context.Context, logID string) (*models.AuditLog, error)
}

// AuditHandler handles /admin/audit-logs
type AuditHandler struct {
	logs AuditLister
}

// NewAuditHandler creates an audit log handler
func NewAuditHandler(logs AuditLister) *AuditHandler {
	return &AuditHandler{logs: logs}
}

func optional(c *gin.Context, name string) *string {
	if v := c.Query(name); v != "" {
		return &v
	}
	return nil
}

func invalidQuery(c *gin.Context, field, msg string) {
	c.JSON(http.StatusUnprocessableEntity, gin.H{
		"success": false,
		"message": msg,
		"errors":  gin.H{field: []string{msg}},
	})
}

// parseDate accepts RFC 3339 timestamps or plain YYYY-MM-DD dates.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}

// List returns audit entries, newest first.
// GET /api/v1/admin/audit-logs?principal_kind=&action=&resource_type=&start_date=&end_date=&limit=&offset=
func (h *AuditHandler) List(c *gin.Context) {
	filters := repositories.AuditFilters{
		PrincipalKind: optional(c, "principal_kind"),
		Action:        optional(c, "action"),
		ResourceType:  optional(c, "resource_type"),
	}
	if raw := c.Query("principal_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			invalidQuery(c, "principal_id", "The principal_id must be an integer.")
			return
		}
		filters.PrincipalID = &id
	}
	for name, dst := range map[string]**time.Time{"start_date": &filters.StartDate, "end_date": &filters.EndDate} {
		raw := c.Query(name)
		if raw == "" {
			continue
		}
		t, err := parseDate(raw)
		if err != nil {
			invalidQuery(c, name, "The "+name+" is not a valid date.")
			return
		}
		*dst = &t
	}

	limit := respond.IntQuery(c, "limit", 50)
	if limit < 1 || limit > 200 {
		limit = 50
	}
	offset := max(respond.IntQuery(c, "offset", 0), 0)

	logs, total, err := h.logs.ListAuditLogs(c.Request.Context(), filters, limit, offset)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"logs":    logs,
		"pagination": gin.H{
			"total":  total,
			"limit":  limit,
			"offset": offset,
		},
	})
}

// Get returns one audit entry.
// GET /api/v1/admin/audit-logs/:id
func (h *AuditHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Audit log not found."})
		return
	}
	entry, err := h.logs.GetAuditLog(c.Request.Context(), id.String())
	if err != nil {
		respond.Error(c, err)
		return
	}
	if entry == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Audit log not found."})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "log": entry})
}
