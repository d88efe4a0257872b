// audit.go records authenticated API calls to the audit_logs table after the
// handler has run.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/campusgate/gatepass/internal/config"
	"github.com/campusgate/gatepass/internal/db/models"
	"github.com/campusgate/gatepass/internal/safego"
)

// AuditRecorder persists one audit entry. *repositories.AuditRepository satisfies it.
type AuditRecorder interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type auditAction struct {
	action   string
	resource string
}

// auditActions names the routes whose effects matter to the registrar's office.
// Keys are "METHOD route-template" relative to /api/v1.
var auditActions = map[string]auditAction{
	"POST /devices":                     {"device.created", "device"},
	"PUT /devices/:id":                  {"device.edited", "device"},
	"DELETE /devices/:id":               {"device.deleted", "device"},
	"POST /devices/:id/approve":         {"device.approved", "device"},
	"POST /devices/:id/reject":          {"device.rejected", "device"},
	"POST /devices/:id/renew-qr":        {"device.renewal_requested", "device"},
	"POST /devices/:id/approve-renewal": {"device.renewal_approved", "device"},
	"POST /devices/:id/reject-renewal":  {"device.renewal_rejected", "device"},
	"POST /entries/validate-qr":         {"entry.accepted", "entry"},
	"POST /entries/deny-qr":             {"entry.denied", "entry"},
	"POST /admin/guards":                {"guard.created", "guard"},
}

func describe(method, route string) auditAction {
	rel := strings.TrimPrefix(route, "/api/v1")
	if a, ok := auditActions[method+" "+rel]; ok {
		return a
	}
	return auditAction{action: method + " " + route}
}

// AuditMiddleware writes successful mutations, plus reads and failures when
// cfg asks for them. The insert runs in the background with its own timeout
// so a slow audit table never delays a gate response.
func AuditMiddleware(recorder AuditRecorder, cfg *config.AuditConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if recorder == nil || c.Request.Method == http.MethodOptions {
			return
		}

		isRead := c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead
		isFailed := c.Writer.Status() >= 400
		logReads := cfg != nil && cfg.LogReadOperations
		logFailed := cfg != nil && cfg.LogFailedRequests
		if (isRead && !logReads) || (isFailed && !logFailed) {
			return
		}

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		desc := describe(c.Request.Method, route)

		ip := c.ClientIP()
		entry := &models.AuditLog{
			Action:    desc.action,
			IPAddress: &ip,
			Metadata:  map[string]interface{}{"status_code": c.Writer.Status()},
		}
		if desc.resource != "" {
			resource := desc.resource
			entry.ResourceType = &resource
		}
		if id := c.Param("id"); id != "" {
			entry.ResourceID = &id
		}
		if p, ok := PrincipalFrom(c); ok {
			kind, id := string(p.Kind), p.ID
			entry.PrincipalKind = &kind
			entry.PrincipalID = &id
		}
		if method := c.GetString("auth_method"); method != "" {
			entry.Metadata["auth_method"] = method
		}
		if rid := c.GetString(RequestIDKey); rid != "" {
			entry.Metadata["request_id"] = rid
		}

		safego.Go("audit-log", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := recorder.CreateAuditLog(ctx, entry); err != nil {
				slog.Error("failed to write audit log", "action", entry.Action, "error", err)
			}
		})
	}
}
