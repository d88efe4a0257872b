// Package respond turns service results into the JSON envelopes the gatepass
// clients expect: {"success": bool, "message": ...} for registry and admin
// routes and {"valid": bool, "message": ...} for gate scans.
package respond

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/campusgate/gatepass/internal/auth"
	"github.com/campusgate/gatepass/internal/middleware"
	"github.com/campusgate/gatepass/internal/services"
)

// Envelope keys.
const (
	KeySuccess = "success"
	KeyValid   = "valid"
)

// StatusFor maps a rule violation onto an HTTP status.
func StatusFor(kind services.ErrorKind) int {
	switch kind {
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindForbidden:
		return http.StatusForbidden
	case services.KindUnauthorized:
		return http.StatusUnauthorized
	case services.KindPrecondition:
		return http.StatusBadRequest
	case services.KindConflict:
		return http.StatusConflict
	case services.KindValidation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Error writes err under the success key.
func Error(c *gin.Context, err error) {
	fail(c, KeySuccess, err)
}

// ScanError writes err under the valid key.
func ScanError(c *gin.Context, err error) {
	fail(c, KeyValid, err)
}

func fail(c *gin.Context, key string, err error) {
	re, ok := services.AsRuleError(err)
	if !ok {
		rid, _ := c.Get(middleware.RequestIDKey)
		slog.Error("request failed", "method", c.Request.Method, "path", c.FullPath(),
			"request_id", rid, "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			key:       false,
			"message": "An unexpected error occurred. Please try again.",
		})
		return
	}

	body := gin.H{key: false, "message": re.Message}
	if re.Kind == services.KindValidation && re.Field != "" {
		body["errors"] = gin.H{re.Field: []string{re.Message}}
	}
	c.AbortWithStatusJSON(StatusFor(re.Kind), body)
}

// BadRequest answers a body that could not be decoded.
func BadRequest(c *gin.Context, key string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{key: false, "message": "Invalid request body."})
}

// Principal returns the authenticated caller or aborts with 401.
func Principal(c *gin.Context) (auth.Principal, bool) {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{KeySuccess: false, "message": "Authentication required"})
	}
	return p, ok
}

// ID parses the :name path parameter. A non-numeric id cannot name a row, so
// it answers 404 with notFound.
func ID(c *gin.Context, name, notFound string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{KeySuccess: false, "message": notFound})
		return 0, false
	}
	return id, true
}

// IntQuery parses an optional integer query parameter, returning def when it
// is absent or not a number.
func IntQuery(c *gin.Context, name string, def int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return def
	}
	return v
}
