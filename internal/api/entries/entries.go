// Package entries serves the guard-facing gate endpoints: scan preview, the
// accept and deny decisions, and the entry log views.
package entries

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/campusgate/gatepass/internal/api/respond"
	"github.com/campusgate/gatepass/internal/auth"
	"github.com/campusgate/gatepass/internal/services"
)

// Gate is the validation engine as the handlers use it.
type Gate interface {
	Preview(ctx context.Context, actor auth.Principal, raw string) (*services.ScanResult, error)
	Decide(ctx context.Context, actor auth.Principal, raw, gateName string, decision services.Decision) (*services.DecisionResult, error)
}

// Stats reads the entry log.
type Stats interface {
	StatsForToday(ctx context.Context, actor auth.Principal, scope services.ScanScope) (*services.GateStats, error)
	RecentScans(ctx context.Context, actor auth.Principal, scope services.ScanScope, limit int) ([]services.RecentScan, error)
}

// Handler handles /entries requests
type Handler struct {
	gate  Gate
	stats Stats
}

// NewHandler creates an entries handler
func NewHandler(gate Gate, stats Stats) *Handler {
	return &Handler{gate: gate, stats: stats}
}

type scanRequest struct {
	QRHash   string `json:"qr_hash"`
	GateName string `json:"gate_name"`
}

// outcomeStatus is the HTTP status for an invalid scan.
func outcomeStatus(o services.ScanOutcome) int {
	switch o {
	case services.OutcomeValid:
		return http.StatusOK
	case services.OutcomeNotFound:
		return http.StatusNotFound
	case services.OutcomeMalformed:
		return http.StatusUnprocessableEntity
	default:
		// expired, inactive and integrity gaps
		return http.StatusBadRequest
	}
}

func scanBody(res *services.ScanResult) gin.H {
	body := gin.H{
		"valid":   res.Valid(),
		"outcome": res.Outcome,
		"message": res.Message,
	}
	if res.Student != nil {
		body["student_data"] = res.Student
	}
	if res.Device != nil {
		body["device"] = res.Device
	}
	return body
}

func (h *Handler) bind(c *gin.Context) (scanRequest, auth.Principal, bool) {
	var req scanRequest
	p, ok := respond.Principal(c)
	if !ok {
		return req, p, false
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BadRequest(c, respond.KeyValid)
		return req, p, false
	}
	return req, p, true
}

// ReadQR previews a scanned code without logging anything.
// POST /api/v1/entries/read-qr
func (h *Handler) ReadQR(c *gin.Context) {
	req, p, ok := h.bind(c)
	if !ok {
		return
	}

	res, err := h.gate.Preview(c.Request.Context(), p, req.QRHash)
	if err != nil {
		respond.ScanError(c, err)
		return
	}
	c.JSON(outcomeStatus(res.Outcome), scanBody(res))
}

// ValidateQR records an accepted entry for a valid code.
// POST /api/v1/entries/validate-qr
func (h *Handler) ValidateQR(c *gin.Context) {
	req, p, ok := h.bind(c)
	if !ok {
		return
	}

	res, err := h.gate.Decide(c.Request.Context(), p, req.QRHash, req.GateName, services.DecisionAccept)
	if err != nil {
		respond.ScanError(c, err)
		return
	}

	body := scanBody(&res.ScanResult)
	if !res.Valid() {
		body["status"] = "error"
		c.JSON(outcomeStatus(res.Outcome), body)
		return
	}
	body["status"] = "success"
	body["message"] = "Access granted. Entry recorded."
	body["entry_id"] = res.EntryID
	body["gate_name"] = res.Gate
	c.JSON(http.StatusOK, body)
}

// DenyQR records a denied entry for a valid code.
// POST /api/v1/entries/deny-qr
func (h *Handler) DenyQR(c *gin.Context) {
	req, p, ok := h.bind(c)
	if !ok {
		return
	}

	res, err := h.gate.Decide(c.Request.Context(), p, req.QRHash, req.GateName, services.DecisionDeny)
	if err != nil {
		respond.Error(c, err)
		return
	}
	if !res.Valid() {
		c.JSON(outcomeStatus(res.Outcome), gin.H{"success": false, "outcome": res.Outcome, "message": res.Message})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"message":  "Access denied. Entry recorded.",
		"entry_id": res.EntryID,
	})
}

// scope reads ?gate plus either ?mine=true (the calling guard) or ?guard_id.
func scope(c *gin.Context, p auth.Principal) services.ScanScope {
	s := services.ScanScope{Gate: c.Query("gate")}
	if c.Query("mine") == "true" && p.Kind == auth.KindSecurityGuard {
		id := p.ID
		s.GuardID = &id
	} else if id := respond.IntQuery(c, "guard_id", 0); id > 0 {
		gid := int64(id)
		s.GuardID = &gid
	}
	return s
}

// Recent lists the newest entry log rows.
// GET /api/v1/entries?gate=&limit=
func (h *Handler) Recent(c *gin.Context) {
	p, ok := respond.Principal(c)
	if !ok {
		return
	}
	scans, err := h.stats.RecentScans(c.Request.Context(), p, scope(c, p), respond.IntQuery(c, "limit", 0))
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "entries": scans, "count": len(scans)})
}

// Stats summarises today's scans at a gate, or at every gate without ?gate.
// GET /api/v1/entries/stats?gate=
func (h *Handler) Stats(c *gin.Context) {
	p, ok := respond.Principal(c)
	if !ok {
		return
	}
	stats, err := h.stats.StatsForToday(c.Request.Context(), p, scope(c, p))
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "stats": stats})
}
