// Package admin serves the registrar's dashboard: registry and gate statistics,
// security guard provisioning, and the audit trail.
package admin

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/campusgate/gatepass/internal/api/respond"
	"github.com/campusgate/gatepass/internal/auth"
	"github.com/campusgate/gatepass/internal/db/repositories"
	"github.com/campusgate/gatepass/internal/services"
)

// DeviceCounter summarises the device registry.
type DeviceCounter interface {
	DeviceStats(ctx context.Context, actor auth.Principal) (*repositories.DeviceStatusCounts, error)
}

// ScanCounter summarises today's gate traffic.
type ScanCounter interface {
	StatsForToday(ctx context.Context, actor auth.Principal, scope services.ScanScope) (*services.GateStats, error)
}

// StatsHandler handles dashboard statistics
type StatsHandler struct {
	devices DeviceCounter
	scans   ScanCounter
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(devices DeviceCounter, scans ScanCounter) *StatsHandler {
	return &StatsHandler{devices: devices, scans: scans}
}

// DashboardStats is the admin landing page summary
type DashboardStats struct {
	Devices *repositories.DeviceStatusCounts `json:"devices"`
	Scans   *services.GateStats              `json:"scans_today"`
}

// GetDashboardStats returns device counts by status and today's scans across every gate.
// GET /api/v1/admin/stats
func (h *StatsHandler) GetDashboardStats(c *gin.Context) {
	p, ok := respond.Principal(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	devices, err := h.devices.DeviceStats(ctx, p)
	if err != nil {
		respond.Error(c, err)
		return
	}
	scans, err := h.scans.StatsForToday(ctx, p, services.ScanScope{})
	if err != nil {
		respond.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "stats": DashboardStats{Devices: devices, Scans: scans}})
}
