package admin

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/campusgate/gatepass/internal/api/respond"
	"github.com/campusgate/gatepass/internal/auth"
	"github.com/campusgate/gatepass/internal/db/models"
	"github.com/campusgate/gatepass/internal/services"
)

// GuardAccounts provisions security guards.
type GuardAccounts interface {
	CreateGuard(ctx context.Context, actor *auth.Principal, in services.GuardInput) (*models.SecurityGuard, error)
	ListGuards(ctx context.Context, actor auth.Principal) ([]models.SecurityGuard, error)
}

// GuardsHandler handles /admin/guards
type GuardsHandler struct {
	accounts GuardAccounts
}

// NewGuardsHandler creates a guards handler
func NewGuardsHandler(accounts GuardAccounts) *GuardsHandler {
	return &GuardsHandler{accounts: accounts}
}

// List returns every security guard.
// GET /api/v1/admin/guards
func (h *GuardsHandler) List(c *gin.Context) {
	p, ok := respond.Principal(c)
	if !ok {
		return
	}
	guards, err := h.accounts.ListGuards(c.Request.Context(), p)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "guards": guards})
}

// Create adds a guard with the next SG-#### code.
// POST /api/v1/admin/guards
func (h *GuardsHandler) Create(c *gin.Context) {
	p, ok := respond.Principal(c)
	if !ok {
		return
	}
	var in services.GuardInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respond.BadRequest(c, respond.KeySuccess)
		return
	}

	guard, err := h.accounts.CreateGuard(c.Request.Context(), &p, in)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"message": "Security guard " + guard.GuardCode + " created.",
		"guard":   guard,
	})
}
