// Package account serves login, student self-registration, and the current
// principal's profile.
package account

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/campusgate/gatepass/internal/api/respond"
	"github.com/campusgate/gatepass/internal/auth"
	"github.com/campusgate/gatepass/internal/services"
)

// Accounts is the account service as the handlers use it.
type Accounts interface {
	Login(ctx context.Context, email, password, role string) (*services.LoginResult, error)
	RegisterStudent(ctx context.Context, in services.StudentSignup) (*services.LoginResult, error)
	Me(ctx context.Context, p auth.Principal) (*services.Profile, error)
}

// Handler handles /auth requests
type Handler struct {
	accounts Accounts
}

// NewHandler creates an account handler
func NewHandler(accounts Accounts) *Handler {
	return &Handler{accounts: accounts}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	// Role is optional; "kind" is accepted as an alias
	Role string `json:"role"`
	Kind string `json:"kind"`
}

// Login exchanges credentials for a bearer token.
// POST /api/v1/auth/login
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BadRequest(c, respond.KeySuccess)
		return
	}
	role := req.Role
	if role == "" {
		role = req.Kind
	}

	res, err := h.accounts.Login(c.Request.Context(), req.Email, req.Password, role)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"token":      res.Token,
		"expires_at": res.ExpiresAt,
		"user":       res.Principal,
	})
}

// Register creates a student account and logs it in.
// POST /api/v1/auth/register
func (h *Handler) Register(c *gin.Context) {
	var in services.StudentSignup
	if err := c.ShouldBindJSON(&in); err != nil {
		respond.BadRequest(c, respond.KeySuccess)
		return
	}

	res, err := h.accounts.RegisterStudent(c.Request.Context(), in)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"success":    true,
		"message":    "Registration successful.",
		"token":      res.Token,
		"expires_at": res.ExpiresAt,
		"user":       res.Principal,
	})
}

// Me returns the caller's profile.
// GET /api/v1/auth/me
func (h *Handler) Me(c *gin.Context) {
	p, ok := respond.Principal(c)
	if !ok {
		return
	}
	profile, err := h.accounts.Me(c.Request.Context(), p)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "user": profile})
}
