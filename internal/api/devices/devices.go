// Package devices serves device registration for students and the approval
// workflow for admins. Every state change is delegated to the device registry.
package devices

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/campusgate/gatepass/internal/api/respond"
	"github.com/campusgate/gatepass/internal/auth"
	"github.com/campusgate/gatepass/internal/db/models"
	"github.com/campusgate/gatepass/internal/qr"
	"github.com/campusgate/gatepass/internal/services"
	"github.com/campusgate/gatepass/pkg/checksum"
)

const deviceNotFound = "Device not found."

// Registry is the device state machine as the handlers use it.
type Registry interface {
	Create(ctx context.Context, actor auth.Principal, in services.DeviceInput) (*models.Device, error)
	List(ctx context.Context, actor auth.Principal, q services.DeviceQuery) ([]models.DeviceWithOwner, int, error)
	Get(ctx context.Context, actor auth.Principal, id int64) (*services.DeviceDetails, error)
	Edit(ctx context.Context, actor auth.Principal, id int64, in services.DeviceInput) (*models.Device, error)
	Delete(ctx context.Context, actor auth.Principal, id int64) error
	RequestRenewal(ctx context.Context, actor auth.Principal, id int64) (*models.Device, error)
	CurrentQRCode(ctx context.Context, actor auth.Principal, id int64) (*models.QRCode, error)
	Approve(ctx context.Context, actor auth.Principal, id int64) (*services.DeviceResult, error)
	Reject(ctx context.Context, actor auth.Principal, id int64) (*services.DeviceResult, error)
	ApproveRenewal(ctx context.Context, actor auth.Principal, id int64) (*services.DeviceResult, error)
	RejectRenewal(ctx context.Context, actor auth.Principal, id int64) (*models.Device, error)
}

// Badges renders QR badge images.
type Badges interface {
	PNG(ctx context.Context, hash string) ([]byte, error)
}

// Handler handles /devices requests
type Handler struct {
	registry Registry
	badges   Badges
}

// NewHandler creates a devices handler
func NewHandler(registry Registry, badges Badges) *Handler {
	return &Handler{registry: registry, badges: badges}
}

// principalAndID reads the caller and the :id parameter, aborting on failure.
func principalAndID(c *gin.Context) (auth.Principal, int64, bool) {
	p, ok := respond.Principal(c)
	if !ok {
		return p, 0, false
	}
	id, ok := respond.ID(c, "id", deviceNotFound)
	return p, id, ok
}

func bindInput(c *gin.Context) (services.DeviceInput, bool) {
	var in services.DeviceInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respond.BadRequest(c, respond.KeySuccess)
		return in, false
	}
	return in, true
}

// Create registers a new device for the calling student.
// POST /api/v1/devices
func (h *Handler) Create(c *gin.Context) {
	p, ok := respond.Principal(c)
	if !ok {
		return
	}
	in, ok := bindInput(c)
	if !ok {
		return
	}

	device, err := h.registry.Create(c.Request.Context(), p, in)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"message": "Device registered successfully. Waiting for admin approval.",
		"device":  device,
	})
}

// List returns the caller's devices, or every device for an admin.
// GET /api/v1/devices?status=&pending_changes=&renewal_requested=&limit=&offset=
func (h *Handler) List(c *gin.Context) {
	p, ok := respond.Principal(c)
	if !ok {
		return
	}

	q := services.DeviceQuery{
		PendingChanges:   c.Query("pending_changes") == "true",
		RenewalRequested: c.Query("renewal_requested") == "true",
		Limit:            respond.IntQuery(c, "limit", 20),
		Offset:           respond.IntQuery(c, "offset", 0),
	}
	if s := c.Query("status"); s != "" {
		status := models.RegistrationStatus(s)
		if !status.Valid() {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"success": false,
				"message": "The selected status is invalid.",
				"errors":  gin.H{"status": []string{"The selected status is invalid."}},
			})
			return
		}
		q.Status = &status
	}

	devices, total, err := h.registry.List(c.Request.Context(), p, q)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "devices": devices, "total": total})
}

// Get returns one device with its owner and latest code.
// GET /api/v1/devices/:id
func (h *Handler) Get(c *gin.Context) {
	p, id, ok := principalAndID(c)
	if !ok {
		return
	}
	details, err := h.registry.Get(c.Request.Context(), p, id)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": details})
}

// Update edits a device. An approved device goes back to pending review.
// PUT /api/v1/devices/:id
func (h *Handler) Update(c *gin.Context) {
	p, id, ok := principalAndID(c)
	if !ok {
		return
	}
	in, ok := bindInput(c)
	if !ok {
		return
	}

	device, err := h.registry.Edit(c.Request.Context(), p, id, in)
	if err != nil {
		respond.Error(c, err)
		return
	}
	msg := "Device updated successfully."
	if device.HasPendingChanges() {
		msg = "Device updated. Changes are pending admin approval and the QR code is inactive until then."
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": msg, "device": device})
}

// Delete soft-deletes a device and retires its codes.
// DELETE /api/v1/devices/:id
func (h *Handler) Delete(c *gin.Context) {
	p, id, ok := principalAndID(c)
	if !ok {
		return
	}
	if err := h.registry.Delete(c.Request.Context(), p, id); err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Device deleted successfully."})
}

// RenewQR asks an admin to issue a fresh code for an expired one.
// POST /api/v1/devices/:id/renew-qr
func (h *Handler) RenewQR(c *gin.Context) {
	p, id, ok := principalAndID(c)
	if !ok {
		return
	}
	device, err := h.registry.RequestRenewal(c.Request.Context(), p, id)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Renewal request submitted. Waiting for admin approval.",
		"device":  device,
	})
}

// QRCode returns the device's latest code metadata.
// GET /api/v1/devices/:id/qr
func (h *Handler) QRCode(c *gin.Context) {
	p, id, ok := principalAndID(c)
	if !ok {
		return
	}
	code, err := h.registry.CurrentQRCode(c.Request.Context(), p, id)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "qr_code": code})
}

// QRCodePNG streams the badge image for the device's latest code.
// GET /api/v1/devices/:id/qr.png
func (h *Handler) QRCodePNG(c *gin.Context) {
	p, id, ok := principalAndID(c)
	if !ok {
		return
	}
	code, err := h.registry.CurrentQRCode(c.Request.Context(), p, id)
	if err != nil {
		respond.Error(c, err)
		return
	}

	png, err := h.badges.PNG(c.Request.Context(), code.Hash)
	if err != nil {
		if errors.Is(err, qr.ErrMalformed) {
			err = errors.New("stored QR hash is malformed: " + err.Error())
		}
		respond.Error(c, err)
		return
	}
	etag := checksum.ETag(png)
	c.Header("Cache-Control", "private, max-age=300")
	c.Header("ETag", etag)
	if checksum.MatchesETag(c.GetHeader("If-None-Match"), etag) {
		c.Status(http.StatusNotModified)
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func (h *Handler) transition(c *gin.Context, msg func(*services.DeviceResult) string, fn func(context.Context, auth.Principal, int64) (*services.DeviceResult, error)) {
	p, id, ok := principalAndID(c)
	if !ok {
		return
	}
	res, err := fn(c.Request.Context(), p, id)
	if err != nil {
		respond.Error(c, err)
		return
	}
	body := gin.H{"success": true, "message": msg(res), "device": res.Device}
	if res.QRCode != nil {
		body["qr_code"] = res.QRCode
	}
	c.JSON(http.StatusOK, body)
}

func fixed(msg string) func(*services.DeviceResult) string {
	return func(*services.DeviceResult) string { return msg }
}

// Approve approves a pending registration or pending edit.
// POST /api/v1/devices/:id/approve
func (h *Handler) Approve(c *gin.Context) {
	h.transition(c, fixed("Device approved successfully."), h.registry.Approve)
}

// Reject rejects a pending registration, or reverts a pending edit.
// POST /api/v1/devices/:id/reject
func (h *Handler) Reject(c *gin.Context) {
	h.transition(c, func(res *services.DeviceResult) string {
		if res.Device.RegistrationStatus == models.StatusActive {
			return "Changes rejected. The device keeps its previously approved details."
		}
		return "Device registration rejected."
	}, h.registry.Reject)
}

// ApproveRenewal issues a fresh code for a renewal request.
// POST /api/v1/devices/:id/approve-renewal
func (h *Handler) ApproveRenewal(c *gin.Context) {
	h.transition(c, fixed("QR code renewed successfully."), h.registry.ApproveRenewal)
}

// RejectRenewal declines a renewal request.
// POST /api/v1/devices/:id/reject-renewal
func (h *Handler) RejectRenewal(c *gin.Context) {
	p, id, ok := principalAndID(c)
	if !ok {
		return
	}
	device, err := h.registry.RejectRenewal(c.Request.Context(), p, id)
	if err != nil {
		respond.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Renewal request rejected.", "device": device})
}
