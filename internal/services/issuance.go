package services

import (
	"context"
	"fmt"
	"time"

	"github.com/campusgate/gatepass/internal/db/models"
	"github.com/campusgate/gatepass/internal/qr"
	"github.com/campusgate/gatepass/internal/telemetry"
)

// Issue reasons, used as the qr_codes_issued_total label
const (
	issueInitial = "initial"
	issueReissue = "reissue"
	issueRenewal = "renewal"
)

// issuer mints QR codes. It is only reachable from registry transitions.
type issuer struct {
	validityMonths int
}

// issue deactivates whatever code the device holds and stores a fresh active one
func (i issuer) issue(ctx context.Context, s Store, deviceID int64, now time.Time, reason string) (*models.QRCode, error) {
	hash, err := qr.NewHash()
	if err != nil {
		return nil, err
	}
	if err := s.DeactivateDeviceQRCodes(ctx, deviceID); err != nil {
		return nil, err
	}

	code := &models.QRCode{
		DeviceID:    deviceID,
		Hash:        hash,
		GeneratedAt: now,
		ExpiresAt:   qr.ExpiresAt(now, i.validityMonths),
		IsActive:    true,
	}
	if err := s.CreateQRCode(ctx, code); err != nil {
		return nil, fmt.Errorf("failed to issue qr code for device %d: %w", deviceID, err)
	}
	telemetry.QRCodesIssuedTotal.WithLabelValues(reason).Inc()
	return code, nil
}

// reactivate makes code the device's only active code
func reactivate(ctx context.Context, s Store, code *models.QRCode) error {
	if err := s.DeactivateDeviceQRCodes(ctx, code.DeviceID); err != nil {
		return err
	}
	if err := s.ActivateQRCode(ctx, code.ID); err != nil {
		return err
	}
	code.IsActive = true
	return nil
}
