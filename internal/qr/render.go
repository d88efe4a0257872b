package qr

import (
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// DefaultBadgeSize is the badge width and height in pixels
const DefaultBadgeSize = 256

// RenderPNG encodes hash as a QR code image. The image carries only the bare
// hash so scanners hand it straight to ParseScanPayload.
func RenderPNG(hash string, size int) ([]byte, error) {
	if !IsHash(hash) {
		return nil, ErrMalformed
	}
	if size <= 0 {
		size = DefaultBadgeSize
	}
	png, err := qrcode.Encode(hash, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("failed to render qr code: %w", err)
	}
	return png, nil
}
