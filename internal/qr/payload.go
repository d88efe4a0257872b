// Package qr turns scanned payloads into token hashes, mints new token hashes,
// and renders them as printable PNG badges.
package qr

import (
	"encoding/json"
	"errors"
	"net/url"
	"regexp"
	"strings"
)

// HashLength is the length of a hex-encoded token hash
const HashLength = 64

var (
	// ErrOutdatedFormat is returned for legacy JSON payloads that carry a device ID
	ErrOutdatedFormat = errors.New("Outdated QR code format. Please generate a new QR code for this device")
	// ErrURLNotHash is returned when the payload is a device scan link instead of a token
	ErrURLNotHash = errors.New("Invalid QR code: should contain hash, not URL")
	// ErrMalformed covers every other payload that does not yield a 64-character hex hash
	ErrMalformed = errors.New("Invalid QR code format")
)

var (
	hashPattern     = regexp.MustCompile(`^[a-fA-F0-9]{64}$`)
	embeddedHash    = regexp.MustCompile(`(?:^|[^a-fA-F0-9])([a-fA-F0-9]{64})(?:[^a-fA-F0-9]|$)`)
	deviceScanPath  = regexp.MustCompile(`(?i)/devices?/[^/]+/scan/?$`)
	urlSchemePrefix = regexp.MustCompile(`(?i)^[a-z][a-z0-9+.-]*://`)
)

// IsHash reports whether s is exactly a 64-character hex string
func IsHash(s string) bool {
	return hashPattern.MatchString(s)
}

// ParseScanPayload extracts the token hash from raw scanner output. Letter
// case is preserved. The result is always a valid hash or one of ErrOutdatedFormat,
// ErrURLNotHash or ErrMalformed.
func ParseScanPayload(raw string) (string, error) {
	payload := strings.TrimSpace(raw)
	if payload == "" {
		return "", ErrMalformed
	}

	if strings.Contains(payload, "%") {
		if decoded, err := url.QueryUnescape(payload); err == nil {
			payload = strings.TrimSpace(decoded)
		}
	}

	if strings.HasPrefix(payload, "{") {
		return parseJSONPayload(payload)
	}

	if urlSchemePrefix.MatchString(payload) || strings.HasPrefix(payload, "/") {
		return parseURLPayload(payload)
	}

	if !IsHash(payload) {
		return "", ErrMalformed
	}
	return payload, nil
}

func parseJSONPayload(payload string) (string, error) {
	var body map[string]interface{}
	if err := json.Unmarshal([]byte(payload), &body); err != nil {
		return "", ErrMalformed
	}

	if h, ok := body["hash"].(string); ok {
		h = strings.TrimSpace(h)
		if IsHash(h) {
			return h, nil
		}
		return "", ErrMalformed
	}
	if _, ok := body["deviceId"]; ok {
		return "", ErrOutdatedFormat
	}
	if _, ok := body["device_id"]; ok {
		return "", ErrOutdatedFormat
	}
	return "", ErrMalformed
}

func parseURLPayload(payload string) (string, error) {
	path := payload
	if u, err := url.Parse(payload); err == nil {
		path = u.Path
	}
	if deviceScanPath.MatchString(path) {
		return "", ErrURLNotHash
	}

	if m := embeddedHash.FindStringSubmatch(payload); m != nil {
		return m[1], nil
	}
	return "", ErrMalformed
}
