package qr

import (
	"bytes"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"
)

const (
	lowerHash = "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"
	upperHash = "9F86D081884C7D659A2FEAA0C55AD015A3BF4F1B2B0B822CD15D6C15B0F00A08"
)

func TestParseScanPayload(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr error
	}{
		{"bare hash", lowerHash, lowerHash, nil},
		{"whitespace trimmed, case preserved", "  " + upperHash + "\n", upperHash, nil},
		{"percent encoded hash", "%20" + lowerHash + "%0A", lowerHash, nil},
		{"json hash", `{"hash":"` + lowerHash + `"}`, lowerHash, nil},
		{"percent encoded json", url.QueryEscape(`{"hash":"` + lowerHash + `"}`), lowerHash, nil},
		{"json bad hash", `{"hash":"abc"}`, "", ErrMalformed},
		{"json legacy device id", `{"deviceId": 5}`, "", ErrOutdatedFormat},
		{"json legacy snake device id", `{"device_id": "5"}`, "", ErrOutdatedFormat},
		{"json without known fields", `{"foo": 1}`, "", ErrMalformed},
		{"broken json", `{"hash":`, "", ErrMalformed},
		{"device scan url", "https://host/devices/5/scan", "", ErrURLNotHash},
		{"device scan url trailing slash", "http://campus.edu/api/device/12/scan/", "", ErrURLNotHash},
		{"relative scan path", "/devices/5/scan", "", ErrURLNotHash},
		{"url with embedded hash", "https://gate.campus.edu/verify?h=" + lowerHash + "&v=2", lowerHash, nil},
		{"url path with hash", "https://gate.campus.edu/t/" + upperHash, upperHash, nil},
		{"url without hash", "https://gate.campus.edu/hello", "", ErrMalformed},
		{"url with 65 hex chars", "https://x/" + lowerHash + "a", "", ErrMalformed},
		{"63 chars", lowerHash[:63], "", ErrMalformed},
		{"65 chars", lowerHash + "0", "", ErrMalformed},
		{"non hex", strings.Repeat("g", 64), "", ErrMalformed},
		{"empty", "   ", "", ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseScanPayload(tt.raw)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("hash = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorMessagesAreDistinct(t *testing.T) {
	msgs := map[string]bool{}
	for _, err := range []error{ErrOutdatedFormat, ErrURLNotHash, ErrMalformed} {
		msgs[err.Error()] = true
	}
	if len(msgs) != 3 {
		t.Errorf("expected 3 distinct messages, got %d", len(msgs))
	}
	if !strings.Contains(ErrURLNotHash.Error(), "not URL") {
		t.Errorf("ErrURLNotHash message = %q", ErrURLNotHash.Error())
	}
}

func TestNewHash(t *testing.T) {
	a, err := NewHash()
	if err != nil {
		t.Fatalf("NewHash() error: %v", err)
	}
	b, _ := NewHash()
	if !IsHash(a) || a != strings.ToLower(a) {
		t.Errorf("NewHash() = %q, want lowercase 64-char hex", a)
	}
	if a == b {
		t.Error("NewHash() returned the same value twice")
	}
	if Canonical(upperHash) != lowerHash {
		t.Error("Canonical() did not lowercase")
	}
}

func TestExpiresAt_CalendarMonth(t *testing.T) {
	issued := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	want := time.Date(2026, 2, 15, 10, 0, 0, 0, time.UTC)
	if got := ExpiresAt(issued, 1); !got.Equal(want) {
		t.Errorf("ExpiresAt() = %v, want %v", got, want)
	}
}

func TestRenderPNG(t *testing.T) {
	png, err := RenderPNG(lowerHash, 0)
	if err != nil {
		t.Fatalf("RenderPNG() error: %v", err)
	}
	if !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Error("RenderPNG() output is not a PNG")
	}
	if _, err := RenderPNG("not-a-hash", 128); !errors.Is(err, ErrMalformed) {
		t.Errorf("RenderPNG(bad) err = %v, want ErrMalformed", err)
	}
}
