package services

import (
	"bytes"
	"context"
	"io"
	"log/slog"

	"github.com/campusgate/gatepass/internal/qr"
)

// BlobStore is the subset of a storage backend the badge archive needs
type BlobStore interface {
	Upload(ctx context.Context, path string, reader io.Reader, size int64) error
	Download(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, path string) error
	Exists(ctx context.Context, path string) (bool, error)
}

// BadgeArchive renders QR badge images and caches them in object storage
type BadgeArchive struct {
	blobs BlobStore
	size  int
}

// NewBadgeArchive caches badges of size pixels in blobs
func NewBadgeArchive(blobs BlobStore, size int) *BadgeArchive {
	if size <= 0 {
		size = qr.DefaultBadgeSize
	}
	return &BadgeArchive{blobs: blobs, size: size}
}

func badgePath(hash string) string {
	return "badges/" + hash[:2] + "/" + hash + ".png"
}

// PNG returns the badge for hash, rendering and storing it on a cache miss.
// Storage failures fall back to rendering in place.
func (b *BadgeArchive) PNG(ctx context.Context, hash string) ([]byte, error) {
	hash = qr.Canonical(hash)
	if !qr.IsHash(hash) {
		return nil, qr.ErrMalformed
	}
	path := badgePath(hash)

	if data, err := b.cached(ctx, path); err != nil {
		slog.Warn("cached badge unreadable, re-rendering", "path", path, "error", err)
	} else if data != nil {
		return data, nil
	}

	png, err := qr.RenderPNG(hash, b.size)
	if err != nil {
		return nil, err
	}
	if err := b.blobs.Upload(ctx, path, bytes.NewReader(png), int64(len(png))); err != nil {
		slog.Warn("failed to cache badge", "path", path, "error", err)
	}
	return png, nil
}

// cached returns nil, nil on a miss
func (b *BadgeArchive) cached(ctx context.Context, path string) ([]byte, error) {
	exists, err := b.blobs.Exists(ctx, path)
	if err != nil || !exists {
		return nil, err
	}
	rc, err := b.blobs.Download(ctx, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// Purge deletes cached badges; failures are logged
func (b *BadgeArchive) Purge(ctx context.Context, hashes []string) {
	for _, h := range hashes {
		if !qr.IsHash(h) {
			continue
		}
		if err := b.blobs.Delete(ctx, badgePath(h)); err != nil {
			slog.Warn("failed to delete cached badge", "hash_prefix", h[:8], "error", err)
		}
	}
}
