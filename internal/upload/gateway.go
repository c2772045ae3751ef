package upload

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/jdeng/goheif"
	"github.com/rs/zerolog"

	"productshot/internal/domain"
)

const (
	MaxFiles     = 10
	MaxFileBytes = 5 << 20 // 5MB per image
)

// Store is the object storage contract the gateway writes through.
type Store interface {
	Write(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Remove(ctx context.Context, key string) error
	URL(key string) string
}

// File is one uploaded image, already read into memory (uploads are capped
// at 5MB so buffering is fine).
type File struct {
	Name string
	Data []byte
}

// Gateway validates uploaded images, normalizes HEIC/HEIF to JPEG, and
// stores them under a per-user namespace. A failure on any file fails the
// whole batch: callers never receive a partial URL list, and objects stored
// before the failure are removed best-effort.
type Gateway struct {
	store  Store
	logger zerolog.Logger
	now    func() time.Time
}

func NewGateway(store Store, logger zerolog.Logger) *Gateway {
	return &Gateway{store: store, logger: logger, now: time.Now}
}

var allowedExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".heic": "image/heic",
	".heif": "image/heif",
}

// Upload stores all files and returns their public URLs in input order.
func (g *Gateway) Upload(ctx context.Context, userID string, files []File) ([]string, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no images provided", domain.ErrValidation)
	}
	if len(files) > MaxFiles {
		return nil, fmt.Errorf("%w: at most %d images per job", domain.ErrValidation, MaxFiles)
	}
	for _, f := range files {
		ext := strings.ToLower(filepath.Ext(f.Name))
		if _, ok := allowedExtensions[ext]; !ok {
			return nil, fmt.Errorf("%w: unsupported image type %q", domain.ErrValidation, ext)
		}
		if len(f.Data) == 0 {
			return nil, fmt.Errorf("%w: empty file %q", domain.ErrValidation, f.Name)
		}
		if len(f.Data) > MaxFileBytes {
			return nil, fmt.Errorf("%w: %q exceeds the 5MB limit", domain.ErrValidation, f.Name)
		}
	}

	batch := g.now().UnixMilli()
	urls := make([]string, 0, len(files))
	var storedKeys []string

	for i, f := range files {
		name, data, contentType, err := g.normalize(f)
		if err != nil {
			g.rollback(ctx, storedKeys)
			return nil, fmt.Errorf("%w: %s: %v", domain.ErrUpload, f.Name, err)
		}

		key := fmt.Sprintf("users/%s/%d-%d-%s", userID, batch, i, name)
		storedKey, err := g.store.Write(ctx, key, data, contentType)
		if err != nil {
			g.rollback(ctx, storedKeys)
			return nil, fmt.Errorf("%w: store %s: %v", domain.ErrUpload, f.Name, err)
		}
		storedKeys = append(storedKeys, storedKey)
		urls = append(urls, g.store.URL(storedKey))
	}

	return urls, nil
}

// normalize re-encodes HEIC/HEIF captures as JPEG (most downstream tooling
// cannot read HEIC); everything else passes through untouched.
func (g *Gateway) normalize(f File) (name string, data []byte, contentType string, err error) {
	ext := strings.ToLower(filepath.Ext(f.Name))
	if ext != ".heic" && ext != ".heif" {
		return sanitizeName(f.Name), f.Data, allowedExtensions[ext], nil
	}

	img, err := goheif.Decode(bytes.NewReader(f.Data))
	if err != nil {
		return "", nil, "", fmt.Errorf("decode heic: %w", err)
	}
	buf := &bytes.Buffer{}
	if err := imaging.Encode(buf, img, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return "", nil, "", fmt.Errorf("encode jpeg: %w", err)
	}

	jpegName := strings.TrimSuffix(f.Name, filepath.Ext(f.Name)) + ".jpg"
	return sanitizeName(jpegName), buf.Bytes(), "image/jpeg", nil
}

func (g *Gateway) rollback(ctx context.Context, keys []string) {
	for _, key := range keys {
		if err := g.store.Remove(ctx, key); err != nil {
			g.logger.Warn().Err(err).Str("key", key).Msg("upload: failed to remove orphaned object")
		}
	}
}

func sanitizeName(name string) string {
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, " ", "_")
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "image"
	}
	return b.String()
}
