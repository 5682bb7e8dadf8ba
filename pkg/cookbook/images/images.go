// Package images stores uploaded recipe photos under the media root.
package images

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/mikepea/cookbook/pkg/cookbook/apperror"
)

const (
	// UploadDir is where recipe images live, relative to the media root
	UploadDir = "uploads/recipe"
	// MaxDimension bounds the stored image's width and height
	MaxDimension = 2048
	// URLPrefix is the path the media root is served under
	URLPrefix = "/media/"
	// DefaultMaxBytes bounds the size of an uploaded file
	DefaultMaxBytes = 10 << 20
	// DefaultMaxPixels bounds width*height as declared by the image header,
	// checked before any pixel data is decoded
	DefaultMaxPixels = 89_478_485
)

var errNotImage = apperror.ValidationFailed("image", "Upload a valid image. The file you uploaded was either not an image or a corrupted image.")

// Store writes normalized JPEGs under Root
type Store struct {
	Root string
	// MaxBytes and MaxPixels fall back to the defaults when zero
	MaxBytes  int64
	MaxPixels int64
}

// NewStore creates a store rooted at root
func NewStore(root string) *Store {
	return &Store{Root: root, MaxBytes: DefaultMaxBytes, MaxPixels: DefaultMaxPixels}
}

func (s *Store) limits() (maxBytes, maxPixels int64) {
	maxBytes, maxPixels = s.MaxBytes, s.MaxPixels
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	return maxBytes, maxPixels
}

// Save decodes r, fits it into MaxDimension x MaxDimension and writes it as a
// JPEG with a random name. It returns the path relative to Root. Input that
// is not a decodable image, or that exceeds the size or pixel limits, is a
// validation error.
func (s *Store) Save(r io.Reader) (string, error) {
	maxBytes, maxPixels := s.limits()

	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("failed to read upload: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return "", apperror.ValidationFailed("image", fmt.Sprintf("Ensure the image is no larger than %d bytes.", maxBytes))
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", errNotImage
	}
	if int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return "", apperror.ValidationFailed("image", fmt.Sprintf("Image size (%dx%d) exceeds the limit of %d pixels.", cfg.Width, cfg.Height, maxPixels))
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return "", errNotImage
	}

	b := img.Bounds()
	if b.Dx() > MaxDimension || b.Dy() > MaxDimension {
		img = imaging.Fit(img, MaxDimension, MaxDimension, imaging.Lanczos)
	}

	rel := path.Join(UploadDir, uuid.New().String()+".jpg")
	dst := filepath.Join(s.Root, filepath.FromSlash(rel))

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %w", err)
	}
	if err := imaging.Save(img, dst, imaging.JPEGQuality(90)); err != nil {
		return "", fmt.Errorf("failed to save image: %w", err)
	}
	return rel, nil
}

// Remove deletes a previously saved image. A file that is already gone is
// not an error; a path outside UploadDir is refused.
func (s *Store) Remove(rel string) error {
	clean := path.Clean(rel)
	if !strings.HasPrefix(clean, UploadDir+"/") {
		return fmt.Errorf("refusing to remove %q outside %s", rel, UploadDir)
	}

	err := os.Remove(filepath.Join(s.Root, filepath.FromSlash(clean)))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// URL returns the public URL for rel, or "" when there is no image
func URL(rel string) string {
	if rel == "" {
		return ""
	}
	return URLPrefix + rel
}
