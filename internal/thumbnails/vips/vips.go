// Package vips provides a libvips-backed thumbnail resizer. It requires cgo
// and libvips at build time; the pure Go resizer in the parent package is the
// fallback.
package vips

import (
	"fmt"

	"github.com/h2non/bimg"
	"github.com/petermazzocco/go-image-tiers/internal/apperr"
)

// Resizer resizes images with bimg.
type Resizer struct {
	Quality int
}

// New returns a Resizer encoding JPEGs at quality.
func New(quality int) *Resizer {
	return &Resizer{Quality: quality}
}

func (r *Resizer) Dimensions(data []byte) (int, int, error) {
	size, err := bimg.NewImage(data).Size()
	if err != nil {
		return 0, 0, apperr.Wrap(apperr.ErrDecode, "%v", err)
	}
	return size.Width, size.Height, nil
}

func (r *Resizer) Resize(data []byte, width, height int) ([]byte, error) {
	img := bimg.NewImage(data)
	if _, err := img.Size(); err != nil {
		return nil, apperr.Wrap(apperr.ErrDecode, "%v", err)
	}
	out, err := img.Process(bimg.Options{
		Width:   width,
		Height:  height,
		Force:   true,
		Type:    bimg.JPEG,
		Quality: r.Quality,
	})
	if err != nil {
		return nil, fmt.Errorf("process image: %w", err)
	}
	return out, nil
}
