package thumbnails

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"math"

	"github.com/petermazzocco/go-image-tiers/internal/apperr"
	"golang.org/x/image/draw"
)

// Resizer decodes raster bytes and produces JPEG thumbnails.
type Resizer interface {
	// Dimensions decodes the header and returns the pixel size.
	Dimensions(data []byte) (width, height int, err error)
	// Resize scales data to exactly width×height and encodes it as JPEG.
	Resize(data []byte, width, height int) ([]byte, error)
}

// TargetSize returns the dimensions of the thumbnail for height. The width
// keeps the aspect ratio, rounded to the nearest pixel. Thumbnails are never
// larger than the original.
func TargetSize(originalWidth, originalHeight int, height uint) (int, int) {
	if originalHeight <= 0 || int(height) >= originalHeight {
		return originalWidth, originalHeight
	}
	width := int(math.Round(float64(height) * float64(originalWidth) / float64(originalHeight)))
	if width < 1 {
		width = 1
	}
	return width, int(height)
}

// DrawResizer is a pure Go Resizer built on golang.org/x/image/draw.
type DrawResizer struct {
	Quality int
}

// NewDrawResizer returns a DrawResizer encoding at the given JPEG quality.
func NewDrawResizer(quality int) *DrawResizer {
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	return &DrawResizer{Quality: quality}
}

func (r *DrawResizer) Dimensions(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, apperr.Wrap(apperr.ErrDecode, "%v", err)
	}
	return cfg.Width, cfg.Height, nil
}

func (r *DrawResizer) Resize(data []byte, width, height int) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrDecode, "%v", err)
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: r.Quality}); err != nil {
		return nil, fmt.Errorf("encode JPEG: %w", err)
	}
	return buf.Bytes(), nil
}
