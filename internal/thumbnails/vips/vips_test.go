//go:build vips

// Run with: go test -tags vips ./internal/thumbnails/vips/ (needs libvips).
package vips

import (
	"bytes"
	"image"
	_ "image/jpeg"
	"testing"

	"github.com/petermazzocco/go-image-tiers/internal/apperr"
	"github.com/petermazzocco/go-image-tiers/internal/testsupport"
	"github.com/petermazzocco/go-image-tiers/internal/thumbnails"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResizer(t *testing.T) {
	tests := []struct {
		name         string
		ow, oh       int
		height       uint
		wantW, wantH int
	}{
		{"landscape", 400, 200, 100, 200, 100},
		{"portrait", 200, 400, 100, 50, 100},
		{"rounds to nearest", 333, 200, 100, 167, 100},
		{"never upscales", 100, 50, 400, 100, 50},
	}
	r := New(80)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := testsupport.PNG(t, tt.ow, tt.oh)

			w, h, err := r.Dimensions(src)
			require.NoError(t, err)
			assert.Equal(t, tt.ow, w)
			assert.Equal(t, tt.oh, h)

			tw, th := thumbnails.TargetSize(w, h, tt.height)
			out, err := r.Resize(src, tw, th)
			require.NoError(t, err)
			cfg, format, err := image.DecodeConfig(bytes.NewReader(out))
			require.NoError(t, err)
			assert.Equal(t, "jpeg", format)
			assert.Equal(t, tt.wantW, cfg.Width)
			assert.Equal(t, tt.wantH, cfg.Height)
		})
	}
}

func TestResizer_Garbage(t *testing.T) {
	r := New(80)

	_, _, err := r.Dimensions([]byte("not an image"))
	assert.ErrorIs(t, err, apperr.ErrDecode)
	_, err = r.Resize([]byte("not an image"), 10, 10)
	assert.ErrorIs(t, err, apperr.ErrDecode)
}
