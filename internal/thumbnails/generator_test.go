package thumbnails

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/petermazzocco/go-image-tiers/internal/apperr"
	"github.com/petermazzocco/go-image-tiers/internal/blob"
	"github.com/petermazzocco/go-image-tiers/internal/logging"
	"github.com/petermazzocco/go-image-tiers/internal/testsupport"
	"github.com/petermazzocco/go-image-tiers/internal/tiers"
	"github.com/petermazzocco/go-image-tiers/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestTargetSize(t *testing.T) {
	tests := []struct {
		name         string
		ow, oh       int
		height       uint
		wantW, wantH int
	}{
		{"halves", 100, 50, 25, 50, 25},
		{"landscape", 400, 200, 100, 200, 100},
		{"rounds to nearest", 333, 200, 100, 167, 100},
		{"portrait", 200, 400, 100, 50, 100},
		{"same height keeps original", 400, 200, 200, 400, 200},
		{"never upscales", 100, 50, 400, 100, 50},
		{"width floor", 1, 1000, 10, 1, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := TargetSize(tt.ow, tt.oh, tt.height)
			assert.Equal(t, tt.wantW, w)
			assert.Equal(t, tt.wantH, h)
		})
	}
}

func TestDrawResizer(t *testing.T) {
	r := NewDrawResizer(80)
	src := testsupport.PNG(t, 100, 50)

	w, h, err := r.Dimensions(src)
	require.NoError(t, err)
	assert.Equal(t, 100, w)
	assert.Equal(t, 50, h)

	out, err := r.Resize(src, 50, 25)
	require.NoError(t, err)
	cfg, format, err := image.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 50, cfg.Width)
	assert.Equal(t, 25, cfg.Height)

	_, _, err = r.Dimensions([]byte("not an image"))
	assert.ErrorIs(t, err, apperr.ErrDecode)
	_, err = r.Resize([]byte("not an image"), 10, 10)
	assert.ErrorIs(t, err, apperr.ErrDecode)
}

type env struct {
	db    *gorm.DB
	tiers *tiers.Store
	blobs *blob.FSStore
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gdb := testsupport.NewDB(t)
	blobs, err := blob.NewFSStore(t.TempDir(), "http://test/media")
	require.NoError(t, err)
	return &env{db: gdb, tiers: tiers.NewStore(gdb), blobs: blobs}
}

// upload stores an original for a fresh user on tierName and returns its row.
func (e *env) upload(t *testing.T, tierName string, data []byte) *models.Image {
	t.Helper()
	ctx := context.Background()
	tier, err := e.tiers.GetByName(ctx, tierName)
	require.NoError(t, err)

	var count int64
	require.NoError(t, e.db.Model(&models.User{}).Count(&count).Error)
	u := models.User{Name: "u", Email: fmt.Sprintf("u%d@example.com", count), TierID: tier.ID}
	require.NoError(t, e.db.Create(&u).Error)

	img := models.Image{UUID: uuid.NewString(), UserID: u.ID, Filename: "cat.png", MimeType: "image/png"}
	img.StorageKey = blob.OriginalKey(u.ID, img.UUID, img.Filename)
	require.NoError(t, e.blobs.Put(ctx, img.StorageKey, data, img.MimeType))
	require.NoError(t, e.db.Create(&img).Error)
	return &img
}

func (e *env) thumbnailHeights(t *testing.T, imageID uint) []uint {
	t.Helper()
	var heights []uint
	err := e.db.Model(&models.Thumbnail{}).
		Joins("JOIN sizes ON sizes.id = thumbnails.size_id").
		Where("thumbnails.image_id = ?", imageID).
		Order("sizes.height").
		Pluck("sizes.height", &heights).Error
	require.NoError(t, err)
	return heights
}

func TestGenerator_GeneratesPermittedSizes(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.tiers.Upsert(ctx, tiers.Spec{Name: "Premium", Sizes: []uint{100, 200}, ServeOriginal: true})
	require.NoError(t, err)

	img := e.upload(t, "Premium", testsupport.PNG(t, 400, 200))
	gen := NewGenerator(e.db, e.tiers, e.blobs, NewDrawResizer(85), Options{Workers: 2}, logging.Discard())

	report, err := gen.Generate(ctx, img)
	require.NoError(t, err)
	assert.Equal(t, []uint{100, 200}, report.Generated)
	assert.Empty(t, report.Failed)
	assert.Nil(t, report.Warnings())
	assert.Equal(t, []uint{100, 200}, e.thumbnailHeights(t, img.ID))

	data, err := e.blobs.Get(ctx, blob.ThumbnailKey(img.UserID, img.UUID, img.Filename, 100))
	require.NoError(t, err)
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 200, cfg.Width)
	assert.Equal(t, 100, cfg.Height)
}

func TestGenerator_NoSizes(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.tiers.Upsert(ctx, tiers.Spec{Name: "Empty"})
	require.NoError(t, err)

	img := e.upload(t, "Empty", testsupport.PNG(t, 10, 10))
	gen := NewGenerator(e.db, e.tiers, e.blobs, NewDrawResizer(85), Options{}, logging.Discard())

	report, err := gen.Generate(ctx, img)
	require.NoError(t, err)
	assert.Empty(t, report.Generated)
	assert.Empty(t, e.thumbnailHeights(t, img.ID))
}

type flakyResizer struct {
	*DrawResizer
	failHeight int
	delay      time.Duration
}

func (f *flakyResizer) Resize(data []byte, width, height int) ([]byte, error) {
	if height == f.failHeight {
		if f.delay > 0 {
			time.Sleep(f.delay)
		}
		return nil, errors.New("boom")
	}
	return f.DrawResizer.Resize(data, width, height)
}

func TestGenerator_PartialFailureIsIsolated(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.tiers.Upsert(ctx, tiers.Spec{Name: "Premium", Sizes: []uint{50, 100, 150}})
	require.NoError(t, err)

	img := e.upload(t, "Premium", testsupport.PNG(t, 400, 200))
	resizer := &flakyResizer{DrawResizer: NewDrawResizer(85), failHeight: 100}
	gen := NewGenerator(e.db, e.tiers, e.blobs, resizer, Options{Workers: 1}, logging.Discard())

	report, err := gen.Generate(ctx, img)
	require.NoError(t, err)
	assert.Equal(t, []uint{50, 150}, report.Generated)
	require.Contains(t, report.Failed, uint(100))
	assert.Equal(t, []string{"thumbnail 100: boom"}, report.Warnings())
	assert.Equal(t, []uint{50, 150}, e.thumbnailHeights(t, img.ID))

	_, err = e.blobs.Get(ctx, blob.ThumbnailKey(img.UserID, img.UUID, img.Filename, 100))
	assert.ErrorIs(t, err, blob.ErrNotFound)
}

func TestGenerator_TimeoutFailsOnlyThatSize(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.tiers.Upsert(ctx, tiers.Spec{Name: "Premium", Sizes: []uint{50, 100}})
	require.NoError(t, err)

	img := e.upload(t, "Premium", testsupport.PNG(t, 400, 200))
	resizer := &flakyResizer{DrawResizer: NewDrawResizer(85), failHeight: 100, delay: 500 * time.Millisecond}
	gen := NewGenerator(e.db, e.tiers, e.blobs, resizer, Options{Workers: 2, Timeout: 50 * time.Millisecond}, logging.Discard())

	report, err := gen.Generate(ctx, img)
	require.NoError(t, err)
	assert.Equal(t, []uint{50}, report.Generated)
	assert.Contains(t, report.Failed[100], context.DeadlineExceeded.Error())
}

func TestGenerator_CorruptOriginal(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.tiers.Upsert(ctx, tiers.Spec{Name: "Basic", Sizes: []uint{100}})
	require.NoError(t, err)

	img := e.upload(t, "Basic", []byte("definitely not a png"))
	gen := NewGenerator(e.db, e.tiers, e.blobs, NewDrawResizer(85), Options{}, logging.Discard())

	report, err := gen.Generate(ctx, img)
	require.NoError(t, err)
	assert.Empty(t, report.Generated)
	assert.Contains(t, report.Failed[100], apperr.ErrDecode.Error())
}

func TestGenerator_MissingOriginal(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.tiers.Upsert(ctx, tiers.Spec{Name: "Basic", Sizes: []uint{100}})
	require.NoError(t, err)

	img := e.upload(t, "Basic", testsupport.PNG(t, 10, 10))
	require.NoError(t, e.blobs.Delete(ctx, img.StorageKey))

	gen := NewGenerator(e.db, e.tiers, e.blobs, NewDrawResizer(85), Options{}, logging.Discard())
	_, err = gen.Generate(ctx, img)
	assert.ErrorIs(t, err, blob.ErrNotFound)
}

// blockingResizer hangs in Dimensions until release is closed.
type blockingResizer struct {
	*DrawResizer
	release chan struct{}
	started atomic.Int32
	running atomic.Int32
}

func (b *blockingResizer) Dimensions(data []byte) (int, int, error) {
	b.started.Add(1)
	b.running.Add(1)
	defer b.running.Add(-1)
	<-b.release
	return b.DrawResizer.Dimensions(data)
}

func TestGenerator_AbandonedDecodeKeepsWorkerSlot(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.tiers.Upsert(ctx, tiers.Spec{Name: "Premium", Sizes: []uint{50, 100, 150}})
	require.NoError(t, err)

	resizer := &blockingResizer{DrawResizer: NewDrawResizer(85), release: make(chan struct{})}
	gen := NewGenerator(e.db, e.tiers, e.blobs, resizer, Options{Workers: 1, Timeout: 50 * time.Millisecond}, logging.Discard())

	for i := 0; i < 3; i++ {
		img := e.upload(t, "Premium", testsupport.PNG(t, 400, 200))
		report, err := gen.Generate(ctx, img)
		require.NoError(t, err)
		assert.Empty(t, report.Generated)
		assert.Len(t, report.Failed, 3)
	}
	assert.Equal(t, int32(1), resizer.started.Load(), "only one decode may hold the single worker slot")
	assert.Equal(t, int32(1), resizer.running.Load())

	close(resizer.release)
	require.Eventually(t, func() bool { return resizer.running.Load() == 0 }, time.Second, 5*time.Millisecond)

	gen = NewGenerator(e.db, e.tiers, e.blobs, resizer, Options{Workers: 1, Timeout: 5 * time.Second}, logging.Discard())
	img := e.upload(t, "Premium", testsupport.PNG(t, 400, 200))
	report, err := gen.Generate(ctx, img)
	require.NoError(t, err)
	assert.Equal(t, []uint{50, 100, 150}, report.Generated)
}

func TestGenerator_RejectsOversizedOriginal(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.tiers.Upsert(ctx, tiers.Spec{Name: "Basic", Sizes: []uint{10}})
	require.NoError(t, err)

	img := e.upload(t, "Basic", testsupport.PNG(t, 40, 20))
	gen := NewGenerator(e.db, e.tiers, e.blobs, NewDrawResizer(85), Options{MaxPixels: 799}, logging.Discard())

	report, err := gen.Generate(ctx, img)
	require.NoError(t, err)
	assert.Empty(t, report.Generated)
	assert.Contains(t, report.Failed[10], apperr.ErrDecode.Error())
	assert.Contains(t, report.Failed[10], "pixel limit")

	gen = NewGenerator(e.db, e.tiers, e.blobs, NewDrawResizer(85), Options{MaxPixels: 800}, logging.Discard())
	img = e.upload(t, "Basic", testsupport.PNG(t, 40, 20))
	report, err = gen.Generate(ctx, img)
	require.NoError(t, err)
	assert.Equal(t, []uint{10}, report.Generated)
}
