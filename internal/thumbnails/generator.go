// Package thumbnails derives the tier-permitted thumbnails of a new image.
//
// Generate runs once per image, from the image create path only. Each
// permitted size is derived independently: a failure for one size is logged
// and reported but never undoes sizes that already completed.
package thumbnails

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/petermazzocco/go-image-tiers/internal/apperr"
	"github.com/petermazzocco/go-image-tiers/internal/blob"
	"github.com/petermazzocco/go-image-tiers/internal/db"
	"github.com/petermazzocco/go-image-tiers/internal/metrics"
	"github.com/petermazzocco/go-image-tiers/internal/tiers"
	"github.com/petermazzocco/go-image-tiers/models"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"gorm.io/gorm"
)

// Report summarizes one Generate call.
type Report struct {
	Generated []uint          `json:"generated"`
	Failed    map[uint]string `json:"failed,omitempty"`

	// Err is set when derivation could not start at all.
	Err string `json:"error,omitempty"`
}

// Aborted returns a Report for a Generate call that failed before any size
// was attempted.
func Aborted(err error) *Report {
	return &Report{Generated: []uint{}, Failed: map[uint]string{}, Err: err.Error()}
}

// Warnings renders the failed sizes as messages for the upload response.
func (r *Report) Warnings() []string {
	if r == nil {
		return nil
	}
	var out []string
	if r.Err != "" {
		out = append(out, "thumbnails: "+r.Err)
	}
	if len(r.Failed) == 0 {
		return out
	}
	heights := make([]uint, 0, len(r.Failed))
	for h := range r.Failed {
		heights = append(heights, h)
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] < heights[j] })

	for _, h := range heights {
		out = append(out, fmt.Sprintf("thumbnail %d: %s", h, r.Failed[h]))
	}
	return out
}

// Options tunes the Generator.
type Options struct {
	// Workers bounds concurrent decodes across all images. A slot stays
	// taken until its decode returns, even when the size already timed out.
	Workers int
	// Timeout bounds a single size's derivation, including the wait for a
	// worker slot.
	Timeout time.Duration
	// MaxPixels rejects originals whose width×height exceeds it before they
	// are decoded.
	MaxPixels int64
}

// DefaultMaxPixels is used when Options.MaxPixels is zero.
const DefaultMaxPixels = 50_000_000

// Generator writes one thumbnail blob and record per permitted size.
type Generator struct {
	db        *gorm.DB
	tiers     *tiers.Store
	blobs     blob.Store
	resizer   Resizer
	sem       *semaphore.Weighted
	timeout   time.Duration
	maxPixels int64
	logger    *slog.Logger
}

// NewGenerator creates a new Generator.
func NewGenerator(db *gorm.DB, tierStore *tiers.Store, blobs blob.Store, resizer Resizer, opts Options, logger *slog.Logger) *Generator {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxPixels <= 0 {
		opts.MaxPixels = DefaultMaxPixels
	}
	return &Generator{
		db:        db,
		tiers:     tierStore,
		blobs:     blobs,
		resizer:   resizer,
		sem:       semaphore.NewWeighted(int64(opts.Workers)),
		timeout:   opts.Timeout,
		maxPixels: opts.MaxPixels,
		logger:    logger,
	}
}

// Generate derives every size permitted by the owner's tier at this moment.
// The returned error is non-nil only when nothing could be attempted (the
// owner or the original blob could not be read); per-size failures are in
// the Report.
func (g *Generator) Generate(ctx context.Context, img *models.Image) (*Report, error) {
	var tierID uint
	err := g.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", img.UserID).Pluck("tier_id", &tierID).Error
	if err != nil {
		return nil, fmt.Errorf("owner tier of image %d: %w", img.ID, err)
	}
	sizes, err := g.tiers.PermittedSizes(ctx, tierID)
	if err != nil {
		return nil, err
	}

	report := &Report{Generated: []uint{}, Failed: map[uint]string{}}
	if len(sizes) == 0 {
		return report, nil
	}

	original, err := g.blobs.Get(ctx, img.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("read original %q: %w", img.StorageKey, err)
	}

	var mu sync.Mutex
	eg, egCtx := errgroup.WithContext(ctx)
	for _, size := range sizes {
		size := size
		eg.Go(func() error {
			err := g.derive(egCtx, img, size, original)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				g.logger.Warn("thumbnail derivation failed",
					slog.Uint64("image_id", uint64(img.ID)),
					slog.Uint64("height", uint64(size.Height)),
					slog.String("error", err.Error()))
				report.Failed[size.Height] = err.Error()
				return nil // isolated per size
			}
			report.Generated = append(report.Generated, size.Height)
			return nil
		})
	}
	_ = eg.Wait()

	sort.Slice(report.Generated, func(i, j int) bool { return report.Generated[i] < report.Generated[j] })
	g.logger.Info("thumbnails generated",
		slog.Uint64("image_id", uint64(img.ID)),
		slog.Int("generated", len(report.Generated)),
		slog.Int("failed", len(report.Failed)))
	return report, nil
}

func (g *Generator) derive(ctx context.Context, img *models.Image, size models.Size, original []byte) (err error) {
	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "failed"
		}
		metrics.RecordDerivation(status, time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	data, err := g.resize(ctx, original, size.Height)
	if err != nil {
		return err
	}

	key := blob.ThumbnailKey(img.UserID, img.UUID, img.Filename, size.Height)
	if err := g.blobs.Put(ctx, key, data, "image/jpeg"); err != nil {
		return fmt.Errorf("put thumbnail: %w", err)
	}

	thumb := models.Thumbnail{ImageID: img.ID, SizeID: size.ID, StorageKey: key}
	if err := g.db.WithContext(ctx).Create(&thumb).Error; err != nil {
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("thumbnail for size %d already exists", size.Height)
		}
		return fmt.Errorf("save thumbnail: %w", err)
	}
	return nil
}

// resize runs the CPU-bound decode and scale on a worker slot so that the
// caller can give up once ctx expires. The slot is released by the worker
// goroutine itself, so abandoned decodes still count against Workers.
func (g *Generator) resize(ctx context.Context, original []byte, height uint) ([]byte, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("derive height %d: waiting for worker: %w", height, err)
	}

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		defer g.sem.Release(1)

		w, h, err := g.resizer.Dimensions(original)
		if err != nil {
			done <- result{err: err}
			return
		}
		if int64(w)*int64(h) > g.maxPixels {
			done <- result{err: apperr.Wrap(apperr.ErrDecode, "image is %dx%d, above the %d pixel limit", w, h, g.maxPixels)}
			return
		}
		tw, th := TargetSize(w, h, height)
		data, err := g.resizer.Resize(original, tw, th)
		done <- result{data: data, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("derive height %d: %w", height, ctx.Err())
	case r := <-done:
		return r.data, r.err
	}
}
