// Package links issues and resolves expiring public links to an image's
// original.
//
// A link is valid while now is not after its expiry. Unknown, malformed and
// expired tokens all resolve to the same not-found outcome.
package links

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/petermazzocco/go-image-tiers/internal/apperr"
	"github.com/petermazzocco/go-image-tiers/internal/blob"
	"github.com/petermazzocco/go-image-tiers/internal/cache"
	"github.com/petermazzocco/go-image-tiers/internal/db"
	"github.com/petermazzocco/go-image-tiers/internal/metrics"
	"github.com/petermazzocco/go-image-tiers/internal/tiers"
	"github.com/petermazzocco/go-image-tiers/models"
	"gorm.io/gorm"
)

var errLinkNotFound = apperr.Wrap(apperr.ErrNotFound, "link does not exist or has expired")

// Resolved is a link ready to be served.
type Resolved struct {
	Data        []byte
	ContentType string
	ExpiresAt   time.Time
}

// Options configures a Manager.
type Options struct {
	MinSeconds int
	MaxSeconds int
	// Cache is optional.
	Cache cache.LinkCache
	// Now and NewToken default to time.Now and uuid.NewString.
	Now      func() time.Time
	NewToken func() string
}

// Manager issues and resolves temporary links.
type Manager struct {
	db         *gorm.DB
	blobs      blob.Store
	cache      cache.LinkCache
	minSeconds int
	maxSeconds int
	now        func() time.Time
	newToken   func() string
	logger     *slog.Logger
}

// NewManager creates a new Manager.
func NewManager(db *gorm.DB, blobs blob.Store, opts Options, logger *slog.Logger) *Manager {
	if opts.MinSeconds <= 0 {
		opts.MinSeconds = 1
	}
	if opts.MaxSeconds < opts.MinSeconds {
		opts.MaxSeconds = 30000
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewToken == nil {
		opts.NewToken = uuid.NewString
	}
	return &Manager{
		db:         db,
		blobs:      blobs,
		cache:      opts.Cache,
		minSeconds: opts.MinSeconds,
		maxSeconds: opts.MaxSeconds,
		now:        opts.Now,
		newToken:   opts.NewToken,
		logger:     logger,
	}
}

// Issue creates a link to img valid for seconds. The caller has already
// scoped img to owner; owner.Tier must be loaded.
func (m *Manager) Issue(ctx context.Context, owner *models.User, img *models.Image, seconds int) (*models.TemporaryLink, error) {
	if !tiers.CanGenerateLinks(owner.Tier) {
		return nil, apperr.Wrap(apperr.ErrPermissionDenied, "tier does not allow link generation")
	}
	if img.UserID != owner.ID {
		return nil, apperr.Wrap(apperr.ErrNotFound, "image %d", img.ID)
	}
	if seconds < m.minSeconds || seconds > m.maxSeconds {
		return nil, apperr.Wrap(apperr.ErrValidation, "seconds must be between %d and %d", m.minSeconds, m.maxSeconds)
	}

	now := m.now()
	link := &models.TemporaryLink{
		Token:     m.newToken(),
		ImageID:   img.ID,
		Seconds:   seconds,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Duration(seconds) * time.Second),
	}
	if err := m.db.WithContext(ctx).Create(link).Error; err != nil {
		if db.IsUniqueViolation(err) {
			return nil, apperr.Wrap(apperr.ErrConflict, "token collision")
		}
		return nil, fmt.Errorf("create link: %w", err)
	}

	metrics.LinksIssuedTotal.Inc()
	m.logger.Info("link issued", "image_id", img.ID, "expires_at", link.ExpiresAt)
	return link, nil
}

// Resolve returns the original bytes behind token. Tier policy is not
// consulted.
func (m *Manager) Resolve(ctx context.Context, token string) (*Resolved, error) {
	if _, err := uuid.Parse(token); err != nil {
		metrics.RecordResolution("not_found")
		return nil, errLinkNotFound
	}

	entry, err := m.lookup(ctx, token)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			metrics.RecordResolution("not_found")
		}
		return nil, err
	}
	if m.now().After(entry.ExpiresAt) {
		metrics.RecordResolution("expired")
		return nil, errLinkNotFound
	}

	data, err := m.blobs.Get(ctx, entry.ImageKey)
	if errors.Is(err, blob.ErrNotFound) {
		m.logger.Warn("link points to a missing blob", "key", entry.ImageKey)
		metrics.RecordResolution("not_found")
		return nil, errLinkNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read original: %w", err)
	}

	contentType := entry.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	metrics.RecordResolution("resolved")
	return &Resolved{Data: data, ContentType: contentType, ExpiresAt: entry.ExpiresAt}, nil
}

// ListActive returns the owner's links that have not expired, newest first.
func (m *Manager) ListActive(ctx context.Context, ownerID uint) ([]models.TemporaryLink, error) {
	var out []models.TemporaryLink
	err := m.db.WithContext(ctx).
		Joins("JOIN images ON images.id = temporary_links.image_id").
		Where("images.user_id = ? AND temporary_links.expires_at >= ?", ownerID, m.now()).
		Order("temporary_links.created_at DESC, temporary_links.id DESC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	return out, nil
}

// Invalidate drops cached resolutions of tokens whose rows were deleted.
// Without a cache it does nothing.
func (m *Manager) Invalidate(ctx context.Context, tokens ...string) {
	if m.cache == nil {
		return
	}
	for _, token := range tokens {
		if err := m.cache.Delete(ctx, token); err != nil {
			m.logger.Warn("link cache delete failed", "error", err)
		}
	}
}

func (m *Manager) lookup(ctx context.Context, token string) (cache.LinkEntry, error) {
	if m.cache != nil {
		entry, err := m.cache.Get(ctx, token)
		if err == nil {
			return entry, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			m.logger.Warn("link cache read failed", "error", err)
		}
	}

	var link models.TemporaryLink
	err := m.db.WithContext(ctx).Preload("Image").Where("token = ?", token).First(&link).Error
	if db.IsNotFound(err) {
		return cache.LinkEntry{}, errLinkNotFound
	}
	if err != nil {
		return cache.LinkEntry{}, fmt.Errorf("lookup link: %w", err)
	}
	if link.Image == nil {
		return cache.LinkEntry{}, errLinkNotFound
	}

	entry := cache.LinkEntry{
		ImageKey:    link.Image.StorageKey,
		ContentType: link.Image.MimeType,
		ExpiresAt:   link.ExpiresAt,
	}
	if m.cache != nil && !m.now().After(entry.ExpiresAt) {
		if err := m.cache.Set(ctx, token, entry); err != nil {
			m.logger.Warn("link cache write failed", "error", err)
		}
	}
	return entry, nil
}
