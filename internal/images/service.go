// Package images handles uploads and owner-scoped access to images.
package images

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/petermazzocco/go-image-tiers/internal/apperr"
	"github.com/petermazzocco/go-image-tiers/internal/blob"
	"github.com/petermazzocco/go-image-tiers/internal/db"
	"github.com/petermazzocco/go-image-tiers/internal/metrics"
	"github.com/petermazzocco/go-image-tiers/internal/thumbnails"
	"github.com/petermazzocco/go-image-tiers/models"
	"gorm.io/gorm"
)

// Upload is a file received from a client. ContentType is what the client
// claimed; the stored type always comes from the bytes.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// extensionTypes maps an accepted extension to the only content type the
// file's bytes may sniff as.
var extensionTypes = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
}

// LinkInvalidator drops cached resolutions of deleted links.
type LinkInvalidator interface {
	Invalidate(ctx context.Context, tokens ...string)
}

// Options configures upload validation and link cleanup.
type Options struct {
	AllowedExtensions []string
	MaxBytes          int64
	// Links is told about link tokens removed with an image. Optional.
	Links LinkInvalidator
}

// Service contains business logic for images.
type Service struct {
	db         *gorm.DB
	blobs      blob.Store
	generator  *thumbnails.Generator
	extensions []string
	maxBytes   int64
	links      LinkInvalidator
	logger     *slog.Logger
}

// NewService creates a new image Service.
func NewService(db *gorm.DB, blobs blob.Store, generator *thumbnails.Generator, opts Options, logger *slog.Logger) *Service {
	exts := opts.AllowedExtensions
	if len(exts) == 0 {
		exts = []string{"jpg", "png"}
	}
	return &Service{
		db:         db,
		blobs:      blobs,
		generator:  generator,
		extensions: exts,
		maxBytes:   opts.MaxBytes,
		links:      opts.Links,
		logger:     logger,
	}
}

// Create stores the original, records the image and derives its thumbnails.
// Thumbnail failures do not fail the upload; they come back in the Report.
func (s *Service) Create(ctx context.Context, userID uint, up Upload) (*models.Image, *thumbnails.Report, error) {
	filename, contentType, err := s.validate(up)
	if err != nil {
		metrics.RecordUpload("rejected")
		return nil, nil, err
	}

	imageUUID := uuid.New().String()
	img := &models.Image{
		UUID:       imageUUID,
		UserID:     userID,
		Filename:   filename,
		StorageKey: blob.OriginalKey(userID, imageUUID, filename),
		MimeType:   contentType,
	}

	if err := s.blobs.Put(ctx, img.StorageKey, up.Data, contentType); err != nil {
		metrics.RecordUpload("failed")
		return nil, nil, fmt.Errorf("store original: %w", err)
	}
	if err := s.db.WithContext(ctx).Create(img).Error; err != nil {
		if delErr := s.blobs.Delete(ctx, img.StorageKey); delErr != nil {
			s.logger.Warn("failed to remove orphaned original", "key", img.StorageKey, "error", delErr)
		}
		metrics.RecordUpload("failed")
		return nil, nil, fmt.Errorf("save image: %w", err)
	}
	s.logger.Info("image uploaded", "image_id", img.ID, "user_id", userID, "key", img.StorageKey)

	// Runs exactly once per image, here on the create path.
	report, err := s.generator.Generate(ctx, img)
	if err != nil {
		s.logger.Error("thumbnail generation aborted", "image_id", img.ID, "error", err)
		report = thumbnails.Aborted(err)
	}
	metrics.RecordUpload("accepted")
	return img, report, nil
}

// List returns the user's images, newest first.
func (s *Service) List(ctx context.Context, userID uint) ([]models.Image, error) {
	var images []models.Image
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Find(&images).Error
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	return images, nil
}

// Get returns one of the user's images. Images owned by someone else are
// reported as not found.
func (s *Service) Get(ctx context.Context, userID, imageID uint) (*models.Image, error) {
	var img models.Image
	err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", imageID, userID).First(&img).Error
	if db.IsNotFound(err) {
		return nil, apperr.Wrap(apperr.ErrNotFound, "image %d", imageID)
	}
	if err != nil {
		return nil, fmt.Errorf("get image %d: %w", imageID, err)
	}
	return &img, nil
}

// Delete removes one of the user's images with its thumbnails and links.
func (s *Service) Delete(ctx context.Context, userID, imageID uint) error {
	img, err := s.Get(ctx, userID, imageID)
	if err != nil {
		return err
	}

	var thumbKeys, tokens []string
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Thumbnail{}).Where("image_id = ?", img.ID).Pluck("storage_key", &thumbKeys).Error; err != nil {
			return fmt.Errorf("list thumbnails: %w", err)
		}
		if err := tx.Model(&models.TemporaryLink{}).Where("image_id = ?", img.ID).Pluck("token", &tokens).Error; err != nil {
			return fmt.Errorf("list links: %w", err)
		}
		if err := tx.Where("image_id = ?", img.ID).Delete(&models.TemporaryLink{}).Error; err != nil {
			return fmt.Errorf("delete links: %w", err)
		}
		if err := tx.Where("image_id = ?", img.ID).Delete(&models.Thumbnail{}).Error; err != nil {
			return fmt.Errorf("delete thumbnails: %w", err)
		}
		if err := tx.Delete(img).Error; err != nil {
			return fmt.Errorf("delete image: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if s.links != nil && len(tokens) > 0 {
		s.links.Invalidate(ctx, tokens...)
	}

	for _, key := range append(thumbKeys, img.StorageKey) {
		if err := s.blobs.Delete(ctx, key); err != nil {
			s.logger.Warn("failed to delete blob", "key", key, "error", err)
		}
	}
	s.logger.Info("image deleted", "image_id", img.ID, "user_id", userID)
	return nil
}

// validate returns the cleaned filename and the content type sniffed from
// the data.
func (s *Service) validate(up Upload) (string, string, error) {
	name := filepath.Base(strings.TrimSpace(up.Filename))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "", "", apperr.Wrap(apperr.ErrValidation, "missing filename")
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if !slices.Contains(s.extensions, ext) {
		return "", "", apperr.Wrap(apperr.ErrValidation, "file extension %q is not allowed; allowed extensions are: %s",
			ext, strings.Join(s.extensions, ", "))
	}
	if len(up.Data) == 0 {
		return "", "", apperr.Wrap(apperr.ErrValidation, "empty file")
	}
	if s.maxBytes > 0 && int64(len(up.Data)) > s.maxBytes {
		return "", "", apperr.Wrap(apperr.ErrValidation, "file exceeds %d bytes", s.maxBytes)
	}

	want, ok := extensionTypes[ext]
	if !ok {
		return "", "", apperr.Wrap(apperr.ErrValidation, "file extension %q is not an image type", ext)
	}
	sniffed := http.DetectContentType(up.Data)
	if sniffed != want {
		return "", "", apperr.Wrap(apperr.ErrValidation, "file content is %s, expected %s for .%s", sniffed, want, ext)
	}
	return name, sniffed, nil
}
