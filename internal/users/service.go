// Package users manages accounts and their tier assignment.
package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/petermazzocco/go-image-tiers/internal/apperr"
	"github.com/petermazzocco/go-image-tiers/internal/blob"
	"github.com/petermazzocco/go-image-tiers/internal/db"
	"github.com/petermazzocco/go-image-tiers/internal/tiers"
	"github.com/petermazzocco/go-image-tiers/models"
	"gorm.io/gorm"
)

// LinkInvalidator drops cached resolutions of deleted links.
type LinkInvalidator interface {
	Invalidate(ctx context.Context, tokens ...string)
}

// Service contains business logic for user management.
type Service struct {
	db          *gorm.DB
	tiers       *tiers.Store
	blobs       blob.Store
	links       LinkInvalidator
	defaultTier string
	logger      *slog.Logger
}

// NewService creates a new user Service. defaultTier names the tier given
// to users created without an explicit one. links may be nil.
func NewService(db *gorm.DB, tierStore *tiers.Store, blobs blob.Store, links LinkInvalidator, defaultTier string, logger *slog.Logger) *Service {
	if defaultTier == "" {
		defaultTier = models.DefaultTierName
	}
	return &Service{db: db, tiers: tierStore, blobs: blobs, links: links, defaultTier: defaultTier, logger: logger}
}

// Create registers a new user. An empty tierName selects the default tier;
// if that tier has not been seeded the call fails with ErrConfiguration and
// nothing is written.
func (s *Service) Create(ctx context.Context, name, email, tierName string) (*models.User, error) {
	tier, err := s.resolveTier(ctx, tierName)
	if err != nil {
		return nil, err
	}

	u := &models.User{Name: name, Email: email, TierID: tier.ID}
	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		if db.IsUniqueViolation(err) {
			return nil, apperr.Wrap(apperr.ErrConflict, "user %q already exists", email)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	u.Tier = tier
	s.logger.Info("user created", "user_id", u.ID, "tier", tier.Name)
	return u, nil
}

// FindOrCreate returns the user registered under email, creating it on the
// default tier when absent. Used by the OAuth callback.
func (s *Service) FindOrCreate(ctx context.Context, name, email string) (*models.User, error) {
	u, err := s.GetByEmail(ctx, email)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	return s.Create(ctx, name, email, "")
}

// GetByID returns a user with the tier and its sizes loaded.
func (s *Service) GetByID(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	err := s.withTier(ctx).First(&u, id).Error
	if db.IsNotFound(err) {
		return nil, apperr.Wrap(apperr.ErrNotFound, "user %d", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	return &u, nil
}

// GetByEmail returns a user with the tier and its sizes loaded.
func (s *Service) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := s.withTier(ctx).Where("email = ?", email).First(&u).Error
	if db.IsNotFound(err) {
		return nil, apperr.Wrap(apperr.ErrNotFound, "user %q", email)
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return &u, nil
}

// SetTier moves a user to another tier. Existing thumbnails are not
// regenerated; projections pick up the new policy on the next read.
func (s *Service) SetTier(ctx context.Context, userID uint, tierName string) (*models.User, error) {
	tier, err := s.tiers.GetByName(ctx, tierName)
	if err != nil {
		return nil, err
	}
	res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Update("tier_id", tier.ID)
	if res.Error != nil {
		return nil, fmt.Errorf("set tier: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, apperr.Wrap(apperr.ErrNotFound, "user %d", userID)
	}
	s.logger.Info("user tier changed", "user_id", userID, "tier", tier.Name)
	return s.GetByID(ctx, userID)
}

// Delete removes the user together with their images, thumbnails and links.
// Rows go in one transaction; blobs are removed afterwards, best effort.
func (s *Service) Delete(ctx context.Context, userID uint) error {
	var keys, tokens []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var imageIDs []uint
		if err := tx.Model(&models.Image{}).Where("user_id = ?", userID).Pluck("id", &imageIDs).Error; err != nil {
			return fmt.Errorf("list images: %w", err)
		}
		if len(imageIDs) > 0 {
			var originals, thumbs []string
			if err := tx.Model(&models.Image{}).Where("id IN ?", imageIDs).Pluck("storage_key", &originals).Error; err != nil {
				return fmt.Errorf("list image keys: %w", err)
			}
			if err := tx.Model(&models.Thumbnail{}).Where("image_id IN ?", imageIDs).Pluck("storage_key", &thumbs).Error; err != nil {
				return fmt.Errorf("list thumbnail keys: %w", err)
			}
			keys = append(originals, thumbs...)

			if err := tx.Model(&models.TemporaryLink{}).Where("image_id IN ?", imageIDs).Pluck("token", &tokens).Error; err != nil {
				return fmt.Errorf("list links: %w", err)
			}

			if err := tx.Where("image_id IN ?", imageIDs).Delete(&models.TemporaryLink{}).Error; err != nil {
				return fmt.Errorf("delete links: %w", err)
			}
			if err := tx.Where("image_id IN ?", imageIDs).Delete(&models.Thumbnail{}).Error; err != nil {
				return fmt.Errorf("delete thumbnails: %w", err)
			}
			if err := tx.Where("id IN ?", imageIDs).Delete(&models.Image{}).Error; err != nil {
				return fmt.Errorf("delete images: %w", err)
			}
		}

		res := tx.Delete(&models.User{}, userID)
		if res.Error != nil {
			return fmt.Errorf("delete user: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return apperr.Wrap(apperr.ErrNotFound, "user %d", userID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if s.links != nil && len(tokens) > 0 {
		s.links.Invalidate(ctx, tokens...)
	}

	for _, key := range keys {
		if err := s.blobs.Delete(ctx, key); err != nil {
			s.logger.Warn("failed to delete blob", "key", key, "error", err)
		}
	}
	s.logger.Info("user deleted", "user_id", userID, "blobs", len(keys))
	return nil
}

func (s *Service) resolveTier(ctx context.Context, tierName string) (*models.AccountTier, error) {
	if tierName != "" {
		return s.tiers.GetByName(ctx, tierName)
	}
	tier, err := s.tiers.GetByName(ctx, s.defaultTier)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.Wrap(apperr.ErrConfiguration, "default tier %q is not seeded", s.defaultTier)
	}
	return tier, err
}

func (s *Service) withTier(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).
		Preload("Tier").
		Preload("Tier.ThumbnailSizes", func(tx *gorm.DB) *gorm.DB { return tx.Order("height") })
}
