// Package tiers holds account tiers and the thumbnail sizes each tier permits.
package tiers

import (
	"context"
	"fmt"

	"github.com/petermazzocco/go-image-tiers/internal/apperr"
	"github.com/petermazzocco/go-image-tiers/internal/db"
	"github.com/petermazzocco/go-image-tiers/models"
	"gorm.io/gorm"
)

// Store is the tier policy store.
type Store struct {
	db *gorm.DB
}

// NewStore creates a new tier Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// CanGenerateLinks is the authorization predicate for issuing expiring links.
func CanGenerateLinks(t *models.AccountTier) bool {
	return t != nil && t.AllowLinkGeneration
}

// CanServeOriginal reports whether owners on t see their original upload.
func CanServeOriginal(t *models.AccountTier) bool {
	return t != nil && t.ServeOriginal
}

// GetByName returns the tier with its sizes loaded.
func (s *Store) GetByName(ctx context.Context, name string) (*models.AccountTier, error) {
	var tier models.AccountTier
	err := s.db.WithContext(ctx).
		Preload("ThumbnailSizes", func(tx *gorm.DB) *gorm.DB { return tx.Order("height") }).
		Where("name = ?", name).
		First(&tier).Error
	if db.IsNotFound(err) {
		return nil, apperr.Wrap(apperr.ErrNotFound, "tier %q does not exist", name)
	}
	if err != nil {
		return nil, fmt.Errorf("get tier %q: %w", name, err)
	}
	return &tier, nil
}

// GetByID returns the tier with its sizes loaded.
func (s *Store) GetByID(ctx context.Context, id uint) (*models.AccountTier, error) {
	var tier models.AccountTier
	err := s.db.WithContext(ctx).
		Preload("ThumbnailSizes", func(tx *gorm.DB) *gorm.DB { return tx.Order("height") }).
		First(&tier, id).Error
	if db.IsNotFound(err) {
		return nil, apperr.Wrap(apperr.ErrNotFound, "tier %d does not exist", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get tier %d: %w", id, err)
	}
	return &tier, nil
}

// List returns all tiers ordered by name.
func (s *Store) List(ctx context.Context) ([]models.AccountTier, error) {
	var tiers []models.AccountTier
	err := s.db.WithContext(ctx).
		Preload("ThumbnailSizes", func(tx *gorm.DB) *gorm.DB { return tx.Order("height") }).
		Order("name").
		Find(&tiers).Error
	if err != nil {
		return nil, fmt.Errorf("list tiers: %w", err)
	}
	return tiers, nil
}

// PermittedSizes reads the tier's current sizes straight from the join
// table. Nothing is cached: membership may change between calls.
func (s *Store) PermittedSizes(ctx context.Context, tierID uint) ([]models.Size, error) {
	var sizes []models.Size
	err := s.db.WithContext(ctx).
		Model(&models.Size{}).
		Select("sizes.id, sizes.height").
		Joins("JOIN tier_sizes ON tier_sizes.size_id = sizes.id").
		Where("tier_sizes.account_tier_id = ?", tierID).
		Order("sizes.height").
		Find(&sizes).Error
	if err != nil {
		return nil, fmt.Errorf("permitted sizes for tier %d: %w", tierID, err)
	}
	return sizes, nil
}

// EnsureSize returns the Size row for height, creating it if needed.
func (s *Store) EnsureSize(ctx context.Context, height uint) (*models.Size, error) {
	if height < models.MinSizeHeight || height > models.MaxSizeHeight {
		return nil, apperr.Wrap(apperr.ErrValidation, "size %d outside %d..%d", height, models.MinSizeHeight, models.MaxSizeHeight)
	}
	size := models.Size{Height: height}
	if err := s.db.WithContext(ctx).Where("height = ?", height).FirstOrCreate(&size).Error; err != nil {
		return nil, fmt.Errorf("ensure size %d: %w", height, err)
	}
	return &size, nil
}

// Upsert creates the tier described by spec or updates its flags, then
// replaces its size set.
func (s *Store) Upsert(ctx context.Context, spec Spec) (*models.AccountTier, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	var tier *models.AccountTier
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txStore := &Store{db: tx}

		sizes := make([]models.Size, 0, len(spec.Sizes))
		for _, h := range spec.Sizes {
			size, err := txStore.EnsureSize(ctx, h)
			if err != nil {
				return err
			}
			sizes = append(sizes, *size)
		}

		var existing models.AccountTier
		err := tx.Where("name = ?", spec.Name).First(&existing).Error
		switch {
		case db.IsNotFound(err):
			existing = models.AccountTier{
				Name:                spec.Name,
				ServeOriginal:       spec.ServeOriginal,
				AllowLinkGeneration: spec.AllowLinkGeneration,
			}
			if err := tx.Create(&existing).Error; err != nil {
				return fmt.Errorf("create tier %q: %w", spec.Name, err)
			}
		case err != nil:
			return fmt.Errorf("get tier %q: %w", spec.Name, err)
		default:
			err := tx.Model(&existing).Updates(map[string]any{
				"serve_original":        spec.ServeOriginal,
				"allow_link_generation": spec.AllowLinkGeneration,
			}).Error
			if err != nil {
				return fmt.Errorf("update tier %q: %w", spec.Name, err)
			}
		}

		if err := txStore.replaceSizes(&existing, sizes); err != nil {
			return err
		}
		tier = &existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetByID(ctx, tier.ID)
}

// SetSizes replaces the permitted sizes of the named tier. Thumbnails that
// already exist are left in storage; projections simply stop showing them.
func (s *Store) SetSizes(ctx context.Context, name string, heights []uint) (*models.AccountTier, error) {
	tier, err := s.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.Upsert(ctx, Spec{
		Name:                tier.Name,
		Sizes:               heights,
		ServeOriginal:       tier.ServeOriginal,
		AllowLinkGeneration: tier.AllowLinkGeneration,
	})
}

// Seed applies every spec in one transaction. Running it again with the same
// input is a no-op.
func (s *Store) Seed(ctx context.Context, specs []Spec) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txStore := &Store{db: tx}
		for _, spec := range specs {
			if _, err := txStore.Upsert(ctx, spec); err != nil {
				return fmt.Errorf("seed tier %q: %w", spec.Name, err)
			}
		}
		return nil
	})
}

// SeedMissing creates the tiers in specs that do not exist yet and leaves
// existing ones untouched, so edits made after the first seed survive
// restarts. It returns the number of tiers created.
func (s *Store) SeedMissing(ctx context.Context, specs []Spec) (int, error) {
	created := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txStore := &Store{db: tx}
		for _, spec := range specs {
			var count int64
			if err := tx.Model(&models.AccountTier{}).Where("name = ?", spec.Name).Count(&count).Error; err != nil {
				return fmt.Errorf("check tier %q: %w", spec.Name, err)
			}
			if count > 0 {
				continue
			}
			if _, err := txStore.Upsert(ctx, spec); err != nil {
				return fmt.Errorf("seed tier %q: %w", spec.Name, err)
			}
			created++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return created, nil
}

func (s *Store) replaceSizes(tier *models.AccountTier, sizes []models.Size) error {
	assoc := s.db.Model(tier).Association("ThumbnailSizes")
	var err error
	if len(sizes) == 0 {
		err = assoc.Clear()
	} else {
		err = assoc.Replace(sizes)
	}
	if err != nil {
		return fmt.Errorf("replace sizes of tier %q: %w", tier.Name, err)
	}
	return nil
}
