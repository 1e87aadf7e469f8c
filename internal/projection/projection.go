// Package projection computes which artifacts of an image are visible under
// the owner's current tier.
package projection

import (
	"context"
	"fmt"
	"strconv"

	"github.com/petermazzocco/go-image-tiers/internal/apperr"
	"github.com/petermazzocco/go-image-tiers/internal/blob"
	"github.com/petermazzocco/go-image-tiers/internal/db"
	"github.com/petermazzocco/go-image-tiers/internal/tiers"
	"github.com/petermazzocco/go-image-tiers/models"
	"gorm.io/gorm"
)

// LabelOriginal is the artifact label of the uploaded original.
const LabelOriginal = "original"

// Artifacts maps a label ("original" or a thumbnail height) to its URL.
type Artifacts map[string]string

var errNotExposed = apperr.Wrap(apperr.ErrNotFound, "no such media")

// Projector reads tier membership fresh on every call.
type Projector struct {
	db    *gorm.DB
	tiers *tiers.Store
	blobs blob.Store
}

// NewProjector creates a new Projector.
func NewProjector(db *gorm.DB, tierStore *tiers.Store, blobs blob.Store) *Projector {
	return &Projector{db: db, tiers: tierStore, blobs: blobs}
}

// Project returns the artifacts of img visible to its owner right now. An
// image with nothing visible yields an empty map.
func (p *Projector) Project(ctx context.Context, img *models.Image) (Artifacts, error) {
	all, err := p.ProjectAll(ctx, img.UserID, []models.Image{*img})
	if err != nil {
		return nil, err
	}
	return all[img.ID], nil
}

// ProjectAll projects images that all belong to ownerID. The owner, its
// permitted sizes and the thumbnails are each read once, however many
// images there are. Every image gets an entry, possibly empty.
func (p *Projector) ProjectAll(ctx context.Context, ownerID uint, imgs []models.Image) (map[uint]Artifacts, error) {
	out := make(map[uint]Artifacts, len(imgs))
	if len(imgs) == 0 {
		return out, nil
	}

	var owner models.User
	if err := p.db.WithContext(ctx).Preload("Tier").First(&owner, ownerID).Error; err != nil {
		return nil, fmt.Errorf("load owner %d: %w", ownerID, err)
	}

	ids := make([]uint, 0, len(imgs))
	for _, img := range imgs {
		if img.UserID != ownerID {
			return nil, fmt.Errorf("image %d does not belong to user %d", img.ID, ownerID)
		}
		arts := Artifacts{}
		if tiers.CanServeOriginal(owner.Tier) {
			arts[LabelOriginal] = p.blobs.URL(img.StorageKey)
		}
		out[img.ID] = arts
		ids = append(ids, img.ID)
	}

	permitted, err := p.tiers.PermittedSizes(ctx, owner.TierID)
	if err != nil {
		return nil, err
	}
	if len(permitted) == 0 {
		return out, nil
	}
	allowed := make(map[uint]bool, len(permitted))
	for _, s := range permitted {
		allowed[s.ID] = true
	}

	var thumbs []models.Thumbnail
	err = p.db.WithContext(ctx).
		Preload("Size").
		Where("image_id IN ?", ids).
		Order("id").
		Find(&thumbs).Error
	if err != nil {
		return nil, fmt.Errorf("list thumbnails of user %d: %w", ownerID, err)
	}
	for _, th := range thumbs {
		if !allowed[th.SizeID] {
			continue
		}
		out[th.ImageID][strconv.FormatUint(uint64(th.Size.Height), 10)] = p.blobs.URL(th.StorageKey)
	}
	return out, nil
}

// Exposed returns the content type of the blob under key if a projection
// hands that key out right now: a thumbnail of a size the owner's tier
// permits, or an original whose owner's tier serves originals. Every other
// key is reported as not found.
func (p *Projector) Exposed(ctx context.Context, key string) (string, error) {
	var th models.Thumbnail
	err := p.db.WithContext(ctx).Preload("Image").Where("storage_key = ?", key).First(&th).Error
	switch {
	case err == nil:
		if th.Image == nil {
			return "", errNotExposed
		}
		owner, err := p.owner(ctx, th.Image.UserID)
		if err != nil {
			return "", err
		}
		permitted, err := p.tiers.PermittedSizes(ctx, owner.TierID)
		if err != nil {
			return "", err
		}
		for _, s := range permitted {
			if s.ID == th.SizeID {
				return "image/jpeg", nil
			}
		}
		return "", errNotExposed
	case !db.IsNotFound(err):
		return "", fmt.Errorf("lookup thumbnail: %w", err)
	}

	var img models.Image
	err = p.db.WithContext(ctx).Where("storage_key = ?", key).First(&img).Error
	if db.IsNotFound(err) {
		return "", errNotExposed
	}
	if err != nil {
		return "", fmt.Errorf("lookup image: %w", err)
	}
	owner, err := p.owner(ctx, img.UserID)
	if err != nil {
		return "", err
	}
	if !tiers.CanServeOriginal(owner.Tier) {
		return "", errNotExposed
	}
	return img.MimeType, nil
}

func (p *Projector) owner(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	err := p.db.WithContext(ctx).Preload("Tier").First(&u, id).Error
	if db.IsNotFound(err) {
		return nil, errNotExposed
	}
	if err != nil {
		return nil, fmt.Errorf("load owner %d: %w", id, err)
	}
	return &u, nil
}
