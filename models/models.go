package models

import (
	"time"
)

// DefaultTierName is the tier assigned to users created without one.
const DefaultTierName = "Basic"

// Size bounds for thumbnail heights.
const (
	MinSizeHeight = 1
	MaxSizeHeight = 2000
)

type User struct {
	ID        uint `gorm:"primarykey"`
	CreatedAt time.Time
	UpdatedAt time.Time
	Name      string       `gorm:"size:255;not null"`
	Email     string       `gorm:"size:255;not null;unique"`
	TierID    uint         `gorm:"not null;index"`
	Tier      *AccountTier `json:"tier,omitempty" gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT;"`
	Images    []Image      `json:"-"`
}

type AccountTier struct {
	ID                  uint `gorm:"primarykey"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
	Name                string `gorm:"size:50;not null;uniqueIndex"`
	ThumbnailSizes      []Size `json:"thumbnail_sizes" gorm:"many2many:tier_sizes;"`
	ServeOriginal       bool   `gorm:"not null;default:false"`
	AllowLinkGeneration bool   `gorm:"not null;default:false"`
}

type Size struct {
	ID     uint `gorm:"primarykey"`
	Height uint `gorm:"not null;uniqueIndex"`
}

type Image struct {
	ID         uint   `gorm:"primarykey"`
	UUID       string `gorm:"type:uuid;uniqueIndex"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
	UserID     uint   `gorm:"not null;index"`
	User       *User  `json:"user,omitempty" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	Filename   string `gorm:"size:255;not null"`
	StorageKey string `gorm:"size:1024;not null"`
	MimeType   string `gorm:"size:127"`
}

// Thumbnail is a derived artifact; at most one exists per (image, size).
type Thumbnail struct {
	ID         uint `gorm:"primarykey"`
	CreatedAt  time.Time
	ImageID    uint   `gorm:"not null;uniqueIndex:idx_thumbnail_image_size"`
	Image      *Image `json:"-" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	SizeID     uint   `gorm:"not null;uniqueIndex:idx_thumbnail_image_size"`
	Size       *Size  `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT;"`
	StorageKey string `gorm:"size:1024;not null"`
}

// TemporaryLink grants public access to one image's original until ExpiresAt.
// Expiry is evaluated at read time; rows are never mutated once written.
type TemporaryLink struct {
	ID        uint   `gorm:"primarykey"`
	Token     string `gorm:"type:uuid;not null;uniqueIndex"`
	ImageID   uint   `gorm:"not null;index"`
	Image     *Image `json:"-" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	Seconds   int    `gorm:"not null"`
	CreatedAt time.Time
	ExpiresAt time.Time `gorm:"not null;index"`
}

// Expired reports whether the link is no longer valid at now.
func (l *TemporaryLink) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

// All returns every model in migration order.
func All() []any {
	return []any{&Size{}, &AccountTier{}, &User{}, &Image{}, &Thumbnail{}, &TemporaryLink{}}
}
