package tiers

import (
	"context"
	"strings"
	"testing"

	"github.com/petermazzocco/go-image-tiers/internal/apperr"
	"github.com/petermazzocco/go-image-tiers/internal/testsupport"
	"github.com/petermazzocco/go-image-tiers/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func heights(sizes []models.Size) []uint {
	out := make([]uint, 0, len(sizes))
	for _, s := range sizes {
		out = append(out, s.Height)
	}
	return out
}

func TestStore_SeedDefaults(t *testing.T) {
	ctx := context.Background()
	store := NewStore(testsupport.NewDB(t))

	specs, err := DefaultSpecs()
	require.NoError(t, err)
	require.NoError(t, store.Seed(ctx, specs))
	// Seeding twice must not duplicate anything.
	require.NoError(t, store.Seed(ctx, specs))

	all, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)

	basic, err := store.GetByName(ctx, "Basic")
	require.NoError(t, err)
	assert.Equal(t, []uint{200}, heights(basic.ThumbnailSizes))
	assert.False(t, CanServeOriginal(basic))
	assert.False(t, CanGenerateLinks(basic))

	enterprise, err := store.GetByName(ctx, "Enterprise")
	require.NoError(t, err)
	assert.Equal(t, []uint{200, 400}, heights(enterprise.ThumbnailSizes))
	assert.True(t, CanServeOriginal(enterprise))
	assert.True(t, CanGenerateLinks(enterprise))
}

func TestStore_SeedMissingKeepsEdits(t *testing.T) {
	ctx := context.Background()
	store := NewStore(testsupport.NewDB(t))

	specs, err := DefaultSpecs()
	require.NoError(t, err)
	created, err := store.SeedMissing(ctx, specs)
	require.NoError(t, err)
	assert.Equal(t, 3, created)

	_, err = store.SetSizes(ctx, "Basic", []uint{50, 300})
	require.NoError(t, err)
	_, err = store.Upsert(ctx, Spec{Name: "Premium", Sizes: []uint{200, 400}, AllowLinkGeneration: true})
	require.NoError(t, err)

	// A restart seeds again.
	created, err = store.SeedMissing(ctx, append(specs, Spec{Name: "Studio", Sizes: []uint{800}}))
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	basic, err := store.GetByName(ctx, "Basic")
	require.NoError(t, err)
	assert.Equal(t, []uint{50, 300}, heights(basic.ThumbnailSizes))

	premium, err := store.GetByName(ctx, "Premium")
	require.NoError(t, err)
	assert.False(t, premium.ServeOriginal)
	assert.True(t, premium.AllowLinkGeneration)

	studio, err := store.GetByName(ctx, "Studio")
	require.NoError(t, err)
	assert.Equal(t, []uint{800}, heights(studio.ThumbnailSizes))

	// An explicit Seed still overwrites.
	require.NoError(t, store.Seed(ctx, specs))
	basic, err = store.GetByName(ctx, "Basic")
	require.NoError(t, err)
	assert.Equal(t, []uint{200}, heights(basic.ThumbnailSizes))
}

func TestStore_PermittedSizesIsLive(t *testing.T) {
	ctx := context.Background()
	store := NewStore(testsupport.NewDB(t))

	tier, err := store.Upsert(ctx, Spec{Name: "Premium", Sizes: []uint{100, 200}, ServeOriginal: true})
	require.NoError(t, err)

	sizes, err := store.PermittedSizes(ctx, tier.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint{100, 200}, heights(sizes))

	_, err = store.SetSizes(ctx, "Premium", []uint{200, 300})
	require.NoError(t, err)

	sizes, err = store.PermittedSizes(ctx, tier.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint{200, 300}, heights(sizes))

	// The removed size row itself survives; only membership changed.
	var count int64
	require.NoError(t, store.db.Model(&models.Size{}).Where("height = ?", 100).Count(&count).Error)
	assert.EqualValues(t, 1, count)

	updated, err := store.SetSizes(ctx, "Premium", nil)
	require.NoError(t, err)
	assert.Empty(t, updated.ThumbnailSizes)
	assert.True(t, updated.ServeOriginal, "flags are kept when sizes change")
}

func TestStore_SizeValidation(t *testing.T) {
	ctx := context.Background()
	store := NewStore(testsupport.NewDB(t))

	for _, h := range []uint{0, 2001} {
		_, err := store.EnsureSize(ctx, h)
		require.Error(t, err)
		assert.ErrorIs(t, err, apperr.ErrValidation)
	}

	a, err := store.EnsureSize(ctx, 2000)
	require.NoError(t, err)
	b, err := store.EnsureSize(ctx, 2000)
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID, "heights are unique")

	_, err = store.Upsert(ctx, Spec{Name: "Broken", Sizes: []uint{5000}})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = store.GetByName(ctx, "Broken")
	assert.ErrorIs(t, err, apperr.ErrNotFound, "failed upsert must roll back")
}

func TestStore_GetByNameMissing(t *testing.T) {
	store := NewStore(testsupport.NewDB(t))
	_, err := store.GetByName(context.Background(), "Gold")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestParseSeed(t *testing.T) {
	t.Run("valid document", func(t *testing.T) {
		specs, err := ParseSeed([]byte(`
tiers:
  - name: Basic
    sizes: [100]
  - name: Premium
    sizes: [100, 200]
    serve_original: true
`))
		require.NoError(t, err)
		require.Len(t, specs, 2)
		assert.Equal(t, []uint{100, 200}, specs[1].Sizes)
		assert.True(t, specs[1].ServeOriginal)
		assert.False(t, specs[1].AllowLinkGeneration)
	})

	t.Run("duplicate names", func(t *testing.T) {
		_, err := ParseSeed([]byte("tiers:\n  - name: A\n  - name: A\n"))
		assert.ErrorIs(t, err, apperr.ErrValidation)
	})

	t.Run("name too long", func(t *testing.T) {
		doc := "tiers:\n  - name: " + strings.Repeat("x", 51) + "\n"
		_, err := ParseSeed([]byte(doc))
		assert.ErrorIs(t, err, apperr.ErrValidation)
	})
}
