package projection

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/petermazzocco/go-image-tiers/internal/apperr"
	"github.com/petermazzocco/go-image-tiers/internal/blob"
	"github.com/petermazzocco/go-image-tiers/internal/logging"
	"github.com/petermazzocco/go-image-tiers/internal/testsupport"
	"github.com/petermazzocco/go-image-tiers/internal/thumbnails"
	"github.com/petermazzocco/go-image-tiers/internal/tiers"
	"github.com/petermazzocco/go-image-tiers/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type env struct {
	db        *gorm.DB
	tiers     *tiers.Store
	blobs     *blob.FSStore
	generator *thumbnails.Generator
	projector *Projector
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	gdb := testsupport.NewDB(t)
	store := tiers.NewStore(gdb)
	require.NoError(t, store.Seed(ctx, []tiers.Spec{
		{Name: "Basic", Sizes: []uint{100}},
		{Name: "Premium", Sizes: []uint{100, 200}, ServeOriginal: true},
	}))
	blobs, err := blob.NewFSStore(t.TempDir(), "http://test/media")
	require.NoError(t, err)
	return &env{
		db:        gdb,
		tiers:     store,
		blobs:     blobs,
		generator: thumbnails.NewGenerator(gdb, store, blobs, thumbnails.NewDrawResizer(85), thumbnails.Options{}, logging.Discard()),
		projector: NewProjector(gdb, store, blobs),
	}
}

func (e *env) user(t *testing.T, tierName string) *models.User {
	t.Helper()
	tier, err := e.tiers.GetByName(context.Background(), tierName)
	require.NoError(t, err)
	u := models.User{Name: "a", Email: uuid.NewString() + "@example.com", TierID: tier.ID}
	require.NoError(t, e.db.Create(&u).Error)
	return &u
}

func (e *env) upload(t *testing.T, u *models.User, w, h int) *models.Image {
	t.Helper()
	ctx := context.Background()
	img := models.Image{UUID: uuid.NewString(), UserID: u.ID, Filename: "photo.png", MimeType: "image/png"}
	img.StorageKey = blob.OriginalKey(u.ID, img.UUID, img.Filename)
	require.NoError(t, e.blobs.Put(ctx, img.StorageKey, testsupport.PNG(t, w, h), img.MimeType))
	require.NoError(t, e.db.Create(&img).Error)
	_, err := e.generator.Generate(ctx, &img)
	require.NoError(t, err)
	return &img
}

func (e *env) setTier(t *testing.T, u *models.User, tierName string) {
	t.Helper()
	tier, err := e.tiers.GetByName(context.Background(), tierName)
	require.NoError(t, err)
	require.NoError(t, e.db.Model(u).Update("tier_id", tier.ID).Error)
}

func TestProjector_BasicSeesOnlyThumbnails(t *testing.T) {
	e := newEnv(t)
	u := e.user(t, "Basic")
	img := e.upload(t, u, 400, 200)

	got, err := e.projector.Project(context.Background(), img)
	require.NoError(t, err)
	assert.Equal(t, Artifacts{
		"100": e.blobs.URL(blob.ThumbnailKey(img.UserID, img.UUID, img.Filename, 100)),
	}, got)
}

func TestProjector_PremiumSeesOriginal(t *testing.T) {
	e := newEnv(t)
	u := e.user(t, "Premium")
	img := e.upload(t, u, 400, 200)

	got, err := e.projector.Project(context.Background(), img)
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Equal(t, e.blobs.URL(img.StorageKey), got[LabelOriginal])
	assert.Contains(t, got, "100")
	assert.Contains(t, got, "200")
}

func TestProjector_UpgradeShowsOnlyGeneratedSizes(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u := e.user(t, "Basic")
	img := e.upload(t, u, 400, 200)

	e.setTier(t, u, "Premium")

	got, err := e.projector.Project(ctx, img)
	require.NoError(t, err)
	// 200 was never generated under Basic, so it stays absent.
	assert.Len(t, got, 2)
	assert.Contains(t, got, "100")
	assert.Contains(t, got, LabelOriginal)
	assert.NotContains(t, got, "200")
}

func TestProjector_TierChangesAreLive(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u := e.user(t, "Premium")
	img := e.upload(t, u, 400, 200)

	_, err := e.tiers.SetSizes(ctx, "Premium", []uint{200})
	require.NoError(t, err)

	got, err := e.projector.Project(ctx, img)
	require.NoError(t, err)
	assert.NotContains(t, got, "100")
	assert.Contains(t, got, "200")

	// The hidden thumbnail is still stored.
	_, err = e.blobs.Get(ctx, blob.ThumbnailKey(img.UserID, img.UUID, img.Filename, 100))
	assert.NoError(t, err)

	_, err = e.tiers.SetSizes(ctx, "Premium", []uint{100, 200})
	require.NoError(t, err)
	got, err = e.projector.Project(ctx, img)
	require.NoError(t, err)
	assert.Contains(t, got, "100")
}

func TestProjector_EmptyMapping(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.tiers.Upsert(ctx, tiers.Spec{Name: "Nothing"})
	require.NoError(t, err)
	u := e.user(t, "Nothing")
	img := e.upload(t, u, 40, 20)

	got, err := e.projector.Project(ctx, img)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestProjector_ProjectAllMatchesProject(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u := e.user(t, "Premium")
	imgs := []models.Image{*e.upload(t, u, 400, 200), *e.upload(t, u, 40, 20), *e.upload(t, u, 300, 300)}

	all, err := e.projector.ProjectAll(ctx, u.ID, imgs)
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i := range imgs {
		one, err := e.projector.Project(ctx, &imgs[i])
		require.NoError(t, err)
		assert.Equal(t, one, all[imgs[i].ID])
	}

	other := e.user(t, "Basic")
	_, err = e.projector.ProjectAll(ctx, other.ID, imgs)
	assert.ErrorContains(t, err, "does not belong")
}

func TestProjector_ProjectAllQueryCountIsFlat(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	u := e.user(t, "Premium")
	imgs := []models.Image{*e.upload(t, u, 400, 200), *e.upload(t, u, 40, 20), *e.upload(t, u, 300, 300)}

	var queries int
	require.NoError(t, e.db.Callback().Query().After("gorm:query").Register("count_queries", func(*gorm.DB) {
		queries++
	}))

	_, err := e.projector.ProjectAll(ctx, u.ID, imgs[:1])
	require.NoError(t, err)
	single := queries

	queries = 0
	_, err = e.projector.ProjectAll(ctx, u.ID, imgs)
	require.NoError(t, err)
	assert.Equal(t, single, queries)
}

func TestProjector_Exposed(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	basic := e.upload(t, e.user(t, "Basic"), 400, 200)
	premium := e.upload(t, e.user(t, "Premium"), 400, 200)

	ct, err := e.projector.Exposed(ctx, blob.ThumbnailKey(basic.UserID, basic.UUID, basic.Filename, 100))
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", ct)

	_, err = e.projector.Exposed(ctx, basic.StorageKey)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	ct, err = e.projector.Exposed(ctx, premium.StorageKey)
	require.NoError(t, err)
	assert.Equal(t, "image/png", ct)

	// A stored thumbnail hidden by a tier edit is no longer exposed.
	_, err = e.tiers.SetSizes(ctx, "Premium", []uint{100})
	require.NoError(t, err)
	_, err = e.projector.Exposed(ctx, blob.ThumbnailKey(premium.UserID, premium.UUID, premium.Filename, 200))
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	for _, key := range []string{"", "images/", "images/1/originals/nothing.png"} {
		_, err = e.projector.Exposed(ctx, key)
		assert.ErrorIs(t, err, apperr.ErrNotFound, key)
	}
}
