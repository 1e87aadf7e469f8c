// Package app builds the shared infrastructure of the binaries from Config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/petermazzocco/go-image-tiers/internal/blob"
	"github.com/petermazzocco/go-image-tiers/internal/cache"
	"github.com/petermazzocco/go-image-tiers/internal/config"
	"github.com/petermazzocco/go-image-tiers/internal/db"
	"github.com/petermazzocco/go-image-tiers/internal/tiers"
	"gorm.io/gorm"
)

// OpenDB connects to the configured database and migrates the schema.
func OpenDB(cfg *config.Config) (*gorm.DB, error) {
	gdb, err := db.Open(cfg.DBDriver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	slog.Info("database ready", "driver", cfg.DBDriver)
	return gdb, nil
}

// OpenBlobStore returns the configured blob backend.
func OpenBlobStore(ctx context.Context, cfg *config.Config) (blob.Store, error) {
	switch cfg.BlobBackend {
	case "s3", "r2":
		return blob.NewS3Store(ctx, blob.S3Options{
			AccountID:       cfg.AccountID,
			AccessKeyID:     cfg.AccessKeyID,
			AccessKeySecret: cfg.AccessKeySecret,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			Bucket:          cfg.BucketName,
			PublicURL:       cfg.PublicURL,
		})
	case "minio":
		return blob.NewMinioStore(ctx,
			cfg.MinioEndpoint,
			cfg.MinioAccessKey,
			cfg.MinioSecretKey,
			cfg.MinioBucket,
			cfg.MinioPublicBase,
			cfg.MinioUseSSL,
		)
	case "fs", "":
		return blob.NewFSStore(cfg.MediaRoot, cfg.MediaURL)
	default:
		return nil, fmt.Errorf("unknown BLOB_BACKEND %q", cfg.BlobBackend)
	}
}

// OpenLinkCache returns the configured link cache, or nil when caching is off.
func OpenLinkCache(ctx context.Context, cfg *config.Config) (cache.LinkCache, error) {
	switch cfg.CacheBackend {
	case "redis":
		client, err := cache.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		return cache.NewRedisStore(client), nil
	case "memory":
		return cache.NewBigCacheStore(10 * time.Minute)
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown CACHE_BACKEND %q", cfg.CacheBackend)
	}
}

// TierSpecs returns the tier seed: TIERS_FILE when set, else the defaults.
func TierSpecs(cfg *config.Config) ([]tiers.Spec, error) {
	if cfg.TiersFile != "" {
		return tiers.LoadSeed(cfg.TiersFile)
	}
	return tiers.DefaultSpecs()
}

// SeedTiers creates the configured tiers that are missing. Tiers that
// already exist keep whatever sizes and flags they were given since.
func SeedTiers(ctx context.Context, cfg *config.Config, store *tiers.Store) error {
	specs, err := TierSpecs(cfg)
	if err != nil {
		return err
	}
	created, err := store.SeedMissing(ctx, specs)
	if err != nil {
		return err
	}
	slog.Info("tiers seeded", "created", created, "configured", len(specs))
	return nil
}
