package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/petermazzocco/go-image-tiers/internal/app"
	"github.com/petermazzocco/go-image-tiers/internal/auth"
	"github.com/petermazzocco/go-image-tiers/internal/blob"
	"github.com/petermazzocco/go-image-tiers/internal/config"
	"github.com/petermazzocco/go-image-tiers/internal/handlers"
	"github.com/petermazzocco/go-image-tiers/internal/images"
	"github.com/petermazzocco/go-image-tiers/internal/links"
	"github.com/petermazzocco/go-image-tiers/internal/logging"
	"github.com/petermazzocco/go-image-tiers/internal/projection"
	"github.com/petermazzocco/go-image-tiers/internal/thumbnails"
	"github.com/petermazzocco/go-image-tiers/internal/thumbnails/vips"
	"github.com/petermazzocco/go-image-tiers/internal/tiers"
	"github.com/petermazzocco/go-image-tiers/internal/users"
)

func main() {
	cfg := config.Load()
	logger := logging.Init(cfg.LogLevel, cfg.LogFile)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	// Database connection
	db, err := app.OpenDB(cfg)
	if err != nil {
		return err
	}
	tierStore := tiers.NewStore(db)
	if err := app.SeedTiers(ctx, cfg, tierStore); err != nil {
		return err
	}

	blobs, err := app.OpenBlobStore(ctx, cfg)
	if err != nil {
		return err
	}
	var media blob.Store
	if fsStore, ok := blobs.(*blob.FSStore); ok {
		media = fsStore
	}

	linkCache, err := app.OpenLinkCache(ctx, cfg)
	if err != nil {
		return err
	}
	if linkCache != nil {
		defer linkCache.Close()
	}

	// Session store and OAuth
	store := auth.NewCookieStore(auth.SessionOptions{
		Secret: cfg.SessionSecret,
		Secure: cfg.IsProduction(),
	})
	if !auth.UseGoogle(cfg.GoogleKey, cfg.GoogleSecret, cfg.OAuthCallbackURL) {
		logger.Warn("GOOGLE_KEY not set, OAuth login disabled")
	}

	generator := thumbnails.NewGenerator(db, tierStore, blobs, newResizer(cfg, logger), thumbnails.Options{
		Workers:   cfg.ThumbnailWorkers,
		Timeout:   cfg.ThumbnailTimeout,
		MaxPixels: cfg.ThumbnailMaxPix,
	}, logger)

	linkManager := links.NewManager(db, blobs, links.Options{
		MinSeconds: cfg.LinkMinSeconds,
		MaxSeconds: cfg.LinkMaxSeconds,
		Cache:      linkCache,
	}, logger)

	h := handlers.New(handlers.Deps{
		Users: users.NewService(db, tierStore, blobs, linkManager, cfg.DefaultTier, logger),
		Images: images.NewService(db, blobs, generator, images.Options{
			AllowedExtensions: cfg.AllowedExtensions,
			MaxBytes:          cfg.MaxUploadBytes,
			Links:             linkManager,
		}, logger),
		Projector:      projection.NewProjector(db, tierStore, blobs),
		Links:          linkManager,
		Auth:           auth.New(store, cfg.JWTSecret),
		PublicBaseURL:  cfg.PublicBaseURL,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: handlers.NewRouter(h, handlers.RouterOptions{
			RateLimitPerMinute: cfg.RateLimitPerMinute,
			Media:              media,
		}),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine; wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting API server", "addr", srv.Addr, "env", cfg.AppEnv, "blob_backend", cfg.BlobBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-quit:
	}
	logger.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}

func newResizer(cfg *config.Config, logger *slog.Logger) thumbnails.Resizer {
	switch cfg.ImageEngine {
	case "go":
		return thumbnails.NewDrawResizer(cfg.ThumbnailQuality)
	default:
		logger.Info("using libvips image engine")
		return vips.New(cfg.ThumbnailQuality)
	}
}
