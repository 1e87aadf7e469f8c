// Command tierctl administers account tiers, their thumbnail sizes and user
// tier assignments.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/petermazzocco/go-image-tiers/internal/app"
	"github.com/petermazzocco/go-image-tiers/internal/config"
	"github.com/petermazzocco/go-image-tiers/internal/links"
	"github.com/petermazzocco/go-image-tiers/internal/logging"
	"github.com/petermazzocco/go-image-tiers/internal/tiers"
	"github.com/petermazzocco/go-image-tiers/internal/users"
)

func main() {
	cfg := config.Load()
	logger := logging.Init(cfg.LogLevel, cfg.LogFile)

	open := func(ctx context.Context) (*env, error) {
		db, err := app.OpenDB(cfg)
		if err != nil {
			return nil, err
		}
		blobs, err := app.OpenBlobStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		linkCache, err := app.OpenLinkCache(ctx, cfg)
		if err != nil {
			return nil, err
		}
		linkManager := links.NewManager(db, blobs, links.Options{Cache: linkCache}, logger)
		tierStore := tiers.NewStore(db)
		return &env{
			cfg:   cfg,
			db:    db,
			tiers: tierStore,
			users: users.NewService(db, tierStore, blobs, linkManager, cfg.DefaultTier, logger),
		}, nil
	}

	if err := newRootCmd(open).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
