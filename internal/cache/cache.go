// Package cache holds short-lived lookups of expiring link tokens so that
// public resolution can skip the database.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the token is not cached.
var ErrMiss = errors.New("cache miss")

// LinkEntry is what resolution needs to serve a token.
type LinkEntry struct {
	ImageKey    string    `json:"image_key"`
	ContentType string    `json:"content_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// LinkCache defines the interface for caching resolved links.
type LinkCache interface {
	Get(ctx context.Context, token string) (LinkEntry, error)
	Set(ctx context.Context, token string, entry LinkEntry) error
	Delete(ctx context.Context, token string) error
	Close() error
}

func key(token string) string {
	return "link:" + token
}
