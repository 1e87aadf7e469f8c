package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/allegro/bigcache"
)

// BigCacheStore is an in-process LinkCache. BigCache has a single global
// lifetime, so callers must still check ExpiresAt on every hit.
type BigCacheStore struct {
	cache *bigcache.BigCache
}

// NewBigCacheStore initializes a new BigCacheStore whose entries live for at
// most lifeWindow.
func NewBigCacheStore(lifeWindow time.Duration) (*BigCacheStore, error) {
	config := bigcache.Config{
		Shards:           256,
		LifeWindow:       lifeWindow,
		CleanWindow:      time.Minute,
		MaxEntrySize:     512,
		HardMaxCacheSize: 64,
		Verbose:          false,
	}
	bc, err := bigcache.NewBigCache(config)
	if err != nil {
		return nil, err
	}
	return &BigCacheStore{cache: bc}, nil
}

func (b *BigCacheStore) Get(_ context.Context, token string) (LinkEntry, error) {
	data, err := b.cache.Get(key(token))
	if err != nil {
		return LinkEntry{}, ErrMiss
	}
	var entry LinkEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return LinkEntry{}, err
	}
	return entry, nil
}

func (b *BigCacheStore) Set(_ context.Context, token string, entry LinkEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return b.cache.Set(key(token), data)
}

// Delete drops the entry; a missing entry is not an error.
func (b *BigCacheStore) Delete(_ context.Context, token string) error {
	_ = b.cache.Delete(key(token))
	return nil
}

// Close is a no-op; the cache is dropped with the process.
func (b *BigCacheStore) Close() error {
	return nil
}
