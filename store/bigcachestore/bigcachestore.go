// Package bigcachestore keeps encoded tiles in a BigCache ring, an in-memory
// alternative to the disk store for ephemeral sessions.
package bigcachestore

import (
	"context"
	"time"

	bc "github.com/allegro/bigcache/v3"

	"github.com/unkn0wn-root/ridemap/store"
	"github.com/unkn0wn-root/ridemap/tile"
)

type BigCache struct {
	c *bc.BigCache
}

var _ store.Store = (*BigCache)(nil)

type Config struct {
	// LifeWindow bounds the age of cached tiles.
	LifeWindow  time.Duration
	CleanWindow time.Duration
	// HardMaxCacheSizeMB caps memory use; 0 = unlimited.
	HardMaxCacheSizeMB int
}

func New(cfg Config) (*BigCache, error) {
	conf := bc.DefaultConfig(cfg.LifeWindow)
	if cfg.CleanWindow > 0 {
		conf.CleanWindow = cfg.CleanWindow
	}
	if cfg.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	}
	c, err := bc.NewBigCache(conf)
	if err != nil {
		return nil, err
	}
	return &BigCache{c: c}, nil
}

func (s *BigCache) Load(_ context.Context, key tile.Key) ([]byte, bool, error) {
	b, err := s.c.Get(key.String())
	if err == bc.ErrEntryNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &tile.Error{Key: key, Kind: tile.FailDiskIO, Err: err}
	}
	return b, true, nil
}

func (s *BigCache) Store(_ context.Context, key tile.Key, data []byte) error {
	if err := s.c.Set(key.String(), data); err != nil {
		return &tile.Error{Key: key, Kind: tile.FailDiskIO, Err: err}
	}
	return nil
}

func (s *BigCache) Exists(_ context.Context, key tile.Key) bool {
	_, err := s.c.Get(key.String())
	return err == nil
}

func (s *BigCache) Close(context.Context) error {
	return s.c.Close()
}
