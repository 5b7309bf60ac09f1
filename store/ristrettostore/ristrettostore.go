// Package ristrettostore keeps encoded tiles in a Ristretto cache, trading
// the disk store's persistence for admission-controlled memory use.
package ristrettostore

import (
	"context"
	"errors"

	rc "github.com/dgraph-io/ristretto"

	"github.com/unkn0wn-root/ridemap/store"
	"github.com/unkn0wn-root/ridemap/tile"
)

type Ristretto struct {
	c *rc.Cache
}

var _ store.Store = (*Ristretto)(nil)

type Config struct {
	// NumCounters sizes the admission sketch; ~10x the expected tile count.
	NumCounters int64
	// MaxCost caps the cache in payload bytes.
	MaxCost     int64
	BufferItems int64
}

func New(cfg Config) (*Ristretto, error) {
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 {
		return nil, errors.New("ristrettostore: invalid config")
	}
	if cfg.BufferItems <= 0 {
		cfg.BufferItems = 64
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
	})
	if err != nil {
		return nil, err
	}
	return &Ristretto{c: c}, nil
}

func (s *Ristretto) Load(_ context.Context, key tile.Key) ([]byte, bool, error) {
	v, ok := s.c.Get(key.String())
	if !ok {
		return nil, false, nil
	}
	b, _ := v.([]byte)
	if b == nil {
		// drop unexpected entry shape
		s.c.Del(key.String())
		return nil, false, nil
	}
	return b, true, nil
}

func (s *Ristretto) Store(_ context.Context, key tile.Key, data []byte) error {
	// Ristretto may reject the write under pressure; the store contract is
	// best-effort, so a rejection is not an error.
	s.c.Set(key.String(), data, int64(len(data)))
	return nil
}

func (s *Ristretto) Exists(_ context.Context, key tile.Key) bool {
	_, ok := s.c.Get(key.String())
	return ok
}

func (s *Ristretto) Close(context.Context) error {
	s.c.Wait()
	s.c.Close()
	return nil
}
