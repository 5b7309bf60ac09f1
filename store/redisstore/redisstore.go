// Package redisstore persists encoded tiles in Redis, for setups where
// several viewers on one host share a warm tile cache.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/ridemap/store"
	"github.com/unkn0wn-root/ridemap/tile"
)

var ErrNilClient = errors.New("redisstore: nil client")

type Redis struct {
	rdb         goredis.UniversalClient
	ttl         time.Duration
	closeClient bool
}

var _ store.Store = (*Redis)(nil)

type Config struct {
	Client goredis.UniversalClient
	// TTL after which a cached tile expires. Zero means no expiry.
	TTL time.Duration
	// CloseClient should be set only when this store exclusively owns the
	// client.
	CloseClient bool
}

func New(cfg Config) (*Redis, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Redis{rdb: cfg.Client, ttl: cfg.TTL, closeClient: cfg.CloseClient}, nil
}

func keyFor(k tile.Key) string {
	return fmt.Sprintf("tile:%s:%d:%d:%d", k.P, k.Z, k.X, k.Y)
}

func (s *Redis) Load(ctx context.Context, key tile.Key) ([]byte, bool, error) {
	b, err := s.rdb.Get(ctx, keyFor(key)).Bytes()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &tile.Error{Key: key, Kind: tile.FailDiskIO, Err: err}
	}
	return b, true, nil
}

func (s *Redis) Store(ctx context.Context, key tile.Key, data []byte) error {
	if err := s.rdb.Set(ctx, keyFor(key), data, s.ttl).Err(); err != nil {
		return &tile.Error{Key: key, Kind: tile.FailDiskIO, Err: err}
	}
	return nil
}

func (s *Redis) Exists(ctx context.Context, key tile.Key) bool {
	n, err := s.rdb.Exists(ctx, keyFor(key)).Result()
	return err == nil && n > 0
}

// Close releases the underlying client only when this store owns it. Safe to
// call multiple times.
func (s *Redis) Close(context.Context) error {
	if s.closeClient {
		if err := s.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}
