// Package store defines the encoded-tile byte store used by the pipeline.
//
// Implementations MUST be byte-for-byte transparent: Load must return exactly
// the same []byte that was previously passed to Store for a key (no
// prepended/appended metadata, no re-encoding, no mutation). Tile payloads
// are persisted as exact copies of the server response; a stored tile either
// decodes successfully or is absent.
//
// Implementations must be safe for concurrent use. Concurrent Store calls for
// the same key are allowed; last writer wins and contents are identical.
package store

import (
	"context"

	"github.com/unkn0wn-root/ridemap/tile"
)

// Store is a minimal byte store keyed by tile.
type Store interface {
	// Load returns (data, true, nil) on hit and (nil, false, nil) on miss.
	// An I/O or remote error returns (nil, false, err); callers treat it as
	// a miss plus a warning.
	Load(ctx context.Context, key tile.Key) ([]byte, bool, error)

	// Store persists data under key. It is atomic per key and idempotent for
	// identical content.
	Store(ctx context.Context, key tile.Key, data []byte) error

	// Exists is a cheap presence probe, used to downgrade fetch priority for
	// tiles already on hand. It never reports an error; failures read as
	// absent.
	Exists(ctx context.Context, key tile.Key) bool

	// Close releases resources.
	Close(ctx context.Context) error
}
