// Package sqlitestore persists encoded tiles in a single SQLite database,
// handy when a directory tree of tiny files is unwanted.
package sqlitestore

import (
	"context"
	"database/sql"
	"embed"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/unkn0wn-root/ridemap/store"
	"github.com/unkn0wn-root/ridemap/tile"
)

//go:embed migrations/*.sql
var migrations embed.FS

type SQLite struct {
	db *sql.DB
}

var _ store.Store = (*SQLite)(nil)

func New(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLite{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) runMigrations() error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.Up(s.db, "migrations")
}

func (s *SQLite) Load(ctx context.Context, key tile.Key) ([]byte, bool, error) {
	const query = `SELECT tile_data
	FROM tile_cache
	WHERE provider = ? AND z = ? AND x = ? AND y = ?`

	var data []byte
	err := s.db.QueryRowContext(ctx, query, key.P, key.Z, key.X, key.Y).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &tile.Error{Key: key, Kind: tile.FailDiskIO, Err: err}
	}
	return data, true, nil
}

func (s *SQLite) Store(ctx context.Context, key tile.Key, data []byte) error {
	const query = `INSERT INTO tile_cache (provider, z, x, y, tile_data)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(provider, z, x, y) DO UPDATE SET tile_data = excluded.tile_data`

	if _, err := s.db.ExecContext(ctx, query, key.P, key.Z, key.X, key.Y, data); err != nil {
		return &tile.Error{Key: key, Kind: tile.FailDiskIO, Err: err}
	}
	return nil
}

func (s *SQLite) Exists(ctx context.Context, key tile.Key) bool {
	const query = `SELECT 1 FROM tile_cache WHERE provider = ? AND z = ? AND x = ? AND y = ?`
	var one int
	return s.db.QueryRowContext(ctx, query, key.P, key.Z, key.X, key.Y).Scan(&one) == nil
}

func (s *SQLite) Close(context.Context) error {
	return s.db.Close()
}
