package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/unkn0wn-root/ridemap/tile"
)

// Disk is the default store: a filesystem tree of byte-exact tile files at
// <root>/<cache_folder>/<z>/<x>/<y><extension>.
//
// Writes go through a temp file in the destination directory followed by a
// rename, so a file on disk is always complete or absent. Keys map to
// disjoint paths; no locking is needed beyond the rename the OS provides,
// and two processes sharing a cache folder race safely on identical content.
type Disk struct {
	root     string
	provider *tile.Provider
}

var _ Store = (*Disk)(nil)

// NewDisk opens a disk store rooted at root for the given provider, creating
// the provider's cache folder.
func NewDisk(root string, provider *tile.Provider) (*Disk, error) {
	if err := os.MkdirAll(filepath.Join(root, provider.CacheFolder), 0o755); err != nil {
		return nil, &tile.Error{Kind: tile.FailDiskIO, Err: fmt.Errorf("create tile cache for provider %s: %w", provider.CacheFolder, err)}
	}
	return &Disk{root: root, provider: provider}, nil
}

func (d *Disk) Load(_ context.Context, key tile.Key) ([]byte, bool, error) {
	data, err := os.ReadFile(d.provider.DiskPath(d.root, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, &tile.Error{Key: key, Kind: tile.FailDiskIO, Err: err}
	}
	return data, true, nil
}

func (d *Disk) Store(_ context.Context, key tile.Key, data []byte) error {
	path := d.provider.DiskPath(d.root, key)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &tile.Error{Key: key, Kind: tile.FailDiskIO, Err: err}
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return &tile.Error{Key: key, Kind: tile.FailDiskIO, Err: err}
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return &tile.Error{Key: key, Kind: tile.FailDiskIO, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return &tile.Error{Key: key, Kind: tile.FailDiskIO, Err: err}
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return &tile.Error{Key: key, Kind: tile.FailDiskIO, Err: err}
	}
	return nil
}

func (d *Disk) Exists(_ context.Context, key tile.Key) bool {
	_, err := os.Stat(d.provider.DiskPath(d.root, key))
	return err == nil
}

func (d *Disk) Close(context.Context) error { return nil }

// Root returns the store's root directory.
func (d *Disk) Root() string { return d.root }
