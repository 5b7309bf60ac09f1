package store

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/unkn0wn-root/ridemap/tile"
)

func testProvider() *tile.Provider {
	return &tile.Provider{Server: "tile.example.org", CacheFolder: "osm", Extension: ".png"}
}

func newTestDisk(t *testing.T) (*Disk, *tile.Provider) {
	t.Helper()
	p := testProvider()
	d, err := NewDisk(t.TempDir(), p)
	if err != nil {
		t.Fatalf("NewDisk: %v", err)
	}
	return d, p
}

func TestDiskRoundTrip(t *testing.T) {
	ctx := context.Background()
	d, p := newTestDisk(t)
	k := p.Key(2, 1, 1)
	payload := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 1, 2, 3}

	if _, ok, err := d.Load(ctx, k); ok || err != nil {
		t.Fatalf("Load on empty store: ok=%v err=%v", ok, err)
	}
	if d.Exists(ctx, k) {
		t.Fatal("Exists on empty store")
	}

	if err := d.Store(ctx, k, payload); err != nil {
		t.Fatalf("Store: %v", err)
	}
	got, ok, err := d.Load(ctx, k)
	if err != nil || !ok {
		t.Fatalf("Load: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("Load returned %v, want %v byte-for-byte", got, payload)
	}
	if !d.Exists(ctx, k) {
		t.Fatal("Exists after Store")
	}

	// The layout is <root>/<folder>/<z>/<x>/<y><ext>.
	want := filepath.Join(d.Root(), "osm", "2", "1", "1.png")
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("expected tile file at %s: %v", want, err)
	}
}

func TestDiskStoreIdempotent(t *testing.T) {
	ctx := context.Background()
	d, p := newTestDisk(t)
	k := p.Key(5, 16, 11)
	payload := []byte("same content")

	for i := 0; i < 3; i++ {
		if err := d.Store(ctx, k, payload); err != nil {
			t.Fatalf("Store #%d: %v", i, err)
		}
	}
	got, ok, _ := d.Load(ctx, k)
	if !ok || !bytes.Equal(got, payload) {
		t.Fatalf("Load after repeated Store: ok=%v got=%q", ok, got)
	}
}

func TestDiskLeavesNoTempFiles(t *testing.T) {
	ctx := context.Background()
	d, p := newTestDisk(t)
	for i := uint32(0); i < 8; i++ {
		if err := d.Store(ctx, p.Key(3, i, i), []byte{byte(i)}); err != nil {
			t.Fatalf("Store: %v", err)
		}
	}
	err := filepath.Walk(d.Root(), func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.Contains(info.Name(), ".tmp") {
			t.Errorf("temp residue: %s", path)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestDiskKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	d, p := newTestDisk(t)
	a, b := p.Key(4, 1, 2), p.Key(4, 2, 1)

	if err := d.Store(ctx, a, []byte("a")); err != nil {
		t.Fatal(err)
	}
	if err := d.Store(ctx, b, []byte("b")); err != nil {
		t.Fatal(err)
	}
	if got, _, _ := d.Load(ctx, a); string(got) != "a" {
		t.Fatalf("key a = %q", got)
	}
	if got, _, _ := d.Load(ctx, b); string(got) != "b" {
		t.Fatalf("key b = %q", got)
	}
}

func TestDiskTolerantOfPreexistingFiles(t *testing.T) {
	ctx := context.Background()
	p := testProvider()
	root := t.TempDir()

	// A file written by a previous run.
	pre := p.DiskPath(root, p.Key(1, 0, 0))
	if err := os.MkdirAll(filepath.Dir(pre), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(pre, []byte("old run"), 0o644); err != nil {
		t.Fatal(err)
	}

	d, err := NewDisk(root, p)
	if err != nil {
		t.Fatalf("NewDisk: %v", err)
	}
	got, ok, err := d.Load(ctx, p.Key(1, 0, 0))
	if err != nil || !ok || string(got) != "old run" {
		t.Fatalf("Load preexisting: ok=%v err=%v got=%q", ok, err, got)
	}
}
