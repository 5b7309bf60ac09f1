package tile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeProviderFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "provider.json")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadProvider(t *testing.T) {
	path := writeProviderFile(t, `{
		"server": "tile.example.org/cycle",
		"cache_folder": "cycle",
		"extension": "@2x.png",
		"referer": "https://example.org/",
		"user_agent": "ridemap"
	}`)
	p, err := LoadProvider(path)
	if err != nil {
		t.Fatalf("LoadProvider: %v", err)
	}

	k := p.Key(7, 66, 45)
	if got, want := p.URL(k), "https://tile.example.org/cycle/7/66/45@2x.png"; got != want {
		t.Errorf("URL = %q, want %q", got, want)
	}
	if got, want := p.DiskPath("/cache", k), filepath.Join("/cache", "cycle", "7", "66", "45@2x.png"); got != want {
		t.Errorf("DiskPath = %q, want %q", got, want)
	}

	h := p.Headers()
	if h["Referer"] != "https://example.org/" || h["User-Agent"] != "ridemap" {
		t.Errorf("Headers = %v", h)
	}
}

func TestLoadProviderOptionalHeadersAbsent(t *testing.T) {
	path := writeProviderFile(t, `{"server": "tile.example.org", "cache_folder": "osm", "extension": ".png"}`)
	p, err := LoadProvider(path)
	if err != nil {
		t.Fatalf("LoadProvider: %v", err)
	}
	if h := p.Headers(); len(h) != 0 {
		t.Errorf("Headers = %v, want none", h)
	}
}

func TestLoadProviderRejectsUnknownFields(t *testing.T) {
	path := writeProviderFile(t, `{"server": "tile.example.org", "cache_folder": "osm", "extension": ".png", "api_key": "x"}`)
	_, err := LoadProvider(path)
	if err == nil {
		t.Fatal("unknown field accepted")
	}
	if KindOf(err) != FailConfig {
		t.Fatalf("kind = %v, want config_invalid", KindOf(err))
	}
}

func TestLoadProviderValidation(t *testing.T) {
	cases := []struct {
		name string
		json string
	}{
		{"missing server", `{"cache_folder": "osm", "extension": ".png"}`},
		{"server with scheme", `{"server": "https://tile.example.org", "cache_folder": "osm", "extension": ".png"}`},
		{"server trailing slash", `{"server": "tile.example.org/", "cache_folder": "osm", "extension": ".png"}`},
		{"missing cache folder", `{"server": "tile.example.org", "extension": ".png"}`},
		{"absolute cache folder", `{"server": "tile.example.org", "cache_folder": "/osm", "extension": ".png"}`},
		{"missing extension", `{"server": "tile.example.org", "cache_folder": "osm"}`},
		{"not json", `server = "tile.example.org"`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadProvider(writeProviderFile(t, tc.json))
			if err == nil {
				t.Fatal("invalid configuration accepted")
			}
			if KindOf(err) != FailConfig {
				t.Fatalf("kind = %v, want config_invalid", KindOf(err))
			}
		})
	}
}

func TestKeyOrderingAndParent(t *testing.T) {
	a := Key{P: "a", Z: 3, X: 4, Y: 5}
	b := Key{P: "a", Z: 3, X: 4, Y: 6}
	if !a.Less(b) || b.Less(a) {
		t.Fatal("keys not ordered by (P, Z, X, Y)")
	}

	parent, ok := a.Parent()
	if !ok || parent != (Key{P: "a", Z: 2, X: 2, Y: 2}) {
		t.Fatalf("Parent = %v, %v", parent, ok)
	}
	root := Key{P: "a"}
	if _, ok := root.Parent(); ok {
		t.Fatal("root tile has no parent")
	}

	if !strings.Contains(a.String(), "a/3/4/5") {
		t.Fatalf("String = %q", a)
	}
}
