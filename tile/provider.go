package tile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Provider describes a web service providing tiles. It is created at startup
// and shared read-only across the pipeline.
type Provider struct {
	// Server is the address of the HTTPS tile server, including the domain
	// name and any sub-directories. No scheme, no trailing slash.
	Server string `json:"server"`
	// CacheFolder is the sub-folder, relative to the cache root, where tiles
	// for this provider are persisted. It doubles as the provider identity in
	// tile keys.
	CacheFolder string `json:"cache_folder"`
	// Extension is the suffix appended to each tile request.
	//
	// A simple example is ".png". Some services require an access token
	// parameter, provide higher-resolution tiles under a "@2x" suffix, etc.
	// Only PNG tile payloads are supported.
	Extension string `json:"extension"`
	// Referer HTTP header to attach to each tile request.
	Referer *string `json:"referer,omitempty"`
	// UserAgent HTTP header to attach to each tile request.
	UserAgent *string `json:"user_agent,omitempty"`
}

// LoadProvider reads a provider configuration from the given JSON file.
// Unknown fields are rejected. Any failure here is of kind FailConfig and is
// fatal at startup.
func LoadProvider(path string) (*Provider, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &Error{Kind: FailConfig, Err: fmt.Errorf("read map provider configuration from %s: %w", path, err)}
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	var p Provider
	if err := dec.Decode(&p); err != nil {
		return nil, &Error{Kind: FailConfig, Err: fmt.Errorf("parse map provider configuration from %s: %w", path, err)}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks the structural constraints on the provider fields.
func (p *Provider) Validate() error {
	switch {
	case p.Server == "":
		return configErr("server is required")
	case strings.Contains(p.Server, "://"):
		return configErr("server must not carry a scheme")
	case strings.HasSuffix(p.Server, "/"):
		return configErr("server must not end with a slash")
	case p.CacheFolder == "":
		return configErr("cache_folder is required")
	case filepath.IsAbs(p.CacheFolder):
		return configErr("cache_folder must be a relative path")
	case p.Extension == "":
		return configErr("extension is required")
	}
	return nil
}

func configErr(msg string) error {
	return &Error{Kind: FailConfig, Err: fmt.Errorf("map provider: %s", msg)}
}

// ID is the provider identity used in tile keys.
func (p *Provider) ID() string { return p.CacheFolder }

// Key builds a tile key for this provider.
func (p *Provider) Key(z, x, y uint32) Key {
	return Key{P: p.ID(), Z: z, X: x, Y: y}
}

// URL returns the request URL for the given tile.
func (p *Provider) URL(k Key) string {
	return fmt.Sprintf("https://%s/%d/%d/%d%s", p.Server, k.Z, k.X, k.Y, p.Extension)
}

// DiskPath returns the on-disk location of the given tile below root:
// <root>/<cache_folder>/<z>/<x>/<y><extension>.
func (p *Provider) DiskPath(root string, k Key) string {
	return filepath.Join(root, p.CacheFolder,
		strconv.FormatUint(uint64(k.Z), 10),
		strconv.FormatUint(uint64(k.X), 10),
		strconv.FormatUint(uint64(k.Y), 10)+p.Extension)
}

// Headers returns the HTTP headers to attach to each tile request, verbatim
// from the configuration.
func (p *Provider) Headers() map[string]string {
	h := make(map[string]string, 2)
	if p.Referer != nil {
		h["Referer"] = *p.Referer
	}
	if p.UserAgent != nil {
		h["User-Agent"] = *p.UserAgent
	}
	return h
}
