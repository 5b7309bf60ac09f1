// Package fetch implements the bounded-concurrency HTTP tile client.
package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/unkn0wn-root/ridemap/tile"
)

const (
	defaultTimeout = 30 * time.Second
	// maxTileBytes bounds a single tile payload. Raster tiles are tens of
	// kilobytes; anything past this is a broken or hostile server.
	maxTileBytes = 4 << 20
)

// Client issues tile GETs against a single provider. It is stateless beyond
// the semaphore gating outstanding requests; re-fetch policy belongs to the
// caller.
type Client struct {
	provider *tile.Provider
	http     *http.Client
	sem      *semaphore.Weighted
	timeout  time.Duration
}

type Config struct {
	Provider *tile.Provider
	// Parallel is the semaphore width: the number of requests in flight at
	// once. Zero means 4.
	Parallel int64
	// Timeout is the per-request deadline. Zero means 30s.
	Timeout time.Duration
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

func New(cfg Config) *Client {
	parallel := cfg.Parallel
	if parallel <= 0 {
		parallel = 4
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{
		provider: cfg.Provider,
		http:     hc,
		sem:      semaphore.NewWeighted(parallel),
		timeout:  timeout,
	}
}

// Fetch downloads the given tile, returning the raw response body. Status
// codes other than 200 are failures; no retries happen at this layer.
func (c *Client) Fetch(ctx context.Context, key tile.Key) ([]byte, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, cancelErr(key, err)
	}
	defer c.sem.Release(1)

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.provider.URL(key), nil)
	if err != nil {
		return nil, &tile.Error{Key: key, Kind: tile.FailNetwork, Err: err}
	}
	for name, value := range c.provider.Headers() {
		req.Header.Set(name, value)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classify(ctx, reqCtx, key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &tile.Error{Key: key, Kind: tile.FailHTTPStatus, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTileBytes+1))
	if err != nil {
		return nil, classify(ctx, reqCtx, key, err)
	}
	if len(body) > maxTileBytes {
		return nil, &tile.Error{Key: key, Kind: tile.FailNetwork, Err: errors.New("tile payload too large")}
	}
	return body, nil
}

// classify maps a transport error to a failure kind: the caller's
// cancellation wins over the per-request deadline, which wins over plain
// network failure.
func classify(ctx, reqCtx context.Context, key tile.Key, err error) error {
	if ctx.Err() != nil {
		return cancelErr(key, ctx.Err())
	}
	if errors.Is(reqCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &tile.Error{Key: key, Kind: tile.FailTimeout, Err: err}
	}
	return &tile.Error{Key: key, Kind: tile.FailNetwork, Err: err}
}

func cancelErr(key tile.Key, err error) error {
	return &tile.Error{Key: key, Kind: tile.FailCancelled, Err: err}
}
