package raster

import (
	"bytes"
	"context"
	"image/png"
	"runtime"
	"sync"

	"github.com/unkn0wn-root/ridemap/tile"
)

// Decoder decodes PNG tile payloads on a fixed pool of workers, each pinned
// to its own OS thread and separate from the I/O goroutines, so large
// decodes do not starve network completions.
type Decoder struct {
	jobs      chan decodeJob
	wg        sync.WaitGroup
	closeOnce sync.Once
}

type decodeJob struct {
	key  tile.Key
	data []byte
	out  chan<- decodeResult
}

type decodeResult struct {
	ras *Raster
	err error
}

// NewDecoder starts a decode pool. workers <= 0 picks a size from the CPU
// count, capped at 4.
func NewDecoder(workers int) *Decoder {
	if workers <= 0 {
		workers = runtime.NumCPU()
		if workers > 4 {
			workers = 4
		}
	}
	d := &Decoder{jobs: make(chan decodeJob)}
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.worker()
	}
	return d
}

func (d *Decoder) worker() {
	defer d.wg.Done()
	runtime.LockOSThread()
	for job := range d.jobs {
		ras, err := decode(job.key, job.data)
		job.out <- decodeResult{ras: ras, err: err}
	}
}

// Decode decodes a PNG payload into a raster. It blocks until a worker is
// free or ctx is done.
func (d *Decoder) Decode(ctx context.Context, key tile.Key, data []byte) (*Raster, error) {
	if err := ctx.Err(); err != nil {
		return nil, &tile.Error{Key: key, Kind: tile.FailCancelled, Err: err}
	}
	out := make(chan decodeResult, 1)
	select {
	case d.jobs <- decodeJob{key: key, data: data, out: out}:
	case <-ctx.Done():
		return nil, &tile.Error{Key: key, Kind: tile.FailCancelled, Err: ctx.Err()}
	}

	select {
	case res := <-out:
		return res.ras, res.err
	case <-ctx.Done():
		// the worker finishes and drops the buffered result
		return nil, &tile.Error{Key: key, Kind: tile.FailCancelled, Err: ctx.Err()}
	}
}

// Close drains the pool. No Decode may be in flight or issued afterwards.
func (d *Decoder) Close() {
	d.closeOnce.Do(func() {
		close(d.jobs)
		d.wg.Wait()
	})
}

func decode(key tile.Key, data []byte) (*Raster, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &tile.Error{Key: key, Kind: tile.FailDecode, Err: err}
	}
	return FromImage(img), nil
}
