// Package raster holds decoded tile pixels and the PNG decode pool.
package raster

import (
	"image"
	"image/draw"
)

// Raster is a decoded tile: an RGBA8 pixel buffer ready for texture upload
// or software compositing. Immutable once constructed; holders share it by
// reference and the last one to let go frees it.
type Raster struct {
	Width  int
	Height int
	// Pix is the pixel data, 4 bytes per pixel, row-major.
	Pix []byte
}

// SizeBytes is the memory cost of the pixel buffer, used against the cache
// byte budget.
func (r *Raster) SizeBytes() int64 { return int64(len(r.Pix)) }

// FromImage converts any decoded image to an RGBA raster. The fast path
// borrows the pixel buffer of an *image.RGBA untouched.
func FromImage(img image.Image) *Raster {
	b := img.Bounds()
	if rgba, ok := img.(*image.RGBA); ok && rgba.Stride == 4*b.Dx() {
		return &Raster{Width: b.Dx(), Height: b.Dy(), Pix: rgba.Pix}
	}
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return &Raster{Width: b.Dx(), Height: b.Dy(), Pix: dst.Pix}
}
