package tile

import "math"

// Box is a rectangular set of tiles at a single zoom level. Min is inclusive,
// Max exclusive.
type Box struct {
	Z    uint32
	MinX uint32
	MinY uint32
	MaxX uint32
	MaxY uint32
}

// Root is the box containing the whole world at zoom 0.
func Root() Box {
	return Box{Z: 0, MinX: 0, MinY: 0, MaxX: 1, MaxY: 1}
}

// Len counts the tiles within the box.
func (b Box) Len() int {
	return int(b.MaxX-b.MinX) * int(b.MaxY-b.MinY)
}

// Contains reports whether the given key lies in this box.
func (b Box) Contains(k Key) bool {
	return b.Z == k.Z &&
		b.MinX <= k.X && k.X < b.MaxX &&
		b.MinY <= k.Y && k.Y < b.MaxY
}

// IsAncestor reports whether k is contained in an ancestor of this box,
// returning the zoom distance when it is.
func (b Box) IsAncestor(k Key) (uint32, bool) {
	if k.Z >= b.Z {
		return 0, false
	}
	shift := b.Z - k.Z
	a, _ := b.Ancestor(shift)
	if a.Contains(k) {
		return shift, true
	}
	return 0, false
}

// IsNeighbor reports whether k is contained in or immediately borders this
// box at the same zoom level.
func (b Box) IsNeighbor(k Key) bool {
	return b.Z == k.Z &&
		b.MinX <= k.X+1 && k.X < b.MaxX+1 &&
		b.MinY <= k.Y+1 && k.Y < b.MaxY+1
}

// Parent returns the smallest box one zoom level up that fully contains this
// box. ok is false at zoom 0.
func (b Box) Parent() (Box, bool) {
	return b.Ancestor(1)
}

// Ancestor returns the smallest box n zoom levels up that fully contains this
// box. ok is false when n exceeds the box's zoom level.
func (b Box) Ancestor(n uint32) (Box, bool) {
	if b.Z < n {
		return Box{}, false
	}
	return Box{
		Z:    b.Z - n,
		MinX: b.MinX >> n,
		MinY: b.MinY >> n,
		MaxX: ((b.MaxX - 1) >> n) + 1,
		MaxY: ((b.MaxY - 1) >> n) + 1,
	}, true
}

// Keys lists the box's tiles in row-major order for the given provider.
func (b Box) Keys(provider string) []Key {
	out := make([]Key, 0, b.Len())
	for y := b.MinY; y < b.MaxY; y++ {
		for x := b.MinX; x < b.MaxX; x++ {
			out = append(out, Key{P: provider, Z: b.Z, X: x, Y: y})
		}
	}
	return out
}

// Left lists the column of tiles immediately West of the box, empty at the
// world edge.
func (b Box) Left(provider string) []Key {
	if b.MinX == 0 {
		return nil
	}
	return b.column(provider, b.MinX-1)
}

// Right lists the column of tiles immediately East of the box, empty at the
// world edge.
func (b Box) Right(provider string) []Key {
	if b.MaxX>>b.Z != 0 {
		return nil
	}
	return b.column(provider, b.MaxX)
}

// Top lists the row of tiles immediately North of the box, empty at the world
// edge.
func (b Box) Top(provider string) []Key {
	if b.MinY == 0 {
		return nil
	}
	return b.row(provider, b.MinY-1)
}

// Bottom lists the row of tiles immediately South of the box, empty at the
// world edge.
func (b Box) Bottom(provider string) []Key {
	if b.MaxY>>b.Z != 0 {
		return nil
	}
	return b.row(provider, b.MaxY)
}

func (b Box) column(provider string, x uint32) []Key {
	out := make([]Key, 0, b.MaxY-b.MinY)
	for y := b.MinY; y < b.MaxY; y++ {
		out = append(out, Key{P: provider, Z: b.Z, X: x, Y: y})
	}
	return out
}

func (b Box) row(provider string, y uint32) []Key {
	out := make([]Key, 0, b.MaxX-b.MinX)
	for x := b.MinX; x < b.MaxX; x++ {
		out = append(out, Key{P: provider, Z: b.Z, X: x, Y: y})
	}
	return out
}

// BoxFromViewport returns the minimal box covering the viewport. The zoom
// level is the coarsest one at which a tile spans at most maxPixelsPerTile
// screen pixels (so more than maxPixelsPerTile/2), clamped to
// [0, maxTileLevel], so tiles stay crisp without oversampling.
func BoxFromViewport(v Viewport, maxPixelsPerTile int, maxTileLevel uint32) Box {
	scale := v.Scale()

	level := -int32(math.Floor(math.Log2(float64(maxPixelsPerTile) / scale)))
	if level < 0 {
		level = 0
	} else if level > int32(maxTileLevel) {
		level = int32(maxTileLevel)
	}
	z := uint32(level)
	n := uint32(1) << z

	cx, cy := WorldCoords(v.CenterLon, v.CenterLat)
	halfW := float64(v.WidthPx) / (2 * scale)
	halfH := float64(v.HeightPx) / (2 * scale)

	minX := tileFloor(clampUnit(cx-halfW)*float64(n), n-1)
	minY := tileFloor(clampUnit(cy-halfH)*float64(n), n-1)
	maxX := tileCeil(clampUnit(cx+halfW)*float64(n), n)
	maxY := tileCeil(clampUnit(cy+halfH)*float64(n), n)

	if maxX <= minX {
		maxX = minX + 1
	}
	if maxY <= minY {
		maxY = minY + 1
	}
	return Box{Z: z, MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY}
}

// boundaryEps absorbs floating-point noise from the mercator round trip: a
// coordinate this close to a tile boundary counts as lying on it.
const boundaryEps = 1e-6

// tileFloor converts a fractional tile coordinate to an inclusive index,
// clamped to hi.
func tileFloor(f float64, hi uint32) uint32 {
	i := uint32(math.Floor(f + boundaryEps))
	if i > hi {
		i = hi
	}
	return i
}

// tileCeil converts a fractional tile coordinate to an exclusive bound. An
// exact tile boundary yields the boundary itself, keeping the cover minimal.
func tileCeil(f float64, hi uint32) uint32 {
	i := uint32(math.Ceil(f - boundaryEps))
	if i > hi {
		i = hi
	}
	return i
}
