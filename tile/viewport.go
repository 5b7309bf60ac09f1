package tile

import "math"

// Viewport is the visible world region published by the renderer. The core
// never mutates it.
type Viewport struct {
	// CenterLon, CenterLat position the viewport center in WGS84 degrees.
	CenterLon float64
	CenterLat float64
	// Zoom is the fractional web-map zoom: the world is rendered across
	// 256 * 2^Zoom screen pixels.
	Zoom float64
	// WidthPx, HeightPx are the viewport dimensions in screen pixels.
	WidthPx  int
	HeightPx int
	// VelX, VelY describe the viewport motion in screen pixels per second.
	// East and South positive. Zero when the camera is at rest.
	VelX float64
	VelY float64
}

// Scale returns the world scale in screen pixels per world unit, where the
// world is the unit square of the web mercator projection.
func (v Viewport) Scale() float64 {
	return tileExtentPx * math.Exp2(v.Zoom)
}

// Moving reports whether the viewport has a non-zero motion vector.
func (v Viewport) Moving() bool {
	return v.VelX != 0 || v.VelY != 0
}

// Project returns the viewport advanced along its motion vector by the given
// lookahead in seconds.
func (v Viewport) Project(lookaheadSec float64) Viewport {
	if !v.Moving() {
		return v
	}
	scale := v.Scale()
	wx, wy := WorldCoords(v.CenterLon, v.CenterLat)
	wx += v.VelX * lookaheadSec / scale
	wy += v.VelY * lookaheadSec / scale
	p := v
	p.CenterLon, p.CenterLat = LonLat(wx, wy)
	p.VelX, p.VelY = 0, 0
	return p
}

const tileExtentPx = 256.0

// WorldCoords converts WGS84 lon/lat degrees to web mercator coordinates in
// the world unit square. Latitudes beyond the mercator range clamp to the
// square edges.
func WorldCoords(lon, lat float64) (wx, wy float64) {
	wx = (lon + 180.0) / 360.0
	latRad := lat * math.Pi / 180.0
	wy = (1.0 - math.Log(math.Tan(latRad)+1.0/math.Cos(latRad))/math.Pi) / 2.0
	return clampUnit(wx), clampUnit(wy)
}

// LonLat converts world unit-square coordinates back to WGS84 degrees.
func LonLat(wx, wy float64) (lon, lat float64) {
	lon = wx*360.0 - 180.0
	lat = math.Atan(math.Sinh(math.Pi*(1.0-2.0*wy))) * 180.0 / math.Pi
	return lon, lat
}

func clampUnit(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}
