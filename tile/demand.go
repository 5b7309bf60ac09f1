package tile

// Demand is one entry of a demand set: a tile key ranked by priority, lower
// numbers stronger.
type Demand struct {
	Key      Key
	Priority int
}

// Demand priorities.
const (
	// PriorityRequired marks tiles covering the current viewport.
	PriorityRequired = 0
	// PrioritySpeculative marks tiles covering the projected viewport.
	PrioritySpeculative = 1
	// PriorityFallback marks coarser ancestor tiles usable as stand-in
	// imagery while required tiles are in flight.
	PriorityFallback = 2
)

// PlanConfig carries the planner tuning knobs.
type PlanConfig struct {
	MaxTileLevel     uint32
	MaxPixelsPerTile int
	// Speculative enables priority-1 and priority-2 demand.
	Speculative bool
	// LookaheadSec projects the viewport along its motion vector. Zero means
	// the planner default of half a second.
	LookaheadSec float64
}

const defaultLookaheadSec = 0.5

// Plan translates the viewport into a priority-ordered demand set for the
// given provider. The planner is pure: it reads only its arguments and has
// no side effects.
//
// Keys are emitted strongest priority first, deduplicated keeping the
// strongest priority. Each box contributes its keys in row-major order; the
// speculative edge strip follows the projected box's keys.
func Plan(provider string, v Viewport, cfg PlanConfig) []Demand {
	box := BoxFromViewport(v, cfg.MaxPixelsPerTile, cfg.MaxTileLevel)

	out := make([]Demand, 0, box.Len())
	seen := make(map[Key]struct{}, box.Len())
	emit := func(keys []Key, prio int) {
		for _, k := range keys {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, Demand{Key: k, Priority: prio})
		}
	}

	emit(box.Keys(provider), PriorityRequired)
	if !cfg.Speculative {
		return out
	}

	// Projected viewport, plus the edge strips in the direction of motion.
	if v.Moving() {
		lookahead := cfg.LookaheadSec
		if lookahead == 0 {
			lookahead = defaultLookaheadSec
		}
		projected := BoxFromViewport(v.Project(lookahead), cfg.MaxPixelsPerTile, cfg.MaxTileLevel)
		emit(projected.Keys(provider), PrioritySpeculative)
		if v.VelX > 0 {
			emit(box.Right(provider), PrioritySpeculative)
		} else if v.VelX < 0 {
			emit(box.Left(provider), PrioritySpeculative)
		}
		if v.VelY > 0 {
			emit(box.Bottom(provider), PrioritySpeculative)
		} else if v.VelY < 0 {
			emit(box.Top(provider), PrioritySpeculative)
		}
	}

	if parent, ok := box.Parent(); ok {
		emit(parent.Keys(provider), PriorityFallback)
	}
	return out
}
