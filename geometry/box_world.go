package geometry

import (
	"math"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/df-mc/dragonfly/server/block/cube/trace"
	"github.com/go-gl/mathgl/mgl64"
)

// Box is a single axis-aligned solid in a BoxWorld.
type Box struct {
	BBox    cube.BBox
	Surface SurfaceID
}

// BoxWorld is a Query over a fixed set of axis-aligned boxes. It is enough for arenas, test maps and
// headless servers that have no richer collision backend.
type BoxWorld struct {
	boxes []Box
}

// NewBoxWorld returns a world made of the given boxes.
func NewBoxWorld(boxes ...Box) *BoxWorld {
	return &BoxWorld{boxes: boxes}
}

// Add inserts a box with the given surface id. It must not be called while the world is being probed.
func (w *BoxWorld) Add(id SurfaceID, bb cube.BBox) {
	w.boxes = append(w.boxes, Box{BBox: bb, Surface: id})
}

// Boxes returns the boxes making up the world.
func (w *BoxWorld) Boxes() []Box {
	return w.boxes
}

// Probe returns the nearest box hit along the ray. Ties resolve to the box added first.
func (w *BoxWorld) Probe(origin, direction mgl64.Vec3, maxDistance float64, filter Filter) (Hit, bool) {
	if maxDistance <= 0 || math.IsNaN(maxDistance) {
		return Hit{}, false
	}
	l := direction.Len()
	if l == 0 || math.IsNaN(l) || math.IsInf(l, 0) {
		return Hit{}, false
	}
	direction = direction.Mul(1 / l)
	end := origin.Add(direction.Mul(maxDistance))

	var (
		best  Hit
		found bool
	)
	for _, box := range w.boxes {
		if filter.Excludes(box.Surface) {
			continue
		}
		result, ok := trace.BBoxIntercept(box.BBox, origin, end)
		if !ok {
			continue
		}
		dist := result.Position().Sub(origin).Len()
		if dist > maxDistance {
			continue
		}
		if !found || dist < best.Distance {
			best = Hit{
				Position: result.Position(),
				Normal:   FaceNormal(result.Face()),
				Distance: dist,
				Surface:  box.Surface,
			}
			found = true
		}
	}
	return best, found
}

const (
	// SurfaceFloor, SurfaceWall and SurfacePillar identify the boxes of an arena built by NewArena.
	SurfaceFloor SurfaceID = iota + 1
	SurfaceWall
	SurfacePillar
)

// NewArena returns a floor at y=0 reaching size blocks from the origin along both axes, enclosed by walls of
// the given height, with a pillar either side of the origin along the x axis.
func NewArena(size, height float64) *BoxWorld {
	return NewBoxWorld(
		Box{BBox: cube.Box(-size, -1, -size, size, 0, size), Surface: SurfaceFloor},
		Box{BBox: cube.Box(-size-1, 0, -size, -size, height, size), Surface: SurfaceWall},
		Box{BBox: cube.Box(size, 0, -size, size+1, height, size), Surface: SurfaceWall},
		Box{BBox: cube.Box(-size, 0, -size-1, size, height, -size), Surface: SurfaceWall},
		Box{BBox: cube.Box(-size, 0, size, size, height, size+1), Surface: SurfaceWall},
		Box{BBox: cube.Box(-6, 0, -2, -4, height, 2), Surface: SurfacePillar},
		Box{BBox: cube.Box(4, 0, -2, 6, height, 2), Surface: SurfacePillar},
	)
}
