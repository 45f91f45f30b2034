// Package geometry exposes the static world to movement and hit-scan code through a single ray probe.
package geometry

import (
	"slices"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/go-gl/mathgl/mgl64"
)

// SurfaceID identifies a piece of static geometry.
type SurfaceID uint32

// Hit is the nearest intersection of a probe with static geometry.
type Hit struct {
	Position mgl64.Vec3
	Normal   mgl64.Vec3
	Distance float64
	Surface  SurfaceID
}

// Filter selects geometry that a probe should ignore.
type Filter struct {
	Exclude []SurfaceID
}

// Excludes reports whether the surface is ignored by the filter.
func (f Filter) Excludes(id SurfaceID) bool {
	return slices.Contains(f.Exclude, id)
}

// With returns a copy of the filter that also ignores the given surfaces.
func (f Filter) With(ids ...SurfaceID) Filter {
	return Filter{Exclude: append(slices.Clone(f.Exclude), ids...)}
}

// Query casts rays against static geometry. Probe returns the nearest hit within maxDistance along
// direction, which does not need to be normalised. Implementations must be deterministic.
type Query interface {
	Probe(origin, direction mgl64.Vec3, maxDistance float64, filter Filter) (Hit, bool)
}

// Empty is a Query with no geometry at all.
type Empty struct{}

// Probe ...
func (Empty) Probe(mgl64.Vec3, mgl64.Vec3, float64, Filter) (Hit, bool) {
	return Hit{}, false
}

// FaceNormal returns the outward unit normal of a box face.
func FaceNormal(face cube.Face) mgl64.Vec3 {
	switch face {
	case cube.FaceDown:
		return mgl64.Vec3{0, -1, 0}
	case cube.FaceUp:
		return mgl64.Vec3{0, 1, 0}
	case cube.FaceNorth:
		return mgl64.Vec3{0, 0, -1}
	case cube.FaceSouth:
		return mgl64.Vec3{0, 0, 1}
	case cube.FaceWest:
		return mgl64.Vec3{-1, 0, 0}
	case cube.FaceEast:
		return mgl64.Vec3{1, 0, 0}
	}
	return mgl64.Vec3{}
}
