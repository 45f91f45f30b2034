// Package weapons resolves hit-scan shots against the world as the shooter saw it, by rewinding every other
// entity through the lag compensation ledger for the duration of the query.
package weapons

import (
	"context"
	"slices"

	dfcube "github.com/df-mc/dragonfly/server/block/cube"
	"github.com/ethaniccc/float32-cube/cube"
	"github.com/ethaniccc/float32-cube/cube/trace"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/netmove/netmove/antilag"
	"github.com/netmove/netmove/game"
	"github.com/netmove/netmove/geometry"
	"github.com/netmove/netmove/oerror"
)

// Hitbox is the size of an entity's bounding volume. The box is centred on the entity horizontally and
// rises from its feet.
type Hitbox struct {
	Radius float32
	Height float32
}

// Config tunes hit resolution.
type Config struct {
	Hitbox Hitbox
	// TieEpsilon is how much further than a static surface an entity may be and still take the hit.
	TieEpsilon float64
	// MaxRange is the length of every ray. Rays that hit nothing end there.
	MaxRange float64
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		Hitbox:     Hitbox{Radius: 0.6, Height: 3},
		TieEpsilon: 1e-3,
		MaxRange:   1000,
	}
}

// Result is the outcome of one ray.
type Result struct {
	// Position is where the ray stopped and Normal the surface normal there. A miss has a zero normal.
	Position mgl64.Vec3
	Normal   mgl64.Vec3

	Entity     antilag.EntityID
	HasEntity  bool
	Surface    geometry.SurfaceID
	HasSurface bool

	Origin    mgl64.Vec3
	Direction mgl64.Vec3
	Distance  float64
	// Clamped is set when the claimed time was older than the retained history.
	Clamped bool
}

// Hit reports whether the ray stopped on anything.
func (r Result) Hit() bool {
	return r.HasEntity || r.HasSurface
}

// Engine evaluates shots. It is not safe for concurrent use and must only be queried between server ticks.
type Engine struct {
	cfg    Config
	ledger *antilag.Ledger
	world  geometry.Query
	roster antilag.Roster
}

// NewEngine returns an engine rewinding the targets of roster through ledger and testing rays against world.
func NewEngine(cfg Config, ledger *antilag.Ledger, world geometry.Query, roster antilag.Roster) *Engine {
	if world == nil {
		world = geometry.Empty{}
	}
	if cfg.MaxRange <= 0 || !game.Finite(cfg.MaxRange) {
		cfg.MaxRange = DefaultConfig().MaxRange
	}
	if cfg.TieEpsilon < 0 || !game.Finite(cfg.TieEpsilon) {
		cfg.TieEpsilon = 0
	}
	return &Engine{cfg: cfg, ledger: ledger, world: world, roster: roster}
}

// Config returns the engine's configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// QuerySingle casts one ray from origin along dir at claimedTime. The shooter is never hit.
func (e *Engine) QuerySingle(ctx context.Context, shooter antilag.EntityID, origin, dir mgl64.Vec3, claimedTime float64, filter geometry.Filter) (Result, error) {
	results, err := e.QueryMulti(ctx, shooter, []mgl64.Vec3{origin}, []mgl64.Vec3{dir}, claimedTime, filter)
	if err != nil {
		return Result{}, err
	}
	return results[0], nil
}

// QueryMulti casts every ray against a single rewind to claimedTime, so all of them see the same world.
// origins and dirs pair up by index. Cancelling ctx stops the query between rays, and the live placements
// are restored whichever way it returns.
func (e *Engine) QueryMulti(ctx context.Context, shooter antilag.EntityID, origins, dirs []mgl64.Vec3, claimedTime float64, filter geometry.Filter) ([]Result, error) {
	if len(origins) != len(dirs) {
		return nil, oerror.New("weapons: %d origins for %d directions", len(origins), len(dirs))
	}
	results := make([]Result, 0, len(origins))
	err := e.ledger.WithRewind(ctx, claimedTime, e.roster, func(r *antilag.Rewind) error {
		boxes := e.hitboxes(shooter)
		for i := range origins {
			if err := ctx.Err(); err != nil {
				return err
			}
			res := e.cast(origins[i], dirs[i], boxes, filter)
			res.Clamped = r.Clamped
			results = append(results, res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

type hitbox struct {
	id antilag.EntityID
	bb cube.BBox
}

// hitboxes builds the boxes of every target other than the shooter at their current, rewound, placement.
func (e *Engine) hitboxes(shooter antilag.EntityID) []hitbox {
	r, h := e.cfg.Hitbox.Radius, e.cfg.Hitbox.Height
	base := cube.Box(-r, 0, -r, r, h, r)

	var boxes []hitbox
	for t := range e.roster.Targets() {
		if t.ID() == shooter {
			continue
		}
		boxes = append(boxes, hitbox{id: t.ID(), bb: base.Translate(game.Vec64To32(t.Placement().Position))})
	}
	return boxes
}

type entityHit struct {
	id       antilag.EntityID
	pos      mgl64.Vec3
	normal   mgl64.Vec3
	distance float64
}

// cast resolves a single ray against the hitboxes and the static world. An entity wins a tie with a surface
// when it is no more than TieEpsilon further along the ray.
func (e *Engine) cast(origin, dir mgl64.Vec3, boxes []hitbox, filter geometry.Filter) Result {
	res := Result{Origin: origin, Position: origin}
	if dir.LenSqr() < 1e-12 || !game.FiniteVec3(dir) || !game.FiniteVec3(origin) {
		return res
	}
	dir = dir.Normalize()
	res.Direction = dir
	end := origin.Add(dir.Mul(e.cfg.MaxRange))

	entity, entityOK := e.nearestEntity(origin, dir, end, boxes)
	surface, surfaceOK := e.world.Probe(origin, dir, e.cfg.MaxRange, filter)

	switch {
	case entityOK && (!surfaceOK || entity.distance <= surface.Distance+e.cfg.TieEpsilon):
		res.Position, res.Normal, res.Distance = entity.pos, entity.normal, entity.distance
		res.Entity, res.HasEntity = entity.id, true
	case surfaceOK:
		res.Position, res.Normal, res.Distance = surface.Position, surface.Normal, surface.Distance
		res.Surface, res.HasSurface = surface.Surface, true
	default:
		res.Position, res.Distance = end, e.cfg.MaxRange
	}
	return res
}

// nearestEntity intersects the ray with every hitbox and returns the closest hit. A ray starting inside a
// box hits it at the origin.
func (e *Engine) nearestEntity(origin, dir, end mgl64.Vec3, boxes []hitbox) (entityHit, bool) {
	start32, end32 := game.Vec64To32(origin), game.Vec64To32(end)

	hits := make([]entityHit, 0, len(boxes))
	for _, b := range boxes {
		if b.bb.Vec3Within(start32) {
			hits = append(hits, entityHit{id: b.id, pos: origin, normal: dir.Mul(-1)})
			continue
		}
		result, ok := trace.BBoxIntercept(b.bb, start32, end32)
		if !ok {
			continue
		}
		pos := game.Vec32To64(result.Position())
		dist := pos.Sub(origin).Len()
		if dist > e.cfg.MaxRange {
			continue
		}
		hits = append(hits, entityHit{id: b.id, pos: pos, normal: faceNormal(result.Face()), distance: dist})
	}
	if len(hits) == 0 {
		return entityHit{}, false
	}
	slices.SortStableFunc(hits, func(a, b entityHit) int {
		switch {
		case a.distance < b.distance:
			return -1
		case a.distance > b.distance:
			return 1
		}
		return 0
	})
	return hits[0], true
}

// faceNormal maps a float32-cube face onto the shared normal table; both face enums use the same order.
func faceNormal(f cube.Face) mgl64.Vec3 {
	return geometry.FaceNormal(dfcube.Face(f))
}
