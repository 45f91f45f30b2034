package simulation

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/netmove/netmove/game"
	"github.com/netmove/netmove/geometry"
)

const (
	// skinWidth is the gap kept between the hull and anything it slides along.
	skinWidth = 0.01
	// footClearance is the height of the lowest horizontal probe, and the height ground probes start at.
	footClearance = 0.05
	// groundSnapDistance is how far below the feet ground still counts as contact.
	groundSnapDistance   = 0.1
	maxSlideIterations   = 4
	horizontalEpsilonSqr = 1e-18
	// minIncidence bounds how grazing a wall hit is treated when keeping the radius clear of it.
	minIncidence = 0.5
	// footprintScale places the edge probes just inside the hull radius.
	footprintScale = 0.9
)

// Contact is a walkable surface found under the character.
type Contact struct {
	Position mgl64.Vec3
	Normal   mgl64.Vec3
	Surface  geometry.SurfaceID
}

// Sweep is the result of moving the hull through the world.
type Sweep struct {
	Position mgl64.Vec3
	// Velocity is the input velocity with every component pointing into a hit surface removed.
	Velocity mgl64.Vec3

	// Landed is set if the downward move stopped on walkable ground, described by Ground.
	Landed bool
	Ground Contact
	// Ceiling is set if the upward move was stopped.
	Ceiling bool
	// Blocked is set if the horizontal move hit anything it could not step over.
	Blocked bool
	// StepUp is the height climbed by an automatic step.
	StepUp float64
}

// ProjectVelocity moves the hull from pos by vel for dt seconds, sliding along geometry. The vertical part
// of the move is resolved first and the horizontal part second. Steps are only climbed when the character
// is grounded.
func (s *Simulation) ProjectVelocity(pos, vel mgl64.Vec3, dt float64) Sweep {
	s.planes = s.planes[:0]
	return s.sweep(pos, vel.Mul(dt), vel, s.State.OnGround())
}

// DoGroundCheck looks for walkable ground directly under pos, no further than a small snap distance below
// the feet.
func (s *Simulation) DoGroundCheck(pos mgl64.Vec3) (Contact, bool) {
	contact, ok := s.probeGround(pos, footClearance, groundSnapDistance)
	if !ok || !s.Constants.Walkable(contact.Normal) {
		return Contact{}, false
	}
	return contact, true
}

// sweep moves the hull from pos by the displacement disp. vel is clipped against every surface hit.
func (s *Simulation) sweep(pos, disp, vel mgl64.Vec3, allowStep bool) Sweep {
	out := Sweep{Position: pos, Velocity: vel}

	if dy := disp.Y(); dy != 0 {
		p, hit, ok := s.moveVertical(out.Position, dy)
		out.Position = p
		if ok {
			if dy < 0 {
				if s.Constants.Walkable(hit.Normal) {
					out.Landed = true
					out.Ground = Contact{Position: hit.Position, Normal: hit.Normal, Surface: hit.Surface}
				}
			} else {
				out.Ceiling = true
			}
			s.planes = append(s.planes, hit.Normal)
		}
	}

	if flat := game.Flat(disp); flat.LenSqr() > horizontalEpsilonSqr {
		start := out.Position
		mark := len(s.planes)
		end, blocked, footOnly := s.slide(start, flat)
		if blocked && footOnly && allowStep {
			stepMark := len(s.planes)
			stepped, rise, ok := s.stepUp(start, flat)
			if ok && game.Vec3HzDistSqr(stepped.Sub(start)) > game.Vec3HzDistSqr(end.Sub(start))+1e-12 {
				s.planes = append(s.planes[:mark], s.planes[stepMark:]...)
				end, blocked = stepped, false
				out.StepUp = rise
			} else {
				s.planes = s.planes[:stepMark]
			}
		}
		out.Position = end
		out.Blocked = blocked
	}

	for _, n := range s.planes {
		out.Velocity = game.ClipVelocity(out.Velocity, n)
	}
	return out
}

// moveVertical moves pos up or down by dy, casting vertical rays across the hull's footprint from the
// middle of the hull.
func (s *Simulation) moveVertical(pos mgl64.Vec3, dy float64) (mgl64.Vec3, geometry.Hit, bool) {
	half := s.Constants.Height / 2
	dir := mgl64.Vec3{0, math.Copysign(1, dy), 0}

	hit, ok := s.castFootprint(pos.Add(mgl64.Vec3{0, half, 0}), dir, half+math.Abs(dy))
	if !ok {
		pos[1] += dy
		return pos, hit, false
	}
	if dy < 0 {
		pos[1] = hit.Position.Y()
	} else {
		pos[1] = math.Max(pos[1], hit.Position.Y()-s.Constants.Height-skinWidth)
	}
	return pos, hit, true
}

// slide moves pos along the horizontal vector move, sliding along whatever the horizontal probes hit. It
// reports whether anything was hit, and whether every hit was seen by the foot probe alone.
func (s *Simulation) slide(pos, move mgl64.Vec3) (end mgl64.Vec3, blocked, footOnly bool) {
	footOnly = true
	for range maxSlideIterations {
		dist := move.Len()
		if dist < 1e-9 {
			break
		}
		dir := move.Mul(1 / dist)
		travel, hit, upper, ok := s.castHorizontal(pos, dir, dist)
		if !ok {
			return pos.Add(move), blocked, blocked && footOnly
		}
		blocked = true
		if upper {
			footOnly = false
		}
		pos = pos.Add(dir.Mul(travel))

		n := game.Flat(hit.Normal)
		if n.LenSqr() < 1e-12 {
			break
		}
		n = n.Normalize()
		s.planes = append(s.planes, n)

		rest := move.Mul(1 - travel/dist)
		move = rest.Sub(n.Mul(rest.Dot(n)))
	}
	return pos, blocked, blocked && footOnly
}

// castHorizontal casts rays along dir from the foot, middle and top of the hull and returns how far the
// hull can travel, up to dist, before its radius touches a surface. The hit limiting the travel is returned
// along with whether any probe above the foot was blocked too.
func (s *Simulation) castHorizontal(pos, dir mgl64.Vec3, dist float64) (travel float64, hit geometry.Hit, upper, blocked bool) {
	c := s.Constants
	travel = dist
	clearance := c.Radius + skinWidth
	for i, height := range [...]float64{footClearance, c.Height / 2, c.Height - footClearance} {
		h, ok := s.world.Probe(pos.Add(mgl64.Vec3{0, height, 0}), dir, dist+clearance/minIncidence, s.filter)
		if !ok {
			continue
		}
		incidence := minIncidence
		if n := game.Flat(h.Normal); n.LenSqr() > 1e-12 {
			incidence = math.Max(-dir.Dot(n.Normalize()), minIncidence)
		}
		t := math.Max(0, h.Distance-clearance/incidence)
		if t >= dist {
			continue
		}
		if i > 0 {
			upper = true
		}
		if !blocked || t < travel {
			travel, hit, blocked = t, h, true
		}
	}
	return travel, hit, upper, blocked
}

// stepUp tries to climb onto a ledge no taller than StepSize: rise, move across, then settle back down
// onto walkable ground.
func (s *Simulation) stepUp(pos, move mgl64.Vec3) (mgl64.Vec3, float64, bool) {
	c := s.Constants
	raised, _, _ := s.moveVertical(pos, c.StepSize)
	rise := raised.Y() - pos.Y()
	if rise <= footClearance {
		return pos, 0, false
	}
	moved, _, _ := s.slide(raised, move)
	contact, ok := s.probeGround(moved, footClearance, rise)
	if !ok || !c.Walkable(contact.Normal) {
		return pos, 0, false
	}
	moved[1] = contact.Position.Y()
	climbed := moved.Y() - pos.Y()
	if climbed <= 0 {
		return pos, 0, false
	}
	return moved, climbed, true
}

// probeGround casts down across the footprint from lift above pos to below under it and returns the highest
// surface found.
func (s *Simulation) probeGround(pos mgl64.Vec3, lift, below float64) (Contact, bool) {
	hit, ok := s.castFootprint(pos.Add(mgl64.Vec3{0, lift, 0}), mgl64.Vec3{0, -1, 0}, lift+below)
	if !ok {
		return Contact{}, false
	}
	return Contact{Position: hit.Position, Normal: hit.Normal, Surface: hit.Surface}, true
}

// castFootprint casts parallel rays from the centre and the four edges of the hull's footprint and returns
// the nearest hit. Ties resolve to the centre.
func (s *Simulation) castFootprint(origin, dir mgl64.Vec3, length float64) (best geometry.Hit, found bool) {
	r := s.Constants.Radius * footprintScale
	for _, off := range [...]mgl64.Vec3{{}, {r, 0, 0}, {-r, 0, 0}, {0, 0, r}, {0, 0, -r}} {
		hit, ok := s.world.Probe(origin.Add(off), dir, length, s.filter)
		if ok && (!found || hit.Distance < best.Distance) {
			best, found = hit, true
		}
	}
	return best, found
}
