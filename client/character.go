package client

import (
	"github.com/go-gl/mathgl/mgl64"
	"github.com/netmove/netmove/game"
)

// CharacterData holds the offset between where the character is simulated and where it is drawn. A
// correction moves the simulated position at once; the offset keeps the drawn position where it was and
// then decays, so the character glides to its corrected place.
type CharacterData struct {
	offset    mgl64.Vec3
	smoothing float64
}

// Correct absorbs a correction of delta, the old position minus the new one. With snap set the offset is
// dropped and the character is drawn at its new position straight away.
func (c *CharacterData) Correct(delta mgl64.Vec3, snap bool) {
	if snap || !game.FiniteVec3(delta) {
		c.offset = mgl64.Vec3{}
		return
	}
	c.offset = c.offset.Add(delta)
}

// Update decays the offset over dt seconds.
func (c *CharacterData) Update(dt float64) {
	if !game.Finite(dt) || dt <= 0 || c.offset == (mgl64.Vec3{}) {
		return
	}
	c.offset = game.SmoothLerp(c.offset, mgl64.Vec3{}, c.smoothing, dt)
	if c.offset.LenSqr() < 1e-8 {
		c.offset = mgl64.Vec3{}
	}
}

// Offset returns the current offset.
func (c *CharacterData) Offset() mgl64.Vec3 {
	return c.offset
}
