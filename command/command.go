// Package command holds the per-tick input unit shared by client prediction and the server authority,
// the client-side pipeline producing it and the server-side queue consuming it.
package command

import (
	"github.com/go-gl/mathgl/mgl64"
	"github.com/netmove/netmove/game"
)

// ActionFlags is a bitset of discrete actions held during a command.
type ActionFlags uint32

const (
	ActionJump ActionFlags = 1 << iota
	ActionCrouch
	ActionFire
	// ActionAimLock makes the character face its look angle while the flag is held.
	ActionAimLock
)

// Has reports whether every flag in f is set.
func (a ActionFlags) Has(f ActionFlags) bool {
	return a&f == f
}

// Command is the immutable input for one simulation step. Sequence numbers start at 1 and increase by
// one per command.
type Command struct {
	Sequence   uint64
	ClientTime float64
	DeltaTime  float64
	// WishDir is the desired movement direction on the horizontal plane, with length at most 1.
	WishDir   mgl64.Vec3
	LookAngle float64
	Actions   ActionFlags
}

// Input is what a client samples from its devices each frame.
type Input struct {
	WishDir   mgl64.Vec3
	LookAngle float64
	Actions   ActionFlags
}

// Sanitize returns the command with non-finite values zeroed and the wish vector flattened and clamped to
// unit length.
func (c Command) Sanitize() Command {
	c.WishDir = sanitizeWish(c.WishDir)
	if !game.Finite(c.LookAngle) {
		c.LookAngle = 0
	}
	c.LookAngle = game.WrapAngle(c.LookAngle)
	if !game.Finite(c.DeltaTime) || c.DeltaTime < 0 {
		c.DeltaTime = 0
	}
	if !game.Finite(c.ClientTime) {
		c.ClientTime = 0
	}
	return c
}

func sanitizeWish(wish mgl64.Vec3) mgl64.Vec3 {
	if !game.FiniteVec3(wish) {
		return mgl64.Vec3{}
	}
	return game.ClampLength(game.Flat(wish), 1)
}
