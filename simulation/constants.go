package simulation

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/netmove/netmove/game"
)

// Constants tune the movement model. Rates are exponential rates per second, distances are in world units
// and times are in seconds.
type Constants struct {
	// MaxSpeed is the ground speed reached with full wish input.
	MaxSpeed float64
	// AirSpeed is the horizontal speed air control steers toward.
	AirSpeed float64
	// Accel is the rate at which ground velocity along the wish direction reaches MaxSpeed.
	Accel float64
	// AirAccel is the rate at which air velocity along the wish direction reaches AirSpeed.
	AirAccel float64
	// RunFriction damps sideways ground velocity while the wish vector is non-zero.
	RunFriction float64
	// BrakeFriction damps ground velocity while there is no wish input.
	BrakeFriction float64
	// JumpPunch is the instant upward velocity of a jump.
	JumpPunch float64
	// JumpThrustPower is the upward acceleration a held jump gives right after take-off.
	JumpThrustPower float64
	// JumpThrustDecay is the rate at which the held-jump thrust fades.
	JumpThrustDecay float64
	// JumpCooldown is the time after a jump before the next one is allowed.
	JumpCooldown float64
	Gravity      float64
	// MaxGroundSlope is the steepest walkable surface, in radians from flat.
	MaxGroundSlope float64
	// TurnSpeedFrac is the rate at which the facing angle closes on its target.
	TurnSpeedFrac float64
	// AimLock makes the character face the look angle instead of the movement direction.
	AimLock   bool
	PushSpeed float64
	// StepSize is the tallest ledge that can be walked onto without jumping.
	StepSize float64
	Radius   float64
	Height   float64
	// MaxVelocity caps the length of the velocity after every step.
	MaxVelocity float64
	// MaxDeltaTime caps the length of a single simulated step.
	MaxDeltaTime float64
}

// DefaultConstants returns the constants used when none are configured.
func DefaultConstants() Constants {
	return Constants{
		MaxSpeed:        16,
		AirSpeed:        16,
		Accel:           10,
		AirAccel:        2,
		RunFriction:     10,
		BrakeFriction:   8,
		JumpPunch:       12,
		JumpThrustPower: 60,
		JumpThrustDecay: 10,
		JumpCooldown:    0.2,
		Gravity:         32,
		MaxGroundSlope:  0.8,
		TurnSpeedFrac:   12,
		PushSpeed:       16,
		StepSize:        1,
		Radius:          0.5,
		Height:          3,
		MaxVelocity:     200,
		MaxDeltaTime:    0.1,
	}
}

// Sanitized returns a copy of c in which every negative, non-finite or otherwise unusable value is replaced
// by its default.
func (c Constants) Sanitized() Constants {
	d := DefaultConstants()
	nonNeg := func(v *float64, def float64) {
		if !game.Finite(*v) || *v < 0 {
			*v = def
		}
	}
	positive := func(v *float64, def float64) {
		if !game.Finite(*v) || *v <= 0 {
			*v = def
		}
	}
	nonNeg(&c.MaxSpeed, d.MaxSpeed)
	nonNeg(&c.AirSpeed, d.AirSpeed)
	nonNeg(&c.Accel, d.Accel)
	nonNeg(&c.AirAccel, d.AirAccel)
	nonNeg(&c.RunFriction, d.RunFriction)
	nonNeg(&c.BrakeFriction, d.BrakeFriction)
	nonNeg(&c.JumpPunch, d.JumpPunch)
	nonNeg(&c.JumpThrustPower, d.JumpThrustPower)
	nonNeg(&c.JumpThrustDecay, d.JumpThrustDecay)
	nonNeg(&c.JumpCooldown, d.JumpCooldown)
	nonNeg(&c.Gravity, d.Gravity)
	nonNeg(&c.TurnSpeedFrac, d.TurnSpeedFrac)
	nonNeg(&c.PushSpeed, d.PushSpeed)
	nonNeg(&c.StepSize, d.StepSize)
	positive(&c.Radius, d.Radius)
	positive(&c.Height, d.Height)
	positive(&c.MaxVelocity, d.MaxVelocity)
	positive(&c.MaxDeltaTime, d.MaxDeltaTime)
	if !game.Finite(c.MaxGroundSlope) || c.MaxGroundSlope < 0 || c.MaxGroundSlope >= math.Pi/2 {
		c.MaxGroundSlope = d.MaxGroundSlope
	}
	if c.StepSize >= c.Height {
		c.StepSize = c.Height / 2
	}
	return c
}

// Walkable reports whether a surface with the given normal can be stood on.
func (c Constants) Walkable(normal mgl64.Vec3) bool {
	return normal.Y() >= math.Cos(c.MaxGroundSlope)
}
