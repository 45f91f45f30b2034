package game

import (
	"math"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/go-gl/mathgl/mgl64"
)

// Up is the world up axis.
var Up = mgl64.Vec3{0, 1, 0}

// Approach relaxes vel toward target at the given exponential rate (per second) for dt seconds. It returns
// the new velocity and the exact displacement covered on the way. Because the integration is closed-form,
// one call with dt = a + b gives the same result as a call with a followed by a call with b.
func Approach(vel, target mgl64.Vec3, rate, dt float64) (mgl64.Vec3, mgl64.Vec3) {
	if rate <= 0 {
		return vel, vel.Mul(dt)
	}
	decay := math.Exp(-rate * dt)
	diff := vel.Sub(target)
	newVel := target.Add(diff.Mul(decay))
	disp := target.Mul(dt).Add(diff.Mul((1 - decay) / rate))
	return newVel, disp
}

// IntegrateVertical advances a vertical velocity under gravity plus an exponentially decaying thrust
// for dt seconds. thrust is the initial upward acceleration and decay its decay rate. It returns the new
// velocity, the displacement and the remaining thrust scale factor.
func IntegrateVertical(vel, gravity, thrust, decay, dt float64) (newVel, disp, remaining float64) {
	newVel = vel - gravity*dt
	disp = vel*dt - 0.5*gravity*dt*dt
	remaining = 1
	if thrust == 0 {
		return newVel, disp, remaining
	}
	if decay <= 0 {
		return newVel + thrust*dt, disp + 0.5*thrust*dt*dt, remaining
	}
	remaining = math.Exp(-decay * dt)
	gain := (1 - remaining) / decay
	newVel += thrust * gain
	disp += thrust * (dt - gain) / decay
	return newVel, disp, remaining
}

// Flat returns the vector with its vertical component removed.
func Flat(v mgl64.Vec3) mgl64.Vec3 {
	return mgl64.Vec3{v[0], 0, v[2]}
}

// ClampLength scales v down so its length does not exceed max.
func ClampLength(v mgl64.Vec3, max float64) mgl64.Vec3 {
	if l := v.Len(); l > max && l > 0 {
		return v.Mul(max / l)
	}
	return v
}

// ClipVelocity removes the part of vel that points into a surface with the given normal.
func ClipVelocity(vel, normal mgl64.Vec3) mgl64.Vec3 {
	if d := vel.Dot(normal); d < 0 {
		return vel.Sub(normal.Mul(d))
	}
	return vel
}

// VecToAngle returns the yaw, in radians, that faces along v on the horizontal plane.
func VecToAngle(v mgl64.Vec3) float64 {
	return math.Atan2(v[0], v[2])
}

// AngleToVec returns the unit horizontal vector for a yaw in radians.
func AngleToVec(angle float64) mgl64.Vec3 {
	return mgl64.Vec3{math.Sin(angle), 0, math.Cos(angle)}
}

// WrapAngle wraps an angle in radians into [-pi, pi).
func WrapAngle(angle float64) float64 {
	angle = math.Mod(angle+math.Pi, 2*math.Pi)
	if angle < 0 {
		angle += 2 * math.Pi
	}
	return angle - math.Pi
}

// LerpAngle interpolates between two angles along the shortest arc.
func LerpAngle(from, to, fraction float64) float64 {
	return WrapAngle(from + WrapAngle(to-from)*fraction)
}

// LerpAngle32 is LerpAngle for float32 angles.
func LerpAngle32(from, to, fraction float32) float32 {
	delta := math32.Mod(to-from+math32.Pi, 2*math32.Pi)
	if delta < 0 {
		delta += 2 * math32.Pi
	}
	delta -= math32.Pi
	return from + delta*fraction
}

// TurnToward rotates angle toward target, closing the gap exponentially at rate per second.
func TurnToward(angle, target, rate, dt float64) float64 {
	if rate <= 0 {
		return WrapAngle(angle)
	}
	return LerpAngle(angle, target, 1-math.Exp(-rate*dt))
}

// SmoothLerp moves from toward to so that the fraction of the gap left after one second is remaining.
func SmoothLerp(from, to mgl64.Vec3, remaining, dt float64) mgl64.Vec3 {
	if remaining <= 0 {
		return to
	}
	return to.Add(from.Sub(to).Mul(math.Pow(remaining, dt)))
}

// Finite reports whether f is neither NaN nor infinite.
func Finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// FiniteVec3 reports whether every component of v is finite.
func FiniteVec3(v mgl64.Vec3) bool {
	return Finite(v[0]) && Finite(v[1]) && Finite(v[2])
}

// Vec3HzDistSqr returns the squared horizontal distance in a vector.
func Vec3HzDistSqr(vec3 mgl64.Vec3) float64 {
	return vec3.X()*vec3.X() + vec3.Z()*vec3.Z()
}

// Vec32To64 converts a 32-bit vector to a 64-bit one.
func Vec32To64(vec3 mgl32.Vec3) mgl64.Vec3 {
	return mgl64.Vec3{float64(vec3[0]), float64(vec3[1]), float64(vec3[2])}
}

// Vec64To32 converts a 64-bit vector to a 32-bit one.
func Vec64To32(vec3 mgl64.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{float32(vec3[0]), float32(vec3[1]), float32(vec3[2])}
}
