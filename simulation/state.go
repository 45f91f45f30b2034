package simulation

import "github.com/go-gl/mathgl/mgl64"

// ModeID identifies a movement mode registered in a ModeTable.
type ModeID uint8

const (
	// ModeGround is active while the character stands on walkable geometry.
	ModeGround ModeID = iota
	// ModeAir is active while the character is airborne.
	ModeAir
)

// ModeDataSize is the number of bytes of per-mode scratch space carried in State.
const ModeDataSize = 16

// State is the complete, copyable movement state of a character. Two simulations stepping equal states with
// equal commands produce equal states.
type State struct {
	Pos mgl64.Vec3
	Vel mgl64.Vec3
	// Angle is the current facing yaw in radians and TargetAngle the yaw it turns toward.
	Angle       float64
	TargetAngle float64
	// Jump is the remaining jump cooldown.
	Jump float64
	// JumpThrust is the remaining scale of the held-jump thrust, from 1 at take-off down to 0.
	JumpThrust float64
	// InAir is the time spent airborne since the last ground contact.
	InAir float64
	// StepUp is the visual step-up offset left to smooth out after climbing a ledge.
	StepUp float64
	// Pushing is the remaining time of an active push, PushDir its direction.
	Pushing float64
	PushDir mgl64.Vec3
	// GroundNormal is the normal of the surface stood on, or zero while airborne.
	GroundNormal mgl64.Vec3
	Mode         ModeID
	// ModeData is scratch space owned by the active mode. It is reset on every mode change.
	ModeData [ModeDataSize]byte
}

// OnGround reports whether the state is in contact with walkable ground.
func (s State) OnGround() bool {
	return s.GroundNormal != (mgl64.Vec3{})
}
