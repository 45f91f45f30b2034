package simulation

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/netmove/netmove/command"
	"github.com/netmove/netmove/game"
)

func groundMode() Mode {
	return Mode{
		Name:   "ground",
		Active: groundActive,
		Always: func(s *Simulation, _ command.Command, dt float64) {
			if s.State.Jump > 0 {
				s.State.Jump = math.Max(0, s.State.Jump-dt)
			}
		},
	}
}

func airMode() Mode {
	return Mode{
		Name:   "air",
		Active: airActive,
		Exit: func(s *Simulation) {
			s.State.InAir = 0
			s.State.JumpThrust = 0
		},
	}
}

func groundActive(s *Simulation, cmd command.Command, dt float64) {
	c := s.Constants
	st := &s.State

	if cmd.Actions.Has(command.ActionJump) && st.Jump <= 0 {
		st.Vel[1] = c.JumpPunch
		st.JumpThrust = 1
		st.Jump = c.JumpCooldown
		st.GroundNormal = mgl64.Vec3{}
		s.SetMode(ModeAir)
		airActive(s, cmd, dt)
		return
	}

	vel, disp := relax(game.Flat(st.Vel), cmd.WishDir, c.MaxSpeed, c.Accel, c.RunFriction, c.BrakeFriction, s.pushVelocity(), dt)
	sweep := s.sweep(st.Pos, disp, vel, true)
	st.Pos = sweep.Position
	st.Vel = game.Flat(sweep.Velocity)
	st.StepUp += sweep.StepUp

	if contact, ok := s.probeGround(st.Pos, footClearance, c.StepSize); ok && c.Walkable(contact.Normal) {
		st.Pos[1] = contact.Position.Y()
		st.GroundNormal = contact.Normal
		return
	}
	st.GroundNormal = mgl64.Vec3{}
	s.SetMode(ModeAir)
}

func airActive(s *Simulation, cmd command.Command, dt float64) {
	c := s.Constants
	st := &s.State

	if !cmd.Actions.Has(command.ActionJump) {
		st.JumpThrust = 0
	}
	flatVel, flatDisp := relax(game.Flat(st.Vel), cmd.WishDir, c.AirSpeed, c.AirAccel, 0, 0, s.pushVelocity(), dt)
	vy, dy, remaining := game.IntegrateVertical(st.Vel.Y(), c.Gravity, c.JumpThrustPower*st.JumpThrust, c.JumpThrustDecay, dt)
	if st.JumpThrust > 0 {
		st.JumpThrust *= remaining
	}

	vel := mgl64.Vec3{flatVel.X(), vy, flatVel.Z()}
	disp := mgl64.Vec3{flatDisp.X(), dy, flatDisp.Z()}
	sweep := s.sweep(st.Pos, disp, vel, false)
	st.Pos = sweep.Position
	st.Vel = sweep.Velocity
	if sweep.Ceiling {
		st.JumpThrust = 0
	}
	if sweep.Landed {
		st.Vel[1] = 0
		st.GroundNormal = sweep.Ground.Normal
		s.SetMode(ModeGround)
		return
	}
	st.GroundNormal = mgl64.Vec3{}
}

// relax integrates horizontal velocity for dt seconds. The component along the wish direction approaches
// speed at the accel rate and the sideways component decays at the side rate. Without wish input the whole
// velocity decays at the brake rate. An active push adds to the target velocity.
func relax(vel, wish mgl64.Vec3, speed, accel, side, brake float64, push mgl64.Vec3, dt float64) (mgl64.Vec3, mgl64.Vec3) {
	wish = game.Flat(wish)
	if wish.LenSqr() < 1e-12 {
		rate := brake
		if rate == 0 && push.LenSqr() > 0 {
			rate = accel
		}
		return game.Approach(vel, push, rate, dt)
	}
	mag := math.Min(wish.Len(), 1)
	dir := wish.Normalize()

	par := dir.Mul(vel.Dot(dir))
	perp := vel.Sub(par)
	pushPar := dir.Mul(push.Dot(dir))
	pushPerp := push.Sub(pushPar)

	parVel, parDisp := game.Approach(par, dir.Mul(speed*mag).Add(pushPar), accel, dt)
	perpVel, perpDisp := game.Approach(perp, pushPerp, side, dt)
	return parVel.Add(perpVel), parDisp.Add(perpDisp)
}
