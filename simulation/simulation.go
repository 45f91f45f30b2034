package simulation

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/netmove/netmove/command"
	"github.com/netmove/netmove/game"
	"github.com/netmove/netmove/geometry"
)

// Outcome describes which path a step took.
type Outcome uint8

const (
	OutcomeNormal Outcome = iota
	// OutcomeSkipped means the step length was zero, negative or not a number and nothing changed.
	OutcomeSkipped
	// OutcomeClamped means the step length exceeded MaxDeltaTime and was shortened.
	OutcomeClamped
	// OutcomeRecovered means the step produced a non-finite state, which was rolled back with the velocity
	// zeroed.
	OutcomeRecovered
)

// Simulation advances the movement State of one character. It is not safe for concurrent use; each
// entity owns its own Simulation while the ModeTable and the geometry may be shared.
type Simulation struct {
	State     State
	Constants Constants

	world  geometry.Query
	modes  *ModeTable
	filter geometry.Filter

	// planes holds the normals hit by the sweeps of the current step.
	planes []mgl64.Vec3
}

// New creates a simulation at pos. The initial mode is ground when DoGroundCheck finds a contact at pos and
// air otherwise. A nil world behaves as empty space and a nil table as NewModeTable().
func New(world geometry.Query, modes *ModeTable, constants Constants, pos mgl64.Vec3) *Simulation {
	if world == nil {
		world = geometry.Empty{}
	}
	if modes == nil {
		modes = NewModeTable()
	}
	s := &Simulation{
		world:     world,
		modes:     modes,
		Constants: constants.Sanitized(),
		planes:    make([]mgl64.Vec3, 0, 8),
	}
	s.State.Pos = pos
	s.State.Mode = ModeAir
	if contact, ok := s.DoGroundCheck(pos); ok {
		s.State.Pos[1] = contact.Position.Y()
		s.State.GroundNormal = contact.Normal
		s.State.Mode = ModeGround
	}
	return s
}

// SetFilter sets the geometry the character's own probes ignore.
func (s *Simulation) SetFilter(filter geometry.Filter) {
	s.filter = filter
}

// Modes returns the mode table the simulation dispatches through.
func (s *Simulation) Modes() *ModeTable {
	return s.modes
}

// Step advances the state by one command over dt seconds.
func (s *Simulation) Step(cmd command.Command, dt float64) Outcome {
	if math.IsNaN(dt) || dt <= 0 {
		return OutcomeSkipped
	}
	outcome := OutcomeNormal
	if dt > s.Constants.MaxDeltaTime {
		dt = s.Constants.MaxDeltaTime
		outcome = OutcomeClamped
	}
	cmd = cmd.Sanitize()
	prev := s.State
	s.planes = s.planes[:0]

	s.State.TargetAngle = s.targetAngle(cmd)

	for _, m := range s.modes.modes {
		if m.Always != nil {
			m.Always(s, cmd, dt)
		}
	}
	if m, ok := s.modes.Mode(s.State.Mode); ok && m.Active != nil {
		m.Active(s, cmd, dt)
	}
	s.tickCommon(dt)

	if !s.finite() {
		s.State = prev
		s.State.Vel = mgl64.Vec3{}
		return OutcomeRecovered
	}
	s.State.Vel = game.ClampLength(s.State.Vel, s.Constants.MaxVelocity)
	return outcome
}

// Simulate steps a copy of state and returns the result without touching the simulation's own state.
func (s *Simulation) Simulate(state State, cmd command.Command, dt float64) State {
	saved := s.State
	s.State = state
	s.Step(cmd, dt)
	out := s.State
	s.State = saved
	return out
}

// Step is the functional form of Simulation.Step: it returns state advanced by cmd over dt using the
// simulation's constants, geometry and modes.
func Step(sim *Simulation, state State, cmd command.Command, dt float64) State {
	return sim.Simulate(state, cmd, dt)
}

// targetAngle returns the look angle while aim-locked and otherwise the angle of the wish vector. Without
// movement input the previous target is kept.
func (s *Simulation) targetAngle(cmd command.Command) float64 {
	if s.Constants.AimLock || cmd.Actions.Has(command.ActionAimLock) {
		return cmd.LookAngle
	}
	if cmd.WishDir.LenSqr() > 1e-12 {
		return game.VecToAngle(cmd.WishDir)
	}
	return s.State.TargetAngle
}

// tickCommon applies the effects shared by every mode.
func (s *Simulation) tickCommon(dt float64) {
	st := &s.State
	c := s.Constants

	st.Angle = game.TurnToward(st.Angle, st.TargetAngle, c.TurnSpeedFrac, dt)
	if st.StepUp > 0 {
		// Closes most of the visual step within a fifth of a second.
		st.StepUp *= math.Exp(-20 * dt)
		if st.StepUp < 1e-4 {
			st.StepUp = 0
		}
	}
	if st.Pushing > 0 {
		st.Pushing = math.Max(0, st.Pushing-dt)
		if st.Pushing == 0 {
			st.PushDir = mgl64.Vec3{}
		}
	}
	if st.OnGround() {
		st.InAir = 0
	} else {
		st.InAir += dt
	}
}

func (s *Simulation) finite() bool {
	st := s.State
	return game.FiniteVec3(st.Pos) && game.FiniteVec3(st.Vel) && game.Finite(st.Angle) &&
		game.Finite(st.JumpThrust) && game.Finite(st.StepUp) && game.Finite(st.InAir)
}

// SetMode switches to the given mode, running the Exit callback of the current mode and then the Enter
// callback of the new one. Switching to the current mode does nothing.
func (s *Simulation) SetMode(id ModeID) {
	if id == s.State.Mode {
		return
	}
	next, ok := s.modes.Mode(id)
	if !ok {
		return
	}
	if cur, ok := s.modes.Mode(s.State.Mode); ok && cur.Exit != nil {
		cur.Exit(s)
	}
	s.State.Mode = id
	s.State.ModeData = [ModeDataSize]byte{}
	if next.Enter != nil {
		next.Enter(s)
	}
}

// SetPosition moves the character to pos. A teleport also stops it and clears the pending visual step.
func (s *Simulation) SetPosition(pos mgl64.Vec3, teleport bool) {
	s.State.Pos = pos
	if !teleport {
		return
	}
	s.State.Vel = mgl64.Vec3{}
	s.State.StepUp = 0
	if contact, ok := s.DoGroundCheck(pos); ok {
		s.State.Pos[1] = contact.Position.Y()
		s.State.GroundNormal = contact.Normal
		s.SetMode(ModeGround)
		return
	}
	s.State.GroundNormal = mgl64.Vec3{}
	s.SetMode(ModeAir)
}

// SetAngle sets the angle the character turns toward. With snap set it faces that angle immediately.
func (s *Simulation) SetAngle(angle float64, snap bool) {
	s.State.TargetAngle = game.WrapAngle(angle)
	if snap {
		s.State.Angle = s.State.TargetAngle
	}
}

// Push shoves the character along the horizontal component of dir for duration seconds.
func (s *Simulation) Push(dir mgl64.Vec3, duration float64) {
	dir = game.Flat(dir)
	if dir.LenSqr() < 1e-12 || !game.Finite(duration) || duration <= 0 {
		return
	}
	s.State.PushDir = dir.Normalize()
	s.State.Pushing = duration
}

// pushVelocity returns the velocity contributed by an active push.
func (s *Simulation) pushVelocity() mgl64.Vec3 {
	if s.State.Pushing <= 0 {
		return mgl64.Vec3{}
	}
	return s.State.PushDir.Mul(s.Constants.PushSpeed)
}
