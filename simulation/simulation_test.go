package simulation

import (
	"math"
	"testing"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/netmove/netmove/command"
	"github.com/netmove/netmove/geometry"
	"github.com/stretchr/testify/require"
)

const (
	floorSurface geometry.SurfaceID = iota + 1
	wallSurface
	stepSurface
)

func flatWorld() *geometry.BoxWorld {
	w := geometry.NewBoxWorld()
	w.Add(floorSurface, cube.Box(-100, -1, -100, 100, 0, 100))
	return w
}

func testConstants() Constants {
	c := DefaultConstants()
	c.Gravity = 32
	return c
}

func walk(dir mgl64.Vec3, actions command.ActionFlags) command.Command {
	return command.Command{WishDir: dir, Actions: actions}
}

func TestRestOnFlatGround(t *testing.T) {
	sim := New(flatWorld(), nil, testConstants(), mgl64.Vec3{0, 0, 0})
	require.Equal(t, ModeGround, sim.State.Mode)

	out := sim.Step(command.Command{}, 1.0/60)
	require.Equal(t, OutcomeNormal, out)
	require.Equal(t, ModeGround, sim.State.Mode)
	require.True(t, sim.State.Pos.ApproxEqualThreshold(mgl64.Vec3{}, 1e-9), "moved to %v", sim.State.Pos)
	require.InDelta(t, 0, sim.State.Vel.Y(), 1e-9)
}

func TestSpawnInAir(t *testing.T) {
	sim := New(flatWorld(), nil, testConstants(), mgl64.Vec3{0, 10, 0})
	require.Equal(t, ModeAir, sim.State.Mode)

	sim.Step(command.Command{}, 0.1)
	require.InDelta(t, -3.2, sim.State.Vel.Y(), 1e-9)
	require.InDelta(t, 10-0.16, sim.State.Pos.Y(), 1e-9)
	require.InDelta(t, 0.1, sim.State.InAir, 1e-12)
}

func TestSubStepInvariance(t *testing.T) {
	cases := map[string]struct {
		pos  mgl64.Vec3
		cmds []command.Command
	}{
		"walking": {
			pos: mgl64.Vec3{},
			cmds: []command.Command{
				walk(mgl64.Vec3{0, 0, 1}, 0),
				walk(mgl64.Vec3{1, 0, 1}, 0),
				walk(mgl64.Vec3{-1, 0, 0}, 0),
				walk(mgl64.Vec3{}, 0),
			},
		},
		"falling": {
			pos: mgl64.Vec3{0, 50, 0},
			cmds: []command.Command{
				walk(mgl64.Vec3{0, 0, 1}, 0),
				walk(mgl64.Vec3{}, 0),
				walk(mgl64.Vec3{1, 0, 0}, 0),
			},
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			whole := New(flatWorld(), nil, testConstants(), tc.pos)
			halves := New(flatWorld(), nil, testConstants(), tc.pos)
			for _, cmd := range tc.cmds {
				whole.Step(cmd, 0.05)
				halves.Step(cmd, 0.025)
				halves.Step(cmd, 0.025)
			}
			require.True(t, whole.State.Pos.ApproxEqualThreshold(halves.State.Pos, 1e-6), "%v != %v", whole.State.Pos, halves.State.Pos)
			require.True(t, whole.State.Vel.ApproxEqualThreshold(halves.State.Vel, 1e-6), "%v != %v", whole.State.Vel, halves.State.Vel)
			require.InDelta(t, whole.State.Angle, halves.State.Angle, 1e-6)
			require.Equal(t, whole.State.Mode, halves.State.Mode)
		})
	}
}

func TestWalkReachesMaxSpeed(t *testing.T) {
	sim := New(flatWorld(), nil, testConstants(), mgl64.Vec3{})
	for range 120 {
		sim.Step(walk(mgl64.Vec3{0, 0, 1}, 0), 1.0/60)
	}
	require.InDelta(t, sim.Constants.MaxSpeed, sim.State.Vel.Z(), 0.01)
	require.InDelta(t, 0, sim.State.Angle, 1e-3, "character should face the movement direction")

	for range 120 {
		sim.Step(command.Command{}, 1.0/60)
	}
	require.Less(t, sim.State.Vel.Len(), 0.01)
}

func TestJumpAndLand(t *testing.T) {
	sim := New(flatWorld(), nil, testConstants(), mgl64.Vec3{})
	sim.Step(walk(mgl64.Vec3{}, command.ActionJump), 1.0/60)
	require.Equal(t, ModeAir, sim.State.Mode)
	require.Greater(t, sim.State.Pos.Y(), 0.0)
	require.Greater(t, sim.State.Vel.Y(), 0.0)
	require.InDelta(t, sim.Constants.JumpCooldown, sim.State.Jump, 1e-9)

	landed := false
	for range 600 {
		sim.Step(command.Command{}, 1.0/60)
		if sim.State.Mode == ModeGround {
			landed = true
			break
		}
	}
	require.True(t, landed)
	require.InDelta(t, 0, sim.State.Pos.Y(), 1e-9)
	require.Zero(t, sim.State.InAir)
	require.Zero(t, sim.State.JumpThrust)
}

func TestHeldJumpGoesHigher(t *testing.T) {
	apex := func(actions command.ActionFlags) float64 {
		sim := New(flatWorld(), nil, testConstants(), mgl64.Vec3{})
		sim.Step(walk(mgl64.Vec3{}, command.ActionJump), 1.0/60)
		top := sim.State.Pos.Y()
		for range 120 {
			sim.Step(walk(mgl64.Vec3{}, actions), 1.0/60)
			top = math.Max(top, sim.State.Pos.Y())
		}
		return top
	}
	require.Greater(t, apex(command.ActionJump), apex(0))
}

func TestWallBlocksAndSlides(t *testing.T) {
	w := flatWorld()
	w.Add(wallSurface, cube.Box(2, 0, -50, 3, 10, 50))
	sim := New(w, nil, testConstants(), mgl64.Vec3{})

	for range 120 {
		sim.Step(walk(mgl64.Vec3{1, 0, 1}, 0), 1.0/60)
	}
	require.LessOrEqual(t, sim.State.Pos.X(), 2-sim.Constants.Radius)
	require.Greater(t, sim.State.Pos.Z(), 5.0, "should slide along the wall")
	require.InDelta(t, 0, sim.State.Vel.X(), 1e-6)
}

func TestStepUpLedge(t *testing.T) {
	w := flatWorld()
	w.Add(stepSurface, cube.Box(-5, 0, 2, 5, 0.5, 60))
	sim := New(w, nil, testConstants(), mgl64.Vec3{})

	stepped := false
	for range 120 {
		sim.Step(walk(mgl64.Vec3{0, 0, 1}, 0), 1.0/60)
		if sim.State.StepUp > 0 {
			stepped = true
		}
	}
	require.True(t, stepped)
	require.Equal(t, ModeGround, sim.State.Mode)
	require.InDelta(t, 0.5, sim.State.Pos.Y(), 1e-9)
	require.Greater(t, sim.State.Pos.Z(), 2.0)
}

func TestTallLedgeBlocks(t *testing.T) {
	w := flatWorld()
	w.Add(stepSurface, cube.Box(-5, 0, 2, 5, 2, 10))
	sim := New(w, nil, testConstants(), mgl64.Vec3{})
	for range 120 {
		sim.Step(walk(mgl64.Vec3{0, 0, 1}, 0), 1.0/60)
	}
	require.InDelta(t, 0, sim.State.Pos.Y(), 1e-9)
	require.Less(t, sim.State.Pos.Z(), 2.0)
}

func TestWalkOffLedge(t *testing.T) {
	w := geometry.NewBoxWorld()
	w.Add(floorSurface, cube.Box(-5, -1, -5, 5, 0, 5))
	sim := New(w, nil, testConstants(), mgl64.Vec3{0, 0, 4})
	for range 40 {
		sim.Step(walk(mgl64.Vec3{0, 0, 1}, 0), 1.0/60)
	}
	require.Equal(t, ModeAir, sim.State.Mode)
	require.Less(t, sim.State.Pos.Y(), 0.0)
}

func TestInvalidDeltaTime(t *testing.T) {
	sim := New(flatWorld(), nil, testConstants(), mgl64.Vec3{})
	before := sim.State
	require.Equal(t, OutcomeSkipped, sim.Step(walk(mgl64.Vec3{0, 0, 1}, 0), 0))
	require.Equal(t, OutcomeSkipped, sim.Step(walk(mgl64.Vec3{0, 0, 1}, 0), -1))
	require.Equal(t, OutcomeSkipped, sim.Step(walk(mgl64.Vec3{0, 0, 1}, 0), math.NaN()))
	require.Equal(t, before, sim.State)

	require.Equal(t, OutcomeClamped, sim.Step(walk(mgl64.Vec3{0, 0, 1}, 0), 5))
}

func TestNonFiniteInputIsHarmless(t *testing.T) {
	sim := New(flatWorld(), nil, testConstants(), mgl64.Vec3{})
	sim.Step(command.Command{WishDir: mgl64.Vec3{math.Inf(1), 0, math.NaN()}, LookAngle: math.NaN()}, 1.0/60)
	require.True(t, sim.finite())
}

func TestSanitizedConstants(t *testing.T) {
	c := Constants{Gravity: math.NaN(), Radius: -1, MaxGroundSlope: 3, StepSize: 10, Height: 2}.Sanitized()
	d := DefaultConstants()
	require.Equal(t, d.Gravity, c.Gravity)
	require.Equal(t, d.Radius, c.Radius)
	require.Equal(t, d.MaxGroundSlope, c.MaxGroundSlope)
	require.Equal(t, 1.0, c.StepSize)
}

func TestSimulateLeavesStateUntouched(t *testing.T) {
	sim := New(flatWorld(), nil, testConstants(), mgl64.Vec3{})
	before := sim.State
	next := sim.Simulate(sim.State, walk(mgl64.Vec3{0, 0, 1}, 0), 0.1)
	require.Equal(t, before, sim.State)
	require.Greater(t, next.Pos.Z(), 0.0)
}

func TestCustomModeCallbacks(t *testing.T) {
	table := NewModeTable()
	var calls []string
	swim, err := table.Register(Mode{
		Name: "swim",
		Active: func(s *Simulation, _ command.Command, dt float64) {
			calls = append(calls, "active")
			s.State.Vel = mgl64.Vec3{0, 1, 0}
			s.State.Pos = s.State.Pos.Add(s.State.Vel.Mul(dt))
		},
		Always: func(*Simulation, command.Command, float64) { calls = append(calls, "always") },
		Enter: func(s *Simulation) {
			calls = append(calls, "enter")
			s.State.ModeData[0] = 7
		},
		Exit: func(*Simulation) { calls = append(calls, "exit") },
	})
	require.NoError(t, err)
	_, err = table.Register(Mode{Name: "swim"})
	require.Error(t, err)

	id, ok := table.Lookup("swim")
	require.True(t, ok)
	require.Equal(t, swim, id)

	sim := New(geometry.Empty{}, table, testConstants(), mgl64.Vec3{})
	sim.State.InAir = 3
	sim.SetMode(swim)
	require.Zero(t, sim.State.InAir, "leaving air resets the air timer")
	require.Equal(t, byte(7), sim.State.ModeData[0])

	sim.Step(command.Command{}, 0.1)
	require.InDelta(t, 0.1, sim.State.Pos.Y(), 1e-9)

	sim.SetMode(ModeAir)
	require.Equal(t, []string{"enter", "always", "active", "exit"}, calls)
	require.Zero(t, sim.State.ModeData[0])
}

func TestSetPositionTeleport(t *testing.T) {
	sim := New(flatWorld(), nil, testConstants(), mgl64.Vec3{0, 20, 0})
	sim.State.Vel = mgl64.Vec3{1, -5, 0}
	sim.SetPosition(mgl64.Vec3{3, 0.05, 3}, true)
	require.Equal(t, ModeGround, sim.State.Mode)
	require.Equal(t, mgl64.Vec3{3, 0, 3}, sim.State.Pos)
	require.Equal(t, mgl64.Vec3{}, sim.State.Vel)
}

func TestPush(t *testing.T) {
	sim := New(flatWorld(), nil, testConstants(), mgl64.Vec3{})
	sim.Push(mgl64.Vec3{1, 3, 0}, 0.5)
	for range 10 {
		sim.Step(command.Command{}, 1.0/60)
	}
	require.Greater(t, sim.State.Pos.X(), 0.0)
	for range 60 {
		sim.Step(command.Command{}, 1.0/60)
	}
	require.Zero(t, sim.State.Pushing)
	require.Equal(t, mgl64.Vec3{}, sim.State.PushDir)
}

func TestAimLockFacesLookAngle(t *testing.T) {
	sim := New(flatWorld(), nil, testConstants(), mgl64.Vec3{})
	for range 120 {
		sim.Step(command.Command{WishDir: mgl64.Vec3{0, 0, 1}, LookAngle: 1, Actions: command.ActionAimLock}, 1.0/60)
	}
	require.InDelta(t, 1, sim.State.Angle, 1e-3)
}

func TestDoGroundCheck(t *testing.T) {
	sim := New(flatWorld(), nil, testConstants(), mgl64.Vec3{})
	contact, ok := sim.DoGroundCheck(mgl64.Vec3{0, 0.05, 0})
	require.True(t, ok)
	require.Equal(t, floorSurface, contact.Surface)
	require.InDelta(t, 0, contact.Position.Y(), 1e-9)

	_, ok = sim.DoGroundCheck(mgl64.Vec3{0, 1, 0})
	require.False(t, ok)
}

func TestProjectVelocityLands(t *testing.T) {
	sim := New(flatWorld(), nil, testConstants(), mgl64.Vec3{0, 1, 0})
	sweep := sim.ProjectVelocity(mgl64.Vec3{0, 1, 0}, mgl64.Vec3{0, -20, 0}, 0.1)
	require.True(t, sweep.Landed)
	require.InDelta(t, 0, sweep.Position.Y(), 1e-9)
	require.InDelta(t, 0, sweep.Velocity.Y(), 1e-9)
}
