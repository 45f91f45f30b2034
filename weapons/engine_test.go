package weapons

import (
	"context"
	"iter"
	"testing"

	dfcube "github.com/df-mc/dragonfly/server/block/cube"
	"github.com/ethaniccc/float32-cube/cube"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/netmove/netmove/antilag"
	"github.com/netmove/netmove/geometry"
	"github.com/stretchr/testify/require"
)

type dummy struct {
	id antilag.EntityID
	p  antilag.Placement
}

func (d *dummy) ID() antilag.EntityID             { return d.id }
func (d *dummy) Placement() antilag.Placement     { return d.p }
func (d *dummy) SetPlacement(p antilag.Placement) { d.p = p }

type roster []*dummy

func (r roster) Targets() iter.Seq[antilag.Target] {
	return func(yield func(antilag.Target) bool) {
		for _, d := range r {
			if !yield(d) {
				return
			}
		}
	}
}

// cancelOnProbe cancels a context the first time it is probed.
type cancelOnProbe struct {
	cancel context.CancelFunc
	probes int
}

func (c *cancelOnProbe) Probe(mgl64.Vec3, mgl64.Vec3, float64, geometry.Filter) (geometry.Hit, bool) {
	c.probes++
	c.cancel()
	return geometry.Hit{}, false
}

var eye = mgl64.Vec3{0, 1.5, 0}

// setup places a shooter at the origin and a target that moved from (10, 0, 0) at t=0.8 to (10, 0, 5) at
// t=1.0.
func setup(t *testing.T, world geometry.Query) (*Engine, *antilag.Ledger, *dummy, *dummy) {
	shooter := &dummy{id: 1}
	target := &dummy{id: 2, p: antilag.Placement{Position: mgl64.Vec3{10, 0, 0}}}
	r := roster{shooter, target}

	ledger := antilag.NewLedger(1)
	require.NoError(t, ledger.Record(0.8, r))
	target.p.Position = mgl64.Vec3{10, 0, 5}
	require.NoError(t, ledger.Record(1.0, r))

	return NewEngine(DefaultConfig(), ledger, world, r), ledger, shooter, target
}

func TestQueryUsesInterpolatedHistory(t *testing.T) {
	e, ledger, shooter, target := setup(t, nil)
	live := target.p

	res, err := e.QuerySingle(context.Background(), shooter.id, eye, mgl64.Vec3{1, 0, 0}, 0.8, geometry.Filter{})
	require.NoError(t, err)
	require.True(t, res.HasEntity)
	require.Equal(t, target.id, res.Entity)
	require.InDelta(t, 9.4, res.Position.X(), 1e-4)
	require.Equal(t, mgl64.Vec3{-1, 0, 0}, res.Normal)
	require.False(t, res.Clamped)

	// Halfway between the frames the target stands at z=2.5, not at its live position.
	res, err = e.QuerySingle(context.Background(), shooter.id, eye, mgl64.Vec3{10, 0, 2.5}, 0.9, geometry.Filter{})
	require.NoError(t, err)
	require.True(t, res.HasEntity)

	res, err = e.QuerySingle(context.Background(), shooter.id, eye, mgl64.Vec3{10, 0, 5}, 0.9, geometry.Filter{})
	require.NoError(t, err)
	require.False(t, res.HasEntity)

	require.Equal(t, live, target.p)
	require.False(t, ledger.Rewound())
}

func TestEntityWinsTies(t *testing.T) {
	wall := geometry.NewBoxWorld(geometry.Box{BBox: dfcube.Box(9.4, 0, -5, 10, 5, 5), Surface: 7})
	e, _, shooter, target := setup(t, wall)

	res, err := e.QuerySingle(context.Background(), shooter.id, eye, mgl64.Vec3{1, 0, 0}, 0.8, geometry.Filter{})
	require.NoError(t, err)
	require.True(t, res.HasEntity, "an entity level with a surface takes the hit")
	require.Equal(t, target.id, res.Entity)
	require.False(t, res.HasSurface)

	closer := geometry.NewBoxWorld(geometry.Box{BBox: dfcube.Box(9, 0, -5, 9.2, 5, 5), Surface: 7})
	e, _, shooter, _ = setup(t, closer)
	res, err = e.QuerySingle(context.Background(), shooter.id, eye, mgl64.Vec3{1, 0, 0}, 0.8, geometry.Filter{})
	require.NoError(t, err)
	require.False(t, res.HasEntity)
	require.True(t, res.HasSurface)
	require.Equal(t, geometry.SurfaceID(7), res.Surface)
	require.InDelta(t, 9, res.Distance, 1e-9)

	// Filtering the wall out lets the shot through.
	res, err = e.QuerySingle(context.Background(), shooter.id, eye, mgl64.Vec3{1, 0, 0}, 0.8, geometry.Filter{}.With(7))
	require.NoError(t, err)
	require.True(t, res.HasEntity)
}

func TestShooterIsNeverHit(t *testing.T) {
	e, _, shooter, target := setup(t, nil)
	// The ray starts inside the shooter's own box.
	res, err := e.QuerySingle(context.Background(), shooter.id, eye, mgl64.Vec3{1, 0, 0}, 0.8, geometry.Filter{})
	require.NoError(t, err)
	require.Equal(t, target.id, res.Entity)

	// Seen from the target, the shooter is hit at once since the ray starts inside its box.
	res, err = e.QuerySingle(context.Background(), target.id, eye, mgl64.Vec3{1, 0, 0}, 0.8, geometry.Filter{})
	require.NoError(t, err)
	require.Equal(t, shooter.id, res.Entity)
	require.Zero(t, res.Distance)
}

func TestMissEndsAtMaxRange(t *testing.T) {
	e, _, shooter, _ := setup(t, nil)
	res, err := e.QuerySingle(context.Background(), shooter.id, eye, mgl64.Vec3{0, 0, -2}, 1, geometry.Filter{})
	require.NoError(t, err)
	require.False(t, res.Hit())
	require.Equal(t, e.Config().MaxRange, res.Distance)
	require.InDelta(t, -e.Config().MaxRange, res.Position.Z(), 1e-9)
	require.Equal(t, mgl64.Vec3{0, 0, -1}, res.Direction)
	require.Equal(t, eye, res.Origin)
}

func TestQueryMultiSharesOneRewind(t *testing.T) {
	e, _, shooter, target := setup(t, nil)
	origins := []mgl64.Vec3{eye, eye, eye}
	dirs := []mgl64.Vec3{{1, 0, 0}, {1, 0, 0.02}, {0, 0, 1}}

	results, err := e.QueryMulti(context.Background(), shooter.id, origins, dirs, 0.8, geometry.Filter{})
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.True(t, results[0].HasEntity)
	require.True(t, results[1].HasEntity)
	require.False(t, results[2].Hit())
	require.Equal(t, mgl64.Vec3{10, 0, 5}, target.p.Position)

	_, err = e.QueryMulti(context.Background(), shooter.id, origins, dirs[:1], 0.8, geometry.Filter{})
	require.Error(t, err)
}

func TestQueryClampsOldTimes(t *testing.T) {
	e, _, shooter, _ := setup(t, nil)
	res, err := e.QuerySingle(context.Background(), shooter.id, eye, mgl64.Vec3{1, 0, 0}, 0.1, geometry.Filter{})
	require.NoError(t, err)
	require.True(t, res.Clamped)
	require.True(t, res.HasEntity, "old times use the oldest frame")
}

func TestCancellationRestores(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	world := &cancelOnProbe{cancel: cancel}
	e, ledger, shooter, target := setup(t, world)
	live := target.p

	origins := []mgl64.Vec3{eye, eye, eye}
	dirs := []mgl64.Vec3{{1, 0, 0}, {1, 0, 0}, {1, 0, 0}}
	results, err := e.QueryMulti(ctx, shooter.id, origins, dirs, 0.8, geometry.Filter{})
	require.ErrorIs(t, err, context.Canceled)
	require.Nil(t, results)
	require.Equal(t, 1, world.probes, "the query stops after the ray that saw the cancellation")
	require.Equal(t, live, target.p)
	require.False(t, ledger.Rewound())

	_, err = e.QuerySingle(ctx, shooter.id, eye, mgl64.Vec3{1, 0, 0}, 0.8, geometry.Filter{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestFaceNormals(t *testing.T) {
	for face, normal := range map[cube.Face]mgl64.Vec3{
		cube.FaceDown:  {0, -1, 0},
		cube.FaceUp:    {0, 1, 0},
		cube.FaceNorth: {0, 0, -1},
		cube.FaceSouth: {0, 0, 1},
		cube.FaceWest:  {-1, 0, 0},
		cube.FaceEast:  {1, 0, 0},
	} {
		require.Equal(t, normal, faceNormal(face), "face %v", face)
	}
}
