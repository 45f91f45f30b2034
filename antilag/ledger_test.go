package antilag

import (
	"context"
	"errors"
	"iter"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/require"
)

type dummy struct {
	id EntityID
	p  Placement
}

func (d *dummy) ID() EntityID             { return d.id }
func (d *dummy) Placement() Placement     { return d.p }
func (d *dummy) SetPlacement(p Placement) { d.p = p }

type roster []*dummy

func (r roster) Targets() iter.Seq[Target] {
	return func(yield func(Target) bool) {
		for _, d := range r {
			if !yield(d) {
				return
			}
		}
	}
}

// brokenRoster yields its targets and then panics.
type brokenRoster []*dummy

func (r brokenRoster) Targets() iter.Seq[Target] {
	return func(yield func(Target) bool) {
		for _, d := range r {
			if !yield(d) {
				return
			}
		}
		panic("roster broke")
	}
}

func TestRewindToRestoresWhenRosterPanics(t *testing.T) {
	l := NewLedger(1)
	a, b := &dummy{id: 1}, &dummy{id: 2}
	require.NoError(t, l.Record(0, roster{a, b}))
	a.p.Position, b.p.Position = mgl64.Vec3{4, 0, 0}, mgl64.Vec3{0, 0, 4}
	require.NoError(t, l.Record(1, roster{a, b}))

	require.Panics(t, func() { l.RewindTo(0, brokenRoster{a, b}) })
	require.False(t, l.Rewound())
	require.Equal(t, mgl64.Vec3{4, 0, 0}, a.p.Position)
	require.Equal(t, mgl64.Vec3{0, 0, 4}, b.p.Position)

	rw := l.RewindTo(0, roster{a, b})
	require.Equal(t, mgl64.Vec3{}, a.p.Position)
	rw.Restore()
}

func TestRecordRejectsNonIncreasingTime(t *testing.T) {
	l := NewLedger(1)
	r := roster{{id: 1}}
	require.NoError(t, l.Record(1, r))
	require.Error(t, l.Record(1, r))
	require.Error(t, l.Record(0.5, r))
	require.Error(t, l.Record(math.NaN(), r))
	require.NoError(t, l.Record(1.5, r))
	require.Equal(t, 2, l.Len())
}

func TestRetentionKeepsWindowBracketable(t *testing.T) {
	const step = 0.0625
	l := NewLedger(1)
	d := &dummy{id: 1}
	for i := 0; i <= 48; i++ {
		d.p.Position = mgl64.Vec3{float64(i), 0, 0}
		require.NoError(t, l.Record(float64(i)*step, roster{d}))
	}

	oldest, ok := l.Oldest()
	require.True(t, ok)
	newest, _ := l.Newest()
	require.Equal(t, 3.0, newest)
	require.Equal(t, 2.0, oldest, "the last frame on the window edge is kept")
	require.Equal(t, 17, l.Len())

	rec, clamped, ok := l.Sample(1, 0.5)
	require.True(t, ok)
	require.True(t, clamped)
	require.Equal(t, float32(32), rec.Position.X(), "times before the window snap to the oldest frame")

	rec, clamped, ok = l.Sample(1, 10)
	require.True(t, ok)
	require.False(t, clamped)
	require.Equal(t, float32(48), rec.Position.X())
}

func TestRetentionFollowsTimeNotTicks(t *testing.T) {
	l := NewLedger(0.5)
	d := &dummy{id: 1}
	// A fast burst followed by slow ticks still keeps half a second of history.
	times := []float64{0, 0.01, 0.02, 0.03, 0.04, 0.05, 0.3, 0.6, 0.9}
	for _, ts := range times {
		require.NoError(t, l.Record(ts, roster{d}))
	}
	oldest, _ := l.Oldest()
	require.Equal(t, 0.3, oldest)
	require.Equal(t, 3, l.Len())
}

func TestRewindInterpolates(t *testing.T) {
	l := NewLedger(1)
	target := &dummy{id: 2}

	// The target moves from A at t=0.8 to B at t=1.0.
	target.p = Placement{Position: mgl64.Vec3{0, 0, 0}, Angle: 0}
	require.NoError(t, l.Record(0.8, roster{target}))
	target.p = Placement{Position: mgl64.Vec3{10, 0, 4}, Angle: 1}
	require.NoError(t, l.Record(1.0, roster{target}))

	r := l.RewindTo(0.85, roster{target})
	require.False(t, r.Clamped)
	require.InDelta(t, 2.5, target.p.Position.X(), 1e-5)
	require.InDelta(t, 1.0, target.p.Position.Z(), 1e-5)
	require.InDelta(t, 0.25, target.p.Angle, 1e-5)
	r.Restore()
	require.Equal(t, mgl64.Vec3{10, 0, 4}, target.p.Position)
}

func TestRewindAngleTakesShortestArc(t *testing.T) {
	l := NewLedger(1)
	target := &dummy{id: 1, p: Placement{Angle: 3}}
	require.NoError(t, l.Record(0, roster{target}))
	target.p.Angle = -3
	require.NoError(t, l.Record(1, roster{target}))

	rec, _, ok := l.Sample(1, 0.5)
	require.True(t, ok)
	require.InDelta(t, math.Pi, math.Abs(float64(rec.Angle)), 1e-4)
}

func TestRewindRestoreRoundTrip(t *testing.T) {
	l := NewLedger(1)
	a := &dummy{id: 1, p: Placement{Position: mgl64.Vec3{0.1, 0.2, 0.3}, Angle: 0.7}}
	b := &dummy{id: 2, p: Placement{Position: mgl64.Vec3{-5.55, 1e-9, 7}, Angle: -1.1}}
	r := roster{a, b}
	for i := range 10 {
		a.p.Position[0] += 0.1
		b.p.Position[2] -= 0.3
		require.NoError(t, l.Record(float64(i)/10, r))
	}
	before := []Placement{a.p, b.p}

	rw := l.RewindTo(0.35, r)
	require.True(t, l.Rewound())
	require.NotEqual(t, before[0], a.p)
	live, ok := rw.Live(1)
	require.True(t, ok)
	require.Equal(t, before[0], live)

	rw.Restore()
	require.False(t, l.Rewound())
	require.Equal(t, before, []Placement{a.p, b.p})

	// A second restore changes nothing.
	a.p.Angle = 2
	rw.Restore()
	require.Equal(t, 2.0, a.p.Angle)
}

func TestRewindWithoutHistory(t *testing.T) {
	l := NewLedger(1)
	old := &dummy{id: 1, p: Placement{Position: mgl64.Vec3{1, 0, 0}}}
	require.NoError(t, l.Record(0, roster{old}))
	old.p.Position = mgl64.Vec3{2, 0, 0}

	joined := &dummy{id: 9, p: Placement{Position: mgl64.Vec3{5, 5, 5}}}
	rw := l.RewindTo(0, roster{old, joined})
	require.Equal(t, mgl64.Vec3{1, 0, 0}, old.p.Position)
	require.Equal(t, mgl64.Vec3{5, 5, 5}, joined.p.Position, "entities without history stay where they are")
	rw.Restore()

	empty := NewLedger(1)
	rw = empty.RewindTo(3, roster{joined})
	require.True(t, rw.Clamped)
	rw.Restore()
}

func TestRewindGuards(t *testing.T) {
	l := NewLedger(1)
	d := &dummy{id: 1}
	require.NoError(t, l.Record(0, roster{d}))

	rw := l.RewindTo(0, roster{d})
	require.Panics(t, func() { l.RewindTo(0, roster{d}) })
	require.Panics(t, func() { _ = l.Record(1, roster{d}) })
	l.Restore()
	require.False(t, l.Rewound())
	rw.Restore()
	require.NoError(t, l.Record(1, roster{d}))
}

func TestWithRewindRestoresOnEveryPath(t *testing.T) {
	l := NewLedger(1)
	d := &dummy{id: 1}
	require.NoError(t, l.Record(0, roster{d}))
	d.p.Position = mgl64.Vec3{3, 0, 0}
	require.NoError(t, l.Record(1, roster{d}))
	live := d.p

	failure := errors.New("query failed")
	err := l.WithRewind(context.Background(), 0.5, roster{d}, func(r *Rewind) error {
		require.InDelta(t, 1.5, d.p.Position.X(), 1e-5)
		return failure
	})
	require.ErrorIs(t, err, failure)
	require.Equal(t, live, d.p)
	require.False(t, l.Rewound())

	require.Panics(t, func() {
		_ = l.WithRewind(context.Background(), 0.5, roster{d}, func(r *Rewind) error {
			panic("boom")
		})
	})
	require.Equal(t, live, d.p)
	require.False(t, l.Rewound())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err = l.WithRewind(ctx, 0.5, roster{d}, func(r *Rewind) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, called)
}
