// Package antilag keeps a short history of where every entity was on each server tick, and temporarily
// moves the live entities back to any time inside that history so hit-scan queries see the world as the
// shooter saw it.
package antilag

import (
	"context"
	"iter"
	"math"
	"sort"

	"github.com/elliotchance/orderedmap/v2"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/netmove/netmove/assert"
	"github.com/netmove/netmove/game"
	"github.com/netmove/netmove/oerror"
	"github.com/netmove/netmove/utils"
)

// DefaultRetention is the length of history, in seconds, kept when no retention is configured.
const DefaultRetention = 1.0

// EntityID identifies an entity for the lifetime of its connection.
type EntityID uint32

// Placement is where an entity's collision representation is and which way it faces.
type Placement struct {
	Position mgl64.Vec3
	Angle    float64
}

// Target is a live entity whose collision representation may be rewound.
type Target interface {
	ID() EntityID
	Placement() Placement
	SetPlacement(p Placement)
}

// Roster lists the live targets in a deterministic order.
type Roster interface {
	Targets() iter.Seq[Target]
}

// Record is the stored placement of one entity in a frame.
type Record struct {
	Position mgl32.Vec3
	Angle    float32
}

// Placement converts the record back to a live placement.
func (r Record) Placement() Placement {
	return Placement{Position: game.Vec32To64(r.Position), Angle: float64(r.Angle)}
}

// Frame holds every entity's record for one server tick.
type Frame struct {
	ServerTime float64
	Records    *orderedmap.OrderedMap[EntityID, Record]
}

// Ledger is a time-bounded history of frames. Frames are appended once per server tick and evicted once
// they fall out of the retention window, however many ticks that spans. It is not safe for concurrent use.
type Ledger struct {
	retention float64
	frames    *utils.CircularQueue[Frame]
	active    *Rewind
}

// NewLedger returns an empty ledger keeping retention seconds of history.
func NewLedger(retention float64) *Ledger {
	if !game.Finite(retention) || retention <= 0 {
		retention = DefaultRetention
	}
	return &Ledger{
		retention: retention,
		frames:    utils.NewGrowableQueue[Frame](64),
	}
}

// Retention returns the length of the history window in seconds.
func (l *Ledger) Retention() float64 {
	return l.retention
}

// Record appends a frame for serverTime holding the current placement of every target. serverTime must be
// strictly greater than the time of the previous frame. Recording while rewound is an invariant violation.
func (l *Ledger) Record(serverTime float64, roster Roster) error {
	assert.IsTrue(l.active == nil, "ledger recorded while rewound to %v", l.activeTime())
	if !game.Finite(serverTime) {
		return oerror.New("ledger: non-finite server time %v", serverTime)
	}
	if newest, ok := l.frames.Back(); ok && serverTime <= newest.ServerTime {
		return oerror.New("ledger: server time %v does not follow %v", serverTime, newest.ServerTime)
	}

	records := orderedmap.NewOrderedMap[EntityID, Record]()
	for t := range roster.Targets() {
		p := t.Placement()
		records.Set(t.ID(), Record{Position: game.Vec64To32(p.Position), Angle: float32(p.Angle)})
	}
	if _, err := l.frames.Append(Frame{ServerTime: serverTime, Records: records}); err != nil {
		return err
	}

	// Keep the last frame at or before the window edge so times on the edge can still be bracketed.
	edge := serverTime - l.retention
	for l.frames.Len() > 1 {
		next, _ := l.frames.Get(1)
		if next.ServerTime > edge {
			break
		}
		l.frames.Pop()
	}
	return nil
}

// Len returns the number of frames held.
func (l *Ledger) Len() int {
	return l.frames.Len()
}

// Oldest returns the time of the oldest frame held.
func (l *Ledger) Oldest() (float64, bool) {
	f, ok := l.frames.Front()
	return f.ServerTime, ok
}

// Newest returns the time of the newest frame held.
func (l *Ledger) Newest() (float64, bool) {
	f, ok := l.frames.Back()
	return f.ServerTime, ok
}

// Sample returns the interpolated record of entity id at serverTime. Times outside the history snap to the
// nearest frame, and clamped reports that serverTime was older than the oldest frame. ok is false if the
// entity has no record in the frames used.
func (l *Ledger) Sample(id EntityID, serverTime float64) (rec Record, clamped, ok bool) {
	before, after, fraction, clamped, found := l.bracket(serverTime)
	if !found {
		return Record{}, clamped, false
	}
	rec, ok = sample(before, after, fraction, id)
	return rec, clamped, ok
}

// bracket finds the frames around serverTime and how far serverTime lies between them.
func (l *Ledger) bracket(serverTime float64) (before, after Frame, fraction float64, clamped, ok bool) {
	n := l.frames.Len()
	if n == 0 {
		return before, after, 0, true, false
	}
	oldest, _ := l.frames.Front()
	if serverTime <= oldest.ServerTime {
		return oldest, oldest, 0, serverTime < oldest.ServerTime, true
	}
	newest, _ := l.frames.Back()
	if serverTime >= newest.ServerTime || math.IsNaN(serverTime) {
		return newest, newest, 0, false, true
	}

	// Index of the first frame later than serverTime; 1 <= i < n from the checks above.
	i := sort.Search(n, func(i int) bool {
		f, _ := l.frames.Get(i)
		return f.ServerTime > serverTime
	})
	before, _ = l.frames.Get(i - 1)
	after, _ = l.frames.Get(i)
	fraction = (serverTime - before.ServerTime) / (after.ServerTime - before.ServerTime)
	return before, after, fraction, false, true
}

// sample interpolates the record of id between two frames. An entity present in only one of them takes
// that frame's record.
func sample(before, after Frame, fraction float64, id EntityID) (Record, bool) {
	a, okA := before.Records.Get(id)
	b, okB := after.Records.Get(id)
	switch {
	case okA && okB:
		f := float32(fraction)
		return Record{
			Position: a.Position.Add(b.Position.Sub(a.Position).Mul(f)),
			Angle:    game.LerpAngle32(a.Angle, b.Angle, f),
		}, true
	case okA:
		return a, true
	case okB:
		return b, true
	}
	return Record{}, false
}

// RewindTo moves every target that has history to its placement at serverTime and returns the rewind that
// undoes it. Targets without history keep their live placement. Rewinding while a rewind is active is an
// invariant violation; the returned rewind must be restored before the next tick.
func (l *Ledger) RewindTo(serverTime float64, roster Roster) *Rewind {
	assert.IsTrue(l.active == nil, "ledger rewound to %v while already rewound to %v", serverTime, l.activeTime())

	before, after, fraction, clamped, found := l.bracket(serverTime)
	r := &Rewind{
		ledger:  l,
		Time:    serverTime,
		Clamped: clamped,
		saved:   orderedmap.NewOrderedMap[EntityID, saved](),
	}
	l.active = r

	done := false
	defer func() {
		// Undo a partial substitution if the roster panicked.
		if !done {
			r.Restore()
		}
	}()
	for t := range roster.Targets() {
		id := t.ID()
		r.saved.Set(id, saved{target: t, placement: t.Placement()})
		if !found {
			continue
		}
		if rec, ok := sample(before, after, fraction, id); ok {
			t.SetPlacement(rec.Placement())
		}
	}
	done = true
	return r
}

// Rewound reports whether a rewind is active.
func (l *Ledger) Rewound() bool {
	return l.active != nil
}

// Restore undoes the active rewind, if any.
func (l *Ledger) Restore() {
	if l.active != nil {
		l.active.Restore()
	}
}

// WithRewind rewinds to serverTime, calls fn and restores the live placements however fn returns, panics
// included. fn is not called if ctx is already done.
func (l *Ledger) WithRewind(ctx context.Context, serverTime float64, roster Roster, fn func(r *Rewind) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r := l.RewindTo(serverTime, roster)
	defer r.Restore()
	return fn(r)
}

func (l *Ledger) activeTime() float64 {
	if l.active == nil {
		return 0
	}
	return l.active.Time
}

type saved struct {
	target    Target
	placement Placement
}

// Rewind is an active substitution of historical placements.
type Rewind struct {
	ledger *Ledger
	// Time is the server time rewound to.
	Time float64
	// Clamped is set when Time was older than the retained history, or there was no history at all, so
	// placements are less accurate than requested.
	Clamped bool

	saved    *orderedmap.OrderedMap[EntityID, saved]
	restored bool
}

// Live returns the placement entity id had before the rewind.
func (r *Rewind) Live(id EntityID) (Placement, bool) {
	s, ok := r.saved.Get(id)
	return s.placement, ok
}

// Restore puts back exactly the placements saved by RewindTo. Calling it again does nothing.
func (r *Rewind) Restore() {
	if r.restored {
		return
	}
	r.restored = true
	for el := r.saved.Front(); el != nil; el = el.Next() {
		el.Value.target.SetPlacement(el.Value.placement)
	}
	if r.ledger.active == r {
		r.ledger.active = nil
	}
}
