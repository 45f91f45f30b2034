// Package client predicts the local character ahead of the server and reconciles the prediction with the
// authoritative snapshots as they arrive.
package client

import (
	"context"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/netmove/netmove/command"
	"github.com/netmove/netmove/game"
	"github.com/netmove/netmove/internal"
	"github.com/netmove/netmove/oerror"
	"github.com/netmove/netmove/protocol"
	"github.com/netmove/netmove/simulation"
	"github.com/netmove/netmove/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// State is the phase the predictor is in.
type State uint8

const (
	// StateIdle means no command has been predicted yet.
	StateIdle State = iota
	StatePredicting
	// StateReconciling is held while a snapshot is being applied.
	StateReconciling
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePredicting:
		return "predicting"
	case StateReconciling:
		return "reconciling"
	}
	return "unknown"
}

// Reconciliation is the result of applying a snapshot.
type Reconciliation uint8

const (
	// ReconcileStale means the snapshot acknowledged less than an earlier one and was dropped.
	ReconcileStale Reconciliation = iota
	// ReconcileDuplicate means the snapshot acknowledged the same command as the last one and changed nothing.
	ReconcileDuplicate
	// ReconcileMatched means the prediction agreed with the server and was kept.
	ReconcileMatched
	// ReconcileCorrected means the authoritative state was taken and the unacknowledged commands replayed.
	ReconcileCorrected
	// ReconcileRejected means the snapshot failed its checksum.
	ReconcileRejected
)

func (r Reconciliation) String() string {
	switch r {
	case ReconcileStale:
		return "stale"
	case ReconcileDuplicate:
		return "duplicate"
	case ReconcileMatched:
		return "matched"
	case ReconcileCorrected:
		return "corrected"
	case ReconcileRejected:
		return "rejected"
	}
	return "unknown"
}

// Config tunes prediction and smoothing.
type Config struct {
	// FpsMin bounds the length of one command to 1/FpsMin seconds; longer frames are split.
	FpsMin float64
	// FpsMax merges frames shorter than 1/FpsMax seconds into the next one. Zero disables merging.
	FpsMax float64
	// BufferSize is the number of unacknowledged commands kept for replay.
	BufferSize int
	// SmoothFactor is the fraction of a correction still shown after one second.
	SmoothFactor float64
	// SnapDistance is the correction above which the character snaps instead of smoothing.
	SnapDistance float64
}

// DefaultConfig returns the configuration used by the example client.
func DefaultConfig() Config {
	return Config{
		FpsMin:       20,
		FpsMax:       144,
		BufferSize:   256,
		SmoothFactor: 0.001,
		SnapDistance: 5,
	}
}

// Entry is a predicted command and the state it produced.
type Entry struct {
	Command   command.Command
	State     simulation.State
	LocalTime float64
}

// CommandSink receives the commands of every predicted frame, in sequence order.
type CommandSink func(cmds []command.Command)

// Predictor runs the local character's simulation ahead of the server. It is not safe for concurrent use.
type Predictor struct {
	cfg Config
	log *logrus.Logger

	sim      *simulation.Simulation
	pipeline *command.Pipeline
	buffer   *utils.CircularQueue[Entry]
	sink     CommandSink

	state     State
	pending   float64
	character CharacterData
	metrics   metrics

	lastAck uint64
	hasAck  bool
	// lastChecksum and lastServerTime identify the last applied snapshot.
	lastChecksum   uint64
	lastServerTime float64
}

// NewPredictor returns a predictor driving sim. A nil sink discards commands and a nil logger discards
// output.
func NewPredictor(sim *simulation.Simulation, cfg Config, sink CommandSink, log *logrus.Logger) (*Predictor, error) {
	if sim == nil {
		return nil, oerror.New("client: predictor needs a simulation")
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	m, err := newMetrics()
	if err != nil {
		return nil, err
	}
	if sink == nil {
		sink = func([]command.Command) {}
	}
	return &Predictor{
		cfg:       cfg,
		log:       internal.OrNop(log),
		sim:       sim,
		pipeline:  command.NewPipeline(cfg.FpsMin),
		buffer:    utils.NewCircularQueue[Entry](cfg.BufferSize),
		sink:      sink,
		character: CharacterData{smoothing: cfg.SmoothFactor},
		metrics:   m,
	}, nil
}

// Tick captures the input of a frame of length dt ending at client time now, predicts the resulting
// commands and hands them to the sink. Frames shorter than 1/FpsMax are held back and merged into the next
// one, in which case nil is returned.
func (p *Predictor) Tick(in command.Input, dt, now float64) []command.Command {
	p.character.Update(dt)
	if !game.Finite(dt) || dt <= 0 {
		return nil
	}
	p.pending += dt
	if p.cfg.FpsMax > 0 && p.pending < 1/p.cfg.FpsMax {
		return nil
	}
	dt, p.pending = p.pending, 0

	cmds := p.pipeline.Capture(in, dt, now)
	for _, cmd := range cmds {
		p.sim.Step(cmd, cmd.DeltaTime)
		evicted, err := p.buffer.Append(Entry{Command: cmd, State: p.sim.State, LocalTime: now})
		if err != nil {
			p.log.Errorf("unable to buffer command %d: %v", cmd.Sequence, err)
			continue
		}
		if evicted {
			p.metrics.overflow.Add(context.Background(), 1)
		}
	}
	if len(cmds) > 0 {
		p.state = StatePredicting
		p.sink(cmds)
	}
	return cmds
}

// ApplySnapshot reconciles the prediction with snap. Entries the snapshot acknowledges are dropped; if the
// state predicted for the acknowledged command differs from the server's, the server's state is taken and
// the remaining entries are replayed on top of it. A snapshot repeating the last ack is still applied when
// it carries a different state or a new teleport. Applying the same snapshot again changes nothing.
func (p *Predictor) ApplySnapshot(snap protocol.Snapshot) (Reconciliation, error) {
	result, err := p.reconcile(snap)
	p.metrics.snapshots.Add(context.Background(), 1, metric.WithAttributes(attribute.String("result", result.String())))
	return result, err
}

func (p *Predictor) reconcile(snap protocol.Snapshot) (Reconciliation, error) {
	if !snap.Verify() {
		return ReconcileRejected, oerror.New("snapshot for %d failed its checksum", snap.Ack)
	}
	if p.hasAck {
		if snap.Ack < p.lastAck {
			p.log.Debugf("dropped stale snapshot for %d (last %d)", snap.Ack, p.lastAck)
			return ReconcileStale, nil
		}
		// The server repeats an ack while no new command arrives, but the state may still have changed
		// through a teleport or a push.
		if snap.Ack == p.lastAck && snap.Checksum == p.lastChecksum && (!snap.Teleport || snap.ServerTime == p.lastServerTime) {
			return ReconcileDuplicate, nil
		}
	}
	p.state = StateReconciling
	defer func() { p.state = StatePredicting }()
	p.lastAck, p.hasAck = snap.Ack, true
	p.lastChecksum, p.lastServerTime = snap.Checksum, snap.ServerTime

	var (
		acked   Entry
		matched bool
	)
	for {
		e, ok := p.buffer.Front()
		if !ok || e.Command.Sequence > snap.Ack {
			break
		}
		p.buffer.Pop()
		if e.Command.Sequence == snap.Ack {
			acked, matched = e, true
		}
	}
	// Commands between the acknowledged one and the oldest buffered are gone, so nothing left can be
	// replayed faithfully.
	if front, ok := p.buffer.Front(); ok && front.Command.Sequence > snap.Ack+1 {
		p.log.Debugf("prediction buffer lost commands %d to %d", snap.Ack+1, front.Command.Sequence-1)
		p.buffer.Clear()
	}

	if matched && !snap.Teleport && protocol.Checksum(acked.State) == snap.Checksum {
		return ReconcileMatched, nil
	}

	before := p.sim.State.Pos
	p.sim.State = snap.State
	replayed := 0
	for i, e := range p.buffer.Iter() {
		p.sim.Step(e.Command, e.Command.DeltaTime)
		e.State = p.sim.State
		_ = p.buffer.Set(i, e)
		replayed++
	}

	correction := before.Sub(p.sim.State.Pos)
	hard := snap.Teleport || correction.Len() > p.cfg.SnapDistance
	p.character.Correct(correction, hard)
	p.metrics.corrections.Add(context.Background(), 1)
	p.metrics.replayed.Record(context.Background(), int64(replayed))
	p.log.Debugf("corrected prediction at %d by %.3f, replayed %d commands", snap.Ack, correction.Len(), replayed)
	return ReconcileCorrected, nil
}

// State returns the phase the predictor is in.
func (p *Predictor) State() State {
	return p.state
}

// Simulation returns the simulation being predicted.
func (p *Predictor) Simulation() *simulation.Simulation {
	return p.sim
}

// LastAck returns the sequence acknowledged by the newest applied snapshot.
func (p *Predictor) LastAck() (uint64, bool) {
	return p.lastAck, p.hasAck
}

// Entries returns a copy of the unacknowledged entries, oldest first.
func (p *Predictor) Entries() []Entry {
	out := make([]Entry, 0, p.buffer.Len())
	for _, e := range p.buffer.Iter() {
		out = append(out, e)
	}
	return out
}

// NextSequence returns the sequence number the next command will carry.
func (p *Predictor) NextSequence() uint64 {
	return p.pipeline.Next()
}

// Character returns the smoothing applied to the rendered character.
func (p *Predictor) Character() *CharacterData {
	return &p.character
}

// VisualPosition returns where the character should be drawn: the predicted position, shifted by the
// correction still being smoothed away and lowered by the step-up being eased in.
func (p *Predictor) VisualPosition() mgl64.Vec3 {
	return p.sim.State.Pos.Add(p.character.Offset()).Sub(mgl64.Vec3{0, p.sim.State.StepUp, 0})
}
