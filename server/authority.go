// Package server runs the authoritative simulation of every connected entity, records their history for lag
// compensation and resolves weapon fire between ticks.
package server

import (
	"context"
	"iter"
	"strings"
	"time"

	"github.com/elliotchance/orderedmap/v2"
	"github.com/getsentry/sentry-go"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/netmove/netmove/antilag"
	"github.com/netmove/netmove/assert"
	"github.com/netmove/netmove/command"
	"github.com/netmove/netmove/game"
	"github.com/netmove/netmove/geometry"
	"github.com/netmove/netmove/internal"
	"github.com/netmove/netmove/oerror"
	"github.com/netmove/netmove/protocol"
	"github.com/netmove/netmove/simulation"
	"github.com/netmove/netmove/weapons"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// FpsMode selects how Run paces ticks.
type FpsMode uint8

const (
	// FpsFixed runs ticks of exactly 1/TickRate seconds, catching up when the loop falls behind.
	FpsFixed FpsMode = iota
	// FpsHybrid ticks at most TickRate times a second with the measured time since the last tick.
	FpsHybrid
	// FpsUncapped ticks as often as the loop allows with the measured time since the last tick.
	FpsUncapped
)

func (m FpsMode) String() string {
	switch m {
	case FpsFixed:
		return "fixed"
	case FpsHybrid:
		return "hybrid"
	case FpsUncapped:
		return "uncapped"
	}
	return "unknown"
}

// ParseFpsMode parses the name of a mode as returned by String.
func ParseFpsMode(s string) (FpsMode, error) {
	switch strings.ToLower(s) {
	case "fixed", "":
		return FpsFixed, nil
	case "hybrid":
		return FpsHybrid, nil
	case "uncapped":
		return FpsUncapped, nil
	}
	return FpsFixed, oerror.New("unknown fps mode %q", s)
}

// maxCatchUp bounds the fixed-step ticks run for a single wake-up of the loop.
const maxCatchUp = 5

// maxSlots is the number of distinct player slots; a slot fits in a byte.
const maxSlots = 256

// Config tunes the authority.
type Config struct {
	TickRate float64
	FpsMode  FpsMode
	// MaxPlayers bounds the connected entities, dummies included. Zero or anything above 256 means 256.
	MaxPlayers int
	// MaxCommandsPerTick bounds the commands applied to one entity in a single tick.
	MaxCommandsPerTick int
	// MaxStallTicks is how many ticks an entity waits for a missing command before it is padded.
	MaxStallTicks int
	// CommandWindow is how far ahead of the last applied command a command may arrive.
	CommandWindow int
	// RespawnDelay is how long an entity that is allowed to spawn stays despawned.
	RespawnDelay float64
	// SpawnPoint is where entities are respawned until Spawn places them somewhere else.
	SpawnPoint mgl64.Vec3
	// Retention is the length of lag compensation history in seconds.
	Retention float64
	Weapons   weapons.Config
	Constants simulation.Constants
}

// DefaultConfig returns the configuration used by the example server.
func DefaultConfig() Config {
	return Config{
		TickRate:           20,
		FpsMode:            FpsFixed,
		MaxPlayers:         64,
		MaxCommandsPerTick: 8,
		MaxStallTicks:      3,
		CommandWindow:      128,
		RespawnDelay:       3,
		Retention:          antilag.DefaultRetention,
		Weapons:            weapons.DefaultConfig(),
		Constants:          simulation.DefaultConstants(),
	}
}

// SnapshotSink receives the snapshot of every spawned entity after each tick.
type SnapshotSink func(id antilag.EntityID, snap protocol.Snapshot)

// Authority owns the authoritative state of every entity. Apart from Run and Do, its methods must only be
// called from the goroutine running the loop, or before Run is started.
type Authority struct {
	cfg Config
	log *logrus.Logger

	world geometry.Query
	modes *simulation.ModeTable

	players *orderedmap.OrderedMap[antilag.EntityID, *PlayerRecord]
	slots   [maxSlots]bool
	nextID  antilag.EntityID
	ledger  *antilag.Ledger
	engine  *weapons.Engine
	sink    SnapshotSink

	serverTime float64
	ticking    bool
	inbox      chan func()
	metrics    metrics
}

// New returns an authority simulating entities in world with the modes of table. A nil table uses the
// built-in modes, a nil sink drops snapshots and a nil logger discards output.
func New(cfg Config, world geometry.Query, modes *simulation.ModeTable, sink SnapshotSink, log *logrus.Logger) (*Authority, error) {
	if !game.Finite(cfg.TickRate) || cfg.TickRate <= 0 {
		return nil, oerror.New("server: invalid tick rate %v", cfg.TickRate)
	}
	if cfg.MaxCommandsPerTick <= 0 {
		cfg.MaxCommandsPerTick = 1
	}
	if cfg.MaxStallTicks < 0 {
		cfg.MaxStallTicks = 0
	}
	if cfg.MaxPlayers <= 0 || cfg.MaxPlayers > maxSlots {
		cfg.MaxPlayers = maxSlots
	}
	if !game.Finite(cfg.RespawnDelay) || cfg.RespawnDelay < 0 {
		cfg.RespawnDelay = 0
	}
	if world == nil {
		world = geometry.Empty{}
	}
	if modes == nil {
		modes = simulation.NewModeTable()
	}
	if sink == nil {
		sink = func(antilag.EntityID, protocol.Snapshot) {}
	}
	m, err := newMetrics()
	if err != nil {
		return nil, err
	}

	a := &Authority{
		cfg:     cfg,
		log:     internal.OrNop(log),
		world:   world,
		modes:   modes,
		players: orderedmap.NewOrderedMap[antilag.EntityID, *PlayerRecord](),
		nextID:  1,
		ledger:  antilag.NewLedger(cfg.Retention),
		sink:    sink,
		inbox:   make(chan func()),
		metrics: m,
	}
	a.engine = weapons.NewEngine(cfg.Weapons, a.ledger, world, a)
	return a, nil
}

// Targets yields every spawned entity in connection order.
func (a *Authority) Targets() iter.Seq[antilag.Target] {
	return func(yield func(antilag.Target) bool) {
		for el := a.players.Front(); el != nil; el = el.Next() {
			if !el.Value.Spawned() {
				continue
			}
			if !yield(el.Value) {
				return
			}
		}
	}
}

// Connect registers a new entity in the lowest free slot and returns its record. The entity is not in the
// world until Spawn, or until it is allowed to spawn and Tick respawns it.
func (a *Authority) Connect() (*PlayerRecord, error) {
	return a.connect(false)
}

// ConnectDummy registers a bot. It is allowed to spawn, so the next tick puts it at the spawn point.
func (a *Authority) ConnectDummy() (*PlayerRecord, error) {
	return a.connect(true)
}

func (a *Authority) connect(dummy bool) (*PlayerRecord, error) {
	slot := -1
	for i := 0; i < a.cfg.MaxPlayers; i++ {
		if !a.slots[i] {
			slot = i
			break
		}
	}
	if slot < 0 {
		return nil, oerror.New("server is full (%d players)", a.cfg.MaxPlayers)
	}
	a.slots[slot] = true

	p := &PlayerRecord{
		id:             a.nextID,
		slot:           uint8(slot),
		dummy:          dummy,
		allowedToSpawn: dummy,
		respawnDelay:   a.cfg.RespawnDelay,
		respawnTime:    a.serverTime,
		spawnPoint:     a.cfg.SpawnPoint,
		queue:          command.NewQueue(a.cfg.CommandWindow),
	}
	a.nextID++
	a.players.Set(p.id, p)
	a.log.Infof("entity %d connected in slot %d", p.id, p.slot)
	return p, nil
}

// Disconnect despawns the entity and forgets it.
func (a *Authority) Disconnect(id antilag.EntityID) {
	p, ok := a.players.Get(id)
	if !ok {
		return
	}
	p.despawn(a.serverTime)
	a.slots[p.slot] = false
	a.players.Delete(id)
	a.log.Infof("entity %d disconnected", id)
}

// Player returns the record of an entity.
func (a *Authority) Player(id antilag.EntityID) (*PlayerRecord, bool) {
	return a.players.Get(id)
}

// Len returns the number of connected entities.
func (a *Authority) Len() int {
	return a.players.Len()
}

// Spawn puts the entity into the world at pos, or teleports it there if it is already spawned. The next
// snapshot tells the client to snap to the new state.
func (a *Authority) Spawn(id antilag.EntityID, pos mgl64.Vec3) error {
	p, ok := a.players.Get(id)
	if !ok {
		return oerror.New("spawn of unknown entity %d", id)
	}
	if !game.FiniteVec3(pos) {
		return oerror.New("spawn of entity %d at invalid position %v", id, pos)
	}
	if p.sim != nil {
		p.sim.SetPosition(pos, true)
	} else {
		p.sim = simulation.New(a.world, a.modes, a.cfg.Constants, pos)
	}
	p.teleport = true
	p.spawnPoint = pos
	p.syncPlacement()
	return nil
}

// Despawn takes the entity out of the world. Hit-scan queries fired by it are cancelled.
func (a *Authority) Despawn(id antilag.EntityID) error {
	p, ok := a.players.Get(id)
	if !ok {
		return oerror.New("despawn of unknown entity %d", id)
	}
	p.despawn(a.serverTime)
	return nil
}

// SetAllowedToSpawn controls whether Tick respawns the entity by itself once its respawn time has passed.
func (a *Authority) SetAllowedToSpawn(id antilag.EntityID, allowed bool) error {
	p, ok := a.players.Get(id)
	if !ok {
		return oerror.New("unknown entity %d", id)
	}
	p.allowedToSpawn = allowed
	return nil
}

// SetRespawnDelay changes how long the entity stays despawned. It applies from the next despawn.
func (a *Authority) SetRespawnDelay(id antilag.EntityID, delay float64) error {
	p, ok := a.players.Get(id)
	if !ok {
		return oerror.New("unknown entity %d", id)
	}
	if !game.Finite(delay) || delay < 0 {
		return oerror.New("invalid respawn delay %v", delay)
	}
	p.respawnDelay = delay
	return nil
}

// Push shoves a spawned entity along dir for duration seconds.
func (a *Authority) Push(id antilag.EntityID, dir mgl64.Vec3, duration float64) error {
	p, ok := a.players.Get(id)
	if !ok || !p.Spawned() {
		return oerror.New("push of entity %d that is not spawned", id)
	}
	p.sim.Push(dir, duration)
	return nil
}

// Submit queues a command for an entity. Commands that arrive stale, duplicated or too far ahead are
// dropped and counted; they are never applied out of order.
func (a *Authority) Submit(id antilag.EntityID, cmd command.Command) (command.Verdict, error) {
	p, ok := a.players.Get(id)
	if !ok {
		return command.Stale, oerror.New("command for unknown entity %d", id)
	}
	v := p.queue.Push(cmd)
	if v != command.Accepted {
		a.metrics.rejected.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", v.String())))
		a.log.Debugf("entity %d: %s command %d (expecting %d)", id, v, cmd.Sequence, p.queue.Expected())
	}
	return v, nil
}

// ServerTime returns the time of the last tick.
func (a *Authority) ServerTime() float64 {
	return a.serverTime
}

// Ledger returns the lag compensation history.
func (a *Authority) Ledger() *antilag.Ledger {
	return a.ledger
}

// Config returns the authority's configuration.
func (a *Authority) Config() Config {
	return a.cfg
}

// Tick advances the server by dt seconds: every spawned entity consumes its queued commands in connection
// order, a ledger frame is recorded and one snapshot per entity is handed to the sink.
func (a *Authority) Tick(dt float64) error {
	assert.IsTrue(!a.ledger.Rewound(), "tick started while the ledger is rewound")
	assert.IsTrue(!a.ticking, "tick started inside a tick")
	if !game.Finite(dt) || dt <= 0 {
		return oerror.New("server: invalid tick length %v", dt)
	}
	start := time.Now()
	a.ticking = true
	defer func() { a.ticking = false }()

	a.serverTime += dt
	for el := a.players.Front(); el != nil; el = el.Next() {
		p := el.Value
		if !p.Spawned() && p.allowedToSpawn && a.serverTime >= p.respawnTime {
			_ = a.Spawn(p.id, p.spawnPoint)
			a.log.Debugf("entity %d respawned", p.id)
		}
	}
	for el := a.players.Front(); el != nil; el = el.Next() {
		if el.Value.Spawned() {
			a.tickPlayer(el.Value, dt)
		}
	}
	if err := a.ledger.Record(a.serverTime, a); err != nil {
		a.log.Errorf("unable to record ledger frame: %v", err)
	}
	for el := a.players.Front(); el != nil; el = el.Next() {
		p := el.Value
		if !p.Spawned() {
			continue
		}
		a.sink(p.id, protocol.NewSnapshot(p.queue.Last(), a.serverTime, p.teleport, p.sim.State))
		p.teleport = false
	}
	a.metrics.ticks.Record(context.Background(), time.Since(start).Seconds())
	return nil
}

// tickPlayer applies the commands of one entity that are due. An entity waiting on a missing command
// repeats its state until MaxStallTicks pass, after which the missing command is padded with neutral input.
// Dummies are padded with a neutral command of length dt whenever nothing was applied.
func (a *Authority) tickPlayer(p *PlayerRecord, dt float64) {
	defer p.syncPlacement()

	applied := 0
	for applied < a.cfg.MaxCommandsPerTick {
		cmd, ok := p.queue.Next()
		if !ok {
			break
		}
		p.sim.Step(cmd, cmd.DeltaTime)
		applied++
	}
	if applied == 0 && p.dummy {
		pad := p.queue.Pad()
		pad.DeltaTime = dt
		p.sim.Step(pad, dt)
		p.stalled = 0
		return
	}
	if applied > 0 || p.queue.Pending() == 0 {
		p.stalled = 0
		return
	}

	p.stalled++
	a.metrics.stalls.Add(context.Background(), 1)
	if p.stalled <= a.cfg.MaxStallTicks {
		return
	}
	pad := p.queue.Pad()
	p.sim.Step(pad, pad.DeltaTime)
	p.stalled = 0
	applied++
	a.metrics.pads.Add(context.Background(), 1)
	a.log.Debugf("entity %d: padded missing command %d", p.id, pad.Sequence)

	for applied < a.cfg.MaxCommandsPerTick {
		cmd, ok := p.queue.Next()
		if !ok {
			break
		}
		p.sim.Step(cmd, cmd.DeltaTime)
		applied++
	}
}

// Fire resolves a single shot from shooter as seen at claimedTime.
func (a *Authority) Fire(ctx context.Context, shooter antilag.EntityID, origin, dir mgl64.Vec3, claimedTime float64, filter geometry.Filter) (weapons.Result, error) {
	results, err := a.FireMulti(ctx, shooter, []mgl64.Vec3{origin}, []mgl64.Vec3{dir}, claimedTime, filter)
	if err != nil {
		return weapons.Result{}, err
	}
	return results[0], nil
}

// FireMulti resolves several rays from shooter against one rewind to claimedTime. It must run between ticks.
// The query is cancelled when ctx is done or the shooter despawns.
func (a *Authority) FireMulti(ctx context.Context, shooter antilag.EntityID, origins, dirs []mgl64.Vec3, claimedTime float64, filter geometry.Filter) ([]weapons.Result, error) {
	assert.IsTrue(!a.ticking, "weapon fired by %d during a tick", shooter)
	p, ok := a.players.Get(shooter)
	if !ok || !p.Spawned() {
		return nil, oerror.New("weapon fired by entity %d that is not spawned", shooter)
	}
	if !game.Finite(claimedTime) {
		return nil, oerror.New("weapon fired by entity %d at invalid time %v", shooter, claimedTime)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.abort = cancel
	defer func() { p.abort = nil }()

	results, err := a.engine.QueryMulti(ctx, shooter, origins, dirs, claimedTime, filter)
	if err != nil {
		return nil, err
	}
	if len(results) > 0 && results[0].Clamped {
		a.metrics.clamped.Add(context.Background(), 1)
		a.log.Debugf("entity %d fired at %.3f, older than the retained history", shooter, claimedTime)
	}
	return results, nil
}

// Do runs f on the loop goroutine between ticks and waits for it to return.
func (a *Authority) Do(ctx context.Context, f func()) error {
	done := make(chan struct{})
	select {
	case a.inbox <- func() {
		defer close(done)
		f()
	}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run ticks the server until ctx is done, serialising calls posted with Do between ticks. A panic in the
// loop is reported to sentry before it propagates.
func (a *Authority) Run(ctx context.Context) error {
	defer func() {
		if err := recover(); err != nil {
			a.log.Errorf("server loop panic: %v", err)
			hub := sentry.CurrentHub().Clone()
			hub.ConfigureScope(func(scope *sentry.Scope) {
				scope.SetTag("component", "server")
				scope.SetTag("fps_mode", a.cfg.FpsMode.String())
			})
			hub.Recover(oerror.New("server loop crashed: %v", err))
			hub.Flush(time.Second * 5)
			panic(err)
		}
	}()

	step := 1 / a.cfg.TickRate
	interval := time.Duration(step * float64(time.Second))
	if a.cfg.FpsMode == FpsUncapped {
		interval = time.Millisecond
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	last := time.Now()
	var pending float64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f := <-a.inbox:
			f()
		case now := <-t.C:
			elapsed := now.Sub(last).Seconds()
			last = now
			if elapsed <= 0 {
				continue
			}
			if a.cfg.FpsMode != FpsFixed {
				if err := a.Tick(elapsed); err != nil {
					a.log.Errorf("tick failed: %v", err)
				}
				continue
			}
			pending += elapsed
			for n := 0; pending >= step; n++ {
				if n == maxCatchUp {
					a.log.Warnf("server is running behind, skipping %.3fs", pending)
					pending = 0
					break
				}
				if err := a.Tick(step); err != nil {
					a.log.Errorf("tick failed: %v", err)
				}
				pending -= step
			}
		}
	}
}
