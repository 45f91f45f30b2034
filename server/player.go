package server

import (
	"context"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/netmove/netmove/antilag"
	"github.com/netmove/netmove/command"
	"github.com/netmove/netmove/simulation"
)

// PlayerRecord is the server's view of one connected entity.
type PlayerRecord struct {
	id   antilag.EntityID
	slot uint8
	// dummy records are driven by the server itself rather than a connection.
	dummy bool

	// allowedToSpawn lets Tick respawn the entity at spawnPoint once respawnTime has passed.
	allowedToSpawn bool
	respawnDelay   float64
	respawnTime    float64
	spawnPoint     mgl64.Vec3

	queue     *command.Queue
	sim       *simulation.Simulation
	placement antilag.Placement

	stalled  int
	teleport bool

	// abort cancels the hit-scan query the entity is firing, if any.
	abort context.CancelFunc
}

// ID ...
func (p *PlayerRecord) ID() antilag.EntityID {
	return p.id
}

// Slot returns the entity's slot, unique among connected entities and below MaxPlayers.
func (p *PlayerRecord) Slot() uint8 {
	return p.slot
}

// Dummy reports whether the entity is a bot without a connection. Dummies never stall: a tick without
// commands moves them with neutral input.
func (p *PlayerRecord) Dummy() bool {
	return p.dummy
}

// AllowedToSpawn reports whether the server respawns the entity by itself.
func (p *PlayerRecord) AllowedToSpawn() bool {
	return p.allowedToSpawn
}

// RespawnTime returns the server time after which a despawned entity that is allowed to spawn comes back.
func (p *PlayerRecord) RespawnTime() float64 {
	return p.respawnTime
}

// Placement returns where the entity's collision representation is. While a hit-scan query runs this may
// be a rewound placement rather than the simulated one.
func (p *PlayerRecord) Placement() antilag.Placement {
	return p.placement
}

// SetPlacement moves the collision representation without touching the simulation.
func (p *PlayerRecord) SetPlacement(pl antilag.Placement) {
	p.placement = pl
}

// Spawned reports whether the entity is in the world.
func (p *PlayerRecord) Spawned() bool {
	return p.sim != nil
}

// State returns the authoritative simulation state. It is the zero state while despawned.
func (p *PlayerRecord) State() simulation.State {
	if p.sim == nil {
		return simulation.State{}
	}
	return p.sim.State
}

// Ack returns the sequence of the last command applied for the entity.
func (p *PlayerRecord) Ack() uint64 {
	return p.queue.Last()
}

// syncPlacement copies the simulated position and facing to the collision representation.
func (p *PlayerRecord) syncPlacement() {
	p.placement = antilag.Placement{Position: p.sim.State.Pos, Angle: p.sim.State.Angle}
}

// despawn takes the entity out of the world and schedules its respawn serverTime plus its delay from now.
func (p *PlayerRecord) despawn(serverTime float64) {
	if p.abort != nil {
		p.abort()
	}
	p.sim = nil
	p.stalled, p.teleport = 0, false
	p.respawnTime = serverTime + p.respawnDelay
}
