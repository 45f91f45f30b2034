package protocol

import (
	"bytes"

	"github.com/netmove/netmove/internal"
	"github.com/netmove/netmove/simulation"
	mcprotocol "github.com/sandertv/gophertunnel/minecraft/protocol"
	"github.com/zeebo/xxh3"
)

// Snapshot is the authoritative state of one entity after a server tick.
type Snapshot struct {
	// Ack is the sequence of the last command the server applied for the entity.
	Ack        uint64
	ServerTime float64
	// Teleport forces the client to take State without smoothing.
	Teleport bool
	State    simulation.State
	// Checksum is the xxh3 hash of the encoded State.
	Checksum uint64
}

// NewSnapshot returns a snapshot of state with its checksum filled in.
func NewSnapshot(ack uint64, serverTime float64, teleport bool, state simulation.State) Snapshot {
	return Snapshot{
		Ack:        ack,
		ServerTime: serverTime,
		Teleport:   teleport,
		State:      state,
		Checksum:   Checksum(state),
	}
}

// ID ...
func (*Snapshot) ID() uint8 { return IDSnapshot }

// Marshal ...
func (s *Snapshot) Marshal(io mcprotocol.IO) {
	io.Varuint64(&s.Ack)
	Float64(io, &s.ServerTime)
	io.Bool(&s.Teleport)
	MarshalState(io, &s.State)
	io.Uint64(&s.Checksum)
}

// Verify reports whether the checksum matches the state carried.
func (s Snapshot) Verify() bool {
	return Checksum(s.State) == s.Checksum
}

// Checksum returns the xxh3 hash of the encoded state. Bit-identical states always hash the same.
func Checksum(state simulation.State) uint64 {
	buf := internal.BufferPool.Get().(*bytes.Buffer)
	defer internal.BufferPool.Put(buf)
	buf.Reset()

	MarshalState(mcprotocol.NewWriter(buf, 0), &state)
	return xxh3.Hash(buf.Bytes())
}
