// Package protocol defines the messages exchanged between client and server and their binary encoding.
// Every message marshals through a single method that both reads and writes, so the encoding of a command
// is byte-identical on both ends.
package protocol

import (
	"bytes"
	"math"
	"slices"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/netmove/netmove/command"
	"github.com/netmove/netmove/internal"
	"github.com/netmove/netmove/oerror"
	"github.com/netmove/netmove/simulation"
	mcprotocol "github.com/sandertv/gophertunnel/minecraft/protocol"
)

const (
	IDHello uint8 = iota + 1
	IDCommands
	IDSnapshot
	IDFire
)

// maxBatch bounds the number of entries in a decoded list.
const maxBatch = 256

// Message is a record that can be sent over the wire.
type Message interface {
	ID() uint8
	Marshal(io mcprotocol.IO)
}

// Hello is sent by the server when a connection is accepted.
type Hello struct {
	EntityID   uint32
	ServerTime float64
	TickRate   float64
	State      simulation.State
}

// ID ...
func (*Hello) ID() uint8 { return IDHello }

// Marshal ...
func (h *Hello) Marshal(io mcprotocol.IO) {
	io.Uint32(&h.EntityID)
	Float64(io, &h.ServerTime)
	Float64(io, &h.TickRate)
	MarshalState(io, &h.State)
}

// Commands carries the commands captured by a client during one frame.
type Commands struct {
	Commands []command.Command
}

// ID ...
func (*Commands) ID() uint8 { return IDCommands }

// Marshal ...
func (c *Commands) Marshal(io mcprotocol.IO) {
	count := uint32(len(c.Commands))
	io.Varuint32(&count)
	if count > maxBatch {
		panic(oerror.New("command batch of %d exceeds %d", count, maxBatch))
	}
	if uint32(len(c.Commands)) != count {
		c.Commands = slices.Grow(c.Commands[:0:0], int(count))[:count]
	}
	for i := range c.Commands {
		MarshalCommand(io, &c.Commands[i])
	}
}

// Fire requests one or more hit-scan rays evaluated at the time the shooter saw the world. Origins and
// Directions pair up by index and must have the same length.
type Fire struct {
	ClaimedTime float64
	Origins     []mgl64.Vec3
	Directions  []mgl64.Vec3
}

// ID ...
func (*Fire) ID() uint8 { return IDFire }

// Marshal ...
func (f *Fire) Marshal(io mcprotocol.IO) {
	Float64(io, &f.ClaimedTime)
	count := uint32(len(f.Origins))
	io.Varuint32(&count)
	if count > maxBatch {
		panic(oerror.New("fire request with %d rays exceeds %d", count, maxBatch))
	}
	if uint32(len(f.Directions)) != count {
		f.Directions = slices.Grow(f.Directions[:0:0], int(count))[:count]
	}
	if uint32(len(f.Origins)) != count {
		f.Origins = slices.Grow(f.Origins[:0:0], int(count))[:count]
	}
	for i := range f.Origins {
		Vec3(io, &f.Origins[i])
		Vec3(io, &f.Directions[i])
	}
}

// MarshalCommand reads or writes a single command.
func MarshalCommand(io mcprotocol.IO, c *command.Command) {
	io.Varuint64(&c.Sequence)
	Float64(io, &c.ClientTime)
	Float64(io, &c.DeltaTime)
	Vec3(io, &c.WishDir)
	Float64(io, &c.LookAngle)
	actions := uint32(c.Actions)
	io.Varuint32(&actions)
	c.Actions = command.ActionFlags(actions)
}

// MarshalState reads or writes a complete simulation state.
func MarshalState(io mcprotocol.IO, s *simulation.State) {
	Vec3(io, &s.Pos)
	Vec3(io, &s.Vel)
	Float64(io, &s.Angle)
	Float64(io, &s.TargetAngle)
	Float64(io, &s.Jump)
	Float64(io, &s.JumpThrust)
	Float64(io, &s.InAir)
	Float64(io, &s.StepUp)
	Float64(io, &s.Pushing)
	Vec3(io, &s.PushDir)
	Vec3(io, &s.GroundNormal)
	mode := uint8(s.Mode)
	io.Uint8(&mode)
	s.Mode = simulation.ModeID(mode)
	for i := range s.ModeData {
		io.Uint8(&s.ModeData[i])
	}
}

// Float64 reads or writes a float64 as its IEEE 754 bits, so every value round-trips exactly.
func Float64(io mcprotocol.IO, f *float64) {
	bits := math.Float64bits(*f)
	io.Uint64(&bits)
	*f = math.Float64frombits(bits)
}

// Vec3 reads or writes a vector as three float64 values.
func Vec3(io mcprotocol.IO, v *mgl64.Vec3) {
	for i := range v {
		Float64(io, &v[i])
	}
}

// Encode returns the message prefixed with its ID.
func Encode(m Message) []byte {
	buf := internal.BufferPool.Get().(*bytes.Buffer)
	defer internal.BufferPool.Put(buf)
	buf.Reset()

	id := m.ID()
	w := mcprotocol.NewWriter(buf, 0)
	w.Uint8(&id)
	m.Marshal(w)
	return bytes.Clone(buf.Bytes())
}

// Decode parses a message produced by Encode.
func Decode(data []byte) (m Message, err error) {
	if len(data) == 0 {
		return nil, oerror.New("empty message")
	}
	switch data[0] {
	case IDHello:
		m = &Hello{}
	case IDCommands:
		m = &Commands{}
	case IDSnapshot:
		m = &Snapshot{}
	case IDFire:
		m = &Fire{}
	default:
		return nil, oerror.New("unknown message id %d", data[0])
	}

	defer func() {
		if r := recover(); r != nil {
			m, err = nil, oerror.New("malformed message %d: %v", data[0], r)
		}
	}()
	buf := bytes.NewBuffer(data[1:])
	m.Marshal(mcprotocol.NewReader(buf, 0, false))
	if buf.Len() != 0 {
		return nil, oerror.New("message %d has %d trailing bytes", data[0], buf.Len())
	}
	return m, nil
}
