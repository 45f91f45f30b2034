package command

import (
	"math"

	"github.com/netmove/netmove/game"
)

// Pipeline turns sampled input into sequenced commands. A frame longer than the minimum frame rate allows
// is split into equal sub-commands, so the server never simulates a step longer than the client did.
type Pipeline struct {
	next     uint64
	maxDelta float64
}

// NewPipeline returns a pipeline whose first command carries sequence 1. fpsMin bounds the length of a
// single command to 1/fpsMin seconds; a non-positive value disables splitting.
func NewPipeline(fpsMin float64) *Pipeline {
	p := &Pipeline{next: 1}
	if fpsMin > 0 && game.Finite(fpsMin) {
		p.maxDelta = 1 / fpsMin
	}
	return p
}

// Capture produces the commands for a frame of length dt ending at client time now. It returns nil for a
// non-positive or non-finite dt.
func (p *Pipeline) Capture(in Input, dt, now float64) []Command {
	if !game.Finite(dt) || dt <= 0 {
		return nil
	}
	parts := 1
	if p.maxDelta > 0 && dt > p.maxDelta {
		parts = int(math.Ceil(dt/p.maxDelta - 1e-9))
	}
	step := dt / float64(parts)

	cmds := make([]Command, 0, parts)
	for i := range parts {
		cmds = append(cmds, Command{
			Sequence:   p.next,
			ClientTime: now - float64(parts-1-i)*step,
			DeltaTime:  step,
			WishDir:    in.WishDir,
			LookAngle:  in.LookAngle,
			Actions:    in.Actions,
		}.Sanitize())
		p.next++
	}
	return cmds
}

// Next returns the sequence number the next captured command will carry.
func (p *Pipeline) Next() uint64 {
	return p.next
}
