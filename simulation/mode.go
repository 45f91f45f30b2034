package simulation

import (
	"github.com/netmove/netmove/command"
	"github.com/netmove/netmove/oerror"
)

// Mode is a set of callbacks that make up one movement mode. Active runs only while the mode is the
// current one, Always runs every step for every registered mode. Enter and Exit run on mode changes. Any
// callback may be nil.
type Mode struct {
	Name   string
	Active func(s *Simulation, cmd command.Command, dt float64)
	Always func(s *Simulation, cmd command.Command, dt float64)
	Enter  func(s *Simulation)
	Exit   func(s *Simulation)
}

// ModeTable maps mode ids to their callbacks. The ground and air modes are always present as ModeGround
// and ModeAir. A table is shared read-only between simulations once registration is done.
type ModeTable struct {
	modes []Mode
	names map[string]ModeID
}

// NewModeTable returns a table holding the built-in ground and air modes.
func NewModeTable() *ModeTable {
	t := &ModeTable{names: make(map[string]ModeID)}
	t.mustRegister(groundMode())
	t.mustRegister(airMode())
	return t
}

// Register adds a mode and returns its id. Names must be unique.
func (t *ModeTable) Register(m Mode) (ModeID, error) {
	if m.Name == "" {
		return 0, oerror.New("mode registered without a name")
	}
	if _, ok := t.names[m.Name]; ok {
		return 0, oerror.New("mode %q is already registered", m.Name)
	}
	if len(t.modes) > 255 {
		return 0, oerror.New("mode table is full")
	}
	id := ModeID(len(t.modes))
	t.modes = append(t.modes, m)
	t.names[m.Name] = id
	return id, nil
}

func (t *ModeTable) mustRegister(m Mode) {
	if _, err := t.Register(m); err != nil {
		panic(err)
	}
}

// Mode returns the mode registered under id.
func (t *ModeTable) Mode(id ModeID) (Mode, bool) {
	if int(id) >= len(t.modes) {
		return Mode{}, false
	}
	return t.modes[id], true
}

// Lookup returns the id of the mode registered under name.
func (t *ModeTable) Lookup(name string) (ModeID, bool) {
	id, ok := t.names[name]
	return id, ok
}

// Len returns the number of registered modes.
func (t *ModeTable) Len() int {
	return len(t.modes)
}
