package assert

import "github.com/netmove/netmove/oerror"

// IsTrue panics with an *oerror.Error if ok is false. It guards invariants whose violation means the
// caller misused the API, such as scheduling a hit-scan query during a server tick.
func IsTrue(ok bool, message string, args ...interface{}) {
	if !ok {
		panic(oerror.New(message, args...))
	}
}
