package internal

import (
	"bytes"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

// BufferPool holds the scratch buffers used when encoding commands and snapshots.
var BufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 256))
	},
}

// NopLogger returns a logger that discards everything written to it. Components fall back to it
// when no logger is supplied.
func NopLogger() *logrus.Logger {
	log := logrus.New()
	log.Out = io.Discard
	return log
}

// OrNop returns log, or a discarding logger if log is nil.
func OrNop(log *logrus.Logger) *logrus.Logger {
	if log == nil {
		return NopLogger()
	}
	return log
}
