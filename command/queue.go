package command

// Verdict is the outcome of pushing a command into a Queue.
type Verdict uint8

const (
	// Accepted commands are buffered until their sequence number is due.
	Accepted Verdict = iota
	// Duplicate commands repeat a sequence number that is already buffered.
	Duplicate
	// Stale commands carry a sequence number that was already consumed.
	Stale
	// OutOfWindow commands are too far ahead of the last consumed sequence number.
	OutOfWindow
)

func (v Verdict) String() string {
	switch v {
	case Accepted:
		return "accepted"
	case Duplicate:
		return "duplicate"
	case Stale:
		return "stale"
	case OutOfWindow:
		return "out_of_window"
	}
	return "unknown"
}

// Queue reorders the commands of one entity so they are consumed strictly in sequence order. Only the
// command directly following the last consumed one is ever handed out.
type Queue struct {
	consumed  uint64
	window    uint64
	pending   map[uint64]Command
	lastDelta float64
	lastTime  float64
}

// NewQueue returns a queue expecting sequence 1 that buffers at most window commands ahead.
func NewQueue(window int) *Queue {
	if window < 1 {
		window = 1
	}
	return &Queue{window: uint64(window), pending: make(map[uint64]Command)}
}

// Push buffers a command and reports how it was classified.
func (q *Queue) Push(cmd Command) Verdict {
	switch {
	case cmd.Sequence <= q.consumed:
		return Stale
	case cmd.Sequence > q.consumed+q.window:
		return OutOfWindow
	}
	if _, ok := q.pending[cmd.Sequence]; ok {
		return Duplicate
	}
	q.pending[cmd.Sequence] = cmd.Sanitize()
	return Accepted
}

// Next removes and returns the command following the last consumed one, if it has arrived.
func (q *Queue) Next() (Command, bool) {
	cmd, ok := q.pending[q.consumed+1]
	if !ok {
		return Command{}, false
	}
	delete(q.pending, cmd.Sequence)
	q.consume(cmd)
	return cmd, true
}

// Pad consumes the missing next sequence number with a neutral command that repeats the previous step
// length and carries no input.
func (q *Queue) Pad() Command {
	cmd := Command{
		Sequence:   q.consumed + 1,
		ClientTime: q.lastTime + q.lastDelta,
		DeltaTime:  q.lastDelta,
	}
	delete(q.pending, cmd.Sequence)
	q.consume(cmd)
	return cmd
}

func (q *Queue) consume(cmd Command) {
	q.consumed = cmd.Sequence
	q.lastTime = cmd.ClientTime
	if cmd.DeltaTime > 0 {
		q.lastDelta = cmd.DeltaTime
	}
}

// Expected returns the sequence number Next waits for.
func (q *Queue) Expected() uint64 {
	return q.consumed + 1
}

// Last returns the last consumed sequence number, or 0 if none was consumed yet.
func (q *Queue) Last() uint64 {
	return q.consumed
}

// Pending returns the number of buffered commands.
func (q *Queue) Pending() int {
	return len(q.pending)
}

// Reset drops every buffered command and makes the queue expect sequence last+1.
func (q *Queue) Reset(last uint64) {
	clear(q.pending)
	q.consumed = last
}
