package worker

import (
	"runtime"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/netmove/netmove/oerror"
	"go.uber.org/atomic"
)

// Pool runs jobs on a fixed set of goroutines. A job that panics is reported to sentry and its worker
// moves on to the next job.
type Pool struct {
	queue  chan func()
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed atomic.Bool
	failed atomic.Int64
}

// New starts a pool of workers goroutines sharing a queue of backlog jobs. Non-positive values default to
// the number of CPUs.
func New(workers, backlog int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if backlog <= 0 {
		backlog = runtime.NumCPU()
	}
	p := &Pool{queue: make(chan func(), backlog)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for f := range p.queue {
		p.run(f)
	}
}

func (p *Pool) run(f func()) {
	defer func() {
		if err := recover(); err != nil {
			p.failed.Inc()
			hub := sentry.CurrentHub().Clone()
			hub.Recover(oerror.New("worker job panicked: %v", err))
			hub.Flush(time.Second * 5)
		}
	}()
	f()
}

// Submit queues f without blocking. It returns false if the pool is closed or the backlog is full.
func (p *Pool) Submit(f func()) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed.Load() {
		return false
	}
	select {
	case p.queue <- f:
		return true
	default:
		return false
	}
}

// Failed returns the number of jobs that panicked.
func (p *Pool) Failed() int64 {
	return p.failed.Load()
}

// Close stops accepting jobs and waits for the queued ones to finish. Calling it again does nothing.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed.Swap(true) {
		p.mu.Unlock()
		return
	}
	close(p.queue)
	p.mu.Unlock()
	p.wg.Wait()
}
