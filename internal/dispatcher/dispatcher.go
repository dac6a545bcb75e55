// Package dispatcher implements the bounded worker pool described in
// spec.md §4.1: a fixed number of named workers draining an unbounded
// FIFO queue, resized at runtime by pushing sentinel values rather than
// interrupting a running worker.
//
// The overall shape — a pool that workers pull from, a lifecycle that
// can be shrunk or drained to zero, one-shot shutdown semantics — is
// grounded on ygrebnov-workers (dispatcher.go, workers.go, lifecycle.go,
// pool/fixed.go), reshaped around the spec's explicit integer worker
// identities, sentinel-terminated queue and stop_count bookkeeping,
// none of which ygrebnov-workers' context-cancellation model provides
// directly.
package dispatcher

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Task is the unit of work a Dispatcher runs. It mirrors spec.md §3's
// Task lifecycle hooks; the task-engine package supplies concrete
// implementations (WSGITask, ErrorTask).
type Task interface {
	// Defer runs synchronously on the enqueuing goroutine, before the
	// task is made visible to workers (accounting hooks).
	Defer() error
	// Service runs on exactly one worker: start, execute, finish.
	Service() error
	// Cancel is called instead of Service when the task never runs
	// (shutdown drain, or a Defer failure). It performs no I/O.
	Cancel()
}

// sentinel is the queue value meaning "a worker should exit".
type sentinel struct{}

func (sentinel) Defer() error { return nil }
func (sentinel) Service() error { return nil }
func (sentinel) Cancel() {}

var dieToken Task = sentinel{}

// IsTestTerminator reports whether err is the distinguished error kind
// that, uniquely, also terminates the worker that observed it
// (spec.md §4.1, used only by tests).
type IsTestTerminator func(error) bool

// Dispatcher is a bounded worker pool over an unbounded FIFO task
// queue. The zero value is not usable; use New.
type Dispatcher struct {
	mu   sync.Mutex
	cond *sync.Cond

	queue []Task

	workers   map[int]struct{}
	stopCount int

	logger           zerolog.Logger
	isTestTerminator IsTestTerminator
}

// New creates a Dispatcher with zero live workers; call SetThreadCount
// to start workers.
func New(logger zerolog.Logger, isTestTerminator IsTestTerminator) *Dispatcher {
	d := &Dispatcher{
		workers:          make(map[int]struct{}),
		logger:           logger,
		isTestTerminator: isTestTerminator,
	}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// SetThreadCount adjusts live-minus-pending-stops toward n. It is
// idempotent and safe under concurrent calls. Growth starts workers
// with fresh, lowest-unused integer identities. Shrinkage pushes one
// sentinel per surplus worker (live minus pending stops minus n) onto
// the queue and bumps stopCount by the same amount; no running worker
// is ever forcibly interrupted.
func (d *Dispatcher) SetThreadCount(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	current := len(d.workers) - d.stopCount
	delta := n - current
	switch {
	case delta > 0:
		for i := 0; i < delta; i++ {
			id := d.nextUnusedIDLocked()
			d.workers[id] = struct{}{}
			go d.workerLoop(id)
		}
	case delta < 0:
		for i := 0; i < -delta; i++ {
			d.queue = append(d.queue, dieToken)
			d.stopCount++
		}
		d.cond.Broadcast()
	}
}

func (d *Dispatcher) nextUnusedIDLocked() int {
	for id := 0; ; id++ {
		if _, used := d.workers[id]; !used {
			return id
		}
	}
}

// AddTask enqueues task, running Defer() first. If Defer fails, the
// task is cancelled and the error is re-surfaced to the caller instead
// of being enqueued (spec.md §4.1, §7).
func (d *Dispatcher) AddTask(task Task) error {
	d.mu.Lock()
	depth := len(d.queue)
	d.mu.Unlock()
	if depth > 0 {
		d.logger.Warn().Int("queue_depth", depth).Msg("dispatcher: queue backlog at enqueue")
	}

	if err := task.Defer(); err != nil {
		task.Cancel()
		return err
	}

	d.mu.Lock()
	d.queue = append(d.queue, task)
	d.cond.Signal()
	d.mu.Unlock()
	return nil
}

// Shutdown sets the worker target to zero, then polls (roughly every
// 100ms) until the live set is empty or timeout elapses. If
// cancelPending is true, every remaining non-sentinel queue entry is
// drained and cancelled, and Shutdown returns true; otherwise it
// returns false. A deadline expiry is logged, never raised, matching
// spec.md §4.1.
func (d *Dispatcher) Shutdown(cancelPending bool, timeout time.Duration) bool {
	d.SetThreadCount(0)

	deadline := time.Now().Add(timeout)
	const pollInterval = 100 * time.Millisecond
	for {
		d.mu.Lock()
		empty := len(d.workers) == 0
		d.mu.Unlock()
		if empty {
			break
		}
		if time.Now().After(deadline) {
			d.logger.Warn().Msg("dispatcher: shutdown deadline expired with workers still live")
			break
		}
		time.Sleep(pollInterval)
	}

	if !cancelPending {
		return false
	}

	d.mu.Lock()
	pending := d.queue
	d.queue = nil
	d.mu.Unlock()

	for _, t := range pending {
		if t == dieToken {
			continue
		}
		t.Cancel()
	}
	return true
}

// QueueDepth reports the current backlog, for diagnostics and tests.
func (d *Dispatcher) QueueDepth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// LiveWorkers reports the number of currently registered worker
// identities (including those with a pending stop not yet observed).
func (d *Dispatcher) LiveWorkers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.workers)
}

func (d *Dispatcher) workerLoop(id int) {
	for {
		d.mu.Lock()
		if _, alive := d.workers[id]; !alive {
			d.mu.Unlock()
			return
		}
		for len(d.queue) == 0 {
			d.cond.Wait()
			if _, alive := d.workers[id]; !alive {
				d.mu.Unlock()
				return
			}
		}
		task := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()

		if task == dieToken {
			d.exit(id)
			return
		}

		if err := d.serviceSafely(task); err != nil {
			d.logger.Error().Int("worker", id).Err(err).Msg("dispatcher: task service failed")
			if d.isTestTerminator != nil && d.isTestTerminator(err) {
				d.exit(id)
				return
			}
		}
	}
}

// serviceSafely isolates worker-fatal panics raised by an application
// bug from the worker loop: an unhandled application failure must
// terminate only the task, never the worker (spec.md §4.1).
func (d *Dispatcher) serviceSafely(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Int("panic", 1).Interface("recovered", r).Msg("dispatcher: task panicked")
		}
	}()
	return task.Service()
}

func (d *Dispatcher) exit(id int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopCount > 0 {
		d.stopCount--
	}
	delete(d.workers, id)
}
