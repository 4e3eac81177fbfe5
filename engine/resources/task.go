package resources

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/spaghettifunk/anima-resources/engine/core"
)

type taskKind uint8

const (
	taskLoad taskKind = iota
	taskExternLoad
	taskEvict
	taskInvalidate
	taskStop
)

// task is one unit of work for the worker. It runs or is abandoned at most
// once, whichever comes first.
type task struct {
	kind     taskKind
	path     string
	executed atomic.Bool
	run      func(w *worker)
	// fail resolves the task's future, if it has one.
	fail func(err error)
}

func (t *task) execute(w *worker) {
	if !t.executed.CompareAndSwap(false, true) {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			core.LogError("Resource task for '%s' panicked: %v", t.path, r)
			if t.fail != nil {
				t.fail(fmt.Errorf("%w: %s: panic: %v", core.ErrParse, t.path, r))
			}
		}
	}()
	t.run(w)
}

// abandon resolves the task with ErrSystemUnavailable without running it.
func (t *task) abandon() {
	if !t.executed.CompareAndSwap(false, true) {
		return
	}
	if t.fail != nil {
		t.fail(unavailable(t.path))
	}
}

func unavailable(path string) error {
	if path == "" {
		return core.ErrSystemUnavailable
	}
	return fmt.Errorf("%w: %s", core.ErrSystemUnavailable, path)
}

// taskQueue is the bounded channel between producers and the worker.
// sendMu is held for reading by every producer while it sends, so that once
// halt holds it for writing no task can slip into the channel.
type taskQueue struct {
	ch      chan *task
	stopped chan struct{}

	sendMu sync.RWMutex
	closed bool
}

func newTaskQueue(capacity int) *taskQueue {
	return &taskQueue{
		ch:      make(chan *task, capacity),
		stopped: make(chan struct{}),
	}
}

// push enqueues t, blocking while the queue is full. A task pushed after the
// worker stopped is abandoned instead.
func (q *taskQueue) push(t *task) {
	q.sendMu.RLock()
	defer q.sendMu.RUnlock()

	if q.closed {
		t.abandon()
		return
	}
	select {
	case q.ch <- t:
	case <-q.stopped:
		t.abandon()
	}
}

// halt rejects future pushes and abandons everything still queued.
// Only the worker calls it, once.
func (q *taskQueue) halt() int {
	close(q.stopped)

	q.sendMu.Lock()
	q.closed = true
	q.sendMu.Unlock()

	dropped := 0
	for {
		select {
		case t := <-q.ch:
			t.abandon()
			dropped++
		default:
			return dropped
		}
	}
}

func (q *taskQueue) len() int {
	return len(q.ch)
}
