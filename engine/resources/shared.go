package resources

import (
	"sync"
	"sync/atomic"

	"github.com/spaghettifunk/anima-resources/engine/core"
	"github.com/spaghettifunk/anima-resources/engine/vfs"
)

// Shared is the goroutine-safe client side of a Manager. It is reference
// counted: Manager.Shared and Retain take a reference, Close gives one back.
// When the last reference is closed the worker is told to stop.
type Shared struct {
	driver   *vfs.Driver
	registry *registry
	queue    *taskQueue
	metrics  *core.Metrics

	refs      atomic.Int64
	closing   atomic.Bool
	ownerOnce sync.Once
}

func newShared(m *Manager) *Shared {
	s := &Shared{
		driver:   m.driver,
		registry: m.registry,
		queue:    m.queue,
		metrics:  m.metrics,
	}
	// The manager's own reference.
	s.refs.Store(1)
	return s
}

// Retain takes another reference and returns s.
func (s *Shared) Retain() *Shared {
	s.refs.Add(1)
	return s
}

// Close gives back one reference. Extra calls are ignored.
func (s *Shared) Close() {
	for {
		n := s.refs.Load()
		if n <= 0 {
			return
		}
		if s.refs.CompareAndSwap(n, n-1) {
			if n == 1 {
				s.stop()
			}
			return
		}
	}
}

func (s *Shared) releaseOwner() {
	s.ownerOnce.Do(s.Close)
}

func (s *Shared) stop() {
	if !s.closing.CompareAndSwap(false, true) {
		return
	}
	core.LogInfo("Last resource handle closed, stopping worker.")
	s.queue.push(&task{kind: taskStop, run: func(*worker) {}})
}

func (s *Shared) push(t *task) {
	if s.closing.Load() {
		t.abandon()
		return
	}
	s.queue.push(t)
}

// Load requests the resource of type T at path. A cached resource resolves the
// future before Load returns; anything else is queued for the worker.
func Load[T any](s *Shared, path string) *Future[T] {
	p := vfs.Normalize(path)
	if s.closing.Load() {
		return resolvedFuture[T](nil, unavailable(p))
	}
	if ts, ok := lookupSlot[T](s.registry); ok {
		if h, ok := ts.cache.Get(keyOfNormalized(p)); ok {
			s.metrics.ObserveLoad(ts.name, core.ResultHit, 0)
			return resolvedFuture(h, nil)
		}
	}

	f := newFuture[T]()
	s.push(&task{
		kind: taskLoad,
		path: p,
		run: func(w *worker) {
			h, err := load[T](w, p)
			if err != nil {
				core.LogWarn("Failed to load '%s': %v", p, err)
			}
			f.resolve(h, err)
		},
		fail: func(err error) { f.resolve(nil, err) },
	})
	return f
}

// LoadExtern loads the base resource B at path and hands it to the extern
// system registered for (B, R, O). The system only runs if the base loaded.
func LoadExtern[B, R, O any](s *Shared, path string, options O) *Future[R] {
	p := vfs.Normalize(path)
	if s.closing.Load() {
		return resolvedFuture[R](nil, unavailable(p))
	}

	f := newFuture[R]()
	s.push(&task{
		kind: taskExternLoad,
		path: p,
		run: func(w *worker) {
			h, err := loadExtern[B, R, O](w, p, options)
			if err != nil {
				core.LogWarn("Failed to load '%s' through extern system: %v", p, err)
			}
			f.resolve(h, err)
		},
		fail: func(err error) { f.resolve(nil, err) },
	})
	return f
}

// Exists asks the filesystems directly, without going through the worker.
func (s *Shared) Exists(path string) bool {
	return s.driver.Exists(path)
}

// UnloadUnused queues an unload pass over every cache and extern system.
func (s *Shared) UnloadUnused() {
	s.push(&task{kind: taskEvict, run: func(w *worker) { w.evict() }})
}

// Invalidate queues the removal of path from every cache, so the next load
// reads it again.
func (s *Shared) Invalidate(path string) {
	p := vfs.Normalize(path)
	s.push(&task{kind: taskInvalidate, path: p, run: func(w *worker) { w.invalidate(p) }})
}
