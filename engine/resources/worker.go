package resources

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/spaghettifunk/anima-resources/engine/core"
	"github.com/spaghettifunk/anima-resources/engine/vfs"
)

// WorkerState is what the worker is doing right now.
type WorkerState int32

const (
	// Waiting for the next task.
	WorkerRunning WorkerState = iota
	WorkerExecutingLoad
	WorkerExecutingExternLoad
	WorkerExecutingEvict
	WorkerExecutingInvalidate
	// Terminal, the goroutine has returned.
	WorkerStopped
)

func (s WorkerState) String() string {
	switch s {
	case WorkerRunning:
		return "running"
	case WorkerExecutingLoad:
		return "executing-load"
	case WorkerExecutingExternLoad:
		return "executing-extern-load"
	case WorkerExecutingEvict:
		return "executing-evict"
	case WorkerExecutingInvalidate:
		return "executing-invalidate"
	case WorkerStopped:
		return "stopped"
	default:
		return fmt.Sprintf("WorkerState(%d)", int32(s))
	}
}

func stateFor(k taskKind) WorkerState {
	switch k {
	case taskLoad:
		return WorkerExecutingLoad
	case taskExternLoad:
		return WorkerExecutingExternLoad
	case taskEvict:
		return WorkerExecutingEvict
	case taskInvalidate:
		return WorkerExecutingInvalidate
	default:
		return WorkerRunning
	}
}

// worker is the single consumer of the task queue. Everything below is only
// touched from its goroutine, except state.
type worker struct {
	driver   *vfs.Driver
	registry *registry
	queue    *taskQueue
	metrics  *core.Metrics
	limiter  *rate.Limiter

	ctx      context.Context
	inflight map[Key]struct{}
	buf      []byte
	// Buffers grown past this capacity are dropped after the task.
	maxRetained int

	state  atomic.Int32
	exited chan struct{}
}

func (w *worker) run() {
	defer close(w.exited)

	for t := range w.queue.ch {
		w.metrics.SetQueueDepth(w.queue.len())

		if t.kind == taskStop {
			dropped := w.queue.halt()
			w.state.Store(int32(WorkerStopped))
			w.metrics.SetQueueDepth(0)
			core.LogInfo("Resource worker stopped, %d queued task(s) abandoned.", dropped)
			return
		}

		w.state.Store(int32(stateFor(t.kind)))
		t.execute(w)
		w.state.Store(int32(WorkerRunning))
		w.resetBuffer()
	}
}

func (w *worker) resetBuffer() {
	if cap(w.buf) > w.maxRetained {
		w.buf = nil
		return
	}
	w.buf = w.buf[:0]
}

// throttle charges n bytes against the IO budget, if one is configured.
func (w *worker) throttle(n int) {
	if w.limiter == nil {
		return
	}
	burst := w.limiter.Burst()
	for n > 0 {
		c := min(n, burst)
		if err := w.limiter.WaitN(w.ctx, c); err != nil {
			return
		}
		n -= c
	}
}

// evict runs every cache's and then every extern system's unload pass.
func (w *worker) evict() {
	slots, externs := w.registry.snapshot()
	for _, s := range slots {
		n := s.unloadUnused()
		w.metrics.AddEvictions(s.typeName(), n)
	}
	for _, e := range externs {
		e.unloadUnused()
	}
}

// invalidate drops p from every cache. A mount qualified path also drops the
// unqualified spelling, since that resolves through the same mount.
func (w *worker) invalidate(p string) {
	paths := []string{p}
	if mount, rest := vfs.Split(p); mount != "" {
		paths = append(paths, rest)
	}
	slots, externs := w.registry.snapshot()
	for _, vp := range paths {
		key := keyOfNormalized(vp)
		for _, s := range slots {
			if s.remove(key) {
				core.LogDebug("Resource '%s' (%s) invalidated.", vp, s.typeName())
			}
		}
		for _, e := range externs {
			e.invalidate(vp)
		}
	}
}

// Scope is handed to a parser while it runs on the worker. It is only valid
// for the duration of that Parse call.
type Scope struct {
	w    *worker
	path string
}

// Path returns the normalized path being parsed.
func (s *Scope) Path() string {
	return s.path
}

// Resolve turns a path relative to the resource being parsed into a virtual
// path on the same mount. Rooted paths, with or without a mount prefix, are
// returned normalized.
func (s *Scope) Resolve(rel string) string {
	if mount, _ := vfs.Split(rel); mount != "" || len(rel) > 0 && (rel[0] == '/' || rel[0] == '\\') {
		return vfs.Normalize(rel)
	}
	mount, dir := vfs.Split(s.path)
	joined := path.Join(path.Dir(dir), rel)
	if mount != "" {
		return vfs.Normalize(mount + ":" + joined)
	}
	return vfs.Normalize(joined)
}

// LoadIn loads a dependency synchronously from inside a parser. It shares the
// worker's in-flight set, so loading a path that is still being parsed fails
// with core.ErrCircularReference.
func LoadIn[T any](s *Scope, p string) (*Handle[T], error) {
	return load[T](s.w, vfs.Normalize(p))
}

func safeParse[T any](p Parser[T], scope *Scope, data []byte) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parser panic: %v", r)
		}
	}()
	return p.Parse(scope, data)
}

func safeExtern[B, R, O any](s ExternSystem[B, R, O], p string, base B, opts O) (h *Handle[R], err error) {
	defer func() {
		if r := recover(); r != nil {
			h, err = nil, fmt.Errorf("extern system panic: %v", r)
		}
	}()
	return s.Load(p, base, opts)
}

// load is the worker side of a load: cache, cycle check, read, parse, insert.
// p must already be normalized.
func load[T any](w *worker, p string) (*Handle[T], error) {
	key := keyOfNormalized(p)
	name := typeName[T]()

	s, ok := lookupSlot[T](w.registry)
	if !ok {
		return nil, fmt.Errorf("%w: %s for '%s'", core.ErrNotRegistered, name, p)
	}
	if h, ok := s.cache.Get(key); ok {
		w.metrics.ObserveLoad(name, core.ResultHit, 0)
		return h, nil
	}
	if _, busy := w.inflight[key]; busy {
		w.metrics.ObserveLoad(name, core.ResultCircular, 0)
		return nil, fmt.Errorf("%w: '%s' (%s)", core.ErrCircularReference, p, name)
	}

	clock := core.NewClock()
	clock.Start()

	w.inflight[key] = struct{}{}
	defer delete(w.inflight, key)

	from := len(w.buf)
	defer func() { w.buf = w.buf[:from] }()

	buf, err := w.driver.LoadInto(p, w.buf)
	if len(buf) >= from {
		w.buf = buf
	}
	if err != nil {
		w.metrics.ObserveLoad(name, core.ResultFailed, 0)
		if errors.Is(err, core.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: '%s': %w", core.ErrIO, p, err)
	}

	data := buf[from:len(buf):len(buf)]
	w.metrics.AddBytesRead(len(data))
	w.throttle(len(data))

	v, err := safeParse(s.parser, &Scope{w: w, path: p}, data)
	if err != nil {
		w.metrics.ObserveLoad(name, core.ResultFailed, 0)
		return nil, fmt.Errorf("%w: '%s' (%s): %w", core.ErrParse, p, name, err)
	}

	// Retained before Insert so an unload pass never sees it unused.
	h := NewHandle(v).Retain()
	s.cache.Insert(key, h)

	clock.Update()
	w.metrics.ObserveLoad(name, core.ResultOK, clock.Elapsed())
	core.LogDebug("Resource '%s' (%s) loaded, %d bytes in %s.", p, name, len(data), clock.Elapsed())

	return h, nil
}

// loadExtern runs the base stage and, only if it succeeds, the extern stage.
func loadExtern[B, R, O any](w *worker, p string, opts O) (*Handle[R], error) {
	e, ok := lookupExtern[B, R, O](w.registry)
	if !ok {
		return nil, fmt.Errorf("%w: extern %s for '%s'", core.ErrNotRegistered, externTokenOf[B, R, O](), p)
	}

	base, err := load[B](w, p)
	if err != nil {
		return nil, err
	}
	defer base.Release()

	h, err := safeExtern(e.system, p, base.Get(), opts)
	if err != nil {
		return nil, fmt.Errorf("%w: '%s' (%s): %w", core.ErrParse, p, e.typeName(), err)
	}
	if h == nil {
		return nil, fmt.Errorf("%w: '%s' (%s): extern system returned no handle", core.ErrParse, p, e.typeName())
	}
	return h, nil
}
