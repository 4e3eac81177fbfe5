package resources

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/spaghettifunk/anima-resources/engine/core"
	"github.com/spaghettifunk/anima-resources/engine/vfs"
)

const (
	DefaultQueueCapacity     = 1024
	DefaultMaxRetainedBuffer = 16 << 20
)

var ErrInvalidQueueCapacity = errors.New("queue capacity must be positive")

type options struct {
	queueCapacity     int
	maxRetainedBuffer int
	ioLimit           int
	registerer        prometheus.Registerer
	namespace         string
}

// Option configures a Manager.
type Option func(*options)

// WithQueueCapacity bounds the number of pending tasks. Producers block while
// the queue is full.
func WithQueueCapacity(n int) Option {
	return func(o *options) { o.queueCapacity = n }
}

// WithMaxRetainedBuffer sets the read buffer capacity kept between tasks.
func WithMaxRetainedBuffer(n int) Option {
	return func(o *options) { o.maxRetainedBuffer = n }
}

// WithIOLimit throttles worker reads to bytesPerSec. Zero disables it.
func WithIOLimit(bytesPerSec int) Option {
	return func(o *options) { o.ioLimit = bytesPerSec }
}

// WithMetricsRegisterer exports the manager's collectors to reg.
func WithMetricsRegisterer(reg prometheus.Registerer, namespace string) Option {
	return func(o *options) {
		o.registerer = reg
		o.namespace = namespace
	}
}

// Manager owns the type registries, the filesystem driver and the worker.
type Manager struct {
	id       uuid.UUID
	driver   *vfs.Driver
	registry *registry
	queue    *taskQueue
	worker   *worker
	shared   *Shared
	metrics  *core.Metrics

	cancel context.CancelFunc
}

// NewManager starts a manager and its worker goroutine.
func NewManager(opts ...Option) (*Manager, error) {
	o := options{
		queueCapacity:     DefaultQueueCapacity,
		maxRetainedBuffer: DefaultMaxRetainedBuffer,
		namespace:         "anima",
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.queueCapacity <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidQueueCapacity, o.queueCapacity)
	}
	if o.maxRetainedBuffer < 0 {
		o.maxRetainedBuffer = 0
	}

	id := uuid.New()
	metrics := core.NewMetrics(o.registerer, o.namespace, prometheus.Labels{"manager": id.String()})

	var limiter *rate.Limiter
	if o.ioLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(o.ioLimit), o.ioLimit)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		id:       id,
		driver:   vfs.NewDriver(),
		registry: newRegistry(),
		queue:    newTaskQueue(o.queueCapacity),
		metrics:  metrics,
		cancel:   cancel,
	}
	m.worker = &worker{
		driver:      m.driver,
		registry:    m.registry,
		queue:       m.queue,
		metrics:     metrics,
		limiter:     limiter,
		ctx:         ctx,
		inflight:    make(map[Key]struct{}),
		maxRetained: o.maxRetainedBuffer,
		exited:      make(chan struct{}),
	}
	m.shared = newShared(m)

	go m.worker.run()
	core.LogInfo("Resource manager %s started (queue capacity %d).", id, o.queueCapacity)

	return m, nil
}

// Register binds parser to T with a fresh LRU cache of the given capacity.
// It reports false, changing nothing, if T is already registered.
func Register[T any](m *Manager, capacity int, parser Parser[T]) bool {
	return RegisterCache[T](m, NewLRUCache[T](capacity), parser)
}

// RegisterCache binds parser to T with a caller supplied cache.
func RegisterCache[T any](m *Manager, cache Cache[T], parser Parser[T]) bool {
	name := typeName[T]()
	ok := m.registry.addSlot(tokenOf[T](), func() slot {
		return &typedSlot[T]{name: name, cache: cache, parser: parser}
	})
	if ok {
		core.LogDebug("Resource type %s registered.", name)
	}
	return ok
}

// RegisterExternSystem installs the second stage turning B into R. Stages
// are identified by their (B, R, O) signature.
func RegisterExternSystem[B, R, O any](m *Manager, system ExternSystem[B, R, O]) bool {
	token := externTokenOf[B, R, O]()
	ok := m.registry.addExtern(token, func() externSlot {
		return &typedExtern[B, R, O]{name: token.String(), system: system}
	})
	if ok {
		core.LogDebug("Extern system %s registered.", token)
	}
	return ok
}

func (m *Manager) Mount(id string, fs vfs.Filesystem) error {
	if err := m.driver.Mount(id, fs); err != nil {
		return err
	}
	core.LogInfo("Mounted '%s'.", id)
	return nil
}

func (m *Manager) Unmount(id string) bool {
	return m.driver.Unmount(id)
}

// Advance runs every cache's and extern system's unload pass on the calling
// goroutine. It is meant to be called once per frame.
func (m *Manager) Advance() {
	clock := core.NewClock()
	clock.Start()
	m.worker.evict()
	clock.Update()
	m.metrics.ObserveAdvance(clock.Elapsed())
}

// Shared returns a new reference to the client handle. Close it when done.
func (m *Manager) Shared() *Shared {
	return m.shared.Retain()
}

// Shutdown gives up the manager's own reference and waits for the worker to
// exit. The worker only stops once every Shared reference is closed.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.shared.releaseOwner()
	select {
	case <-m.Done():
		m.cancel()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the worker goroutine has returned.
func (m *Manager) Done() <-chan struct{} {
	return m.worker.exited
}

func (m *Manager) WorkerState() WorkerState {
	return WorkerState(m.worker.state.Load())
}

func (m *Manager) ID() uuid.UUID {
	return m.id
}

func (m *Manager) Driver() *vfs.Driver {
	return m.driver
}

// WatchHotReload invalidates every path reported by w until w is closed or
// the manager stops.
func (m *Manager) WatchHotReload(w *vfs.Watcher) {
	go func() {
		for {
			select {
			case p, ok := <-w.Changes():
				if !ok {
					return
				}
				core.LogDebug("Hot reload: '%s' changed.", p)
				m.shared.Invalidate(p)
			case <-m.Done():
				return
			}
		}
	}()
}
