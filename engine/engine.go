package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spaghettifunk/anima-resources/engine/config"
	"github.com/spaghettifunk/anima-resources/engine/containers"
	"github.com/spaghettifunk/anima-resources/engine/core"
	"github.com/spaghettifunk/anima-resources/engine/resources"
	"github.com/spaghettifunk/anima-resources/engine/resources/loaders"
	"github.com/spaghettifunk/anima-resources/engine/vfs"
)

// frameWindow is how many ticks AverageAdvance looks back.
const frameWindow = 120

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine completed boot: manager started, filesystems mounted
	EngineStageInitialized
	// Engine is currently running its tick loop
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
	// Engine has released everything
	EngineStageStopped
)

func (s Stage) String() string {
	switch s {
	case EngineStageUninitialized:
		return "uninitialized"
	case EngineStageInitialized:
		return "initialized"
	case EngineStageRunning:
		return "running"
	case EngineStageShuttingDown:
		return "shutting-down"
	case EngineStageStopped:
		return "stopped"
	}
	return fmt.Sprintf("Stage(%d)", uint8(s))
}

// Engine boots a resource manager from a Config and drives it once per tick.
type Engine struct {
	cfg      *config.Config
	stage    atomic.Uint32
	manager  *resources.Manager
	shared   *resources.Shared
	registry *prometheus.Registry
	watchers []*vfs.Watcher
	watch    func(mount, root string) (*vfs.Watcher, error)
	server   *http.Server
	mips     *loaders.MipmapSystem
	clock    *core.Clock

	// Advance durations of the last frameWindow ticks.
	timingMu   sync.Mutex
	frameTimes *containers.RingQueue[time.Duration]

	shutdownOnce sync.Once
	shutdownErr  error
}

// New applies cfg and mounts every configured filesystem. Nothing is served
// or ticked until Run.
func New(ctx context.Context, cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := core.SetLogLevel(cfg.Logging.Level); err != nil {
		return nil, err
	}

	opts := []resources.Option{
		resources.WithQueueCapacity(cfg.Resources.QueueCapacity),
		resources.WithMaxRetainedBuffer(cfg.Resources.MaxRetainedBuffer),
		resources.WithIOLimit(cfg.Resources.IOLimitBytesPerSec),
	}

	e := &Engine{
		cfg:        cfg,
		watch:      vfs.NewWatcher,
		clock:      core.NewClock(),
		frameTimes: containers.NewRingQueue[time.Duration](frameWindow),
	}
	if cfg.Metrics.Enabled {
		e.registry = prometheus.NewRegistry()
		e.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		opts = append(opts, resources.WithMetricsRegisterer(e.registry, cfg.Metrics.Namespace))
	}

	m, err := resources.NewManager(opts...)
	if err != nil {
		return nil, err
	}
	e.manager = m
	e.shared = m.Shared()

	for _, mc := range cfg.Mounts {
		if err := e.mount(ctx, mc); err != nil {
			_ = e.Shutdown(ctx)
			return nil, err
		}
	}

	e.stage.Store(uint32(EngineStageInitialized))
	return e, nil
}

func (e *Engine) mount(ctx context.Context, mc config.MountConfig) error {
	fs, err := config.BuildFilesystem(ctx, mc)
	if err != nil {
		return err
	}
	if err := e.manager.Mount(mc.ID, fs); err != nil {
		return err
	}
	if !mc.Watch {
		return nil
	}

	w, err := e.watch(mc.ID, mc.Root)
	if err != nil {
		e.manager.Unmount(mc.ID)
		return fmt.Errorf("watch mount %q: %w", mc.ID, err)
	}
	e.watchers = append(e.watchers, w)
	e.manager.WatchHotReload(w)
	core.LogInfo("Hot reload enabled for '%s' (%s).", mc.ID, mc.Root)
	return nil
}

// RegisterDefaults registers the default parsers and the mipmap system.
func (e *Engine) RegisterDefaults() *loaders.MipmapSystem {
	mips := loaders.RegisterDefaults(e.manager, e.cfg.Resources.DefaultCapacity)
	if mips != nil {
		e.mips = mips
	}
	return e.mips
}

func (e *Engine) Manager() *resources.Manager {
	return e.manager
}

func (e *Engine) Stage() Stage {
	return Stage(e.stage.Load())
}

// Registry returns the metrics registry, or nil when metrics are disabled.
func (e *Engine) Registry() *prometheus.Registry {
	return e.registry
}

// Run serves metrics if configured and calls Manager.Advance at the tick rate
// until ctx is done or the manager stops. g may be nil.
func (e *Engine) Run(ctx context.Context, g *Game) error {
	if !e.stage.CompareAndSwap(uint32(EngineStageInitialized), uint32(EngineStageRunning)) {
		return fmt.Errorf("engine cannot run in stage %s", e.Stage())
	}

	if err := e.serveMetrics(); err != nil {
		return err
	}

	if g != nil && g.FnShutdown != nil {
		defer func() {
			if err := g.FnShutdown(); err != nil {
				core.LogError("Game shutdown failed: %v", err)
			}
		}()
	}
	if g != nil && g.FnInitialize != nil {
		if err := g.FnInitialize(e, e.shared); err != nil {
			return err
		}
	}

	ticker := time.NewTicker(time.Duration(float64(time.Second) / e.cfg.Engine.TickRate))
	defer ticker.Stop()

	e.clock.Start()
	lastTime := e.clock.Elapsed()
	frames := uint64(0)

	for {
		select {
		case <-ctx.Done():
			core.LogInfo("Engine stopping after %d frame(s).", frames)
			return nil
		case <-e.manager.Done():
			return nil
		case <-ticker.C:
		}

		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := currentTime - lastTime

		advanceStart := time.Now()
		e.manager.Advance()
		e.recordAdvance(time.Since(advanceStart))

		if g != nil && g.FnUpdate != nil {
			if err := g.FnUpdate(delta); err != nil {
				core.LogError("Game update failed, shutting down: %v", err)
				return err
			}
		}

		frames++
		lastTime = currentTime
	}
}

func (e *Engine) recordAdvance(d time.Duration) {
	e.timingMu.Lock()
	e.frameTimes.Push(d)
	e.timingMu.Unlock()
}

// AverageAdvance is the mean Advance duration over the recent ticks.
func (e *Engine) AverageAdvance() time.Duration {
	e.timingMu.Lock()
	defer e.timingMu.Unlock()

	if e.frameTimes.IsEmpty() {
		return 0
	}
	var total time.Duration
	e.frameTimes.Each(func(d time.Duration) { total += d })
	return total / time.Duration(e.frameTimes.Len())
}

func (e *Engine) serveMetrics() error {
	if e.registry == nil || e.cfg.Metrics.Listen == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{Registry: e.registry}))
	e.server = &http.Server{
		Addr:              e.cfg.Metrics.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		core.LogInfo("Metrics available at http://%s/metrics", e.cfg.Metrics.Listen)
		if err := e.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			core.LogError("Metrics server error: %v", err)
		}
	}()
	return nil
}

// Shutdown stops the watchers, the metrics server and the manager. Later
// calls return the first result.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.shutdownOnce.Do(func() {
		e.stage.Store(uint32(EngineStageShuttingDown))

		var errs []error
		for _, w := range e.watchers {
			if err := w.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if e.server != nil {
			if err := e.server.Shutdown(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if e.shared != nil {
			e.shared.Close()
		}
		if e.manager != nil {
			if err := e.manager.Shutdown(ctx); err != nil {
				errs = append(errs, err)
			}
		}

		e.stage.Store(uint32(EngineStageStopped))
		e.shutdownErr = errors.Join(errs...)
	})
	return e.shutdownErr
}
