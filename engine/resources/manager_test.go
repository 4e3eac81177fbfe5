package resources

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-resources/engine/core"
)

func TestNewManager_InvalidQueueCapacity(t *testing.T) {
	_, err := NewManager(WithQueueCapacity(0))
	require.ErrorIs(t, err, ErrInvalidQueueCapacity)
}

func TestLoad_CacheCoherence(t *testing.T) {
	m := newTestManager(t)
	fs := newCountingFS(newMemory(t, map[string]string{"/a.txt": "hello"}))
	require.NoError(t, m.Mount("assets", fs))
	require.True(t, Register[upper](m, 8, upperParser))

	s := m.Shared()
	defer s.Close()

	h1, err := wait(t, Load[upper](s, "/a.txt"))
	require.NoError(t, err)
	assert.Equal(t, upper("HELLO"), h1.Get())

	f := Load[upper](s, `\a.txt`)
	h2, ready, err := f.Poll()
	require.True(t, ready, "cache hit must resolve before Load returns")
	require.NoError(t, err)

	assert.Same(t, h1, h2)
	assert.Equal(t, int64(2), h1.Refs())
	assert.Equal(t, 1, fs.Reads("/a.txt"))

	h1.Release()
	h2.Release()
	assert.True(t, h1.Unused())
}

func TestLoad_UnloadRightAfterInsertKeepsEntry(t *testing.T) {
	m := newTestManager(t)
	fs := newCountingFS(newMemory(t, map[string]string{"/a.txt": "hello"}))
	require.NoError(t, m.Mount("assets", fs))

	cache := &hookCache[upper]{LRUCache: NewLRUCache[upper](0)}
	// An unload pass landing between Insert and the reply, as Advance can.
	cache.afterInsert = func() { cache.LRUCache.UnloadUnused() }
	require.True(t, RegisterCache[upper](m, cache, upperParser))

	s := m.Shared()
	defer s.Close()

	h1, err := wait(t, Load[upper](s, "/a.txt"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), h1.Refs())
	assert.Equal(t, 1, cache.Len())

	h2, err := wait(t, Load[upper](s, "/a.txt"))
	require.NoError(t, err)
	assert.Same(t, h1, h2)
	assert.Equal(t, 1, fs.Reads("/a.txt"))

	h1.Release()
	h2.Release()
	m.Advance()
	assert.Zero(t, cache.Len())
}

func TestShared_Exists(t *testing.T) {
	m := newTestManager(t)
	fs := newCountingFS(newMemory(t, map[string]string{"/a.txt": "hello"}))
	require.NoError(t, m.Mount("assets", fs))

	s := m.Shared()
	defer s.Close()

	assert.True(t, s.Exists("/a.txt"))
	assert.True(t, s.Exists("assets:/a.txt"))
	assert.False(t, s.Exists("other:/a.txt"))
	assert.False(t, s.Exists("/missing.txt"))
	assert.Zero(t, fs.Reads("/a.txt"), "Exists must not read")
}

func TestLoad_IdempotentRegistration(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Mount("assets", newMemory(t, map[string]string{"/a.txt": "hello"})))

	require.True(t, Register[upper](m, 8, upperParser))
	require.False(t, Register[upper](m, 8, ParserFunc[upper](func(*Scope, []byte) (upper, error) {
		return "replaced", nil
	})))
	require.False(t, RegisterCache[upper](m, NewLRUCache[upper](1), upperParser))

	s := m.Shared()
	defer s.Close()

	h, err := wait(t, Load[upper](s, "/a.txt"))
	require.NoError(t, err)
	defer h.Release()
	assert.Equal(t, upper("HELLO"), h.Get())
}

func TestLoad_Failures(t *testing.T) {
	ioErr := errors.New("disk on fire")

	m := newTestManager(t)
	require.NoError(t, m.Mount("assets", newMemory(t, map[string]string{
		"/bad.txt":   "x",
		"/panic.txt": "x",
		"/ok.txt":    "ok",
	})))
	require.NoError(t, m.Mount("broken", errFS{err: ioErr}))

	type strict string
	Register[strict](m, 8, ParserFunc[strict](func(sc *Scope, data []byte) (strict, error) {
		switch sc.Path() {
		case "/bad.txt":
			return "", fmt.Errorf("unexpected %q", data)
		case "/panic.txt":
			panic("boom")
		}
		return strict(data), nil
	}))

	s := m.Shared()
	defer s.Close()

	_, err := wait(t, Load[int](s, "/ok.txt"))
	assert.ErrorIs(t, err, core.ErrNotRegistered)

	_, err = wait(t, Load[strict](s, "assets:/missing.txt"))
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = wait(t, Load[strict](s, "nowhere:/ok.txt"))
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = wait(t, Load[strict](s, "broken:/ok.txt"))
	assert.ErrorIs(t, err, core.ErrIO)
	assert.ErrorIs(t, err, ioErr)

	_, err = wait(t, Load[strict](s, "/bad.txt"))
	assert.ErrorIs(t, err, core.ErrParse)

	_, err = wait(t, Load[strict](s, "/panic.txt"))
	assert.ErrorIs(t, err, core.ErrParse)
	assert.Contains(t, err.Error(), "boom")

	// The worker survives all of the above.
	h, err := wait(t, Load[strict](s, "/ok.txt"))
	require.NoError(t, err)
	defer h.Release()
	assert.Equal(t, strict("ok"), h.Get())
}

func TestLoad_FailuresAreNotCached(t *testing.T) {
	m := newTestManager(t)
	fs := newCountingFS(newMemory(t, map[string]string{"/a.txt": "x"}))
	require.NoError(t, m.Mount("assets", fs))

	var fail atomic.Bool
	fail.Store(true)
	Register[upper](m, 8, ParserFunc[upper](func(sc *Scope, data []byte) (upper, error) {
		if fail.Load() {
			return "", errors.New("not yet")
		}
		return upperParser(sc, data)
	}))

	s := m.Shared()
	defer s.Close()

	_, err := wait(t, Load[upper](s, "/a.txt"))
	require.ErrorIs(t, err, core.ErrParse)

	fail.Store(false)
	h, err := wait(t, Load[upper](s, "/a.txt"))
	require.NoError(t, err)
	defer h.Release()

	assert.Equal(t, upper("X"), h.Get())
	assert.Equal(t, 2, fs.Reads("/a.txt"))
}

type node struct {
	name string
	dep  *Handle[node]
}

// nodeParser loads the path named in the file, if any, as a dependency.
var nodeParser = ParserFunc[node](func(sc *Scope, data []byte) (node, error) {
	n := node{name: sc.Path()}
	if dep := strings.TrimSpace(string(data)); dep != "" {
		h, err := LoadIn[node](sc, sc.Resolve(dep))
		if err != nil {
			return node{}, err
		}
		n.dep = h
	}
	return n, nil
})

func TestLoad_CircularReference(t *testing.T) {
	m := newTestManager(t)
	fs := newCountingFS(newMemory(t, map[string]string{
		"/self.txt":  "self.txt",
		"/a.txt":     "b.txt",
		"/b.txt":     "a.txt",
		"/leaf.txt":  "",
		"/chain.txt": "leaf.txt",
	}))
	require.NoError(t, m.Mount("assets", fs))
	Register[node](m, 8, nodeParser)

	s := m.Shared()
	defer s.Close()

	_, err := wait(t, Load[node](s, "/self.txt"))
	require.ErrorIs(t, err, core.ErrCircularReference)
	assert.Equal(t, 1, fs.Reads("/self.txt"))

	_, err = wait(t, Load[node](s, "/a.txt"))
	require.ErrorIs(t, err, core.ErrCircularReference)
	assert.Equal(t, 1, fs.Reads("/a.txt"))
	assert.Equal(t, 1, fs.Reads("/b.txt"))

	h, err := wait(t, Load[node](s, "/chain.txt"))
	require.NoError(t, err)
	defer h.Release()
	require.NotNil(t, h.Get().dep)
	assert.Equal(t, "/leaf.txt", h.Get().dep.Get().name)

	assert.Empty(t, m.worker.inflight)

	// Nothing that failed was cached.
	ts, ok := lookupSlot[node](m.registry)
	require.True(t, ok)
	assert.Equal(t, 2, ts.cache.Len())
}

func TestLoad_FIFO(t *testing.T) {
	m := newTestManager(t)
	gate := newGateFS(newMemory(t, map[string]string{"/1": "a", "/2": "b", "/3": "c"}))
	require.NoError(t, m.Mount("assets", gate))
	Register[upper](m, 8, upperParser)

	s := m.Shared()
	defer s.Close()

	f1 := Load[upper](s, "/1")
	assert.Equal(t, "/1", <-gate.entered)
	assert.Equal(t, WorkerExecutingLoad, m.WorkerState())

	f2 := Load[upper](s, "/2")
	f3 := Load[upper](s, "/3")
	_, ready, _ := f3.Poll()
	assert.False(t, ready)

	gate.release()
	handles, err := WaitAll(context.Background(), f1, f2, f3)
	require.NoError(t, err)
	for _, h := range handles {
		h.Release()
	}

	assert.Equal(t, []string{"/1", "/2", "/3"}, gate.Order())
	assert.Eventually(t, func() bool { return m.WorkerState() == WorkerRunning }, time.Second, time.Millisecond)
}

func TestLoad_Backpressure(t *testing.T) {
	m := newTestManager(t, WithQueueCapacity(1))
	gate := newGateFS(newMemory(t, map[string]string{"/1": "a", "/2": "b", "/3": "c"}))
	require.NoError(t, m.Mount("assets", gate))
	Register[upper](m, 8, upperParser)

	s := m.Shared()
	defer s.Close()

	f1 := Load[upper](s, "/1")
	<-gate.entered
	f2 := Load[upper](s, "/2")

	pushed := make(chan *Future[upper])
	go func() { pushed <- Load[upper](s, "/3") }()

	assert.Never(t, func() bool { return len(m.queue.ch) == 0 }, 50*time.Millisecond, 5*time.Millisecond)
	select {
	case <-pushed:
		t.Fatal("third load returned while the queue was full")
	default:
	}

	gate.release()
	f3 := <-pushed
	handles, err := WaitAll(context.Background(), f1, f2, f3)
	require.NoError(t, err)
	for _, h := range handles {
		h.Release()
	}
}

type length int

// lengthSystem turns an upper into its length.
type lengthSystem struct {
	calls    atomic.Int32
	unloads  atomic.Int32
	invalids atomic.Int32
}

func (l *lengthSystem) Load(_ string, base upper, scale int) (*Handle[length], error) {
	l.calls.Add(1)
	if scale < 0 {
		return nil, errors.New("negative scale")
	}
	return NewHandle(length(len(base) * scale)).Retain(), nil
}

func (l *lengthSystem) UnloadUnused()     { l.unloads.Add(1) }
func (l *lengthSystem) Invalidate(string) { l.invalids.Add(1) }

func TestLoadExtern(t *testing.T) {
	m := newTestManager(t)
	fs := newCountingFS(newMemory(t, map[string]string{"/a.txt": "hello"}))
	require.NoError(t, m.Mount("assets", fs))
	Register[upper](m, 8, upperParser)

	s := m.Shared()
	defer s.Close()

	_, err := wait(t, LoadExtern[upper, length, int](s, "/a.txt", 2))
	require.ErrorIs(t, err, core.ErrNotRegistered)
	assert.Zero(t, fs.Reads("/a.txt"), "missing system is reported before the base stage")

	sys := &lengthSystem{}
	require.True(t, RegisterExternSystem[upper, length, int](m, sys))
	require.False(t, RegisterExternSystem[upper, length, int](m, &lengthSystem{}))

	_, err = wait(t, LoadExtern[upper, length, int](s, "/missing.txt", 2))
	require.ErrorIs(t, err, core.ErrNotFound)
	assert.NotErrorIs(t, err, core.ErrParse)
	assert.Zero(t, sys.calls.Load())

	h, err := wait(t, LoadExtern[upper, length, int](s, "/a.txt", 2))
	require.NoError(t, err)
	assert.Equal(t, length(10), h.Get())
	h.Release()

	_, err = wait(t, LoadExtern[upper, length, int](s, "/a.txt", -1))
	require.ErrorIs(t, err, core.ErrParse)
	assert.Equal(t, int32(2), sys.calls.Load())

	// The base stage went through the upper cache and its reference was returned.
	ts, _ := lookupSlot[upper](m.registry)
	base, ok := ts.cache.Get(KeyOf("/a.txt"))
	require.True(t, ok)
	assert.Equal(t, int64(1), base.Refs())
	base.Release()
	assert.Equal(t, 1, fs.Reads("/a.txt"))

	m.Advance()
	assert.Equal(t, int32(1), sys.unloads.Load())
}

func TestAdvance_EvictsUnused(t *testing.T) {
	m := newTestManager(t)
	fs := newCountingFS(newMemory(t, map[string]string{"/a.txt": "a", "/b.txt": "b"}))
	require.NoError(t, m.Mount("assets", fs))
	Register[upper](m, 0, upperParser)

	s := m.Shared()
	defer s.Close()

	ha, err := wait(t, Load[upper](s, "/a.txt"))
	require.NoError(t, err)
	hb, err := wait(t, Load[upper](s, "/b.txt"))
	require.NoError(t, err)
	hb.Release()

	m.Advance()

	ts, _ := lookupSlot[upper](m.registry)
	assert.Equal(t, 1, ts.cache.Len(), "the retained entry survives")

	ha.Release()
	s.UnloadUnused()
	// FIFO: once this load is served the evict task has run.
	hb, err = wait(t, Load[upper](s, "/b.txt"))
	require.NoError(t, err)
	defer hb.Release()

	assert.Equal(t, 1, ts.cache.Len())
	assert.Equal(t, 2, fs.Reads("/b.txt"))
}

func TestUnloadUnused_RunsAfterEarlierLoads(t *testing.T) {
	m := newTestManager(t)
	gate := newGateFS(newMemory(t, map[string]string{"/slow": "a", "/fast": "b"}))
	require.NoError(t, m.Mount("assets", gate))

	cache := &hookCache[upper]{LRUCache: NewLRUCache[upper](8)}
	seen := make(chan int, 1)
	cache.beforeUnload = func() { seen <- cache.Len() }
	require.True(t, RegisterCache[upper](m, cache, upperParser))

	s := m.Shared()
	defer s.Close()

	f1 := Load[upper](s, "/slow")
	require.Equal(t, "/slow", <-gate.entered)
	f2 := Load[upper](s, "/fast")
	s.UnloadUnused()

	gate.release()
	handles, err := WaitAll(context.Background(), f1, f2)
	require.NoError(t, err)
	for _, h := range handles {
		h.Release()
	}

	select {
	case n := <-seen:
		assert.Equal(t, 2, n, "the evict task sees both loads cached")
	case <-time.After(5 * time.Second):
		t.Fatal("evict task never ran")
	}
	assert.Equal(t, []string{"/slow", "/fast"}, gate.Order())
}

func TestInvalidate(t *testing.T) {
	m := newTestManager(t)
	mem := newMemory(t, map[string]string{"/a.txt": "old"})
	fs := newCountingFS(mem)
	require.NoError(t, m.Mount("assets", fs))
	Register[upper](m, 8, upperParser)
	sys := &lengthSystem{}
	RegisterExternSystem[upper, length, int](m, sys)

	s := m.Shared()
	defer s.Close()

	h1, err := wait(t, Load[upper](s, "/a.txt"))
	require.NoError(t, err)

	require.NoError(t, mem.WriteFile("/a.txt", []byte("new")))
	s.Invalidate("assets:/a.txt")
	ts, _ := lookupSlot[upper](m.registry)
	require.Eventually(t, func() bool { return ts.cache.Len() == 0 }, time.Second, time.Millisecond)

	h2, err := wait(t, Load[upper](s, "/a.txt"))
	require.NoError(t, err)

	assert.NotSame(t, h1, h2)
	assert.Equal(t, upper("OLD"), h1.Get(), "holders keep the stale value")
	assert.Equal(t, upper("NEW"), h2.Get())
	assert.Equal(t, 2, fs.Reads("/a.txt"))
	assert.Equal(t, int32(2), sys.invalids.Load())

	h1.Release()
	h2.Release()
}

func TestShutdown(t *testing.T) {
	m, err := NewManager()
	require.NoError(t, err)
	gate := newGateFS(newMemory(t, map[string]string{"/1": "a", "/2": "b"}))
	require.NoError(t, m.Mount("assets", gate))
	Register[upper](m, 8, upperParser)

	s := m.Shared()
	f1 := Load[upper](s, "/1")
	<-gate.entered
	f2 := Load[upper](s, "/2")

	s.Close()
	// The manager still holds its own reference.
	_, ready, _ := f1.Poll()
	assert.False(t, ready)

	shut := make(chan error, 1)
	go func() { shut <- m.Shutdown(context.Background()) }()

	// A task that lands behind the stop request is abandoned.
	var abandoned atomic.Value
	require.Eventually(t, func() bool { return s.closing.Load() }, time.Second, time.Millisecond)
	m.queue.push(&task{
		kind: taskLoad,
		path: "/late",
		run:  func(*worker) { t.Error("late task ran") },
		fail: func(err error) { abandoned.Store(err) },
	})

	gate.release()
	require.NoError(t, <-shut)

	for _, f := range []*Future[upper]{f1, f2} {
		h, err := wait(t, f)
		require.NoError(t, err, "loads queued before close still complete")
		h.Release()
	}

	err, _ = abandoned.Load().(error)
	assert.ErrorIs(t, err, core.ErrSystemUnavailable)

	_, err = wait(t, Load[upper](s, "/1"))
	assert.ErrorIs(t, err, core.ErrSystemUnavailable)
	_, err = wait(t, LoadExtern[upper, length, int](s, "/1", 1))
	assert.ErrorIs(t, err, core.ErrSystemUnavailable)

	// Pushes after the worker exited do not block or run.
	s.UnloadUnused()
	s.Invalidate("/1")

	assert.Equal(t, WorkerStopped, m.WorkerState())
	select {
	case <-m.Done():
	default:
		t.Fatal("worker still running")
	}

	// Extra closes are ignored.
	s.Close()
	require.NoError(t, m.Shutdown(context.Background()))
}

func TestShutdown_WaitsForOutstandingReferences(t *testing.T) {
	m, err := NewManager()
	require.NoError(t, err)

	s := m.Shared()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, m.Shutdown(ctx), context.DeadlineExceeded)
	assert.NotEqual(t, WorkerStopped, m.WorkerState())

	s.Close()
	<-m.Done()
	assert.Equal(t, WorkerStopped, m.WorkerState())
}

func TestWorker_BufferRetention(t *testing.T) {
	big := strings.Repeat("x", 64)
	for _, tc := range []struct {
		name      string
		retain    int
		wantNil   bool
		wantEmpty bool
	}{
		{name: "kept", retain: 1 << 10, wantEmpty: true},
		{name: "dropped", retain: 16, wantNil: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m, err := NewManager(WithMaxRetainedBuffer(tc.retain))
			require.NoError(t, err)
			require.NoError(t, m.Mount("assets", newMemory(t, map[string]string{"/big": big})))
			Register[upper](m, 8, upperParser)

			h, err := wait(t, Load[upper](m.shared, "/big"))
			require.NoError(t, err)
			h.Release()
			require.NoError(t, m.Shutdown(context.Background()))

			if tc.wantNil {
				assert.Nil(t, m.worker.buf)
			}
			if tc.wantEmpty {
				assert.NotNil(t, m.worker.buf)
				assert.Empty(t, m.worker.buf)
			}
		})
	}
}

func TestWorker_IOLimit(t *testing.T) {
	m := newTestManager(t, WithIOLimit(1<<20))
	require.NoError(t, m.Mount("assets", newMemory(t, map[string]string{"/a": strings.Repeat("a", 2<<20)})))
	Register[upper](m, 8, upperParser)

	start := time.Now()
	h, err := wait(t, Load[upper](m.shared, "/a"))
	require.NoError(t, err)
	h.Release()
	// The first MiB is the burst, the second one has to wait.
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
}

func TestManager_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newTestManager(t, WithMetricsRegisterer(reg, "test"))
	require.NoError(t, m.Mount("assets", newMemory(t, map[string]string{"/a.txt": "hello"})))
	Register[upper](m, 8, upperParser)

	h, err := wait(t, Load[upper](m.shared, "/a.txt"))
	require.NoError(t, err)
	h2, err := wait(t, Load[upper](m.shared, "/a.txt"))
	require.NoError(t, err)
	h.Release()
	h2.Release()
	m.Advance()

	n, err := testutil.GatherAndCount(reg, "test_resource_loads_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "one ok and one hit series")

	n, err = testutil.GatherAndCount(reg, "test_resource_bytes_read_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestScope_Resolve(t *testing.T) {
	for _, tc := range []struct{ from, rel, want string }{
		{"assets:/materials/wood.amt", "../textures/wood.png", "assets:/textures/wood.png"},
		{"assets:/materials/wood.amt", "wood.png", "assets:/materials/wood.png"},
		{"/materials/wood.amt", "wood.png", "/materials/wood.png"},
		{"assets:/materials/wood.amt", "/shared/a.png", "/shared/a.png"},
		{"assets:/materials/wood.amt", "core:/a.png", "core:/a.png"},
		{"/a.amt", `sub\b.png`, "/sub/b.png"},
	} {
		sc := &Scope{path: tc.from}
		assert.Equal(t, tc.want, sc.Resolve(tc.rel), "%s + %s", tc.from, tc.rel)
	}
}

func TestWorkerState_String(t *testing.T) {
	assert.Equal(t, "executing-extern-load", WorkerExecutingExternLoad.String())
	assert.Equal(t, "stopped", WorkerStopped.String())
	assert.Equal(t, "WorkerState(42)", WorkerState(42).String())
}
