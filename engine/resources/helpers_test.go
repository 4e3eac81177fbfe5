package resources

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-resources/engine/vfs"
)

type upper string

var upperParser = ParserFunc[upper](func(_ *Scope, data []byte) (upper, error) {
	return upper(strings.ToUpper(string(data))), nil
})

// countingFS records how often each path was read.
type countingFS struct {
	vfs.Filesystem

	mu    sync.Mutex
	reads map[string]int
}

func newCountingFS(inner vfs.Filesystem) *countingFS {
	return &countingFS{Filesystem: inner, reads: make(map[string]int)}
}

func (c *countingFS) LoadInto(p string, dst []byte) ([]byte, error) {
	c.mu.Lock()
	c.reads[p]++
	c.mu.Unlock()
	return c.Filesystem.LoadInto(p, dst)
}

func (c *countingFS) Reads(p string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads[p]
}

// gateFS blocks every read until release is called, and records read order.
type gateFS struct {
	vfs.Filesystem

	entered chan string
	gate    chan struct{}
	once    sync.Once

	mu    sync.Mutex
	order []string
}

func newGateFS(inner vfs.Filesystem) *gateFS {
	return &gateFS{
		Filesystem: inner,
		entered:    make(chan string, 64),
		gate:       make(chan struct{}),
	}
}

func (g *gateFS) LoadInto(p string, dst []byte) ([]byte, error) {
	g.entered <- p
	<-g.gate
	g.mu.Lock()
	g.order = append(g.order, p)
	g.mu.Unlock()
	return g.Filesystem.LoadInto(p, dst)
}

func (g *gateFS) release() {
	g.once.Do(func() { close(g.gate) })
}

func (g *gateFS) Order() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.order...)
}

// errFS fails every read with err.
type errFS struct {
	err error
}

func (e errFS) Exists(string) bool { return true }

func (e errFS) LoadInto(_ string, dst []byte) ([]byte, error) {
	return dst, e.err
}

func newMemory(t *testing.T, files map[string]string) *vfs.Memory {
	t.Helper()
	m := vfs.NewMemory()
	for p, data := range files {
		require.NoError(t, m.WriteFile(p, []byte(data)))
	}
	return m
}

// newTestManager starts a manager that is shut down when the test ends.
func newTestManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	m, err := NewManager(opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m
}

func wait[T any](t *testing.T, f *Future[T]) (*Handle[T], error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return f.Wait(ctx)
}

// hookCache runs callbacks around an LRUCache's Insert and UnloadUnused.
type hookCache[T any] struct {
	*LRUCache[T]
	afterInsert  func()
	beforeUnload func()
}

func (c *hookCache[T]) Insert(key Key, h *Handle[T]) {
	c.LRUCache.Insert(key, h)
	if c.afterInsert != nil {
		c.afterInsert()
	}
}

func (c *hookCache[T]) UnloadUnused() int {
	if c.beforeUnload != nil {
		c.beforeUnload()
	}
	return c.LRUCache.UnloadUnused()
}
