package resources

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Future is the one-shot result of a load. It is resolved exactly once, by
// the worker or by the fast path, and every later read sees the same result.
// The handle it carries holds one reference that belongs to whoever consumes
// the future.
type Future[T any] struct {
	done   chan struct{}
	once   sync.Once
	handle *Handle[T]
	err    error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func resolvedFuture[T any](h *Handle[T], err error) *Future[T] {
	f := newFuture[T]()
	f.resolve(h, err)
	return f
}

// resolve stores the result. It reports false, and gives back the reference
// on h, if the future was already resolved.
func (f *Future[T]) resolve(h *Handle[T], err error) bool {
	resolved := false
	f.once.Do(func() {
		f.handle, f.err = h, err
		close(f.done)
		resolved = true
	})
	if !resolved && h != nil {
		h.Release()
	}
	return resolved
}

// Done is closed once the future is resolved.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future is resolved or ctx ends. Giving up on ctx does
// not cancel the load.
func (f *Future[T]) Wait(ctx context.Context) (*Handle[T], error) {
	select {
	case <-f.done:
		return f.handle, f.err
	default:
	}
	select {
	case <-f.done:
		return f.handle, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Poll returns the result without blocking. ready is false while the load is pending.
func (f *Future[T]) Poll() (h *Handle[T], ready bool, err error) {
	select {
	case <-f.done:
		return f.handle, true, f.err
	default:
		return nil, false, nil
	}
}

// WaitAll waits for every future and returns their handles in order. On the
// first failure it returns that error and releases the handles it collected.
// Futures still pending at that point have their handle released as soon as
// they resolve.
func WaitAll[T any](ctx context.Context, futures ...*Future[T]) ([]*Handle[T], error) {
	handles := make([]*Handle[T], len(futures))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range futures {
		g.Go(func() error {
			h, err := f.Wait(gctx)
			if err != nil {
				return err
			}
			handles[i] = h
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for i, h := range handles {
			if h != nil {
				h.Release()
				continue
			}
			go releaseWhenDone(futures[i])
		}
		return nil, err
	}
	return handles, nil
}

func releaseWhenDone[T any](f *Future[T]) {
	<-f.done
	if f.handle != nil {
		f.handle.Release()
	}
}
