// Package resources is the asynchronous resource manager.
//
// A Manager owns the registries and exactly one worker goroutine. Every
// filesystem read, every parse and every cache insert happens on that worker,
// one task at a time. Client code talks to the worker through a Shared handle:
//
//	m, _ := resources.NewManager()
//	resources.Register[Text](m, 64, textParser)
//	_ = m.Mount("assets", vfs.NewMemory())
//
//	s := m.Shared()
//	defer s.Close()
//	h, err := resources.Load[Text](s, "/a.txt").Wait(ctx)
//
// A cache hit resolves the future immediately on the calling goroutine; a miss
// enqueues a task and returns at once. The queue is bounded, so a producer
// blocks only when the worker is saturated. Tasks from one goroutine run in
// the order they were submitted.
//
// Parsers run on the worker and receive a *Scope. Dependencies must be
// loaded through LoadIn with that scope: waiting on a Future from inside a
// parser would wait on the worker itself.
package resources
