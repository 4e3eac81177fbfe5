// Package testbed is a small game that exercises the resource manager from
// the engine loop: it preloads a set of assets and reports on the worker.
package testbed

import (
	"context"
	"time"

	"github.com/spaghettifunk/anima-resources/engine"
	"github.com/spaghettifunk/anima-resources/engine/core"
	"github.com/spaghettifunk/anima-resources/engine/resources"
)

type TestGame struct {
	*engine.Game
}

type gameState struct {
	preload  []string
	interval time.Duration

	engine  *engine.Engine
	shared  *resources.Shared
	elapsed time.Duration
	frames  uint64
}

// NewTestGame preloads paths on initialize and logs the worker state every
// interval. A zero interval disables the report.
func NewTestGame(paths []string, interval time.Duration) *TestGame {
	tg := &TestGame{
		Game: &engine.Game{
			State: &gameState{preload: paths, interval: interval},
		},
	}
	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnShutdown = tg.Shutdown
	return tg
}

func (g *TestGame) state() *gameState {
	return g.State.(*gameState)
}

func (g *TestGame) Initialize(e *engine.Engine, s *resources.Shared) error {
	st := g.state()
	st.engine = e
	st.shared = s.Retain()

	if len(st.preload) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	return e.Preload(ctx, st.preload...)
}

func (g *TestGame) Update(delta time.Duration) error {
	st := g.state()
	st.frames++
	st.elapsed += delta
	if st.interval > 0 && st.elapsed >= st.interval {
		m := st.engine.Manager()
		core.LogInfo("Frame %d: worker %s, advance %s, mounts %v.",
			st.frames, m.WorkerState(), st.engine.AverageAdvance(), m.Driver().Mounted())
		st.elapsed = 0
	}
	return nil
}

func (g *TestGame) Shutdown() error {
	st := g.state()
	if st.shared != nil {
		st.shared.Close()
		st.shared = nil
	}
	core.LogInfo("Test game ran for %d frame(s).", st.frames)
	return nil
}
