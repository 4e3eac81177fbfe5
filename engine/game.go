package engine

import (
	"time"

	"github.com/spaghettifunk/anima-resources/engine/resources"
)

// Game receives the engine lifecycle callbacks. Every callback is optional.
type Game struct {
	State        interface{}
	FnInitialize Initialize
	FnUpdate     Update
	FnShutdown   Shutdown
}

// Initialize runs once before the first tick with a Shared reference owned
// by the engine.
type Initialize func(e *Engine, s *resources.Shared) error

// Update runs every tick after Advance.
type Update func(deltaTime time.Duration) error

// Shutdown runs once when Run returns, even if Initialize failed.
type Shutdown func() error
