package resources

// ExternSystem is a second loading stage. It turns an already parsed base
// resource B into a dependent resource R, for example a decoded image into a
// GPU texture. The system owns the lifecycle of what it produces and is only
// asked to evict during unload passes.
type ExternSystem[B, R, O any] interface {
	// Load builds the resource for path from base. The returned handle must
	// carry one reference for the caller.
	Load(path string, base B, options O) (*Handle[R], error)
	// UnloadUnused releases whatever the system no longer needs.
	UnloadUnused()
}

// Invalidator is implemented by extern systems that drop derived state when
// the source file of a path changes.
type Invalidator interface {
	Invalidate(path string)
}

// Parser decodes raw bytes into a resource. data is only valid for the
// duration of the call: the buffer behind it is reused by the worker.
type Parser[T any] interface {
	Parse(scope *Scope, data []byte) (T, error)
}

// ParserFunc adapts a function to the Parser interface.
type ParserFunc[T any] func(scope *Scope, data []byte) (T, error)

func (f ParserFunc[T]) Parse(scope *Scope, data []byte) (T, error) {
	return f(scope, data)
}
