package core

import (
	"errors"
	"os"
)

var (
	// ErrNotRegistered is returned when a resource type or extern stage has no registration.
	ErrNotRegistered = errors.New("resource type not registered")
	// ErrCircularReference is returned when a path is requested again while it is still being parsed.
	ErrCircularReference = errors.New("circular reference found")
	// ErrNotFound is returned when no mounted filesystem holds the path. It maps to os.ErrNotExist.
	ErrNotFound = os.ErrNotExist
	// ErrIO wraps filesystem read failures other than a missing file.
	ErrIO = errors.New("resource io failure")
	// ErrParse wraps failures reported by parsers and extern systems.
	ErrParse = errors.New("resource parse failure")
	// ErrSystemUnavailable is returned once the worker stopped or the queue is closed.
	ErrSystemUnavailable = errors.New("resource system unavailable")
)
