package vfs

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/spaghettifunk/anima-resources/engine/core"
)

var (
	ErrAlreadyMounted = errors.New("filesystem already mounted")
	ErrInvalidMountID = errors.New("invalid mount id")
	ErrNotMounted     = fmt.Errorf("filesystem not mounted: %w", core.ErrNotFound)
)

// Driver is the mount table. It is itself a Filesystem that routes every path
// to one of the mounted filesystems.
type Driver struct {
	mu     sync.RWMutex
	mounts map[string]Filesystem
	order  []string
}

func NewDriver() *Driver {
	return &Driver{
		mounts: make(map[string]Filesystem),
	}
}

// Mount registers fs under id. Ids must be non-empty and must not contain ':' or '/'.
func (d *Driver) Mount(id string, fs Filesystem) error {
	if id == "" || strings.ContainsAny(id, ":/\\") {
		return fmt.Errorf("%w: %q", ErrInvalidMountID, id)
	}
	if fs == nil {
		return fmt.Errorf("%w: nil filesystem for %q", ErrInvalidMountID, id)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.mounts[id]; ok {
		return fmt.Errorf("%w: %q", ErrAlreadyMounted, id)
	}
	d.mounts[id] = fs
	d.order = append(d.order, id)
	core.LogDebug("Filesystem '%s' mounted.", id)
	return nil
}

// Unmount removes the filesystem registered under id. It reports whether one was removed.
func (d *Driver) Unmount(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.mounts[id]; !ok {
		return false
	}
	delete(d.mounts, id)
	d.order = slices.DeleteFunc(d.order, func(m string) bool { return m == id })
	core.LogDebug("Filesystem '%s' unmounted.", id)
	return true
}

// Mounted returns the mount ids in mount order.
func (d *Driver) Mounted() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.order)
}

func (d *Driver) Exists(p string) bool {
	mount, rest := Split(p)

	d.mu.RLock()
	defer d.mu.RUnlock()

	if mount != "" {
		fs, ok := d.mounts[mount]
		return ok && fs.Exists(rest)
	}
	for _, id := range d.order {
		if d.mounts[id].Exists(rest) {
			return true
		}
	}
	return false
}

func (d *Driver) LoadInto(p string, dst []byte) ([]byte, error) {
	mount, rest := Split(p)

	d.mu.RLock()
	defer d.mu.RUnlock()

	if mount != "" {
		fs, ok := d.mounts[mount]
		if !ok {
			return dst, fmt.Errorf("%w: %q", ErrNotMounted, mount)
		}
		return fs.LoadInto(rest, dst)
	}

	from := len(dst)
	for _, id := range d.order {
		out, err := d.mounts[id].LoadInto(rest, dst)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, core.ErrNotFound) {
			return dst[:from], err
		}
	}
	return dst, fmt.Errorf("%s: %w", rest, core.ErrNotFound)
}
