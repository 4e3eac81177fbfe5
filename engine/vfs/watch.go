package vfs

import (
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/spaghettifunk/anima-resources/engine/core"
)

// Watcher reports files that changed under a host directory, as virtual paths
// prefixed with the mount id the directory is mounted under.
type Watcher struct {
	mount    string
	root     string
	fsnotify *fsnotify.Watcher

	changes   chan string
	done      chan struct{}
	exited    chan struct{}
	closeOnce sync.Once
}

// NewWatcher starts watching root and all of its sub-directories.
func NewWatcher(mount, root string) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		mount:    mount,
		root:     abs,
		fsnotify: fsWatch,
		changes:  make(chan string, 64),
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
	}
	if err := w.watchRecursive(abs); err != nil {
		fsWatch.Close()
		return nil, err
	}

	go w.start()
	return w, nil
}

// Changes delivers the virtual path of every created, written, removed or renamed file.
// The channel is closed when the watcher is closed.
func (w *Watcher) Changes() <-chan string {
	return w.changes
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() {
		close(w.done)
	})
	<-w.exited
	return nil
}

func (w *Watcher) start() {
	defer close(w.exited)
	defer close(w.changes)
	defer w.fsnotify.Close()

	for {
		select {
		case e, ok := <-w.fsnotify.Events:
			if !ok {
				return
			}
			s, err := os.Stat(e.Name)
			if err == nil && s.IsDir() {
				if e.Op&fsnotify.Create != 0 {
					if err := w.watchRecursive(e.Name); err != nil {
						core.LogWarn("watcher: unable to watch '%s': %s", e.Name, err)
					}
				}
				continue
			}
			// Can't stat a removed entry, try to drop it from the watch list anyway.
			if e.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				_ = w.fsnotify.Remove(e.Name)
			}
			if e.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			p, ok := w.virtualPath(e.Name)
			if !ok {
				continue
			}
			select {
			case w.changes <- p:
			case <-w.done:
				return
			}

		case err, ok := <-w.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("watcher: %s", err)

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) virtualPath(name string) (string, bool) {
	rel, err := filepath.Rel(w.root, name)
	if err != nil || rel == "." || rel == ".." || filepath.IsAbs(rel) || len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator) {
		return "", false
	}
	return Normalize(w.mount + ":" + filepath.ToSlash(rel)), true
}

// watchRecursive adds dir and everything below it to the watch list.
func (w *Watcher) watchRecursive(dir string) error {
	return filepath.WalkDir(dir, func(walkPath string, d os.DirEntry, err error) error {
		if err != nil {
			// A directory removed while walking is not an error worth failing for.
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return w.fsnotify.Add(walkPath)
		}
		return nil
	})
}
