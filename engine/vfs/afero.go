package vfs

import (
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/spf13/afero"
)

// Afero adapts any afero.Fs into a Filesystem.
type Afero struct {
	fs afero.Fs
}

func NewAfero(fs afero.Fs) *Afero {
	return &Afero{fs: fs}
}

func (a *Afero) Exists(p string) bool {
	info, err := a.fs.Stat(p)
	return err == nil && !info.IsDir()
}

func (a *Afero) LoadInto(p string, dst []byte) ([]byte, error) {
	f, err := a.fs.Open(p)
	if err != nil {
		return dst, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return dst, err
	}
	if info.IsDir() {
		return dst, fmt.Errorf("%s: is a directory: %w", p, os.ErrNotExist)
	}
	return readAppend(dst, f, info.Size())
}

// Memory is an in-memory filesystem, handy for tests and generated assets.
type Memory struct {
	*Afero
}

func NewMemory() *Memory {
	return &Memory{Afero: NewAfero(afero.NewMemMapFs())}
}

// WriteFile stores data under p, creating parent directories as needed.
func (m *Memory) WriteFile(p string, data []byte) error {
	p = Normalize(p)
	if err := m.fs.MkdirAll(path.Dir(p), 0o755); err != nil {
		return err
	}
	return afero.WriteFile(m.fs, p, data, 0o644)
}

// Remove deletes p.
func (m *Memory) Remove(p string) error {
	return m.fs.Remove(Normalize(p))
}

// Directory exposes a host directory, read-only.
type Directory struct {
	*Afero
	root string
}

func NewDirectory(root string) (*Directory, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", abs)
	}
	base := afero.NewBasePathFs(afero.NewOsFs(), abs)
	return &Directory{
		Afero: NewAfero(afero.NewReadOnlyFs(base)),
		root:  abs,
	}, nil
}

// Root returns the absolute host directory backing d.
func (d *Directory) Root() string {
	return d.root
}
