package vfs

import (
	"io"
	"path"
	"slices"
	"strings"
)

// Filesystem is a byte level source of resources.
type Filesystem interface {
	// Exists reports whether path names a readable file.
	Exists(path string) bool
	// LoadInto appends the raw bytes of path to dst and returns the extended slice.
	// A missing path must return an error satisfying errors.Is(err, core.ErrNotFound).
	LoadInto(path string, dst []byte) ([]byte, error)
}

// Normalize cleans a virtual path: backslashes become slashes, the path part is
// made absolute and cleaned, and an optional "mount:" prefix is kept verbatim.
func Normalize(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	mount, rest := splitMount(p)
	rest = path.Clean("/" + rest)
	if mount != "" {
		return mount + ":" + rest
	}
	return rest
}

// Split returns the mount prefix (possibly empty) and the normalized path part of p.
func Split(p string) (mount, rest string) {
	mount, rest = splitMount(Normalize(p))
	return mount, rest
}

func splitMount(p string) (string, string) {
	i := strings.IndexByte(p, ':')
	if i <= 0 || strings.Contains(p[:i], "/") {
		return "", p
	}
	return p[:i], p[i+1:]
}

// readAppend reads r until EOF, appending to dst. size is a hint used to grow dst once.
func readAppend(dst []byte, r io.Reader, size int64) ([]byte, error) {
	if size > 0 {
		dst = slices.Grow(dst, int(size))
	}
	for {
		if len(dst) == cap(dst) {
			dst = append(dst, 0)[:len(dst)]
		}
		n, err := r.Read(dst[len(dst):cap(dst)])
		dst = dst[:len(dst)+n]
		if err != nil {
			if err == io.EOF {
				return dst, nil
			}
			return dst, err
		}
	}
}
