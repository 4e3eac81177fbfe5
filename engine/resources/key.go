package resources

import (
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/spaghettifunk/anima-resources/engine/vfs"
)

// Key identifies a resource path inside one type's cache.
type Key uint64

// KeyOf hashes the normalized form of p, so equivalent spellings share a key.
func KeyOf(p string) Key {
	return keyOfNormalized(vfs.Normalize(p))
}

func keyOfNormalized(p string) Key {
	return Key(xxhash.Sum64String(p))
}

func (k Key) String() string {
	return fmt.Sprintf("%016x", uint64(k))
}
