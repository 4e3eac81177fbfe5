package vfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-resources/engine/core"
)

func newMemory(t *testing.T, files map[string]string) *Memory {
	t.Helper()
	m := NewMemory()
	for p, data := range files {
		require.NoError(t, m.WriteFile(p, []byte(data)))
	}
	return m
}

func TestDriver_MountValidation(t *testing.T) {
	d := NewDriver()
	m := NewMemory()

	require.NoError(t, d.Mount("assets", m))
	require.ErrorIs(t, d.Mount("assets", m), ErrAlreadyMounted)
	require.ErrorIs(t, d.Mount("", m), ErrInvalidMountID)
	require.ErrorIs(t, d.Mount("a:b", m), ErrInvalidMountID)
	require.ErrorIs(t, d.Mount("a/b", m), ErrInvalidMountID)
	require.ErrorIs(t, d.Mount("nil", nil), ErrInvalidMountID)

	assert.Equal(t, []string{"assets"}, d.Mounted())
	assert.True(t, d.Unmount("assets"))
	assert.False(t, d.Unmount("assets"))
	assert.Empty(t, d.Mounted())
}

func TestDriver_FirstMountWins(t *testing.T) {
	d := NewDriver()
	require.NoError(t, d.Mount("base", newMemory(t, map[string]string{"/a.txt": "base", "/b.txt": "only-base"})))
	require.NoError(t, d.Mount("patch", newMemory(t, map[string]string{"/a.txt": "patch"})))

	out, err := d.LoadInto("/a.txt", nil)
	require.NoError(t, err)
	assert.Equal(t, "base", string(out))

	out, err = d.LoadInto("patch:/a.txt", nil)
	require.NoError(t, err)
	assert.Equal(t, "patch", string(out))

	out, err = d.LoadInto("b.txt", []byte(">"))
	require.NoError(t, err)
	assert.Equal(t, ">only-base", string(out))

	assert.True(t, d.Exists("/b.txt"))
	assert.False(t, d.Exists("patch:/b.txt"))
}

func TestDriver_Misses(t *testing.T) {
	d := NewDriver()
	require.NoError(t, d.Mount("base", NewMemory()))

	out, err := d.LoadInto("/missing.txt", []byte("keep"))
	require.ErrorIs(t, err, core.ErrNotFound)
	assert.Equal(t, "keep", string(out))

	_, err = d.LoadInto("nope:/a.txt", nil)
	require.ErrorIs(t, err, ErrNotMounted)
	require.ErrorIs(t, err, core.ErrNotFound)
	assert.False(t, d.Exists("nope:/a.txt"))
}

func TestDriver_UnmountStopsRouting(t *testing.T) {
	d := NewDriver()
	require.NoError(t, d.Mount("base", newMemory(t, map[string]string{"/a.txt": "hello"})))
	require.True(t, d.Exists("/a.txt"))

	d.Unmount("base")
	assert.False(t, d.Exists("/a.txt"))
	_, err := d.LoadInto("/a.txt", nil)
	assert.ErrorIs(t, err, core.ErrNotFound)
}
