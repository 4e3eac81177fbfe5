// Package vfs provides the virtual filesystems the resource manager reads from.
//
// A Filesystem only needs to answer two questions: does a path exist, and what
// are its raw bytes. Bytes are appended to a caller supplied slice so the
// resource worker can reuse one buffer across loads.
//
// Paths are slash separated and rooted ("/textures/stone.png"). A path may carry
// an explicit mount prefix ("assets:/textures/stone.png") to address one mounted
// filesystem; without a prefix the Driver tries every mount in mount order and
// the first one holding the path wins.
package vfs
