package vfs

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

const (
	extZstd = ".zst"
	extLZ4  = ".lz4"
)

var zstdDecoderPool sync.Pool

func getZstdDecoder() (*zstd.Decoder, error) {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder), nil
	}
	return zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
}

func putZstdDecoder(dec *zstd.Decoder) {
	zstdDecoderPool.Put(dec)
}

// Compressed decorates a Filesystem so that "a.txt" is served from "a.txt.zst"
// or "a.txt.lz4" when the plain file is absent. Paths that name a compressed
// file directly are decoded as well. Uncompressed files pass through untouched.
type Compressed struct {
	inner Filesystem
}

func NewCompressed(inner Filesystem) *Compressed {
	return &Compressed{inner: inner}
}

func (c *Compressed) Exists(p string) bool {
	return c.inner.Exists(p) || c.inner.Exists(p+extZstd) || c.inner.Exists(p+extLZ4)
}

func (c *Compressed) LoadInto(p string, dst []byte) ([]byte, error) {
	switch {
	case strings.HasSuffix(p, extZstd), strings.HasSuffix(p, extLZ4):
		return c.decode(p, dst)
	case c.inner.Exists(p):
		return c.inner.LoadInto(p, dst)
	case c.inner.Exists(p + extZstd):
		return c.decode(p+extZstd, dst)
	case c.inner.Exists(p + extLZ4):
		return c.decode(p+extLZ4, dst)
	}
	// Let the inner filesystem report the miss in its own terms.
	return c.inner.LoadInto(p, dst)
}

func (c *Compressed) decode(p string, dst []byte) ([]byte, error) {
	raw, err := c.inner.LoadInto(p, nil)
	if err != nil {
		return dst, err
	}

	from := len(dst)
	if strings.HasSuffix(p, extZstd) {
		dec, err := getZstdDecoder()
		if err != nil {
			return dst, err
		}
		defer putZstdDecoder(dec)

		out, err := dec.DecodeAll(raw, dst)
		if err != nil {
			return dst[:from], fmt.Errorf("vfs: zstd decode %s: %w", p, err)
		}
		return out, nil
	}

	out, err := readAppend(dst, lz4.NewReader(bytes.NewReader(raw)), 0)
	if err != nil {
		return dst[:from], fmt.Errorf("vfs: lz4 decode %s: %w", p, err)
	}
	return out, nil
}
