package loaders

import (
	"fmt"
	"image"
	"sync"

	"golang.org/x/image/draw"

	"github.com/spaghettifunk/anima-resources/engine/core"
	"github.com/spaghettifunk/anima-resources/engine/resources"
)

// MipChain holds an image and its successively halved levels. Levels[0] is
// the full size image.
type MipChain struct {
	Levels []*image.RGBA
}

type MipmapFilter string

const (
	FilterNearest    MipmapFilter = "nearest"
	FilterBilinear   MipmapFilter = "bilinear"
	FilterCatmullRom MipmapFilter = "catmullrom"
)

// MipmapOptions controls how a chain is built. Zero Levels means down to 1x1.
type MipmapOptions struct {
	Levels int
	Filter MipmapFilter
}

func (o MipmapOptions) interpolator() (draw.Interpolator, error) {
	switch o.Filter {
	case "", FilterBilinear:
		return draw.BiLinear, nil
	case FilterNearest:
		return draw.NearestNeighbor, nil
	case FilterCatmullRom:
		return draw.CatmullRom, nil
	default:
		return nil, fmt.Errorf("unknown mipmap filter %q", o.Filter)
	}
}

type mipEntry struct {
	path   string
	handle *resources.Handle[MipChain]
}

// MipmapSystem builds mip chains from loaded textures. It keeps every chain it
// built until no caller holds it and an unload pass runs.
type MipmapSystem struct {
	mu     sync.Mutex
	chains map[string]*mipEntry
}

func NewMipmapSystem() *MipmapSystem {
	return &MipmapSystem{chains: make(map[string]*mipEntry)}
}

func chainKey(path string, o MipmapOptions) string {
	return fmt.Sprintf("%s|%d|%s", path, o.Levels, o.Filter)
}

func (ms *MipmapSystem) Load(path string, base Image, options MipmapOptions) (*resources.Handle[MipChain], error) {
	if options.Levels < 0 {
		return nil, fmt.Errorf("negative mip level count %d", options.Levels)
	}
	key := chainKey(path, options)

	ms.mu.Lock()
	if e, ok := ms.chains[key]; ok {
		ms.mu.Unlock()
		return e.handle.Retain(), nil
	}
	ms.mu.Unlock()

	chain, err := buildMipChain(base, options)
	if err != nil {
		return nil, err
	}
	h := resources.NewHandle(chain)

	ms.mu.Lock()
	defer ms.mu.Unlock()
	// Keep the first chain if two loads raced.
	if e, ok := ms.chains[key]; ok {
		return e.handle.Retain(), nil
	}
	ms.chains[key] = &mipEntry{path: path, handle: h}
	core.LogDebug("Built %d mip level(s) for '%s'.", len(chain.Levels), path)
	return h.Retain(), nil
}

func (ms *MipmapSystem) UnloadUnused() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	for k, e := range ms.chains {
		if e.handle.Unused() {
			delete(ms.chains, k)
		}
	}
}

// Invalidate drops every chain built from exactly path, whatever its options.
// Chains of the same file on another mount are kept.
func (ms *MipmapSystem) Invalidate(path string) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	for k, e := range ms.chains {
		if e.path == path {
			delete(ms.chains, k)
		}
	}
}

// Len returns the number of chains held.
func (ms *MipmapSystem) Len() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return len(ms.chains)
}

func buildMipChain(base Image, o MipmapOptions) (MipChain, error) {
	if base.Pixels == nil {
		return MipChain{}, fmt.Errorf("empty base image")
	}
	interp, err := o.interpolator()
	if err != nil {
		return MipChain{}, err
	}

	levels := []*image.RGBA{base.Pixels}
	w, h := base.Width(), base.Height()
	for (w > 1 || h > 1) && (o.Levels == 0 || len(levels) < o.Levels) {
		w, h = max(w/2, 1), max(h/2, 1)
		prev := levels[len(levels)-1]
		next := image.NewRGBA(image.Rect(0, 0, w, h))
		interp.Scale(next, next.Bounds(), prev, prev.Bounds(), draw.Src, nil)
		levels = append(levels, next)
	}
	return MipChain{Levels: levels}, nil
}
