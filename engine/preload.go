package engine

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/spaghettifunk/anima-resources/engine/core"
	"github.com/spaghettifunk/anima-resources/engine/resources"
	"github.com/spaghettifunk/anima-resources/engine/resources/loaders"
)

// ErrUnknownExtension is returned by Preload for paths no default parser handles.
var ErrUnknownExtension = errors.New("no default parser for extension")

// Preload loads every path with the default parser picked by its extension and
// waits for all of them. The loaded resources stay cached but unreferenced.
// RegisterDefaults must have been called.
func (e *Engine) Preload(ctx context.Context, paths ...string) error {
	var (
		text     []*resources.Future[loaders.Text]
		code     []*resources.Future[loaders.Bytecode]
		mats     []*resources.Future[*loaders.Material]
		images   []*resources.Future[loaders.Image]
		bitmaps  []*resources.Future[*loaders.BitmapFont]
		binaries []*resources.Future[loaders.FontCollection]
		fonts    []*resources.Future[*loaders.SystemFont]
		errs     []error
	)

	for _, p := range paths {
		switch ext := strings.ToLower(path.Ext(p)); ext {
		case ".txt", ".json", ".toml", ".csv", ".md":
			text = append(text, resources.Load[loaders.Text](e.shared, p))
		case ".spv":
			code = append(code, resources.Load[loaders.Bytecode](e.shared, p))
		case ".amt":
			mats = append(mats, resources.Load[*loaders.Material](e.shared, p))
		case ".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tif", ".tiff", ".webp":
			images = append(images, resources.Load[loaders.Image](e.shared, p))
		case ".fnt":
			bitmaps = append(bitmaps, resources.Load[*loaders.BitmapFont](e.shared, p))
		case ".ttf", ".otf", ".ttc", ".otc":
			binaries = append(binaries, resources.Load[loaders.FontCollection](e.shared, p))
		case ".fontcfg":
			fonts = append(fonts, resources.Load[*loaders.SystemFont](e.shared, p))
		default:
			errs = append(errs, fmt.Errorf("%w %q: %s", ErrUnknownExtension, ext, p))
		}
	}

	errs = append(errs,
		release(ctx, text...),
		release(ctx, code...),
		release(ctx, mats...),
		release(ctx, images...),
		release(ctx, bitmaps...),
		release(ctx, binaries...),
		release(ctx, fonts...),
	)
	err := errors.Join(errs...)
	if err == nil {
		core.LogInfo("Preloaded %d resource(s).", len(paths))
	}
	return err
}

// release waits for every future on its own so that one failure does not hide
// the others, and gives back every reference it received.
func release[T any](ctx context.Context, futures ...*resources.Future[T]) error {
	var errs []error
	for _, f := range futures {
		h, err := f.Wait(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		h.Release()
	}
	return errors.Join(errs...)
}
