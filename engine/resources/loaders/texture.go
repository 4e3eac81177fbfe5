package loaders

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/spaghettifunk/anima-resources/engine/resources"
)

// Image is a decoded texture in RGBA. Pixels must not be modified once the
// image is cached.
type Image struct {
	Pixels *image.RGBA
	// Format is the name of the codec that decoded it, e.g. "png".
	Format string
}

func (i Image) Width() int  { return i.Pixels.Bounds().Dx() }
func (i Image) Height() int { return i.Pixels.Bounds().Dy() }

// TextureLoader decodes any registered image format into RGBA.
type TextureLoader struct {
	FlipY bool
}

func (tl TextureLoader) Parse(_ *resources.Scope, data []byte) (Image, error) {
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Image{}, fmt.Errorf("decode texture: %w", err)
	}

	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	if tl.FlipY {
		flipVertical(dst)
	}
	return Image{Pixels: dst, Format: format}, nil
}

func flipVertical(img *image.RGBA) {
	h := img.Bounds().Dy()
	row := make([]byte, img.Stride)
	for y := 0; y < h/2; y++ {
		top := img.Pix[y*img.Stride : (y+1)*img.Stride]
		bottom := img.Pix[(h-1-y)*img.Stride : (h-y)*img.Stride]
		copy(row, top)
		copy(top, bottom)
		copy(bottom, row)
	}
}
