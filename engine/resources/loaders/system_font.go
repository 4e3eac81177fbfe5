package loaders

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/image/font/opentype"

	"github.com/spaghettifunk/anima-resources/engine/resources"
)

// FontCollection is a parsed TrueType/OpenType font or collection.
type FontCollection struct {
	*opentype.Collection
}

// FontCollectionLoader parses .ttf, .otf, .ttc and .otc files. The collection
// reads glyph data lazily from its source, so it gets a private copy.
type FontCollectionLoader struct{}

func (FontCollectionLoader) Parse(_ *resources.Scope, data []byte) (FontCollection, error) {
	c, err := opentype.ParseCollection(bytes.Clone(data))
	if err != nil {
		return FontCollection{}, fmt.Errorf("parse font collection: %w", err)
	}
	return FontCollection{Collection: c}, nil
}

// SystemFont is a font descriptor: one binary and the faces to use from it.
type SystemFont struct {
	File   string
	Faces  []string
	Binary FontCollection
}

// SystemFontLoader parses descriptors of "file=" and "face=" lines. The font
// binary is loaded relative to the descriptor.
type SystemFontLoader struct{}

func (SystemFontLoader) Parse(scope *resources.Scope, data []byte) (*SystemFont, error) {
	sf := &SystemFont{}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip comments and empty lines
		if len(line) == 0 || strings.HasPrefix(line, "#") {
			continue
		}

		if file, ok := strings.CutPrefix(line, "file="); ok {
			sf.File = file
		} else if face, ok := strings.CutPrefix(line, "face="); ok {
			sf.Faces = append(sf.Faces, face)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if sf.File == "" {
		return nil, fmt.Errorf("font descriptor has no file")
	}
	if len(sf.Faces) == 0 {
		return nil, fmt.Errorf("font descriptor has no face")
	}

	h, err := resources.LoadIn[FontCollection](scope, scope.Resolve(sf.File))
	if err != nil {
		return nil, fmt.Errorf("font file '%s': %w", sf.File, err)
	}
	sf.Binary = h.Get()
	h.Release()

	return sf, nil
}
