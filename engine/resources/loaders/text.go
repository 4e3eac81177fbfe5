package loaders

import (
	"errors"
	"unicode/utf8"

	"github.com/spaghettifunk/anima-resources/engine/resources"
)

// Text is a UTF-8 text resource.
type Text string

var ErrInvalidUTF8 = errors.New("text is not valid UTF-8")

type TextLoader struct{}

func (TextLoader) Parse(_ *resources.Scope, data []byte) (Text, error) {
	if !utf8.Valid(data) {
		return "", ErrInvalidUTF8
	}
	// string() copies, so data can be reused.
	return Text(data), nil
}
