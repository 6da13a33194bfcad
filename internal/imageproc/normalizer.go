// Package imageproc normalizes uploaded raster images before they are
// embedded into a certificate document.
package imageproc

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/disintegration/imaging"
)

// Default bounds for an instructor signature image.
const (
	DefaultMaxWidth  = 800
	DefaultMaxHeight = 300
)

// ErrUnsupportedFormat is returned when the source bytes cannot be
// decoded as a known raster format.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// Normalize decodes raw image bytes, converts them to a format with an
// alpha channel and downscales proportionally so the result fits within
// maxWidth x maxHeight. Images that already fit keep their dimensions;
// the normalizer never upscales. The result is re-encoded as PNG.
func Normalize(raw []byte, maxWidth, maxHeight int) ([]byte, error) {
	if maxWidth <= 0 {
		maxWidth = DefaultMaxWidth
	}
	if maxHeight <= 0 {
		maxHeight = DefaultMaxHeight
	}

	src, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}

	// Fit clones into NRGBA and only shrinks, never enlarges.
	img := imaging.Fit(src, maxWidth, maxHeight, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encoding normalized image: %w", err)
	}
	return buf.Bytes(), nil
}
