package imageproc

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
)

func encodeTestPNG(t *testing.T, width, height int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}

	var buf bytes.Buffer
	assert.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decodeDimensions(t *testing.T, data []byte) (int, int) {
	t.Helper()

	img, err := png.Decode(bytes.NewReader(data))
	assert.NoError(t, err)
	return img.Bounds().Dx(), img.Bounds().Dy()
}

func TestNormalizeKeepsSmallImages(t *testing.T) {
	src := encodeTestPNG(t, 50, 50)

	out, err := Normalize(src, 800, 300)
	assert.NoError(t, err)

	w, h := decodeDimensions(t, out)
	assert.Equal(t, 50, w, "normalizer must never upscale")
	assert.Equal(t, 50, h)
}

func TestNormalizeEnforcesBounds(t *testing.T) {
	src := encodeTestPNG(t, 2000, 100)

	out, err := Normalize(src, 800, 300)
	assert.NoError(t, err)

	w, h := decodeDimensions(t, out)
	assert.LessOrEqual(t, w, 800)
	assert.LessOrEqual(t, h, 300)

	// 2000x100 scaled by 0.4 keeps the aspect ratio within rounding.
	assert.Equal(t, 800, w)
	assert.InDelta(t, 40, h, 1)
}

func TestNormalizeConvertsJPEGToPNGWithAlpha(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 40, 20))
	var buf bytes.Buffer
	assert.NoError(t, jpeg.Encode(&buf, img, nil))

	out, err := Normalize(buf.Bytes(), 800, 300)
	assert.NoError(t, err)

	decoded, format, err := image.Decode(bytes.NewReader(out))
	assert.NoError(t, err)
	assert.Equal(t, "png", format)

	// The re-encoded image carries an alpha channel regardless of source.
	_, _, _, alpha := decoded.At(0, 0).RGBA()
	assert.Equal(t, uint32(0xffff), alpha)
	assert.Equal(t, 40, decoded.Bounds().Dx())
}

func TestNormalizeRejectsGarbage(t *testing.T) {
	_, err := Normalize([]byte("definitely not an image"), 800, 300)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestNormalizeDefaultBounds(t *testing.T) {
	src := encodeTestPNG(t, 1600, 200)

	out, err := Normalize(src, 0, 0)
	assert.NoError(t, err)

	w, _ := decodeDimensions(t, out)
	assert.LessOrEqual(t, w, DefaultMaxWidth)
}
