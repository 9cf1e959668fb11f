package preprocess

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// renderTextImage draws a line of text on a light background, giving the
// pipeline something with real structure to chew on.
func renderTextImage(t *testing.T, text string) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 160, 40))
	for i := range img.Pix {
		img.Pix[i] = 0xf0
	}
	drawer := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.NRGBA{A: 0xff}),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(8, 24),
	}
	drawer.DrawString(text)

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestEnhanceDeterministic(t *testing.T) {
	raw := renderTextImage(t, "hello ocr")
	p := NewPreprocessor(AllStages())

	first, err := p.Enhance(raw)
	require.NoError(t, err)
	second, err := p.Enhance(raw)
	require.NoError(t, err)

	assert.Equal(t, first, second, "identical input and configuration must produce byte-identical output")
}

func TestEnhanceBinarizeProducesTwoLevels(t *testing.T) {
	raw := renderTextImage(t, "threshold")
	p := NewPreprocessor(AllStages())

	out, err := p.Enhance(raw)
	require.NoError(t, err)

	decoded, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)

	bounds := decoded.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := decoded.At(x, y).RGBA()
			v := uint8(r >> 8)
			require.True(t, v == 0 || v == 0xff, "binarized pixel must be pure black or white, got %d", v)
			require.Equal(t, r, g)
			require.Equal(t, g, b)
		}
	}
}

func TestEnhanceStagesToggleable(t *testing.T) {
	raw := renderTextImage(t, "toggles")

	full, err := NewPreprocessor(AllStages()).Enhance(raw)
	require.NoError(t, err)

	noBinarize, err := NewPreprocessor(Options{Grayscale: true, Contrast: true, Denoise: true}).Enhance(raw)
	require.NoError(t, err)

	assert.NotEqual(t, full, noBinarize, "disabling binarization must change the output")
}

func TestEnhanceMalformedInputFailsWhole(t *testing.T) {
	p := NewPreprocessor(AllStages())
	out, err := p.Enhance([]byte("not an image"))
	require.Error(t, err)
	assert.Nil(t, out, "no partial pipeline output on failure")
}

func TestRestrictIntersectsStageMask(t *testing.T) {
	p := NewPreprocessor(AllStages())
	restricted := p.Restrict(Options{Grayscale: true, Contrast: true, Denoise: true, Binarize: false})

	opts := restricted.Options()
	assert.True(t, opts.Grayscale)
	assert.True(t, opts.Contrast)
	assert.True(t, opts.Denoise)
	assert.False(t, opts.Binarize)

	// The mask only subtracts: a stage already off stays off.
	p2 := NewPreprocessor(Options{Grayscale: true})
	opts2 := p2.Restrict(AllStages()).Options()
	assert.False(t, opts2.Contrast)
}

func TestStageNamesOrder(t *testing.T) {
	names := AllStages().StageNames()
	assert.Equal(t, []string{"grayscale", "contrast", "denoise", "binarize"}, names)
}
