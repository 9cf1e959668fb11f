/**
 * Image Preprocessor for the OCR orchestrator
 *
 * Deterministic enhancement pipeline applied to each raw page image
 * before recognition. Stage order is fixed (grayscale, contrast,
 * denoise, binarize); each stage can be toggled off, and engines can
 * further restrict the pipeline when a stage hurts them (binarization
 * strips diacritics that detail-sensitive models rely on).
 */

package preprocess

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	_ "image/jpeg"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"github.com/docpipe/ocr-orchestrator/internal/errors"
)

// binarizeThreshold is the fixed luminance cutoff for the final stage.
const binarizeThreshold = 160

// Options toggles individual pipeline stages. The execution order is
// fixed regardless of which stages are enabled.
type Options struct {
	Grayscale bool
	Contrast  bool
	Denoise   bool
	Binarize  bool
}

// AllStages enables the full pipeline.
func AllStages() Options {
	return Options{Grayscale: true, Contrast: true, Denoise: true, Binarize: true}
}

// Intersect disables every stage the mask disables.
func (o Options) Intersect(mask Options) Options {
	return Options{
		Grayscale: o.Grayscale && mask.Grayscale,
		Contrast:  o.Contrast && mask.Contrast,
		Denoise:   o.Denoise && mask.Denoise,
		Binarize:  o.Binarize && mask.Binarize,
	}
}

// Preprocessor applies the enhancement pipeline.
type Preprocessor struct {
	opts Options
}

// NewPreprocessor creates a preprocessor with the given stage toggles.
func NewPreprocessor(opts Options) *Preprocessor {
	return &Preprocessor{opts: opts}
}

// Options returns the active stage toggles.
func (p *Preprocessor) Options() Options { return p.opts }

// Restrict returns a preprocessor limited to the stages both the current
// configuration and the mask allow.
func (p *Preprocessor) Restrict(mask Options) *Preprocessor {
	return &Preprocessor{opts: p.opts.Intersect(mask)}
}

// Enhance runs the enabled stages over a raw page image and returns the
// result as PNG. Identical input bytes and configuration always produce
// byte-identical output; any stage failure fails the whole call with no
// partial output.
func (p *Preprocessor) Enhance(raw []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.NewPreprocessError("decode", err)
	}

	img := toNRGBA(src)

	if p.opts.Grayscale {
		img = grayscale(img)
	}
	if p.opts.Contrast {
		img = stretchContrast(img)
	}
	if p.opts.Denoise {
		img = medianFilter(img)
	}
	if p.opts.Binarize {
		img = binarize(img)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, errors.NewPreprocessError("encode", err)
	}
	return buf.Bytes(), nil
}

// toNRGBA normalizes any decoded image into NRGBA so the stages share
// one pixel layout.
func toNRGBA(src image.Image) *image.NRGBA {
	if img, ok := src.(*image.NRGBA); ok {
		return img
	}
	bounds := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			dst.Set(x-bounds.Min.X, y-bounds.Min.Y, src.At(x, y))
		}
	}
	return dst
}

// luminance computes the Rec. 601 luma of one pixel.
func luminance(pix []uint8) uint8 {
	r, g, b := int(pix[0]), int(pix[1]), int(pix[2])
	return uint8((299*r + 587*g + 114*b) / 1000)
}

func grayscale(img *image.NRGBA) *image.NRGBA {
	out := image.NewNRGBA(img.Bounds())
	for i := 0; i < len(img.Pix); i += 4 {
		l := luminance(img.Pix[i : i+3])
		out.Pix[i] = l
		out.Pix[i+1] = l
		out.Pix[i+2] = l
		out.Pix[i+3] = 0xff
	}
	return out
}

// stretchContrast linearly rescales each channel so the darkest observed
// luminance maps to 0 and the brightest to 255.
func stretchContrast(img *image.NRGBA) *image.NRGBA {
	min, max := uint8(0xff), uint8(0)
	for i := 0; i < len(img.Pix); i += 4 {
		l := luminance(img.Pix[i : i+3])
		if l < min {
			min = l
		}
		if l > max {
			max = l
		}
	}
	if max <= min {
		// Flat image, nothing to stretch.
		out := image.NewNRGBA(img.Bounds())
		copy(out.Pix, img.Pix)
		return out
	}

	span := int(max) - int(min)
	out := image.NewNRGBA(img.Bounds())
	for i := 0; i < len(img.Pix); i += 4 {
		for c := 0; c < 3; c++ {
			v := int(img.Pix[i+c]) - int(min)
			if v < 0 {
				v = 0
			}
			v = v * 255 / span
			if v > 255 {
				v = 255
			}
			out.Pix[i+c] = uint8(v)
		}
		out.Pix[i+3] = 0xff
	}
	return out
}

// medianFilter applies a 3x3 median per channel, clamping at the borders.
func medianFilter(img *image.NRGBA) *image.NRGBA {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := image.NewNRGBA(bounds)

	var window [9]uint8
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for c := 0; c < 3; c++ {
				n := 0
				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						sx, sy := clamp(x+dx, w-1), clamp(y+dy, h-1)
						window[n] = img.Pix[sy*img.Stride+sx*4+c]
						n++
					}
				}
				out.Pix[y*out.Stride+x*4+c] = median9(window)
			}
			out.Pix[y*out.Stride+x*4+3] = 0xff
		}
	}
	return out
}

func clamp(v, max int) int {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

// median9 returns the median of nine values via insertion sort; the
// window is small enough that this beats sort.Slice by a wide margin.
func median9(w [9]uint8) uint8 {
	for i := 1; i < 9; i++ {
		v := w[i]
		j := i - 1
		for j >= 0 && w[j] > v {
			w[j+1] = w[j]
			j--
		}
		w[j+1] = v
	}
	return w[4]
}

// binarize maps every pixel to pure black or white around the fixed
// luminance threshold. Lossy, which is why re-running the pipeline is
// deterministic but not idempotent.
func binarize(img *image.NRGBA) *image.NRGBA {
	out := image.NewNRGBA(img.Bounds())
	for i := 0; i < len(img.Pix); i += 4 {
		v := uint8(0)
		if luminance(img.Pix[i:i+3]) > binarizeThreshold {
			v = 0xff
		}
		out.Pix[i] = v
		out.Pix[i+1] = v
		out.Pix[i+2] = v
		out.Pix[i+3] = 0xff
	}
	return out
}

// StageNames lists enabled stages in execution order, for logging.
func (o Options) StageNames() []string {
	names := make([]string, 0, 4)
	if o.Grayscale {
		names = append(names, "grayscale")
	}
	if o.Contrast {
		names = append(names, "contrast")
	}
	if o.Denoise {
		names = append(names, "denoise")
	}
	if o.Binarize {
		names = append(names, "binarize")
	}
	return names
}

// String renders the toggles for log lines.
func (o Options) String() string {
	return fmt.Sprintf("%v", o.StageNames())
}
