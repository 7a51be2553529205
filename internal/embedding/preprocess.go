package embedding

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// maxImagePixels matches the decompression-bomb limit common image libraries use.
const maxImagePixels = 89478485

// Preprocessor turns decoded images into model input tensors: shortest-side
// bicubic resize, center crop, scale to [0,1], per-channel mean/std.
type Preprocessor struct {
	Size int
	Mean [3]float32
	Std  [3]float32
}

// NewPreprocessor returns the preprocessing pipeline for an architecture.
func NewPreprocessor(a Architecture) Preprocessor {
	return Preprocessor{Size: a.ImageSize, Mean: a.Mean, Std: a.Std}
}

// Decode parses image bytes in any registered format.
func Decode(data []byte) (image.Image, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: empty image", ErrDecode)
	}
	if int64(cfg.Width)*int64(cfg.Height) > maxImagePixels {
		return nil, fmt.Errorf("%w: image size (%d pixels) exceeds limit of %d pixels",
			ErrDecode, cfg.Width*cfg.Height, maxImagePixels)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return img, nil
}

// Preprocess converts img to a normalized 3×Size×Size tensor. Only the
// source region that lands inside the center crop is resampled, so memory
// stays proportional to Size² whatever the aspect ratio.
func (p Preprocessor) Preprocess(img image.Image) Tensor {
	b := img.Bounds()
	sr := p.cropSource(b)
	src := toRGB(img, sr)

	dst := image.NewRGBA(image.Rect(0, 0, p.Size, p.Size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, sr, draw.Src, nil)

	plane := p.Size * p.Size
	t := Tensor{Channels: 3, Height: p.Size, Width: p.Size, Data: make([]float32, 3*plane)}
	for y := 0; y < p.Size; y++ {
		row := dst.Pix[y*dst.Stride:]
		for x := 0; x < p.Size; x++ {
			px := row[x*4:]
			i := y*p.Size + x
			for c := 0; c < 3; c++ {
				t.Data[c*plane+i] = (float32(px[c])/255 - p.Mean[c]) / p.Std[c]
			}
		}
	}
	return t
}

// cropSource maps the center crop of the shortest-side resize back onto b.
func (p Preprocessor) cropSource(b image.Rectangle) image.Rectangle {
	w, h := b.Dx(), b.Dy()

	rw, rh := p.Size, p.Size
	if w < h {
		rh = h * p.Size / w
	} else {
		rw = w * p.Size / h
	}
	top := roundHalf(rh - p.Size)
	left := roundHalf(rw - p.Size)

	x0, x1 := cropSpan(left, p.Size, w, rw)
	y0, y1 := cropSpan(top, p.Size, h, rh)
	return image.Rect(b.Min.X+x0, b.Min.Y+y0, b.Min.X+x1, b.Min.Y+y1)
}

// cropSpan converts [off, off+size) in a dimension resized from src to dst
// pixels into source coordinates. The span is never empty.
func cropSpan(off, size, src, dst int) (int, int) {
	scale := float64(src) / float64(dst)
	lo := int(math.Round(float64(off) * scale))
	hi := int(math.Round(float64(off+size) * scale))
	lo = min(max(lo, 0), src-1)
	hi = min(max(hi, lo+1), src)
	return lo, hi
}

// toRGB drops any alpha channel inside r without compositing, so color values
// of transparent pixels are preserved. The result covers r in img coordinates.
func toRGB(img image.Image, r image.Rectangle) image.Image {
	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		return img
	}
	out := image.NewNRGBA(r)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			c.A = 0xff
			out.SetNRGBA(x, y, c)
		}
	}
	return out
}

// roundHalf returns n/2 rounded half to even.
func roundHalf(n int) int {
	if n <= 0 {
		return 0
	}
	q := n / 2
	if n%2 == 1 && q%2 == 1 {
		q++
	}
	return q
}
