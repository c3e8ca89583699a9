package convert

import (
	"image"
	"image/color"

	"swtfb/internal/surface"
)

// Gray4 maps an RGB565 sample to a 4-bit gray level, 0 = black, 15 = white.
//
// Luma uses the usual weights Y = 0.299R + 0.587G + 0.114B on 8-bit
// channels, in integer arithmetic.
func Gray4(c surface.RGB565) byte {
	r, g, b, _ := c.RGBA()
	y := (299*(r>>8) + 587*(g>>8) + 114*(b>>8)) / 1000
	return byte(y >> 4)
}

// AlignGray4 widens r so that its left edge and width are multiples of
// four pixels, as controllers loading 4bpp data in 16-bit words require,
// and clips it to bounds.
func AlignGray4(r, bounds image.Rectangle) image.Rectangle {
	r.Min.X &^= 3
	if w := r.Dx(); w&3 != 0 {
		r.Max.X = r.Min.X + (w+3)&^3
	}
	return r.Intersect(bounds)
}

// PackGray4 packs the pixels of r into 4bpp gray, two pixels per byte with
// the first pixel in the high nibble, rows back to back. r must already be
// aligned with AlignGray4 for controllers that load whole words.
//
// Pixels of r outside the surface are packed as white.
func PackGray4(s *surface.Surface, r image.Rectangle) []byte {
	w, h := r.Dx(), r.Dy()
	if w <= 0 || h <= 0 {
		return nil
	}
	rowBytes := (w + 1) / 2
	out := make([]byte, rowBytes*h)

	for py := 0; py < h; py++ {
		y := r.Min.Y + py
		row := out[py*rowBytes : (py+1)*rowBytes]
		for px := 0; px < w; px++ {
			x := r.Min.X + px
			level := byte(0x0f)
			if image.Pt(x, y).In(s.Rect) {
				level = Gray4(s.RGB565At(x, y))
			}
			if px&1 == 0 {
				row[px>>1] = level << 4
			} else {
				row[px>>1] |= level
			}
		}
		if w&1 != 0 {
			// Pad the odd trailing nibble with white.
			row[rowBytes-1] |= 0x0f
		}
	}
	return out
}

// ToNRGBA copies r out of the surface as an NRGBA image, e.g. for PNG
// previews.
func ToNRGBA(s *surface.Surface, r image.Rectangle) *image.NRGBA {
	r = r.Intersect(s.Rect)
	img := image.NewNRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.Set(x-r.Min.X, y-r.Min.Y, color.NRGBAModel.Convert(s.RGB565At(x, y)))
		}
	}
	return img
}
