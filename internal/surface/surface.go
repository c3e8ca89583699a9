// Package surface provides the shared pixel surface: one frame of 16-bit
// RGB565 samples, row-major, mapped by producers and the update server.
//
// Producers paint through the image/draw API; the server only reads pixels
// when a sink executes an update.
package surface

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
)

// Panel geometry of the target device.
const (
	DefaultWidth  = 1404
	DefaultHeight = 1872

	// BytesPerPixel is fixed: samples are RGB565.
	BytesPerPixel = 2

	// DefaultName is the POSIX shared memory name of the surface.
	DefaultName = "/swtfb.01"
	// DefaultDir is where POSIX shared memory objects live on Linux.
	DefaultDir = "/dev/shm"
)

var ErrGeometry = errors.New("surface: invalid geometry")

// Surface is a fixed-size frame. It is never resized after creation.
//
// Pixel access is not synchronised: producers own pixel correctness and
// must finish drawing a region before announcing it.
type Surface struct {
	Pix    []byte
	Stride int
	Rect   image.Rectangle

	unmap func() error
}

// New allocates a surface in process memory, for tests and dry runs.
func New(width, height int) (*Surface, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrGeometry, width, height)
	}
	return &Surface{
		Pix:    make([]byte, Size(width, height)),
		Stride: width * BytesPerPixel,
		Rect:   image.Rect(0, 0, width, height),
	}, nil
}

// Size is the byte size of a width x height frame.
func Size(width, height int) int {
	return width * height * BytesPerPixel
}

func (s *Surface) Width() int  { return s.Rect.Dx() }
func (s *Surface) Height() int { return s.Rect.Dy() }

func (s *Surface) ColorModel() color.Model { return RGB565Model }

func (s *Surface) Bounds() image.Rectangle { return s.Rect }

// PixOffset returns the index of the first byte of (x, y).
func (s *Surface) PixOffset(x, y int) int {
	return (y-s.Rect.Min.Y)*s.Stride + (x-s.Rect.Min.X)*BytesPerPixel
}

// RGB565At returns the raw sample at (x, y), or 0 outside the bounds.
func (s *Surface) RGB565At(x, y int) RGB565 {
	if !(image.Pt(x, y).In(s.Rect)) {
		return 0
	}
	i := s.PixOffset(x, y)
	return RGB565(binary.LittleEndian.Uint16(s.Pix[i:]))
}

func (s *Surface) At(x, y int) color.Color {
	return s.RGB565At(x, y)
}

// SetRGB565 stores a raw sample; writes outside the bounds are ignored.
func (s *Surface) SetRGB565(x, y int, c RGB565) {
	if !(image.Pt(x, y).In(s.Rect)) {
		return
	}
	i := s.PixOffset(x, y)
	binary.LittleEndian.PutUint16(s.Pix[i:], uint16(c))
}

func (s *Surface) Set(x, y int, c color.Color) {
	s.SetRGB565(x, y, RGB565Model.Convert(c).(RGB565))
}

// Row returns the bytes of row y limited to columns [x0, x1).
func (s *Surface) Row(y, x0, x1 int) []byte {
	r := image.Rect(x0, y, x1, y+1).Intersect(s.Rect)
	if r.Empty() {
		return nil
	}
	i := s.PixOffset(r.Min.X, y)
	return s.Pix[i : i+r.Dx()*BytesPerPixel]
}

// Fill paints r with c.
func (s *Surface) Fill(r image.Rectangle, c RGB565) {
	r = r.Intersect(s.Rect)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			s.SetRGB565(x, y, c)
		}
	}
}

// Close releases the mapping. The surface must not be used afterwards.
func (s *Surface) Close() error {
	if s.unmap == nil {
		return nil
	}
	err := s.unmap()
	s.unmap = nil
	s.Pix = nil
	return err
}
