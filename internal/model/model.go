package model

import (
	"fmt"
	"image"
)

// Region is an update rectangle in device pixels.
// The core never clips; bounds checking belongs to the device sink.
type Region struct {
	Left   int
	Top    int
	Width  int
	Height int
}

// Rect converts the region to an image.Rectangle.
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.Left, r.Top, r.Left+r.Width, r.Top+r.Height)
}

func (r Region) String() string {
	return fmt.Sprintf("(%d,%d %dx%d)", r.Left, r.Top, r.Width, r.Height)
}

// Legacy update modes.
const (
	UpdateModePartial = 0
	UpdateModeFull    = 1
)

// Legacy waveform codes accepted by the translator. Anything else is
// corrected to WaveformGL16.
const (
	WaveformInit      = 0
	WaveformDU        = 1
	WaveformGC16      = 2
	WaveformGL16      = 3
	WaveformHighlight = 8
)

// Flags is the flag bitset understood by the device sink.
//
// FlagFastDraw is never combined with the other two bits.
type Flags uint32

const (
	FlagFull     Flags = 1 << 0
	FlagSync     Flags = 1 << 1
	FlagFastDraw Flags = 1 << 2
)

// LegacyUpdate is an update request in the legacy framebuffer protocol
// (mxcfb_update_data). Only Region, WaveformMode and UpdateMode are
// interpreted; the rest is carried for diagnostics.
type LegacyUpdate struct {
	Region       Region
	WaveformMode int32
	UpdateMode   uint32
	UpdateMarker uint32
	Temp         int32
	Flags        uint32
}

// CoordUpdate is an update already expressed in hardware terms, with
// inclusive pixel bounds.
type CoordUpdate struct {
	X1, Y1, X2, Y2 int32
	Waveform       int32
	Flags          int32
}

// Region converts the inclusive bounds into a Region.
func (c CoordUpdate) Region() Region {
	return Region{
		Left:   int(c.X1),
		Top:    int(c.Y1),
		Width:  int(c.X2-c.X1) + 1,
		Height: int(c.Y2-c.Y1) + 1,
	}
}

// WaitRequest asks the server to post the named semaphore once the last
// issued hardware update has completed. The semaphore is owned by the
// requester.
type WaitRequest struct {
	SemName string
}

// HardwareCommand is the only shape the device sink accepts for region
// updates.
type HardwareCommand struct {
	Region   Region
	Waveform int
	Flags    Flags
}
