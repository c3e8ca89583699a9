// Package sink defines the device sink: the hardware-facing side that
// actually refreshes the panel, and implementations of it.
package sink

import (
	"errors"

	"swtfb/internal/model"
)

var ErrUnavailable = errors.New("sink: device unavailable")

// Sink executes hardware updates. The update server is its only caller and
// never issues two calls concurrently.
type Sink interface {
	// Initialize acquires the device. An error here is fatal to the server.
	Initialize() error
	// DrawRaw refreshes a region with a translated command.
	DrawRaw(cmd model.HardwareCommand) error
	// SendUpdate refreshes a region with caller-supplied waveform and flags,
	// without translation.
	SendUpdate(r model.Region, waveform int, flags model.Flags) error
	// WaitForLastUpdate blocks until the most recently issued update has
	// physically completed.
	WaitForLastUpdate() error
	// ClearGhosting purges artifacts left by earlier partial refreshes.
	ClearGhosting()
}
