// Package waveform maps legacy framebuffer update requests onto the
// refresh algorithms and flags of the newer controller.
//
// The controller only has three refresh algorithms; the five legacy codes
// fold onto them as follows:
//
//	0 init       -> highest fidelity
//	1 DU         -> fast, low fidelity
//	2 GC16       -> high fidelity
//	3 GL16       -> standard refresh (the one in routine use)
//	8 highlight  -> high fidelity
package waveform

import (
	"swtfb/internal/model"

	appLog "swtfb/internal/log"
)

// GhostClearer is the part of the device sink the translator needs when it
// has to correct an out-of-domain waveform.
type GhostClearer interface {
	ClearGhosting()
}

// Valid reports whether w is one of the legacy waveform codes.
func Valid(w int) bool {
	switch w {
	case model.WaveformInit, model.WaveformDU, model.WaveformGC16,
		model.WaveformGL16, model.WaveformHighlight:
		return true
	}
	return false
}

// syncTopThreshold is the row below which a full GL16 update starting at
// the left edge is treated as a sync point.
const syncTopThreshold = 1800

// Translate converts a legacy update into a hardware command.
//
// An out-of-domain waveform is replaced with GL16 and g.ClearGhosting is
// called exactly once. g may be nil when the caller does not care about
// ghost purging (e.g. previews).
//
// The legacy driver never sent an explicit sync flag; it only synchronised
// on two occasions, which are recognised here from the other fields:
// a full init update, and a full GL16 update touching the bottom strip of
// the screen from the left edge.
func Translate(desc model.LegacyUpdate, g GhostClearer) model.HardwareCommand {
	w := int(desc.WaveformMode)
	if !Valid(w) {
		w = model.WaveformGL16
		if g != nil {
			g.ClearGhosting()
		}
	}

	mode := desc.UpdateMode
	flags := model.Flags(mode & 1)

	rect := desc.Region
	if w == model.WaveformInit && mode == model.UpdateModeFull {
		flags |= model.FlagSync
		appLog.Debug("sync: full init update", "region", rect)
	} else if rect.Left == 0 && rect.Top > syncTopThreshold &&
		w == model.WaveformGL16 && mode == model.UpdateModeFull {
		flags |= model.FlagSync
		appLog.Debug("sync: bottom strip update", "width", rect.Width, "height", rect.Height)
	}

	if w == model.WaveformDU && mode == model.UpdateModePartial {
		flags = model.FlagFastDraw
	}

	return model.HardwareCommand{
		Region:   rect,
		Waveform: w,
		Flags:    flags,
	}
}
