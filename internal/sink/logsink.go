package sink

import (
	"swtfb/internal/model"

	appLog "swtfb/internal/log"
)

// Logger is a dry-run Sink: every call is logged and succeeds. It lets the
// server run on machines without a panel.
type Logger struct{}

func (Logger) Initialize() error {
	appLog.Info("log sink initialized; no hardware will be driven")
	return nil
}

func (Logger) DrawRaw(cmd model.HardwareCommand) error {
	appLog.Info("draw", "region", cmd.Region, "waveform", cmd.Waveform, "flags", cmd.Flags)
	return nil
}

func (Logger) SendUpdate(r model.Region, waveform int, flags model.Flags) error {
	appLog.Info("send update", "region", r, "waveform", waveform, "flags", flags)
	return nil
}

func (Logger) WaitForLastUpdate() error {
	appLog.Info("wait for last update")
	return nil
}

func (Logger) ClearGhosting() {
	appLog.Info("clear ghosting")
}
