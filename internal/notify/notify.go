// Package notify tells the process supervisor about server state.
package notify

import (
	"fmt"

	"github.com/coreos/go-systemd/v22/daemon"

	appLog "swtfb/internal/log"
)

// notifier is swapped in tests.
var notifier = daemon.SdNotify

// Ready announces that the server is initialized and about to consume the
// update channel. It is a no-op when not running under systemd.
func Ready() error {
	sent, err := notifier(false, daemon.SdNotifyReady)
	if err != nil {
		return fmt.Errorf("notify: ready: %w", err)
	}
	if !sent {
		appLog.Debug("no supervisor socket; readiness not sent")
	}
	return nil
}

// Stopping announces an orderly shutdown.
func Stopping() error {
	if _, err := notifier(false, daemon.SdNotifyStopping); err != nil {
		return fmt.Errorf("notify: stopping: %w", err)
	}
	return nil
}
