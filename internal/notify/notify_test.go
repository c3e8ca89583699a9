package notify

import (
	"errors"
	"net"
	"path/filepath"
	"testing"

	"github.com/coreos/go-systemd/v22/daemon"
)

func TestReadyWithoutSupervisor(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	if err := Ready(); err != nil {
		t.Fatalf("Ready() = %v", err)
	}
}

func TestReadySendsState(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "notify.sock")
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: sock, Net: "unixgram"})
	if err != nil {
		t.Skipf("unixgram unavailable: %v", err)
	}
	defer conn.Close()
	t.Setenv("NOTIFY_SOCKET", sock)

	if err := Ready(); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 64)
	n, _, err := conn.ReadFromUnix(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(buf[:n]); got != daemon.SdNotifyReady {
		t.Fatalf("state = %q, want %q", got, daemon.SdNotifyReady)
	}
}

func TestReadyError(t *testing.T) {
	prev := notifier
	t.Cleanup(func() { notifier = prev })
	notifier = func(bool, string) (bool, error) { return false, errors.New("boom") }
	if err := Ready(); err == nil {
		t.Fatal("expected error")
	}
}
