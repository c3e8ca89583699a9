//go:build linux

package surface

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOpenSharesPixels(t *testing.T) {
	dir := t.TempDir()

	a, err := Open(dir, DefaultName, 32, 16)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, err := Open(dir, DefaultName, 32, 16)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	a.SetRGB565(31, 15, 0xbeef)
	if got := b.RGB565At(31, 15); got != 0xbeef {
		t.Fatalf("second mapping sees %#04x, want 0xbeef", got)
	}

	st, err := os.Stat(filepath.Join(dir, "swtfb.01"))
	if err != nil {
		t.Fatal(err)
	}
	if st.Size() != int64(Size(32, 16)) {
		t.Errorf("segment size = %d, want %d", st.Size(), Size(32, 16))
	}

	if err := a.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
