//go:build linux

package surface

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// Open maps the POSIX shared memory object name (e.g. "/swtfb.01") found
// under dir, creating and sizing it when necessary. Both the server and
// producers call Open with the same geometry.
func Open(dir, name string, width, height int) (*Surface, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrGeometry, width, height)
	}
	if dir == "" {
		dir = DefaultDir
	}
	path := filepath.Join(dir, strings.TrimPrefix(name, "/"))
	size := Size(width, height)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o755)
	if err != nil {
		return nil, fmt.Errorf("surface: open %s: %w", path, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("surface: stat %s: %w", path, err)
	}
	if st.Size() < int64(size) {
		if err := f.Truncate(int64(size)); err != nil {
			return nil, fmt.Errorf("surface: truncate %s: %w", path, err)
		}
	}

	pix, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("surface: mmap %s: %w", path, err)
	}

	return &Surface{
		Pix:    pix,
		Stride: width * BytesPerPixel,
		Rect:   image.Rect(0, 0, width, height),
		unmap:  func() error { return unix.Munmap(pix) },
	}, nil
}
