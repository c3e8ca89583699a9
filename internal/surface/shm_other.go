//go:build !linux

package surface

import "errors"

// Open is only implemented on Linux; elsewhere use New.
func Open(dir, name string, width, height int) (*Surface, error) {
	return nil, errors.New("surface: shared memory is only supported on linux")
}
