// Package sem implements named counting semaphores that interoperate with
// glibc's sem_open: the semaphore is a small file "sem.NAME" in the POSIX
// shared memory directory, mapped shared and driven with futexes.
package sem

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultDir is where glibc keeps named semaphores.
const DefaultDir = "/dev/shm"

var (
	ErrNotExist    = errors.New("sem: semaphore does not exist")
	ErrInvalidName = errors.New("sem: invalid name")
	ErrTimeout     = errors.New("sem: wait timed out")
	ErrClosed      = errors.New("sem: semaphore closed")
	ErrUnsupported = errors.New("sem: named semaphores are not supported on this platform")
)

// fileName maps a semaphore name to its file name the way sem_open does:
// leading slashes are dropped and the remainder may not contain '/'.
func fileName(name string) (string, error) {
	n := strings.TrimLeft(name, "/")
	if n == "" || strings.Contains(n, "/") || n == "." || n == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return "sem." + n, nil
}
