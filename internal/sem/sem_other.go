//go:build !linux

package sem

import "time"

// Semaphore is unavailable on this platform.
type Semaphore struct{}

func Open(dir, name string) (*Semaphore, error) {
	if _, err := fileName(name); err != nil {
		return nil, err
	}
	return nil, ErrUnsupported
}

func Create(dir, name string, value uint32) (*Semaphore, error) {
	return Open(dir, name)
}

func Unlink(dir, name string) error { return ErrUnsupported }

func (s *Semaphore) Value() int                       { return 0 }
func (s *Semaphore) Post() error                      { return ErrUnsupported }
func (s *Semaphore) TryWait() bool                    { return false }
func (s *Semaphore) Wait(timeout time.Duration) error { return ErrUnsupported }
func (s *Semaphore) Close() error                     { return nil }
