//go:build linux

package sem

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	futexWait = 0
	futexWake = 1
)

// glibc sem_t layout differs by word size:
//
//	64-bit: uint64 data (value low, waiters high), int private, int pad; 32 bytes
//	32-bit: uint32 value (count<<1 | has-waiters), int private, ...; 16 bytes
const is64 = strconv.IntSize == 64

func semSize() int {
	if is64 {
		return 32
	}
	return 16
}

// Semaphore is an open handle on a named semaphore.
type Semaphore struct {
	path string
	mem  []byte
}

// Open attaches to an existing named semaphore. It never creates one: the
// requester owns the semaphore's lifecycle.
func Open(dir, name string) (*Semaphore, error) {
	path, err := semPath(dir, name)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, name)
		}
		return nil, fmt.Errorf("sem: open %s: %w", path, err)
	}
	defer f.Close()
	return mapFile(f, path)
}

// Create opens the named semaphore, creating it with the given initial
// value if it does not exist. A new semaphore becomes visible atomically,
// fully initialised, as with sem_open(O_CREAT).
func Create(dir, name string, value uint32) (*Semaphore, error) {
	path, err := semPath(dir, name)
	if err != nil {
		return nil, err
	}
	if s, err := Open(dir, name); err == nil {
		return s, nil
	} else if !errors.Is(err, ErrNotExist) {
		return nil, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".sem-*")
	if err != nil {
		return nil, fmt.Errorf("sem: create: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	defer tmp.Close()

	buf := make([]byte, semSize())
	if is64 {
		*(*uint64)(unsafe.Pointer(&buf[0])) = uint64(value)
	} else {
		*(*uint32)(unsafe.Pointer(&buf[0])) = value << 1
	}
	if _, err := tmp.Write(buf); err != nil {
		return nil, fmt.Errorf("sem: create: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		return nil, fmt.Errorf("sem: create: %w", err)
	}
	if err := os.Link(tmpName, path); err != nil && !errors.Is(err, fs.ErrExist) {
		return nil, fmt.Errorf("sem: create: %w", err)
	}
	// Either our file or a concurrent creator's is now in place.
	return Open(dir, name)
}

// Unlink removes the name. Open handles keep working.
func Unlink(dir, name string) error {
	path, err := semPath(dir, name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotExist, name)
		}
		return fmt.Errorf("sem: unlink: %w", err)
	}
	return nil
}

func semPath(dir, name string) (string, error) {
	fn, err := fileName(name)
	if err != nil {
		return "", err
	}
	if dir == "" {
		dir = DefaultDir
	}
	return filepath.Join(dir, fn), nil
}

func mapFile(f *os.File, path string) (*Semaphore, error) {
	mem, err := unix.Mmap(int(f.Fd()), 0, semSize(), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("sem: mmap %s: %w", path, err)
	}
	return &Semaphore{path: path, mem: mem}, nil
}

func (s *Semaphore) word64() *uint64 { return (*uint64)(unsafe.Pointer(&s.mem[0])) }
func (s *Semaphore) word32() *uint32 { return (*uint32)(unsafe.Pointer(&s.mem[0])) }

// Value returns the current count.
func (s *Semaphore) Value() int {
	if is64 {
		return int(uint32(atomic.LoadUint64(s.word64())))
	}
	return int(atomic.LoadUint32(s.word32()) >> 1)
}

// Post increments the count and wakes one waiter if any are blocked.
func (s *Semaphore) Post() error {
	if s.mem == nil {
		return ErrClosed
	}
	if is64 {
		d := atomic.AddUint64(s.word64(), 1) - 1
		if uint32(d) == ^uint32(0) {
			atomic.AddUint64(s.word64(), ^uint64(0))
			return fmt.Errorf("sem: post: %w", unix.EOVERFLOW)
		}
		if d>>32 != 0 {
			return futex(s.word32(), futexWake, 1, nil)
		}
		return nil
	}
	for {
		v := atomic.LoadUint32(s.word32())
		if v>>1 == ^uint32(0)>>1 {
			return fmt.Errorf("sem: post: %w", unix.EOVERFLOW)
		}
		if atomic.CompareAndSwapUint32(s.word32(), v, v+2) {
			if v&1 != 0 {
				return futex(s.word32(), futexWake, 1, nil)
			}
			return nil
		}
	}
}

// TryWait decrements the count if it is positive.
func (s *Semaphore) TryWait() bool {
	if s.mem == nil {
		return false
	}
	if is64 {
		for {
			d := atomic.LoadUint64(s.word64())
			if uint32(d) == 0 {
				return false
			}
			if atomic.CompareAndSwapUint64(s.word64(), d, d-1) {
				return true
			}
		}
	}
	for {
		v := atomic.LoadUint32(s.word32())
		if v>>1 == 0 {
			return false
		}
		if atomic.CompareAndSwapUint32(s.word32(), v, v-2) {
			return true
		}
	}
}

// Wait blocks until the count can be decremented or timeout elapses.
// A non-positive timeout waits forever.
func (s *Semaphore) Wait(timeout time.Duration) error {
	if s.mem == nil {
		return ErrClosed
	}
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		if s.TryWait() {
			return nil
		}
		var ts *unix.Timespec
		if !deadline.IsZero() {
			left := time.Until(deadline)
			if left <= 0 {
				return ErrTimeout
			}
			t := unix.NsecToTimespec(left.Nanoseconds())
			ts = &t
		}
		if err := s.block(ts); err != nil {
			return err
		}
	}
}

// block registers as a waiter and sleeps on the futex while the count is
// still zero.
func (s *Semaphore) block(ts *unix.Timespec) error {
	var err error
	if is64 {
		d := atomic.AddUint64(s.word64(), 1<<32)
		if uint32(d) == 0 {
			err = futex(s.word32(), futexWait, 0, ts)
		}
		atomic.AddUint64(s.word64(), ^uint64(1<<32-1))
	} else {
		v := atomic.LoadUint32(s.word32())
		if v>>1 != 0 {
			return nil
		}
		if v&1 == 0 && !atomic.CompareAndSwapUint32(s.word32(), v, v|1) {
			return nil
		}
		err = futex(s.word32(), futexWait, v|1, ts)
	}
	switch {
	case err == nil, errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR), errors.Is(err, unix.ETIMEDOUT):
		// The caller re-checks the count and the deadline.
		return nil
	default:
		return fmt.Errorf("sem: futex wait: %w", err)
	}
}

// Close unmaps the semaphore; the name stays.
func (s *Semaphore) Close() error {
	if s.mem == nil {
		return nil
	}
	err := unix.Munmap(s.mem)
	s.mem = nil
	return err
}

func futex(addr *uint32, op int, val uint32, ts *unix.Timespec) error {
	_, _, errno := unix.Syscall6(unix.SYS_FUTEX, uintptr(unsafe.Pointer(addr)), uintptr(op),
		uintptr(val), uintptr(unsafe.Pointer(ts)), 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}
