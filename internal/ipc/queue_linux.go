//go:build linux && !386

package ipc

import (
	"context"
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	appLog "swtfb/internal/log"
)

// DefaultKey is the well-known System V key of the update queue.
const DefaultKey = 0x2257c

// msgNoError makes msgrcv truncate an oversized message and remove it
// instead of failing with E2BIG and leaving it at the head of the queue.
// x/sys/unix does not export it.
const msgNoError = 0o10000

// Queue is a System V message queue carrying update messages.
type Queue struct {
	key int
	id  uintptr
}

// OpenQueue attaches to the queue identified by key, creating it if it does
// not exist yet.
func OpenQueue(key int) (*Queue, error) {
	id, _, errno := unix.Syscall(unix.SYS_MSGGET, uintptr(key), uintptr(unix.IPC_CREAT|0o666), 0)
	if errno != 0 {
		return nil, fmt.Errorf("ipc: msgget key=%#x: %w", key, errno)
	}
	return &Queue{key: key, id: id}, nil
}

// Key returns the System V key the queue was opened with.
func (q *Queue) Key() int { return q.key }

// Send enqueues m. It blocks while the queue is full; ctx is only checked
// when the kernel interrupts the call.
func (q *Queue) Send(ctx context.Context, m Message) error {
	var buf [FrameSize]byte
	if err := m.MarshalFrame(buf[:]); err != nil {
		return err
	}
	for {
		_, _, errno := unix.Syscall6(unix.SYS_MSGSND, q.id,
			uintptr(unsafe.Pointer(&buf[0])), PayloadSize, 0, 0, 0)
		if errno == 0 {
			return nil
		}
		if errno == unix.EINTR {
			if err := ctx.Err(); err != nil {
				return err
			}
			continue
		}
		if errno == unix.EIDRM || errno == unix.EINVAL {
			return fmt.Errorf("%w: %v", ErrQueueClosed, errno)
		}
		return fmt.Errorf("ipc: msgsnd: %w", errno)
	}
}

// Receive dequeues the oldest message of any type. The call blocks in the
// kernel; cancellation of ctx is observed when the call is interrupted.
// Oversized messages are truncated to PayloadSize and returned like any
// other, so a bad producer cannot wedge the queue.
func (q *Queue) Receive(ctx context.Context) (Message, error) {
	var buf [FrameSize]byte
	for {
		if err := ctx.Err(); err != nil {
			return Message{}, err
		}
		n, _, errno := unix.Syscall6(unix.SYS_MSGRCV, q.id,
			uintptr(unsafe.Pointer(&buf[0])), PayloadSize, 0, msgNoError, 0)
		switch errno {
		case 0:
		case unix.EINTR:
			continue
		case unix.E2BIG, unix.ENOMSG:
			appLog.Warn("msgrcv failed, skipping", "key", fmt.Sprintf("%#x", q.key), "err", errno)
			continue
		case unix.EIDRM, unix.EINVAL:
			return Message{}, fmt.Errorf("%w: %v", ErrQueueClosed, errno)
		}
		if errno != 0 {
			return Message{}, fmt.Errorf("ipc: msgrcv: %w", errno)
		}
		var m Message
		if err := m.UnmarshalFrame(buf[:], int(n)); err != nil {
			return Message{}, err
		}
		return m, nil
	}
}

// Remove destroys the kernel queue. Blocked peers fail with ErrQueueClosed.
func (q *Queue) Remove() error {
	_, _, errno := unix.Syscall(unix.SYS_MSGCTL, q.id, uintptr(unix.IPC_RMID), 0)
	if errno != 0 && !errors.Is(errno, unix.EINVAL) {
		return fmt.Errorf("ipc: msgctl IPC_RMID: %w", errno)
	}
	return nil
}
