//go:build !linux || 386

package ipc

import "context"

// DefaultKey is the well-known System V key of the update queue.
const DefaultKey = 0x2257c

// Queue is unavailable on this platform; OpenQueue always fails.
type Queue struct{}

func OpenQueue(key int) (*Queue, error) {
	return nil, ErrUnsupported
}

func (q *Queue) Key() int { return 0 }

func (q *Queue) Send(ctx context.Context, m Message) error {
	return ErrUnsupported
}

func (q *Queue) Receive(ctx context.Context) (Message, error) {
	return Message{}, ErrUnsupported
}

func (q *Queue) Remove() error { return ErrUnsupported }
