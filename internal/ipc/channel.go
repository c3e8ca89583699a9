package ipc

import (
	"context"
	"sync"
)

// Sender is the producer side of the update channel.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

// Receiver is the consumer side. Receive blocks until a message arrives,
// ctx is done, or the channel fails. Messages come out in arrival order.
type Receiver interface {
	Receive(ctx context.Context) (Message, error)
}

// MemQueue is an in-process FIFO channel. It backs tests and dry runs where
// no kernel message queue is available.
type MemQueue struct {
	ch        chan Message
	closeOnce sync.Once
	done      chan struct{}
}

// NewMemQueue returns a queue that buffers up to capacity messages before
// Send blocks.
func NewMemQueue(capacity int) *MemQueue {
	if capacity < 0 {
		capacity = 0
	}
	return &MemQueue{
		ch:   make(chan Message, capacity),
		done: make(chan struct{}),
	}
}

func (q *MemQueue) Send(ctx context.Context, m Message) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	select {
	case q.ch <- m:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemQueue) Receive(ctx context.Context) (Message, error) {
	select {
	case m := <-q.ch:
		return m, nil
	case <-q.done:
		return Message{}, ErrQueueClosed
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Len reports the number of buffered messages.
func (q *MemQueue) Len() int {
	return len(q.ch)
}

// Close wakes blocked senders and receivers with ErrQueueClosed.
func (q *MemQueue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}
