package ipc

import (
	"context"
	"errors"
	"testing"
	"time"

	"swtfb/internal/model"
)

func TestMemQueueFIFO(t *testing.T) {
	ctx := context.Background()
	q := NewMemQueue(8)
	for i := 0; i < 5; i++ {
		if err := q.Send(ctx, NewCoord(model.CoordUpdate{X1: int32(i)})); err != nil {
			t.Fatal(err)
		}
	}
	if q.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", q.Len())
	}
	for i := 0; i < 5; i++ {
		m, err := q.Receive(ctx)
		if err != nil {
			t.Fatal(err)
		}
		c, _ := m.Coord()
		if c.X1 != int32(i) {
			t.Fatalf("message %d has X1=%d", i, c.X1)
		}
	}
}

func TestMemQueueCancelAndClose(t *testing.T) {
	q := NewMemQueue(0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := q.Receive(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Receive err = %v, want deadline", err)
	}

	errc := make(chan error, 1)
	go func() {
		_, err := q.Receive(context.Background())
		errc <- err
	}()
	q.Close()
	select {
	case err := <-errc:
		if !errors.Is(err, ErrQueueClosed) {
			t.Fatalf("Receive after Close err = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Receive did not wake on Close")
	}
	if err := q.Send(context.Background(), Message{}); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("Send after Close err = %v", err)
	}
}
