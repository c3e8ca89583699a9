// Package client is the producer side of the update channel: it announces
// finished regions of the shared surface and waits for the panel to catch
// up.
package client

import (
	"context"
	"errors"
	"fmt"
	"image/draw"
	"os"
	"sync/atomic"
	"time"

	"swtfb/internal/ipc"
	"swtfb/internal/model"
	"swtfb/internal/sem"
	"swtfb/internal/surface"
)

// DefaultWaitTimeout bounds WaitForLastUpdate when ctx has no deadline. The
// server never reports a failed wake-up, so an unbounded wait could hang.
const DefaultWaitTimeout = 5 * time.Second

// ErrWaitTimeout means the server did not confirm completion in time.
var ErrWaitTimeout = errors.New("client: timed out waiting for update completion")

var waitSeq atomic.Uint64

// Client sends update requests to the server.
type Client struct {
	tx     ipc.Sender
	semDir string

	// WaitTimeout overrides DefaultWaitTimeout.
	WaitTimeout time.Duration
}

// New returns a client sending on tx. semDir is where wait semaphores are
// created; empty means sem.DefaultDir.
func New(tx ipc.Sender, semDir string) *Client {
	return &Client{tx: tx, semDir: semDir, WaitTimeout: DefaultWaitTimeout}
}

// Update announces that the pixels of u.Region are final.
func (c *Client) Update(ctx context.Context, u model.LegacyUpdate) error {
	m, err := ipc.NewUpdate(u)
	if err != nil {
		return err
	}
	if err := c.tx.Send(ctx, m); err != nil {
		return fmt.Errorf("client: send update: %w", err)
	}
	return nil
}

// SendCoord sends an update already expressed in hardware terms.
func (c *Client) SendCoord(ctx context.Context, cu model.CoordUpdate) error {
	if err := c.tx.Send(ctx, ipc.NewCoord(cu)); err != nil {
		return fmt.Errorf("client: send coord update: %w", err)
	}
	return nil
}

// Paint runs fn against the surface and then announces the region fn
// reports as drawn. Drawing always completes before the update is sent.
func (c *Client) Paint(ctx context.Context, s *surface.Surface, waveform int32, mode uint32, fn func(draw.Image) model.Region) error {
	r := fn(s)
	if r.Width <= 0 || r.Height <= 0 {
		return nil
	}
	return c.Update(ctx, model.LegacyUpdate{Region: r, WaveformMode: waveform, UpdateMode: mode})
}

// WaitForLastUpdate blocks until every update sent before it has reached
// the panel. It creates a private semaphore, asks the server to post it,
// and removes it again before returning.
func (c *Client) WaitForLastUpdate(ctx context.Context) error {
	name := fmt.Sprintf("/swtfb.wait.%d.%d", os.Getpid(), waitSeq.Add(1))
	// A crashed process with the same pid may have left this name behind,
	// possibly already posted.
	if err := sem.Unlink(c.semDir, name); err != nil && !errors.Is(err, sem.ErrNotExist) {
		return fmt.Errorf("client: remove stale wait semaphore: %w", err)
	}
	h, err := sem.Create(c.semDir, name, 0)
	if err != nil {
		return fmt.Errorf("client: create wait semaphore: %w", err)
	}
	defer func() {
		h.Close()
		_ = sem.Unlink(c.semDir, name)
	}()

	m, err := ipc.NewWait(name)
	if err != nil {
		return err
	}
	if err := c.tx.Send(ctx, m); err != nil {
		return fmt.Errorf("client: send wait: %w", err)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		timeout := c.WaitTimeout
		if timeout <= 0 {
			timeout = DefaultWaitTimeout
		}
		deadline = time.Now().Add(timeout)
	}

	// Wait in slices so cancellation of ctx is noticed.
	const slice = 100 * time.Millisecond
	for {
		left := time.Until(deadline)
		if left <= 0 {
			return ErrWaitTimeout
		}
		err := h.Wait(min(left, slice))
		if err == nil {
			return nil
		}
		if !errors.Is(err, sem.ErrTimeout) {
			return fmt.Errorf("client: wait: %w", err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(ctxErr, context.DeadlineExceeded) {
			return ctxErr
		}
	}
}
