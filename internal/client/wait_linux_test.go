//go:build linux

package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"swtfb/internal/ipc"
	"swtfb/internal/model"
	"swtfb/internal/sem"
	"swtfb/internal/server"
	"swtfb/internal/sink"
)

func TestWaitForLastUpdateRoundTrip(t *testing.T) {
	dir := t.TempDir()
	q := ipc.NewMemQueue(8)
	rec := sink.NewRecorder()
	srv := server.New(q, rec, server.Options{SemDir: dir})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx)

	c := New(q, dir)
	if err := c.Update(ctx, model.LegacyUpdate{Region: model.Region{Width: 10, Height: 10}, WaveformMode: 2, UpdateMode: 1}); err != nil {
		t.Fatal(err)
	}
	if err := c.WaitForLastUpdate(ctx); err != nil {
		t.Fatal(err)
	}

	ops := rec.Ops()
	if len(ops) != 2 || ops[0].Kind != sink.OpDraw || ops[1].Kind != sink.OpWait || ops[1].Completed != 0 {
		t.Fatalf("ops = %+v", ops)
	}
	assertNoSemaphores(t, dir)
}

func TestWaitForLastUpdateTimesOut(t *testing.T) {
	dir := t.TempDir()
	c := New(ipc.NewMemQueue(1), dir)
	c.WaitTimeout = 50 * time.Millisecond

	start := time.Now()
	err := c.WaitForLastUpdate(context.Background())
	if !errors.Is(err, ErrWaitTimeout) {
		t.Fatalf("err = %v, want ErrWaitTimeout", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("timeout not honoured")
	}
	assertNoSemaphores(t, dir)
}

func TestWaitForLastUpdateIgnoresStaleSemaphore(t *testing.T) {
	dir := t.TempDir()
	// Left over by an earlier process with this pid, already posted.
	name := fmt.Sprintf("/swtfb.wait.%d.%d", os.Getpid(), waitSeq.Load()+1)
	stale, err := sem.Create(dir, name, 1)
	if err != nil {
		t.Fatal(err)
	}
	stale.Close()

	c := New(ipc.NewMemQueue(1), dir)
	c.WaitTimeout = 50 * time.Millisecond
	if err := c.WaitForLastUpdate(context.Background()); !errors.Is(err, ErrWaitTimeout) {
		t.Fatalf("err = %v, want ErrWaitTimeout", err)
	}
	assertNoSemaphores(t, dir)
}

func TestWaitForLastUpdateCancelled(t *testing.T) {
	dir := t.TempDir()
	c := New(ipc.NewMemQueue(1), dir)
	c.WaitTimeout = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)
	if err := c.WaitForLastUpdate(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func assertNoSemaphores(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("semaphore files left behind: %v", entries)
	}
}
