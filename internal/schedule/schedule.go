// Package schedule runs periodic maintenance as an ordinary producer: the
// jobs enqueue updates on the update channel, so they are ordered with
// everything else the server receives.
package schedule

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"swtfb/internal/ipc"
	"swtfb/internal/model"

	appLog "swtfb/internal/log"
)

// GhostPurger periodically requests a full-screen high fidelity refresh,
// which clears ghosting accumulated by partial updates.
type GhostPurger struct {
	cron   *cron.Cron
	tx     ipc.Sender
	region model.Region
}

// NewGhostPurger schedules purges of a width x height panel on spec, a
// standard five-field cron expression.
func NewGhostPurger(spec string, tx ipc.Sender, width, height int) (*GhostPurger, error) {
	g := &GhostPurger{
		cron:   cron.New(),
		tx:     tx,
		region: model.Region{Width: width, Height: height},
	}
	if _, err := g.cron.AddFunc(spec, g.Purge); err != nil {
		return nil, fmt.Errorf("schedule: ghost purge %q: %w", spec, err)
	}
	return g, nil
}

// Purge enqueues one full-screen GC16 update.
func (g *GhostPurger) Purge() {
	m, err := ipc.NewUpdate(model.LegacyUpdate{
		Region:       g.region,
		WaveformMode: model.WaveformGC16,
		UpdateMode:   model.UpdateModeFull,
	})
	if err != nil {
		appLog.Error("ghost purge: build update", err)
		return
	}
	if err := g.tx.Send(context.Background(), m); err != nil {
		appLog.Error("ghost purge: send update", err)
		return
	}
	appLog.Info("ghost purge queued", "region", g.region)
}

// Start runs the schedule until ctx is done.
func (g *GhostPurger) Start(ctx context.Context) {
	g.cron.Start()
	go func() {
		<-ctx.Done()
		<-g.cron.Stop().Done()
	}()
}
