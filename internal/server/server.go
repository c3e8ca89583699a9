// Package server implements the update server's dispatch loop: the single
// owner of the update channel's consumer side and of all ordering against
// the device sink.
package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"swtfb/internal/ipc"
	"swtfb/internal/model"
	"swtfb/internal/sem"
	"swtfb/internal/sink"
	"swtfb/internal/waveform"

	appLog "swtfb/internal/log"
)

// Options tune a Server. The zero value is usable.
type Options struct {
	// SemDir is where named semaphores of wait requests are looked up.
	// Empty means sem.DefaultDir.
	SemDir string
}

// Stats are counters about dispatched messages.
type Stats struct {
	Updates     uint64 `json:"updates"`
	Coords      uint64 `json:"coords"`
	Waits       uint64 `json:"waits"`
	WaitMisses  uint64 `json:"wait_misses"`
	Unknown     uint64 `json:"unknown"`
	Corrections uint64 `json:"corrections"`
	Syncs       uint64 `json:"syncs"`
	FastDraws   uint64 `json:"fast_draws"`
	SinkErrors  uint64 `json:"sink_errors"`

	LastCommand *model.HardwareCommand `json:"last_command,omitempty"`
	LastAt      time.Time              `json:"last_at,omitempty"`
}

// Server drains an update channel into a device sink, one message at a
// time. A wait request blocks the loop until the device is idle, which
// makes it a barrier for every producer.
type Server struct {
	rx     ipc.Receiver
	sink   sink.Sink
	semDir string

	mu    sync.Mutex
	stats Stats
}

func New(rx ipc.Receiver, s sink.Sink, opts Options) *Server {
	return &Server{rx: rx, sink: s, semDir: opts.SemDir}
}

// Serve runs the dispatch loop until ctx is cancelled or the channel
// fails. It never returns nil.
func (s *Server) Serve(ctx context.Context) error {
	for {
		m, err := s.rx.Receive(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}
		s.Dispatch(m)
	}
}

// Dispatch routes one message. Unknown tags are logged and dropped.
func (s *Server) Dispatch(m ipc.Message) {
	switch m.Type {
	case ipc.TypeUpdate:
		u, err := m.Update()
		if err != nil {
			s.unknown(m, err)
			return
		}
		s.doUpdate(u)
	case ipc.TypeCoord:
		c, err := m.Coord()
		if err != nil {
			s.unknown(m, err)
			return
		}
		s.doCoord(c)
	case ipc.TypeWait:
		w, err := m.Wait()
		// An empty name still waits; only the post is skipped.
		if err != nil && !errors.Is(err, ipc.ErrEmptyName) {
			s.unknown(m, err)
			return
		}
		s.doWait(w)
	default:
		s.unknown(m, nil)
	}
}

func (s *Server) unknown(m ipc.Message, err error) {
	s.mu.Lock()
	s.stats.Unknown++
	s.mu.Unlock()
	if err != nil {
		appLog.Warn("dropping malformed message", "type", m.Type, "err", err)
		return
	}
	appLog.Warn("unknown message type", "type", m.Type)
}

// ghostCounter counts corrections while forwarding to the sink.
type ghostCounter struct{ s *Server }

func (g ghostCounter) ClearGhosting() {
	g.s.mu.Lock()
	g.s.stats.Corrections++
	g.s.mu.Unlock()
	g.s.sink.ClearGhosting()
}

func (s *Server) doUpdate(u model.LegacyUpdate) {
	appLog.Debug("dirty region", "region", u.Region)

	cmd := waveform.Translate(u, ghostCounter{s})

	appLog.Debug("update",
		"waveform_mode", u.WaveformMode,
		"update_mode", u.UpdateMode,
		"update_marker", u.UpdateMarker,
		"waveform", cmd.Waveform,
		"flags", uint32(cmd.Flags))

	err := s.sink.DrawRaw(cmd)

	s.mu.Lock()
	s.stats.Updates++
	if cmd.Flags&model.FlagSync != 0 {
		s.stats.Syncs++
	}
	if cmd.Flags == model.FlagFastDraw {
		s.stats.FastDraws++
	}
	s.stats.LastCommand = &cmd
	s.stats.LastAt = time.Now()
	if err != nil {
		s.stats.SinkErrors++
	}
	s.mu.Unlock()

	if err != nil {
		appLog.Error("draw failed", err, "region", cmd.Region, "waveform", cmd.Waveform)
	}
}

func (s *Server) doCoord(c model.CoordUpdate) {
	r := c.Region()
	err := s.sink.SendUpdate(r, int(c.Waveform), model.Flags(c.Flags))

	s.mu.Lock()
	s.stats.Coords++
	s.stats.LastCommand = &model.HardwareCommand{Region: r, Waveform: int(c.Waveform), Flags: model.Flags(c.Flags)}
	s.stats.LastAt = time.Now()
	if err != nil {
		s.stats.SinkErrors++
	}
	s.mu.Unlock()

	if err != nil {
		appLog.Error("send update failed", err, "region", r, "waveform", c.Waveform)
	}
}

// doWait blocks until the device reports the last update complete, then
// posts the requester's semaphore. A semaphore that cannot be opened is
// ignored: the requester is expected to time out its own wait.
func (s *Server) doWait(w model.WaitRequest) {
	if err := s.sink.WaitForLastUpdate(); err != nil {
		s.mu.Lock()
		s.stats.SinkErrors++
		s.mu.Unlock()
		appLog.Error("wait for last update failed", err)
	}

	posted := s.post(w.SemName)

	s.mu.Lock()
	s.stats.Waits++
	if !posted {
		s.stats.WaitMisses++
	}
	s.mu.Unlock()
}

func (s *Server) post(name string) bool {
	h, err := sem.Open(s.semDir, name)
	if err != nil {
		if errors.Is(err, sem.ErrNotExist) {
			appLog.Debug("wait semaphore not found", "name", name)
		} else {
			appLog.Debug("wait semaphore unavailable", "name", name, "err", err)
		}
		return false
	}
	defer h.Close()
	if err := h.Post(); err != nil {
		appLog.Debug("wait semaphore post failed", "name", name, "err", err)
		return false
	}
	return true
}

// Stats returns a snapshot of the counters.
func (s *Server) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	if st.LastCommand != nil {
		c := *st.LastCommand
		st.LastCommand = &c
	}
	return st
}
