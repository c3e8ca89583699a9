// Package web serves a small read-only status API for the update server.
package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image/png"
	"net/http"
	"strconv"
	"time"

	"swtfb/internal/convert"
	"swtfb/internal/server"
	"swtfb/internal/surface"

	appLog "swtfb/internal/log"
)

// StatsSource is what the status endpoint reports on.
type StatsSource interface {
	Stats() server.Stats
}

// Server provides HTTP endpoints:
//   - /health       liveness, always "OK"
//   - /api/status   dispatch counters and panel geometry
//   - /preview.png  the current surface contents
type Server struct {
	stats   StatsSource
	surf    *surface.Surface
	started time.Time
	mux     *http.ServeMux
}

// NewServer constructs a new Server. surf may be nil, in which case the
// preview endpoint reports 503.
func NewServer(stats StatsSource, surf *surface.Surface) *Server {
	s := &Server{
		stats:   stats,
		surf:    surf,
		started: time.Now(),
		mux:     http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/preview.png", s.handlePreview)
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	hs := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = hs.Shutdown(shutdownCtx)
	}()

	appLog.Info("starting status server", "listen", "http://"+addr)
	if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// statusResponse is the JSON response shape for /api/status.
type statusResponse struct {
	Width         int          `json:"width"`
	Height        int          `json:"height"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	Stats         server.Stats `json:"stats"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	resp := statusResponse{
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Stats:         s.stats.Stats(),
	}
	if s.surf != nil {
		resp.Width, resp.Height = s.surf.Width(), s.surf.Height()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handlePreview renders the shared surface as PNG. Producers may be
// drawing concurrently, so the image can show a half-finished frame.
func (s *Server) handlePreview(w http.ResponseWriter, _ *http.Request) {
	if s.surf == nil {
		writeError(w, http.StatusServiceUnavailable, "surface not mapped")
		return
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, convert.ToNRGBA(s.surf, s.surf.Bounds())); err != nil {
		appLog.Error("preview encode failed", err)
		writeError(w, http.StatusInternalServerError, "failed to encode preview")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
