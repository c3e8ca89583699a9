package web

import (
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"swtfb/internal/model"
	"swtfb/internal/server"
	"swtfb/internal/surface"
)

type fixedStats server.Stats

func (f fixedStats) Stats() server.Stats { return server.Stats(f) }

func TestHealth(t *testing.T) {
	s := NewServer(fixedStats{}, nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "OK" {
		t.Fatalf("health = %d %q", rr.Code, rr.Body.String())
	}
}

func TestStatus(t *testing.T) {
	surf, _ := surface.New(40, 30)
	st := fixedStats{
		Updates:     3,
		Waits:       1,
		LastCommand: &model.HardwareCommand{Waveform: 1, Flags: model.FlagFastDraw},
	}
	s := NewServer(st, surf)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d", rr.Code)
	}
	var resp statusResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Width != 40 || resp.Height != 30 || resp.Stats.Updates != 3 || resp.Stats.Waits != 1 {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.Stats.LastCommand == nil || resp.Stats.LastCommand.Flags != model.FlagFastDraw {
		t.Fatalf("last command = %+v", resp.Stats.LastCommand)
	}

	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/status", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST status code = %d", rr.Code)
	}
}

func TestPreview(t *testing.T) {
	surf, _ := surface.New(8, 4)
	surf.SetRGB565(1, 1, 0xffff)
	s := NewServer(fixedStats{}, surf)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/preview.png", nil))
	if rr.Code != http.StatusOK || rr.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("preview = %d %q", rr.Code, rr.Header().Get("Content-Type"))
	}
	img, err := png.Decode(rr.Body)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 8 || b.Dy() != 4 {
		t.Fatalf("bounds = %v", b)
	}
	if r, _, _, _ := img.At(1, 1).RGBA(); r != 0xffff {
		t.Fatalf("pixel red = %#x", r)
	}

	rr = httptest.NewRecorder()
	NewServer(fixedStats{}, nil).Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/preview.png", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("preview without surface = %d", rr.Code)
	}
}
