package ipc

import (
	"errors"
	"strings"
	"testing"

	"swtfb/internal/model"
)

func TestUpdateLayout(t *testing.T) {
	u := model.LegacyUpdate{
		Region:       model.Region{Left: 11, Top: 22, Width: 33, Height: 44},
		WaveformMode: -1,
		UpdateMode:   1,
		UpdateMarker: 99,
	}
	m, err := NewUpdate(u)
	if err != nil {
		t.Fatal(err)
	}
	// mxcfb_rect puts top before left.
	if got := byteOrder.Uint32(m.Payload[0:]); got != 22 {
		t.Errorf("payload[0:4] = %d, want top 22", got)
	}
	if got := byteOrder.Uint32(m.Payload[4:]); got != 11 {
		t.Errorf("payload[4:8] = %d, want left 11", got)
	}

	back, err := m.Update()
	if err != nil {
		t.Fatal(err)
	}
	if back.Region != u.Region || back.WaveformMode != -1 || back.UpdateMode != 1 || back.UpdateMarker != 99 {
		t.Errorf("Update() = %+v, want %+v", back, u)
	}
}

func TestNewUpdateRejectsNegativeRegion(t *testing.T) {
	_, err := NewUpdate(model.LegacyUpdate{Region: model.Region{Left: -1}})
	if !errors.Is(err, ErrNegativeRegion) {
		t.Fatalf("err = %v, want ErrNegativeRegion", err)
	}
}

func TestPayloadRequiresMatchingTag(t *testing.T) {
	m := NewCoord(model.CoordUpdate{X1: 1, Y1: 2, X2: 3, Y2: 4})
	if _, err := m.Update(); !errors.Is(err, ErrWrongType) {
		t.Errorf("Update() on coord err = %v", err)
	}
	if _, err := m.Wait(); !errors.Is(err, ErrWrongType) {
		t.Errorf("Wait() on coord err = %v", err)
	}
	m.Type = 77
	if _, err := m.Coord(); !errors.Is(err, ErrWrongType) {
		t.Errorf("Coord() on unknown err = %v", err)
	}
}

func TestCoordRegionIsInclusive(t *testing.T) {
	m := NewCoord(model.CoordUpdate{X1: 10, Y1: 20, X2: 19, Y2: 20, Waveform: 2, Flags: 1})
	c, err := m.Coord()
	if err != nil {
		t.Fatal(err)
	}
	want := model.Region{Left: 10, Top: 20, Width: 10, Height: 1}
	if r := c.Region(); r != want {
		t.Errorf("Region() = %v, want %v", r, want)
	}
	if c.Waveform != 2 || c.Flags != 1 {
		t.Errorf("Coord() = %+v", c)
	}
}

func TestWaitName(t *testing.T) {
	if _, err := NewWait(""); !errors.Is(err, ErrEmptyName) {
		t.Errorf("empty name err = %v", err)
	}
	if _, err := NewWait(strings.Repeat("x", MaxSemName+1)); !errors.Is(err, ErrNameTooLong) {
		t.Errorf("long name err = %v", err)
	}

	long := strings.Repeat("n", MaxSemName)
	m, err := NewWait(long)
	if err != nil {
		t.Fatal(err)
	}
	w, err := m.Wait()
	if err != nil {
		t.Fatal(err)
	}
	if w.SemName != long {
		t.Errorf("name length %d, want %d", len(w.SemName), MaxSemName)
	}

	// A producer that filled the whole payload without a terminator still
	// yields a bounded name.
	var raw Message
	raw.Type = TypeWait
	for i := range raw.Payload {
		raw.Payload[i] = 'a'
	}
	w, err = raw.Wait()
	if err != nil {
		t.Fatal(err)
	}
	if len(w.SemName) != MaxSemName {
		t.Errorf("unterminated name length %d, want %d", len(w.SemName), MaxSemName)
	}
}

func TestFrame(t *testing.T) {
	m, err := NewWait("/swtfb.wait.1")
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, FrameSize)
	if err := m.MarshalFrame(buf); err != nil {
		t.Fatal(err)
	}

	var got Message
	if err := got.UnmarshalFrame(buf, len("/swtfb.wait.1")+1); err != nil {
		t.Fatal(err)
	}
	if got.Type != TypeWait {
		t.Fatalf("type = %v", got.Type)
	}
	w, _ := got.Wait()
	if w.SemName != "/swtfb.wait.1" {
		t.Errorf("name = %q", w.SemName)
	}

	if err := m.MarshalFrame(buf[:FrameSize-1]); !errors.Is(err, ErrShortMessage) {
		t.Errorf("short marshal err = %v", err)
	}
	if err := got.UnmarshalFrame(buf[:2], 0); !errors.Is(err, ErrShortMessage) {
		t.Errorf("short unmarshal err = %v", err)
	}
}

func TestTypeString(t *testing.T) {
	if s := TypeCoord.String(); s != "coord" {
		t.Errorf("TypeCoord = %q", s)
	}
	if s := Type(9).String(); s != "type(9)" {
		t.Errorf("Type(9) = %q", s)
	}
}
