package sink

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"

	"swtfb/internal/model"
	"swtfb/internal/surface"
)

type fakeConn struct {
	writes [][]byte
	reads  [][]byte
}

func (c *fakeConn) Tx(w, r []byte) error {
	c.writes = append(c.writes, append([]byte(nil), w...))
	if r == nil {
		return nil
	}
	if len(c.reads) == 0 {
		return errors.New("fakeConn: unexpected read")
	}
	copy(r, c.reads[0])
	c.reads = c.reads[1:]
	return nil
}

type fakePin struct{ levels []gpio.Level }

func (p *fakePin) Out(l gpio.Level) error {
	p.levels = append(p.levels, l)
	return nil
}

func (p *fakePin) Read() gpio.Level { return gpio.High }

// response builds what the controller clocks out for a read: a dummy word
// followed by vals.
func response(vals ...uint16) []byte {
	return append([]byte{0, 0}, words(vals...)...)
}

type transaction struct {
	preamble uint16
	body     []uint16
}

// transactions pairs each preamble Tx with the Tx that follows it.
func transactions(t *testing.T, writes [][]byte) []transaction {
	t.Helper()
	if len(writes)%2 != 0 {
		t.Fatalf("odd number of Tx calls: %d", len(writes))
	}
	var out []transaction
	for i := 0; i < len(writes); i += 2 {
		tr := transaction{preamble: binary.BigEndian.Uint16(writes[i])}
		for j := 0; j+1 < len(writes[i+1]); j += 2 {
			tr.body = append(tr.body, binary.BigEndian.Uint16(writes[i+1][j:]))
		}
		out = append(out, tr)
	}
	return out
}

// commandArgs returns the argument words written after cmd.
func commandArgs(trs []transaction, cmd uint16, n int) []uint16 {
	for i, tr := range trs {
		if tr.preamble != preambleCmd || len(tr.body) != 1 || tr.body[0] != cmd {
			continue
		}
		var args []uint16
		for _, a := range trs[i+1 : i+1+n] {
			args = append(args, a.body[0])
		}
		return args
	}
	return nil
}

func newTestIT8951(t *testing.T, w, h int) (*IT8951, *fakeConn) {
	t.Helper()
	surf, err := surface.New(w, h)
	if err != nil {
		t.Fatal(err)
	}
	d := NewIT8951(DefaultIT8951Config(), surf)
	conn := &fakeConn{}
	d.conn, d.cs, d.rst, d.hrdy = conn, &fakePin{}, &fakePin{}, &fakePin{}
	d.sleep = func(time.Duration) {}
	return d, conn
}

func devInfoResponse(w, h int) []byte {
	vals := make([]uint16, 20)
	vals[0], vals[1] = uint16(w), uint16(h)
	vals[2], vals[3] = 0x36e0, 0x0011
	// "v.0." packed low byte first.
	vals[4], vals[5] = 0x2e76, 0x2e30
	return response(vals...)
}

func TestIT8951Initialize(t *testing.T) {
	d, conn := newTestIT8951(t, 64, 32)
	conn.reads = [][]byte{devInfoResponse(1872, 1404)}

	if err := d.Initialize(); err != nil {
		t.Fatal(err)
	}
	info := d.Info()
	if info.Width != 1872 || info.Height != 1404 {
		t.Errorf("geometry = %dx%d", info.Width, info.Height)
	}
	if info.ImgBufAddr != 0x001136e0 {
		t.Errorf("img buf = %#x", info.ImgBufAddr)
	}
	if info.Firmware != "v.0." {
		t.Errorf("firmware = %q", info.Firmware)
	}

	trs := transactions(t, conn.writes)
	if args := commandArgs(trs, cmdRegWrite, 2); len(args) != 2 || args[0] != regLISAR+2 || args[1] != 0x0011 {
		t.Errorf("first LISAR write = %v", args)
	}
}

func TestIT8951InitializeRejectsSmallPanel(t *testing.T) {
	d, conn := newTestIT8951(t, 64, 32)
	conn.reads = [][]byte{devInfoResponse(32, 32)}
	if err := d.Initialize(); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Initialize err = %v, want ErrUnavailable", err)
	}
}

func TestIT8951DrawRawSync(t *testing.T) {
	d, conn := newTestIT8951(t, 64, 32)
	// One idle check before loading, one after the synced refresh.
	conn.reads = [][]byte{response(0), response(0)}

	err := d.DrawRaw(model.HardwareCommand{
		Region:   model.Region{Left: 5, Top: 2, Width: 6, Height: 3},
		Waveform: model.WaveformGL16,
		Flags:    model.FlagFull | model.FlagSync,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(conn.reads) != 0 {
		t.Errorf("%d readiness polls left unconsumed", len(conn.reads))
	}

	trs := transactions(t, conn.writes)
	load := commandArgs(trs, cmdLoadImg, 5)
	want := []uint16{loadImgArg, 4, 2, 8, 3}
	if len(load) != 5 {
		t.Fatalf("load args = %v", load)
	}
	for i := range want {
		if load[i] != want[i] {
			t.Fatalf("load args = %v, want %v", load, want)
		}
	}
	disp := commandArgs(trs, cmdDisplay, 5)
	if len(disp) != 5 || disp[4] != modeGL16 {
		t.Fatalf("display args = %v", disp)
	}
}

func TestIT8951FastDrawDoesNotWait(t *testing.T) {
	d, conn := newTestIT8951(t, 64, 32)
	conn.reads = [][]byte{response(0)}

	err := d.SendUpdate(model.Region{Width: 8, Height: 8}, model.WaveformDU, model.FlagFastDraw)
	if err != nil {
		t.Fatal(err)
	}
	disp := commandArgs(transactions(t, conn.writes), cmdDisplay, 5)
	if len(disp) != 5 || disp[4] != modeA2 {
		t.Fatalf("display args = %v", disp)
	}
}

func TestIT8951WaitForLastUpdatePolls(t *testing.T) {
	d, conn := newTestIT8951(t, 64, 32)
	conn.reads = [][]byte{response(1), response(1), response(0)}
	if err := d.WaitForLastUpdate(); err != nil {
		t.Fatal(err)
	}
	if len(conn.reads) != 0 {
		t.Fatalf("stopped polling early, %d left", len(conn.reads))
	}
}

func TestIT8951SplitsImageData(t *testing.T) {
	d, conn := newTestIT8951(t, 64, 32)
	d.maxTx = 101
	conn.reads = [][]byte{response(0)}

	if err := d.SendUpdate(model.Region{Width: 64, Height: 32}, model.WaveformGL16, 0); err != nil {
		t.Fatal(err)
	}
	// 64x32 at 4bpp is 1024 bytes: ten 100-byte pieces and a 24-byte tail.
	var pieces []int
	total := 0
	for _, w := range conn.writes {
		if len(w) > 100 {
			t.Fatalf("Tx of %d bytes exceeds the limit", len(w))
		}
		// Preambles and arguments are one word; a register read is two.
		if len(w) > 4 {
			pieces = append(pieces, len(w))
			total += len(w)
		}
	}
	if total != 1024 || len(pieces) != 11 || pieces[10] != 24 {
		t.Fatalf("image data pieces = %v (total %d)", pieces, total)
	}
}

func TestIT8951Uninitialized(t *testing.T) {
	surf, _ := surface.New(8, 8)
	d := NewIT8951(DefaultIT8951Config(), surf)
	if err := d.DrawRaw(model.HardwareCommand{Region: model.Region{Width: 4, Height: 4}}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("DrawRaw err = %v", err)
	}
	if err := d.WaitForLastUpdate(); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("WaitForLastUpdate err = %v", err)
	}
}

func TestNativeMode(t *testing.T) {
	tests := []struct {
		waveform int
		flags    model.Flags
		want     uint16
	}{
		{model.WaveformInit, model.FlagFull | model.FlagSync, modeGC16},
		{model.WaveformDU, 0, modeDU},
		{model.WaveformDU, model.FlagFastDraw, modeA2},
		{model.WaveformGC16, model.FlagFull, modeGC16},
		{model.WaveformGL16, 0, modeGL16},
		{model.WaveformHighlight, 0, modeGC16},
		{42, 0, modeGL16},
	}
	for _, tt := range tests {
		if got := nativeMode(tt.waveform, tt.flags); got != tt.want {
			t.Errorf("nativeMode(%d, %b) = %d, want %d", tt.waveform, tt.flags, got, tt.want)
		}
	}
}
