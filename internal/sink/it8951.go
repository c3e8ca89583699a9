package sink

import (
	"encoding/binary"
	"fmt"
	"image"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"swtfb/internal/convert"
	"swtfb/internal/model"
	"swtfb/internal/surface"

	appLog "swtfb/internal/log"
)

// IT8951 SPI preambles. Every transfer starts with one of these words.
const (
	preambleCmd   = 0x6000
	preambleWrite = 0x0000
	preambleRead  = 0x1000
)

// IT8951 commands.
const (
	cmdSysRun     = 0x0001
	cmdRegRead    = 0x0010
	cmdRegWrite   = 0x0011
	cmdLoadImg    = 0x0021
	cmdLoadImgEnd = 0x0022
	cmdDisplay    = 0x0034
	cmdVCOM       = 0x0039
	cmdDevInfo    = 0x0302
)

// IT8951 registers.
const (
	regLISAR  = 0x0208 // image buffer base address, low word; high word at +2
	regLUTAFS = 0x1224 // non-zero while the LUT engine is busy
)

// Native display modes of the controller.
const (
	modeInit = 0
	modeDU   = 1
	modeGC16 = 2
	modeGL16 = 3
	modeA2   = 4
)

// Load image area argument: big-endian words, 4bpp, no rotation.
const loadImgArg = 1<<8 | 2<<4

// IT8951Config describes the wiring of an IT8951 controller board.
type IT8951Config struct {
	// Port is the periph SPI port name; empty selects the default port.
	Port  string
	MaxHz int64

	CSPin   string
	RSTPin  string
	HRDYPin string

	// VCOM in millivolts (absolute value). Zero keeps the board default.
	VCOM int

	// ReadyTimeout bounds every wait on the HRDY handshake and on the LUT
	// engine.
	ReadyTimeout time.Duration
}

// DefaultIT8951Config matches the common Raspberry Pi IT8951 HAT.
func DefaultIT8951Config() IT8951Config {
	return IT8951Config{
		MaxHz:        12_000_000,
		CSPin:        "GPIO8",
		RSTPin:       "GPIO17",
		HRDYPin:      "GPIO24",
		ReadyTimeout: 5 * time.Second,
	}
}

// DeviceInfo is the panel information reported by the controller.
type DeviceInfo struct {
	Width, Height int
	ImgBufAddr    uint32
	Firmware      string
	LUT           string
}

// txer is the part of spi.Conn the driver uses.
type txer interface {
	Tx(w, r []byte) error
}

// limiter is implemented by connections with a per-transfer size cap, such
// as spidev and its bufsiz module parameter.
type limiter interface {
	MaxTxSize() int
}

type outPin interface {
	Out(l gpio.Level) error
}

type inPin interface {
	Read() gpio.Level
}

// IT8951 drives an IT8951 e-paper controller over SPI, reading pixels
// from the shared surface.
type IT8951 struct {
	cfg  IT8951Config
	surf *surface.Surface

	mu   sync.Mutex
	conn txer
	cs   outPin
	rst  outPin
	hrdy inPin
	info DeviceInfo
	// maxTx caps a single Tx; 0 means no limit.
	maxTx int

	// sleep is swapped in tests.
	sleep func(time.Duration)
}

// NewIT8951 returns an uninitialised driver. Initialize opens the hardware.
func NewIT8951(cfg IT8951Config, surf *surface.Surface) *IT8951 {
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = DefaultIT8951Config().ReadyTimeout
	}
	return &IT8951{cfg: cfg, surf: surf, sleep: time.Sleep}
}

// Info returns what the controller reported during Initialize.
func (d *IT8951) Info() DeviceInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.info
}

// Initialize opens SPI and GPIO through periph, resets the controller and
// reads the panel geometry.
func (d *IT8951) Initialize() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn == nil {
		if err := d.open(); err != nil {
			return err
		}
	}

	d.reset()
	if err := d.command(cmdSysRun); err != nil {
		return fmt.Errorf("sink: sys run: %w", err)
	}
	info, err := d.readDevInfo()
	if err != nil {
		return err
	}
	d.info = info
	appLog.Info("it8951 ready",
		"width", info.Width, "height", info.Height,
		"img_buf", fmt.Sprintf("%#x", info.ImgBufAddr),
		"firmware", info.Firmware, "lut", info.LUT)

	if d.surf != nil && (info.Width < d.surf.Width() || info.Height < d.surf.Height()) {
		return fmt.Errorf("%w: panel %dx%d smaller than surface %dx%d", ErrUnavailable,
			info.Width, info.Height, d.surf.Width(), d.surf.Height())
	}

	if err := d.writeReg(regLISAR+2, uint16(info.ImgBufAddr>>16)); err != nil {
		return err
	}
	if err := d.writeReg(regLISAR, uint16(info.ImgBufAddr)); err != nil {
		return err
	}
	if d.cfg.VCOM != 0 {
		if err := d.commandArgs(cmdVCOM, 1, uint16(d.cfg.VCOM)); err != nil {
			return fmt.Errorf("sink: set vcom: %w", err)
		}
	}
	return nil
}

func (d *IT8951) open() error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("%w: periph host init: %v", ErrUnavailable, err)
	}
	port, err := spireg.Open(d.cfg.Port)
	if err != nil {
		return fmt.Errorf("%w: open spi %q: %v", ErrUnavailable, d.cfg.Port, err)
	}
	conn, err := port.Connect(physic.Frequency(d.cfg.MaxHz)*physic.Hertz, spi.Mode0, 8)
	if err != nil {
		_ = port.Close()
		return fmt.Errorf("%w: connect spi: %v", ErrUnavailable, err)
	}

	pin := func(name string) (gpio.PinIO, error) {
		p := gpioreg.ByName(name)
		if p == nil {
			return nil, fmt.Errorf("%w: gpio %s not found", ErrUnavailable, name)
		}
		return p, nil
	}
	cs, err := pin(d.cfg.CSPin)
	if err != nil {
		return err
	}
	rst, err := pin(d.cfg.RSTPin)
	if err != nil {
		return err
	}
	hrdy, err := pin(d.cfg.HRDYPin)
	if err != nil {
		return err
	}
	if err := cs.Out(gpio.High); err != nil {
		return fmt.Errorf("%w: gpio %s: %v", ErrUnavailable, d.cfg.CSPin, err)
	}
	if err := rst.Out(gpio.High); err != nil {
		return fmt.Errorf("%w: gpio %s: %v", ErrUnavailable, d.cfg.RSTPin, err)
	}
	if err := hrdy.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		return fmt.Errorf("%w: gpio %s: %v", ErrUnavailable, d.cfg.HRDYPin, err)
	}

	d.conn, d.cs, d.rst, d.hrdy = conn, cs, rst, hrdy
	if l, ok := conn.(limiter); ok {
		d.maxTx = l.MaxTxSize()
	}
	return nil
}

func (d *IT8951) reset() {
	_ = d.rst.Out(gpio.Low)
	d.sleep(100 * time.Millisecond)
	_ = d.rst.Out(gpio.High)
	d.sleep(100 * time.Millisecond)
}

// waitHRDY waits for the host-ready handshake line.
func (d *IT8951) waitHRDY() error {
	deadline := time.Now().Add(d.cfg.ReadyTimeout)
	for d.hrdy.Read() == gpio.Low {
		if time.Now().After(deadline) {
			return fmt.Errorf("sink: it8951 not ready after %s", d.cfg.ReadyTimeout)
		}
		d.sleep(100 * time.Microsecond)
	}
	return nil
}

// transfer runs one chip-selected transaction: the preamble, then body.
// When read is non-nil it receives len(read) bytes clocked out after the
// preamble and a dummy word.
func (d *IT8951) transfer(preamble uint16, body []byte, read []byte) error {
	if err := d.waitHRDY(); err != nil {
		return err
	}
	_ = d.cs.Out(gpio.Low)
	defer d.cs.Out(gpio.High)

	if err := d.conn.Tx(words(preamble), nil); err != nil {
		return err
	}
	if err := d.waitHRDY(); err != nil {
		return err
	}
	if read != nil {
		buf := make([]byte, 2+len(read))
		if err := d.conn.Tx(make([]byte, len(buf)), buf); err != nil {
			return err
		}
		copy(read, buf[2:])
		return nil
	}
	return d.write(body)
}

// write sends body in transfers no larger than maxTx, rounded down to
// whole 16-bit words. Chip select stays asserted across the pieces.
func (d *IT8951) write(body []byte) error {
	size := d.maxTx &^ 1
	if size <= 0 || len(body) <= size {
		return d.conn.Tx(body, nil)
	}
	for len(body) > 0 {
		n := min(size, len(body))
		if err := d.conn.Tx(body[:n], nil); err != nil {
			return err
		}
		body = body[n:]
	}
	return nil
}

func (d *IT8951) command(cmd uint16) error {
	return d.transfer(preambleCmd, words(cmd), nil)
}

func (d *IT8951) writeData(vals ...uint16) error {
	return d.transfer(preambleWrite, words(vals...), nil)
}

func (d *IT8951) commandArgs(cmd uint16, args ...uint16) error {
	if err := d.command(cmd); err != nil {
		return err
	}
	for _, a := range args {
		if err := d.writeData(a); err != nil {
			return err
		}
	}
	return nil
}

func (d *IT8951) readWords(n int) ([]uint16, error) {
	buf := make([]byte, 2*n)
	if err := d.transfer(preambleRead, nil, buf); err != nil {
		return nil, err
	}
	out := make([]uint16, n)
	for i := range out {
		out[i] = binary.BigEndian.Uint16(buf[2*i:])
	}
	return out, nil
}

func (d *IT8951) writeReg(reg, val uint16) error {
	if err := d.commandArgs(cmdRegWrite, reg, val); err != nil {
		return fmt.Errorf("sink: write reg %#04x: %w", reg, err)
	}
	return nil
}

func (d *IT8951) readReg(reg uint16) (uint16, error) {
	if err := d.commandArgs(cmdRegRead, reg); err != nil {
		return 0, fmt.Errorf("sink: read reg %#04x: %w", reg, err)
	}
	v, err := d.readWords(1)
	if err != nil {
		return 0, fmt.Errorf("sink: read reg %#04x: %w", reg, err)
	}
	return v[0], nil
}

func (d *IT8951) readDevInfo() (DeviceInfo, error) {
	if err := d.command(cmdDevInfo); err != nil {
		return DeviceInfo{}, fmt.Errorf("sink: device info: %w", err)
	}
	w, err := d.readWords(20)
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("sink: device info: %w", err)
	}
	return DeviceInfo{
		Width:      int(w[0]),
		Height:     int(w[1]),
		ImgBufAddr: uint32(w[3])<<16 | uint32(w[2]),
		Firmware:   wordString(w[4:12]),
		LUT:        wordString(w[12:20]),
	}, nil
}

// waitDisplayReady polls the LUT engine until the last refresh is done.
func (d *IT8951) waitDisplayReady() error {
	deadline := time.Now().Add(d.cfg.ReadyTimeout)
	for {
		v, err := d.readReg(regLUTAFS)
		if err != nil {
			return err
		}
		if v == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("sink: display busy after %s", d.cfg.ReadyTimeout)
		}
		d.sleep(time.Millisecond)
	}
}

// nativeMode picks the controller mode for a waveform/flags pair. The
// controller offers fewer algorithms than the legacy codes; init and
// highlight fall back to GC16.
func nativeMode(waveform int, flags model.Flags) uint16 {
	if flags&model.FlagFastDraw != 0 {
		return modeA2
	}
	switch waveform {
	case model.WaveformDU:
		return modeDU
	case model.WaveformGL16:
		return modeGL16
	case model.WaveformInit, model.WaveformGC16, model.WaveformHighlight:
		return modeGC16
	}
	return modeGL16
}

// refresh uploads r from the surface and starts a display refresh. The
// caller holds d.mu.
func (d *IT8951) refresh(r image.Rectangle, mode uint16, wait bool) error {
	if d.conn == nil {
		return ErrUnavailable
	}
	r = convert.AlignGray4(r, d.surf.Bounds())
	if r.Empty() {
		return nil
	}

	// The previous refresh must finish before its image buffer is reused.
	if err := d.waitDisplayReady(); err != nil {
		return err
	}

	x, y, w, h := uint16(r.Min.X), uint16(r.Min.Y), uint16(r.Dx()), uint16(r.Dy())
	if err := d.commandArgs(cmdLoadImg, loadImgArg, x, y, w, h); err != nil {
		return fmt.Errorf("sink: load image area: %w", err)
	}
	if err := d.transfer(preambleWrite, convert.PackGray4(d.surf, r), nil); err != nil {
		return fmt.Errorf("sink: load image data: %w", err)
	}
	if err := d.command(cmdLoadImgEnd); err != nil {
		return fmt.Errorf("sink: load image end: %w", err)
	}
	if err := d.commandArgs(cmdDisplay, x, y, w, h, mode); err != nil {
		return fmt.Errorf("sink: display area: %w", err)
	}
	if wait {
		return d.waitDisplayReady()
	}
	return nil
}

func (d *IT8951) DrawRaw(cmd model.HardwareCommand) error {
	return d.SendUpdate(cmd.Region, cmd.Waveform, cmd.Flags)
}

func (d *IT8951) SendUpdate(reg model.Region, waveform int, flags model.Flags) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	mode := nativeMode(waveform, flags)
	wait := flags&model.FlagSync != 0 && flags&model.FlagFastDraw == 0
	return d.refresh(reg.Rect(), mode, wait)
}

func (d *IT8951) WaitForLastUpdate() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return ErrUnavailable
	}
	return d.waitDisplayReady()
}

// ClearGhosting redraws the whole surface with a GC16 pass and waits for
// it, so the corrected update that follows starts from a clean panel.
func (d *IT8951) ClearGhosting() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.refresh(d.surf.Bounds(), modeGC16, true); err != nil {
		appLog.Error("clear ghosting failed", err)
	}
}

func words(vals ...uint16) []byte {
	b := make([]byte, 2*len(vals))
	for i, v := range vals {
		binary.BigEndian.PutUint16(b[2*i:], v)
	}
	return b
}

// wordString decodes a NUL-padded string the controller packs two bytes per
// word, high byte last.
func wordString(ws []uint16) string {
	b := make([]byte, 0, 2*len(ws))
	for _, w := range ws {
		b = append(b, byte(w), byte(w>>8))
	}
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
