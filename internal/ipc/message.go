// Package ipc implements the update channel: a single FIFO of tagged,
// fixed-size messages flowing from any number of producers to the one
// update server.
//
// The payload layout is shared with existing producers, so it is fixed:
// a native long type tag followed by PayloadSize bytes holding one of
//
//	TypeUpdate  legacy mxcfb_update_data
//	TypeCoord   x1, y1, x2, y2, waveform, flags (int32 each)
//	TypeWait    NUL-terminated semaphore name
package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"

	"swtfb/internal/model"
)

// Type is the message tag. It must be checked before the payload is
// interpreted.
type Type int64

const (
	TypeInit   Type = 1
	TypeUpdate Type = 2
	TypeCoord  Type = 3
	TypeWait   Type = 4
)

func (t Type) String() string {
	switch t {
	case TypeInit:
		return "init"
	case TypeUpdate:
		return "update"
	case TypeCoord:
		return "coord"
	case TypeWait:
		return "wait"
	}
	return "type(" + strconv.FormatInt(int64(t), 10) + ")"
}

const (
	// PayloadSize is the size of the payload union.
	PayloadSize = 512
	// MaxSemName is the longest semaphore name that fits the payload with
	// its terminating NUL.
	MaxSemName = PayloadSize - 1

	// tagSize is sizeof(long) on the host.
	tagSize = strconv.IntSize / 8
	// FrameSize is tag plus payload, the unit exchanged with the kernel.
	FrameSize = tagSize + PayloadSize

	updateSize = 72
	coordSize  = 24
)

var (
	ErrWrongType      = errors.New("ipc: payload accessed through wrong message type")
	ErrShortMessage   = errors.New("ipc: short message")
	ErrNameTooLong    = errors.New("ipc: semaphore name too long")
	ErrEmptyName      = errors.New("ipc: empty semaphore name")
	ErrNegativeRegion = errors.New("ipc: negative region")
	ErrQueueClosed    = errors.New("ipc: queue closed")
	ErrUnsupported    = errors.New("ipc: message queues are not supported on this platform")
)

// Both supported targets (arm, x86) are little endian.
var byteOrder = binary.LittleEndian

// Message is one entry on the update channel.
type Message struct {
	Type    Type
	Payload [PayloadSize]byte
}

// NewUpdate builds a TypeUpdate message.
func NewUpdate(u model.LegacyUpdate) (Message, error) {
	r := u.Region
	if r.Width < 0 || r.Height < 0 || r.Left < 0 || r.Top < 0 {
		return Message{}, ErrNegativeRegion
	}
	m := Message{Type: TypeUpdate}
	p := m.Payload[:]
	// struct mxcfb_rect is top, left, width, height.
	byteOrder.PutUint32(p[0:], uint32(r.Top))
	byteOrder.PutUint32(p[4:], uint32(r.Left))
	byteOrder.PutUint32(p[8:], uint32(r.Width))
	byteOrder.PutUint32(p[12:], uint32(r.Height))
	byteOrder.PutUint32(p[16:], uint32(u.WaveformMode))
	byteOrder.PutUint32(p[20:], u.UpdateMode)
	byteOrder.PutUint32(p[24:], u.UpdateMarker)
	byteOrder.PutUint32(p[28:], uint32(u.Temp))
	byteOrder.PutUint32(p[32:], u.Flags)
	return m, nil
}

// NewCoord builds a TypeCoord message.
func NewCoord(c model.CoordUpdate) Message {
	m := Message{Type: TypeCoord}
	p := m.Payload[:]
	for i, v := range []int32{c.X1, c.Y1, c.X2, c.Y2, c.Waveform, c.Flags} {
		byteOrder.PutUint32(p[i*4:], uint32(v))
	}
	return m
}

// NewWait builds a TypeWait message for the named semaphore.
func NewWait(semName string) (Message, error) {
	if semName == "" {
		return Message{}, ErrEmptyName
	}
	if len(semName) > MaxSemName {
		return Message{}, fmt.Errorf("%w: %d bytes", ErrNameTooLong, len(semName))
	}
	m := Message{Type: TypeWait}
	copy(m.Payload[:], semName)
	return m, nil
}

// Update decodes a TypeUpdate payload.
func (m *Message) Update() (model.LegacyUpdate, error) {
	if m.Type != TypeUpdate {
		return model.LegacyUpdate{}, fmt.Errorf("%w: %s", ErrWrongType, m.Type)
	}
	p := m.Payload[:updateSize]
	return model.LegacyUpdate{
		Region: model.Region{
			Top:    int(byteOrder.Uint32(p[0:])),
			Left:   int(byteOrder.Uint32(p[4:])),
			Width:  int(byteOrder.Uint32(p[8:])),
			Height: int(byteOrder.Uint32(p[12:])),
		},
		WaveformMode: int32(byteOrder.Uint32(p[16:])),
		UpdateMode:   byteOrder.Uint32(p[20:]),
		UpdateMarker: byteOrder.Uint32(p[24:]),
		Temp:         int32(byteOrder.Uint32(p[28:])),
		Flags:        byteOrder.Uint32(p[32:]),
	}, nil
}

// Coord decodes a TypeCoord payload.
func (m *Message) Coord() (model.CoordUpdate, error) {
	if m.Type != TypeCoord {
		return model.CoordUpdate{}, fmt.Errorf("%w: %s", ErrWrongType, m.Type)
	}
	p := m.Payload[:coordSize]
	v := func(i int) int32 { return int32(byteOrder.Uint32(p[i*4:])) }
	return model.CoordUpdate{
		X1: v(0), Y1: v(1), X2: v(2), Y2: v(3),
		Waveform: v(4),
		Flags:    v(5),
	}, nil
}

// Wait decodes a TypeWait payload. The name ends at the first NUL; a
// payload without one is truncated to MaxSemName bytes.
func (m *Message) Wait() (model.WaitRequest, error) {
	if m.Type != TypeWait {
		return model.WaitRequest{}, fmt.Errorf("%w: %s", ErrWrongType, m.Type)
	}
	p := m.Payload[:MaxSemName]
	n := 0
	for n < len(p) && p[n] != 0 {
		n++
	}
	if n == 0 {
		return model.WaitRequest{}, ErrEmptyName
	}
	return model.WaitRequest{SemName: string(p[:n])}, nil
}

// MarshalFrame writes the kernel frame (tag + payload) into buf, which must
// be at least FrameSize bytes.
func (m *Message) MarshalFrame(buf []byte) error {
	if len(buf) < FrameSize {
		return ErrShortMessage
	}
	putTag(buf, m.Type)
	copy(buf[tagSize:], m.Payload[:])
	return nil
}

// UnmarshalFrame parses a kernel frame. n is the number of payload bytes
// the kernel delivered; anything shorter than the tag is rejected, a short
// payload is zero-padded.
func (m *Message) UnmarshalFrame(buf []byte, n int) error {
	if len(buf) < tagSize || n < 0 {
		return ErrShortMessage
	}
	m.Type = getTag(buf)
	m.Payload = [PayloadSize]byte{}
	end := tagSize + n
	if end > len(buf) {
		end = len(buf)
	}
	copy(m.Payload[:], buf[tagSize:end])
	return nil
}

func putTag(buf []byte, t Type) {
	if tagSize == 8 {
		byteOrder.PutUint64(buf, uint64(t))
		return
	}
	byteOrder.PutUint32(buf, uint32(t))
}

func getTag(buf []byte) Type {
	if tagSize == 8 {
		return Type(int64(byteOrder.Uint64(buf)))
	}
	return Type(int32(byteOrder.Uint32(buf)))
}
