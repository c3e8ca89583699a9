package sink

import (
	"sync"

	"swtfb/internal/model"
)

// OpKind names a sink call.
type OpKind string

const (
	OpInit  OpKind = "init"
	OpDraw  OpKind = "draw"
	OpSend  OpKind = "send"
	OpWait  OpKind = "wait"
	OpGhost OpKind = "ghost"
)

// Op is one recorded sink call.
type Op struct {
	Kind     OpKind
	Region   model.Region
	Waveform int
	Flags    model.Flags
	// Completed is, for OpWait, the index of the last draw/send op that the
	// wait reported complete, or -1 if none had been issued.
	Completed int
}

// Recorder is a Sink that only remembers what it was asked to do.
type Recorder struct {
	mu         sync.Mutex
	ops        []Op
	lastUpdate int

	// InitErr is returned by Initialize.
	InitErr error
	// WaitGate, when set, is received from inside WaitForLastUpdate, so a
	// test can hold the "device" busy.
	WaitGate chan struct{}
	// Events, when set, receives every op as it is recorded.
	Events chan Op
}

func NewRecorder() *Recorder {
	return &Recorder{lastUpdate: -1}
}

func (r *Recorder) record(op Op) {
	r.mu.Lock()
	idx := len(r.ops)
	if op.Kind == OpDraw || op.Kind == OpSend {
		r.lastUpdate = idx
	}
	if op.Kind == OpWait {
		op.Completed = r.lastUpdate
	}
	r.ops = append(r.ops, op)
	events := r.Events
	r.mu.Unlock()

	if events != nil {
		events <- op
	}
}

// Ops returns a copy of the recorded calls.
func (r *Recorder) Ops() []Op {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Op(nil), r.ops...)
}

// Count returns how many ops of kind were recorded.
func (r *Recorder) Count(kind OpKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, op := range r.ops {
		if op.Kind == kind {
			n++
		}
	}
	return n
}

func (r *Recorder) Initialize() error {
	if r.InitErr != nil {
		return r.InitErr
	}
	r.record(Op{Kind: OpInit})
	return nil
}

func (r *Recorder) DrawRaw(cmd model.HardwareCommand) error {
	r.record(Op{Kind: OpDraw, Region: cmd.Region, Waveform: cmd.Waveform, Flags: cmd.Flags})
	return nil
}

func (r *Recorder) SendUpdate(reg model.Region, waveform int, flags model.Flags) error {
	r.record(Op{Kind: OpSend, Region: reg, Waveform: waveform, Flags: flags})
	return nil
}

func (r *Recorder) WaitForLastUpdate() error {
	if r.WaitGate != nil {
		<-r.WaitGate
	}
	r.record(Op{Kind: OpWait})
	return nil
}

func (r *Recorder) ClearGhosting() {
	r.record(Op{Kind: OpGhost})
}
