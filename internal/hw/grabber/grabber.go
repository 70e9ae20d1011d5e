package grabber

import (
	"errors"
	"fmt"

	"github.com/cjeanneret/GrabGo/internal/debug"
)

// ErrAborted is returned by Pop when a pending (or the next) pop has been
// cancelled via CancelPop. It is the only way a blocked Pop returns
// without a frame.
var ErrAborted = errors.New("frame pop aborted")

// Grabber is the abstract vendor session for one open camera: GenICam
// string/enum feature access on the remote device plus stream and
// buffer-pool operations. This allows plugging in a runtime-backed
// implementation or the simulated camera for development on PC.
//
// Pop is the only call that may block for an unbounded time; CancelPop
// releases it from another goroutine.
type Grabber interface {
	// Feature access (remote device module).
	GetFloat(name string) (float64, error)
	SetFloat(name string, v float64) error
	GetInt(name string) (int64, error)
	SetInt(name string, v int64) error
	GetString(name string) (string, error)
	SetString(name, v string) error
	Execute(name string) error
	EnumEntries(name string) ([]string, error)

	// Feature introspection.
	Writable(name string) (bool, error)
	Unit(name string) (string, error)

	// Stream and buffer pool.
	ReallocBuffers(n int) error
	Start() error
	Stop() error
	Pop() (*Buffer, error)
	CancelPop()

	// Current frame geometry as the stream sees it.
	Width() (int64, error)
	Height() (int64, error)

	Close() error
}

// Buffer is one delivered frame inside the session's buffer pool.
// It is a transient handle: the caller must Release it (on every path)
// before the pool can reuse the memory.
type Buffer struct {
	Data            []byte
	Width           int64
	Height          int64 // nominal height at delivery time
	DeliveredHeight int64 // rows actually delivered; may be < Height
	PixelFormat     string
	TimestampNS     uint64

	release func()
}

// Size returns the delivered byte count.
func (b *Buffer) Size() int {
	return len(b.Data)
}

// Release returns the buffer to the pool. Safe to call once; a second
// call is a no-op.
func (b *Buffer) Release() {
	if b.release != nil {
		r := b.release
		b.release = nil
		r()
	}
}

// CameraInfo identifies one discoverable camera.
type CameraInfo struct {
	Index  int
	Vendor string
	Model  string
	Serial string
}

// Backend enumerates cameras and opens sessions to them.
type Backend interface {
	Discover() ([]CameraInfo, error)
	Open(index int) (Grabber, error)
	Close() error
}

// NewBackend creates a backend based on the chosen mode.
// If mock is true, returns the simulated VP-151MX backend (for dev/test).
// A runtime-backed backend has to link against the vendor GenTL producer
// and is selected by its own constructor; this entry point only knows
// the simulator.
func NewBackend(mock bool) (Backend, error) {
	if mock {
		debug.Info("Using SIMULATED grabber backend (development mode)")
		return NewSimBackend(DefaultSimOptions()), nil
	}
	return nil, fmt.Errorf("no camera runtime linked into this build; set mock_grabber: true or build a runtime-backed grabber.Backend")
}
