package grabber

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"
)

// SimOptions parameterizes the simulated camera. The defaults model the
// Vieworks VP-151MX-M6H00 sensor this project targets; tests shrink the
// sensor or break the exposure unit to exercise edge behavior.
type SimOptions struct {
	Vendor string
	Model  string
	Serial string

	ExposureMinUs float64
	ExposureMaxUs float64
	ExposureUnit  string // "us" on conforming firmware

	WidthMin, WidthMax   int64
	HeightMin, HeightMax int64
	OffsetXMax           int64
	OffsetYMax           int64

	// PixelFormats are the enum entries the firmware reports. The list
	// may contain formats the adapter does not model (packed variants).
	PixelFormats []string

	BinningWritable bool

	// ShortDeliverEvery, when > 0, makes every Nth popped frame report
	// one row less than the nominal height (a recoverable
	// partial-delivery condition seen on real hardware).
	ShortDeliverEvery int
}

// DefaultSimOptions returns the VP-151MX-M6H00 model.
func DefaultSimOptions() SimOptions {
	return SimOptions{
		Vendor:        "Vieworks",
		Model:         "VP-151MX-M6H00",
		Serial:        "VW-SIM-0001",
		ExposureMinUs: 16.0,
		ExposureMaxUs: 1_000_000.0,
		ExposureUnit:  "us",
		WidthMin:      64,
		WidthMax:      14192,
		HeightMin:     4,
		HeightMax:     10640,
		OffsetXMax:    14128,
		OffsetYMax:    10636,
		PixelFormats: []string{
			"Mono8", "Mono10", "Mono12", "Mono12Packed",
		},
		BinningWritable: true,
	}
}

// Sim is an in-memory camera session implementing Grabber. It behaves
// like firmware: out-of-range feature writes are rejected (the adapter
// is expected to clamp before writing), frames are synthesized on
// demand, and a pop blocks until the stream can deliver or CancelPop
// releases it.
type Sim struct {
	opts SimOptions

	mu   sync.Mutex
	cond *sync.Cond

	// Remote device features.
	exposureUs     float64
	binH, binV     int64
	offX, offY     int64
	width, height  int64
	pixelFormat    string
	trigSource     string // "Line0" | "Software"
	trigMode       string // "Off" | "On"
	trigActivation string // "RisingEdge" | "FallingEdge"

	// Stream state.
	streaming bool
	cancel    bool
	closed    bool
	free      [][]byte
	pending   int    // armed trigger pulses not yet consumed by a pop
	popped    uint64 // frames synthesized since construction
}

// NewSim creates a simulated session in the firmware's power-on state:
// full-frame Mono8, free-running, trigger off.
func NewSim(opts SimOptions) *Sim {
	s := &Sim{
		opts:           opts,
		exposureUs:     5000,
		binH:           1,
		binV:           1,
		width:          opts.WidthMax,
		height:         opts.HeightMax,
		pixelFormat:    "Mono8",
		trigSource:     "Line0",
		trigMode:       "Off",
		trigActivation: "RisingEdge",
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// --- feature access ---

func (s *Sim) GetFloat(name string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch name {
	case "ExposureTime":
		return s.exposureUs, nil
	case "ExposureTimeMinReg":
		return s.opts.ExposureMinUs, nil
	case "ExposureTimeMaxReg":
		return s.opts.ExposureMaxUs, nil
	}
	return 0, fmt.Errorf("sim: no float feature %q", name)
}

func (s *Sim) SetFloat(name string, v float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch name {
	case "ExposureTime":
		if v < s.opts.ExposureMinUs || v > s.opts.ExposureMaxUs {
			return fmt.Errorf("sim: ExposureTime %g out of range [%g..%g]",
				v, s.opts.ExposureMinUs, s.opts.ExposureMaxUs)
		}
		s.exposureUs = v
		return nil
	}
	return fmt.Errorf("sim: no writable float feature %q", name)
}

func (s *Sim) GetInt(name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch name {
	case "BinningHorizontal":
		return s.binH, nil
	case "BinningVertical":
		return s.binV, nil
	case "OffsetX":
		return s.offX, nil
	case "OffsetY":
		return s.offY, nil
	case "Width":
		return s.width, nil
	case "Height":
		return s.height, nil
	case "OffsetXMinReg":
		return 0, nil
	case "OffsetXMaxReg":
		return s.opts.OffsetXMax, nil
	case "OffsetYMinReg":
		return 0, nil
	case "OffsetYMaxReg":
		return s.opts.OffsetYMax, nil
	case "WidthMinReg":
		return s.opts.WidthMin, nil
	case "WidthMaxReg":
		return s.opts.WidthMax, nil
	case "HeightMinReg":
		return s.opts.HeightMin, nil
	case "HeightMaxReg":
		return s.opts.HeightMax, nil
	case "TriggerMode":
		// Enum coerced to integer, as the vendor runtime does.
		if s.trigMode == "On" {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("sim: no integer feature %q", name)
}

func (s *Sim) SetInt(name string, v int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch name {
	case "BinningHorizontal":
		if !s.opts.BinningWritable {
			return fmt.Errorf("sim: BinningHorizontal is read-only")
		}
		if v < 1 || v > 4 {
			return fmt.Errorf("sim: BinningHorizontal %d out of range [1..4]", v)
		}
		s.binH = v
		return nil
	case "BinningVertical":
		if !s.opts.BinningWritable {
			return fmt.Errorf("sim: BinningVertical is read-only")
		}
		if v < 1 || v > 4 {
			return fmt.Errorf("sim: BinningVertical %d out of range [1..4]", v)
		}
		s.binV = v
		return nil
	case "OffsetX":
		if v < 0 || v > s.opts.OffsetXMax {
			return fmt.Errorf("sim: OffsetX %d out of range [0..%d]", v, s.opts.OffsetXMax)
		}
		s.offX = v
		return nil
	case "OffsetY":
		if v < 0 || v > s.opts.OffsetYMax {
			return fmt.Errorf("sim: OffsetY %d out of range [0..%d]", v, s.opts.OffsetYMax)
		}
		s.offY = v
		return nil
	case "Width":
		if v < s.opts.WidthMin || v > s.opts.WidthMax {
			return fmt.Errorf("sim: Width %d out of range [%d..%d]", v, s.opts.WidthMin, s.opts.WidthMax)
		}
		s.width = v
		return nil
	case "Height":
		if v < s.opts.HeightMin || v > s.opts.HeightMax {
			return fmt.Errorf("sim: Height %d out of range [%d..%d]", v, s.opts.HeightMin, s.opts.HeightMax)
		}
		s.height = v
		return nil
	}
	return fmt.Errorf("sim: no writable integer feature %q", name)
}

func (s *Sim) GetString(name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch name {
	case "PixelFormat":
		return s.pixelFormat, nil
	case "TriggerSource":
		return s.trigSource, nil
	case "TriggerMode":
		return s.trigMode, nil
	case "TriggerActivation":
		return s.trigActivation, nil
	case "DeviceVendorName":
		return s.opts.Vendor, nil
	case "DeviceModelName":
		return s.opts.Model, nil
	case "DeviceSerialNumber":
		return s.opts.Serial, nil
	}
	return "", fmt.Errorf("sim: no string feature %q", name)
}

func (s *Sim) SetString(name, v string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch name {
	case "PixelFormat":
		for _, pf := range s.opts.PixelFormats {
			if pf == v {
				s.pixelFormat = v
				return nil
			}
		}
		return fmt.Errorf("sim: PixelFormat %q not supported", v)
	case "TriggerSource":
		if v != "Line0" && v != "Software" {
			return fmt.Errorf("sim: TriggerSource %q not supported", v)
		}
		s.trigSource = v
		return nil
	case "TriggerMode":
		if v != "Off" && v != "On" {
			return fmt.Errorf("sim: TriggerMode %q not supported", v)
		}
		s.trigMode = v
		s.cond.Broadcast()
		return nil
	case "TriggerActivation":
		if v != "RisingEdge" && v != "FallingEdge" {
			return fmt.Errorf("sim: TriggerActivation %q not supported", v)
		}
		s.trigActivation = v
		return nil
	}
	return fmt.Errorf("sim: no writable string feature %q", name)
}

func (s *Sim) Execute(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch name {
	case "AcquisitionStop":
		s.streaming = false
		s.cond.Broadcast()
		return nil
	case "TriggerSoftware":
		if s.trigMode == "On" && s.trigSource == "Software" {
			s.pending++
			s.cond.Broadcast()
		}
		return nil
	}
	return fmt.Errorf("sim: no command feature %q", name)
}

func (s *Sim) EnumEntries(name string) ([]string, error) {
	switch name {
	case "PixelFormat":
		out := make([]string, len(s.opts.PixelFormats))
		copy(out, s.opts.PixelFormats)
		return out, nil
	case "BinningHorizontal":
		return []string{"X1", "X2", "X4"}, nil
	}
	return nil, fmt.Errorf("sim: no enum feature %q", name)
}

func (s *Sim) Writable(name string) (bool, error) {
	switch name {
	case "ExposureTime", "OffsetX", "OffsetY", "Width", "Height":
		return true, nil
	case "BinningHorizontal", "BinningVertical":
		return s.opts.BinningWritable, nil
	}
	return false, fmt.Errorf("sim: no feature %q", name)
}

func (s *Sim) Unit(name string) (string, error) {
	if name == "ExposureTime" {
		return s.opts.ExposureUnit, nil
	}
	return "", fmt.Errorf("sim: no unit for feature %q", name)
}

// --- stream ---

// ReallocBuffers discards the pool and announces n empty buffers.
// Buffer memory is allocated lazily at pop time to fit the geometry
// negotiated by then.
func (s *Sim) ReallocBuffers(n int) error {
	if n <= 0 {
		return fmt.Errorf("sim: buffer count must be positive, got %d", n)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.free = make([][]byte, n)
	s.cond.Broadcast()
	return nil
}

// Start begins acquisition. Starting an already-streaming session fails,
// as it does on real hardware left in a stale state.
func (s *Sim) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("sim: session closed")
	}
	if s.streaming {
		return fmt.Errorf("sim: acquisition already running")
	}
	if len(s.free) == 0 {
		return fmt.Errorf("sim: no buffers announced")
	}
	s.streaming = true
	s.cancel = false
	s.cond.Broadcast()
	return nil
}

// Stop halts acquisition. Always succeeds, even when idle.
func (s *Sim) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streaming = false
	s.pending = 0
	s.cond.Broadcast()
	return nil
}

// CancelPop releases the pending (or next) Pop with ErrAborted.
func (s *Sim) CancelPop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel = true
	s.cond.Broadcast()
}

// FireLine0 simulates a hardware pulse on the Line0 trigger input.
// It is consumed only when triggering is enabled with Line0 selected.
func (s *Sim) FireLine0() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.trigMode == "On" && s.trigSource == "Line0" {
		s.pending++
		s.cond.Broadcast()
	}
}

// Pop blocks until the stream can deliver the next frame: the session
// must be streaming, a free buffer must be available, and (when
// triggering is enabled) an armed trigger pulse must be pending.
func (s *Sim) Pop() (*Buffer, error) {
	s.mu.Lock()
	for {
		if s.cancel {
			s.cancel = false
			s.mu.Unlock()
			return nil, ErrAborted
		}
		if s.closed {
			s.mu.Unlock()
			return nil, fmt.Errorf("sim: session closed")
		}
		if s.streaming && len(s.free) > 0 &&
			(s.trigMode != "On" || s.pending > 0) {
			break
		}
		s.cond.Wait()
	}
	if s.trigMode == "On" {
		s.pending--
	}

	raw := s.free[len(s.free)-1]
	s.free = s.free[:len(s.free)-1]

	w, h, pf := s.width, s.height, s.pixelFormat
	size := int(w * h * int64(bytesPerFormat(pf)))
	if cap(raw) < size {
		raw = make([]byte, size)
	}
	raw = raw[:size]

	s.popped++
	n := s.popped
	delivered := h
	if s.opts.ShortDeliverEvery > 0 && n%uint64(s.opts.ShortDeliverEvery) == 0 {
		delivered = h - 1
	}
	s.mu.Unlock()

	// Stamp the frame ordinal into the first bytes; a full synthetic
	// fill at sensor resolution would dominate test runtime.
	if size >= 8 {
		binary.LittleEndian.PutUint64(raw[:8], n-1)
	}

	backing := raw
	return &Buffer{
		Data:            raw,
		Width:           w,
		Height:          h,
		DeliveredHeight: delivered,
		PixelFormat:     pf,
		TimestampNS:     uint64(time.Now().UnixNano()),
		release: func() {
			s.mu.Lock()
			s.free = append(s.free, backing)
			s.cond.Broadcast()
			s.mu.Unlock()
		},
	}, nil
}

func (s *Sim) Width() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, nil
}

func (s *Sim) Height() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.height, nil
}

// Close ends the session; any blocked Pop fails.
func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.streaming = false
	s.cond.Broadcast()
	return nil
}

func bytesPerFormat(pf string) int {
	if pf == "Mono8" {
		return 1
	}
	return 2
}

// SimBackend discovers exactly one simulated camera.
type SimBackend struct {
	opts SimOptions
}

// NewSimBackend creates the simulated discovery backend.
func NewSimBackend(opts SimOptions) *SimBackend {
	return &SimBackend{opts: opts}
}

func (b *SimBackend) Discover() ([]CameraInfo, error) {
	return []CameraInfo{{
		Index:  0,
		Vendor: b.opts.Vendor,
		Model:  b.opts.Model,
		Serial: b.opts.Serial,
	}}, nil
}

func (b *SimBackend) Open(index int) (Grabber, error) {
	if index != 0 {
		return nil, fmt.Errorf("sim: no camera at index %d", index)
	}
	return NewSim(b.opts), nil
}

func (b *SimBackend) Close() error { return nil }
