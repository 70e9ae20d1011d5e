// Package camera adapts a GenICam frame-grabber session to the
// vendor-neutral device surface: capability caching, settings
// reconciliation with clamping, atomic trigger updates, lifecycle
// sequencing and blocking frame retrieval. Written to target the
// Vieworks VP-151MX-M6H00 device class.
package camera

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"

	"github.com/cjeanneret/GrabGo/internal/debug"
	"github.com/cjeanneret/GrabGo/internal/device"
	"github.com/cjeanneret/GrabGo/internal/hw/grabber"
)

// NumBuffers is the fixed size of the stream buffer pool.
const NumBuffers = 16

// exposureEpsilonUs: exposure writes below this delta are treated as
// no-ops to avoid redundant, possibly slow, vendor calls.
const exposureEpsilonUs = 1e-9

// Camera owns one open grabber session and its buffer pool, and caches
// the last-known settings and capabilities (refreshed at construction
// and after configuration).
//
// An exclusive lock guards every operation except GetFrame, which may
// block indefinitely; holding the lock there would deadlock the
// concurrent Stop needed to cancel the wait. Callers must serialize
// configuration changes with frame retrieval.
type Camera struct {
	g grabber.Grabber

	mu           sync.Mutex
	lastSettings device.CameraProperties
	lastCaps     device.CameraPropertyMetadata

	// frameID is reset by start (lock held) and bumped by GetFrame
	// (lock-free); atomic keeps that documented race window benign.
	frameID atomic.Uint64
}

var _ device.Camera = (*Camera)(nil)

// New opens the adapter over a grabber session: it defensively halts
// whatever a previous session left running, then primes the settings
// and capability caches.
func New(g grabber.Grabber) (*Camera, error) {
	c := &Camera{g: g}

	// A dangling acquisition or an armed trigger from a crashed
	// session makes the first start fail. Force a clean slate.
	if err := g.Stop(); err != nil {
		return nil, device.Errorf(device.ErrHardwareCommand, "initial stop: %v", err)
	}
	if err := g.Execute("AcquisitionStop"); err != nil {
		return nil, device.Errorf(device.ErrHardwareCommand, "initial AcquisitionStop: %v", err)
	}
	if err := g.SetString("TriggerMode", "Off"); err != nil {
		return nil, device.Errorf(device.ErrHardwareCommand, "initial trigger disable: %v", err)
	}

	if err := c.Get(&c.lastSettings); err != nil {
		return nil, err
	}
	if err := c.GetMeta(&c.lastCaps); err != nil {
		return nil, err
	}
	return c, nil
}

// boundary is the uniform error boundary for exported operations:
// panics become errors, unclassified failures are tagged as hardware
// command errors, and every failure is reported with its origin. No
// vendor-specific error type crosses this point unclassified.
func (c *Camera) boundary(op string, errp *error) {
	if r := recover(); r != nil {
		*errp = device.Errorf(device.ErrHardwareCommand, "%s: panic: %v", op, r)
	}
	err := *errp
	if err == nil {
		return
	}
	if !errors.Is(err, device.ErrValidation) &&
		!errors.Is(err, device.ErrHardwareQuery) &&
		!errors.Is(err, device.ErrHardwareCommand) &&
		!errors.Is(err, device.ErrCapacity) {
		*errp = device.Errorf(device.ErrHardwareCommand, "%s: %w", op, err)
	}
	debug.Reportf(true, "%s failed: %v", op, *errp)
}

// Set applies the desired configuration. Fields equal to the cached
// last-known value are skipped; changed fields are clamped to the
// capability range and written. Partial failure is not rolled back:
// fields already applied stay applied and cached.
func (c *Camera) Set(props *device.CameraProperties) (err error) {
	defer c.boundary("Set", &err)
	if props == nil {
		return device.Errorf(device.ErrValidation, "nil properties")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.set(props)
}

func (c *Camera) set(p *device.CameraProperties) error {
	exposure, err := c.maybeSetExposure(p.ExposureTimeUs, c.lastSettings.ExposureTimeUs)
	if err != nil {
		return err
	}
	c.lastSettings.ExposureTimeUs = exposure

	binning, err := c.maybeSetBinning(p.Binning, c.lastSettings.Binning)
	if err != nil {
		return err
	}
	c.lastSettings.Binning = binning

	pxType, err := c.maybeSetPixelType(p.PixelType, c.lastSettings.PixelType)
	if err != nil {
		return err
	}
	c.lastSettings.PixelType = pxType

	// Offset before shape: an offset valid for the current shape may
	// become invalid once shape changes, and the firmware rejects
	// transient invalid ROIs.
	offset, err := c.maybeSetOffset(p.Offset, c.lastSettings.Offset)
	if err != nil {
		return err
	}
	c.lastSettings.Offset = offset

	shape, err := c.maybeSetShape(p.Shape, c.lastSettings.Shape)
	if err != nil {
		return err
	}
	c.lastSettings.Shape = shape

	trig, err := c.maybeSetTrigger(p.InputTriggers.FrameStart,
		c.lastSettings.InputTriggers.FrameStart)
	if err != nil {
		return err
	}
	c.lastSettings.InputTriggers.FrameStart = trig

	// Always realloc, even when nothing changed: this is the only
	// place that guarantees buffer sizing tracks the current
	// negotiated frame geometry.
	if err := c.g.ReallocBuffers(NumBuffers); err != nil {
		return device.Errorf(device.ErrHardwareCommand, "realloc buffers: %v", err)
	}
	return nil
}

func (c *Camera) maybeSetExposure(targetUs, lastUs float32) (float32, error) {
	if math.Abs(float64(targetUs-lastUs)) <= exposureEpsilonUs {
		return lastUs, nil
	}
	targetUs = clampF32(targetUs,
		c.lastCaps.ExposureTimeUs.Low, c.lastCaps.ExposureTimeUs.High)
	debug.Verbose("Reconcile: exposure %g -> %g us", lastUs, targetUs)
	if err := c.g.SetFloat("ExposureTime", float64(targetUs)); err != nil {
		return lastUs, device.Errorf(device.ErrHardwareCommand, "set ExposureTime: %v", err)
	}
	return targetUs, nil
}

func (c *Camera) maybeSetBinning(target, last uint8) (uint8, error) {
	if target == last {
		return last, nil
	}
	target = clampU8(target, c.lastCaps.Binning.Low, c.lastCaps.Binning.High)
	debug.Verbose("Reconcile: binning %d -> %d", last, target)
	if c.lastCaps.Binning.Writable {
		// Horizontal and vertical binning track each other on this
		// device class.
		if err := c.g.SetInt("BinningHorizontal", int64(target)); err != nil {
			return last, device.Errorf(device.ErrHardwareCommand, "set BinningHorizontal: %v", err)
		}
		if err := c.g.SetInt("BinningVertical", int64(target)); err != nil {
			return last, device.Errorf(device.ErrHardwareCommand, "set BinningVertical: %v", err)
		}
	}
	return target, nil
}

func (c *Camera) maybeSetPixelType(target, last device.SampleType) (device.SampleType, error) {
	if target >= device.SampleTypeCount {
		return last, device.Errorf(device.ErrValidation, "sample type %d out of range", target)
	}
	if target == last {
		return last, nil
	}
	name, ok := pxNameByType[target]
	if !ok {
		// Unknown feeds a hardware write; reject before writing.
		return last, device.Errorf(device.ErrValidation, "cannot write pixel type %q", target)
	}
	debug.Verbose("Reconcile: pixel type %s -> %s", last, target)
	if err := c.g.SetString("PixelFormat", name); err != nil {
		return last, device.Errorf(device.ErrHardwareCommand, "set PixelFormat: %v", err)
	}
	return target, nil
}

func (c *Camera) maybeSetOffset(target, last device.OffsetXY) (device.OffsetXY, error) {
	if target.X != last.X {
		target.X = clampU32(target.X, c.lastCaps.Offset.X.Low, c.lastCaps.Offset.X.High)
		debug.Verbose("Reconcile: offset.x %d -> %d", last.X, target.X)
		if err := c.g.SetInt("OffsetX", int64(target.X)); err != nil {
			return last, device.Errorf(device.ErrHardwareCommand, "set OffsetX: %v", err)
		}
		last.X = target.X
	}
	if target.Y != last.Y {
		target.Y = clampU32(target.Y, c.lastCaps.Offset.Y.Low, c.lastCaps.Offset.Y.High)
		debug.Verbose("Reconcile: offset.y %d -> %d", last.Y, target.Y)
		if err := c.g.SetInt("OffsetY", int64(target.Y)); err != nil {
			return last, device.Errorf(device.ErrHardwareCommand, "set OffsetY: %v", err)
		}
		last.Y = target.Y
	}
	return last, nil
}

func (c *Camera) maybeSetShape(target, last device.ShapeXY) (device.ShapeXY, error) {
	if target.X != last.X {
		target.X = clampU32(target.X, c.lastCaps.Shape.X.Low, c.lastCaps.Shape.X.High)
		debug.Verbose("Reconcile: width %d -> %d", last.X, target.X)
		if err := c.g.SetInt("Width", int64(target.X)); err != nil {
			return last, device.Errorf(device.ErrHardwareCommand, "set Width: %v", err)
		}
		last.X = target.X
	}
	if target.Y != last.Y {
		target.Y = clampU32(target.Y, c.lastCaps.Shape.Y.Low, c.lastCaps.Shape.Y.High)
		debug.Verbose("Reconcile: height %d -> %d", last.Y, target.Y)
		if err := c.g.SetInt("Height", int64(target.Y)); err != nil {
			return last, device.Errorf(device.ErrHardwareCommand, "set Height: %v", err)
		}
		last.Y = target.Y
	}
	return last, nil
}

// maybeSetTrigger applies a whole-record trigger update. The record is
// validated as a unit before any write; writes go source, then mode,
// then activation, so that enabling never happens while the source
// still points at the previous line.
func (c *Camera) maybeSetTrigger(target, last device.Trigger) (device.Trigger, error) {
	if target == last {
		return last, nil
	}
	if target.Line >= uint8(len(trigSourceNames)) {
		return last, device.Errorf(device.ErrValidation,
			"trigger line must be Line0 (0) or Software (1), got %d", target.Line)
	}
	if target.Edge != device.EdgeRising && target.Edge != device.EdgeFalling {
		return last, device.Errorf(device.ErrValidation,
			"trigger edge must be rising or falling, got %s", target.Edge)
	}
	target.Kind = device.SignalInput // forced for this device class

	debug.Verbose("Reconcile: trigger enable=%t line=%d edge=%s",
		target.Enable, target.Line, target.Edge)
	if err := c.g.SetString("TriggerSource", trigSourceNames[target.Line]); err != nil {
		return last, device.Errorf(device.ErrHardwareCommand, "set TriggerSource: %v", err)
	}
	if err := c.g.SetString("TriggerMode", trigModeNames[target.Enable]); err != nil {
		return last, device.Errorf(device.ErrHardwareCommand, "set TriggerMode: %v", err)
	}
	if err := c.g.SetString("TriggerActivation", trigActivationNames[target.Edge]); err != nil {
		return last, device.Errorf(device.ErrHardwareCommand, "set TriggerActivation: %v", err)
	}
	return target, nil
}

// Get reads the current configuration from the device and refreshes the
// last-known-settings cache.
func (c *Camera) Get(props *device.CameraProperties) (err error) {
	defer c.boundary("Get", &err)
	if props == nil {
		return device.Errorf(device.ErrValidation, "nil properties")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.get(props)
}

func (c *Camera) get(p *device.CameraProperties) error {
	exposure, err := c.g.GetFloat("ExposureTime")
	if err != nil {
		return err
	}
	binning, err := c.g.GetInt("BinningHorizontal")
	if err != nil {
		return err
	}
	pxName, err := c.g.GetString("PixelFormat")
	if err != nil {
		return err
	}
	offX, err := c.g.GetInt("OffsetX")
	if err != nil {
		return err
	}
	offY, err := c.g.GetInt("OffsetY")
	if err != nil {
		return err
	}
	width, err := c.g.GetInt("Width")
	if err != nil {
		return err
	}
	height, err := c.g.GetInt("Height")
	if err != nil {
		return err
	}

	*p = device.CameraProperties{
		ExposureTimeUs: float32(exposure),
		Binning:        uint8(binning),
		PixelType:      pxTypeFromName(pxName),
		Offset:         device.OffsetXY{X: uint32(offX), Y: uint32(offY)},
		Shape:          device.ShapeXY{X: uint32(width), Y: uint32(height)},
	}

	// The only selectable trigger on this device class is
	// ExposureStart; treat it as frame_start. Only Line0 and Software
	// are modeled; anything else keeps the defaults.
	p.InputTriggers.FrameStart = device.Trigger{
		Enable: false,
		Line:   device.LineLine0,
		Kind:   device.SignalInput,
		Edge:   device.EdgeRising,
	}
	srcName, err := c.g.GetString("TriggerSource")
	if err != nil {
		return err
	}
	if line, ok := trigSrcByName[srcName]; ok {
		mode, err := c.g.GetInt("TriggerMode")
		if err != nil {
			return err
		}
		actName, err := c.g.GetString("TriggerActivation")
		if err != nil {
			return err
		}
		p.InputTriggers.FrameStart = device.Trigger{
			Enable: mode != 0,
			Line:   line,
			Kind:   device.SignalInput,
			Edge:   edgeFromName(actName),
		}
	}

	c.lastSettings = *p
	return nil
}

// GetMeta reports per-property writability and numeric ranges, the
// supported pixel formats and the (fixed) trigger topology.
func (c *Camera) GetMeta(meta *device.CameraPropertyMetadata) (err error) {
	defer c.boundary("GetMeta", &err)
	if meta == nil {
		return device.Errorf(device.ErrValidation, "nil metadata")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getMeta(meta)
}

func (c *Camera) getMeta(meta *device.CameraPropertyMetadata) error {
	if err := c.queryExposureCaps(meta); err != nil {
		return err
	}
	if err := c.queryBinningCaps(meta); err != nil {
		return err
	}
	if err := c.queryOffsetCaps(meta); err != nil {
		return err
	}
	if err := c.queryShapeCaps(meta); err != nil {
		return err
	}
	if err := c.queryPixelTypeCaps(meta); err != nil {
		return err
	}
	queryTriggerCaps(meta)
	return nil
}

func (c *Camera) queryExposureCaps(meta *device.CameraPropertyMetadata) error {
	// The reconciler works in microseconds; a device reporting any
	// other unit would silently mis-scale every exposure write.
	unit, err := c.g.Unit("ExposureTime")
	if err != nil {
		return err
	}
	if unit != "us" {
		return device.Errorf(device.ErrHardwareQuery,
			"expected ExposureTime unit to be microseconds, got %q", unit)
	}
	writable, err := c.g.Writable("ExposureTime")
	if err != nil {
		return err
	}
	low, err := c.g.GetFloat("ExposureTimeMinReg")
	if err != nil {
		return err
	}
	high, err := c.g.GetFloat("ExposureTimeMaxReg")
	if err != nil {
		return err
	}
	meta.ExposureTimeUs = device.PropertyMeta{
		Writable: writable,
		Low:      float32(low),
		High:     float32(high),
		Kind:     device.PropertyFloating,
	}
	return nil
}

func (c *Camera) queryBinningCaps(meta *device.CameraPropertyMetadata) error {
	// Assumes horizontal and vertical binning are the same, with
	// available factors 1, 2, 4 (the device reports enum entries
	// "X1", "X2", "X4").
	writable, err := c.g.Writable("BinningHorizontal")
	if err != nil {
		return err
	}
	meta.Binning = device.PropertyMeta{
		Writable: writable,
		Low:      1,
		High:     4,
		Kind:     device.PropertyFixed,
	}
	return nil
}

func (c *Camera) queryOffsetCaps(meta *device.CameraPropertyMetadata) error {
	x, err := c.queryFixedRange("OffsetX")
	if err != nil {
		return err
	}
	y, err := c.queryFixedRange("OffsetY")
	if err != nil {
		return err
	}
	meta.Offset = device.OffsetMeta{X: x, Y: y}
	return nil
}

func (c *Camera) queryShapeCaps(meta *device.CameraPropertyMetadata) error {
	x, err := c.queryFixedRange("Width")
	if err != nil {
		return err
	}
	y, err := c.queryFixedRange("Height")
	if err != nil {
		return err
	}
	meta.Shape = device.ShapeMeta{X: x, Y: y}
	return nil
}

// queryFixedRange reads writability plus the <name>MinReg/<name>MaxReg
// bounds of a fixed-precision feature.
func (c *Camera) queryFixedRange(name string) (device.PropertyMeta, error) {
	writable, err := c.g.Writable(name)
	if err != nil {
		return device.PropertyMeta{}, err
	}
	low, err := c.g.GetInt(name + "MinReg")
	if err != nil {
		return device.PropertyMeta{}, err
	}
	high, err := c.g.GetInt(name + "MaxReg")
	if err != nil {
		return device.PropertyMeta{}, err
	}
	return device.PropertyMeta{
		Writable: writable,
		Low:      float32(low),
		High:     float32(high),
		Kind:     device.PropertyFixed,
	}, nil
}

func (c *Camera) queryPixelTypeCaps(meta *device.CameraPropertyMetadata) error {
	entries, err := c.g.EnumEntries("PixelFormat")
	if err != nil {
		return err
	}
	meta.SupportedPixelTypes = 0
	for _, name := range entries {
		// Formats this adapter does not model (firmware may expose
		// packed variants) are silently excluded from the mask.
		if t, ok := pxTypeByName[name]; ok {
			meta.SupportedPixelTypes |= t.Bit()
		}
	}
	return nil
}

func queryTriggerCaps(meta *device.CameraPropertyMetadata) {
	// Hard-coded from manual inspection of the targeted device class:
	// one input trigger line, two digital lines.
	meta.Triggers = device.TriggerCapabilities{
		FrameStart: device.TriggerLineCount{Input: 1, Output: 0},
	}
	meta.DigitalLines = device.DigitalLineMeta{
		LineCount: 2,
		Names:     []string{"Line0", "Software"},
	}
}

// GetShape re-queries the current frame geometry from the device; shape
// can change as a side effect of capability negotiation outside Set.
func (c *Camera) GetShape(shape *device.ImageShape) (err error) {
	defer c.boundary("GetShape", &err)
	if shape == nil {
		return device.Errorf(device.ErrValidation, "nil shape")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	w, err := c.g.Width()
	if err != nil {
		return err
	}
	h, err := c.g.Height()
	if err != nil {
		return err
	}
	pxName, err := c.g.GetString("PixelFormat")
	if err != nil {
		return err
	}
	*shape = device.ImageShape{
		Dims: device.ImageDims{
			Channels: 1,
			Width:    uint32(w),
			Height:   uint32(h),
			Planes:   1,
		},
		Strides: device.ImageStrides{
			Channels: 1,
			Width:    1,
			Height:   w,
			Planes:   w * h,
		},
		Type: pxTypeFromName(pxName),
	}
	return nil
}

// Start begins streaming: the frame id counter restarts at 0 and the
// buffer pool is reallocated. If the underlying start fails (a prior
// session sometimes leaves the device in an inconsistent streaming
// state), it retries once after an internal stop.
func (c *Camera) Start() (err error) {
	defer c.boundary("Start", &err)
	for attempt := 0; ; attempt++ {
		c.mu.Lock()
		err = c.start()
		c.mu.Unlock()
		if err == nil {
			return nil
		}
		if attempt >= 1 {
			return err
		}
		debug.Reportf(true, "camera start failed (%v); retrying after stop", err)
		c.mu.Lock()
		if stopErr := c.stop(); stopErr != nil {
			debug.Reportf(true, "stop before retry failed: %v", stopErr)
		}
		c.mu.Unlock()
	}
}

func (c *Camera) start() error {
	c.frameID.Store(0)
	if err := c.g.ReallocBuffers(NumBuffers); err != nil {
		return err
	}
	if err := c.g.Start(); err != nil {
		return err
	}
	debug.Live("Streaming started")
	return nil
}

// Stop halts streaming, forces trigger mode off (the device must be
// untriggered for the next start) and cancels any in-flight blocking
// frame wait, unblocking a concurrent GetFrame.
func (c *Camera) Stop() (err error) {
	defer c.boundary("Stop", &err)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stop()
}

func (c *Camera) stop() error {
	// The cancel must happen even if the stop sequence fails halfway,
	// or a blocked GetFrame would never return.
	defer c.g.CancelPop()
	if err := c.g.Stop(); err != nil {
		return err
	}
	if err := c.g.SetString("TriggerMode", "Off"); err != nil {
		return err
	}
	debug.Live("Streaming stopped")
	return nil
}

// ExecuteTrigger fires a software trigger pulse.
func (c *Camera) ExecuteTrigger() (err error) {
	defer c.boundary("ExecuteTrigger", &err)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.g.Execute("TriggerSoftware")
}

// GetFrame blocks until the device delivers the next frame, copies it
// into dst and fills info. This is the sole blocking operation and is
// deliberately not covered by the instance lock; it is released only by
// a concurrent Stop. Single-consumer: concurrent GetFrame calls are not
// serialized by this adapter.
func (c *Camera) GetFrame(dst []byte, info *device.ImageInfo) (n int, err error) {
	defer c.boundary("GetFrame", &err)
	if info == nil {
		return 0, device.Errorf(device.ErrValidation, "nil image info")
	}

	buf, err := c.g.Pop()
	if err != nil {
		return 0, err
	}
	defer buf.Release()

	size := buf.Size()
	if len(dst) < size {
		return 0, device.Errorf(device.ErrCapacity,
			"frame is %d bytes, caller buffer holds %d", size, len(dst))
	}
	if buf.Data == nil {
		return 0, device.Errorf(device.ErrHardwareCommand, "nil frame base pointer")
	}
	if buf.DeliveredHeight != buf.Height {
		// Known, recoverable partial-delivery condition; report it,
		// never fail the call on it.
		debug.Reportf(true, "delivered height and height are different: %d != %d",
			buf.DeliveredHeight, buf.Height)
	}

	copy(dst, buf.Data)

	id := c.frameID.Add(1) - 1
	*info = device.ImageInfo{
		Shape: device.ImageShape{
			Dims: device.ImageDims{
				Channels: 1,
				Width:    uint32(buf.Width),
				Height:   uint32(buf.Height),
				Planes:   1,
			},
			Strides: device.ImageStrides{
				Channels: 1,
				Width:    1,
				Height:   buf.Width,
				Planes:   buf.Width * buf.Height,
			},
			Type: pxTypeFromName(buf.PixelFormat),
		},
		HardwareTimestamp: buf.TimestampNS,
		HardwareFrameID:   id,
		DeliveredHeight:   uint32(buf.DeliveredHeight),
	}
	debug.Frame(id, size)
	return size, nil
}

// Destroy performs best-effort teardown: stop plus forced trigger
// disable. All failures are reported and discarded; a teardown path
// must not fail.
func (c *Camera) Destroy() {
	defer func() {
		if r := recover(); r != nil {
			debug.Reportf(true, "destroy: panic: %v", r)
		}
	}()
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.stop(); err != nil {
		debug.Reportf(true, "destroy: stop failed: %v", err)
	}
	// Stop should take care of it, but the camera must really be left
	// untriggered when closed so it is available on the next open.
	if err := c.g.Execute("AcquisitionStop"); err != nil {
		debug.Reportf(true, "destroy: AcquisitionStop failed: %v", err)
	}
	if err := c.g.SetString("TriggerMode", "Off"); err != nil {
		debug.Reportf(true, "destroy: trigger disable failed: %v", err)
	}
}

// --- clamping helpers ---

func clampF32(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampU32(v uint32, lo, hi float32) uint32 {
	f := float32(v)
	if f < lo {
		return uint32(lo)
	}
	if f > hi {
		return uint32(hi)
	}
	return v
}

func clampU8(v uint8, lo, hi float32) uint8 {
	f := float32(v)
	if f < lo {
		return uint8(lo)
	}
	if f > hi {
		return uint8(hi)
	}
	return v
}
