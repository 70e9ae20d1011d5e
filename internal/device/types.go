package device

import (
	"fmt"
	"strings"
)

// SampleType identifies the per-pixel sample encoding of a frame.
// The values mirror the monochrome GenICam pixel formats the Vieworks
// camera family exposes, plus Unknown for formats we don't model.
type SampleType uint8

const (
	SampleU8 SampleType = iota
	SampleU10
	SampleU12
	SampleU14
	SampleU16
	SampleUnknown

	// SampleTypeCount is the number of valid SampleType values
	// (including Unknown). Used for range checks.
	SampleTypeCount
)

// String returns the short lowercase name ("u8", "u12", ...).
func (s SampleType) String() string {
	switch s {
	case SampleU8:
		return "u8"
	case SampleU10:
		return "u10"
	case SampleU12:
		return "u12"
	case SampleU14:
		return "u14"
	case SampleU16:
		return "u16"
	default:
		return "unknown"
	}
}

// ParseSampleType parses "u8".."u16" (case-insensitive). Anything else is
// SampleUnknown; the error lets config loading reject typos early.
func ParseSampleType(s string) (SampleType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "u8":
		return SampleU8, nil
	case "u10":
		return SampleU10, nil
	case "u12":
		return SampleU12, nil
	case "u14":
		return SampleU14, nil
	case "u16":
		return SampleU16, nil
	}
	return SampleUnknown, fmt.Errorf("unknown sample type %q", s)
}

// BytesPerPixel returns the unpacked byte width of one sample.
// 10/12/14-bit samples are carried in 16-bit containers.
func (s SampleType) BytesPerPixel() int {
	if s == SampleU8 {
		return 1
	}
	return 2
}

// Bit returns the SupportedPixelTypes bitmask bit for this sample type.
func (s SampleType) Bit() uint64 {
	return 1 << uint(s)
}

// TriggerEdge identifies the signal transition a trigger line reacts to.
type TriggerEdge uint8

const (
	EdgeRising TriggerEdge = iota
	EdgeFalling
	EdgeAnyEdge
	EdgeLevelHigh
	EdgeLevelLow
	EdgeUnknown
)

func (e TriggerEdge) String() string {
	switch e {
	case EdgeRising:
		return "rising"
	case EdgeFalling:
		return "falling"
	case EdgeAnyEdge:
		return "any_edge"
	case EdgeLevelHigh:
		return "level_high"
	case EdgeLevelLow:
		return "level_low"
	default:
		return "unknown"
	}
}

// ParseTriggerEdge parses the edges a hardware write accepts.
// Only rising and falling are valid for the supported device class;
// the others exist so observed state can be represented.
func ParseTriggerEdge(s string) (TriggerEdge, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rising":
		return EdgeRising, nil
	case "falling":
		return EdgeFalling, nil
	}
	return EdgeUnknown, fmt.Errorf("unknown trigger edge %q", s)
}

// SignalKind distinguishes input and output trigger signals.
type SignalKind uint8

const (
	SignalInput SignalKind = iota
	SignalOutput
)

// Digital line indices for the supported device class.
// Line0 is the physical opto-isolated input, LineSoftware the
// software-generated trigger.
const (
	LineLine0    uint8 = 0
	LineSoftware uint8 = 1
)

// Trigger describes one trigger line configuration.
// Only whole-record updates are ever applied to hardware: a Trigger is
// comparable and the adapter compares/writes it as a unit.
type Trigger struct {
	Enable bool
	Line   uint8 // LineLine0 or LineSoftware
	Kind   SignalKind
	Edge   TriggerEdge
}

// InputTriggers groups the input trigger lines a camera exposes.
// The supported device class has a single selectable trigger, treated
// as the frame-start trigger.
type InputTriggers struct {
	FrameStart Trigger
}

// OffsetXY is a ROI offset in pixels.
type OffsetXY struct {
	X uint32
	Y uint32
}

// ShapeXY is a ROI shape (width, height) in pixels.
type ShapeXY struct {
	X uint32
	Y uint32
}

// CameraProperties is the desired or observed camera configuration.
// Set/Get operate on the whole record.
type CameraProperties struct {
	ExposureTimeUs float32
	Binning        uint8
	PixelType      SampleType
	Offset         OffsetXY
	Shape          ShapeXY
	InputTriggers  InputTriggers
}

// PropertyKind tells whether a numeric property takes fixed (integer)
// or floating point values.
type PropertyKind uint8

const (
	PropertyFixed PropertyKind = iota
	PropertyFloating
)

// PropertyMeta is the capability metadata for one numeric property:
// whether it can be written, and the authoritative inclusive bounds.
// No value outside [Low, High] may ever be written to hardware.
type PropertyMeta struct {
	Writable bool
	Low      float32
	High     float32
	Kind     PropertyKind
}

// OffsetMeta and ShapeMeta carry per-axis capability metadata.
type OffsetMeta struct {
	X PropertyMeta
	Y PropertyMeta
}

type ShapeMeta struct {
	X PropertyMeta
	Y PropertyMeta
}

// TriggerLineCount reports how many input/output lines feed one trigger.
type TriggerLineCount struct {
	Input  uint8
	Output uint8
}

// TriggerCapabilities reports the trigger topology of the device.
type TriggerCapabilities struct {
	FrameStart TriggerLineCount
}

// DigitalLineMeta names the digital lines the device exposes.
type DigitalLineMeta struct {
	LineCount uint8
	Names     []string
}

// CameraPropertyMetadata is the full capability snapshot returned by
// GetMeta.
type CameraPropertyMetadata struct {
	ExposureTimeUs PropertyMeta
	Binning        PropertyMeta
	Offset         OffsetMeta
	Shape          ShapeMeta

	// SupportedPixelTypes is a bitmask over SampleType
	// (bit i set means SampleType(i) is supported).
	SupportedPixelTypes uint64

	Triggers     TriggerCapabilities
	DigitalLines DigitalLineMeta
}

// ImageDims are the logical dimensions of a frame.
type ImageDims struct {
	Channels uint32
	Width    uint32
	Height   uint32
	Planes   uint32
}

// ImageStrides are element strides matching ImageDims.
type ImageStrides struct {
	Channels int64
	Width    int64
	Height   int64
	Planes   int64
}

// ImageShape describes the geometry and sample encoding of a frame.
// Computed on demand, never cached across frames.
type ImageShape struct {
	Dims    ImageDims
	Strides ImageStrides
	Type    SampleType
}

// ImageInfo annotates one retrieved frame.
type ImageInfo struct {
	Shape ImageShape

	// HardwareTimestamp is the device-reported timestamp in
	// nanoseconds, passed through verbatim.
	HardwareTimestamp uint64

	// HardwareFrameID is an adapter-local monotonic counter starting
	// at 0 on each Start.
	HardwareFrameID uint64

	// DeliveredHeight is how many lines the transport actually
	// delivered. Anything below Shape.Dims.Height means a truncated
	// frame; retrieval still succeeds.
	DeliveredHeight uint32
}

// DeviceKind classifies a discovered device.
type DeviceKind uint8

const (
	DeviceKindCamera DeviceKind = iota
)

// DeviceIdentifier describes one discoverable device.
type DeviceIdentifier struct {
	DeviceID uint8
	Kind     DeviceKind
	Name     string // "<vendor> <model> <serial>"
}
