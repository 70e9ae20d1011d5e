package camera

import "github.com/cjeanneret/GrabGo/internal/device"

// Bidirectional lookup tables between GenICam feature names and the
// vendor-neutral enums. Built once; lookups fail soft (Unknown) except
// where the mapped value feeds a hardware write, in which case the
// caller must reject Unknown before writing.

var pxTypeByName = map[string]device.SampleType{
	"Mono8":  device.SampleU8,
	"Mono10": device.SampleU10,
	"Mono12": device.SampleU12,
	"Mono14": device.SampleU14,
	"Mono16": device.SampleU16,
}

var pxNameByType = map[device.SampleType]string{
	device.SampleU8:  "Mono8",
	device.SampleU10: "Mono10",
	device.SampleU12: "Mono12",
	device.SampleU14: "Mono14",
	device.SampleU16: "Mono16",
}

var edgeByName = map[string]device.TriggerEdge{
	"RisingEdge":  device.EdgeRising,
	"FallingEdge": device.EdgeFalling,
	"AnyEdge":     device.EdgeAnyEdge,
	"LevelHigh":   device.EdgeLevelHigh,
	"LevelLow":    device.EdgeLevelLow,
}

var trigSrcByName = map[string]uint8{
	"Line0":    device.LineLine0,
	"Software": device.LineSoftware,
}

// Write-side name arrays, indexed by the validated enum value.
var (
	trigSourceNames     = [2]string{"Line0", "Software"}
	trigModeNames       = map[bool]string{false: "Off", true: "On"}
	trigActivationNames = [2]string{"RisingEdge", "FallingEdge"}
)

// pxTypeFromName maps a firmware PixelFormat name, defaulting to Unknown
// for formats this adapter does not model.
func pxTypeFromName(name string) device.SampleType {
	if t, ok := pxTypeByName[name]; ok {
		return t
	}
	return device.SampleUnknown
}

// edgeFromName maps a firmware TriggerActivation name, defaulting to
// Unknown.
func edgeFromName(name string) device.TriggerEdge {
	if e, ok := edgeByName[name]; ok {
		return e
	}
	return device.EdgeUnknown
}
