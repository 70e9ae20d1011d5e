package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cjeanneret/GrabGo/internal/device"
)

// TriggerConfig selects the frame-start trigger for the camera.
type TriggerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Line    string `yaml:"line"` // "line0" or "software"
	Edge    string `yaml:"edge"` // "rising" or "falling"
}

// CameraConfig is the desired camera configuration applied before a run.
// Values outside the device capability ranges are clamped by the
// adapter, not rejected here.
type CameraConfig struct {
	ExposureTimeUs float32       `yaml:"exposure_time_us"`
	Binning        uint8         `yaml:"binning"`
	PixelType      string        `yaml:"pixel_type"` // u8|u10|u12|u14|u16
	OffsetX        uint32        `yaml:"offset_x"`
	OffsetY        uint32        `yaml:"offset_y"`
	Width          uint32        `yaml:"width"`
	Height         uint32        `yaml:"height"`
	Trigger        TriggerConfig `yaml:"trigger"`
}

// AcquisitionConfig shapes the acquisition run.
type AcquisitionConfig struct {
	FrameCount              int  `yaml:"frame_count"`
	SoftwareTriggerPeriodMs int  `yaml:"software_trigger_period_ms"` // pacing between software pulses; 0 = unpaced
	StopOnShortFrame        bool `yaml:"stop_on_short_frame"`        // end the run on a delivered-height mismatch
}

// PulserConfig describes the GPIO pulser wired to the camera's Line0
// trigger input. Only used when the configured trigger line is line0.
type PulserConfig struct {
	Enabled      bool `yaml:"enabled"`
	Pin          int  `yaml:"pin"`            // BCM pin wired to the trigger line
	PulseWidthMs int  `yaml:"pulse_width_ms"` // how long the line is held active
	ActiveLow    bool `yaml:"active_low"`
	PeriodMs     int  `yaml:"period_ms"` // spacing between pulses
}

// DefaultsConfig contains generic parameters (backends, debug).
type DefaultsConfig struct {
	DebugLevel  int  `yaml:"debug_level"`  // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO    bool `yaml:"mock_gpio"`    // use mock GPIO (true=dev/test, false=real Raspberry Pi)
	MockGrabber bool `yaml:"mock_grabber"` // use the simulated camera backend
	DeviceIndex int  `yaml:"device_index"` // which discovered camera to open
}

// Config aggregates all application configuration.
type Config struct {
	Camera      CameraConfig      `yaml:"camera"`
	Acquisition AcquisitionConfig `yaml:"acquisition"`
	Pulser      PulserConfig      `yaml:"pulser"`
	Defaults    DefaultsConfig    `yaml:"defaults"`
}

// ValidateConfigPath rejects paths outside a configs/ directory, path
// traversal, and non-.yaml extensions, before anything is read.
func ValidateConfigPath(path string) error {
	if strings.Contains(path, "..") {
		return fmt.Errorf("config path must not contain '..': %q", path)
	}
	if filepath.Ext(path) != ".yaml" {
		return fmt.Errorf("config file must have a .yaml extension: %q", path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config file must live in a configs/ directory: %q", path)
	}
	return nil
}

// MaxConfigFileBytes caps how much of a config file Load will accept.
const MaxConfigFileBytes = 1 << 20

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if len(data) > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", len(data), MaxConfigFileBytes)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	// Defaults: Scenario-style full-frame 12-bit run.
	if cfg.Camera.ExposureTimeUs <= 0 {
		cfg.Camera.ExposureTimeUs = 10000
	}
	if cfg.Camera.Binning == 0 {
		cfg.Camera.Binning = 1
	}
	if cfg.Camera.PixelType == "" {
		cfg.Camera.PixelType = "u12"
	}
	if cfg.Camera.Width == 0 {
		cfg.Camera.Width = 14192
	}
	if cfg.Camera.Height == 0 {
		cfg.Camera.Height = 10640
	}
	if cfg.Camera.Trigger.Line == "" {
		cfg.Camera.Trigger.Line = "line0"
	}
	if cfg.Camera.Trigger.Edge == "" {
		cfg.Camera.Trigger.Edge = "rising"
	}
	if cfg.Acquisition.FrameCount == 0 {
		cfg.Acquisition.FrameCount = 100
	}
	if cfg.Pulser.PulseWidthMs <= 0 {
		cfg.Pulser.PulseWidthMs = 1
	}
	if cfg.Pulser.PeriodMs <= 0 {
		cfg.Pulser.PeriodMs = 100
	}

	// Validation
	if _, err := device.ParseSampleType(cfg.Camera.PixelType); err != nil {
		return nil, fmt.Errorf("camera.pixel_type: %w", err)
	}
	if _, err := parseTriggerLine(cfg.Camera.Trigger.Line); err != nil {
		return nil, fmt.Errorf("camera.trigger.line: %w", err)
	}
	if _, err := device.ParseTriggerEdge(cfg.Camera.Trigger.Edge); err != nil {
		return nil, fmt.Errorf("camera.trigger.edge: %w", err)
	}
	if cfg.Acquisition.FrameCount < 0 {
		return nil, fmt.Errorf("acquisition.frame_count must be >= 0, got %d", cfg.Acquisition.FrameCount)
	}
	if cfg.Acquisition.SoftwareTriggerPeriodMs < 0 {
		return nil, fmt.Errorf("acquisition.software_trigger_period_ms must be >= 0, got %d",
			cfg.Acquisition.SoftwareTriggerPeriodMs)
	}
	if cfg.Pulser.Enabled && cfg.Pulser.Pin <= 0 {
		return nil, fmt.Errorf("pulser.pin is required when the pulser is enabled")
	}

	return &cfg, nil
}

func parseTriggerLine(s string) (uint8, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "line0":
		return device.LineLine0, nil
	case "software":
		return device.LineSoftware, nil
	}
	return 0, fmt.Errorf("unknown trigger line %q", s)
}

// Properties converts the camera section into the desired property
// record handed to the adapter.
func (c *Config) Properties() (device.CameraProperties, error) {
	pxType, err := device.ParseSampleType(c.Camera.PixelType)
	if err != nil {
		return device.CameraProperties{}, err
	}
	line, err := parseTriggerLine(c.Camera.Trigger.Line)
	if err != nil {
		return device.CameraProperties{}, err
	}
	edge, err := device.ParseTriggerEdge(c.Camera.Trigger.Edge)
	if err != nil {
		return device.CameraProperties{}, err
	}
	return device.CameraProperties{
		ExposureTimeUs: c.Camera.ExposureTimeUs,
		Binning:        c.Camera.Binning,
		PixelType:      pxType,
		Offset:         device.OffsetXY{X: c.Camera.OffsetX, Y: c.Camera.OffsetY},
		Shape:          device.ShapeXY{X: c.Camera.Width, Y: c.Camera.Height},
		InputTriggers: device.InputTriggers{
			FrameStart: device.Trigger{
				Enable: c.Camera.Trigger.Enabled,
				Line:   line,
				Kind:   device.SignalInput,
				Edge:   edge,
			},
		},
	}, nil
}

// PulseWidth returns how long the pulser holds the trigger line active.
func (c *Config) PulseWidth() time.Duration {
	return time.Duration(c.Pulser.PulseWidthMs) * time.Millisecond
}

// PulsePeriod returns the spacing between hardware trigger pulses.
func (c *Config) PulsePeriod() time.Duration {
	return time.Duration(c.Pulser.PeriodMs) * time.Millisecond
}

// SoftwareTriggerPeriod returns the pacing between software trigger
// pulses (0 = unpaced).
func (c *Config) SoftwareTriggerPeriod() time.Duration {
	return time.Duration(c.Acquisition.SoftwareTriggerPeriodMs) * time.Millisecond
}
