// Package acquire contains the high-level acquisition logic: configure
// the camera, start streaming, drive the trigger source and collect a
// fixed number of frames while accounting for truncated deliveries.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cjeanneret/GrabGo/internal/debug"
	"github.com/cjeanneret/GrabGo/internal/device"
	"github.com/cjeanneret/GrabGo/internal/hw/grabber"
)

// Pulser drives a hardware trigger line wired to the camera's Line0
// input. trigger.LinePulser satisfies it.
type Pulser interface {
	Pulse() error
}

// Params defines one acquisition run.
type Params struct {
	Props      device.CameraProperties // desired configuration, applied before start
	FrameCount int

	// StopOnShortFrame ends the run early when the transport delivers
	// fewer lines than the negotiated height.
	StopOnShortFrame bool

	// SoftwareTriggerPeriod paces software trigger pulses when the
	// configured trigger line is the software line. Zero means 1ms.
	SoftwareTriggerPeriod time.Duration

	// Pulser, when set and the configured trigger line is Line0, is
	// pulsed every PulsePeriod for the duration of the run.
	Pulser      Pulser
	PulsePeriod time.Duration

	// OnFrame, when set, is called after every collected frame.
	OnFrame func(Progress)
}

// Progress reports one collected frame to an observer.
type Progress struct {
	RunID   string
	Frame   int // frames collected so far, including this one
	Total   int
	FrameID uint64
	Bytes   int
	Short   bool
}

// Stats summarizes a finished (or aborted) run.
type Stats struct {
	RunID       string
	Requested   int
	Collected   int
	ShortFrames int
	Bytes       uint64
	Elapsed     time.Duration
}

// FramesPerSecond returns the observed frame rate, or 0 for an empty run.
func (s Stats) FramesPerSecond() float64 {
	if s.Collected == 0 || s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Collected) / s.Elapsed.Seconds()
}

// Runner executes acquisition runs against one camera.
type Runner struct {
	cam device.Camera
}

func NewRunner(cam device.Camera) *Runner {
	return &Runner{cam: cam}
}

// Run configures the camera, starts streaming and collects
// p.FrameCount frames into an internally sized buffer. A cancelled
// context stops the camera, which unblocks the frame wait; the run
// then returns the context error alongside the partial stats.
func (r *Runner) Run(ctx context.Context, p Params) (Stats, error) {
	runID := uuid.NewString()
	stats := Stats{RunID: runID, Requested: p.FrameCount}

	debug.Section("Acquisition " + runID[:8])
	if err := r.cam.Set(&p.Props); err != nil {
		return stats, err
	}

	// Read back what the device actually accepted; clamping may have
	// adjusted the requested geometry.
	var applied device.CameraProperties
	if err := r.cam.Get(&applied); err != nil {
		return stats, err
	}
	var shape device.ImageShape
	if err := r.cam.GetShape(&shape); err != nil {
		return stats, err
	}
	frameBytes := int(shape.Strides.Planes) * shape.Type.BytesPerPixel()
	debug.Value("Frame geometry", fmt.Sprintf("%dx%d %s (%d bytes)",
		shape.Dims.Width, shape.Dims.Height, shape.Type, frameBytes))
	dst := make([]byte, frameBytes)

	if err := r.cam.Start(); err != nil {
		return stats, err
	}

	done := make(chan struct{})
	var wg sync.WaitGroup

	// Watcher: a cancelled context must unblock GetFrame, and only a
	// concurrent Stop does that.
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			if err := r.cam.Stop(); err != nil {
				debug.Reportf(true, "stop on cancel failed: %v", err)
			}
		case <-done:
		}
	}()

	r.startTriggerPump(&wg, done, applied.InputTriggers.FrameStart, p)

	start := time.Now()
	var runErr error
	for stats.Collected < p.FrameCount {
		var info device.ImageInfo
		n, err := r.cam.GetFrame(dst, &info)
		if err != nil {
			if errors.Is(err, grabber.ErrAborted) && ctx.Err() != nil {
				runErr = ctx.Err()
			} else {
				runErr = err
			}
			break
		}

		short := info.DeliveredHeight < info.Shape.Dims.Height
		stats.Collected++
		stats.Bytes += uint64(n)
		if short {
			stats.ShortFrames++
		}
		if p.OnFrame != nil {
			p.OnFrame(Progress{
				RunID:   runID,
				Frame:   stats.Collected,
				Total:   p.FrameCount,
				FrameID: info.HardwareFrameID,
				Bytes:   n,
				Short:   short,
			})
		}
		if short && p.StopOnShortFrame {
			debug.Reportf(true, "short frame %d (%d/%d lines), ending run",
				info.HardwareFrameID, info.DeliveredHeight, info.Shape.Dims.Height)
			break
		}
	}
	stats.Elapsed = time.Since(start)

	close(done)
	wg.Wait()

	if err := r.cam.Stop(); err != nil && runErr == nil {
		runErr = err
	}

	debug.Info("Run %s: %d/%d frames, %d short, %.1f fps",
		runID[:8], stats.Collected, stats.Requested, stats.ShortFrames,
		stats.FramesPerSecond())
	return stats, runErr
}

// startTriggerPump launches the goroutine that feeds the configured
// trigger source for the duration of the run. Disabled triggers (free
// running acquisition) need no pump.
func (r *Runner) startTriggerPump(wg *sync.WaitGroup, done <-chan struct{}, trig device.Trigger, p Params) {
	if !trig.Enable {
		return
	}

	var fire func() error
	var period time.Duration
	switch trig.Line {
	case device.LineSoftware:
		fire = r.cam.ExecuteTrigger
		period = p.SoftwareTriggerPeriod
		if period <= 0 {
			period = time.Millisecond
		}
	case device.LineLine0:
		if p.Pulser == nil {
			debug.Verbose("Line0 trigger configured without a pulser; expecting an external source")
			return
		}
		fire = p.Pulser.Pulse
		period = p.PulsePeriod
		if period <= 0 {
			period = time.Millisecond
		}
	default:
		return
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := fire(); err != nil {
					// Stop tears the trigger down; failures past that
					// point just mean the run is over.
					debug.Verbose("trigger pump: %v", err)
					return
				}
			}
		}
	}()
}
