// Package trigger drives a camera trigger input line from a GPIO pin.
package trigger

import (
	"context"
	"time"

	"github.com/cjeanneret/GrabGo/internal/debug"
	"github.com/cjeanneret/GrabGo/internal/hw/gpio"
)

// LinePulser fires hardware trigger pulses into a camera trigger input
// (e.g. the Line0 opto-isolated input) wired to a GPIO pin:
// - GND: connected to Raspberry Pi ground
// - LINE: trigger input, driven by the configured pin
//
// Pulse sequence:
// 1. Drive the line to its active level (the camera arms on this edge)
// 2. Hold for the pulse width
// 3. Return the line to its idle level
type LinePulser struct {
	gpio       gpio.Driver
	pin        int
	pulseWidth time.Duration
	activeLow  bool // idle HIGH, pulse LOW (falling edge at the camera)
}

// NewLinePulser creates a GPIO-backed trigger pulser.
// pin is the GPIO pin number wired to the trigger line.
// pulseWidth is how long the line is held active; most cameras need a
// few microseconds, a millisecond is a safe default.
func NewLinePulser(g gpio.Driver, pin int, pulseWidth time.Duration, activeLow bool) *LinePulser {
	p := &LinePulser{
		gpio:       g,
		pin:        pin,
		pulseWidth: pulseWidth,
		activeLow:  activeLow,
	}

	// Configure the pin and park the line at its idle level.
	_ = g.SetupPin(pin, gpio.Output)
	_ = g.WritePin(pin, p.idleLevel())

	return p
}

func (p *LinePulser) idleLevel() gpio.Level {
	if p.activeLow {
		return gpio.High
	}
	return gpio.Low
}

func (p *LinePulser) activeLevel() gpio.Level {
	if p.activeLow {
		return gpio.Low
	}
	return gpio.High
}

// Pulse fires a single trigger pulse.
func (p *LinePulser) Pulse() error {
	debug.Verbose("Trigger: pulsing line (pin %d, width %v)", p.pin, p.pulseWidth)

	if err := p.gpio.WritePin(p.pin, p.activeLevel()); err != nil {
		return err
	}
	time.Sleep(p.pulseWidth)
	if err := p.gpio.WritePin(p.pin, p.idleLevel()); err != nil {
		// Best effort: try not to leave the line armed.
		_ = p.gpio.WritePin(p.pin, p.idleLevel())
		return err
	}
	return nil
}

// Burst fires count pulses spaced by period, stopping early when ctx is
// cancelled. Useful for driving soak runs from the bench.
func (p *LinePulser) Burst(ctx context.Context, count int, period time.Duration) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for i := 0; i < count; i++ {
		if err := p.Pulse(); err != nil {
			return err
		}
		if i == count-1 {
			break
		}
		select {
		case <-ctx.Done():
			debug.Live("Trigger: burst cancelled after %d pulses", i+1)
			return ctx.Err()
		case <-ticker.C:
		}
	}
	debug.Live("Trigger: burst complete (%d pulses)", count)
	return nil
}
