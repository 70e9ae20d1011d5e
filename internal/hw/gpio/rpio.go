package gpio

import (
	"fmt"
	"sync"

	"github.com/cjeanneret/GrabGo/internal/debug"
	"github.com/stianeikeland/go-rpio/v4"
)

// RPiDriver is the real implementation for Raspberry Pi using go-rpio.
// The map of claimed pins is guarded: the trigger pulser may fire from
// a different goroutine than the one that set the pins up.
type RPiDriver struct {
	mu   sync.Mutex
	pins map[int]rpio.Pin
}

// NewRPiRealDriver creates a real GPIO driver for Raspberry Pi.
// Requires access to /dev/gpiomem or running as root.
func NewRPiRealDriver() (*RPiDriver, error) {
	debug.Info("Initializing real GPIO driver (go-rpio)")

	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("failed to open GPIO: %w (are you running on a Raspberry Pi?)", err)
	}

	debug.Verbose("GPIO memory mapped successfully")

	return &RPiDriver{
		pins: make(map[int]rpio.Pin),
	}, nil
}

func (r *RPiDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)

	r.mu.Lock()
	defer r.mu.Unlock()
	p := rpio.Pin(pin)
	r.pins[pin] = p

	switch mode {
	case Input:
		p.Input()
	case Output:
		p.Output()
	default:
		return fmt.Errorf("unknown pin mode: %d", mode)
	}

	return nil
}

func (r *RPiDriver) claim(pin int, mode PinMode) rpio.Pin {
	if p, ok := r.pins[pin]; ok {
		return p
	}
	p := rpio.Pin(pin)
	switch mode {
	case Input:
		p.Input()
	default:
		p.Output()
	}
	r.pins[pin] = p
	return p
}

func (r *RPiDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)

	r.mu.Lock()
	p := r.claim(pin, Output)
	r.mu.Unlock()

	if level == High {
		p.High()
	} else {
		p.Low()
	}

	return nil
}

func (r *RPiDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)

	r.mu.Lock()
	p := r.claim(pin, Input)
	r.mu.Unlock()

	if p.Read() == rpio.High {
		return High, nil
	}
	return Low, nil
}

func (r *RPiDriver) Close() error {
	debug.Trace("GPIO Close (real driver)")

	// Reset all pins to input (safe state)
	r.mu.Lock()
	for pin, p := range r.pins {
		debug.Verbose("Resetting pin %d to input", pin)
		p.Input()
	}
	r.mu.Unlock()

	return rpio.Close()
}
