package camera

import (
	"errors"
	"fmt"

	"github.com/cjeanneret/GrabGo/internal/debug"
	"github.com/cjeanneret/GrabGo/internal/device"
	"github.com/cjeanneret/GrabGo/internal/hw/grabber"
)

// Driver implements discovery and lifecycle over a grabber backend.
// Cameras are instantiated behind Open and torn down behind Close.
type Driver struct {
	backend grabber.Backend
}

var _ device.Driver = (*Driver)(nil)

// NewDriver wraps a backend (simulated or runtime-backed).
func NewDriver(b grabber.Backend) *Driver {
	return &Driver{backend: b}
}

func (d *Driver) boundary(op string, errp *error) {
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

// DeviceCount reports how many cameras discovery can currently reach.
func (d *Driver) DeviceCount() (n int, err error) {
	defer d.boundary("DeviceCount", &err)
	infos, err := d.backend.Discover()
	if err != nil {
		return 0, err
	}
	return len(infos), nil
}

// Describe identifies the camera at index without claiming it.
func (d *Driver) Describe(index int) (id device.DeviceIdentifier, err error) {
	defer d.boundary("Describe", &err)
	// The device-manager registry addresses devices with a uint8 id.
	if index < 0 || index > 255 {
		return id, device.Errorf(device.ErrValidation,
			"expected a uint8 device index, got %d", index)
	}
	infos, err := d.backend.Discover()
	if err != nil {
		return id, err
	}
	if index >= len(infos) {
		return id, device.Errorf(device.ErrValidation,
			"no camera at index %d (%d discovered)", index, len(infos))
	}
	info := infos[index]
	return device.DeviceIdentifier{
		DeviceID: uint8(index),
		Kind:     device.DeviceKindCamera,
		Name:     fmt.Sprintf("%s %s %s", info.Vendor, info.Model, info.Serial),
	}, nil
}

// Open claims the camera at index and builds its adapter.
func (d *Driver) Open(index int) (cam device.Camera, err error) {
	defer d.boundary("Open", &err)
	g, err := d.backend.Open(index)
	if err != nil {
		return nil, err
	}
	c, err := New(g)
	if err != nil {
		_ = g.Close()
		return nil, err
	}
	return c, nil
}

// Close destroys an adapter previously returned by Open. Teardown is
// best-effort; only a foreign camera type is rejected.
func (d *Driver) Close(cam device.Camera) (err error) {
	defer d.boundary("Close", &err)
	c, ok := cam.(*Camera)
	if !ok {
		return device.Errorf(device.ErrValidation, "not a camera owned by this driver")
	}
	c.Destroy()
	if err := c.g.Close(); err != nil {
		debug.Reportf(true, "close: session close failed: %v", err)
	}
	return nil
}

// Shutdown releases driver-wide resources.
func (d *Driver) Shutdown() (err error) {
	defer d.boundary("Shutdown", &err)
	return d.backend.Close()
}
