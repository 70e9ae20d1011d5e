package device

// Camera is the vendor-neutral single-device surface: configuration,
// introspection and acquisition. All methods return only the closed
// error kinds of this package (wrapped); concrete adapters must not let
// an SDK-specific error type escape.
//
// Every method except GetFrame is synchronous and bounded-latency.
// GetFrame may block indefinitely (e.g. waiting on an external trigger)
// and is a single-consumer operation; a blocked GetFrame is released
// only by a concurrent Stop. Callers must serialize configuration
// changes with frame retrieval at a higher level.
type Camera interface {
	// Set applies the desired configuration, clamping numeric values
	// to the device capability ranges. Idempotent; partial failure is
	// not rolled back (call Get to learn the true resulting state).
	Set(props *CameraProperties) error

	// Get reads the current configuration from the device.
	Get(props *CameraProperties) error

	// GetMeta reports per-property writability and ranges.
	GetMeta(meta *CameraPropertyMetadata) error

	// GetShape re-queries the current frame geometry from the device.
	GetShape(shape *ImageShape) error

	// Start begins streaming; the frame id counter restarts at 0.
	Start() error

	// Stop halts streaming, disables triggering and releases a
	// concurrently blocked GetFrame.
	Stop() error

	// ExecuteTrigger fires a software trigger pulse.
	ExecuteTrigger() error

	// GetFrame blocks until the next frame, copies it into dst and
	// fills info. Returns the number of bytes copied. Fails with
	// ErrCapacity (no partial copy) when len(dst) is too small.
	GetFrame(dst []byte, info *ImageInfo) (int, error)
}

// Driver is the discovery and lifecycle surface behind which cameras
// are instantiated and torn down.
type Driver interface {
	// DeviceCount reports how many devices are currently reachable.
	DeviceCount() (int, error)

	// Describe identifies the device at index.
	Describe(index int) (DeviceIdentifier, error)

	// Open claims the device at index and returns its adapter.
	Open(index int) (Camera, error)

	// Close destroys an adapter previously returned by Open.
	// Teardown is best-effort: it never fails because of device state.
	Close(cam Camera) error

	// Shutdown releases driver-wide resources.
	Shutdown() error
}
