package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/cjeanneret/GrabGo/internal/config"
	"github.com/cjeanneret/GrabGo/internal/debug"
	"github.com/cjeanneret/GrabGo/internal/hw/camera"
	"github.com/cjeanneret/GrabGo/internal/hw/gpio"
	"github.com/cjeanneret/GrabGo/internal/hw/grabber"
	"github.com/cjeanneret/GrabGo/internal/hw/trigger"
	"github.com/cjeanneret/GrabGo/internal/logic/acquire"
	"github.com/cjeanneret/GrabGo/internal/web"
)

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	listDevices := flag.Bool("list", false, "list discovered cameras and exit")
	frames := flag.Int("frames", 0, "override frame count (0 = use config)")
	exposureUs := flag.Float64("exposure_time_us", 0, "override exposure time in microseconds (0 = use config)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Load configuration
	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		log.Fatalf("invalid config path: %v", err)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	// Validate CLI overrides (only non-zero values are applied; zero means "use config default")
	if err := validateCLIOverrides(*frames, *exposureUs); err != nil {
		log.Fatalf("invalid CLI override: %v", err)
	}

	// Apply CLI overrides to config
	applyOverrides(cfg, web.Overrides{
		FrameCount:     *frames,
		ExposureTimeUs: *exposureUs,
	})

	// Initialize debug system
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	// Initialize the grabber backend and camera driver
	debug.Value("Mock grabber", cfg.Defaults.MockGrabber)
	debug.Step(1, "Initializing grabber backend")
	backend, err := grabber.NewBackend(cfg.Defaults.MockGrabber)
	if err != nil {
		log.Fatalf("init grabber backend failed: %v", err)
	}
	driver := camera.NewDriver(backend)
	defer func() {
		if err := driver.Shutdown(); err != nil {
			log.Printf("driver shutdown failed: %v", err)
		}
	}()

	if *listDevices {
		if err := printDevices(driver); err != nil {
			log.Fatalf("list devices failed: %v", err)
		}
		return
	}

	// Open the configured camera
	debug.Step(2, "Opening camera")
	id, err := driver.Describe(cfg.Defaults.DeviceIndex)
	if err != nil {
		log.Fatalf("describe camera %d failed: %v", cfg.Defaults.DeviceIndex, err)
	}
	debug.Value("Camera", id.Name)
	cam, err := driver.Open(cfg.Defaults.DeviceIndex)
	if err != nil {
		log.Fatalf("open camera failed: %v", err)
	}
	defer func() {
		if err := driver.Close(cam); err != nil {
			log.Printf("closing camera failed: %v", err)
		}
	}()

	// Optional GPIO pulser for the hardware trigger line
	var pulser acquire.Pulser
	if cfg.Pulser.Enabled {
		debug.Step(3, "Initializing trigger pulser")
		debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
		gpioDriver, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
		if err != nil {
			log.Fatalf("init GPIO failed: %v", err)
		}
		defer func() {
			if err := gpioDriver.Close(); err != nil {
				log.Printf("closing GPIO driver failed: %v", err)
			}
		}()
		pulser = trigger.NewLinePulser(gpioDriver, cfg.Pulser.Pin,
			cfg.PulseWidth(), cfg.Pulser.ActiveLow)
		debug.PrintStruct("Pulser config", cfg.Pulser)
	}

	runner := acquire.NewRunner(cam)

	if port := webPort.port(); port > 0 {
		webAddr := fmt.Sprintf(":%d", port)
		broadcaster := web.NewStatusBroadcaster()
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))

		runAcquire := func(ctx context.Context, overrides web.Overrides) error {
			_, err := runner.Run(ctx, paramsFromConfig(cfg, overrides, pulser, broadcaster))
			return err
		}
		formDefaults := web.FormConfig{
			FrameCount:     cfg.Acquisition.FrameCount,
			ExposureTimeUs: float64(cfg.Camera.ExposureTimeUs),
			Width:          int(cfg.Camera.Width),
			Height:         int(cfg.Camera.Height),
			PixelType:      cfg.Camera.PixelType,
		}
		srv := web.NewServer(webAddr, broadcaster, runAcquire, formDefaults)
		if err := srv.Run(ctx); err != nil {
			log.Fatalf("web server: %v", err)
		}
		return
	}

	// Run one acquisition with the current config (CLI overrides already applied)
	stats, err := runner.Run(ctx, paramsFromConfig(cfg, web.Overrides{}, pulser, nil))
	if err != nil {
		log.Fatalf("acquisition failed: %v", err)
	}
	fmt.Printf("run %s: %d/%d frames (%d short) in %s, %.1f fps\n",
		stats.RunID, stats.Collected, stats.Requested, stats.ShortFrames,
		stats.Elapsed.Round(0), stats.FramesPerSecond())
}

// paramsFromConfig assembles run parameters from the base config plus
// per-run overrides. Zero override values mean "use base config".
func paramsFromConfig(baseCfg *config.Config, overrides web.Overrides, pulser acquire.Pulser, b *web.StatusBroadcaster) acquire.Params {
	cfg := applyOverridesToCopy(baseCfg, overrides)

	props, err := cfg.Properties()
	if err != nil {
		// Load already validated these fields; overrides cannot break them.
		log.Fatalf("config properties: %v", err)
	}
	p := acquire.Params{
		Props:                 props,
		FrameCount:            cfg.Acquisition.FrameCount,
		StopOnShortFrame:      cfg.Acquisition.StopOnShortFrame,
		SoftwareTriggerPeriod: cfg.SoftwareTriggerPeriod(),
		Pulser:                pulser,
		PulsePeriod:           cfg.PulsePeriod(),
	}
	if b != nil {
		p.OnFrame = func(pr acquire.Progress) {
			b.BroadcastProgress(pr.Frame, pr.Total, pr.FrameID, pr.Short)
		}
	}
	return p
}

// printDevices enumerates the discovered cameras on stdout.
func printDevices(driver *camera.Driver) error {
	n, err := driver.DeviceCount()
	if err != nil {
		return err
	}
	if n == 0 {
		fmt.Println("no cameras found")
		return nil
	}
	for i := 0; i < n; i++ {
		id, err := driver.Describe(i)
		if err != nil {
			return err
		}
		fmt.Printf("%d: %s\n", i, id.Name)
	}
	return nil
}

// validateCLIOverrides checks that non-zero CLI overrides are within valid ranges.
// Zero values are ignored (they mean "use config default").
func validateCLIOverrides(frames int, exposureUs float64) error {
	if frames != 0 {
		if frames < 1 || frames > 1_000_000 {
			return fmt.Errorf("frames must be between 1 and 1000000, got %d", frames)
		}
	}
	if exposureUs != 0 {
		if math.IsNaN(exposureUs) || math.IsInf(exposureUs, 0) || exposureUs <= 0 || exposureUs > 10_000_000 {
			return fmt.Errorf("exposure_time_us must be between 0 and 10000000, got %g", exposureUs)
		}
	}
	return nil
}

// applyOverrides mutates cfg with overrides. Only non-zero override values are applied.
func applyOverrides(cfg *config.Config, overrides web.Overrides) {
	if overrides.FrameCount > 0 {
		cfg.Acquisition.FrameCount = overrides.FrameCount
	}
	if overrides.ExposureTimeUs > 0 {
		cfg.Camera.ExposureTimeUs = float32(overrides.ExposureTimeUs)
	}
	if overrides.Width > 0 {
		cfg.Camera.Width = uint32(overrides.Width)
	}
	if overrides.Height > 0 {
		cfg.Camera.Height = uint32(overrides.Height)
	}
}

// applyOverridesToCopy returns a new config with overrides applied.
// Zero values in overrides mean "use base config".
func applyOverridesToCopy(baseCfg *config.Config, overrides web.Overrides) *config.Config {
	cfg := *baseCfg
	applyOverrides(&cfg, overrides)
	return &cfg
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
