package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log"
	"math"
	"net/http"
	"sync"
	"time"
)

// MaxRunBodyBytes caps the POST /run request body.
const MaxRunBodyBytes = 1 << 20

// minRunInterval is the shortest allowed spacing between runs; the
// camera needs a moment to settle after the trailing stop sequence.
const minRunInterval = 5 * time.Second

// Overrides holds acquisition parameters that can override config
// defaults. Zero shape values mean "keep the configured geometry".
type Overrides struct {
	FrameCount     int     `json:"frame_count"`
	ExposureTimeUs float64 `json:"exposure_time_us"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
}

// ValidateOverrides rejects values the acquisition layer cannot accept.
// Shape values are only sanity checked here; the adapter clamps them to
// the device capability range.
func ValidateOverrides(o Overrides) error {
	if o.FrameCount < 1 || o.FrameCount > 1_000_000 {
		return fmt.Errorf("frame_count must be between 1 and 1000000, got %d", o.FrameCount)
	}
	if math.IsNaN(o.ExposureTimeUs) || math.IsInf(o.ExposureTimeUs, 0) {
		return fmt.Errorf("exposure_time_us must be finite")
	}
	if o.ExposureTimeUs <= 0 || o.ExposureTimeUs > 10_000_000 {
		return fmt.Errorf("exposure_time_us must be between 0 and 10000000, got %g", o.ExposureTimeUs)
	}
	if o.Width < 0 || o.Height < 0 {
		return fmt.Errorf("width and height must not be negative")
	}
	return nil
}

// RunAcquireFunc runs an acquisition with the given overrides.
// It is called from the POST /run handler in a goroutine.
type RunAcquireFunc func(ctx context.Context, overrides Overrides) error

// FormConfig holds default values for the run form (from config).
type FormConfig struct {
	FrameCount     int     `json:"frame_count"`
	ExposureTimeUs float64 `json:"exposure_time_us"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	PixelType      string  `json:"pixel_type"`
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster  *StatusBroadcaster
	RunAcquire   RunAcquireFunc
	FormDefaults FormConfig

	runningMu sync.Mutex
	running   bool
	lastRun   time.Time

	staticFS fs.FS
}

// NewHandlers creates handlers with the given dependencies.
// If runAcquire is nil, POST /run will return 503 Service Unavailable.
func NewHandlers(broadcaster *StatusBroadcaster, runAcquire RunAcquireFunc, formDefaults FormConfig, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster:  broadcaster,
		RunAcquire:   runAcquire,
		FormDefaults: formDefaults,
		staticFS:     staticFS,
	}
}

// HandleConfig returns the form default values (from config) as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.FormDefaults)
}

// statsResponse is the JSON body of GET /api/stats.
type statsResponse struct {
	Running  bool             `json:"running"`
	Progress ProgressSnapshot `json:"progress"`
}

// HandleStats returns a JSON snapshot of the current acquisition state:
// whether a run is active and the latest progress event.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	h.runningMu.Lock()
	running := h.running
	h.runningMu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(statsResponse{
		Running:  running,
		Progress: h.Broadcaster.Progress(),
	})
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleRun handles POST /run to start an acquisition.
func (h *Handlers) HandleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var overrides Overrides
	body := http.MaxBytesReader(w, r.Body, MaxRunBodyBytes)
	if err := json.NewDecoder(body).Decode(&overrides); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	if err := ValidateOverrides(overrides); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if h.RunAcquire == nil {
		http.Error(w, "acquisition not configured", http.StatusServiceUnavailable)
		return
	}

	h.runningMu.Lock()
	if h.running {
		h.runningMu.Unlock()
		http.Error(w, "acquisition already in progress", http.StatusConflict)
		return
	}
	if !h.lastRun.IsZero() && time.Since(h.lastRun) < minRunInterval {
		h.runningMu.Unlock()
		http.Error(w, "too soon after previous run", http.StatusTooManyRequests)
		return
	}
	h.running = true
	h.lastRun = time.Now()
	h.runningMu.Unlock()

	// Run in goroutine; clear running when done
	go func() {
		defer func() {
			h.runningMu.Lock()
			h.running = false
			h.runningMu.Unlock()
		}()

		ctx := context.Background()
		if err := h.RunAcquire(ctx, overrides); err != nil {
			h.Broadcaster.Broadcast("error", "Acquisition failed: "+err.Error())
			log.Printf("acquisition failed: %v", err)
		} else {
			h.Broadcaster.Broadcast("info", "Acquisition complete")
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "started"})
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
