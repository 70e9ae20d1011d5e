package web

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
	"time"
)

// ---------- ValidateOverrides ----------

func TestValidateOverrides_Valid(t *testing.T) {
	cases := []struct {
		name string
		o    Overrides
	}{
		{"typical", Overrides{FrameCount: 100, ExposureTimeUs: 10000}},
		{"min_boundary", Overrides{FrameCount: 1, ExposureTimeUs: 1}},
		{"max_boundary", Overrides{FrameCount: 1_000_000, ExposureTimeUs: 10_000_000}},
		{"with_shape", Overrides{FrameCount: 10, ExposureTimeUs: 500, Width: 640, Height: 480}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := ValidateOverrides(tc.o); err != nil {
				t.Errorf("expected valid, got: %v", err)
			}
		})
	}
}

func TestValidateOverrides_Rejected(t *testing.T) {
	cases := []struct {
		name string
		o    Overrides
	}{
		{"frame_count_zero", Overrides{FrameCount: 0, ExposureTimeUs: 1000}},
		{"frame_count_negative", Overrides{FrameCount: -1, ExposureTimeUs: 1000}},
		{"frame_count_huge", Overrides{FrameCount: 2_000_000, ExposureTimeUs: 1000}},
		{"exposure_zero", Overrides{FrameCount: 10, ExposureTimeUs: 0}},
		{"exposure_negative", Overrides{FrameCount: 10, ExposureTimeUs: -5}},
		{"exposure_huge", Overrides{FrameCount: 10, ExposureTimeUs: 20_000_000}},
		{"negative_width", Overrides{FrameCount: 10, ExposureTimeUs: 1000, Width: -1}},
		{"negative_height", Overrides{FrameCount: 10, ExposureTimeUs: 1000, Height: -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := ValidateOverrides(tc.o); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestValidateOverrides_NonFiniteExposure(t *testing.T) {
	cases := []struct {
		name     string
		exposure float64
	}{
		{"NaN", math.NaN()},
		{"+Inf", math.Inf(1)},
		{"-Inf", math.Inf(-1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := Overrides{FrameCount: 10, ExposureTimeUs: tc.exposure}
			if err := ValidateOverrides(o); err == nil {
				t.Error("expected error for non-finite exposure, got nil")
			}
		})
	}
}

// ---------- Handler helpers ----------

func newTestHandlers(runAcquire RunAcquireFunc) *Handlers {
	staticFS := fstest.MapFS{
		"index.html": &fstest.MapFile{Data: []byte("<html>test</html>")},
	}
	return NewHandlers(
		NewStatusBroadcaster(),
		runAcquire,
		FormConfig{
			FrameCount:     100,
			ExposureTimeUs: 10000,
			Width:          14192,
			Height:         10640,
			PixelType:      "u12",
		},
		staticFS,
	)
}

func noopAcquire(_ context.Context, _ Overrides) error {
	return nil
}

func validOverridesJSON() []byte {
	data, _ := json.Marshal(Overrides{FrameCount: 10, ExposureTimeUs: 10000})
	return data
}

// ---------- HandleRun ----------

func TestHandleRun_ValidPost(t *testing.T) {
	h := newTestHandlers(noopAcquire)
	req := httptest.NewRequest(http.MethodPost, "/run", bytes.NewReader(validOverridesJSON()))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	h.HandleRun(w, req)

	if w.Code != http.StatusAccepted {
		t.Errorf("status = %d, want %d", w.Code, http.StatusAccepted)
	}

	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "started" {
		t.Errorf("response status = %q, want \"started\"", resp["status"])
	}

	// Wait for goroutine to finish
	time.Sleep(100 * time.Millisecond)
}

func TestHandleRun_GetMethodNotAllowed(t *testing.T) {
	h := newTestHandlers(noopAcquire)
	req := httptest.NewRequest(http.MethodGet, "/run", nil)
	w := httptest.NewRecorder()

	h.HandleRun(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}

func TestHandleRun_InvalidJSON(t *testing.T) {
	h := newTestHandlers(noopAcquire)
	req := httptest.NewRequest(http.MethodPost, "/run", strings.NewReader("not json"))
	w := httptest.NewRecorder()

	h.HandleRun(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestHandleRun_InvalidOverrides(t *testing.T) {
	h := newTestHandlers(noopAcquire)
	data, _ := json.Marshal(Overrides{FrameCount: 0, ExposureTimeUs: 10000})
	req := httptest.NewRequest(http.MethodPost, "/run", bytes.NewReader(data))
	w := httptest.NewRecorder()

	h.HandleRun(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestHandleRun_OversizedBody(t *testing.T) {
	h := newTestHandlers(noopAcquire)
	big := strings.Repeat("x", 2<<20) // 2 MB
	req := httptest.NewRequest(http.MethodPost, "/run", strings.NewReader(big))
	w := httptest.NewRecorder()

	h.HandleRun(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d (oversized body)", w.Code, http.StatusBadRequest)
	}
}

func TestHandleRun_NilRunAcquire(t *testing.T) {
	h := newTestHandlers(nil)
	req := httptest.NewRequest(http.MethodPost, "/run", bytes.NewReader(validOverridesJSON()))
	w := httptest.NewRecorder()

	h.HandleRun(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestHandleRun_ConcurrentRun(t *testing.T) {
	// Simulate a long-running acquisition
	started := make(chan struct{})
	blocking := make(chan struct{})
	slowAcquire := func(_ context.Context, _ Overrides) error {
		close(started)
		<-blocking
		return nil
	}

	h := newTestHandlers(slowAcquire)

	// First request starts the run
	req1 := httptest.NewRequest(http.MethodPost, "/run", bytes.NewReader(validOverridesJSON()))
	w1 := httptest.NewRecorder()
	h.HandleRun(w1, req1)
	if w1.Code != http.StatusAccepted {
		t.Fatalf("first request: status = %d, want %d", w1.Code, http.StatusAccepted)
	}

	// Wait for goroutine to start
	<-started

	// Second request should be rejected as already running
	req2 := httptest.NewRequest(http.MethodPost, "/run", bytes.NewReader(validOverridesJSON()))
	w2 := httptest.NewRecorder()
	h.HandleRun(w2, req2)

	if w2.Code != http.StatusConflict {
		t.Errorf("concurrent request: status = %d, want %d", w2.Code, http.StatusConflict)
	}

	close(blocking) // unblock first run
	time.Sleep(100 * time.Millisecond)
}

func TestHandleRun_RateLimiting(t *testing.T) {
	h := newTestHandlers(noopAcquire)

	// First request
	req1 := httptest.NewRequest(http.MethodPost, "/run", bytes.NewReader(validOverridesJSON()))
	w1 := httptest.NewRecorder()
	h.HandleRun(w1, req1)
	if w1.Code != http.StatusAccepted {
		t.Fatalf("first request: status = %d, want %d", w1.Code, http.StatusAccepted)
	}

	// Wait a bit for the goroutine to finish and running flag to clear
	time.Sleep(200 * time.Millisecond)

	// Second request within the minimum interval is rate-limited
	req2 := httptest.NewRequest(http.MethodPost, "/run", bytes.NewReader(validOverridesJSON()))
	w2 := httptest.NewRecorder()
	h.HandleRun(w2, req2)

	if w2.Code != http.StatusTooManyRequests {
		t.Errorf("rate-limited request: status = %d, want %d", w2.Code, http.StatusTooManyRequests)
	}
}

// ---------- HandleConfig ----------

func TestHandleConfig(t *testing.T) {
	h := newTestHandlers(noopAcquire)
	req := httptest.NewRequest(http.MethodGet, "/config", nil)
	w := httptest.NewRecorder()

	h.HandleConfig(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var fc FormConfig
	if err := json.NewDecoder(w.Body).Decode(&fc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if fc.FrameCount != 100 {
		t.Errorf("FrameCount = %d, want 100", fc.FrameCount)
	}
	if fc.ExposureTimeUs != 10000 {
		t.Errorf("ExposureTimeUs = %v, want 10000", fc.ExposureTimeUs)
	}
	if fc.PixelType != "u12" {
		t.Errorf("PixelType = %q, want \"u12\"", fc.PixelType)
	}
}

// ---------- ServeIndex ----------

func TestServeIndex(t *testing.T) {
	h := newTestHandlers(noopAcquire)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()

	h.ServeIndex(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %q, want text/html; charset=utf-8", ct)
	}
	if !strings.Contains(w.Body.String(), "<html>") {
		t.Error("body should contain HTML content")
	}
}

// ---------- HandleStats ----------

func TestHandleStats(t *testing.T) {
	h := newTestHandlers(noopAcquire)
	h.Broadcaster.BroadcastProgress(7, 100, 6, false)

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	w := httptest.NewRecorder()

	h.HandleStats(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp struct {
		Running  bool             `json:"running"`
		Progress ProgressSnapshot `json:"progress"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Running {
		t.Error("running = true, want false")
	}
	if resp.Progress.Frame != 7 || resp.Progress.Total != 100 {
		t.Errorf("progress = %d/%d, want 7/100", resp.Progress.Frame, resp.Progress.Total)
	}
	if !resp.Progress.HasUpdates {
		t.Error("HasUpdates = false after a progress event")
	}
}

func TestHandleStats_NoRunsYet(t *testing.T) {
	h := newTestHandlers(noopAcquire)

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	w := httptest.NewRecorder()

	h.HandleStats(w, req)

	var resp struct {
		Progress ProgressSnapshot `json:"progress"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Progress.HasUpdates {
		t.Error("HasUpdates = true before any progress event")
	}
}
