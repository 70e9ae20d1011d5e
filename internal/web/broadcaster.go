package web

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// StatusEvent represents a single status message for SSE. Frame and
// Total are set only on acquisition progress events.
type StatusEvent struct {
	Time  string `json:"t"`
	Level string `json:"l,omitempty"`
	Msg   string `json:"msg"`
	Frame int    `json:"frame,omitempty"`
	Total int    `json:"total,omitempty"`
}

// ProgressSnapshot is the most recent acquisition progress event,
// retained so late-joining clients can poll the current state.
type ProgressSnapshot struct {
	Frame      int    `json:"frame"`
	Total      int    `json:"total"`
	FrameID    uint64 `json:"frame_id"`
	Short      bool   `json:"short"`
	UpdatedAt  string `json:"updated_at,omitempty"`
	HasUpdates bool   `json:"has_updates"`
}

// StatusBroadcaster distributes status messages to multiple SSE clients.
type StatusBroadcaster struct {
	mu       sync.RWMutex
	clients  map[chan string]struct{}
	progress ProgressSnapshot
}

// NewStatusBroadcaster creates a new broadcaster.
func NewStatusBroadcaster() *StatusBroadcaster {
	return &StatusBroadcaster{
		clients: make(map[chan string]struct{}),
	}
}

// Subscribe returns a channel that receives broadcast messages and a cleanup function.
// The caller must call the returned cleanup when done (e.g. on client disconnect).
func (b *StatusBroadcaster) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 64)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		delete(b.clients, ch)
		b.mu.Unlock()
		close(ch)
	}
	return ch, unsub
}

// Broadcast sends a message to all subscribed clients.
// Messages are sent as JSON: {"t":"...","l":"info","msg":"..."}
// Slow clients may miss messages (non-blocking, buffered).
func (b *StatusBroadcaster) Broadcast(level, msg string) {
	b.send(StatusEvent{
		Time:  time.Now().Format(time.RFC3339),
		Level: level,
		Msg:   msg,
	})
}

// BroadcastMsg is a convenience for level "info".
func (b *StatusBroadcaster) BroadcastMsg(msg string) {
	b.Broadcast("info", msg)
}

// BroadcastProgress sends one acquisition progress event and records it
// as the latest snapshot.
func (b *StatusBroadcaster) BroadcastProgress(frame, total int, frameID uint64, short bool) {
	msg := fmt.Sprintf("frame %d/%d (id %d)", frame, total, frameID)
	level := "info"
	if short {
		msg += " short delivery"
		level = "warn"
	}
	b.mu.Lock()
	b.progress = ProgressSnapshot{
		Frame:      frame,
		Total:      total,
		FrameID:    frameID,
		Short:      short,
		UpdatedAt:  time.Now().Format(time.RFC3339),
		HasUpdates: true,
	}
	b.mu.Unlock()
	b.send(StatusEvent{
		Time:  time.Now().Format(time.RFC3339),
		Level: level,
		Msg:   msg,
		Frame: frame,
		Total: total,
	})
}

// Progress returns the latest progress snapshot. HasUpdates is false
// until the first progress event of the process.
func (b *StatusBroadcaster) Progress() ProgressSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.progress
}

func (b *StatusBroadcaster) send(evt StatusEvent) {
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	payload := string(data)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- payload:
		default:
			// channel full, skip
		}
	}
}

// BroadcastWriter implements io.Writer; each Write broadcasts the content to SSE clients.
func BroadcastWriter(b *StatusBroadcaster) *broadcastWriter {
	return &broadcastWriter{b: b}
}

// broadcastWriter wraps StatusBroadcaster as io.Writer for use with log.SetOutput
// or debug.SetOutput.
type broadcastWriter struct {
	b *StatusBroadcaster
}

func (w *broadcastWriter) Write(p []byte) (n int, err error) {
	msg := strings.TrimSpace(string(p))
	if msg != "" {
		w.b.BroadcastMsg(msg)
	}
	return len(p), nil
}
