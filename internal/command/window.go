// Package command turns chat commands into manual capture windows.
package command

import (
	"sync"
	"time"
)

// ManualWindow is a time-bounded manual capture mode shared between the
// command listener and the capture loop.
type ManualWindow struct {
	mu       sync.Mutex
	duration time.Duration
	expiry   time.Time
	active   bool
}

func NewManualWindow(duration time.Duration) *ManualWindow {
	return &ManualWindow{duration: duration}
}

// Open starts or extends the window to now+duration.
func (w *ManualWindow) Open(now time.Time) time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.active = true
	w.expiry = now.Add(w.duration)
	return w.expiry
}

func (w *ManualWindow) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.active = false
	w.expiry = time.Time{}
}

// Active reports whether the window is open at now, closing it once expired.
func (w *ManualWindow) Active(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.active && now.After(w.expiry) {
		w.active = false
		w.expiry = time.Time{}
	}
	return w.active
}

func (w *ManualWindow) Expiry() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.expiry
}

func (w *ManualWindow) Duration() time.Duration { return w.duration }
