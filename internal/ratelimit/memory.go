package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/DonorPipe/internal/models"
)

// window is one user's admitted timestamps, oldest first.
type window struct {
	mu         sync.Mutex
	timestamps []time.Time
}

// SlidingWindow is an in-memory Limiter. Windows are created lazily and
// pruned on each admission check; they are never removed.
type SlidingWindow struct {
	window      time.Duration
	maxRequests int

	mu      sync.Mutex
	windows map[models.UserID]*window
}

// NewSlidingWindow creates an in-memory sliding window limiter.
func NewSlidingWindow(opts ...Option) *SlidingWindow {
	cfg := buildOpts(opts)
	slog.Debug("SlidingWindow.NewSlidingWindow: creating limiter", "window", cfg.Window, "max_requests", cfg.MaxRequests)
	return &SlidingWindow{
		window:      cfg.Window,
		maxRequests: cfg.MaxRequests,
		windows:     make(map[models.UserID]*window),
	}
}

// Admit implements Limiter.
func (l *SlidingWindow) Admit(ctx context.Context, userID models.UserID, now time.Time) bool {
	w := l.windowFor(userID)

	w.mu.Lock()
	defer w.mu.Unlock()

	// Keep timestamps strictly younger than the window.
	cutoff := now.Add(-l.window)
	kept := w.timestamps[:0]
	for _, ts := range w.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	w.timestamps = kept

	if len(w.timestamps) >= l.maxRequests {
		slog.Debug("SlidingWindow.Admit: rejected", "user_id", userID, "count", len(w.timestamps))
		return false
	}
	w.timestamps = append(w.timestamps, now)
	return true
}

// Count returns the number of timestamps currently held for a user without pruning.
func (l *SlidingWindow) Count(userID models.UserID) int {
	l.mu.Lock()
	w, ok := l.windows[userID]
	l.mu.Unlock()
	if !ok {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.timestamps)
}

func (l *SlidingWindow) windowFor(userID models.UserID) *window {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[userID]
	if !ok {
		w = &window{}
		l.windows[userID] = w
	}
	return w
}

// Compile-time check that SlidingWindow implements Limiter.
var _ Limiter = (*SlidingWindow)(nil)
