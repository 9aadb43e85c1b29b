// Package ratelimit admits or rejects user interactions using a per-user
// sliding window of recent admission times.
package ratelimit

import (
	"context"
	"time"

	"github.com/BTreeMap/DonorPipe/internal/models"
)

// Default sliding window parameters.
const (
	// DefaultWindow is the length of the trailing window.
	DefaultWindow = 60 * time.Second
	// DefaultMaxRequests is the number of admissions allowed inside one window.
	DefaultMaxRequests = 5
)

// Limiter decides whether an interaction from a user may be processed.
type Limiter interface {
	// Admit prunes the user's window relative to now and, if fewer than the
	// configured maximum remain, records now and returns true. A rejected
	// attempt is not recorded.
	Admit(ctx context.Context, userID models.UserID, now time.Time) bool
}

// Opts holds limiter configuration.
type Opts struct {
	Window      time.Duration
	MaxRequests int
	KeyPrefix   string // Redis only
}

// Option defines a configuration option for a limiter.
type Option func(*Opts)

// WithWindow overrides the sliding window length.
func WithWindow(d time.Duration) Option {
	return func(o *Opts) {
		o.Window = d
	}
}

// WithMaxRequests overrides the admission budget per window.
func WithMaxRequests(n int) Option {
	return func(o *Opts) {
		o.MaxRequests = n
	}
}

// WithKeyPrefix sets the Redis key prefix for rate windows.
func WithKeyPrefix(prefix string) Option {
	return func(o *Opts) {
		o.KeyPrefix = prefix
	}
}

func buildOpts(opts []Option) Opts {
	cfg := Opts{
		Window:      DefaultWindow,
		MaxRequests: DefaultMaxRequests,
		KeyPrefix:   "donorpipe:ratelimit:",
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = DefaultMaxRequests
	}
	return cfg
}
