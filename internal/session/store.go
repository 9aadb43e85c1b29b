// Package session stores per-user conversation sessions.
//
// A session exists for a user only while that user has an unfinished flow.
// Drivers are in-memory (process lifetime) or Redis (shared across processes).
package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/BTreeMap/DonorPipe/internal/models"
	"github.com/redis/go-redis/v9"
)

// Error variables for session store configuration.
var (
	ErrInvalidConfig    = errors.New("invalid session store configuration")
	ErrInvalidStoreType = errors.New("invalid session store type")
)

// Store defines the interface for session storage operations.
type Store interface {
	// Get returns the user's session, or nil when there is none (not an error).
	Get(ctx context.Context, userID models.UserID) (*models.ConversationSession, error)

	// Put creates or replaces the user's session.
	Put(ctx context.Context, s *models.ConversationSession) error

	// Remove deletes the user's session. Removing a missing session is not an error.
	Remove(ctx context.Context, userID models.UserID) error

	// Close releases any resources.
	Close() error
}

// StoreType represents the type of session store.
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
)

// DefaultIdleTimeout is how long an untouched session survives before eviction.
const DefaultIdleTimeout = 30 * time.Minute

// StoreOption is a functional option for configuring a session store.
type StoreOption func(*storeConfig)

type storeConfig struct {
	redisClient *redis.Client
	keyPrefix   string
	idleTimeout time.Duration
	clock       func() time.Time
}

// WithRedisClient sets the Redis client for the Redis store.
func WithRedisClient(client *redis.Client) StoreOption {
	return func(c *storeConfig) {
		c.redisClient = client
	}
}

// WithKeyPrefix sets the Redis key prefix.
func WithKeyPrefix(prefix string) StoreOption {
	return func(c *storeConfig) {
		c.keyPrefix = prefix
	}
}

// WithIdleTimeout evicts sessions not updated within d. Zero disables eviction.
func WithIdleTimeout(d time.Duration) StoreOption {
	return func(c *storeConfig) {
		c.idleTimeout = d
	}
}

// WithClock overrides the time source used for eviction (tests).
func WithClock(clock func() time.Time) StoreOption {
	return func(c *storeConfig) {
		c.clock = clock
	}
}

// NewStore creates a new Store based on the given type.
// For Redis, requires WithRedisClient option.
func NewStore(storeType StoreType, opts ...StoreOption) (Store, error) {
	cfg := &storeConfig{
		keyPrefix:   "donorpipe:session:",
		idleTimeout: DefaultIdleTimeout,
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.idleTimeout < 0 {
		cfg.idleTimeout = 0
	}
	slog.Debug("session.NewStore: creating store", "type", storeType, "idle_timeout", cfg.idleTimeout)

	switch storeType {
	case StoreTypeMemory, "":
		return newInMemoryStore(cfg), nil
	case StoreTypeRedis:
		if cfg.redisClient == nil {
			return nil, ErrInvalidConfig
		}
		return newRedisStore(cfg), nil
	default:
		return nil, ErrInvalidStoreType
	}
}
