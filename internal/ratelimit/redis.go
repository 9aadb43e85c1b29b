package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/BTreeMap/DonorPipe/internal/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// maxTxAttempts bounds optimistic retries when another client touches the same window.
const maxTxAttempts = 5

// RedisLimiter keeps each user's window in a sorted set scored by admission
// time in milliseconds, so several processes can share one budget.
type RedisLimiter struct {
	client      *redis.Client
	window      time.Duration
	maxRequests int
	prefix      string
}

// NewRedisLimiter creates a Redis-backed sliding window limiter.
func NewRedisLimiter(client *redis.Client, opts ...Option) *RedisLimiter {
	cfg := buildOpts(opts)
	slog.Debug("RedisLimiter.NewRedisLimiter: creating limiter", "window", cfg.Window, "max_requests", cfg.MaxRequests, "prefix", cfg.KeyPrefix)
	return &RedisLimiter{
		client:      client,
		window:      cfg.Window,
		maxRequests: cfg.MaxRequests,
		prefix:      cfg.KeyPrefix,
	}
}

// Admit implements Limiter. When Redis is unreachable the interaction is
// admitted and the failure is logged.
func (l *RedisLimiter) Admit(ctx context.Context, userID models.UserID, now time.Time) bool {
	key := l.prefix + string(userID)
	cutoff := strconv.FormatInt(now.Add(-l.window).UnixMilli(), 10)
	member := strconv.FormatInt(now.UnixNano(), 10) + "-" + uuid.NewString()

	var admitted bool
	txf := func(tx *redis.Tx) error {
		admitted = false
		n, err := tx.ZCount(ctx, key, "("+cutoff, "+inf").Result()
		if err != nil {
			return err
		}
		if n >= int64(l.maxRequests) {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZRemRangeByScore(ctx, key, "-inf", cutoff)
			pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: member})
			pipe.PExpire(ctx, key, l.window)
			return nil
		})
		if err == nil {
			admitted = true
		}
		return err
	}

	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := l.client.Watch(ctx, txf, key)
		if err == nil {
			if !admitted {
				slog.Debug("RedisLimiter.Admit: rejected", "user_id", userID)
			}
			return admitted
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		slog.Error("RedisLimiter.Admit: redis failure, admitting", "error", err, "user_id", userID)
		return true
	}
	slog.Warn("RedisLimiter.Admit: too much contention, rejecting", "user_id", userID)
	return false
}

// Compile-time check that RedisLimiter implements Limiter.
var _ Limiter = (*RedisLimiter)(nil)
