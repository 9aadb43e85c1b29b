package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/DonorPipe/internal/models"
	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store with one JSON value per user. The idle timeout
// becomes the key TTL, refreshed on every Put.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func newRedisStore(cfg *storeConfig) *RedisStore {
	return &RedisStore{
		client: cfg.redisClient,
		prefix: cfg.keyPrefix,
		ttl:    cfg.idleTimeout,
	}
}

// NewRedisStore creates a Redis-backed session store. A ttl of zero keeps
// sessions until they are removed.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "donorpipe:session:",
		ttl:    ttl,
	}
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, userID models.UserID) (*models.ConversationSession, error) {
	val, err := s.client.Get(ctx, s.key(userID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		slog.Error("RedisStore.Get: redis get failed", "error", err, "user_id", userID)
		return nil, fmt.Errorf("failed to get session for %s: %w", userID, err)
	}

	var sess models.ConversationSession
	if err := json.Unmarshal(val, &sess); err != nil {
		slog.Error("RedisStore.Get: corrupt session, discarding", "error", err, "user_id", userID)
		_ = s.client.Del(ctx, s.key(userID)).Err()
		return nil, nil
	}
	if sess.Answers == nil {
		sess.Answers = make(map[models.FieldName]string)
	}
	return &sess, nil
}

// Put implements Store.
func (s *RedisStore) Put(ctx context.Context, sess *models.ConversationSession) error {
	if sess == nil || sess.UserID == "" {
		return models.ErrEmptyUserID
	}
	val, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session for %s: %w", sess.UserID, err)
	}
	if err := s.client.Set(ctx, s.key(sess.UserID), val, s.ttl).Err(); err != nil {
		slog.Error("RedisStore.Put: redis set failed", "error", err, "user_id", sess.UserID)
		return fmt.Errorf("failed to store session for %s: %w", sess.UserID, err)
	}
	return nil
}

// Remove implements Store.
func (s *RedisStore) Remove(ctx context.Context, userID models.UserID) error {
	if err := s.client.Del(ctx, s.key(userID)).Err(); err != nil {
		slog.Error("RedisStore.Remove: redis del failed", "error", err, "user_id", userID)
		return fmt.Errorf("failed to remove session for %s: %w", userID, err)
	}
	return nil
}

// Close implements Store. The client is owned by the caller and left open.
func (s *RedisStore) Close() error {
	return nil
}

func (s *RedisStore) key(userID models.UserID) string {
	return s.prefix + string(userID)
}

// Compile-time check that RedisStore implements Store.
var _ Store = (*RedisStore)(nil)
