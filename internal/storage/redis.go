package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"kardex_assistant/internal/logger"
	"kardex_assistant/pkg"
)

const (
	// SessionTTL is the default idle lifetime of a session
	SessionTTL    = 60 * time.Minute
	sessionPrefix = "session:"
)

// RedisSessionStore keeps sessions as JSON documents under session:<key> with a sliding TTL
type RedisSessionStore struct {
	client      *redis.Client
	ttl         time.Duration
	maxMessages int
}

// NewRedisSessionStore connects to redisURL and verifies the connection
func NewRedisSessionStore(ctx context.Context, redisURL string, ttl time.Duration, maxMessages int) (*RedisSessionStore, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse REDIS_URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisSessionStoreWithClient(client, ttl, maxMessages), nil
}

// NewRedisSessionStoreWithClient wraps an existing client
func NewRedisSessionStoreWithClient(client *redis.Client, ttl time.Duration, maxMessages int) *RedisSessionStore {
	if ttl <= 0 {
		ttl = SessionTTL
	}
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	return &RedisSessionStore{client: client, ttl: ttl, maxMessages: maxMessages}
}

// key generates a Redis key for the given session key
func (r *RedisSessionStore) key(sessionKey string) string {
	return sessionPrefix + sessionKey
}

// Get retrieves a session
func (r *RedisSessionStore) Get(ctx context.Context, key string) (*Session, error) {
	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, key)
		}
		return nil, fmt.Errorf("failed to get session data: %w", err)
	}

	return decodeSession(key, data)
}

// decodeSession parses a stored document. A document that fails validation reads as not found.
func decodeSession(key string, data []byte) (*Session, error) {
	var s Session
	if err := sonic.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session data: %w", err)
	}
	if err := ValidateSession(&s); err != nil {
		return nil, fmt.Errorf("%w: %s invalid: %v", ErrSessionNotFound, key, err)
	}
	return &s, nil
}

// State returns the conversational state of a session
func (r *RedisSessionStore) State(ctx context.Context, key string) (*pkg.SessionState, error) {
	s, err := r.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return &s.State, nil
}

// Save appends a message and refreshes the TTL
func (r *RedisSessionStore) Save(ctx context.Context, key, message string, isBot bool) error {
	return r.update(ctx, key, func(s *Session) {
		s.Messages = appendMessage(s.Messages, message, isBot, r.maxMessages)
	})
}

// SetState replaces the conversational state and refreshes the TTL
func (r *RedisSessionStore) SetState(ctx context.Context, key string, state pkg.SessionState) error {
	return r.update(ctx, key, func(s *Session) {
		s.State = state
	})
}

// update runs fn against the stored session inside a WATCH transaction
func (r *RedisSessionStore) update(ctx context.Context, key string, fn func(*Session)) error {
	if key == "" {
		return fmt.Errorf("session key cannot be empty")
	}
	redisKey := r.key(key)

	txf := func(tx *redis.Tx) error {
		s := &Session{Key: key, CreatedAt: time.Now().Unix()}
		data, err := tx.Get(ctx, redisKey).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return fmt.Errorf("failed to get session data: %w", err)
		default:
			stored, err := decodeSession(key, data)
			if err != nil {
				logger.Warn().Err(err).Str("key", key).Msg("Resetting malformed session")
			} else {
				s = stored
			}
		}
		fn(s)
		s.UpdatedAt = time.Now().Unix()

		data, err = sonic.Marshal(s)
		if err != nil {
			return fmt.Errorf("failed to marshal session data: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, redisKey, data, r.ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < 3; attempt++ {
		err := r.client.Watch(ctx, txf, redisKey)
		if !errors.Is(err, redis.TxFailedErr) {
			if err != nil {
				return fmt.Errorf("failed to set session data: %w", err)
			}
			return nil
		}
	}
	return fmt.Errorf("failed to set session data: %w", redis.TxFailedErr)
}

// History returns up to n most recent messages, oldest first
func (r *RedisSessionStore) History(ctx context.Context, key string, n int) ([]pkg.ConversationMessage, error) {
	s, err := r.Get(ctx, key)
	if errors.Is(err, ErrSessionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return lastMessages(s.Messages, n), nil
}

// Delete removes a session
func (r *RedisSessionStore) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (r *RedisSessionStore) Close() error {
	return r.client.Close()
}
