package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/investa-id/investa_portal/internal/logging"
)

// RedisStore keeps the session in Redis, shared by every portal context that
// points at the same namespace.
type RedisStore struct {
	client    *redis.Client
	namespace string
	notifier  Notifier
	logger    *slog.Logger
}

// NewRedisStore builds a store. notifier may be nil.
func NewRedisStore(client *redis.Client, namespace string, notifier Notifier, logger *slog.Logger) *RedisStore {
	return &RedisStore{
		client:    client,
		namespace: namespace,
		notifier:  notifier,
		logger:    logging.Component(logger, "session.redis"),
	}
}

func (s *RedisStore) key(name string) string {
	return s.namespace + ":" + name
}

// Load reads every session key in one round trip.
func (s *RedisStore) Load(ctx context.Context) (*Session, error) {
	keys := make([]string, len(AllKeys))
	for i, k := range AllKeys {
		keys[i] = s.key(k)
	}

	raw, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	values := make(map[string]string, len(AllKeys))
	for i, v := range raw {
		if str, ok := v.(string); ok {
			values[AllKeys[i]] = str
		}
	}

	sess, ok := decode(values)
	if !ok {
		if values[KeyToken] != "" || values[KeyExpiresAt] != "" {
			s.logger.Warn("stored session is malformed, treating as logged out")
		}
		return nil, nil
	}
	return sess, nil
}

// Commit writes all fields inside MULTI/EXEC.
func (s *RedisStore) Commit(ctx context.Context, sess Session) error {
	values, err := encode(sess)
	if err != nil {
		return err
	}
	if err := s.write(ctx, values); err != nil {
		return fmt.Errorf("commit session: %w", err)
	}
	s.notify(ctx, AllKeys)
	return nil
}

// CommitProfile rewrites user and application only. The token key is watched
// so a Clear or re-login from another context aborts the write.
func (s *RedisStore) CommitProfile(ctx context.Context, user *UserProfile, app *AppConfig) error {
	values, err := encodeProfile(user, app)
	if err != nil {
		return err
	}
	tokenKey := s.key(KeyToken)
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, tokenKey).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNoSession
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			s.queue(ctx, pipe, values)
			return nil
		})
		return err
	}, tokenKey)
	switch {
	case errors.Is(err, ErrNoSession), errors.Is(err, redis.TxFailedErr):
		return ErrNoSession
	case err != nil:
		return fmt.Errorf("commit profile: %w", err)
	}
	s.notify(ctx, ProfileKeys)
	return nil
}

// Clear deletes every session key.
func (s *RedisStore) Clear(ctx context.Context) error {
	keys := make([]string, len(AllKeys))
	for i, k := range AllKeys {
		keys[i] = s.key(k)
	}
	removed, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	if removed > 0 {
		s.notify(ctx, AllKeys)
	}
	return nil
}

func (s *RedisStore) write(ctx context.Context, values map[string]string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		s.queue(ctx, pipe, values)
		return nil
	})
	return err
}

func (s *RedisStore) queue(ctx context.Context, pipe redis.Pipeliner, values map[string]string) {
	for name, v := range values {
		if v == "" {
			pipe.Del(ctx, s.key(name))
			continue
		}
		pipe.Set(ctx, s.key(name), v, 0)
	}
}

func (s *RedisStore) notify(ctx context.Context, keys []string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.StorageChanged(ctx, keys); err != nil {
		s.logger.Warn("storage change notification failed", logging.Err(err))
	}
}
