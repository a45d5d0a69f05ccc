// Package session provides storage backends for conversation state.
//
// This file implements the Redis-backed store, the default production
// backend.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/MSMikl/fish-store/internal/models"
)

// RedisStore persists one state tag per conversation in Redis. Entries carry
// no TTL; a session lives until it is deleted or overwritten.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis store from a redis:// DSN.
func NewRedisStore(opts ...Option) (*RedisStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewRedisStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("RedisStore DSN not set")
		return nil, fmt.Errorf("session store DSN not set")
	}
	parsed, err := redis.ParseURL(cfg.DSN)
	if err != nil {
		slog.Error("RedisStore DSN parse failed", "error", err)
		return nil, fmt.Errorf("parse redis DSN failed: %w", err)
	}

	client := redis.NewClient(parsed)
	if err := client.Ping(context.Background()).Err(); err != nil {
		slog.Error("RedisStore ping failed", "error", err)
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	slog.Debug("Redis session store opened")
	return &RedisStore{client: client}, nil
}

func sessionKey(conversationID string) string {
	return fmt.Sprintf("session:%s", conversationID)
}

func (s *RedisStore) Get(ctx context.Context, conversationID string) (models.SessionState, bool, error) {
	tag, err := s.client.Get(ctx, sessionKey(conversationID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		slog.Error("RedisStore Get failed", "error", err, "conversation_id", conversationID)
		return "", false, fmt.Errorf("redis get failed: %w", err)
	}
	state, err := validateTag(conversationID, tag)
	if err != nil {
		return "", false, err
	}
	return state, true, nil
}

func (s *RedisStore) Set(ctx context.Context, conversationID string, state models.SessionState) error {
	if conversationID == "" {
		return models.ErrEmptyConversationID
	}
	if err := s.client.Set(ctx, sessionKey(conversationID), string(state), 0).Err(); err != nil {
		slog.Error("RedisStore Set failed", "error", err, "conversation_id", conversationID, "state", state)
		return fmt.Errorf("redis set failed: %w", err)
	}
	slog.Debug("RedisStore Set succeeded", "conversation_id", conversationID, "state", state)
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, conversationID string) error {
	if err := s.client.Del(ctx, sessionKey(conversationID)).Err(); err != nil {
		slog.Error("RedisStore Delete failed", "error", err, "conversation_id", conversationID)
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
