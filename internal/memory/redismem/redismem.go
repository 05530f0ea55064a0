// Package redismem persists conversation memory in Redis lists, for
// sharing sessions across processes.
package redismem

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/featherdev/feather/internal/memory"
)

const keyPrefix = "feather:mem:"

// Store implements memory.Store on a Redis list per session.
type Store struct {
	client redis.UniversalClient
}

// New wraps an existing Redis client.
func New(client redis.UniversalClient) *Store {
	return &Store{client: client}
}

func sessionKey(sessionID string) string {
	return keyPrefix + sessionID
}

// Append implements memory.Store. A capped append pipelines RPUSH and LTRIM
// in one MULTI/EXEC block, so the push and the eviction apply atomically.
func (s *Store) Append(ctx context.Context, turn memory.Turn, maxTurns int) error {
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("encode turn: %w", err)
	}
	key := sessionKey(turn.SessionID)
	if maxTurns <= 0 {
		if err := s.client.RPush(ctx, key, data).Err(); err != nil {
			return fmt.Errorf("rpush turn: %w", err)
		}
		return nil
	}
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, int64(-maxTurns), -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rpush turn: %w", err)
	}
	return nil
}

// List implements memory.Store.
func (s *Store) List(ctx context.Context, sessionID string) ([]memory.Turn, error) {
	raw, err := s.client.LRange(ctx, sessionKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange session: %w", err)
	}
	out := make([]memory.Turn, 0, len(raw))
	for _, item := range raw {
		var t memory.Turn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			return nil, fmt.Errorf("decode turn: %w", err)
		}
		out = append(out, t)
	}
	return out, nil
}

// Trim implements memory.Store.
func (s *Store) Trim(ctx context.Context, sessionID string, retain int) error {
	key := sessionKey(sessionID)
	if retain <= 0 {
		if err := s.client.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		return nil
	}
	if err := s.client.LTrim(ctx, key, int64(-retain), -1).Err(); err != nil {
		return fmt.Errorf("ltrim session: %w", err)
	}
	return nil
}
