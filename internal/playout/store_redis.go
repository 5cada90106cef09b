/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/friendsincode/airwave/internal/models"
)

const (
	redisWaitingKey = "airwave:queue:waiting"
	redisActiveKey  = "airwave:queue:active"
)

// RedisStore keeps the job queue in Redis: a list of JSON-encoded waiting
// tracks and a single active track value.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore wraps an existing client. prefix namespaces the keys and may be empty.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

// Ping verifies connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Submit(ctx context.Context, t *models.Track) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode track: %w", err)
	}
	if err := s.client.RPush(ctx, s.key(redisWaitingKey), data).Err(); err != nil {
		return fmt.Errorf("redis submit: %w", err)
	}
	return nil
}

func (s *RedisStore) Activate(ctx context.Context, t *models.Track) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode track: %w", err)
	}
	if err := s.client.Set(ctx, s.key(redisActiveKey), data, 0).Err(); err != nil {
		return fmt.Errorf("redis activate: %w", err)
	}
	return nil
}

// Promote pops the waiting head and records it as active. Only the single
// playback consumer calls Promote, so the pop and the set need not be atomic.
func (s *RedisStore) Promote(ctx context.Context) (*models.Track, error) {
	raw, err := s.client.LPop(ctx, s.key(redisWaitingKey)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis promote: %w", err)
	}
	t, err := decodeTrack(raw)
	if err != nil {
		return nil, err
	}
	t.Status = models.TrackPlaying
	if err := s.Activate(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Complete clears the active slot only if it still holds id.
func (s *RedisStore) Complete(ctx context.Context, id int64) error {
	key := s.key(redisActiveKey)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		t, err := decodeTrack(raw)
		if err != nil {
			return err
		}
		if t.ID != id {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Del(ctx, key)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return fmt.Errorf("redis complete: %w", err)
	}
	return nil
}

func (s *RedisStore) Active(ctx context.Context) (*models.Track, error) {
	raw, err := s.client.Get(ctx, s.key(redisActiveKey)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis active: %w", err)
	}
	return decodeTrack(raw)
}

func (s *RedisStore) Waiting(ctx context.Context) ([]*models.Track, error) {
	raws, err := s.client.LRange(ctx, s.key(redisWaitingKey), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis waiting: %w", err)
	}
	out := make([]*models.Track, 0, len(raws))
	for _, raw := range raws {
		t, err := decodeTrack(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *RedisStore) DrainWaiting(ctx context.Context) (int, error) {
	var n *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		n = p.LLen(ctx, s.key(redisWaitingKey))
		p.Del(ctx, s.key(redisWaitingKey))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis drain: %w", err)
	}
	return int(n.Val()), nil
}

// Reset removes both keys. Used on startup since the sound directory is wiped.
func (s *RedisStore) Reset(ctx context.Context) error {
	return s.client.Del(ctx, s.key(redisWaitingKey), s.key(redisActiveKey)).Err()
}

func decodeTrack(raw string) (*models.Track, error) {
	var t models.Track
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, fmt.Errorf("decode track: %w", err)
	}
	return &t, nil
}
