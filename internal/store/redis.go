// Package store provides the persistence implementations behind the session
// coordinator: a Redis-backed game store (with an in-memory fallback for
// development) and a Postgres repository for player accounts, statistics,
// social data, and finished games.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chesslink/chesslink-server/internal/session"
)

// RedisGames keeps each live game's record as a JSON value under its own key
// with a rolling TTL. A game untouched for the TTL window expires.
type RedisGames struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisGames(redisURL string, ttl time.Duration) (*RedisGames, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisGames{rdb: rdb, ttl: ttl}, nil
}

func (s *RedisGames) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

func (s *RedisGames) key(gameID string) string { return "game:" + strings.TrimSpace(gameID) }

// Load returns (nil, nil) for a game that has never been saved or whose key
// has expired.
func (s *RedisGames) Load(ctx context.Context, gameID string) (*session.GameRecord, error) {
	raw, err := s.rdb.Get(ctx, s.key(gameID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec session.GameRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode game %s: %w", gameID, err)
	}
	return &rec, nil
}

func (s *RedisGames) Save(ctx context.Context, rec *session.GameRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.key(rec.ID), raw, s.ttl).Err()
}

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}
