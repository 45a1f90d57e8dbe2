package redishost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ggoodman/window-cap-mcp/sessions"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

var _ sessions.SessionHost = (*Host)(nil)

const maxMutateAttempts = 5

// Config for the Redis-backed SessionHost. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// DB selects the logical database. ENV: REDIS_DB
	DB int `env:"REDIS_DB,default=0"`
	// KeyPrefix for all keys. ENV: SESSIONS_KEY_PREFIX
	KeyPrefix string `env:"SESSIONS_KEY_PREFIX,default=windowcap:sessions:"`
}

type Host struct {
	client    *redis.Client
	keyPrefix string
	now       func() time.Time
}

// New connects to Redis and verifies the connection with PING.
func New(ctx context.Context, cfg Config) (*Host, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
	if err := cl.Ping(ctx).Err(); err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "windowcap:sessions:"
	}
	return &Host{client: cl, keyPrefix: prefix, now: time.Now}, nil
}

// NewFromEnv builds a Host using envdecode to populate Config.
func NewFromEnv(ctx context.Context) (*Host, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode redis config: %w", err)
	}
	return New(ctx, cfg)
}

// Close closes the Redis client.
func (h *Host) Close() error { return h.client.Close() }

func (h *Host) key(sessionID string) string { return h.keyPrefix + sessionID }

func (h *Host) CreateSession(ctx context.Context, meta *sessions.SessionMetadata) error {
	b, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	ok, err := h.client.SetNX(ctx, h.key(meta.SessionID), b, meta.TTL).Result()
	if err != nil {
		return fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return sessions.ErrSessionExists
	}
	return nil
}

func (h *Host) GetSession(ctx context.Context, sessionID string) (*sessions.SessionMetadata, error) {
	b, err := h.client.Get(ctx, h.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, sessions.ErrSessionNotFound
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var meta sessions.SessionMetadata
	if err := json.Unmarshal(b, &meta); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if meta.Expired(h.now()) {
		return nil, sessions.ErrSessionNotFound
	}
	return &meta, nil
}

func (h *Host) MutateSession(ctx context.Context, sessionID string, fn func(*sessions.SessionMetadata) error) error {
	key := h.key(sessionID)
	txf := func(tx *redis.Tx) error {
		b, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return sessions.ErrSessionNotFound
			}
			return fmt.Errorf("redis get: %w", err)
		}
		var meta sessions.SessionMetadata
		if err := json.Unmarshal(b, &meta); err != nil {
			return fmt.Errorf("decode session: %w", err)
		}
		if meta.Expired(h.now()) {
			return sessions.ErrSessionNotFound
		}
		if err := fn(&meta); err != nil {
			return err
		}
		out, err := json.Marshal(&meta)
		if err != nil {
			return fmt.Errorf("encode session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, meta.TTL)
			return nil
		})
		return err
	}

	for range maxMutateAttempts {
		err := h.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("mutate session %s: too much contention", sessionID)
}

func (h *Host) TouchSession(ctx context.Context, sessionID string) error {
	now := h.now().UTC()
	return h.MutateSession(ctx, sessionID, func(m *sessions.SessionMetadata) error {
		m.LastAccess = now
		return nil
	})
}

func (h *Host) DeleteSession(ctx context.Context, sessionID string) error {
	n, err := h.client.Del(ctx, h.key(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	if n == 0 {
		return sessions.ErrSessionNotFound
	}
	return nil
}
