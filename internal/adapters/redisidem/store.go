package redisidem

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wildpath-tours/call-scheduler-api/internal/ports/out/idempotency"
)

// Config controls the redis-backed idempotency store.
// Defaults are safe and conservative.
type Config struct {
	Addr string

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// TTL bounds how long a recorded response can be replayed.
	TTL time.Duration

	PingTimeout time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	if out.DialTimeout <= 0 {
		out.DialTimeout = 3 * time.Second
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = 2 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 2 * time.Second
	}
	if out.TTL <= 0 {
		out.TTL = 24 * time.Hour
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 2 * time.Second
	}
	return out
}

// Store is a Redis implementation of idempotency.Store. Records expire
// after the configured TTL, so duplicate detection is bounded in time.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStore opens a redis client and validates connectivity via PING.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	cfg = cfg.withDefaults()
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Store{rdb: rdb, ttl: cfg.TTL}, nil
}

// NewStoreWithClient wraps an existing client; the caller owns its lifecycle.
func NewStoreWithClient(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{rdb: rdb, ttl: ttl}
}

func (s *Store) Close() error {
	if s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

type storedRecord struct {
	StatusCode  int       `json:"statusCode"`
	ContentType string    `json:"contentType"`
	Body        []byte    `json:"body"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (s *Store) Get(ctx context.Context, fp idempotency.Fingerprint) (idempotency.Record, bool, error) {
	if s.rdb == nil {
		return idempotency.Record{}, false, errors.New("nil redis client")
	}
	raw, err := s.rdb.Get(ctx, recordKey(fp)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return idempotency.Record{}, false, nil
		}
		return idempotency.Record{}, false, err
	}
	var sr storedRecord
	if err := json.Unmarshal(raw, &sr); err != nil {
		return idempotency.Record{}, false, fmt.Errorf("decode idempotency record: %w", err)
	}
	return idempotency.Record{
		StatusCode:  sr.StatusCode,
		ContentType: sr.ContentType,
		Body:        sr.Body,
		CreatedAt:   sr.CreatedAt.UTC(),
	}, true, nil
}

func (s *Store) Put(ctx context.Context, fp idempotency.Fingerprint, rec idempotency.Record) error {
	if s.rdb == nil {
		return errors.New("nil redis client")
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	raw, err := json.Marshal(storedRecord{
		StatusCode:  rec.StatusCode,
		ContentType: rec.ContentType,
		Body:        rec.Body,
		CreatedAt:   createdAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode idempotency record: %w", err)
	}
	return s.rdb.Set(ctx, recordKey(fp), raw, s.ttl).Err()
}

// recordKey hashes the fingerprint into a fixed-size key so arbitrary
// client-chosen idempotency keys cannot bloat the keyspace.
func recordKey(fp idempotency.Fingerprint) string {
	h := sha256.New()
	for _, part := range []string{
		string(fp.Key), string(fp.Subject), fp.Method, fp.Route, fp.BodyHash,
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return "idem:" + hex.EncodeToString(h.Sum(nil))
}
