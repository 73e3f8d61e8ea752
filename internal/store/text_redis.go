package store

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/blake2b"
)

// kv is the slice of the Redis API the cache uses.
type kv interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Ping(ctx context.Context) error
	Close() error
}

type redisKV struct{ c *redis.Client }

func (r redisKV) Get(ctx context.Context, key string) (string, error) {
	v, err := r.c.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", errMiss
	}
	return v, err
}

func (r redisKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.c.Set(ctx, key, value, ttl).Err()
}

func (r redisKV) Ping(ctx context.Context) error { return r.c.Ping(ctx).Err() }
func (r redisKV) Close() error                   { return r.c.Close() }

var errMiss = errors.New("cache miss")

// TextCache stores recognized text keyed by the BLAKE2b-256 digest of the
// recognized file's bytes. Failures are logged and treated as misses.
type TextCache struct {
	kv  kv
	ttl time.Duration
}

// NewTextCache connects to Redis at redisURL.
func NewTextCache(redisURL string, ttl time.Duration) (*TextCache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	c := redisKV{c: redis.NewClient(opt)}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &TextCache{kv: c, ttl: ttl}, nil
}

// Close releases the Redis connection.
func (s *TextCache) Close() error { return s.kv.Close() }

// Ping reports whether Redis is reachable.
func (s *TextCache) Ping(ctx context.Context) error { return s.kv.Ping(ctx) }

// Key returns the cache key for content.
func Key(content []byte) string {
	sum := blake2b.Sum256(content)
	return "ocr:text:" + hex.EncodeToString(sum[:])
}

func (s *TextCache) Lookup(ctx context.Context, content []byte) (string, bool) {
	text, err := s.kv.Get(ctx, Key(content))
	if err != nil {
		if !errors.Is(err, errMiss) {
			log.Warn().Err(err).Msg("text cache lookup failed")
		}
		return "", false
	}
	return text, true
}

func (s *TextCache) Store(ctx context.Context, content []byte, text string) {
	if err := s.kv.Set(ctx, Key(content), text, s.ttl); err != nil {
		log.Warn().Err(err).Msg("text cache store failed")
	}
}
