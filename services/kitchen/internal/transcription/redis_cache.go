package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "kds:transcription:"

// RedisCache shares transcripts between kitchen instances. Keys carry a
// Redis TTL matching ExpiresAt; the expiry is still checked on read.
type RedisCache struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, now: time.Now}
}

// NewRedisClient parses a redis:// URL and checks the server is reachable.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cannot reach redis: %w", err)
	}
	return client, nil
}

func (c *RedisCache) entryKey(fingerprint string) string {
	return redisKeyPrefix + fingerprint
}

func (c *RedisCache) hitsKey(fingerprint string) string {
	return redisKeyPrefix + fingerprint + ":hits"
}

func (c *RedisCache) Get(ctx context.Context, fingerprint string) (Entry, bool, error) {
	data, err := c.client.Get(ctx, c.entryKey(fingerprint)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("cannot read cached transcript: %w", err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, false, fmt.Errorf("cannot decode cached transcript: %w", err)
	}
	if e.Expired(c.now()) {
		c.client.Del(ctx, c.entryKey(fingerprint), c.hitsKey(fingerprint))
		return Entry{}, false, nil
	}

	hits, err := c.client.Incr(ctx, c.hitsKey(fingerprint)).Result()
	if err == nil {
		e.Hits = hits
		c.client.ExpireAt(ctx, c.hitsKey(fingerprint), e.ExpiresAt)
	}
	return e, true, nil
}

func (c *RedisCache) Put(ctx context.Context, entry Entry) error {
	ttl := entry.ExpiresAt.Sub(c.now())
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cannot encode transcript: %w", err)
	}
	if err := c.client.Set(ctx, c.entryKey(entry.Fingerprint), data, ttl).Err(); err != nil {
		return fmt.Errorf("cannot cache transcript: %w", err)
	}
	return nil
}
