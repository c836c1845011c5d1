package redis

import (
	"context"
	"encoding/json"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ViewCache is a JSON-backed Redis cache for read projections of type T.
// A zero TTL stores keys without expiry. A nil client turns every call into
// a miss or a no-op, so callers can run without Redis.
type ViewCache[T any] struct {
	client goredis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewViewCache[T any](client goredis.UniversalClient, prefix string, ttl time.Duration) *ViewCache[T] {
	return &ViewCache[T]{client: client, prefix: prefix, ttl: ttl}
}

// Get returns (nil, false) on a miss, a Redis error or a payload that no
// longer decodes into T.
func (c *ViewCache[T]) Get(ctx context.Context, key string) (*T, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if err != goredis.Nil {
			logrus.WithError(err).WithField("key", c.prefix+key).Warn("view cache read failed")
		}
		return nil, false
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		logrus.WithError(err).WithField("key", c.prefix+key).Warn("view cache entry is corrupt")
		return nil, false
	}
	return &v, true
}

// Set stores value under key. Write failures are logged, not returned: the
// cache only ever sits in front of the store.
func (c *ViewCache[T]) Set(ctx context.Context, key string, value *T) {
	if c == nil || c.client == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		logrus.WithError(err).WithField("key", c.prefix+key).Warn("view cache marshal failed")
		return
	}
	if err := c.client.Set(ctx, c.prefix+key, data, c.ttl).Err(); err != nil {
		logrus.WithError(err).WithField("key", c.prefix+key).Warn("view cache write failed")
	}
}

// setIfVersion writes KEYS[1] only while the version counter KEYS[2] still
// reads ARGV[1]. A missing counter reads as "0".
var setIfVersion = goredis.NewScript(`
local current = redis.call('GET', KEYS[2])
if not current then current = '0' end
if current ~= ARGV[1] then return 0 end
if tonumber(ARGV[3]) > 0 then
  redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
else
  redis.call('SET', KEYS[1], ARGV[2])
end
return 1
`)

func (c *ViewCache[T]) versionKey(key string) string {
	return c.prefix + key + ":version"
}

// Version returns the invalidation counter of key. Read it before loading the
// value that is later passed to SetIfVersion. ok is false when the counter
// cannot be read, in which case the caller should not cache.
func (c *ViewCache[T]) Version(ctx context.Context, key string) (version string, ok bool) {
	if c == nil || c.client == nil {
		return "", false
	}
	v, err := c.client.Get(ctx, c.versionKey(key)).Result()
	switch {
	case err == goredis.Nil:
		return "0", true
	case err != nil:
		logrus.WithError(err).WithField("key", c.versionKey(key)).Warn("view cache version read failed")
		return "", false
	}
	return v, true
}

// SetIfVersion stores value under key unless key was invalidated after
// version was read. It reports whether the value was written.
func (c *ViewCache[T]) SetIfVersion(ctx context.Context, key, version string, value *T) bool {
	if c == nil || c.client == nil {
		return false
	}
	data, err := json.Marshal(value)
	if err != nil {
		logrus.WithError(err).WithField("key", c.prefix+key).Warn("view cache marshal failed")
		return false
	}
	written, err := setIfVersion.Run(ctx, c.client,
		[]string{c.prefix + key, c.versionKey(key)},
		version, data, c.ttl.Milliseconds(),
	).Int()
	if err != nil {
		logrus.WithError(err).WithField("key", c.prefix+key).Warn("view cache write failed")
		return false
	}
	return written == 1
}

// Invalidate bumps the version counter of each key and drops its value, so
// a SetIfVersion racing with it is refused.
func (c *ViewCache[T]) Invalidate(ctx context.Context, keys ...string) {
	if c == nil || c.client == nil || len(keys) == 0 {
		return
	}
	_, err := c.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, k := range keys {
			pipe.Incr(ctx, c.versionKey(k))
			pipe.Del(ctx, c.prefix+k)
		}
		return nil
	})
	if err != nil {
		logrus.WithError(err).WithField("keys", keys).Warn("view cache invalidate failed")
	}
}
