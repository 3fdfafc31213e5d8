package cache

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"faceattend/internal/logger"
	"faceattend/internal/metrics"
)

const scanCount = 100

// GenerationPrefix namespaces the invalidation counters. It sits outside
// KeyPrefix so SCAN over embeddings never sees them.
const GenerationPrefix = "face:embedding-gen:"

// putIfCurrent takes (generation key, entry key) pairs in KEYS and
// (expected generation, payload, ttl ms) triples in ARGV.
var putIfCurrent = redis.NewScript(`
local written = 0
local j = 1
for i = 1, #KEYS, 2 do
  if tonumber(redis.call('GET', KEYS[i]) or '0') == tonumber(ARGV[j]) then
    redis.call('SET', KEYS[i + 1], ARGV[j + 1], 'PX', ARGV[j + 2])
    written = written + 1
  end
  j = j + 3
end
return written
`)

// Redis stores entries as JSON under KeyPrefix+key with a per-key TTL.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	log    logrus.FieldLogger
}

// NewRedis builds a Redis-backed cache. ttl <= 0 means DefaultTTL.
func NewRedis(client *redis.Client, ttl time.Duration, log logrus.FieldLogger) *Redis {
	return &Redis{client: client, ttl: ttlOr(ttl, DefaultTTL), log: logger.OrStandard(log)}
}

func (c *Redis) key(k string) string { return KeyPrefix + k }
func (c *Redis) gen(k string) string { return GenerationPrefix + k }

func (c *Redis) fail(op string, err error) {
	metrics.CacheRequests.WithLabelValues("error").Inc()
	c.log.WithError(err).WithField("op", op).Warn("embedding cache unavailable, treating as miss")
}

// Get returns the entries cached for key.
func (c *Redis) Get(ctx context.Context, key string) ([]Entry, bool) {
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.CacheRequests.WithLabelValues("miss").Inc()
		return nil, false
	}
	if err != nil {
		c.fail("get", err)
		return nil, false
	}
	entries, err := decodeEntries(data)
	if err != nil {
		c.log.WithError(err).WithField("identity", key).Warn("dropping undecodable cache entry")
		c.Invalidate(ctx, key)
		return nil, false
	}
	metrics.CacheRequests.WithLabelValues("hit").Inc()
	return entries, true
}

// GetMany fetches several keys in one round trip. Missing keys are absent from the result.
func (c *Redis) GetMany(ctx context.Context, keys []string) map[string][]Entry {
	out := make(map[string][]Entry, len(keys))
	if len(keys) == 0 {
		return out
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
	}
	vals, err := c.client.MGet(ctx, full...).Result()
	if err != nil {
		c.fail("mget", err)
		return out
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			metrics.CacheRequests.WithLabelValues("miss").Inc()
			continue
		}
		entries, err := decodeEntries([]byte(s))
		if err != nil {
			c.log.WithError(err).WithField("identity", keys[i]).Warn("dropping undecodable cache entry")
			metrics.CacheRequests.WithLabelValues("miss").Inc()
			continue
		}
		metrics.CacheRequests.WithLabelValues("hit").Inc()
		out[keys[i]] = entries
	}
	return out
}

// Put overwrites the entry for key.
func (c *Redis) Put(ctx context.Context, key string, entries []Entry, ttl time.Duration) {
	data, err := encodeEntries(entries)
	if err != nil {
		c.log.WithError(err).WithField("identity", key).Warn("skip caching unencodable entry")
		return
	}
	if err := c.client.Set(ctx, c.key(key), string(data), ttlOr(ttl, c.ttl)).Err(); err != nil {
		c.fail("set", err)
	}
}

// Snapshot reads the generation counters of keys. It returns nil when
// Redis is unreachable so the matching PutBatch writes nothing.
func (c *Redis) Snapshot(ctx context.Context, keys []string) Generations {
	out := make(Generations, len(keys))
	if len(keys) == 0 {
		return out
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.gen(k)
	}
	vals, err := c.client.MGet(ctx, full...).Result()
	if err != nil {
		c.fail("snapshot", err)
		return nil
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			out[keys[i]] = 0
			continue
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			c.log.WithError(err).WithField("identity", keys[i]).Warn("unreadable cache generation")
			continue
		}
		out[keys[i]] = n
	}
	return out
}

// PutBatch writes the batch in one script call. Keys whose generation moved
// past seen, or that are absent from seen, are left alone.
func (c *Redis) PutBatch(ctx context.Context, batch map[string][]Entry, seen Generations, ttl time.Duration) {
	if len(batch) == 0 || seen == nil {
		return
	}
	keys := make([]string, 0, len(batch))
	for k := range batch {
		if _, ok := seen[k]; ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	ttlMillis := ttlOr(ttl, c.ttl).Milliseconds()
	scriptKeys := make([]string, 0, 2*len(keys))
	args := make([]interface{}, 0, 3*len(keys))
	for _, k := range keys {
		data, err := encodeEntries(batch[k])
		if err != nil {
			c.log.WithError(err).WithField("identity", k).Warn("skip caching unencodable entry")
			continue
		}
		scriptKeys = append(scriptKeys, c.gen(k), c.key(k))
		args = append(args, seen[k], string(data), ttlMillis)
	}
	if len(scriptKeys) == 0 {
		return
	}
	written, err := putIfCurrent.Run(ctx, c.client, scriptKeys, args...).Int()
	if err != nil {
		c.fail("put_batch", err)
		return
	}
	if skipped := len(scriptKeys)/2 - written; skipped > 0 {
		c.log.WithField("skipped", skipped).Debug("cache write-back skipped invalidated identities")
	}
}

// Invalidate bumps the generation of key, then removes its entry.
func (c *Redis) Invalidate(ctx context.Context, key string) {
	if err := c.client.Incr(ctx, c.gen(key)).Err(); err != nil {
		c.fail("incr", err)
	}
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		c.fail("del", err)
	}
}

// Keys enumerates cached identity keys with SCAN.
func (c *Redis) Keys(ctx context.Context) []string {
	full, err := c.scan(ctx)
	if err != nil {
		c.fail("scan", err)
		return nil
	}
	out := make([]string, len(full))
	for i, k := range full {
		out[i] = strings.TrimPrefix(k, KeyPrefix)
	}
	return out
}

// Clear deletes every embedding entry and reports how many were removed.
func (c *Redis) Clear(ctx context.Context) (int, error) {
	full, err := c.scan(ctx)
	if err != nil {
		return 0, err
	}
	if len(full) == 0 {
		return 0, nil
	}
	n, err := c.client.Del(ctx, full...).Result()
	return int(n), err
}

// Healthy verifies connectivity.
func (c *Redis) Healthy(ctx context.Context) bool {
	return c.client.Ping(ctx).Err() == nil
}

func (c *Redis) scan(ctx context.Context) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := c.client.Scan(ctx, cursor, KeyPrefix+"*", scanCount).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}
