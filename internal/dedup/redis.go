package dedup

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the shared tracker used when several engine
// processes must agree on dedup state.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	KeyPrefix    string        `yaml:"key_prefix"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PoolSize     int           `yaml:"pool_size"`
	TLSEnabled   bool          `yaml:"tls_enabled"`
}

// DefaultRedisConfig returns the default Redis tracker configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		KeyPrefix:    "siem-detect:dedup:",
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	}
}

// observeScript runs the window state machine atomically for one key.
// Times are event-time milliseconds. The key expires after two windows of
// wall-clock inactivity.
//
// KEYS[1] window hash; ARGV[1] at, ARGV[2] window, ARGV[3] threshold.
// Returns {count, state, alert, start, end}.
var observeScript = redis.NewScript(`
local at = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local threshold = tonumber(ARGV[3])

local data = redis.call('HMGET', KEYS[1], 'start', 'count', 'state')
local start = tonumber(data[1])
local count = tonumber(data[2]) or 0
local state = tonumber(data[3]) or 0

if (not start) or at >= start + window then
  start = at
  count = 0
  state = 0
end

count = count + 1
local alert = 0
if state == 0 and count >= threshold then
  state = 1
  alert = 1
end

redis.call('HSET', KEYS[1], 'start', start, 'count', count, 'state', state)
redis.call('PEXPIRE', KEYS[1], window * 2)

return {count, state, alert, start, start + window}
`)

// RedisTracker keeps windows in Redis so that several processes share them.
type RedisTracker struct {
	client redis.Scripter
	prefix string
}

// NewRedisTracker connects to Redis and returns a tracker.
func NewRedisTracker(cfg RedisConfig) (*RedisTracker, error) {
	opts := &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisTrackerWithClient(client, cfg.KeyPrefix), nil
}

// NewRedisTrackerWithClient wraps an existing client, ring or cluster client.
func NewRedisTrackerWithClient(client redis.Scripter, prefix string) *RedisTracker {
	return &RedisTracker{client: client, prefix: prefix}
}

// Observe records one match for key at event time at.
func (t *RedisTracker) Observe(ctx context.Context, key Key, policy Policy, at time.Time) (Observation, error) {
	policy = policy.normalized()

	vals, err := observeScript.Run(ctx, t.client,
		[]string{t.redisKey(key)},
		at.UnixMilli(), policy.Window.Milliseconds(), policy.Threshold,
	).Int64Slice()
	if err != nil {
		return Observation{}, fmt.Errorf("dedup observe %s: %w", key, err)
	}
	return parseObservation(vals)
}

func (t *RedisTracker) redisKey(key Key) string {
	return t.prefix + key.String()
}

func parseObservation(vals []int64) (Observation, error) {
	if len(vals) != 5 {
		return Observation{}, fmt.Errorf("dedup observe: unexpected reply length %d", len(vals))
	}
	return Observation{
		Count:       int(vals[0]),
		State:       State(vals[1]),
		Alert:       vals[2] == 1,
		WindowStart: time.UnixMilli(vals[3]).UTC(),
		WindowEnd:   time.UnixMilli(vals[4]).UTC(),
	}, nil
}

// Close closes the underlying client when the tracker owns one.
func (t *RedisTracker) Close() error {
	if c, ok := t.client.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
