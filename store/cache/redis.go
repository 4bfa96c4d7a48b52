/*
redis.go - Utilization cache and auto-assign run lock

PURPOSE:
  Utilization reports are read far more often than assignments change, so
  the API keeps them in Redis for a short TTL. The same Redis instance
  serializes auto-assign runs across server replicas.

NIL CLIENT:
  Redis is optional. With a nil client the cache always misses and the run
  lock falls back to an in-process mutex, which is enough for a single
  server.

KEYS:
  sched:util:<start>:<end>:<granularity>   cached UtilizationReport JSON
  sched:lock:auto-assign                   run lock, value = run token

RUN LOCK TTL:
  The Redis lock is taken with a TTL so a crashed server cannot hold it
  forever. While the run is in progress the holder extends it every third
  of the TTL, so a batch may outlast the TTL. Once the holder stops renewing,
  the lock expires after at most one TTL.

SEE ALSO:
  - api/handlers.go: Reads and invalidates the cache, takes the lock
  - config/config.go: RedisConfig
*/
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/warp/resource-scheduler/generic"
)

const (
	utilizationPrefix = "sched:util:"
	autoAssignLockKey = "sched:lock:auto-assign"
)

// ErrCacheMiss is returned by Get when nothing is cached under the key.
var ErrCacheMiss = errors.New("cache miss")

// NewRedis returns a connected client, or an error when the server does not
// answer a ping.
func NewRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// =============================================================================
// UTILIZATION CACHE
// =============================================================================

// Utilization caches utilization reports keyed by range and granularity.
type Utilization struct {
	client *redis.Client
	ttl    time.Duration
}

func NewUtilization(client *redis.Client, ttl time.Duration) *Utilization {
	return &Utilization{client: client, ttl: ttl}
}

// UtilizationKey builds the cache key for a report.
func UtilizationKey(w generic.Window, g generic.Granularity) string {
	return fmt.Sprintf("%s%s:%s:%s", utilizationPrefix, w.Start.UTC().Format(time.RFC3339), w.End.UTC().Format(time.RFC3339), g)
}

// Get unmarshals the cached value into dest.
func (c *Utilization) Get(ctx context.Context, key string, dest any) error {
	if c == nil || c.client == nil {
		return ErrCacheMiss
	}

	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCacheMiss
		}
		return fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("unmarshal cache value for %s: %w", key, err)
	}
	return nil
}

// Set stores value with the configured TTL. A zero TTL disables caching.
func (c *Utilization) Set(ctx context.Context, key string, value any) error {
	if c == nil || c.client == nil || c.ttl <= 0 {
		return nil
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value for %s: %w", key, err)
	}
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Invalidate drops every cached report. Called after any write that can
// change utilization.
func (c *Utilization) Invalidate(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}

	iter := c.client.Scan(ctx, 0, utilizationPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if err := c.client.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("redis delete %s: %w", key, err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan %s: %w", utilizationPrefix, err)
	}
	return nil
}

// =============================================================================
// RUN LOCK
// =============================================================================

// RunLock allows one auto-assign run at a time. The Redis lock is renewed
// until released; see keepAlive.
type RunLock struct {
	client *redis.Client
	ttl    time.Duration

	mu      sync.Mutex
	running bool
}

func NewRunLock(client *redis.Client, ttl time.Duration) *RunLock {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RunLock{client: client, ttl: ttl}
}

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// renewScript resets the TTL only if the lock still holds our token.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// Acquire takes the lock and returns its release function. When another run
// holds it, Acquire returns generic.ErrRunInProgress.
func (l *RunLock) Acquire(ctx context.Context) (func(), error) {
	if l.client == nil {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.running {
			return nil, generic.ErrRunInProgress
		}
		l.running = true
		return func() {
			l.mu.Lock()
			l.running = false
			l.mu.Unlock()
		}, nil
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, autoAssignLockKey, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lock %s: %w", autoAssignLockKey, err)
	}
	if !ok {
		return nil, generic.ErrRunInProgress
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		keepAlive(l.ttl/3, func(ctx context.Context) (bool, error) {
			n, err := renewScript.Run(ctx, l.client, []string{autoAssignLockKey}, token, l.ttl.Milliseconds()).Int64()
			return n == 1, err
		}, stop)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			// The request context may already be cancelled at release time.
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = releaseScript.Run(ctx, l.client, []string{autoAssignLockKey}, token).Err()
		})
	}, nil
}

// keepAlive calls renew every interval until stop is closed or renew reports
// that the lock is no longer ours. Errors are retried on the next tick.
func keepAlive(interval time.Duration, renew func(context.Context) (bool, error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			held, err := renew(ctx)
			cancel()
			if err == nil && !held {
				return
			}
		}
	}
}
