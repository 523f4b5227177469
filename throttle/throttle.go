// Package throttle enforces the polling interval of the device and backchannel grants.
package throttle

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// PollingThrottle remembers when a handle was last polled.
type PollingThrottle interface {
	// ShouldSlowDown records a poll of handle and reports whether it arrived before interval
	// elapsed since the previous poll. A throttled poll restarts the interval.
	ShouldSlowDown(ctx context.Context, handle string, interval time.Duration) (bool, error)
}

func throttleKey(handle string) string {
	sum := sha256.Sum256([]byte(handle))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

var _ PollingThrottle = (*Memory)(nil)

// PruneInterval is how often Memory sweeps handles whose interval has closed.
const PruneInterval = time.Minute

// Memory is a process local throttle.
type Memory struct {
	now       func() time.Time
	lock      sync.Mutex
	polls     map[string]time.Time
	nextPrune time.Time
}

// NewMemory creates an in-memory throttle. nowFunc may be nil.
func NewMemory(nowFunc func() time.Time) *Memory {
	if nowFunc == nil {
		nowFunc = time.Now
	}
	return &Memory{now: nowFunc, polls: make(map[string]time.Time), nextPrune: nowFunc().Add(PruneInterval)}
}

func (m *Memory) ShouldSlowDown(_ context.Context, handle string, interval time.Duration) (bool, error) {
	now := m.now()
	key := throttleKey(handle)

	m.lock.Lock()
	defer m.lock.Unlock()
	if !now.Before(m.nextPrune) {
		m.prune(now)
	}
	until, seen := m.polls[key]
	m.polls[key] = now.Add(interval)
	return seen && now.Before(until), nil
}

// prune drops the handles whose window closed. The caller holds the lock.
func (m *Memory) prune(now time.Time) {
	for k, until := range m.polls {
		if !now.Before(until) {
			delete(m.polls, k)
		}
	}
	m.nextPrune = now.Add(PruneInterval)
}

// Len reports how many handles are tracked.
func (m *Memory) Len() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return len(m.polls)
}

var _ PollingThrottle = (*Redis)(nil)

// Redis shares the throttle between server instances. The key only exists while the
// interval is running, so SET NX tells whether the previous poll was too recent.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) ShouldSlowDown(ctx context.Context, handle string, interval time.Duration) (bool, error) {
	key := r.prefix + "poll:" + throttleKey(handle)
	first, err := r.client.SetNX(ctx, key, time.Now().UnixMilli(), interval).Result()
	if err != nil {
		return false, err
	}
	if first {
		return false, nil
	}
	if err := r.client.Set(ctx, key, time.Now().UnixMilli(), interval).Err(); err != nil {
		return true, err
	}
	return true, nil
}
