package presence

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultMembersKey is the sorted set holding presence members.
const DefaultMembersKey = "messenger:presence:members"

// MemberStore keeps presence members with the time of their last heartbeat.
// Every method reports only the changes made by that call, so concurrent
// registries never announce the same join or leave twice.
type MemberStore interface {
	// Touch records a heartbeat and reports whether key was newly added.
	Touch(ctx context.Context, key string, at time.Time) (bool, error)
	// Remove deletes key and reports whether it was present.
	Remove(ctx context.Context, key string) (bool, error)
	// Expire removes members whose last heartbeat is before cutoff and
	// returns the keys this call removed.
	Expire(ctx context.Context, cutoff time.Time) ([]string, error)
	// List returns the current members in sorted order.
	List(ctx context.Context) ([]string, error)
}

// RedisMembers is a MemberStore on a Redis sorted set scored by heartbeat
// time in milliseconds.
type RedisMembers struct {
	client redis.UniversalClient
	key    string
}

// NewRedisMembers creates a Redis member store. An empty key selects
// DefaultMembersKey.
func NewRedisMembers(client redis.UniversalClient, key string) *RedisMembers {
	if key == "" {
		key = DefaultMembersKey
	}
	return &RedisMembers{client: client, key: key}
}

// Touch implements MemberStore.
func (m *RedisMembers) Touch(ctx context.Context, key string, at time.Time) (bool, error) {
	added, err := m.client.ZAdd(ctx, m.key, redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: key,
	}).Result()
	if err != nil {
		return false, fmt.Errorf("failed to record heartbeat: %w", err)
	}
	return added == 1, nil
}

// Remove implements MemberStore.
func (m *RedisMembers) Remove(ctx context.Context, key string) (bool, error) {
	removed, err := m.client.ZRem(ctx, m.key, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to remove member: %w", err)
	}
	return removed == 1, nil
}

// Expire implements MemberStore. Each stale key is removed individually so
// only the registry whose ZREM succeeds reports it.
func (m *RedisMembers) Expire(ctx context.Context, cutoff time.Time) ([]string, error) {
	stale, err := m.client.ZRangeByScore(ctx, m.key, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to scan stale members: %w", err)
	}

	var expired []string
	for _, key := range stale {
		removed, err := m.client.ZRem(ctx, m.key, key).Result()
		if err != nil {
			return expired, fmt.Errorf("failed to expire member: %w", err)
		}
		if removed == 1 {
			expired = append(expired, key)
		}
	}
	sort.Strings(expired)
	return expired, nil
}

// List implements MemberStore.
func (m *RedisMembers) List(ctx context.Context) ([]string, error) {
	members, err := m.client.ZRange(ctx, m.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	sort.Strings(members)
	return members, nil
}

// MemoryMembers is an in-process MemberStore.
type MemoryMembers struct {
	mu       sync.Mutex
	lastSeen map[string]time.Time
}

// NewMemoryMembers creates an empty in-process member store.
func NewMemoryMembers() *MemoryMembers {
	return &MemoryMembers{lastSeen: make(map[string]time.Time)}
}

// Touch implements MemberStore.
func (m *MemoryMembers) Touch(ctx context.Context, key string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.lastSeen[key]
	m.lastSeen[key] = at
	return !ok, nil
}

// Remove implements MemberStore.
func (m *MemoryMembers) Remove(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.lastSeen[key]
	delete(m.lastSeen, key)
	return ok, nil
}

// Expire implements MemberStore.
func (m *MemoryMembers) Expire(ctx context.Context, cutoff time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expired []string
	for key, at := range m.lastSeen {
		if at.Before(cutoff) {
			delete(m.lastSeen, key)
			expired = append(expired, key)
		}
	}
	sort.Strings(expired)
	return expired, nil
}

// List implements MemberStore.
func (m *MemoryMembers) List(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.lastSeen))
	for key := range m.lastSeen {
		out = append(out, key)
	}
	sort.Strings(out)
	return out, nil
}
