package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists per-thread conversation state between turns,
// generalizing FreshConversationStateManager's in-memory dict of
// states into a pluggable backend (per spec.md §5's state-backend
// choice).
type Store interface {
	Get(ctx context.Context, threadID string) (State, bool, error)
	Save(ctx context.Context, s State) error
	Delete(ctx context.Context, threadID string) error
	// CleanupOlderThan evicts conversations whose LastActivity predates
	// cutoff, per cleanup_old_conversations, returning the count removed.
	CleanupOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// MemoryStore is the default in-process backend: a mutex-guarded map
// keyed by thread ID, matching FreshConversationGraph's self.active_conversations dict.
type MemoryStore struct {
	mu    sync.RWMutex
	states map[string]State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]State)}
}

func (m *MemoryStore) Get(_ context.Context, threadID string) (State, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[threadID]
	return s, ok, nil
}

func (m *MemoryStore) Save(_ context.Context, s State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[s.ThreadID] = s
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, threadID)
	return nil
}

func (m *MemoryStore) CleanupOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, s := range m.states {
		if s.LastActivity.Before(cutoff) {
			delete(m.states, id)
			removed++
		}
	}
	return removed, nil
}

// RedisStore persists conversation state in Redis, for multi-instance
// deployments, per spec.md §5's optional Redis-backed state option.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{client: client, ttl: ttl, prefix: "ragcore:conversation:"}
}

func (r *RedisStore) key(threadID string) string {
	return r.prefix + threadID
}

func (r *RedisStore) Get(ctx context.Context, threadID string) (State, bool, error) {
	raw, err := r.client.Get(ctx, r.key(threadID)).Bytes()
	if err == redis.Nil {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("conversation: redis get: %w", err)
	}
	var s State
	if err := json.Unmarshal(raw, &s); err != nil {
		return State{}, false, fmt.Errorf("conversation: decode state: %w", err)
	}
	return s, true, nil
}

func (r *RedisStore) Save(ctx context.Context, s State) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("conversation: encode state: %w", err)
	}
	if err := r.client.Set(ctx, r.key(s.ThreadID), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("conversation: redis set: %w", err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, threadID string) error {
	return r.client.Del(ctx, r.key(threadID)).Err()
}

// CleanupOlderThan is a no-op for Redis: the TTL set on Save already
// expires stale conversations without a scan.
func (r *RedisStore) CleanupOlderThan(_ context.Context, _ time.Time) (int, error) {
	return 0, nil
}
