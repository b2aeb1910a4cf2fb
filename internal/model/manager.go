// Package model provides a process-wide manager for expensive, stateful
// runtime resources - embedding models, LLM clients, rerankers - that are
// costly to load and should not all be resident in memory at once. It
// bounds how many resources stay loaded with an LRU policy and evicts
// resources that have sat idle past a configured timeout.
package model

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ragcore/ragcore/internal/config"
	ragerrors "github.com/ragcore/ragcore/internal/errors"
)

// Resource is anything the manager can load, keep resident, and later
// release. Embedders, LLM clients, and rerankers all satisfy this with
// their existing Close method.
type Resource interface {
	Close() error
}

// LoaderFunc constructs a Resource for the given id. It is only called
// on a cache miss; a concurrent request for the same id while a load is
// in flight waits for that load rather than triggering a second one.
type LoaderFunc func(ctx context.Context) (Resource, error)

// Stats summarizes the manager's current state, mirroring what an
// operator would want from a `doctor` or `/stats` inspection.
type Stats struct {
	Loaded      int
	MaxLoaded   int
	Evictions   int64
	IdleEvicted int64
	Hits        int64
	Misses      int64
}

type entry struct {
	id       string
	resource Resource
	loadedAt time.Time
	lastUsed time.Time
}

// Manager is the process-wide model-memory manager. The zero value is
// not usable; construct with NewManager.
type Manager struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *entry]

	maxLoaded   int
	idleTimeout time.Duration

	inflight map[string]*loadWait

	stopCh chan struct{}
	ticker *time.Ticker
	wg     sync.WaitGroup

	evictions   int64
	idleEvicted int64
	hits        int64
	misses      int64
	closed      bool
}

type loadWait struct {
	done     chan struct{}
	resource Resource
	err      error
}

// NewManager builds a manager from the daemon's memory configuration. A
// background sweep evicts models idle past cfg.IdleTimeout every
// cfg.CleanupInterval; call Shutdown to stop it and release everything.
func NewManager(cfg config.MemoryConfig) *Manager {
	maxLoaded := cfg.MaxLoadedModels
	if maxLoaded <= 0 {
		maxLoaded = 2
	}
	idleTimeout := cfg.IdleTimeout.Std()
	if idleTimeout <= 0 {
		idleTimeout = 10 * time.Minute
	}
	cleanupInterval := cfg.CleanupInterval.Std()
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	m := &Manager{
		maxLoaded:   maxLoaded,
		idleTimeout: idleTimeout,
		inflight:    make(map[string]*loadWait),
		stopCh:      make(chan struct{}),
	}

	cache, _ := lru.NewWithEvict[string, *entry](maxLoaded, m.onEvict)
	m.cache = cache

	m.ticker = time.NewTicker(cleanupInterval)
	m.wg.Add(1)
	go m.sweepLoop()

	return m
}

// onEvict is invoked by the LRU cache itself when Add pushes it past
// capacity and for every entry Remove or Purge drops. It runs with m.mu
// held (those calls are always made under the lock), so it must not
// re-acquire it.
func (m *Manager) onEvict(id string, e *entry) {
	m.evictions++
	if err := e.resource.Close(); err != nil {
		slog.Warn("model manager: error closing evicted resource",
			slog.String("id", id), slog.String("error", err.Error()))
	}
}

// GetOrLoad returns the resource for id, loading it via loader on a
// cache miss. Concurrent callers for the same id share a single load.
func (m *Manager) GetOrLoad(ctx context.Context, id string, loader LoaderFunc) (Resource, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ragerrors.New(ragerrors.ErrCodeOutOfMemory, "model manager is shut down", nil)
	}

	if e, ok := m.cache.Get(id); ok {
		e.lastUsed = time.Now()
		m.hits++
		m.mu.Unlock()
		return e.resource, nil
	}

	if w, inflight := m.inflight[id]; inflight {
		m.mu.Unlock()
		select {
		case <-w.done:
			return w.resource, w.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	w := &loadWait{done: make(chan struct{})}
	m.inflight[id] = w
	m.misses++
	m.mu.Unlock()

	resource, err := loader(ctx)

	m.mu.Lock()
	delete(m.inflight, id)
	if err != nil {
		w.err = ragerrors.New(ragerrors.ErrCodeOutOfMemory, fmt.Sprintf("loading model %q", id), err)
		m.mu.Unlock()
		close(w.done)
		return nil, w.err
	}

	now := time.Now()
	m.cache.Add(id, &entry{id: id, resource: resource, loadedAt: now, lastUsed: now})
	w.resource = resource
	m.mu.Unlock()
	close(w.done)

	return resource, nil
}

// Unload releases the resource for id immediately, if loaded. It
// reports whether a resource was actually evicted.
func (m *Manager) Unload(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cache.Remove(id)
}

// ForceCleanup evicts every resource idle past the configured timeout
// right now, rather than waiting for the next sweep tick. It returns
// the number of resources evicted.
func (m *Manager) ForceCleanup() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evictIdleLocked()
}

// evictIdleLocked must be called with m.mu held.
func (m *Manager) evictIdleLocked() int {
	now := time.Now()
	var stale []string
	for _, id := range m.cache.Keys() {
		e, ok := m.cache.Peek(id)
		if !ok {
			continue
		}
		if now.Sub(e.lastUsed) >= m.idleTimeout {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		// Remove triggers onEvict, which closes the resource and bumps
		// m.evictions; count these separately as idle, not LRU pressure.
		m.cache.Remove(id)
		m.idleEvicted++
	}
	return len(stale)
}

func (m *Manager) sweepLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ticker.C:
			m.mu.Lock()
			evicted := m.evictIdleLocked()
			m.mu.Unlock()
			if evicted > 0 {
				slog.Debug("model manager: idle sweep evicted resources", slog.Int("count", evicted))
			}
		case <-m.stopCh:
			return
		}
	}
}

// Stats reports the manager's current counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Loaded:      m.cache.Len(),
		MaxLoaded:   m.maxLoaded,
		Evictions:   m.evictions,
		IdleEvicted: m.idleEvicted,
		Hits:        m.hits,
		Misses:      m.misses,
	}
}

// Shutdown stops the idle sweep and closes every resident resource.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.stopCh)
	m.ticker.Stop()
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Purge()
	return nil
}
