package cache

import (
	"context"
	"sync"
	"time"

	"github.com/serenomind/sereno/internal/extract"
)

type memoryEntry struct {
	value     *extract.Result
	scopeID   string
	createdAt time.Time
}

// Memory is a mutex-guarded in-process store. Expired entries behave as
// misses at read time; there is no background sweeper.
type Memory struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
	// scope id -> set of cache keys, populated at put time. The key is
	// a hash and will not contain the scope id, so invalidation needs
	// this explicit index.
	scopes map[string]map[string]struct{}
	now    func() time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Memory{
		ttl:     ttl,
		entries: make(map[string]memoryEntry),
		scopes:  make(map[string]map[string]struct{}),
		now:     time.Now,
	}
}

func (m *Memory) Get(_ context.Context, key string) (*extract.Result, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if m.now().Sub(e.createdAt) >= m.ttl {
		m.remove(key, e.scopeID)
		return nil, false
	}
	return e.value, true
}

func (m *Memory) Put(_ context.Context, key, scopeID string, value *extract.Result) {
	if value == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = memoryEntry{value: value, scopeID: scopeID, createdAt: m.now()}
	if scopeID != "" {
		set, ok := m.scopes[scopeID]
		if !ok {
			set = make(map[string]struct{})
			m.scopes[scopeID] = set
		}
		set[key] = struct{}{}
	}
}

func (m *Memory) Invalidate(_ context.Context, scopeID string) {
	if scopeID == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for key := range m.scopes[scopeID] {
		delete(m.entries, key)
	}
	delete(m.scopes, scopeID)
}

// remove drops a single entry; callers hold the lock.
func (m *Memory) remove(key, scopeID string) {
	delete(m.entries, key)
	if scopeID != "" {
		if set, ok := m.scopes[scopeID]; ok {
			delete(set, key)
			if len(set) == 0 {
				delete(m.scopes, scopeID)
			}
		}
	}
}
