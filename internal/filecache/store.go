package filecache

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"watchcache/internal/logging"
)

type Status string

const (
	StatusRegistered    Status = "registered"
	StatusLoaded        Status = "loaded"
	StatusReloadPending Status = "reload_pending"
)

// EntryInfo summarizes a watched entry.
type EntryInfo struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	Type     string    `json:"type"`
	Status   Status    `json:"status"`
	Reloads  int64     `json:"reloads"`
	Failures int64     `json:"failures"`
	LoadedAt time.Time `json:"loaded_at,omitempty"`
}

// entry is the type-erased view of a typedEntry.
type entry interface {
	key() string
	path() string
	typeName() string
	current() any
	hasValue() bool
	stats() (reloads, failures int64, loadedAt time.Time)
	reload(cache *Cache)
	releaseCurrent(logger *logging.Logger)
}

type store struct {
	mutex   sync.RWMutex
	entries map[string]entry
}

func newStore() *store {
	return &store{entries: make(map[string]entry)}
}

func (s *store) get(name string) (entry, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	found, ok := s.entries[name]
	return found, ok
}

// insertIfAbsent stores candidate unless name is taken, returning the stored
// entry and whether it already existed.
func (s *store) insertIfAbsent(name string, candidate entry) (entry, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if existing, ok := s.entries[name]; ok {
		return existing, true
	}
	s.entries[name] = candidate
	return candidate, false
}

func (s *store) list() []entry {
	s.mutex.RLock()
	entries := make([]entry, 0, len(s.entries))
	for _, item := range s.entries {
		entries = append(entries, item)
	}
	s.mutex.RUnlock()
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].key() < entries[j].key()
	})
	return entries
}

type counters struct {
	reloads  atomic.Int64
	failures atomic.Int64
	loadedAt atomic.Int64
}

func (c *counters) snapshot() (int64, int64, time.Time) {
	var loadedAt time.Time
	if nanos := c.loadedAt.Load(); nanos != 0 {
		loadedAt = time.Unix(0, nanos).UTC()
	}
	return c.reloads.Load(), c.failures.Load(), loadedAt
}
