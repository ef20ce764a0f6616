package window

import (
	"sort"
	"sync"

	"tickinsight/internal/model"
)

// Store indexes windows by "symbol:tf". Lookups are safe from any goroutine.
type Store struct {
	capacity int

	mu      sync.RWMutex
	windows map[string]*Window
}

// NewStore creates a store whose windows hold capacity candles each.
func NewStore(capacity int) *Store {
	return &Store{
		capacity: capacity,
		windows:  make(map[string]*Window, 64),
	}
}

// GetOrCreate returns the window for (symbol, tf), creating it if needed.
func (s *Store) GetOrCreate(symbol, exchange string, tf model.Timeframe) *Window {
	key := model.SeriesKey(symbol, tf)

	s.mu.RLock()
	w, ok := s.windows[key]
	s.mu.RUnlock()
	if ok {
		return w
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok = s.windows[key]; ok {
		return w
	}
	w = New(symbol, exchange, tf, s.capacity)
	s.windows[key] = w
	return w
}

// Get returns the window for (symbol, tf) if it exists.
func (s *Store) Get(symbol string, tf model.Timeframe) (*Window, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.windows[model.SeriesKey(symbol, tf)]
	return w, ok
}

// Snapshot returns the current snapshot for (symbol, tf).
func (s *Store) Snapshot(symbol string, tf model.Timeframe) (*Snapshot, bool) {
	w, ok := s.Get(symbol, tf)
	if !ok {
		return nil, false
	}
	return w.Snapshot(), true
}

// Keys returns every series key, sorted.
func (s *Store) Keys() []string {
	s.mu.RLock()
	keys := make([]string, 0, len(s.windows))
	for k := range s.windows {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Capacity returns the per-window capacity.
func (s *Store) Capacity() int { return s.capacity }

// Stats returns candle counts per series key.
func (s *Store) Stats() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int, len(s.windows))
	for k, w := range s.windows {
		out[k] = w.Len()
	}
	return out
}
