package gateway

import (
	"sort"
	"sync"

	"tickinsight/internal/model"
)

// Target is one delivery destination for a (symbol, tf) event.
type Target struct {
	ClientID   string
	Queue      *ClientQueue
	Indicators []string
}

type clientEntry struct {
	queue *ClientQueue
	subs  map[string]*model.Subscription // series key → subscription
}

// Registry tracks which client wants which (symbol, timeframe, indicators).
// All methods are safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	clients  map[string]*clientEntry
	bySeries map[string]map[string]struct{} // series key → client ids
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		clients:  make(map[string]*clientEntry),
		bySeries: make(map[string]map[string]struct{}),
	}
}

// Attach binds a client's outbound queue. Subscriptions made before Attach
// are kept.
func (r *Registry) Attach(clientID string, q *ClientQueue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entry(clientID).queue = q
}

// Subscribe records interest in (symbol, tf). Indicators merge with any the
// client already asked for on that series.
func (r *Registry) Subscribe(clientID, symbol string, tf model.Timeframe, indicators []string) {
	key := model.SeriesKey(symbol, tf)

	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.entry(clientID)
	sub, ok := e.subs[key]
	if !ok {
		sub = &model.Subscription{ClientID: clientID, Symbol: symbol, TF: tf}
		e.subs[key] = sub
	}
	sub.Indicators = mergeSorted(sub.Indicators, indicators)

	ids, ok := r.bySeries[key]
	if !ok {
		ids = make(map[string]struct{})
		r.bySeries[key] = ids
	}
	ids[clientID] = struct{}{}
}

// Unsubscribe drops the client's subscription to (symbol, tf). Returns false
// when there was none.
func (r *Registry) Unsubscribe(clientID, symbol string, tf model.Timeframe) bool {
	key := model.SeriesKey(symbol, tf)

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.clients[clientID]
	if !ok {
		return false
	}
	if _, ok := e.subs[key]; !ok {
		return false
	}
	delete(e.subs, key)
	r.dropSeries(key, clientID)
	return true
}

// Remove forgets a client entirely (disconnect) and returns how many
// subscriptions it held.
func (r *Registry) Remove(clientID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.clients[clientID]
	if !ok {
		return 0
	}
	for key := range e.subs {
		r.dropSeries(key, clientID)
	}
	delete(r.clients, clientID)
	return len(e.subs)
}

// Matching returns every attached client subscribed to (symbol, tf).
func (r *Registry) Matching(symbol string, tf model.Timeframe) []Target {
	key := model.SeriesKey(symbol, tf)

	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.bySeries[key]
	out := make([]Target, 0, len(ids))
	for id := range ids {
		e := r.clients[id]
		if e == nil || e.queue == nil {
			continue
		}
		out = append(out, Target{ClientID: id, Queue: e.queue, Indicators: e.subs[key].Indicators})
	}
	return out
}

// WantedIndicators returns the union of indicator keys requested on (symbol, tf).
func (r *Registry) WantedIndicators(symbol string, tf model.Timeframe) []string {
	key := model.SeriesKey(symbol, tf)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for id := range r.bySeries[key] {
		if e := r.clients[id]; e != nil {
			out = mergeSorted(out, e.subs[key].Indicators)
		}
	}
	return out
}

// Subscriptions returns copies of a client's subscriptions, sorted by series.
func (r *Registry) Subscriptions(clientID string) []model.Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.clients[clientID]
	if !ok {
		return nil
	}
	out := make([]model.Subscription, 0, len(e.subs))
	for _, s := range e.subs {
		cp := *s
		cp.Indicators = append([]string(nil), s.Indicators...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Stats returns the number of known clients and subscribed series.
func (r *Registry) Stats() (clients, series int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients), len(r.bySeries)
}

// entry must be called with mu held for writing.
func (r *Registry) entry(clientID string) *clientEntry {
	e, ok := r.clients[clientID]
	if !ok {
		e = &clientEntry{subs: make(map[string]*model.Subscription)}
		r.clients[clientID] = e
	}
	return e
}

// dropSeries must be called with mu held for writing.
func (r *Registry) dropSeries(key, clientID string) {
	if ids, ok := r.bySeries[key]; ok {
		delete(ids, clientID)
		if len(ids) == 0 {
			delete(r.bySeries, key)
		}
	}
}

// mergeSorted returns the sorted union of a and b without duplicates.
func mergeSorted(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string(nil), a...), b...) {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
