package gateway

import (
	"log"
	"sync/atomic"
	"time"

	"tickinsight/internal/model"
)

// Broadcaster turns pipeline events into protocol messages and pushes them
// onto the queues of matching clients. Publish never blocks.
type Broadcaster struct {
	reg     *Registry
	Latency *LatencyTracker

	delivered atomic.Uint64
	dropped   atomic.Uint64

	// Hooks (optional)
	OnDrop    func(clientID string) // a queued message was dropped for a slow client
	OnLatency func(d time.Duration) // emit-to-enqueue latency of a delivered event
}

// NewBroadcaster creates a Broadcaster backed by reg.
func NewBroadcaster(reg *Registry) *Broadcaster {
	return &Broadcaster{reg: reg, Latency: NewLatencyTracker(10000)}
}

// Publish implements model.EventSink.
func (b *Broadcaster) Publish(ev model.Event) {
	targets := b.reg.Matching(ev.Symbol, ev.TF)
	if len(targets) == 0 {
		return
	}

	switch ev.Kind {
	case model.EventCandle:
		if ev.Candle == nil {
			return
		}
		msg := candleMessage(ev.Candle)
		for _, t := range targets {
			b.push(t, msg)
		}

	case model.EventIndicators:
		for _, t := range targets {
			values := filterIndicators(ev.Indicators, t.Indicators)
			if len(values) == 0 {
				continue
			}
			b.push(t, indicatorMessage(&ev, values))
		}

	default:
		log.Printf("[broadcaster] unknown event kind %d for %s", ev.Kind, ev.Key())
		return
	}

	if !ev.EmittedAt.IsZero() {
		d := time.Since(ev.EmittedAt)
		if b.Latency != nil {
			b.Latency.Record(d)
		}
		if b.OnLatency != nil {
			b.OnLatency(d)
		}
	}
}

// Stats returns delivered and dropped message totals.
func (b *Broadcaster) Stats() (delivered, dropped uint64) {
	return b.delivered.Load(), b.dropped.Load()
}

func (b *Broadcaster) push(t Target, msg []byte) {
	b.delivered.Add(1)
	if t.Queue.Push(msg) {
		b.dropped.Add(1)
		if b.OnDrop != nil {
			b.OnDrop(t.ClientID)
		}
	}
}

// filterIndicators keeps the keys a client asked for.
func filterIndicators(all map[string]any, wanted []string) map[string]any {
	if len(wanted) == 0 || len(all) == 0 {
		return nil
	}
	out := make(map[string]any, len(wanted))
	for _, k := range wanted {
		if v, ok := all[k]; ok {
			out[k] = v
		}
	}
	return out
}
