// Package bus fans pipeline events out to slower consumers (persistence,
// external publishers), each behind its own bounded channel.
package bus

import (
	"context"
	"log"
	"sync"

	"tickinsight/internal/model"
)

// FanOut implements model.EventSink. Publish copies the event into every
// attached sink's channel; a full channel drops the event for that sink only.
type FanOut struct {
	mu      sync.RWMutex
	outputs []*output
	bufSize int
	wg      sync.WaitGroup

	// OnDrop is called when an event is dropped for a sink.
	OnDrop func(sink string)
}

type output struct {
	name string
	ch   chan model.Event
	sink model.EventSink
}

// New creates a FanOut with the given buffer size for output channels.
func New(outputBufferSize int) *FanOut {
	if outputBufferSize <= 0 {
		outputBufferSize = 1024
	}
	return &FanOut{bufSize: outputBufferSize}
}

// Attach registers a named sink. Must be called before Run.
func (f *FanOut) Attach(name string, sink model.EventSink) {
	f.mu.Lock()
	f.outputs = append(f.outputs, &output{
		name: name,
		ch:   make(chan model.Event, f.bufSize),
		sink: sink,
	})
	f.mu.Unlock()
}

// Publish never blocks.
func (f *FanOut) Publish(ev model.Event) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, o := range f.outputs {
		select {
		case o.ch <- ev:
		default:
			if f.OnDrop != nil {
				f.OnDrop(o.name)
			} else {
				log.Printf("[bus] sink %s full, dropping %s event %s", o.name, ev.Kind, ev.Key())
			}
		}
	}
}

// Run starts one delivery goroutine per sink and blocks until ctx is
// cancelled. Events still buffered at cancellation are delivered before Run
// returns.
func (f *FanOut) Run(ctx context.Context) {
	f.mu.RLock()
	outs := append([]*output(nil), f.outputs...)
	f.mu.RUnlock()

	for _, o := range outs {
		f.wg.Add(1)
		go func(o *output) {
			defer f.wg.Done()
			for {
				select {
				case ev := <-o.ch:
					o.sink.Publish(ev)
				case <-ctx.Done():
					for {
						select {
						case ev := <-o.ch:
							o.sink.Publish(ev)
						default:
							return
						}
					}
				}
			}
		}(o)
	}
	<-ctx.Done()
	f.wg.Wait()
}

// ChannelStat reports the fill level of one sink channel.
type ChannelStat struct {
	Sink string `json:"sink"`
	Len  int    `json:"len"`
	Cap  int    `json:"cap"`
}

// ChannelStats returns the saturation of every sink channel.
func (f *FanOut) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, len(f.outputs))
	for i, o := range f.outputs {
		stats[i] = ChannelStat{Sink: o.name, Len: len(o.ch), Cap: cap(o.ch)}
	}
	return stats
}

// SinkFunc adapts a function to model.EventSink.
type SinkFunc func(ev model.Event)

// Publish calls fn(ev).
func (fn SinkFunc) Publish(ev model.Event) { fn(ev) }

// Multi delivers synchronously to several sinks in order.
type Multi []model.EventSink

// Publish forwards ev to every sink.
func (m Multi) Publish(ev model.Event) {
	for _, s := range m {
		s.Publish(ev)
	}
}
