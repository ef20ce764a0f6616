// Package alert delivers operational alerts (sink circuit breaker trips, feed
// reconnects, fatal source errors) to external channels.
package alert

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"
	"golang.org/x/time/rate"
)

// Level represents the severity of an alert.
type Level string

const (
	Info     Level = "INFO"
	Warning  Level = "WARNING"
	Critical Level = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   Level     `json:"level"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	TS      time.Time `json:"ts"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, a Alert) error
}

// LogNotifier logs alerts. Used when no external channel is configured.
type LogNotifier struct{}

func (LogNotifier) Send(_ context.Context, a Alert) error {
	log.Printf("[alert] [%s] %s: %s", a.Level, a.Title, a.Message)
	return nil
}

// Multi sends to every notifier and returns the first error.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, a Alert) error {
	var first error
	for _, n := range m {
		if err := n.Send(ctx, a); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// DispatcherConfig tunes a Dispatcher.
type DispatcherConfig struct {
	QueueSize  int        // pending alerts; default 64
	Rate       rate.Limit // deliveries per second; default 1
	Burst      int        // default 5
	Retries    int        // delivery attempts per alert; default 3
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

func (c *DispatcherConfig) defaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.Rate <= 0 {
		c.Rate = 1
	}
	if c.Burst <= 0 {
		c.Burst = 5
	}
	if c.Retries <= 0 {
		c.Retries = 3
	}
	if c.MinBackoff <= 0 {
		c.MinBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 10 * time.Second
	}
}

// Dispatcher queues alerts and delivers them from one goroutine so callers
// (often hot-path hooks) never block on network I/O. A full queue drops.
type Dispatcher struct {
	n       Notifier
	cfg     DispatcherConfig
	queue   chan Alert
	limiter *rate.Limiter

	sent    atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
}

// NewDispatcher creates a dispatcher over n.
func NewDispatcher(n Notifier, cfg DispatcherConfig) *Dispatcher {
	cfg.defaults()
	return &Dispatcher{
		n:       n,
		cfg:     cfg,
		queue:   make(chan Alert, cfg.QueueSize),
		limiter: rate.NewLimiter(cfg.Rate, cfg.Burst),
	}
}

// Notify enqueues an alert. Never blocks.
func (d *Dispatcher) Notify(level Level, title, message string) {
	a := Alert{Level: level, Title: title, Message: message, TS: time.Now().UTC()}
	select {
	case d.queue <- a:
	default:
		d.dropped.Add(1)
		log.Printf("[alert] queue full, dropping %q", title)
	}
}

// Run delivers queued alerts until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-d.queue:
			if err := d.limiter.Wait(ctx); err != nil {
				return
			}
			d.deliver(ctx, a)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, a Alert) {
	b := &backoff.Backoff{Min: d.cfg.MinBackoff, Max: d.cfg.MaxBackoff, Factor: 2, Jitter: true}
	var err error
	for attempt := 1; attempt <= d.cfg.Retries; attempt++ {
		if err = d.n.Send(ctx, a); err == nil {
			d.sent.Add(1)
			return
		}
		if attempt == d.cfg.Retries {
			break
		}
		select {
		case <-ctx.Done():
			d.failed.Add(1)
			return
		case <-time.After(b.Duration()):
		}
	}
	d.failed.Add(1)
	log.Printf("[alert] giving up on %q after %d attempts: %v", a.Title, d.cfg.Retries, err)
}

// Stats returns delivered, failed and dropped counts.
func (d *Dispatcher) Stats() (sent, failed, dropped uint64) {
	return d.sent.Load(), d.failed.Load(), d.dropped.Load()
}
