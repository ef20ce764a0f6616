// Package wssim is a WebSocket tick-feed client. It connects to a plain JSON
// feed (e.g. cmd/tickserver) and submits every tick to the pipeline.
//
// Each text frame holds one tick, or several separated by '\n':
//
//	{"symbol":"INFY","exchange":"NSE","price":1502.35,"volume":10,"timestamp":"..."}
package wssim

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"tickinsight/internal/model"
)

// Config holds configuration for the feed client.
type Config struct {
	// URL of the tick WebSocket server, e.g. "ws://localhost:9001/ws"
	URL string

	// ReconnectDelay is the initial delay before reconnection attempts.
	// Defaults to 1 second if zero.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration
}

func (c *Config) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}

// Ingest implements model.TickSource over a WebSocket feed.
type Ingest struct {
	cfg Config

	// Hooks (optional)
	OnReconnect func()
	OnInvalid   func(err error) // undecodable frame or tick rejected by submit
}

// New creates a new Ingest. Returns an error if the URL is unparseable.
func New(cfg Config) (*Ingest, error) {
	cfg.defaults()
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, model.Errorf(model.KindMalformedInput, "tick feed URL %q must be ws:// or wss://", cfg.URL)
	}
	return &Ingest{cfg: cfg}, nil
}

// Start connects and streams ticks into submit until ctx is cancelled,
// reconnecting with jittered exponential backoff.
func (ing *Ingest) Start(ctx context.Context, submit func(model.Tick) error) error {
	b := &backoff.Backoff{
		Min:    ing.cfg.ReconnectDelay,
		Max:    ing.cfg.MaxReconnectDelay,
		Factor: 2,
		Jitter: true,
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		connected, err := ing.runOnce(ctx, submit)
		if err == nil {
			return nil
		}
		if connected {
			b.Reset()
		}

		delay := b.Duration()
		log.Printf("[wssim] disconnected (%v), reconnecting in %s...", err, delay)
		if ing.OnReconnect != nil {
			ing.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// runOnce makes a single connection attempt and reads until disconnect or
// ctx cancel. A nil error means ctx ended the session.
func (ing *Ingest) runOnce(ctx context.Context, submit func(model.Tick) error) (connected bool, err error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, ing.cfg.URL, nil)
	if err != nil {
		return false, model.Wrap(model.KindUpstreamUnavailable, err, "dial tick feed")
	}
	defer conn.Close()

	log.Printf("[wssim] connected to %s", ing.cfg.URL)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, nil
			}
			return true, err
		}
		for _, line := range bytes.Split(raw, []byte{'\n'}) {
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			ing.deliver(line, submit)
		}
	}
}

func (ing *Ingest) deliver(line []byte, submit func(model.Tick) error) {
	var tick model.Tick
	if err := json.Unmarshal(line, &tick); err != nil {
		ing.invalid(model.Errorf(model.KindMalformedInput, "undecodable tick: %v", err))
		return
	}
	if err := submit(tick); err != nil {
		ing.invalid(err)
	}
}

func (ing *Ingest) invalid(err error) {
	if ing.OnInvalid != nil {
		ing.OnInvalid(err)
		return
	}
	if !errors.Is(err, model.ErrMalformedInput) && !errors.Is(err, model.ErrBackpressureDrop) {
		log.Printf("[wssim] submit error: %v", err)
	}
}
