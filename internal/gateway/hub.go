// Package gateway serves the JSON WebSocket stream: it tracks client
// subscriptions and fans pipeline events out to per-client bounded queues.
package gateway

import (
	"log"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"tickinsight/internal/indicator"
	"tickinsight/internal/model"
)

// Options configures a Hub.
type Options struct {
	QueueSize  int        // per-client outbound queue capacity
	RateLimit  rate.Limit // inbound messages per second per client; 0 disables
	RateBurst  int
	Symbols    []string          // served symbols; empty accepts any
	Timeframes []model.Timeframe // aggregated timeframes; empty accepts any
	Indicators *indicator.Registry
}

// Hub owns connected clients and wires them to the Registry and Broadcaster.
type Hub struct {
	Registry    *Registry
	Broadcaster *Broadcaster
	Indicators  *indicator.Registry

	// Latest returns the newest closed candle for a series; sent right after a
	// subscribe ack when set.
	Latest func(symbol string, tf model.Timeframe) (model.Candle, bool)

	// Hooks (optional)
	OnConnect    func(total int)
	OnDisconnect func(total int)

	opts     Options
	symbols  map[string]bool
	tfs      map[model.Timeframe]bool
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*Client
}

// NewHub creates a hub with its own registry and broadcaster.
func NewHub(opts Options) *Hub {
	reg := NewRegistry()
	h := &Hub{
		Registry:    reg,
		Broadcaster: NewBroadcaster(reg),
		Indicators:  opts.Indicators,
		opts:        opts,
		clients:     make(map[string]*Client),
		upgrader: websocket.Upgrader{
			CheckOrigin:       func(r *http.Request) bool { return true },
			EnableCompression: true,
		},
	}
	if len(opts.Symbols) > 0 {
		h.symbols = make(map[string]bool, len(opts.Symbols))
		for _, s := range opts.Symbols {
			h.symbols[s] = true
		}
	}
	if len(opts.Timeframes) > 0 {
		h.tfs = make(map[model.Timeframe]bool, len(opts.Timeframes))
		for _, tf := range opts.Timeframes {
			h.tfs[tf] = true
		}
	}
	return h
}

// ServeHTTP upgrades the request to a WebSocket and starts the client pumps.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[gateway] ws upgrade error: %v", err)
		return
	}
	conn.EnableWriteCompression(true)

	c := &Client{
		id:    uuid.New().String(),
		conn:  conn,
		hub:   h,
		queue: NewClientQueue(h.opts.QueueSize),
	}
	if h.opts.RateLimit > 0 {
		c.limiter = rate.NewLimiter(h.opts.RateLimit, h.opts.RateBurst)
	}

	h.Registry.Attach(c.id, c.queue)
	h.mu.Lock()
	h.clients[c.id] = c
	total := len(h.clients)
	h.mu.Unlock()

	log.Printf("[gateway] ws client %s connected (%d total)", c.id, total)
	if h.OnConnect != nil {
		h.OnConnect(total)
	}

	go c.writePump()
	go c.readPump()
}

// remove drops every subscription of c and stops its writer.
func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.id)
	total := len(h.clients)
	h.mu.Unlock()

	n := h.Registry.Remove(c.id)
	c.queue.Close()
	log.Printf("[gateway] ws client %s disconnected, %d subscriptions dropped (%d total)", c.id, n, total)
	if h.OnDisconnect != nil {
		h.OnDisconnect(total)
	}
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		h.remove(c)
	}
}

func (h *Hub) servesSymbol(s string) bool {
	return h.symbols == nil || h.symbols[s]
}

func (h *Hub) servesTimeframe(tf model.Timeframe) bool {
	return h.tfs == nil || h.tfs[tf]
}
