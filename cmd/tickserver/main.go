// Command tickserver is a demo tick feed. It random-walks a few symbols and
// broadcasts the ticks over WebSocket, one frame per interval with ticks
// separated by '\n':
//
//	{"symbol":"INFY","exchange":"NSE","price":1502.35,"volume":10,"timestamp":"..."}
//
// With TICK_REDIS_ADDR set the same ticks are also appended to a Redis stream,
// which insightd consumes when TICK_SOURCE=redis.
//
// Config (env vars):
//
//	TICK_SERVER_ADDR   listen address (default ":9001")
//	TICK_SYMBOLS       comma-separated SYMBOL:EXCHANGE[:PRICE] (default "INFY:NSE:1500,TCS:NSE:3900,RELIANCE:NSE:2900")
//	TICK_INTERVAL      broadcast interval (default "100ms")
//	TICK_REDIS_ADDR    optional Redis address
//	TICK_REDIS_STREAM  stream name (default "ticks")
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"math/rand"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"tickinsight/internal/model"
	redisstore "tickinsight/internal/store/redis"
)

type settings struct {
	Addr        string        `envconfig:"TICK_SERVER_ADDR" default:":9001"`
	Symbols     string        `envconfig:"TICK_SYMBOLS" default:"INFY:NSE:1500,TCS:NSE:3900,RELIANCE:NSE:2900"`
	Interval    time.Duration `envconfig:"TICK_INTERVAL" default:"100ms"`
	RedisAddr   string        `envconfig:"TICK_REDIS_ADDR"`
	RedisStream string        `envconfig:"TICK_REDIS_STREAM" default:"ticks"`
}

// instrument holds per-symbol simulation state.
type instrument struct {
	Symbol   string
	Exchange string
	Price    float64
}

// ─── Hub ──────────────────────────────────────────────────────────────────────

type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]chan []byte
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]chan []byte)}
}

func (h *hub) register(conn *websocket.Conn) chan []byte {
	ch := make(chan []byte, 256)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	return ch
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		close(ch)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.clients {
		select {
		case ch <- msg:
		default: // slow client, drop the frame
		}
	}
}

// ─── WebSocket handler ────────────────────────────────────────────────────────

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func wsHandler(h *hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[tickserver] upgrade error: %v", err)
			return
		}
		log.Printf("[tickserver] client connected: %s", r.RemoteAddr)

		ch := h.register(conn)
		defer func() {
			h.unregister(conn)
			conn.Close()
			log.Printf("[tickserver] client disconnected: %s", r.RemoteAddr)
		}()

		for msg := range ch {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// ─── Tick generator ──────────────────────────────────────────────────────────

// walkPrice applies a random step of at most ±0.1%, rounded to the tick size
// of 0.05 and floored at 0.05.
func walkPrice(rng *rand.Rand, price float64) float64 {
	pct := (rng.Float64()*0.2 - 0.1) / 100.0
	next := math.Round(price*(1+pct)*20) / 20
	if next < 0.05 {
		next = 0.05
	}
	return next
}

// nextFrame advances every instrument one step and returns the ticks plus the
// '\n'-joined JSON frame.
func nextFrame(rng *rand.Rand, instruments []instrument, now time.Time) ([]model.Tick, []byte) {
	ticks := make([]model.Tick, len(instruments))
	var buf bytes.Buffer
	for i := range instruments {
		instruments[i].Price = walkPrice(rng, instruments[i].Price)
		ticks[i] = model.Tick{
			Symbol:   instruments[i].Symbol,
			Exchange: instruments[i].Exchange,
			Price:    instruments[i].Price,
			Volume:   float64(rng.Intn(100) + 1),
			TS:       now,
		}
		b, err := json.Marshal(ticks[i])
		if err != nil {
			continue
		}
		if buf.Len() > 0 {
			buf.WriteByte('\n')
		}
		buf.Write(b)
	}
	return ticks, buf.Bytes()
}

func runGenerator(ctx context.Context, h *hub, rdb *goredis.Client, stream string, instruments []instrument, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			ticks, frame := nextFrame(rng, instruments, now.UTC())
			h.broadcast(frame)
			if rdb == nil {
				continue
			}
			for _, t := range ticks {
				if err := redisstore.PublishTick(ctx, rdb, stream, t); err != nil {
					log.Printf("[tickserver] redis XADD %s: %v", stream, err)
					break
				}
			}
		}
	}
}

// ─── main ─────────────────────────────────────────────────────────────────────

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[tickserver] starting demo tick server...")

	_ = godotenv.Load()
	var cfg settings
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("[tickserver] config: %v", err)
	}

	instruments, err := parseInstruments(cfg.Symbols)
	if err != nil {
		log.Fatalf("[tickserver] TICK_SYMBOLS: %v", err)
	}
	log.Printf("[tickserver] instruments: %+v", instruments)
	log.Printf("[tickserver] broadcast interval: %s", cfg.Interval)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var rdb *goredis.Client
	if cfg.RedisAddr != "" {
		rdb, err = redisstore.Dial(ctx, redisstore.Options{Addr: cfg.RedisAddr})
		if err != nil {
			log.Fatalf("[tickserver] redis: %v", err)
		}
		defer rdb.Close()
		log.Printf("[tickserver] also publishing to redis stream %s", cfg.RedisStream)
	}

	h := newHub()
	go runGenerator(ctx, h, rdb, cfg.RedisStream, instruments, cfg.Interval)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler(h))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"tickserver"}`)
	})
	srv := &http.Server{Addr: cfg.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("[tickserver] listening on %s (WebSocket: ws://localhost%s/ws)", cfg.Addr, cfg.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("[tickserver] server error: %v", err)
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────────

// parseInstruments reads SYMBOL:EXCHANGE[:PRICE] pairs. Missing prices start
// at 1000.
func parseInstruments(s string) ([]instrument, error) {
	var result []instrument
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		seg := strings.Split(part, ":")
		if len(seg) < 2 || len(seg) > 3 || seg[0] == "" {
			return nil, fmt.Errorf("invalid symbol spec %q", part)
		}
		inst := instrument{
			Symbol:   strings.ToUpper(strings.TrimSpace(seg[0])),
			Exchange: strings.ToUpper(strings.TrimSpace(seg[1])),
			Price:    1000,
		}
		if len(seg) == 3 {
			p, err := strconv.ParseFloat(strings.TrimSpace(seg[2]), 64)
			if err != nil || p <= 0 {
				return nil, fmt.Errorf("invalid start price in %q", part)
			}
			inst.Price = p
		}
		result = append(result, inst)
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("no instruments configured")
	}
	return result, nil
}
