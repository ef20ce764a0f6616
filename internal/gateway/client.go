package gateway

import (
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"tickinsight/internal/indicator"
	"tickinsight/internal/model"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	readLimit  = 4096
)

// Client represents a single WebSocket peer.
type Client struct {
	id      string
	conn    *websocket.Conn
	hub     *Hub
	queue   *ClientQueue
	limiter *rate.Limiter

	reportedGaps uint64 // owned by writePump
}

// ID returns the server-assigned client id.
func (c *Client) ID() string { return c.id }

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.queue.Notify():
			if c.queue.Closed() {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.flush(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// flush writes a gap notice when messages were dropped since the last one,
// then every queued message coalesced into a single frame.
func (c *Client) flush() error {
	msgs := c.queue.Drain()
	gaps := c.queue.Gaps()
	if len(msgs) == 0 && gaps == c.reportedGaps {
		return nil
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	first := true
	if gaps > c.reportedGaps {
		w.Write(gapMessage(gaps - c.reportedGaps))
		c.reportedGaps = gaps
		first = false
	}
	for _, m := range msgs {
		if !first {
			w.Write([]byte{'\n'})
		}
		w.Write(m)
		first = false
	}
	return w.Close()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[gateway] client %s read error: %v", c.id, err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.handle(msg)
	}
}

// handle processes one inbound frame.
func (c *Client) handle(raw []byte) {
	if c.limiter != nil && !c.limiter.Allow() {
		c.sendError(model.Errorf(model.KindMalformedInput, "rate limit exceeded"))
		return
	}

	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		c.sendError(model.Errorf(model.KindMalformedInput, "invalid JSON: %v", err))
		return
	}

	switch in.Type {
	case TypeSubscription:
		var data SubscriptionData
		if err := json.Unmarshal(in.Data, &data); err != nil {
			c.sendError(model.Errorf(model.KindMalformedInput, "invalid subscription: %v", err))
			return
		}
		c.handleSubscription(data)

	case TypePing:
		c.queue.Push(encode(TypePong, PongData{ServerTS: time.Now().UnixMilli()}))

	default:
		c.sendError(model.Errorf(model.KindMalformedInput, "unknown message type %q", in.Type))
	}
}

// handleSubscription applies every valid symbol × timeframe pair. Invalid
// items get their own error message; the rest proceed.
func (c *Client) handleSubscription(data SubscriptionData) {
	action := strings.ToLower(strings.TrimSpace(data.Action))
	if action != ActionSubscribe && action != ActionUnsubscribe {
		c.sendError(model.Errorf(model.KindMalformedInput, "unknown action %q", data.Action))
		return
	}

	symbols := c.validSymbols(data.Symbols)
	tfs := c.validTimeframes(data.Timeframes)
	var inds []string
	if action == ActionSubscribe {
		inds = c.validIndicators(data.Indicators)
	}
	if len(symbols) == 0 || len(tfs) == 0 {
		c.sendError(model.Errorf(model.KindMalformedInput, "subscription needs at least one valid symbol and timeframe"))
		return
	}

	ack := AckData{Action: action, Symbols: symbols, Indicators: inds}
	if ack.Indicators == nil {
		ack.Indicators = []string{}
	}
	for _, tf := range tfs {
		ack.Timeframes = append(ack.Timeframes, tf.String())
	}

	for _, sym := range symbols {
		for _, tf := range tfs {
			if action == ActionSubscribe {
				c.hub.Registry.Subscribe(c.id, sym, tf, inds)
			} else {
				c.hub.Registry.Unsubscribe(c.id, sym, tf)
			}
		}
	}
	c.queue.Push(encode(TypeAck, ack))
	log.Printf("[gateway] client %s %s symbols=%v tfs=%v indicators=%v", c.id, action, symbols, ack.Timeframes, inds)

	if action == ActionSubscribe && c.hub.Latest != nil {
		for _, sym := range symbols {
			for _, tf := range tfs {
				if last, ok := c.hub.Latest(sym, tf); ok {
					c.queue.Push(candleMessage(&last))
				}
			}
		}
	}
}

func (c *Client) validSymbols(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if !c.hub.servesSymbol(s) {
			c.sendError(model.Errorf(model.KindMalformedInput, "symbol %q is not served", s))
			continue
		}
		out = append(out, s)
	}
	return out
}

func (c *Client) validTimeframes(in []string) []model.Timeframe {
	out := make([]model.Timeframe, 0, len(in))
	for _, s := range in {
		tf, err := model.ParseTimeframe(s)
		if err != nil {
			c.sendError(err)
			continue
		}
		if !c.hub.servesTimeframe(tf) {
			c.sendError(model.Errorf(model.KindUnknownTimeframe, "timeframe %s is not aggregated", tf))
			continue
		}
		out = append(out, tf)
	}
	return out
}

func (c *Client) validIndicators(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		spec, err := indicator.ParseSpec(s)
		if err == nil && c.hub.Indicators != nil {
			_, _, err = c.hub.Indicators.Resolve(spec)
		}
		if err != nil {
			c.sendError(err)
			continue
		}
		out = append(out, spec.Key())
	}
	return out
}

func (c *Client) sendError(err error) {
	c.queue.Push(errorMessage(err))
}
