package gateway

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"tickinsight/internal/indicator"
	"tickinsight/internal/model"
)

type wsMsg struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func startHub(t *testing.T) (*Hub, *websocket.Conn) {
	t.Helper()
	hub := NewHub(Options{
		QueueSize:  16,
		Symbols:    []string{"INFY", "TCS"},
		Timeframes: []model.Timeframe{model.TF1m, model.TF5m},
		Indicators: indicator.NewRegistry(),
	})
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)
	t.Cleanup(hub.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return hub, conn
}

// readUntil collects messages until one of type typ arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) (wsMsg, []wsMsg) {
	t.Helper()
	var seen []wsMsg
	deadline := time.Now().Add(3 * time.Second)
	for {
		conn.SetReadDeadline(deadline)
		_, frame, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %q: %v (seen %d)", typ, err, len(seen))
		}
		for _, line := range bytes.Split(frame, []byte{'\n'}) {
			var m wsMsg
			if err := json.Unmarshal(line, &m); err != nil {
				t.Fatalf("bad frame %s: %v", line, err)
			}
			seen = append(seen, m)
			if m.Type == typ {
				return m, seen
			}
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	for i := 0; i < 300; i++ {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestHub_SubscribeAckAndStream(t *testing.T) {
	hub, conn := startHub(t)
	waitFor(t, func() bool { return hub.ClientCount() == 1 })

	send(t, conn, map[string]any{
		"type": "subscription",
		"data": map[string]any{
			"action":     "subscribe",
			"symbols":    []string{"infy"},
			"timeframes": []string{"1m"},
			"indicators": []string{"RSI:14", "ema"},
		},
	})

	ack, _ := readUntil(t, conn, TypeAck)
	var data AckData
	if err := json.Unmarshal(ack.Data, &data); err != nil {
		t.Fatal(err)
	}
	if len(data.Symbols) != 1 || data.Symbols[0] != "INFY" {
		t.Errorf("ack symbols: %v", data.Symbols)
	}
	if len(data.Indicators) != 2 || data.Indicators[0] != "rsi:14" || data.Indicators[1] != "ema" {
		t.Errorf("ack indicators: %v", data.Indicators)
	}

	hub.Broadcaster.Publish(candleEvent("INFY", model.TF1m, 101))
	msg, _ := readUntil(t, conn, TypeCandle)
	var c CandleData
	if err := json.Unmarshal(msg.Data, &c); err != nil {
		t.Fatal(err)
	}
	if c.Symbol != "INFY" || c.Close != 101 || c.Timeframe != model.TF1m {
		t.Errorf("candle: %+v", c)
	}
}

func TestHub_InvalidItemsGetErrors(t *testing.T) {
	hub, conn := startHub(t)

	send(t, conn, map[string]any{
		"type": "subscription",
		"data": map[string]any{
			"action":     "subscribe",
			"symbols":    []string{"INFY"},
			"timeframes": []string{"1m", "7m", "1h"},
			"indicators": []string{"nope", "rsi"},
		},
	})

	ack, seen := readUntil(t, conn, TypeAck)
	kinds := map[model.Kind]int{}
	for _, m := range seen {
		if m.Type != TypeError {
			continue
		}
		var e ErrorData
		json.Unmarshal(m.Data, &e)
		kinds[e.Kind]++
	}
	// "7m" is not a timeframe; "1h" is valid but not aggregated here.
	if kinds[model.KindUnknownTimeframe] != 2 {
		t.Errorf("expected 2 unknown_timeframe errors, got %v", kinds)
	}
	if kinds[model.KindUnknownIndicator] != 1 {
		t.Errorf("expected 1 unknown_indicator error, got %v", kinds)
	}

	var data AckData
	json.Unmarshal(ack.Data, &data)
	if len(data.Timeframes) != 1 || data.Timeframes[0] != "1m" {
		t.Errorf("valid items should proceed: %+v", data)
	}
	if subs := hub.Registry.Matching("INFY", model.TF1m); len(subs) != 1 {
		t.Errorf("expected one registered client, got %d", len(subs))
	}
}

func TestHub_MalformedAndPing(t *testing.T) {
	_, conn := startHub(t)

	conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
	msg, _ := readUntil(t, conn, TypeError)
	var e ErrorData
	json.Unmarshal(msg.Data, &e)
	if e.Kind != model.KindMalformedInput {
		t.Errorf("expected malformed_input, got %s", e.Kind)
	}

	send(t, conn, map[string]any{"type": "bogus"})
	readUntil(t, conn, TypeError)

	send(t, conn, map[string]any{"type": "ping"})
	readUntil(t, conn, TypePong)
}

func TestHub_DisconnectRemovesSubscriptions(t *testing.T) {
	hub, conn := startHub(t)

	send(t, conn, map[string]any{
		"type": "subscription",
		"data": map[string]any{"action": "subscribe", "symbols": []string{"TCS"}, "timeframes": []string{"5m"}},
	})
	readUntil(t, conn, TypeAck)

	conn.Close()
	waitFor(t, func() bool { return hub.ClientCount() == 0 })
	if n := len(hub.Registry.Matching("TCS", model.TF5m)); n != 0 {
		t.Errorf("disconnected client still subscribed")
	}
}

func TestHub_LatestCandleAfterAck(t *testing.T) {
	hub, conn := startHub(t)
	hub.Latest = func(symbol string, tf model.Timeframe) (model.Candle, bool) {
		ev := candleEvent(symbol, tf, 42)
		return *ev.Candle, true
	}

	send(t, conn, map[string]any{
		"type": "subscription",
		"data": map[string]any{"action": "subscribe", "symbols": []string{"INFY"}, "timeframes": []string{"1m"}},
	})
	msg, seen := readUntil(t, conn, TypeCandle)
	if seen[0].Type != TypeAck {
		t.Errorf("ack must precede the snapshot candle, first was %s", seen[0].Type)
	}
	var c CandleData
	json.Unmarshal(msg.Data, &c)
	if c.Close != 42 {
		t.Errorf("latest candle close: %v", c.Close)
	}
}
