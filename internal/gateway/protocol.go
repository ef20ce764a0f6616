package gateway

import (
	"encoding/json"
	"time"

	"tickinsight/internal/model"
)

// ── WS protocol ──
// Every frame is a JSON object {"type": ..., "data": ...}. The write pump may
// coalesce several queued messages into one frame separated by '\n'.

// Message types.
const (
	TypeSubscription = "subscription"
	TypePing         = "ping"

	TypeCandle    = "candle"
	TypeIndicator = "indicator"
	TypeAck       = "ack"
	TypeError     = "error"
	TypeGap       = "gap"
	TypePong      = "pong"
)

// Subscription actions.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

// Inbound is a client → server message.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// SubscriptionData is the payload of a "subscription" message. The request
// covers every symbol × timeframe pair.
type SubscriptionData struct {
	Action     string   `json:"action"`
	Symbols    []string `json:"symbols"`
	Timeframes []string `json:"timeframes"`
	Indicators []string `json:"indicators,omitempty"`
}

// Outbound is a server → client message.
type Outbound struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// CandleData is the payload of a "candle" message.
type CandleData struct {
	Symbol    string          `json:"symbol"`
	Timeframe model.Timeframe `json:"timeframe"`
	Timestamp time.Time       `json:"timestamp"`
	Open      float64         `json:"open"`
	High      float64         `json:"high"`
	Low       float64         `json:"low"`
	Close     float64         `json:"close"`
	Volume    float64         `json:"volume"`
}

// IndicatorData is the payload of an "indicator" message. Values are numbers,
// arrays for multi-output indicators, or null while data is insufficient.
type IndicatorData struct {
	Symbol     string          `json:"symbol"`
	Timeframe  model.Timeframe `json:"timeframe"`
	Timestamp  time.Time       `json:"timestamp"`
	Indicators map[string]any  `json:"indicators"`
}

// AckData echoes what a subscription request actually applied.
type AckData struct {
	Action     string   `json:"action"`
	Symbols    []string `json:"symbols"`
	Timeframes []string `json:"timeframes"`
	Indicators []string `json:"indicators"`
}

// ErrorData carries a classified error.
type ErrorData struct {
	Kind   model.Kind `json:"kind"`
	Detail string     `json:"detail"`
}

// GapData tells a slow client how many messages it lost since the last gap notice.
type GapData struct {
	Dropped uint64 `json:"dropped"`
}

// PongData answers a ping.
type PongData struct {
	ServerTS int64 `json:"server_ts"`
}

func encode(typ string, data any) []byte {
	b, err := json.Marshal(Outbound{Type: typ, Data: data})
	if err != nil {
		b, _ = json.Marshal(Outbound{Type: TypeError, Data: ErrorData{Kind: model.KindInternal, Detail: err.Error()}})
	}
	return b
}

func candleMessage(c *model.Candle) []byte {
	return encode(TypeCandle, CandleData{
		Symbol:    c.Symbol,
		Timeframe: c.TF,
		Timestamp: c.OpenTime,
		Open:      c.Open,
		High:      c.High,
		Low:       c.Low,
		Close:     c.Close,
		Volume:    c.Volume,
	})
}

func indicatorMessage(ev *model.Event, values map[string]any) []byte {
	return encode(TypeIndicator, IndicatorData{
		Symbol:     ev.Symbol,
		Timeframe:  ev.TF,
		Timestamp:  ev.TS,
		Indicators: values,
	})
}

func errorMessage(err error) []byte {
	return encode(TypeError, ErrorData{Kind: model.KindOf(err), Detail: model.DetailOf(err)})
}

func gapMessage(dropped uint64) []byte {
	return encode(TypeGap, GapData{Dropped: dropped})
}
