package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"tickinsight/internal/model"
)

// TickStreamConfig configures the tick stream consumer.
type TickStreamConfig struct {
	Stream   string // e.g. "ticks"
	Group    string // consumer group, e.g. "insightd"
	Consumer string // unique consumer name, e.g. hostname
	Exchange string // used when an entry carries none
}

// TickStream reads ticks from a Redis stream through a consumer group. It
// implements model.TickSource. Entries are acknowledged once submitted, and
// also when they cannot be parsed so a bad entry is not redelivered forever.
type TickStream struct {
	client *goredis.Client
	cfg    TickStreamConfig

	// Hooks (optional)
	OnInvalid func(err error)
}

// NewTickStream creates a consumer on an existing client.
func NewTickStream(client *goredis.Client, cfg TickStreamConfig) *TickStream {
	if cfg.Stream == "" {
		cfg.Stream = "ticks"
	}
	if cfg.Group == "" {
		cfg.Group = "insightd"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "worker-1"
	}
	return &TickStream{client: client, cfg: cfg}
}

// EnsureGroup creates the consumer group (and the stream) if missing. A fresh
// group starts at "$", i.e. only new entries.
func (s *TickStream) EnsureGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.cfg.Stream, s.cfg.Group, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return model.Wrap(model.KindUpstreamUnavailable, err, "xgroup create "+s.cfg.Stream)
	}
	return nil
}

// Start consumes until ctx is cancelled. Pending entries left by a previous
// run of this consumer are processed first.
func (s *TickStream) Start(ctx context.Context, submit func(model.Tick) error) error {
	if err := s.EnsureGroup(ctx); err != nil {
		return err
	}
	log.Printf("[redis-ticks] consuming %s (group=%s, consumer=%s)", s.cfg.Stream, s.cfg.Group, s.cfg.Consumer)

	if err := s.consume(ctx, "0", submit); err != nil {
		return err
	}
	for ctx.Err() == nil {
		if err := s.consume(ctx, ">", submit); err != nil {
			return err
		}
	}
	return nil
}

// consume runs one XREADGROUP. With id "0" it drains this consumer's pending
// list; with ">" it blocks for new entries.
func (s *TickStream) consume(ctx context.Context, id string, submit func(model.Tick) error) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		block := 2 * time.Second
		if id == "0" {
			block = -1
		}
		results, err := s.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    s.cfg.Group,
			Consumer: s.cfg.Consumer,
			Streams:  []string{s.cfg.Stream, id},
			Count:    100,
			Block:    block,
		}).Result()
		if err != nil {
			if err == goredis.Nil {
				if id == "0" {
					return nil
				}
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("[redis-ticks] xreadgroup error: %v", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}

		n := 0
		for _, stream := range results {
			for _, msg := range stream.Messages {
				n++
				s.handle(ctx, msg, submit)
			}
		}
		if id == "0" && n == 0 {
			return nil
		}
		if id == ">" {
			return nil
		}
	}
}

func (s *TickStream) handle(ctx context.Context, msg goredis.XMessage, submit func(model.Tick) error) {
	t, err := ParseTick(msg.Values, s.cfg.Exchange)
	if err == nil {
		err = submit(t)
	}
	if err != nil && s.OnInvalid != nil {
		s.OnInvalid(err)
	}
	if err := s.client.XAck(ctx, s.cfg.Stream, s.cfg.Group, msg.ID).Err(); err != nil && ctx.Err() == nil {
		log.Printf("[redis-ticks] xack %s: %v", msg.ID, err)
	}
}

// PublishTick appends a tick to a stream as a JSON "data" field.
func PublishTick(ctx context.Context, client *goredis.Client, stream string, t model.Tick) error {
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return client.XAdd(ctx, &goredis.XAddArgs{
		Stream: stream,
		MaxLen: 100000,
		Approx: true,
		Values: map[string]interface{}{"data": string(b)},
	}).Err()
}

// ParseTick decodes a stream entry. Two layouts are accepted: a JSON tick in a
// "data" field, or flat fields symbol, exchange, price, volume and ts (unix
// milliseconds or RFC3339).
func ParseTick(values map[string]interface{}, exchange string) (model.Tick, error) {
	var t model.Tick
	if data, ok := values["data"].(string); ok {
		if err := json.Unmarshal([]byte(data), &t); err != nil {
			return t, model.Wrap(model.KindMalformedInput, err, "tick json")
		}
	} else {
		t.Symbol, _ = values["symbol"].(string)
		t.Exchange, _ = values["exchange"].(string)
		var err error
		if t.Price, err = floatField(values, "price"); err != nil {
			return t, err
		}
		if _, ok := values["volume"]; ok {
			if t.Volume, err = floatField(values, "volume"); err != nil {
				return t, err
			}
		}
		ts, _ := values["ts"].(string)
		if t.TS, err = parseTS(ts); err != nil {
			return t, err
		}
	}

	t.Symbol = strings.ToUpper(strings.TrimSpace(t.Symbol))
	if t.Exchange == "" {
		t.Exchange = exchange
	}
	if err := t.Validate(); err != nil {
		return t, err
	}
	return t, nil
}

func floatField(values map[string]interface{}, name string) (float64, error) {
	raw, _ := values[name].(string)
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, model.Errorf(model.KindMalformedInput, "tick field %s=%q is not a number", name, raw)
	}
	return v, nil
}

func parseTS(raw string) (time.Time, error) {
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, model.Errorf(model.KindMalformedInput, "tick field ts=%q: %v", raw, err)
	}
	return ts.UTC(), nil
}

func (s *TickStream) String() string {
	return fmt.Sprintf("redis-ticks(%s/%s)", s.cfg.Stream, s.cfg.Group)
}
