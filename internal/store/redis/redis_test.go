package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tickinsight/internal/model"
)

type fakeWriter struct {
	mu   sync.Mutex
	fail bool
	got  []model.Event
}

func (f *fakeWriter) Write(_ context.Context, ev model.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("connection refused")
	}
	f.got = append(f.got, ev)
	return nil
}

func (f *fakeWriter) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *fakeWriter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.got)
}

func closedEvent(i int) model.Event {
	c := model.Candle{Symbol: "INFY", Exchange: "NSE", TF: model.TF1m,
		OpenTime: time.Unix(int64(i)*60, 0).UTC(), Open: 1, High: 1, Low: 1, Close: 1, Closed: true}
	return model.Event{Kind: model.EventCandle, Symbol: "INFY", Exchange: "NSE", TF: model.TF1m, Candle: &c}
}

func TestBufferedWriter_BuffersWhileOpenAndFlushes(t *testing.T) {
	fw := &fakeWriter{}
	cb, clock := newTestBreaker(2)
	flushed := make(chan int, 1)
	bw := NewBufferedWriter(context.Background(), fw, cb, 3)
	bw.OnFlush = func(n int) { flushed <- n }

	fw.setFail(true)
	bw.Publish(closedEvent(0))
	bw.Publish(closedEvent(1))
	if cb.CurrentState() != StateOpen {
		t.Fatalf("expected breaker open, got %v", cb.CurrentState())
	}

	for i := 2; i < 7; i++ {
		bw.Publish(closedEvent(i))
	}
	forming := closedEvent(7)
	forming.Candle.Closed = false
	bw.Publish(forming)

	if got := bw.PendingCount(); got != 3 {
		t.Fatalf("buffer must hold its capacity (3), got %d", got)
	}

	fw.setFail(false)
	clock.advance(2 * time.Second)
	bw.Publish(closedEvent(8))

	select {
	case n := <-flushed:
		if n != 3 {
			t.Errorf("flushed %d, want 3", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("buffer was not flushed after the breaker closed")
	}

	// probe + 3 replayed, oldest dropped: 4,5,6 survive
	if fw.count() != 4 {
		t.Fatalf("writer saw %d events, want 4", fw.count())
	}
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.got[1].Candle.OpenTime.Unix() != 4*60 {
		t.Errorf("first replayed event should be #4, got %v", fw.got[1].Candle.OpenTime)
	}
}

func TestBufferedWriter_OnWrite(t *testing.T) {
	fw := &fakeWriter{}
	cb, _ := newTestBreaker(2)
	bw := NewBufferedWriter(context.Background(), fw, cb, 0)
	writes := 0
	bw.OnWrite = func(time.Duration) { writes++ }

	bw.Publish(closedEvent(0))
	bw.Publish(model.Event{Kind: model.EventIndicators, Symbol: "INFY", TF: model.TF1m})
	if writes != 2 || fw.count() != 2 {
		t.Errorf("writes=%d events=%d, want 2/2", writes, fw.count())
	}
}

func TestParseTick(t *testing.T) {
	tests := []struct {
		name   string
		values map[string]interface{}
		want   model.Tick
	}{
		{
			name:   "json",
			values: map[string]interface{}{"data": `{"symbol":"infy","price":101.5,"volume":3,"timestamp":"2026-03-02T09:15:00Z"}`},
			want:   model.Tick{Symbol: "INFY", Exchange: "NSE", Price: 101.5, Volume: 3, TS: time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)},
		},
		{
			name:   "flat millis",
			values: map[string]interface{}{"symbol": "TCS", "exchange": "BSE", "price": "3900.25", "volume": "10", "ts": "1772442900000"},
			want:   model.Tick{Symbol: "TCS", Exchange: "BSE", Price: 3900.25, Volume: 10, TS: time.UnixMilli(1772442900000).UTC()},
		},
		{
			name:   "flat rfc3339 no volume",
			values: map[string]interface{}{"symbol": "TCS", "price": "1", "ts": "2026-03-02T09:15:00Z"},
			want:   model.Tick{Symbol: "TCS", Exchange: "NSE", Price: 1, TS: time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTick(tt.values, "NSE")
			if err != nil {
				t.Fatal(err)
			}
			if got.Symbol != tt.want.Symbol || got.Exchange != tt.want.Exchange ||
				got.Price != tt.want.Price || got.Volume != tt.want.Volume || !got.TS.Equal(tt.want.TS) {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseTick_Malformed(t *testing.T) {
	bad := []map[string]interface{}{
		{"data": "{not json"},
		{"symbol": "TCS", "price": "abc", "ts": "1"},
		{"symbol": "TCS", "price": "1", "ts": "yesterday"},
		{"symbol": "", "price": "1", "ts": "1"},
		{"symbol": "TCS", "price": "NaN", "ts": "1"},
	}
	for i, v := range bad {
		if _, err := ParseTick(v, "NSE"); !errors.Is(err, model.ErrMalformedInput) {
			t.Errorf("case %d: expected MalformedInput, got %v", i, err)
		}
	}
}

func TestStreamKeys(t *testing.T) {
	if got := seriesSuffix("NSE", "INFY", model.TF5m); got != "NSE:INFY:5m" {
		t.Errorf("suffix: got %q", got)
	}
	if got := streamMaxLen(model.TF1m); got != 280 {
		t.Errorf("1m maxlen: got %d, want 280", got)
	}
	if got := streamMaxLen(model.MustTimeframe("1h")); got != 200 {
		t.Errorf("1h maxlen: got %d, want 200", got)
	}
}
