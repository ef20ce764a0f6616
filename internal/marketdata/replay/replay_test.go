package replay

import (
	"context"
	"errors"
	"testing"
	"time"

	"tickinsight/internal/marketdata/agg"
	"tickinsight/internal/model"
)

type fakeHistory struct {
	candles map[string][]model.Candle
	err     error
}

func (f *fakeHistory) GetCandles(ctx context.Context, symbol, exchange string, tf model.Timeframe, r model.Range) ([]model.Candle, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.candles[symbol], nil
}

var t0 = time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)

func candle(sym string, i int, o, h, l, c float64) model.Candle {
	return model.Candle{
		Symbol: sym, Exchange: "NSE", TF: model.TF1m,
		OpenTime: t0.Add(time.Duration(i) * time.Minute),
		Open:     o, High: h, Low: l, Close: c, Volume: 40, Closed: true,
	}
}

func TestTicks_RebuildCandle(t *testing.T) {
	for _, c := range []model.Candle{
		candle("INFY", 0, 100, 105, 98, 102),
		candle("INFY", 1, 102, 104, 95, 96),
	} {
		a := agg.New("INFY", "NSE", []model.Timeframe{model.TF1m})
		for _, tk := range Ticks(c) {
			if _, err := a.Ingest(tk); err != nil {
				t.Fatal(err)
			}
		}
		got := a.Flush()[0]
		if got.Open != c.Open || got.High != c.High || got.Low != c.Low || got.Close != c.Close || got.Volume != c.Volume {
			t.Errorf("replayed %+v, want %+v", got, c)
		}
		if !got.OpenTime.Equal(c.OpenTime) {
			t.Errorf("bucket %v, want %v", got.OpenTime, c.OpenTime)
		}
	}
}

func TestReplayer_InterleavesSymbols(t *testing.T) {
	src := &fakeHistory{candles: map[string][]model.Candle{
		"INFY": {candle("INFY", 0, 1, 2, 0.5, 1.5), candle("INFY", 1, 1, 2, 0.5, 1.5)},
		"TCS":  {candle("TCS", 0, 1, 2, 0.5, 1.5)},
	}}
	r := New(src, Config{Symbols: []string{"INFY", "TCS"}, Exchange: "NSE"})

	var got []model.Tick
	err := r.Start(context.Background(), func(tk model.Tick) error {
		got = append(got, tk)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 12 {
		t.Fatalf("expected 12 ticks, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].TS.Before(got[i-1].TS) {
			t.Fatalf("ticks out of order at %d", i)
		}
	}
}

func TestReplayer_SourceFailure(t *testing.T) {
	r := New(&fakeHistory{err: errors.New("disk gone")}, Config{Symbols: []string{"INFY"}})
	err := r.Start(context.Background(), func(model.Tick) error { return nil })
	if !errors.Is(err, model.ErrUpstreamUnavailable) {
		t.Fatalf("expected UpstreamUnavailable, got %v", err)
	}
}
