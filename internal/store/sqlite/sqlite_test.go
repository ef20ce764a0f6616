package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"tickinsight/internal/model"
)

var t0 = time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)

func candle(i int, closed bool) model.Candle {
	p := 100 + float64(i)
	return model.Candle{
		Symbol: "INFY", Exchange: "NSE", TF: model.TF1m,
		OpenTime: t0.Add(time.Duration(i) * time.Minute),
		Open:     p, High: p + 2, Low: p - 1, Close: p + 1,
		Volume: 10, Ticks: 3, Closed: closed,
	}
}

func openPair(t *testing.T) (*Writer, *Reader) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "candles.db")
	w, err := New(WriterConfig{DBPath: path, BatchSize: 4, FlushDelay: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return w, r
}

func TestWriter_PublishAndRead(t *testing.T) {
	w, r := openPair(t)

	var committed int
	w.OnCommit = func(n int, _ time.Duration) { committed += n }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	for i := 0; i < 10; i++ {
		c := candle(i, true)
		w.Publish(model.Event{Kind: model.EventCandle, Symbol: "INFY", TF: model.TF1m, Candle: &c})
	}
	// Ignored: forming candle and indicator event.
	forming := candle(10, false)
	w.Publish(model.Event{Kind: model.EventCandle, Candle: &forming})
	w.Publish(model.Event{Kind: model.EventIndicators, Symbol: "INFY", TF: model.TF1m})

	cancel()
	<-done

	if committed != 10 {
		t.Fatalf("committed %d candles, want 10", committed)
	}

	got, err := r.GetCandles(context.Background(), "INFY", "NSE", model.TF1m, model.Range{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 10 {
		t.Fatalf("read %d candles, want 10", len(got))
	}
	for i, c := range got {
		want := candle(i, true)
		if !c.OpenTime.Equal(want.OpenTime) || c.Open != want.Open || c.High != want.High ||
			c.Low != want.Low || c.Close != want.Close || c.Volume != want.Volume ||
			c.Ticks != want.Ticks || !c.Closed || c.TF != want.TF {
			t.Fatalf("candle %d: got %+v, want %+v", i, c, want)
		}
	}
}

func TestReader_RangeHalfOpen(t *testing.T) {
	w, r := openPair(t)
	var batch []model.Candle
	for i := 0; i < 6; i++ {
		batch = append(batch, candle(i, true))
	}
	if err := w.InsertBatch(batch); err != nil {
		t.Fatal(err)
	}

	rng := model.Range{From: t0.Add(time.Minute), To: t0.Add(4 * time.Minute)}
	got, err := r.GetCandles(context.Background(), "INFY", "NSE", model.TF1m, rng)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 candles in [1m,4m), got %d", len(got))
	}
	if !got[0].OpenTime.Equal(rng.From) || !got[2].OpenTime.Equal(t0.Add(3*time.Minute)) {
		t.Errorf("range bounds wrong: %v .. %v", got[0].OpenTime, got[2].OpenTime)
	}

	other, err := r.GetCandles(context.Background(), "TCS", "NSE", model.TF1m, model.Range{})
	if err != nil || len(other) != 0 {
		t.Errorf("unknown series: got %d candles err=%v", len(other), err)
	}
}

func TestWriter_UpsertReplaces(t *testing.T) {
	w, r := openPair(t)
	c := candle(0, true)
	if err := w.InsertBatch([]model.Candle{c}); err != nil {
		t.Fatal(err)
	}
	c.Close = 250
	c.High = 250
	if err := w.InsertBatch([]model.Candle{c}); err != nil {
		t.Fatal(err)
	}

	got, _ := r.GetCandles(context.Background(), "INFY", "NSE", model.TF1m, model.Range{})
	if len(got) != 1 || got[0].Close != 250 {
		t.Fatalf("expected single replaced candle, got %+v", got)
	}

	last, err := w.LastOpenTime("NSE", "INFY", model.TF1m)
	if err != nil || !last.Equal(t0) {
		t.Errorf("LastOpenTime: got %v err=%v", last, err)
	}
}

func TestReader_Series(t *testing.T) {
	w, r := openPair(t)
	batch := []model.Candle{candle(0, true), candle(1, true)}
	five := candle(0, true)
	five.TF = model.TF5m
	batch = append(batch, five)
	if err := w.InsertBatch(batch); err != nil {
		t.Fatal(err)
	}

	series, err := r.Series(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(series) != 2 {
		t.Fatalf("expected 2 series, got %+v", series)
	}
	if series[0].TF != model.TF1m || series[0].Count != 2 || !series[0].Last.Equal(t0.Add(time.Minute)) {
		t.Errorf("1m series: %+v", series[0])
	}
}

func TestReader_CancelledContext(t *testing.T) {
	_, r := openPair(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.GetCandles(ctx, "INFY", "NSE", model.TF1m, model.Range{})
	if !errors.Is(err, model.ErrUpstreamUnavailable) {
		t.Fatalf("expected UpstreamUnavailable, got %v", err)
	}
}

func TestWriter_DropsWhenStopped(t *testing.T) {
	w, _ := openPair(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.Run(ctx)

	drops := 0
	w.OnDrop = func() { drops++ }
	c := candle(0, true)
	w.Publish(model.Event{Kind: model.EventCandle, Candle: &c})
	if drops != 0 {
		t.Errorf("publish after stop is silently ignored, got %d drops", drops)
	}
}
