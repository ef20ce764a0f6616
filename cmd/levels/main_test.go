package main

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"tickinsight/internal/indicator"
	"tickinsight/internal/levels"
	"tickinsight/internal/model"
	sqlitestore "tickinsight/internal/store/sqlite"
)

var t0 = time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)

// seedDB stores 30 flat 5m candles with a spike to 120 at index 15.
func seedDB(t *testing.T) *sqlitestore.Reader {
	t.Helper()
	path := filepath.Join(t.TempDir(), "candles.db")
	w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: path})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	candles := make([]model.Candle, 30)
	for i := range candles {
		high := 101.0
		if i == 15 {
			high = 120
		}
		candles[i] = model.Candle{
			Symbol: "INFY", Exchange: "NSE", TF: model.TF5m,
			OpenTime: t0.Add(time.Duration(i) * 5 * time.Minute),
			Open:     100, High: high, Low: 99, Close: 100,
			Volume: 10, Ticks: 1, Closed: true,
		}
	}
	if err := w.InsertBatch(candles); err != nil {
		t.Fatal(err)
	}
	r, err := sqlitestore.NewReader(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestAnalyze(t *testing.T) {
	r := seedDB(t)
	ctx := context.Background()

	series, err := r.Series(ctx)
	if err != nil {
		t.Fatal(err)
	}
	targets := selectSeries(series, "INFY", model.TF5m)
	if len(targets) != 1 {
		t.Fatalf("expected one INFY 5m series, got %d", len(targets))
	}

	opts := options{
		Lookback:   20,
		Indicators: []indicator.Spec{indicator.MustSpec("sma:5"), indicator.MustSpec("nope:3")},
		Detector:   levels.Detector{K: 2, Tolerance: 0.5, ATRPeriod: 14},
		Variant:    levels.Standard,
	}
	rep, err := analyze(ctx, r, indicator.NewEngine(indicator.NewRegistry()), targets[0], opts)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Candles != 20 {
		t.Errorf("lookback not applied: %d candles", rep.Candles)
	}
	if v, ok := rep.Indicators["sma:5"].(float64); !ok || v != 100 {
		t.Errorf("sma:5 = %v", rep.Indicators["sma:5"])
	}
	if _, ok := rep.Errors["nope:3"]; !ok {
		t.Errorf("unknown indicator should be reported, errors=%v", rep.Errors)
	}
	if len(rep.Levels.Resistance) != 1 || rep.Levels.Resistance[0].Price != 120 {
		t.Errorf("resistance: %+v", rep.Levels.Resistance)
	}
	if rep.Pivots == nil {
		t.Fatal("expected pivots")
	}
	if p, _ := rep.Pivots.Get("P"); p == 0 {
		t.Errorf("pivot P missing: %+v", rep.Pivots)
	}
}

func TestAnalyze_EmptyRange(t *testing.T) {
	r := seedDB(t)
	ctx := context.Background()
	series, _ := r.Series(ctx)

	opts := options{Range: model.Range{From: t0.Add(24 * time.Hour)}, Detector: levels.DefaultDetector()}
	_, err := analyze(ctx, r, indicator.NewEngine(indicator.NewRegistry()), series[0], opts)
	if !errors.Is(err, model.ErrInsufficientData) {
		t.Fatalf("expected InsufficientData, got %v", err)
	}
}

func TestSelectSeries(t *testing.T) {
	all := []sqlitestore.SeriesInfo{
		{Symbol: "TCS", TF: model.TF1m},
		{Symbol: "INFY", TF: model.TF5m},
		{Symbol: "INFY", TF: model.TF1m},
	}
	got := selectSeries(all, "", model.Timeframe{})
	if len(got) != 3 || got[0].Symbol != "INFY" || got[0].TF != model.TF1m || got[2].Symbol != "TCS" {
		t.Errorf("ordering: %+v", got)
	}
	if got := selectSeries(all, "INFY", model.TF5m); len(got) != 1 {
		t.Errorf("filter: %+v", got)
	}
}
