package influx

import (
	"strings"
	"testing"
	"time"

	"tickinsight/internal/model"
)

var t0 = time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)

func TestCandlePoint(t *testing.T) {
	c := model.Candle{Symbol: "INFY", Exchange: "NSE", TF: model.TF5m, OpenTime: t0,
		Open: 100, High: 105, Low: 98, Close: 102, Volume: 40, Ticks: 4, Closed: true}
	p := candlePoint(&c)

	if p.Name() != candleMeasurement {
		t.Errorf("measurement: got %q", p.Name())
	}
	if !p.Time().Equal(t0) {
		t.Errorf("time: got %v", p.Time())
	}

	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	if tags["symbol"] != "INFY" || tags["exchange"] != "NSE" || tags["timeframe"] != "5m" {
		t.Errorf("tags: %v", tags)
	}

	fields := map[string]interface{}{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	if fields["close"] != 102.0 || fields["high"] != 105.0 || fields["ticks"] != int64(4) {
		t.Errorf("fields: %v", fields)
	}
}

func TestIndicatorPoint(t *testing.T) {
	ev := model.Event{
		Kind: model.EventIndicators, Symbol: "INFY", Exchange: "NSE", TF: model.TF1m, TS: t0,
		Indicators: map[string]any{
			"rsi:14":       55.5,
			"macd:12,26,9": []float64{1, 2, 3},
			"sma:200":      nil,
		},
	}
	p := indicatorPoint(ev)
	if p == nil {
		t.Fatal("expected a point")
	}

	fields := map[string]interface{}{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	if len(fields) != 4 {
		t.Fatalf("expected 4 fields, got %v", fields)
	}
	if fields["rsi:14"] != 55.5 || fields["macd:12,26,9[2]"] != 3.0 {
		t.Errorf("fields: %v", fields)
	}
	if _, ok := fields["sma:200"]; ok {
		t.Error("nil indicator must not be written")
	}

	empty := model.Event{Kind: model.EventIndicators, Indicators: map[string]any{"sma:200": nil}}
	if indicatorPoint(empty) != nil {
		t.Error("all-nil indicator set should produce no point")
	}
}

func TestCandleQuery(t *testing.T) {
	q := candleQuery("candles", "INFY", "NSE", model.TF1m, model.Range{From: t0, To: t0.Add(time.Hour)})
	for _, want := range []string{
		`from(bucket: "candles")`,
		"range(start: 2026-03-02T09:15:00Z, stop: 2026-03-02T10:15:00Z)",
		`r.symbol == "INFY"`,
		`r.timeframe == "1m"`,
		"pivot(",
	} {
		if !strings.Contains(q, want) {
			t.Errorf("query missing %q:\n%s", want, q)
		}
	}

	open := candleQuery("candles", "INFY", "NSE", model.TF1m, model.Range{})
	if !strings.Contains(open, "range(start: 0, stop: now())") {
		t.Errorf("unbounded range:\n%s", open)
	}
}
