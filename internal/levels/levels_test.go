package levels

import (
	"errors"
	"math"
	"testing"
	"time"

	"tickinsight/internal/model"
)

var t0 = time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)

// bars builds candles from (high, low) pairs with open/close mid-range; the
// last candle opens and closes at lastClose.
func bars(hl [][2]float64, lastClose float64) []model.Candle {
	out := make([]model.Candle, len(hl))
	for i, p := range hl {
		mid := (p[0] + p[1]) / 2
		out[i] = model.Candle{
			Symbol: "INFY", TF: model.TF1m,
			OpenTime: t0.Add(time.Duration(i) * time.Minute),
			Open:     mid, High: p[0], Low: p[1], Close: mid,
			Closed: true,
		}
	}
	if n := len(out); n > 0 {
		out[n-1].Close = lastClose
		out[n-1].Open = lastClose
	}
	return out
}

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f", label, got, want)
	}
}

func TestDetect_SinglePeak(t *testing.T) {
	// Highs rise to one peak and fall; lows mirror the highs so there is no valley.
	candles := bars([][2]float64{
		{10, 9}, {11, 10}, {12, 11}, {15, 14}, {12, 11}, {11, 10}, {10, 9},
	}, 9.5)

	d := Detector{K: 2, Tolerance: 0.5, ATRPeriod: 14}
	res := d.Detect(candles, 0)

	if len(res.Resistance) != 1 {
		t.Fatalf("expected exactly one resistance level, got %d: %+v", len(res.Resistance), res.Resistance)
	}
	lv := res.Resistance[0]
	if lv.Price != 15 || lv.Kind != model.Resistance || lv.Touches != 1 {
		t.Errorf("resistance: %+v", lv)
	}
	if lv.LastTouchIndex != 3 || !lv.LastTouchTime.Equal(candles[3].OpenTime) {
		t.Errorf("last touch: idx=%d time=%v", lv.LastTouchIndex, lv.LastTouchTime)
	}
	if len(res.Support) != 0 {
		t.Errorf("no valley, expected no support: %+v", res.Support)
	}
	if res.Price != 9.5 || res.CandlesUsed != 7 {
		t.Errorf("price=%v used=%d", res.Price, res.CandlesUsed)
	}
}

func TestDetect_TooFewCandles(t *testing.T) {
	candles := bars([][2]float64{{10, 9}, {15, 14}, {10, 9}, {9, 8}}, 9)
	res := Detector{K: 2}.Detect(candles, 0)
	if res.Support == nil || res.Resistance == nil {
		t.Fatal("lists must be empty, not nil")
	}
	if len(res.Support)+len(res.Resistance) != 0 {
		t.Fatalf("fewer than 2k+1 candles must yield no levels: %+v", res)
	}
	if res.CandlesUsed != 4 {
		t.Errorf("candles used: %d", res.CandlesUsed)
	}

	empty := Detector{K: 2}.Detect(nil, 0)
	if len(empty.Support)+len(empty.Resistance) != 0 || empty.Price != 0 {
		t.Errorf("empty input: %+v", empty)
	}
}

func TestFindSwings_PlateauIsNotSwing(t *testing.T) {
	// Two equal adjacent highs: neither beats the other strictly.
	candles := bars([][2]float64{
		{10, 9}, {11, 10}, {15, 14}, {15, 14}, {11, 10}, {10, 9},
	}, 9.5)
	highs, _ := FindSwings(candles, 1)
	if len(highs) != 0 {
		t.Fatalf("plateau produced swings: %+v", highs)
	}
}

func TestDetect_SupportAndClustering(t *testing.T) {
	// Two valleys at 90 and 90.2, one peak at 110, price ends at 100.
	candles := bars([][2]float64{
		{100, 95}, {99, 93}, {95, 90}, {99, 93}, {104, 98},
		{110, 105}, {104, 98}, {98, 92}, {95, 90.2}, {98, 92}, {101, 96},
	}, 100)

	d := Detector{K: 2, Tolerance: 0.5, ATRPeriod: 14}
	res := d.Detect(candles, 0)

	if len(res.Support) != 1 {
		t.Fatalf("valleys within tolerance should merge into one support: %+v", res.Support)
	}
	s := res.Support[0]
	if s.Touches != 2 || s.Strength != 2 {
		t.Errorf("support touches=%d strength=%v", s.Touches, s.Strength)
	}
	assertClose(t, "support price", s.Price, 90.1, 1e-9)
	if s.Low != 90 || s.High != 90.2 || s.LastTouchIndex != 8 {
		t.Errorf("support zone: %+v", s)
	}
	if len(res.Resistance) != 1 || res.Resistance[0].Price != 110 {
		t.Errorf("resistance: %+v", res.Resistance)
	}

	// Zero tolerance keeps the valleys apart.
	d.Tolerance = 0
	if got := d.Detect(candles, 0); len(got.Support) != 2 {
		t.Errorf("zero tolerance: expected 2 supports, got %d", len(got.Support))
	}
}

func TestDetect_WrongSideDiscarded(t *testing.T) {
	// Peak at 105 but the price closes at 120 above it: not resistance.
	candles := bars([][2]float64{
		{100, 95}, {101, 96}, {105, 100}, {101, 96}, {100, 95}, {121, 119},
	}, 120)
	res := Detector{K: 2, Tolerance: 0.1, ATRPeriod: 14}.Detect(candles, 0)
	if len(res.Resistance) != 0 {
		t.Fatalf("swing high below price must not be resistance: %+v", res.Resistance)
	}
}

func TestDetect_RecencyWeighting(t *testing.T) {
	candles := bars([][2]float64{
		{100, 95}, {101, 96}, {110, 105}, {101, 96}, {100, 95},
		{101, 96}, {120, 115}, {101, 96}, {100, 95}, {99, 94},
	}, 97)

	plain := Detector{K: 2, Tolerance: 0}.Detect(candles, 0)
	if len(plain.Resistance) != 2 {
		t.Fatalf("expected 2 resistances, got %+v", plain.Resistance)
	}
	// Equal strength: the more recent touch ranks first.
	if plain.Resistance[0].Price != 120 {
		t.Errorf("tie should favour the recent level, got %v first", plain.Resistance[0].Price)
	}

	weighted := Detector{K: 2, Tolerance: 0, RecencyWeighted: true}.Detect(candles, 0)
	r := weighted.Resistance
	assertClose(t, "recent weight", r[0].Strength, 0.5+0.5*7.0/10.0, 1e-9)
	assertClose(t, "older weight", r[1].Strength, 0.5+0.5*3.0/10.0, 1e-9)
}

func TestDetect_Lookback(t *testing.T) {
	candles := bars([][2]float64{
		{10, 9}, {11, 10}, {15, 14}, {11, 10}, {10, 9},
		{10, 9}, {10.5, 9.5}, {12, 11}, {10.5, 9.5}, {10, 9},
	}, 9.5)
	res := Detector{K: 2}.Detect(candles, 5)
	if res.CandlesUsed != 5 {
		t.Fatalf("candles used: %d", res.CandlesUsed)
	}
	if len(res.Resistance) != 1 || res.Resistance[0].Price != 12 {
		t.Errorf("lookback should only see the last peak: %+v", res.Resistance)
	}
	if res.Resistance[0].LastTouchIndex != 2 {
		t.Errorf("indexes are relative to the lookback slice: %d", res.Resistance[0].LastTouchIndex)
	}
}

func TestNearest(t *testing.T) {
	res := Result{
		Resistance: []model.Level{{Price: 120, Strength: 5}, {Price: 103, Strength: 1}},
		Support:    []model.Level{{Price: 98, Strength: 1}, {Price: 80, Strength: 9}},
	}
	// 120 and 80 are equally far; the stronger one wins the tie.
	got := Nearest(res, 100, 3)
	want := []float64{98, 103, 80}
	if len(got) != len(want) {
		t.Fatalf("len: %d", len(got))
	}
	for i, w := range want {
		if got[i].Price != w {
			t.Errorf("nearest[%d] = %v, want %v", i, got[i].Price, w)
		}
	}
	if all := Nearest(res, 100, 0); len(all) != 4 {
		t.Errorf("n=0 returns all, got %d", len(all))
	}
}

func TestPivots(t *testing.T) {
	bar := Bar{High: 110, Low: 90, Close: 105}
	p := (110 + 90 + 105) / 3.0

	std, err := Pivots(bar, Standard)
	if err != nil {
		t.Fatal(err)
	}
	names := []string{"P", "R1", "R2", "R3", "S1", "S2", "S3"}
	want := []float64{p, 2*p - 90, p + 20, 110 + 2*(p-90), 2*p - 110, p - 20, 90 - 2*(110-p)}
	for i, n := range names {
		if std.Levels[i].Name != n {
			t.Fatalf("order: level %d is %s, want %s", i, std.Levels[i].Name, n)
		}
		assertClose(t, "standard "+n, std.Levels[i].Price, want[i], 1e-9)
	}

	fib, _ := Pivots(bar, Fibonacci)
	r2, _ := fib.Get("R2")
	assertClose(t, "fib R2", r2, p+0.618*20, 1e-9)

	wd, _ := Pivots(bar, Woodie)
	wp, _ := wd.Get("P")
	assertClose(t, "woodie P", wp, (110+90+2*105)/4.0, 1e-9)

	cam, _ := Pivots(bar, Camarilla)
	if len(cam.Levels) != 9 {
		t.Fatalf("camarilla levels: %d", len(cam.Levels))
	}
	r4, _ := cam.Get("R4")
	s3, _ := cam.Get("S3")
	assertClose(t, "camarilla R4", r4, 105+20*1.1/2, 1e-9)
	assertClose(t, "camarilla S3", s3, 105-20*1.1/4, 1e-9)

	if _, err := Pivots(bar, "weird"); !errors.Is(err, model.ErrMalformedInput) {
		t.Errorf("unknown variant: %v", err)
	}
	if _, err := ParseVariant("Fibonacci"); err != nil {
		t.Errorf("ParseVariant: %v", err)
	}
}

func TestBarFrom(t *testing.T) {
	candles := []model.Candle{
		{TF: model.TF1m, OpenTime: t0, Open: 10, High: 12, Low: 9, Close: 11},
		{TF: model.TF1m, OpenTime: t0.Add(time.Minute), Open: 11, High: 15, Low: 10, Close: 14},
		{TF: model.TF1m, OpenTime: t0.Add(2 * time.Minute), Open: 14, High: 14.5, Low: 8, Close: 13},
	}
	b, ok := BarFrom(candles, 2)
	if !ok {
		t.Fatal("expected a bar")
	}
	if b.Open != 11 || b.High != 15 || b.Low != 8 || b.Close != 13 {
		t.Errorf("bar: %+v", b)
	}
	if !b.To.Equal(t0.Add(3 * time.Minute)) {
		t.Errorf("bar end: %v", b.To)
	}
	if _, ok := BarFrom(nil, 1); ok {
		t.Error("no candles, no bar")
	}
}
