package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"
)

func TestParseTimeframe(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"1m", 60},
		{"5M", 300},
		{" 1h ", 3600},
		{"300", 300},
		{"60s", 60},
		{"1d", 86400},
	}
	for _, tt := range tests {
		tf, err := ParseTimeframe(tt.in)
		if err != nil {
			t.Fatalf("ParseTimeframe(%q): %v", tt.in, err)
		}
		if tf.Seconds() != tt.want {
			t.Errorf("ParseTimeframe(%q) = %ds, want %ds", tt.in, tf.Seconds(), tt.want)
		}
	}
}

func TestParseTimeframe_Unknown(t *testing.T) {
	for _, in := range []string{"", "7m", "abc", "61"} {
		_, err := ParseTimeframe(in)
		if !errors.Is(err, ErrUnknownTimeframe) {
			t.Errorf("ParseTimeframe(%q): expected UnknownTimeframe, got %v", in, err)
		}
	}
}

func TestTimeframe_Bucket(t *testing.T) {
	tf := MustTimeframe("5m")
	ts := time.Date(2026, 3, 2, 9, 17, 42, 500, time.UTC)
	want := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)
	if got := tf.Bucket(ts); !got.Equal(want) {
		t.Errorf("bucket: got %v, want %v", got, want)
	}

	// Exact boundary belongs to its own bucket.
	if got := tf.Bucket(want); !got.Equal(want) {
		t.Errorf("boundary bucket: got %v, want %v", got, want)
	}

	// Pre-epoch timestamps floor downward.
	if got := tf.BucketUnix(-1); got != -300 {
		t.Errorf("negative bucket: got %d, want -300", got)
	}
}

func TestTimeframe_JSON(t *testing.T) {
	c := Candle{Symbol: "INFY", TF: TF5m}
	b, err := json.Marshal(c)
	if err != nil {
		t.Fatal(err)
	}
	var back Candle
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatal(err)
	}
	if back.TF != TF5m {
		t.Errorf("timeframe round trip: got %v", back.TF)
	}

	if err := json.Unmarshal([]byte(`{"timeframe":"7m"}`), &back); !errors.Is(err, ErrUnknownTimeframe) {
		t.Errorf("expected UnknownTimeframe from JSON, got %v", err)
	}
}

func TestTimeframe_Divides(t *testing.T) {
	if !TF1m.Divides(TF5m) {
		t.Error("1m should divide 5m")
	}
	if TF5m.Divides(TF1m) {
		t.Error("5m should not divide 1m")
	}
	if MustTimeframe("3m").Divides(TF5m) {
		t.Error("3m should not divide 5m")
	}
}

func TestTick_Validate(t *testing.T) {
	now := time.Now()
	good := Tick{Symbol: "TCS", Price: 10, Volume: 1, TS: now}
	if err := good.Validate(); err != nil {
		t.Fatalf("valid tick rejected: %v", err)
	}

	bad := []Tick{
		{Price: 10, Volume: 1, TS: now},
		{Symbol: "TCS", Price: math.NaN(), Volume: 1, TS: now},
		{Symbol: "TCS", Price: math.Inf(1), Volume: 1, TS: now},
		{Symbol: "TCS", Price: 10, Volume: math.Inf(-1), TS: now},
		{Symbol: "TCS", Price: 10, Volume: -1, TS: now},
		{Symbol: "TCS", Price: 10, Volume: 1},
	}
	for i, tk := range bad {
		if err := tk.Validate(); !errors.Is(err, ErrMalformedInput) {
			t.Errorf("case %d: expected MalformedInput, got %v", i, err)
		}
	}
}

func TestCandle_Valid(t *testing.T) {
	c := Candle{Open: 100, High: 105, Low: 98, Close: 102}
	if !c.Valid() {
		t.Error("expected valid candle")
	}
	c.High = 101
	if c.Valid() {
		t.Error("high below close must be invalid")
	}
}

func TestErrorClassification(t *testing.T) {
	err := fmt.Errorf("seed INFY: %w", Wrap(KindUpstreamUnavailable, errors.New("dial tcp"), "history"))
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Error("wrapped error should match its sentinel")
	}
	if errors.Is(err, ErrMalformedInput) {
		t.Error("wrapped error must not match another kind")
	}
	if KindOf(err) != KindUpstreamUnavailable {
		t.Errorf("KindOf: got %s", KindOf(err))
	}
	if KindOf(errors.New("plain")) != KindInternal {
		t.Error("unclassified errors are internal")
	}
	if DetailOf(Errorf(KindUnknownIndicator, "no such indicator %q", "foo")) != `no such indicator "foo"` {
		t.Error("DetailOf should return the detail text")
	}
}

func TestRange_Contains(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(time.Hour)
	r := Range{From: from, To: to}
	if !r.Contains(from) {
		t.Error("from is inclusive")
	}
	if r.Contains(to) {
		t.Error("to is exclusive")
	}
	if !(Range{}).Contains(from) {
		t.Error("zero range contains everything")
	}
}
