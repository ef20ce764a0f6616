package indicator

import (
	"math"
	"testing"
)

// ────────────────────────────────────────────────────────────
// Helper
// ────────────────────────────────────────────────────────────

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

// ────────────────────────────────────────────────────────────
// SMA Correctness
// ────────────────────────────────────────────────────────────

func TestSMA_Correctness_Period3(t *testing.T) {
	// SMA after close 3: (100+102+104)/3 = 102
	// SMA after close 4: (102+104+103)/3 = 103
	// SMA after close 5: (104+103+105)/3 = 104
	sma := NewSMA(3)
	prices := []float64{100, 102, 104, 103, 105}
	expected := []float64{0, 0, 102.0, 103.0, 104.0}
	ready := []bool{false, false, true, true, true}

	for i, p := range prices {
		sma.Update(p)
		if sma.Ready() != ready[i] {
			t.Errorf("close %d: Ready()=%v, want %v", i, sma.Ready(), ready[i])
		}
		if ready[i] {
			assertClose(t, "SMA(3)", sma.Value(), expected[i], 0.0001)
		}
	}
}

func TestSMA_Reset(t *testing.T) {
	sma := NewSMA(2)
	sma.Update(10)
	sma.Update(20)
	sma.Reset()
	if sma.Ready() || sma.Value() != 0 {
		t.Fatalf("reset SMA should be empty, got ready=%v value=%v", sma.Ready(), sma.Value())
	}
	sma.Update(4)
	sma.Update(6)
	assertClose(t, "SMA after reset", sma.Value(), 5, 1e-9)
}

// ────────────────────────────────────────────────────────────
// EMA Correctness
// ────────────────────────────────────────────────────────────

func TestEMA_Correctness_Period3(t *testing.T) {
	// Seed = SMA(100,102,104) = 102, multiplier 0.5
	// 103*0.5 + 102*0.5 = 102.5
	// 105*0.5 + 102.5*0.5 = 103.75
	ema := NewEMA(3)
	prices := []float64{100, 102, 104, 103, 105}
	expected := []float64{0, 0, 102.0, 102.5, 103.75}
	ready := []bool{false, false, true, true, true}

	for i, p := range prices {
		ema.Update(p)
		if ema.Ready() != ready[i] {
			t.Errorf("close %d: Ready()=%v, want %v", i, ema.Ready(), ready[i])
		}
		if ready[i] {
			assertClose(t, "EMA(3)", ema.Value(), expected[i], 0.0001)
		}
	}
}

func TestEMA_Correctness_Period5(t *testing.T) {
	mult := 2.0 / 6.0
	prices := []float64{44.00, 44.25, 44.50, 43.75, 44.50, 44.25, 44.00}
	seed := (44.0 + 44.25 + 44.50 + 43.75 + 44.50) / 5.0

	ema := NewEMA(5)
	for _, p := range prices[:5] {
		ema.Update(p)
	}
	assertClose(t, "EMA(5) seed", ema.Value(), seed, 1e-9)

	ema.Update(prices[5])
	expected6 := 44.25*mult + seed*(1-mult)
	assertClose(t, "EMA(5) close 6", ema.Value(), expected6, 1e-9)

	ema.Update(prices[6])
	assertClose(t, "EMA(5) close 7", ema.Value(), 44.00*mult+expected6*(1-mult), 1e-9)
}

// ────────────────────────────────────────────────────────────
// SMMA Correctness
// ────────────────────────────────────────────────────────────

func TestSMMA_Correctness_Period3(t *testing.T) {
	// Seed 102, then (102*2+103)/3 = 102.3333, (102.3333*2+105)/3 = 103.2222
	smma := NewSMMA(3)
	prices := []float64{100, 102, 104, 103, 105}
	expected := []float64{0, 0, 102.0, 102.3333, 103.2222}

	for i, p := range prices {
		smma.Update(p)
		if i >= 2 {
			assertClose(t, "SMMA(3)", smma.Value(), expected[i], 0.001)
		}
	}
}

// ────────────────────────────────────────────────────────────
// RSI Correctness
// ────────────────────────────────────────────────────────────

func TestRSI_Correctness_Period5(t *testing.T) {
	// Classic Wilder example series.
	prices := []float64{44.00, 44.34, 44.09, 43.61, 44.33, 44.83, 45.10, 45.42, 45.84}

	rsi := NewRSI(5)
	for i := 0; i <= 5; i++ {
		rsi.Update(prices[i])
	}
	if !rsi.Ready() {
		t.Fatal("RSI(5) should be ready after 6 closes")
	}
	assertClose(t, "RSI(5) close 6", rsi.Value(), 68.112, 0.1)

	rsi.Update(prices[6])
	assertClose(t, "RSI(5) close 7", rsi.Value(), 72.219, 0.1)

	rsi.Update(prices[7])
	assertClose(t, "RSI(5) close 8", rsi.Value(), 76.658, 0.1)

	rsi.Update(prices[8])
	assertClose(t, "RSI(5) close 9", rsi.Value(), 81.509, 0.2)
}

func TestRSI_Extremes(t *testing.T) {
	up := NewRSI(5)
	down := NewRSI(5)
	flat := NewRSI(5)
	for i := 0; i < 10; i++ {
		up.Update(100 + float64(i))
		down.Update(200 - float64(i))
		flat.Update(100)
	}
	assertClose(t, "RSI all up", up.Value(), 100, 0.001)
	assertClose(t, "RSI all down", down.Value(), 0, 0.001)
	// No losses at all reads as 100.
	assertClose(t, "RSI flat", flat.Value(), 100, 0.001)
}

// ────────────────────────────────────────────────────────────
// Behavior
// ────────────────────────────────────────────────────────────

func TestIndicators_TrendingUp_Ordering(t *testing.T) {
	sma5 := NewSMA(5)
	sma20 := NewSMA(20)
	ema5 := NewEMA(5)

	for i := 0; i < 30; i++ {
		p := 100 + float64(i)
		sma5.Update(p)
		sma20.Update(p)
		ema5.Update(p)
	}

	if sma5.Value() <= sma20.Value() {
		t.Errorf("SMA(5) should be > SMA(20) in uptrend: SMA5=%.2f, SMA20=%.2f", sma5.Value(), sma20.Value())
	}
	if ema5.Value() <= sma20.Value() {
		t.Errorf("EMA(5) should be > SMA(20) in uptrend: EMA5=%.2f, SMA20=%.2f", ema5.Value(), sma20.Value())
	}
}

func TestEMA_MoreResponsiveThanSMA(t *testing.T) {
	sma := NewSMA(10)
	ema := NewEMA(10)

	for i := 0; i < 20; i++ {
		sma.Update(100)
		ema.Update(100)
	}
	sma.Update(120)
	ema.Update(120)

	if ema.Value() <= sma.Value() {
		t.Errorf("EMA should react more than SMA to sudden price jump: EMA=%.4f, SMA=%.4f", ema.Value(), sma.Value())
	}
}
