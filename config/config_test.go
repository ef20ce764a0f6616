package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tickinsight/internal/indicator"
	"tickinsight/internal/model"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(prev) })
}

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir()) // no .env here

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.WindowCapacity != 500 || cfg.SwingK != 3 || cfg.SeedTimeout != 5*time.Second {
		t.Errorf("defaults: %+v", cfg)
	}
	tfs, _ := cfg.Timeframes()
	if len(tfs) != 4 || tfs[0] != model.TF1m || tfs[3] != model.TF1h {
		t.Errorf("timeframes: %v", tfs)
	}
	if cfg.TickSource != SourceWS {
		t.Errorf("tick source: %s", cfg.TickSource)
	}
}

func TestLoad_EnvAndDotenv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	os.WriteFile(filepath.Join(dir, ".env"), []byte("SWING_K=5\nSYMBOLS=infy, tcs ,INFY\n"), 0o644)
	t.Setenv("TIMEFRAMES", "1h,1m,1m")
	t.Setenv("SEED_TIMEOUT", "250ms")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SwingK != 5 {
		t.Errorf("SWING_K from .env: %d", cfg.SwingK)
	}
	if len(cfg.Symbols) != 2 || cfg.Symbols[0] != "INFY" || cfg.Symbols[1] != "TCS" {
		t.Errorf("symbols should be upper-cased and deduplicated: %v", cfg.Symbols)
	}
	tfs, _ := cfg.Timeframes()
	if len(tfs) != 2 || tfs[0] != model.TF1m {
		t.Errorf("timeframes should be sorted and unique: %v", tfs)
	}
	if cfg.SeedTimeout != 250*time.Millisecond {
		t.Errorf("seed timeout: %v", cfg.SeedTimeout)
	}
}

func TestValidate(t *testing.T) {
	chdir(t, t.TempDir())

	cases := []struct {
		env  map[string]string
		kind error
	}{
		{map[string]string{"TIMEFRAMES": "7m"}, model.ErrUnknownTimeframe},
		{map[string]string{"SWING_K": "0"}, model.ErrMalformedInput},
		{map[string]string{"TICK_SOURCE": "kafka"}, model.ErrMalformedInput},
		{map[string]string{"TICK_SOURCE": "redis"}, model.ErrMalformedInput},
		{map[string]string{"INDICATORS": "rsi:abc"}, model.ErrMalformedInput},
	}
	for i, tc := range cases {
		t.Run("", func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); !errors.Is(err, tc.kind) {
				t.Errorf("case %d: expected %v, got %v", i, tc.kind, err)
			}
		})
	}
}

func TestIndicatorPlan(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "indicators.yaml")
	os.WriteFile(path, []byte(`
default: ["rsi:14", "ema:20"]
timeframes:
  1h: ["sma:200", "rsi:14"]
`), 0o644)

	cfg := &Config{
		TimeframeList:  []string{"1m", "1h"},
		Indicators:     "macd",
		IndicatorsFile: path,
	}
	plan, err := cfg.IndicatorPlan(indicator.NewRegistry())
	if err != nil {
		t.Fatal(err)
	}

	keys := func(specs []indicator.Spec) []string {
		var out []string
		for _, s := range specs {
			out = append(out, s.Key())
		}
		return out
	}
	if got := keys(plan.For(model.TF1m)); len(got) != 2 || got[0] != "rsi:14" || got[1] != "ema:20" {
		t.Errorf("1m plan: %v", got)
	}
	if got := keys(plan.For(model.TF1h)); len(got) != 3 || got[2] != "sma:200" {
		t.Errorf("1h plan: %v", got)
	}
}

func TestIndicatorPlan_UnknownIndicator(t *testing.T) {
	cfg := &Config{TimeframeList: []string{"1m"}, Indicators: "nope:3"}
	if _, err := cfg.IndicatorPlan(indicator.NewRegistry()); !errors.Is(err, model.ErrUnknownIndicator) {
		t.Fatalf("expected UnknownIndicator, got %v", err)
	}
}
