// Command levels runs offline analysis over candles stored in SQLite: the
// latest indicator values, support/resistance levels and pivots of every
// stored series (or one symbol).
//
// Usage:
//
//	go run ./cmd/levels --db=data/candles.db --symbol=INFY --tf=5m --lookback=300
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"tickinsight/internal/indicator"
	"tickinsight/internal/levels"
	"tickinsight/internal/model"
	sqlitestore "tickinsight/internal/store/sqlite"
)

type options struct {
	Lookback   int
	Indicators []indicator.Spec
	Detector   levels.Detector
	Variant    levels.PivotVariant
	Range      model.Range
}

// report is the analysis of one series.
type report struct {
	Symbol     string            `json:"symbol"`
	Exchange   string            `json:"exchange"`
	TF         model.Timeframe   `json:"timeframe"`
	Candles    int               `json:"candles"`
	Last       time.Time         `json:"last"`
	Indicators map[string]any    `json:"indicators"`
	Errors     map[string]string `json:"errors,omitempty"`
	Levels     levels.Result     `json:"levels"`
	Pivots     *levels.PivotSet  `json:"pivots,omitempty"`
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	dbPath := flag.String("db", "data/candles.db", "Path to SQLite database")
	symbol := flag.String("symbol", "", "Only analyse this symbol (default: all)")
	tfStr := flag.String("tf", "", "Only analyse this timeframe, e.g. 5m (default: all)")
	lookback := flag.Int("lookback", 500, "Candles used per series (0=all)")
	fromStr := flag.String("from", "", "RFC3339 start of the history read (default: all)")
	indicatorCfg := flag.String("indicators", "rsi:14;ema:20;sma:50;macd:12,26,9;atr:14", "Indicator specs")
	k := flag.Int("k", 3, "Swing neighbours on each side")
	tol := flag.Float64("tol", 0.5, "Cluster tolerance as a fraction of ATR")
	weighted := flag.Bool("weighted", false, "Recency-weighted level strength")
	variant := flag.String("pivots", "standard", "Pivot variant: standard, fibonacci, woodie, camarilla")
	asJSON := flag.Bool("json", false, "Print JSON instead of a table")
	flag.Parse()

	specs, err := indicator.ParseSpecList(*indicatorCfg)
	if err != nil {
		log.Fatalf("[levels] --indicators: %v", err)
	}
	pv, err := levels.ParseVariant(*variant)
	if err != nil {
		log.Fatalf("[levels] --pivots: %v", err)
	}
	opts := options{
		Lookback:   *lookback,
		Indicators: specs,
		Detector:   levels.Detector{K: *k, Tolerance: *tol, ATRPeriod: 14, RecencyWeighted: *weighted},
		Variant:    pv,
	}
	if *fromStr != "" {
		from, err := time.Parse(time.RFC3339, *fromStr)
		if err != nil {
			log.Fatalf("[levels] --from: %v", err)
		}
		opts.Range.From = from
	}
	var onlyTF model.Timeframe
	if *tfStr != "" {
		if onlyTF, err = model.ParseTimeframe(*tfStr); err != nil {
			log.Fatalf("[levels] --tf: %v", err)
		}
	}

	reader, err := sqlitestore.NewReader(*dbPath)
	if err != nil {
		log.Fatalf("[levels] sqlite open failed: %v", err)
	}
	defer reader.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	all, err := reader.Series(ctx)
	if err != nil {
		log.Fatalf("[levels] list series: %v", err)
	}
	targets := selectSeries(all, strings.ToUpper(*symbol), onlyTF)
	if len(targets) == 0 {
		log.Fatalf("[levels] no stored series match symbol=%q tf=%q", *symbol, *tfStr)
	}

	engine := indicator.NewEngine(indicator.NewRegistry())
	var reports []report
	for _, s := range targets {
		rep, err := analyze(ctx, reader, engine, s, opts)
		if err != nil {
			log.Printf("[levels] %s:%s %s: %v", s.Exchange, s.Symbol, s.TF, err)
			continue
		}
		reports = append(reports, rep)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(reports); err != nil {
			log.Fatalf("[levels] encode: %v", err)
		}
		return
	}
	for _, r := range reports {
		printReport(r)
	}
}

// selectSeries filters by symbol and timeframe (empty values match all) and
// orders by symbol then timeframe.
func selectSeries(all []sqlitestore.SeriesInfo, symbol string, tf model.Timeframe) []sqlitestore.SeriesInfo {
	var out []sqlitestore.SeriesInfo
	for _, s := range all {
		if symbol != "" && s.Symbol != symbol {
			continue
		}
		if !tf.IsZero() && s.TF != tf {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].TF.Seconds() < out[j].TF.Seconds()
	})
	return out
}

func analyze(ctx context.Context, src model.HistorySource, engine *indicator.Engine, s sqlitestore.SeriesInfo, opts options) (report, error) {
	candles, err := src.GetCandles(ctx, s.Symbol, s.Exchange, s.TF, opts.Range)
	if err != nil {
		return report{}, err
	}
	if opts.Lookback > 0 && len(candles) > opts.Lookback {
		candles = candles[len(candles)-opts.Lookback:]
	}
	if len(candles) == 0 {
		return report{}, model.Errorf(model.KindInsufficientData, "no candles in range")
	}

	rep := report{
		Symbol:   s.Symbol,
		Exchange: s.Exchange,
		TF:       s.TF,
		Candles:  len(candles),
		Last:     candles[len(candles)-1].OpenTime,
		Levels:   opts.Detector.Detect(candles, 0),
	}
	values, errs := engine.ComputeLatest(candles, opts.Indicators)
	rep.Indicators = values
	for key, e := range errs {
		if rep.Errors == nil {
			rep.Errors = make(map[string]string)
		}
		rep.Errors[key] = e.Error()
	}
	// Pivots come from the bar before the last one, the last completed period
	// relative to the newest candle.
	if len(candles) >= 2 {
		if bar, ok := levels.BarFrom(candles[:len(candles)-1], 1); ok {
			if ps, err := levels.Pivots(bar, opts.Variant); err == nil {
				rep.Pivots = &ps
			}
		}
	}
	return rep, nil
}

func printReport(r report) {
	fmt.Println()
	fmt.Printf("══ %s:%s %s  (%d candles, last %s) ══\n",
		r.Exchange, r.Symbol, r.TF, r.Candles, r.Last.Format(time.RFC3339))
	fmt.Printf("  price %.4f  tolerance %.4f  swings %d\n", r.Levels.Price, r.Levels.Tolerance, r.Levels.Swings)

	keys := make([]string, 0, len(r.Indicators))
	for k := range r.Indicators {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %-18s %s\n", k, formatValue(r.Indicators[k]))
	}
	for k, e := range r.Errors {
		fmt.Printf("  %-18s error: %s\n", k, e)
	}

	for _, l := range r.Levels.Resistance {
		fmt.Printf("  R %10.4f  strength %.2f  touches %d  zone [%.4f, %.4f]\n", l.Price, l.Strength, l.Touches, l.Low, l.High)
	}
	for _, l := range r.Levels.Support {
		fmt.Printf("  S %10.4f  strength %.2f  touches %d  zone [%.4f, %.4f]\n", l.Price, l.Strength, l.Touches, l.Low, l.High)
	}
	if r.Pivots != nil {
		parts := make([]string, len(r.Pivots.Levels))
		for i, p := range r.Pivots.Levels {
			parts[i] = fmt.Sprintf("%s=%.4f", p.Name, p.Price)
		}
		fmt.Printf("  pivots (%s): %s\n", r.Pivots.Variant, strings.Join(parts, " "))
	}
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "n/a"
	case float64:
		return fmt.Sprintf("%.4f", x)
	case []float64:
		parts := make([]string, len(x))
		for i, f := range x {
			parts[i] = fmt.Sprintf("%.4f", f)
		}
		return strings.Join(parts, " / ")
	default:
		return fmt.Sprint(x)
	}
}
