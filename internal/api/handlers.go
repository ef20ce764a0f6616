package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"tickinsight/internal/indicator"
	"tickinsight/internal/levels"
	"tickinsight/internal/model"
)

const (
	sourceWindow  = "window"
	sourceHistory = "history"
)

// Meta accompanies every query response.
type Meta struct {
	Symbol      string    `json:"symbol"`
	Exchange    string    `json:"exchange"`
	Timeframe   string    `json:"timeframe"`
	CandlesUsed int       `json:"candles_used"`
	ComputedAt  time.Time `json:"computed_at"`
	Source      string    `json:"source"`
}

// seriesQuery is the common part of every series request.
type seriesQuery struct {
	symbol   string
	exchange string
	tf       model.Timeframe
	rng      model.Range
	ranged   bool
}

func (s *Server) parseSeriesQuery(c *gin.Context) (seriesQuery, error) {
	q := seriesQuery{
		symbol:   strings.ToUpper(strings.TrimSpace(c.Query("symbol"))),
		exchange: c.DefaultQuery("exchange", s.deps.Exchange),
	}
	if q.symbol == "" {
		return q, model.Errorf(model.KindMalformedInput, "symbol is required")
	}

	if raw := c.Query("timeframe"); raw != "" {
		tf, err := model.ParseTimeframe(raw)
		if err != nil {
			return q, err
		}
		q.tf = tf
	} else if len(s.deps.Timeframes) > 0 {
		q.tf = s.deps.Timeframes[0]
	}

	var err error
	if q.rng.From, err = parseTime(c.Query("from")); err != nil {
		return q, err
	}
	if q.rng.To, err = parseTime(c.Query("to")); err != nil {
		return q, err
	}
	if !q.rng.From.IsZero() && !q.rng.To.IsZero() && !q.rng.From.Before(q.rng.To) {
		return q, model.Errorf(model.KindMalformedInput, "from must be before to")
	}
	q.ranged = !q.rng.IsZero()

	// Live windows exist only for served series; history may hold any.
	if !q.ranged {
		if !s.symbols[q.symbol] {
			return q, model.Errorf(model.KindMalformedInput, "symbol %s is not served", q.symbol)
		}
		if !s.tfs[q.tf] {
			return q, model.Errorf(model.KindUnknownTimeframe, "timeframe %s is not aggregated", q.tf)
		}
	}
	return q, nil
}

// parseTime accepts RFC3339 or unix seconds; "" is the zero time.
func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, model.Errorf(model.KindMalformedInput, "bad time %q: want RFC3339 or unix seconds", raw)
	}
	return t.UTC(), nil
}

func intQuery(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, model.Errorf(model.KindMalformedInput, "%s must be a non-negative integer", name)
	}
	return n, nil
}

// candles loads the series: the window snapshot, or the history source under
// the query timeout when a range was given. The returned slice is read-only.
func (s *Server) candles(c *gin.Context, q seriesQuery) ([]model.Candle, string, error) {
	if !q.ranged {
		snap, ok := s.deps.Windows.Snapshot(q.symbol, q.tf)
		if !ok {
			return nil, sourceWindow, nil
		}
		return snap.Candles(), sourceWindow, nil
	}

	if s.deps.History == nil {
		return nil, sourceHistory, model.Errorf(model.KindUpstreamUnavailable, "no history source configured")
	}
	ctx, cancel := s.queryContext(c)
	defer cancel()
	candles, err := s.deps.History.GetCandles(ctx, q.symbol, q.exchange, q.tf, q.rng)
	if err != nil {
		if model.KindOf(err) == model.KindInternal {
			err = model.Wrap(model.KindUpstreamUnavailable, err, "history")
		}
		return nil, sourceHistory, err
	}
	return candles, sourceHistory, nil
}

func (s *Server) meta(q seriesQuery, used int, source string) Meta {
	return Meta{
		Symbol:      q.symbol,
		Exchange:    q.exchange,
		Timeframe:   q.tf.String(),
		CandlesUsed: used,
		ComputedAt:  time.Now().UTC(),
		Source:      source,
	}
}

// loadSeries parses the query and loads its candles, aborting on failure.
func (s *Server) loadSeries(c *gin.Context) (seriesQuery, []model.Candle, string, bool) {
	q, err := s.parseSeriesQuery(c)
	if err != nil {
		abortWithError(c, err)
		return q, nil, "", false
	}
	candles, source, err := s.candles(c, q)
	if err != nil {
		abortWithError(c, err)
		return q, nil, "", false
	}
	return q, candles, source, true
}

// ── handlers ──

func (s *Server) getIndicators(c *gin.Context) {
	raw := c.Query("indicators")
	if strings.TrimSpace(raw) == "" {
		abortWithError(c, model.Errorf(model.KindMalformedInput, "indicators is required"))
		return
	}
	specs, err := indicator.ParseSpecList(raw)
	if err != nil {
		abortWithError(c, err)
		return
	}
	limit, err := intQuery(c, "limit", 0)
	if err != nil {
		abortWithError(c, err)
		return
	}

	q, candles, source, ok := s.loadSeries(c)
	if !ok {
		return
	}

	series, errs := s.deps.Engine.ComputeMany(candles, specs)
	out := make(map[string]indicator.Series, len(series))
	for _, sr := range series {
		out[sr.Key] = tail(sr, limit)
	}
	itemErrs := make(map[string]errorBody, len(errs))
	for key, e := range errs {
		itemErrs[key] = errorOf(e)
	}

	c.JSON(http.StatusOK, gin.H{
		"meta":       s.meta(q, len(candles), source),
		"indicators": out,
		"errors":     itemErrs,
	})
}

// tail keeps the last n values of every output; n <= 0 keeps everything.
func tail(sr indicator.Series, n int) indicator.Series {
	if n <= 0 || n >= sr.Len() {
		return sr
	}
	cut := sr.Len() - n
	out := sr
	out.Times = sr.Times[cut:]
	out.Outputs = make([]indicator.Output, len(sr.Outputs))
	for i, o := range sr.Outputs {
		out.Outputs[i] = indicator.Output{Name: o.Name, Values: o.Values[cut:]}
	}
	return out
}

func (s *Server) getCatalog(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"indicators": s.deps.Engine.Registry().Catalog()})
}

// detector applies the k and tolerance overrides of a request.
func (s *Server) detector(c *gin.Context) (levels.Detector, error) {
	d := s.deps.Detector
	k, err := intQuery(c, "k", d.K)
	if err != nil {
		return d, err
	}
	if k < 1 {
		return d, model.Errorf(model.KindMalformedInput, "k must be at least 1")
	}
	d.K = k
	if raw := c.Query("tolerance"); raw != "" {
		tol, err := strconv.ParseFloat(raw, 64)
		if err != nil || tol < 0 {
			return d, model.Errorf(model.KindMalformedInput, "tolerance must be a non-negative number")
		}
		d.Tolerance = tol
	}
	return d, nil
}

func (s *Server) detect(c *gin.Context) (seriesQuery, levels.Result, string, bool) {
	d, err := s.detector(c)
	if err != nil {
		abortWithError(c, err)
		return seriesQuery{}, levels.Result{}, "", false
	}
	lookback, err := intQuery(c, "lookback", 0)
	if err != nil {
		abortWithError(c, err)
		return seriesQuery{}, levels.Result{}, "", false
	}
	q, candles, source, ok := s.loadSeries(c)
	if !ok {
		return q, levels.Result{}, "", false
	}
	return q, d.Detect(candles, lookback), source, true
}

func (s *Server) getLevels(c *gin.Context) {
	q, res, source, ok := s.detect(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"meta":       s.meta(q, res.CandlesUsed, source),
		"price":      res.Price,
		"tolerance":  res.Tolerance,
		"swings":     res.Swings,
		"support":    res.Support,
		"resistance": res.Resistance,
	})
}

func (s *Server) getNearest(c *gin.Context) {
	n, err := intQuery(c, "n", 5)
	if err != nil {
		abortWithError(c, err)
		return
	}
	q, res, source, ok := s.detect(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"meta":   s.meta(q, res.CandlesUsed, source),
		"price":  res.Price,
		"levels": levels.Nearest(res, res.Price, n),
	})
}

func (s *Server) getPivots(c *gin.Context) {
	variant, err := levels.ParseVariant(c.Query("variant"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	lookback, err := intQuery(c, "lookback", 1)
	if err != nil {
		abortWithError(c, err)
		return
	}
	q, candles, source, ok := s.loadSeries(c)
	if !ok {
		return
	}

	bar, ok := levels.BarFrom(candles, lookback)
	if !ok {
		c.JSON(http.StatusOK, gin.H{
			"meta":    s.meta(q, 0, source),
			"variant": variant,
			"levels":  []levels.PivotLevel{},
			"note":    string(model.KindInsufficientData),
		})
		return
	}
	set, err := levels.Pivots(bar, variant)
	if err != nil {
		abortWithError(c, err)
		return
	}
	used := lookback
	if used < 1 {
		used = 1
	}
	if used > len(candles) {
		used = len(candles)
	}
	c.JSON(http.StatusOK, gin.H{
		"meta":    s.meta(q, used, source),
		"variant": set.Variant,
		"bar":     set.Bar,
		"levels":  set.Levels,
	})
}

func (s *Server) getCandles(c *gin.Context) {
	limit, err := intQuery(c, "limit", 100)
	if err != nil {
		abortWithError(c, err)
		return
	}
	q, candles, source, ok := s.loadSeries(c)
	if !ok {
		return
	}
	if limit > 0 && limit < len(candles) {
		candles = candles[len(candles)-limit:]
	}
	if candles == nil {
		candles = []model.Candle{}
	}

	body := gin.H{
		"meta":    s.meta(q, len(candles), source),
		"candles": candles,
	}
	if source == sourceWindow && s.deps.Forming != nil {
		if f, ok := s.deps.Forming(q.symbol, q.tf); ok {
			body["forming"] = f
		}
	}
	c.JSON(http.StatusOK, body)
}

// maxTicks caps one /api/ticks response.
const maxTicks = 1000

func (s *Server) getTicks(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Query("symbol")))
	if symbol == "" {
		abortWithError(c, model.Errorf(model.KindMalformedInput, "symbol is required"))
		return
	}
	if !s.symbols[symbol] {
		abortWithError(c, model.Errorf(model.KindMalformedInput, "symbol %q is not served", symbol))
		return
	}
	n, err := intQuery(c, "n", 100)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if n == 0 || n > maxTicks {
		n = maxTicks
	}
	if s.deps.RecentTicks == nil {
		abortWithError(c, model.Errorf(model.KindUpstreamUnavailable, "live ticks are not available"))
		return
	}

	ctx, cancel := s.queryContext(c)
	defer cancel()
	ticks, err := s.deps.RecentTicks(ctx, symbol, n)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if ticks == nil {
		ticks = []model.Tick{}
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol": symbol,
		"count":  len(ticks),
		"ticks":  ticks,
	})
}

func (s *Server) getTimeframes(c *gin.Context) {
	served := make([]string, len(s.deps.Timeframes))
	for i, tf := range s.deps.Timeframes {
		served[i] = tf.String()
	}
	all := model.Timeframes()
	supported := make([]string, len(all))
	for i, tf := range all {
		supported[i] = tf.String()
	}
	c.JSON(http.StatusOK, gin.H{
		"served":    served,
		"supported": supported,
	})
}

func (s *Server) getStats(c *gin.Context) {
	body := gin.H{
		"symbols": s.deps.Symbols,
		"windows": s.deps.Windows.Stats(),
	}
	if s.deps.Stats != nil {
		body["pipeline"] = s.deps.Stats()
	}
	c.JSON(http.StatusOK, body)
}
