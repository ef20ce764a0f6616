package sqlite

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"database/sql"

	"tickinsight/internal/model"
)

// Reader provides read-only access for seeding and ranged queries. It
// implements model.HistorySource.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading. The schema is created if
// missing so a fresh deployment reads an empty history instead of failing.
func NewReader(dbPath string) (*Reader, error) {
	db, err := open(dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// DB returns the underlying sql.DB for health checks.
func (r *Reader) DB() *sql.DB { return r.db }

// GetCandles returns the stored candles of a series whose open time falls in
// rng, oldest first. Every returned candle is closed.
func (r *Reader) GetCandles(ctx context.Context, symbol, exchange string, tf model.Timeframe, rng model.Range) ([]model.Candle, error) {
	from, to := int64(-1<<62), int64(1<<62)
	if !rng.From.IsZero() {
		from = rng.From.Unix()
	}
	if !rng.To.IsZero() {
		to = rng.To.Unix()
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume, ticks
		FROM candles
		WHERE exchange = ? AND symbol = ? AND tf = ? AND ts >= ? AND ts < ?
		ORDER BY ts ASC
	`, exchange, symbol, tf.String(), from, to)
	if err != nil {
		return nil, classify(err, "sqlite query candles")
	}
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		var (
			tsUnix int64
			vol    sql.NullFloat64
			ticks  sql.NullInt64
		)
		c := model.Candle{Symbol: symbol, Exchange: exchange, TF: tf, Closed: true}
		if err := rows.Scan(&tsUnix, &c.Open, &c.High, &c.Low, &c.Close, &vol, &ticks); err != nil {
			return nil, classify(err, "sqlite scan candles")
		}
		c.OpenTime = time.Unix(tsUnix, 0).UTC()
		c.Volume = vol.Float64
		c.Ticks = int(ticks.Int64)
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "sqlite rows")
	}
	return candles, nil
}

// SeriesInfo describes one stored series.
type SeriesInfo struct {
	Symbol   string
	Exchange string
	TF       model.Timeframe
	Count    int
	First    time.Time
	Last     time.Time
}

// Series lists every stored series.
func (r *Reader) Series(ctx context.Context) ([]SeriesInfo, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT symbol, exchange, tf, COUNT(*), MIN(ts), MAX(ts)
		FROM candles
		GROUP BY exchange, symbol, tf
		ORDER BY exchange, symbol, tf
	`)
	if err != nil {
		return nil, classify(err, "sqlite query series")
	}
	defer rows.Close()

	var out []SeriesInfo
	for rows.Next() {
		var (
			s           SeriesInfo
			tf          string
			first, last int64
		)
		if err := rows.Scan(&s.Symbol, &s.Exchange, &tf, &s.Count, &first, &last); err != nil {
			return nil, classify(err, "sqlite scan series")
		}
		parsed, err := model.ParseTimeframe(tf)
		if err != nil {
			continue
		}
		s.TF = parsed
		s.First = time.Unix(first, 0).UTC()
		s.Last = time.Unix(last, 0).UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}

// classify marks storage failures as UpstreamUnavailable; context errors keep
// their identity for callers that check them.
func classify(err error, detail string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return model.Wrap(model.KindUpstreamUnavailable, err, detail+": timeout")
	}
	return model.Wrap(model.KindUpstreamUnavailable, err, detail)
}
