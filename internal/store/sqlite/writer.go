// Package sqlite persists closed candles and serves them back as history.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"tickinsight/internal/model"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath     string // path to SQLite database file, e.g. "data/candles.db"
	BatchSize  int
	FlushDelay time.Duration
}

// Writer is a single-goroutine SQLite writer with transaction batching. It
// implements model.EventSink for candle events; other events are ignored.
type Writer struct {
	db         *sql.DB
	in         chan model.Candle
	stop       chan struct{}
	batchSize  int
	flushDelay time.Duration

	// Hooks (optional)
	OnCommit func(n int, d time.Duration)
	OnError  func(err error)
	OnDrop   func()
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New creates a Writer, opening the database in WAL mode and creating the schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	// Single writer connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.FlushDelay <= 0 {
		cfg.FlushDelay = defaultFlushDelay
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Writer{
		db:         db,
		in:         make(chan model.Candle, cfg.BatchSize*8),
		stop:       make(chan struct{}),
		batchSize:  cfg.BatchSize,
		flushDelay: cfg.FlushDelay,
	}, nil
}

func open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	return db, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles (
			symbol   TEXT    NOT NULL,
			exchange TEXT    NOT NULL,
			tf       TEXT    NOT NULL,
			ts       INTEGER NOT NULL,
			open     REAL    NOT NULL,
			high     REAL    NOT NULL,
			low      REAL    NOT NULL,
			close    REAL    NOT NULL,
			volume   REAL,
			ticks    INTEGER,
			PRIMARY KEY (exchange, symbol, tf, ts)
		);
	`)
	return err
}

// Publish queues the candle of a closed-candle event without blocking. A full
// queue or a stopped writer drops the candle and reports it through OnDrop.
func (w *Writer) Publish(ev model.Event) {
	if ev.Kind != model.EventCandle || ev.Candle == nil || !ev.Candle.Closed {
		return
	}
	select {
	case <-w.stop:
		return
	default:
	}
	select {
	case w.in <- *ev.Candle:
	default:
		log.Printf("[sqlite] queue full, dropping %s @ %s", ev.Candle.Key(), ev.Candle.OpenTime.Format(time.RFC3339))
		if w.OnDrop != nil {
			w.OnDrop()
		}
	}
}

// Run inserts queued candles in batched transactions, flushing every
// batchSize candles or every flushDelay, whichever comes first. Blocks until
// ctx is cancelled; queued candles are flushed before returning.
func (w *Writer) Run(ctx context.Context) {
	batch := make([]model.Candle, 0, w.batchSize)
	timer := time.NewTimer(w.flushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := w.InsertBatch(batch); err != nil {
			log.Printf("[sqlite] batch insert error: %v", err)
			if w.OnError != nil {
				w.OnError(err)
			}
		} else if w.OnCommit != nil {
			w.OnCommit(len(batch), time.Since(start))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			close(w.stop)
			for {
				select {
				case c := <-w.in:
					batch = append(batch, c)
				default:
					flush()
					return
				}
			}

		case c := <-w.in:
			batch = append(batch, c)
			if len(batch) >= w.batchSize {
				flush()
				timer.Reset(w.flushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(w.flushDelay)
		}
	}
}

// InsertBatch upserts candles in a single transaction.
func (w *Writer) InsertBatch(candles []model.Candle) error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO candles (symbol, exchange, tf, ts, open, high, low, close, volume, ticks)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, c := range candles {
		_, err := stmt.Exec(c.Symbol, c.Exchange, c.TF.String(), c.OpenTime.Unix(), c.Open, c.High, c.Low, c.Close, c.Volume, c.Ticks)
		if err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// LastOpenTime returns the newest stored open time for a series, or the zero time.
func (w *Writer) LastOpenTime(exchange, symbol string, tf model.Timeframe) (time.Time, error) {
	var ts sql.NullInt64
	err := w.db.QueryRow(
		`SELECT MAX(ts) FROM candles WHERE exchange = ? AND symbol = ? AND tf = ?`,
		exchange, symbol, tf.String(),
	).Scan(&ts)
	if err != nil {
		return time.Time{}, err
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return time.Unix(ts.Int64, 0).UTC(), nil
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
