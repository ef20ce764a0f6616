package redis

import (
	"context"
	"log"
	"sync"
	"time"

	"tickinsight/internal/model"
)

// eventWriter is the part of Writer the buffered sink needs.
type eventWriter interface {
	Write(ctx context.Context, ev model.Event) error
}

// BufferedWriter is the event sink in front of a Writer. Writes go through
// the circuit breaker. Closed candles and indicator sets that could not be
// written are kept in a bounded buffer (oldest dropped) and replayed once the
// breaker closes again.
type BufferedWriter struct {
	writer  eventWriter
	cb      *CircuitBreaker
	ctx     context.Context
	timeout time.Duration

	mu     sync.Mutex
	buffer []model.Event
	maxBuf int

	// Hooks (optional)
	OnWrite  func(d time.Duration)
	OnBuffer func()
	OnFlush  func(count int)
}

// NewBufferedWriter wraps w. ctx bounds every write; maxBufferSize <= 0 means 10000.
func NewBufferedWriter(ctx context.Context, w eventWriter, cb *CircuitBreaker, maxBufferSize int) *BufferedWriter {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	bw := &BufferedWriter{
		writer:  w,
		cb:      cb,
		ctx:     ctx,
		timeout: 2 * time.Second,
		buffer:  make([]model.Event, 0, 256),
		maxBuf:  maxBufferSize,
	}

	prev := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prev != nil {
			prev(from, to)
		}
		if to == StateClosed {
			go bw.flush()
		}
	}
	return bw
}

// Publish implements model.EventSink. A failed or rejected write is buffered
// for replay unless it is a forming candle.
func (bw *BufferedWriter) Publish(ev model.Event) {
	err := bw.cb.Execute(func() error { return bw.write(ev) })
	if err == nil {
		return
	}
	if err != ErrCircuitOpen {
		log.Printf("[redis] write %s %s: %v", ev.Kind, ev.Key(), err)
	}
	if ev.Kind == model.EventCandle && ev.Candle != nil && !ev.Candle.Closed {
		return
	}
	bw.bufferEvent(ev)
}

func (bw *BufferedWriter) write(ev model.Event) error {
	ctx, cancel := context.WithTimeout(bw.ctx, bw.timeout)
	defer cancel()
	start := time.Now()
	err := bw.writer.Write(ctx, ev)
	if err == nil && bw.OnWrite != nil {
		bw.OnWrite(time.Since(start))
	}
	return err
}

func (bw *BufferedWriter) bufferEvent(ev model.Event) {
	bw.mu.Lock()
	if len(bw.buffer) >= bw.maxBuf {
		bw.buffer = bw.buffer[1:]
	}
	bw.buffer = append(bw.buffer, ev)
	bw.mu.Unlock()

	if bw.OnBuffer != nil {
		bw.OnBuffer()
	}
}

// flush replays buffered events in arrival order.
func (bw *BufferedWriter) flush() {
	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return
	}
	pending := bw.buffer
	bw.buffer = make([]model.Event, 0, 256)
	bw.mu.Unlock()

	flushed := 0
	for _, ev := range pending {
		if err := bw.write(ev); err != nil {
			log.Printf("[redis] replay %s %s: %v", ev.Kind, ev.Key(), err)
			continue
		}
		flushed++
	}

	log.Printf("[redis] flushed %d/%d buffered events", flushed, len(pending))
	if bw.OnFlush != nil {
		bw.OnFlush(flushed)
	}
}

// PendingCount returns the number of buffered events.
func (bw *BufferedWriter) PendingCount() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}
