package gateway

import "sync"

// ClientQueue is a bounded outbound queue for one stream client. Push never
// blocks: when full, the oldest message is dropped and the gap counter grows.
// Safe for one producer set (broadcaster) and one consumer (write pump).
type ClientQueue struct {
	mu     sync.Mutex
	buf    [][]byte
	head   int // oldest entry
	size   int
	gaps   uint64
	closed bool

	notify chan struct{}
}

// NewClientQueue creates a queue holding at most capacity messages.
func NewClientQueue(capacity int) *ClientQueue {
	if capacity <= 0 {
		capacity = 256
	}
	return &ClientQueue{
		buf:    make([][]byte, capacity),
		notify: make(chan struct{}, 1),
	}
}

// Push enqueues msg and reports whether an older message was dropped to make
// room. Pushing to a closed queue is a no-op.
func (q *ClientQueue) Push(msg []byte) (dropped bool) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	capacity := len(q.buf)
	if q.size == capacity {
		q.buf[q.head] = nil
		q.head = (q.head + 1) % capacity
		q.size--
		q.gaps++
		dropped = true
	}
	q.buf[(q.head+q.size)%capacity] = msg
	q.size++
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return dropped
}

// Drain removes and returns every queued message, oldest first.
func (q *ClientQueue) Drain() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == 0 {
		return nil
	}
	out := make([][]byte, q.size)
	capacity := len(q.buf)
	for i := 0; i < q.size; i++ {
		idx := (q.head + i) % capacity
		out[i] = q.buf[idx]
		q.buf[idx] = nil
	}
	q.head, q.size = 0, 0
	return out
}

// Notify is signalled after every Push and on Close.
func (q *ClientQueue) Notify() <-chan struct{} { return q.notify }

// Gaps returns the total number of dropped messages.
func (q *ClientQueue) Gaps() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.gaps
}

// Len returns the number of queued messages.
func (q *ClientQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Cap returns the queue capacity.
func (q *ClientQueue) Cap() int { return len(q.buf) }

// Close stops further pushes and wakes the consumer.
func (q *ClientQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Closed reports whether Close was called.
func (q *ClientQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
