package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sessionlens/pixeld/internal/domain/events"
	"github.com/sessionlens/pixeld/internal/infrastructure/observability/logging"
)

// WriteBehindQueue decouples the ingest hot path from storage. Enqueue never
// blocks; when the buffer is full the newest event is dropped and counted.
// A single worker goroutine applies events in arrival order, which keeps
// the reducer free of write races.
type WriteBehindQueue struct {
	ch      chan *events.PixelEvent
	handler func(*events.PixelEvent)
	logger  *logging.ChanneledLogger

	enqueued  atomic.Uint64
	processed atomic.Uint64
	dropped   atomic.Uint64

	mu      sync.RWMutex
	stopped bool

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewWriteBehindQueue creates a queue with the given buffer size. The handler
// runs on the worker goroutine for every dequeued event.
func NewWriteBehindQueue(size int, handler func(*events.PixelEvent), logger *logging.ChanneledLogger) *WriteBehindQueue {
	if size < 1 {
		size = 1
	}
	return &WriteBehindQueue{
		ch:      make(chan *events.PixelEvent, size),
		handler: handler,
		logger:  logger,
	}
}

// Start launches the worker goroutine.
func (q *WriteBehindQueue) Start() {
	q.wg.Add(1)
	go q.run()
}

func (q *WriteBehindQueue) run() {
	defer q.wg.Done()
	for ev := range q.ch {
		start := time.Now()
		q.handler(ev)
		q.processed.Add(1)
		if d := time.Since(start); d > 250*time.Millisecond {
			q.logger.Database().Warn("Slow write-behind apply",
				"store", ev.Store, "eventType", ev.Name, "duration", d)
		}
	}
}

// Enqueue hands an event to the worker. Returns false when the event was
// dropped because the buffer is full or the queue is stopped.
func (q *WriteBehindQueue) Enqueue(ev *events.PixelEvent) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.stopped {
		q.dropped.Add(1)
		return false
	}
	select {
	case q.ch <- ev:
		q.enqueued.Add(1)
		return true
	default:
		n := q.dropped.Add(1)
		q.logger.Database().Warn("Write-behind queue full, dropping event",
			"store", ev.Store, "eventType", ev.Name, "totalDropped", n)
		return false
	}
}

// Stop refuses new events, drains the buffer, and waits for the worker.
func (q *WriteBehindQueue) Stop() {
	q.stopOnce.Do(func() {
		q.mu.Lock()
		q.stopped = true
		close(q.ch)
		q.mu.Unlock()

		q.wg.Wait()
		enq, proc, drop := q.Stats()
		q.logger.Shutdown().Info("Write-behind queue drained",
			"enqueued", enq, "processed", proc, "dropped", drop)
	})
}

// Stats reports lifetime counters.
func (q *WriteBehindQueue) Stats() (enqueued, processed, dropped uint64) {
	return q.enqueued.Load(), q.processed.Load(), q.dropped.Load()
}

// Depth reports the number of buffered events awaiting the worker.
func (q *WriteBehindQueue) Depth() int {
	return len(q.ch)
}
