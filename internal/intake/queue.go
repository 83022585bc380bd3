package intake

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"

	"github.com/dyluth/flowboard/pkg/board"
)

// Defaults for NewQueue.
const (
	DefaultWorkers   = 4
	DefaultQueueSize = 256
)

var (
	// ErrQueueFull is returned by Submit when no slot is free.
	ErrQueueFull = errors.New("intake queue is full")
	// ErrQueueClosed is returned by Submit after Close.
	ErrQueueClosed = errors.New("intake queue is closed")
)

// Ingester processes one change event to completion.
type Ingester interface {
	Ingest(ctx context.Context, ev *board.ChangeEvent) error
}

// QueueStats is a snapshot of queue counters.
type QueueStats struct {
	Pending   int    `json:"pending"`
	Processed uint64 `json:"processed"`
	Failed    uint64 `json:"failed"`
	Rejected  uint64 `json:"rejected"`
}

// Queue hands change events to a fixed pool of workers so that receipt can
// be acknowledged before processing. Events are processed concurrently and
// in no particular order.
type Queue struct {
	ingester Ingester
	workers  int

	mu     sync.RWMutex
	jobs   chan *board.ChangeEvent
	closed bool

	processed atomic.Uint64
	failed    atomic.Uint64
	rejected  atomic.Uint64
}

// NewQueue creates a queue. Non-positive sizes use the defaults.
func NewQueue(ingester Ingester, workers, size int) *Queue {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{
		ingester: ingester,
		workers:  workers,
		jobs:     make(chan *board.ChangeEvent, size),
	}
}

// Submit enqueues ev without blocking.
func (q *Queue) Submit(ev *board.ChangeEvent) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.jobs <- ev:
		return nil
	default:
		q.rejected.Add(1)
		return ErrQueueFull
	}
}

// Close stops accepting events. Events already queued are still processed.
// Safe to call multiple times.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.jobs)
}

// Run starts the workers and blocks until the queue is closed and drained.
// Cancelling ctx closes the queue; in-flight events run to completion.
func (q *Queue) Run(ctx context.Context) {
	workCtx := context.WithoutCancel(ctx)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			q.Close()
		case <-stop:
		}
	}()

	log.Printf("[Intake] Starting %d workers", q.workers)

	var wg sync.WaitGroup
	for i := 0; i < q.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ev := range q.jobs {
				q.handle(workCtx, ev)
			}
		}()
	}
	wg.Wait()

	log.Printf("[Intake] Workers stopped")
}

func (q *Queue) handle(ctx context.Context, ev *board.ChangeEvent) {
	if err := q.ingester.Ingest(ctx, ev); err != nil {
		q.failed.Add(1)
		log.Printf("[Intake] Error processing %s on %s: %v", ev.ChangeType, ev.Table, err)
		return
	}
	q.processed.Add(1)
}

// Stats returns the queue counters.
func (q *Queue) Stats() QueueStats {
	return QueueStats{
		Pending:   len(q.jobs),
		Processed: q.processed.Load(),
		Failed:    q.failed.Load(),
		Rejected:  q.rejected.Load(),
	}
}
