package pipeline

import (
	"context"
	"log"
	"time"

	"github.com/QuocHuannn/fleet-tracker/internal/metrics"
	"github.com/QuocHuannn/fleet-tracker/internal/model"
)

// PositionStore persists location history rows in batches.
type PositionStore interface {
	BatchInsertPositions(ctx context.Context, rows []*model.Position) error
}

// HistoryWriter batches location history rows into bounded async writes.
// Enqueue blocks when the queue is full: the pipeline applies backpressure
// upstream instead of dropping data.
type HistoryWriter struct {
	store       PositionStore
	metrics     *metrics.Collector
	batchSize   int
	flushEvery  time.Duration
	maxAttempts int

	queue chan *model.Position
	done  chan struct{}
}

// NewHistoryWriter builds a writer with the given queue and batch sizing.
func NewHistoryWriter(store PositionStore, m *metrics.Collector, queueSize, batchSize int, flushEvery time.Duration, maxAttempts int) *HistoryWriter {
	return &HistoryWriter{
		store:       store,
		metrics:     m,
		batchSize:   batchSize,
		flushEvery:  flushEvery,
		maxAttempts: maxAttempts,
		queue:       make(chan *model.Position, queueSize),
		done:        make(chan struct{}),
	}
}

// Enqueue queues one row for durable write, blocking while the queue is
// full until ctx is cancelled.
func (w *HistoryWriter) Enqueue(ctx context.Context, row *model.Position) error {
	select {
	case w.queue <- row:
		w.metrics.HistoryQueueDepth.Set(float64(len(w.queue)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run consumes the queue until ctx is cancelled, then flushes what remains.
func (w *HistoryWriter) Run(ctx context.Context) {
	defer close(w.done)

	batch := make([]*model.Position, 0, w.batchSize)
	ticker := time.NewTicker(w.flushEvery)
	defer ticker.Stop()

	for {
		select {
		case row := <-w.queue:
			batch = append(batch, row)
			if len(batch) >= w.batchSize {
				w.flush(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			w.metrics.HistoryQueueDepth.Set(float64(len(w.queue)))
			if len(batch) > 0 {
				w.flush(batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			// Drain anything still queued before exiting.
			for {
				select {
				case row := <-w.queue:
					batch = append(batch, row)
					if len(batch) >= w.batchSize {
						w.flush(batch)
						batch = batch[:0]
					}
				default:
					if len(batch) > 0 {
						w.flush(batch)
					}
					return
				}
			}
		}
	}
}

// Wait blocks until Run has flushed and returned.
func (w *HistoryWriter) Wait() {
	<-w.done
}

func (w *HistoryWriter) flush(batch []*model.Position) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		if err = w.store.BatchInsertPositions(ctx, batch); err == nil {
			w.metrics.HistoryWritten.Add(float64(len(batch)))
			return
		}
		backoff := time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
		log.Printf("[HistoryWriter] Batch write attempt %d/%d failed (rows=%d): %v", attempt, w.maxAttempts, len(batch), err)
		time.Sleep(backoff)
	}

	w.metrics.HistoryDeadLetters.Add(float64(len(batch)))
	log.Printf("[HistoryWriter] Dead-lettering %d rows after %d attempts: %v", len(batch), w.maxAttempts, err)
}
