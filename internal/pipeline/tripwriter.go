package pipeline

import (
	"context"
	"log"
	"time"

	"github.com/QuocHuannn/fleet-tracker/internal/metrics"
	"github.com/QuocHuannn/fleet-tracker/internal/model"
)

// TripStore persists trip records. SaveTrip is an upsert: called once when a
// trip opens and again when it closes.
type TripStore interface {
	SaveTrip(ctx context.Context, trip *model.Trip) error
}

// TripWriter persists trip rows through a bounded async queue so storage
// retries never run on the intake path. A single consumer drains the queue
// in FIFO order, which keeps a trip's open row ahead of its close row.
type TripWriter struct {
	store       TripStore
	metrics     *metrics.Collector
	maxAttempts int

	queue chan *model.Trip
	done  chan struct{}
}

// NewTripWriter builds a writer with the given queue size and retry budget.
func NewTripWriter(store TripStore, m *metrics.Collector, queueSize, maxAttempts int) *TripWriter {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &TripWriter{
		store:       store,
		metrics:     m,
		maxAttempts: maxAttempts,
		queue:       make(chan *model.Trip, queueSize),
		done:        make(chan struct{}),
	}
}

// Enqueue queues one trip row for durable write, blocking while the queue is
// full until ctx is cancelled.
func (w *TripWriter) Enqueue(ctx context.Context, trip *model.Trip) error {
	select {
	case w.queue <- trip:
		w.metrics.TripQueueDepth.Set(float64(len(w.queue)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run consumes the queue until ctx is cancelled, then drains what remains.
func (w *TripWriter) Run(ctx context.Context) {
	defer close(w.done)

	for {
		select {
		case trip := <-w.queue:
			w.save(trip)
			w.metrics.TripQueueDepth.Set(float64(len(w.queue)))

		case <-ctx.Done():
			for {
				select {
				case trip := <-w.queue:
					w.save(trip)
				default:
					return
				}
			}
		}
	}
}

// Wait blocks until Run has drained and returned.
func (w *TripWriter) Wait() {
	<-w.done
}

func (w *TripWriter) save(trip *model.Trip) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		if err = w.store.SaveTrip(ctx, trip); err == nil {
			return
		}
		backoff := time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
		log.Printf("[TripWriter] Save attempt %d/%d failed for %s: %v", attempt, w.maxAttempts, trip.ID, err)
		time.Sleep(backoff)
	}

	w.metrics.TripDeadLetters.Inc()
	log.Printf("[TripWriter] Dead-lettering trip %s after %d attempts: %v", trip.ID, w.maxAttempts, err)
}
