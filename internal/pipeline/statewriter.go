package pipeline

import (
	"context"
	"log"
	"time"

	"github.com/QuocHuannn/fleet-tracker/internal/metrics"
	"github.com/QuocHuannn/fleet-tracker/internal/model"
)

// StateRecordStore upserts current-state rows and mirrors them to the
// read-side shadow cache.
type StateRecordStore interface {
	UpsertStateRecord(ctx context.Context, rec *model.VehicleStateRecord) error
}

// ShadowStore mirrors vehicle state for external readers.
type ShadowStore interface {
	WriteShadow(ctx context.Context, st *model.VehicleState) error
}

// StateWriter replicates committed vehicle state to the current-state table
// and the shadow cache. Updates coalesce per vehicle: only the newest state
// queued between flushes is written, so a burst of reports costs one upsert.
type StateWriter struct {
	records    StateRecordStore
	shadow     ShadowStore
	metrics    *metrics.Collector
	flushEvery time.Duration

	updates chan *model.VehicleState
	done    chan struct{}
}

// NewStateWriter builds a writer flushing on the given interval.
func NewStateWriter(records StateRecordStore, shadow ShadowStore, m *metrics.Collector, flushEvery time.Duration, queueSize int) *StateWriter {
	return &StateWriter{
		records:    records,
		shadow:     shadow,
		metrics:    m,
		flushEvery: flushEvery,
		updates:    make(chan *model.VehicleState, queueSize),
		done:       make(chan struct{}),
	}
}

// Submit queues a committed state snapshot for replication. A full queue
// blocks until ctx is cancelled; state replication is not allowed to fall
// arbitrarily far behind ingestion.
func (w *StateWriter) Submit(ctx context.Context, st *model.VehicleState) error {
	select {
	case w.updates <- st:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run consumes updates until ctx is cancelled, then flushes what remains.
func (w *StateWriter) Run(ctx context.Context) {
	defer close(w.done)

	pending := make(map[string]*model.VehicleState)
	ticker := time.NewTicker(w.flushEvery)
	defer ticker.Stop()

	for {
		select {
		case st := <-w.updates:
			pending[st.VehicleID] = st

		case <-ticker.C:
			w.flush(pending)

		case <-ctx.Done():
			for {
				select {
				case st := <-w.updates:
					pending[st.VehicleID] = st
				default:
					w.flush(pending)
					return
				}
			}
		}
	}
}

// Wait blocks until Run has flushed and returned.
func (w *StateWriter) Wait() {
	<-w.done
}

func (w *StateWriter) flush(pending map[string]*model.VehicleState) {
	if len(pending) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for id, st := range pending {
		if err := w.records.UpsertStateRecord(ctx, st.StateRecord()); err != nil {
			w.metrics.StateUpsertErrs.Inc()
			log.Printf("[StateWriter] Upsert failed for %s: %v", id, err)
		} else {
			w.metrics.StateUpserts.Inc()
		}
		if w.shadow != nil {
			if err := w.shadow.WriteShadow(ctx, st); err != nil {
				log.Printf("[StateWriter] Shadow write failed for %s: %v", id, err)
			}
		}
		delete(pending, id)
	}
}
