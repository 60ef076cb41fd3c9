package pipeline

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/QuocHuannn/fleet-tracker/internal/metrics"
	"github.com/QuocHuannn/fleet-tracker/internal/model"
)

// FingerprintStore remembers which alert fingerprints were already emitted.
// Register must be an atomic upsert-if-absent: it returns true exactly once
// per fingerprint across concurrent callers.
type FingerprintStore interface {
	Register(ctx context.Context, fingerprint string, ttl time.Duration) (bool, error)
}

// AlertStore persists alert records. Save must surface ErrDuplicateAlert
// when the fingerprint's unique constraint rejects the row.
type AlertStore interface {
	SaveAlert(ctx context.Context, alert *model.Alert) error
}

// AlertPublisher delivers an alert to the notification collaborator.
// Delivery is at-least-once; the collaborator dedups on the fingerprint.
type AlertPublisher interface {
	PublishAlert(ctx context.Context, alert *model.Alert) error
}

// ErrDuplicateAlert signals that an alert with the same fingerprint was
// already persisted.
var ErrDuplicateAlert = errors.New("alert fingerprint already persisted")

// Emitter deduplicates and delivers alerts: at most one per transition
// fingerprint, with bounded-retry publication to the notification
// collaborator. The fingerprint check and the durable insert run
// synchronously in the caller's per-vehicle sequence; only the outbound
// publish is dispatched asynchronously.
type Emitter struct {
	fingerprints FingerprintStore
	store        AlertStore
	publisher    AlertPublisher
	metrics      *metrics.Collector

	fingerprintTTL  time.Duration
	publishAttempts int

	outbox chan *model.Alert
	done   chan struct{}
}

// NewEmitter wires an emitter. outboxSize bounds the async publish queue;
// when it fills, Emit publishes synchronously rather than dropping.
func NewEmitter(fp FingerprintStore, store AlertStore, pub AlertPublisher, m *metrics.Collector, fingerprintTTL time.Duration, publishAttempts, outboxSize int) *Emitter {
	return &Emitter{
		fingerprints:    fp,
		store:           store,
		publisher:       pub,
		metrics:         m,
		fingerprintTTL:  fingerprintTTL,
		publishAttempts: publishAttempts,
		outbox:          make(chan *model.Alert, outboxSize),
		done:            make(chan struct{}),
	}
}

// Run drains the outbox until ctx is cancelled, then finishes whatever is
// queued before returning.
func (e *Emitter) Run(ctx context.Context) {
	defer close(e.done)
	for {
		select {
		case alert := <-e.outbox:
			e.publish(context.Background(), alert)
		case <-ctx.Done():
			for {
				select {
				case alert := <-e.outbox:
					e.publish(context.Background(), alert)
				default:
					return
				}
			}
		}
	}
}

// Wait blocks until Run has drained and returned.
func (e *Emitter) Wait() {
	<-e.done
}

// Emit delivers one alert at most once per fingerprint. Replayed emission
// attempts for the same transition are suppressed by the fingerprint store,
// and failing that, by the alert table's unique constraint.
func (e *Emitter) Emit(ctx context.Context, alert *model.Alert) error {
	fresh, err := e.fingerprints.Register(ctx, alert.Fingerprint, e.fingerprintTTL)
	if err != nil {
		// Fingerprint store unavailable: fall through to the database
		// constraint so delivery stays at-least-once rather than lost.
		log.Printf("[AlertEmitter] Fingerprint check failed for %s: %v", alert.Fingerprint, err)
	} else if !fresh {
		e.metrics.AlertsDeduped.Inc()
		return nil
	}

	if err := e.store.SaveAlert(ctx, alert); err != nil {
		if errors.Is(err, ErrDuplicateAlert) {
			e.metrics.AlertsDeduped.Inc()
			return nil
		}
		return err
	}

	e.metrics.AlertsEmitted.WithLabelValues(string(alert.Type)).Inc()

	select {
	case e.outbox <- alert:
	default:
		// Outbox full: deliver inline so the alert is not lost.
		e.publish(ctx, alert)
	}
	return nil
}

func (e *Emitter) publish(ctx context.Context, alert *model.Alert) {
	var err error
	for attempt := 1; attempt <= e.publishAttempts; attempt++ {
		if err = e.publisher.PublishAlert(ctx, alert); err == nil {
			return
		}
		backoff := time.Duration(attempt) * 200 * time.Millisecond
		log.Printf("[AlertEmitter] Publish attempt %d/%d failed for %s: %v", attempt, e.publishAttempts, alert.Fingerprint, err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	e.metrics.AlertPublishErrs.Inc()
	log.Printf("[AlertEmitter] Giving up on alert %s after %d attempts: %v", alert.Fingerprint, e.publishAttempts, err)
}
