// Package natsio connects the core to its NATS subjects: position reports in,
// alerts out, geofence reload notifications.
package natsio

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/QuocHuannn/fleet-tracker/internal/model"
)

// ReportSink accepts decoded position reports for processing. The sink owns
// parallelism and ordering; the subscriber only decodes and hands off.
type ReportSink interface {
	Submit(ctx context.Context, report *model.PositionReport) error
}

// Subscriber consumes uplink position reports and config notifications.
type Subscriber struct {
	conn *nats.Conn
	sink ReportSink

	uplinkSub *nats.Subscription
	reloadSub *nats.Subscription
}

// NewSubscriber wires a subscriber around an established connection.
func NewSubscriber(conn *nats.Conn, sink ReportSink) *Subscriber {
	return &Subscriber{conn: conn, sink: sink}
}

// Start subscribes to the uplink subject, handing each decoded report to the
// sink, and to the reload subject, signalling reloadTrigger on each
// notification. The delivery goroutine never runs the pipeline itself: a full
// sink blocks the hand-off, which is the backpressure path.
func (s *Subscriber) Start(ctx context.Context, uplinkSubject, reloadSubject string, reloadTrigger chan<- struct{}) error {
	sub, err := s.conn.Subscribe(uplinkSubject, func(msg *nats.Msg) {
		s.handleReport(ctx, msg)
	})
	if err != nil {
		return err
	}
	s.uplinkSub = sub
	log.Printf("[Uplink] Subscribed to %s", uplinkSubject)

	rsub, err := s.conn.Subscribe(reloadSubject, func(msg *nats.Msg) {
		select {
		case reloadTrigger <- struct{}{}:
		default:
			// A reload is already pending; collapsing notifications is fine.
		}
	})
	if err != nil {
		return err
	}
	s.reloadSub = rsub
	log.Printf("[Uplink] Subscribed to %s", reloadSubject)

	return nil
}

// Drain unsubscribes and lets in-flight handlers finish.
func (s *Subscriber) Drain() {
	if s.uplinkSub != nil {
		s.uplinkSub.Drain()
	}
	if s.reloadSub != nil {
		s.reloadSub.Drain()
	}
}

func (s *Subscriber) handleReport(ctx context.Context, msg *nats.Msg) {
	var report model.PositionReport
	if err := json.Unmarshal(msg.Data, &report); err != nil {
		log.Printf("[Uplink] Malformed report payload: %v", err)
		return
	}
	if report.VehicleID == "" {
		log.Printf("[Uplink] Report without vehicle_id dropped")
		return
	}
	report.ReceivedAt = time.Now()

	if err := s.sink.Submit(ctx, &report); err != nil {
		log.Printf("[Uplink] Report for %s not accepted: %v", report.VehicleID, err)
	}
}
