package natsio

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/nats-io/nats.go"

	"github.com/QuocHuannn/fleet-tracker/internal/model"
	"github.com/QuocHuannn/fleet-tracker/internal/store"
)

// Publisher delivers alerts to the notification collaborator over NATS.
type Publisher struct {
	conn          *nats.Conn
	subjectPrefix string
	cache         *store.Redis
}

// NewPublisher wires a publisher. cache may be nil; when set, every
// published alert is also pushed onto the recent-alerts list.
func NewPublisher(conn *nats.Conn, subjectPrefix string, cache *store.Redis) *Publisher {
	return &Publisher{conn: conn, subjectPrefix: subjectPrefix, cache: cache}
}

// PublishAlert publishes an alert on its type subject and a per-vehicle
// subject, e.g. fleet.alarm.GEOFENCE_ENTRY and
// fleet.alarm.GEOFENCE_ENTRY.<vehicle_id>.
func (p *Publisher) PublishAlert(ctx context.Context, alert *model.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", p.subjectPrefix, alert.Type)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}

	vehicleSubject := fmt.Sprintf("%s.%s.%s", p.subjectPrefix, alert.Type, alert.VehicleID)
	if err := p.conn.Publish(vehicleSubject, data); err != nil {
		log.Printf("[AlertPublisher] Vehicle subject publish failed: %v", err)
	}

	if p.cache != nil {
		if err := p.cache.CacheAlert(ctx, alert); err != nil {
			log.Printf("[AlertPublisher] Recent-alert cache failed: %v", err)
		}
	}
	return nil
}
