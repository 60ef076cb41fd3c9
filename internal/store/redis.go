package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/QuocHuannn/fleet-tracker/internal/model"
)

const (
	shadowKeyPrefix      = "fleet:shadow:"
	fingerprintKeyPrefix = "fleet:alert:fp:"
	recentAlertsKey      = "fleet:alerts:recent"
	recentAlertsKept     = 100
)

// Redis mirrors vehicle state for external readers and holds the fast half
// of the alert fingerprint store.
type Redis struct {
	client *redis.Client
}

// NewRedis wraps a connected client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// WriteShadow mirrors a committed vehicle state to the read-side cache.
func (r *Redis) WriteShadow(ctx context.Context, st *model.VehicleState) error {
	payload := map[string]interface{}{
		"vehicle_id":  st.VehicleID,
		"lat":         st.Lat,
		"lon":         st.Lon,
		"speed_kmh":   st.SpeedKmh,
		"heading":     st.Heading,
		"recorded_at": st.RecordedAt.Unix(),
		"online":      st.Online,
		"trip_id":     st.ActiveTripID,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	key := shadowKeyPrefix + st.VehicleID
	if err := r.client.Set(ctx, key, data, 24*time.Hour).Err(); err != nil {
		return fmt.Errorf("write shadow for %s: %w", st.VehicleID, err)
	}
	return nil
}

// Register records an alert fingerprint if absent. SET NX gives the atomic
// upsert-if-absent the emitter's exactly-once-per-transition check needs.
func (r *Redis) Register(ctx context.Context, fingerprint string, ttl time.Duration) (bool, error) {
	key := fingerprintKeyPrefix + fingerprint
	ok, err := r.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("register fingerprint: %w", err)
	}
	return ok, nil
}

// CacheAlert pushes an alert onto the recent-alerts list for dashboards.
func (r *Redis) CacheAlert(ctx context.Context, alert *model.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return err
	}
	pipe := r.client.Pipeline()
	pipe.LPush(ctx, recentAlertsKey, data)
	pipe.LTrim(ctx, recentAlertsKey, 0, recentAlertsKept-1)
	_, err = pipe.Exec(ctx)
	return err
}
