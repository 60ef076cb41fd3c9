// Package store implements the durable storage and cache collaborators:
// Postgres repositories behind GORM and the Redis shadow/fingerprint store.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/QuocHuannn/fleet-tracker/internal/model"
	"github.com/QuocHuannn/fleet-tracker/internal/pipeline"
)

// Postgres bundles the ingestion core's database repositories.
type Postgres struct {
	db *gorm.DB
}

// NewPostgres wraps an open GORM handle.
func NewPostgres(db *gorm.DB) *Postgres {
	return &Postgres{db: db}
}

// LoadActiveGeofences returns every geofence whose active flag is set.
// Window filtering happens at evaluation time, not load time.
func (s *Postgres) LoadActiveGeofences(ctx context.Context) ([]model.Geofence, error) {
	var fences []model.Geofence
	if err := s.db.WithContext(ctx).Where("active = ?", true).Find(&fences).Error; err != nil {
		return nil, fmt.Errorf("load geofences: %w", err)
	}
	return fences, nil
}

// BatchInsertPositions appends history rows. Conflicts on the
// (vehicle_id, recorded_at) key are ignored so redelivered batches stay
// idempotent.
func (s *Postgres) BatchInsertPositions(ctx context.Context, rows []*model.Position) error {
	if len(rows) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(rows).Error
	if err != nil {
		return fmt.Errorf("insert positions: %w", err)
	}
	return nil
}

// UpsertStateRecord writes the current-state row for a vehicle.
func (s *Postgres) UpsertStateRecord(ctx context.Context, rec *model.VehicleStateRecord) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "vehicle_id"}},
			UpdateAll: true,
		}).
		Create(rec).Error
	if err != nil {
		return fmt.Errorf("upsert state for %s: %w", rec.VehicleID, err)
	}
	return nil
}

// SaveTrip upserts a trip record: insert on open, overwrite on close.
func (s *Postgres) SaveTrip(ctx context.Context, trip *model.Trip) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(trip).Error
	if err != nil {
		return fmt.Errorf("save trip %s: %w", trip.ID, err)
	}
	return nil
}

// SaveAlert appends an alert. The unique index on the fingerprint column is
// the durable half of the dedup guarantee; a constraint hit is surfaced as
// pipeline.ErrDuplicateAlert.
func (s *Postgres) SaveAlert(ctx context.Context, alert *model.Alert) error {
	err := s.db.WithContext(ctx).Create(alert).Error
	if err != nil {
		if strings.Contains(err.Error(), "SQLSTATE 23505") {
			return pipeline.ErrDuplicateAlert
		}
		return fmt.Errorf("save alert %s: %w", alert.ID, err)
	}
	return nil
}

// GetHistory returns position history for a vehicle in a time window,
// newest first.
func (s *Postgres) GetHistory(ctx context.Context, vehicleID string, start, end time.Time, limit int) ([]model.Position, error) {
	var rows []model.Position
	q := s.db.WithContext(ctx).
		Where("vehicle_id = ? AND recorded_at >= ? AND recorded_at <= ?", vehicleID, start, end).
		Order("recorded_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// GetTrips returns a vehicle's trips, newest first.
func (s *Postgres) GetTrips(ctx context.Context, vehicleID string, limit int) ([]model.Trip, error) {
	var trips []model.Trip
	q := s.db.WithContext(ctx).
		Where("vehicle_id = ?", vehicleID).
		Order("start_time DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&trips).Error; err != nil {
		return nil, err
	}
	return trips, nil
}

// GetAlerts returns recent alerts, optionally filtered by vehicle.
func (s *Postgres) GetAlerts(ctx context.Context, vehicleID string, limit int) ([]model.Alert, error) {
	var alerts []model.Alert
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if vehicleID != "" {
		q = q.Where("vehicle_id = ?", vehicleID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&alerts).Error; err != nil {
		return nil, err
	}
	return alerts, nil
}

// LoadStateRecords returns every persisted current-state row, used to warm
// the in-memory store on startup.
func (s *Postgres) LoadStateRecords(ctx context.Context) ([]model.VehicleStateRecord, error) {
	var recs []model.VehicleStateRecord
	if err := s.db.WithContext(ctx).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("load state records: %w", err)
	}
	return recs, nil
}

// RecoverOpenTrips closes every trip left active by the previous process.
// The restarted detector never resumes a persisted trip, so each one is
// finalized with the vehicle's last known position and the
// completed-recovered status. Returns the number of trips closed.
func (s *Postgres) RecoverOpenTrips(ctx context.Context) (int, error) {
	var open []model.Trip
	err := s.db.WithContext(ctx).
		Where("status = ?", model.TripActive).
		Find(&open).Error
	if err != nil {
		return 0, fmt.Errorf("find open trips: %w", err)
	}

	closed := 0
	for i := range open {
		trip := &open[i]

		var rec model.VehicleStateRecord
		endLat, endLon := trip.StartLat, trip.StartLon
		endTime := trip.UpdatedAt
		if err := s.db.WithContext(ctx).First(&rec, "vehicle_id = ?", trip.VehicleID).Error; err == nil {
			endLat, endLon = rec.Lat, rec.Lon
			endTime = rec.RecordedAt
		}

		trip.EndLat = &endLat
		trip.EndLon = &endLon
		trip.EndTime = &endTime
		trip.Status = model.TripCompletedRecovered
		if err := s.db.WithContext(ctx).Save(trip).Error; err != nil {
			return closed, fmt.Errorf("recover trip %s: %w", trip.ID, err)
		}
		closed++
	}
	return closed, nil
}
