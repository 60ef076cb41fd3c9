package model

import "time"

// TripStatus tracks the lifecycle of a trip record.
type TripStatus string

const (
	TripActive    TripStatus = "active"
	TripCompleted TripStatus = "completed"
	// TripCompletedRecovered marks a trip closed by the recovery sweep after a
	// restart, using the last known position as its end point.
	TripCompletedRecovered TripStatus = "completed-recovered"
)

// Trip is a contiguous period of motion bounded by idle periods.
// At most one active trip exists per vehicle.
type Trip struct {
	ID          string     `json:"id" gorm:"type:varchar(36);primaryKey"`
	VehicleID   string     `json:"vehicle_id" gorm:"column:vehicle_id;type:varchar(64);not null;index"`
	StartLat    float64    `json:"start_lat" gorm:"column:start_lat;type:double precision;not null"`
	StartLon    float64    `json:"start_lon" gorm:"column:start_lon;type:double precision;not null"`
	StartTime   time.Time  `json:"start_time" gorm:"column:start_time;not null"`
	EndLat      *float64   `json:"end_lat,omitempty" gorm:"column:end_lat;type:double precision"`
	EndLon      *float64   `json:"end_lon,omitempty" gorm:"column:end_lon;type:double precision"`
	EndTime     *time.Time `json:"end_time,omitempty" gorm:"column:end_time"`
	DistanceKm  float64    `json:"distance_km" gorm:"column:distance_km;type:double precision;not null;default:0"`
	MaxSpeedKmh float64    `json:"max_speed_kmh" gorm:"column:max_speed_kmh;type:double precision;not null;default:0"`
	Status      TripStatus `json:"status" gorm:"size:24;not null;default:active;index"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (Trip) TableName() string {
	return "trips"
}
