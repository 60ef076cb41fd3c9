package model

import (
	"fmt"
	"time"
)

// AlertType classifies alert events.
type AlertType string

const (
	AlertGeofenceEntry  AlertType = "GEOFENCE_ENTRY"
	AlertGeofenceExit   AlertType = "GEOFENCE_EXIT"
	AlertSpeedViolation AlertType = "SPEED_VIOLATION"
	AlertDeviceOffline  AlertType = "DEVICE_OFFLINE"
)

// AlertSeverity levels mirror the notification collaborator's taxonomy.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// SpeedViolationKind distinguishes in-zone limits from the road limit.
type SpeedViolationKind string

const (
	SpeedViolationInZone SpeedViolationKind = "in_zone"
	SpeedViolationRoad   SpeedViolationKind = "road"
)

// Alert is an immutable alert event, emitted at most once per state
// transition. Fingerprint carries the dedup key enforced by a unique index.
type Alert struct {
	ID           string        `json:"id" gorm:"type:varchar(36);primaryKey"`
	VehicleID    string        `json:"vehicle_id" gorm:"column:vehicle_id;type:varchar(64);not null;index"`
	GeofenceID   *uint         `json:"geofence_id,omitempty" gorm:"column:geofence_id"`
	GeofenceName string        `json:"geofence_name,omitempty" gorm:"column:geofence_name;size:100"`
	Type         AlertType     `json:"type" gorm:"size:32;not null;index"`
	Kind         string        `json:"kind,omitempty" gorm:"size:16"`
	Lat          float64       `json:"lat" gorm:"type:double precision"`
	Lon          float64       `json:"lon" gorm:"type:double precision"`
	SpeedKmh     *float64      `json:"speed_kmh,omitempty" gorm:"column:speed_kmh;type:double precision"`
	SpeedLimit   *float64      `json:"speed_limit,omitempty" gorm:"column:speed_limit;type:double precision"`
	Severity     AlertSeverity `json:"severity" gorm:"size:16;not null;default:warning"`
	Fingerprint  string        `json:"fingerprint" gorm:"size:160;not null;uniqueIndex"`
	CreatedAt    time.Time     `json:"created_at"`
}

func (Alert) TableName() string {
	return "alerts"
}

// AlertFingerprint builds the logical dedup key for one discrete transition.
// transitionEpoch is the recorded time of the report (or sweep) that caused
// the transition, so a replayed report maps to the same fingerprint.
func AlertFingerprint(vehicleID string, typ AlertType, geofenceID *uint, transitionEpoch time.Time) string {
	gid := uint(0)
	if geofenceID != nil {
		gid = *geofenceID
	}
	return fmt.Sprintf("%s:%s:%d:%d", vehicleID, typ, gid, transitionEpoch.UnixMilli())
}

// Subject returns the NATS subject an alert is published on.
func (a *Alert) Subject() string {
	return "fleet.alarm." + string(a.Type)
}
