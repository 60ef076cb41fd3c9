package model

import "time"

// PositionReport is a single GPS report received from a device.
// Reports arrive as JSON messages on the uplink subject; RecordedAt is the
// device clock, ReceivedAt is stamped by the subscriber on arrival.
type PositionReport struct {
	VehicleID  string    `json:"vehicle_id"`
	DeviceID   string    `json:"device_id,omitempty"`
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	Altitude   *float64  `json:"altitude,omitempty"`
	SpeedKmh   *float64  `json:"speed,omitempty"`
	Heading    *float64  `json:"heading,omitempty"`
	Satellites *int      `json:"satellites,omitempty"`
	RecordedAt time.Time `json:"timestamp"`
	ReceivedAt time.Time `json:"-"`
}

// ValidationResult classifies a report after validation.
type ValidationResult string

const (
	ReportAccepted        ValidationResult = "accepted"
	ReportAcceptedSuspect ValidationResult = "accepted_suspect"
	ReportRejected        ValidationResult = "rejected"
)

// RejectReason identifies why a report was dropped.
type RejectReason string

const (
	RejectOutOfRange  RejectReason = "out_of_range"
	RejectNullIsland  RejectReason = "null_island"
	RejectFutureClock RejectReason = "future_clock"
	RejectOutOfOrder  RejectReason = "out_of_order"
	RejectDuplicate   RejectReason = "duplicate"
)

// Position is a processed location history record, keyed by (vehicle_id, recorded_at).
type Position struct {
	VehicleID  string    `json:"vehicle_id" gorm:"column:vehicle_id;type:varchar(64);not null;primaryKey"`
	RecordedAt time.Time `json:"recorded_at" gorm:"column:recorded_at;not null;primaryKey"`
	ReceivedAt time.Time `json:"received_at" gorm:"column:received_at;not null"`
	Lat        float64   `json:"lat" gorm:"type:double precision;not null"`
	Lon        float64   `json:"lon" gorm:"type:double precision;not null"`
	Altitude   *float64  `json:"altitude,omitempty" gorm:"type:double precision"`
	SpeedKmh   float64   `json:"speed_kmh" gorm:"column:speed_kmh;type:double precision"`
	Heading    float64   `json:"heading" gorm:"type:double precision"`
	Satellites *int      `json:"satellites,omitempty"`
	Suspect    bool      `json:"suspect" gorm:"not null;default:false"`
	TripID     string    `json:"trip_id,omitempty" gorm:"column:trip_id;type:varchar(36)"`
}

func (Position) TableName() string {
	return "locations"
}
