package model

import (
	"time"

	"github.com/lib/pq"
)

// VehicleState is the authoritative current state of one vehicle. It is owned
// by the state store; external readers only ever see copies via Snapshot.
type VehicleState struct {
	VehicleID      string
	Lat            float64
	Lon            float64
	Altitude       *float64
	SpeedKmh       float64
	Heading        float64
	RecordedAt     time.Time
	LastUpdate     time.Time
	Online         bool
	Suspect        bool
	ActiveTripID   string
	InsideGeofences map[uint]struct{}
}

// Inside reports whether the vehicle was inside the given geofence as of the
// last evaluated report.
func (s *VehicleState) Inside(geofenceID uint) bool {
	_, ok := s.InsideGeofences[geofenceID]
	return ok
}

// Clone returns a deep copy safe to hand to readers.
func (s *VehicleState) Clone() *VehicleState {
	cp := *s
	cp.InsideGeofences = make(map[uint]struct{}, len(s.InsideGeofences))
	for id := range s.InsideGeofences {
		cp.InsideGeofences[id] = struct{}{}
	}
	if s.Altitude != nil {
		alt := *s.Altitude
		cp.Altitude = &alt
	}
	return &cp
}

// GeofenceIDs returns the current membership set as a slice.
func (s *VehicleState) GeofenceIDs() []uint {
	ids := make([]uint, 0, len(s.InsideGeofences))
	for id := range s.InsideGeofences {
		ids = append(ids, id)
	}
	return ids
}

// VehicleStateRecord is the persisted current-state row, upserted per vehicle.
type VehicleStateRecord struct {
	VehicleID       string        `json:"vehicle_id" gorm:"column:vehicle_id;type:varchar(64);primaryKey"`
	Lat             float64       `json:"lat" gorm:"type:double precision;not null"`
	Lon             float64       `json:"lon" gorm:"type:double precision;not null"`
	SpeedKmh        float64       `json:"speed_kmh" gorm:"column:speed_kmh;type:double precision"`
	Heading         float64       `json:"heading" gorm:"type:double precision"`
	RecordedAt      time.Time     `json:"recorded_at" gorm:"column:recorded_at;not null"`
	Online          bool          `json:"online" gorm:"not null;default:true"`
	ActiveTripID    string        `json:"active_trip_id,omitempty" gorm:"column:active_trip_id;type:varchar(36)"`
	InsideGeofences pq.Int64Array `json:"inside_geofences" gorm:"column:inside_geofences;type:integer[]"`
	UpdatedAt       time.Time     `json:"updated_at" gorm:"not null"`
}

func (VehicleStateRecord) TableName() string {
	return "vehicle_states"
}

// State converts a persisted row back to in-memory state, used to warm the
// store after a restart.
func (r *VehicleStateRecord) State() *VehicleState {
	inside := make(map[uint]struct{}, len(r.InsideGeofences))
	for _, id := range r.InsideGeofences {
		inside[uint(id)] = struct{}{}
	}
	return &VehicleState{
		VehicleID:       r.VehicleID,
		Lat:             r.Lat,
		Lon:             r.Lon,
		SpeedKmh:        r.SpeedKmh,
		Heading:         r.Heading,
		RecordedAt:      r.RecordedAt,
		LastUpdate:      r.UpdatedAt,
		Online:          r.Online,
		ActiveTripID:    r.ActiveTripID,
		InsideGeofences: inside,
	}
}

// StateRecord converts the in-memory state to its persisted form.
func (s *VehicleState) StateRecord() *VehicleStateRecord {
	ids := make(pq.Int64Array, 0, len(s.InsideGeofences))
	for id := range s.InsideGeofences {
		ids = append(ids, int64(id))
	}
	return &VehicleStateRecord{
		VehicleID:       s.VehicleID,
		Lat:             s.Lat,
		Lon:             s.Lon,
		SpeedKmh:        s.SpeedKmh,
		Heading:         s.Heading,
		RecordedAt:      s.RecordedAt,
		Online:          s.Online,
		ActiveTripID:    s.ActiveTripID,
		InsideGeofences: ids,
		UpdatedAt:       s.LastUpdate,
	}
}
