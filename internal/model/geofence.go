package model

import (
	"encoding/json"
	"time"

	"github.com/lib/pq"
)

// GeofenceType distinguishes allowed zones from forbidden ones.
type GeofenceType string

const (
	GeofenceInclusion GeofenceType = "inclusion"
	GeofenceExclusion GeofenceType = "exclusion"
)

// GeoPoint is a single WGS84 coordinate.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Geofence is a polygonal zone with entry/exit/speed alerting rules.
// Reference data, managed externally; the core only reads it.
type Geofence struct {
	ID           uint            `json:"id" gorm:"primaryKey"`
	Name         string          `json:"name" gorm:"size:100;not null"`
	Description  string          `json:"description"`
	Type         GeofenceType    `json:"type" gorm:"size:20;not null;default:inclusion"`
	Boundary     json.RawMessage `json:"boundary" gorm:"type:jsonb;not null"`
	SpeedLimit   *float64        `json:"speed_limit,omitempty" gorm:"column:speed_limit;type:double precision"`
	AlertOnEntry bool            `json:"alert_on_entry" gorm:"column:alert_on_entry;not null;default:true"`
	AlertOnExit  bool            `json:"alert_on_exit" gorm:"column:alert_on_exit;not null;default:true"`
	Active       bool            `json:"active" gorm:"not null;default:true;index"`
	// Optional activation window. StartMinute/EndMinute are minutes since
	// midnight UTC; ActiveDays holds weekdays 0 (Sunday) through 6. Empty
	// ActiveDays with nil minutes means always active.
	StartMinute *int          `json:"start_minute,omitempty" gorm:"column:start_minute"`
	EndMinute   *int          `json:"end_minute,omitempty" gorm:"column:end_minute"`
	ActiveDays  pq.Int64Array `json:"active_days,omitempty" gorm:"column:active_days;type:integer[]"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

func (Geofence) TableName() string {
	return "geofences"
}

// PolygonBoundary is the JSON shape stored in the boundary column:
// {"points": [{"lat": ..., "lon": ...}, ...]} forming a closed ring.
type PolygonBoundary struct {
	Points []GeoPoint `json:"points"`
}

// Ring decodes the boundary column into its vertex ring.
func (g *Geofence) Ring() ([]GeoPoint, error) {
	var b PolygonBoundary
	if err := json.Unmarshal(g.Boundary, &b); err != nil {
		return nil, err
	}
	return b.Points, nil
}

// ActiveAt reports whether the geofence's activation window covers t.
// Fences without a window are active whenever their Active flag is set.
func (g *Geofence) ActiveAt(t time.Time) bool {
	if !g.Active {
		return false
	}
	t = t.UTC()
	if len(g.ActiveDays) > 0 {
		day := int64(t.Weekday())
		found := false
		for _, d := range g.ActiveDays {
			if d == day {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if g.StartMinute != nil && g.EndMinute != nil {
		minute := t.Hour()*60 + t.Minute()
		start, end := *g.StartMinute, *g.EndMinute
		if start <= end {
			return minute >= start && minute < end
		}
		// Window wraps past midnight.
		return minute >= start || minute < end
	}
	return true
}
