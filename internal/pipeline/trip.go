package pipeline

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/QuocHuannn/fleet-tracker/internal/geo"
	"github.com/QuocHuannn/fleet-tracker/internal/model"
)

type tripPhase int

const (
	phaseIdle tripPhase = iota
	phaseMoving
)

// tripTrack is the detector's per-vehicle state. It is only ever touched
// while the pipeline holds that vehicle's lock.
type tripTrack struct {
	phase      tripPhase
	aboveCount int
	runStartAt time.Time

	// Motion accumulated during the debounce run, so the segments between
	// the first above-threshold sample and the open are not lost.
	runDistanceKm  float64
	runMaxSpeedKmh float64

	// Last position observed while idle; used as the trip's start position.
	idleLat, idleLon float64
	idleAt           time.Time
	hasIdlePos       bool

	belowSince time.Time
	belowLat   float64
	belowLon   float64

	trip *model.Trip

	// Previous accepted fix, for distance accumulation.
	prevLat, prevLon float64
	hasPrev          bool
}

// TripEvents carries the boundary decisions for one report.
type TripEvents struct {
	Opened *model.Trip
	Closed *model.Trip
}

// TripDetector decides trip start/stop boundaries from motion and idle
// patterns. One Idle/Moving state machine per vehicle: Idle to Moving after
// the speed exceeds the motion threshold for MotionDebounceCount consecutive
// reports, Moving to Idle after the speed stays below it for IdleCloseAfter.
type TripDetector struct {
	MotionThresholdKmh  float64
	MotionDebounceCount int
	IdleCloseAfter      time.Duration

	mu     sync.Mutex
	tracks map[string]*tripTrack
}

// NewTripDetector returns a detector with the given thresholds.
func NewTripDetector(thresholdKmh float64, debounceCount int, idleCloseAfter time.Duration) *TripDetector {
	return &TripDetector{
		MotionThresholdKmh:  thresholdKmh,
		MotionDebounceCount: debounceCount,
		IdleCloseAfter:      idleCloseAfter,
		tracks:              make(map[string]*tripTrack),
	}
}

func (d *TripDetector) track(vehicleID string) *tripTrack {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := d.tracks[vehicleID]
	if t == nil {
		t = &tripTrack{}
		d.tracks[vehicleID] = t
	}
	return t
}

// Feed advances the vehicle's state machine with one accepted report.
// speedKmh is the effective speed (reported or derived). Suspect reports
// still move the machine but never contribute to trip distance, so a GPS
// jump cannot inflate a trip.
func (d *TripDetector) Feed(report *model.PositionReport, speedKmh float64, suspect bool) TripEvents {
	t := d.track(report.VehicleID)
	var events TripEvents

	switch t.phase {
	case phaseIdle:
		if speedKmh >= d.MotionThresholdKmh {
			if t.aboveCount == 0 {
				t.runStartAt = report.RecordedAt
				t.runDistanceKm = 0
				t.runMaxSpeedKmh = 0
			}
			if !suspect && t.hasPrev {
				t.runDistanceKm += geo.HaversineM(t.prevLat, t.prevLon, report.Lat, report.Lon) / 1000
			}
			if speedKmh > t.runMaxSpeedKmh {
				t.runMaxSpeedKmh = speedKmh
			}
			t.aboveCount++
			if t.aboveCount >= d.MotionDebounceCount {
				events.Opened = d.openTrip(t, report)
			}
		} else {
			t.aboveCount = 0
			t.idleLat = report.Lat
			t.idleLon = report.Lon
			t.idleAt = report.RecordedAt
			t.hasIdlePos = true
		}

	case phaseMoving:
		if !suspect && t.hasPrev {
			t.trip.DistanceKm += geo.HaversineM(t.prevLat, t.prevLon, report.Lat, report.Lon) / 1000
		}
		if speedKmh > t.trip.MaxSpeedKmh {
			t.trip.MaxSpeedKmh = speedKmh
		}

		if speedKmh < d.MotionThresholdKmh {
			if t.belowSince.IsZero() {
				t.belowSince = report.RecordedAt
				t.belowLat = report.Lat
				t.belowLon = report.Lon
			}
			if report.RecordedAt.Sub(t.belowSince) >= d.IdleCloseAfter {
				events.Closed = d.closeTrip(t)
			}
		} else {
			t.belowSince = time.Time{}
		}
	}

	t.prevLat = report.Lat
	t.prevLon = report.Lon
	t.hasPrev = !suspect

	return events
}

func (d *TripDetector) openTrip(t *tripTrack, report *model.PositionReport) *model.Trip {
	startLat, startLon := report.Lat, report.Lon
	if t.hasIdlePos {
		startLat, startLon = t.idleLat, t.idleLon
	}
	t.trip = &model.Trip{
		ID:          uuid.NewString(),
		VehicleID:   report.VehicleID,
		StartLat:    startLat,
		StartLon:    startLon,
		StartTime:   t.runStartAt,
		DistanceKm:  t.runDistanceKm,
		MaxSpeedKmh: t.runMaxSpeedKmh,
		Status:      model.TripActive,
	}
	t.phase = phaseMoving
	t.aboveCount = 0
	t.belowSince = time.Time{}
	return t.trip
}

func (d *TripDetector) closeTrip(t *tripTrack) *model.Trip {
	trip := t.trip
	endLat, endLon := t.belowLat, t.belowLon
	endTime := t.belowSince
	trip.EndLat = &endLat
	trip.EndLon = &endLon
	trip.EndTime = &endTime
	trip.Status = model.TripCompleted

	t.phase = phaseIdle
	t.trip = nil
	t.idleLat = endLat
	t.idleLon = endLon
	t.idleAt = endTime
	t.hasIdlePos = true
	t.belowSince = time.Time{}
	return trip
}

// ActiveTripID returns the vehicle's open trip ID, if any.
func (d *TripDetector) ActiveTripID(vehicleID string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t := d.tracks[vehicleID]; t != nil && t.trip != nil {
		return t.trip.ID
	}
	return ""
}

// Restore seeds a vehicle's machine from the latest persisted state after a
// restart. The phase is re-derived purely from that state and the wall-clock
// gap: a vehicle whose last report is older than the idle threshold starts
// Idle; any trip it had open is closed separately by the recovery sweep.
func (d *TripDetector) Restore(st *model.VehicleState, now time.Time) {
	t := d.track(st.VehicleID)
	t.phase = phaseIdle
	t.idleLat = st.Lat
	t.idleLon = st.Lon
	t.idleAt = st.RecordedAt
	t.hasIdlePos = true
	t.prevLat = st.Lat
	t.prevLon = st.Lon
	t.hasPrev = now.Sub(st.RecordedAt) < d.IdleCloseAfter
}
