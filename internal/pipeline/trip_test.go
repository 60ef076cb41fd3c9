package pipeline

import (
	"testing"
	"time"

	"github.com/QuocHuannn/fleet-tracker/internal/model"
)

func newTestDetector() *TripDetector {
	return NewTripDetector(5, 3, 5*time.Minute)
}

func fix(vehicleID string, lat, lon float64, at time.Time) *model.PositionReport {
	return &model.PositionReport{
		VehicleID:  vehicleID,
		Lat:        lat,
		Lon:        lon,
		RecordedAt: at,
		ReceivedAt: at,
	}
}

func TestTripOpensAfterDebounce(t *testing.T) {
	d := newTestDetector()
	base := time.Now()

	// Parked, then three consecutive above-threshold reports.
	d.Feed(fix("VH-001", 10.000, 106.000, base), 0, false)

	ev := d.Feed(fix("VH-001", 10.001, 106.000, base.Add(30*time.Second)), 20, false)
	if ev.Opened != nil {
		t.Fatal("one above-threshold report should not open a trip")
	}
	ev = d.Feed(fix("VH-001", 10.002, 106.000, base.Add(60*time.Second)), 25, false)
	if ev.Opened != nil {
		t.Fatal("two above-threshold reports should not open a trip")
	}
	ev = d.Feed(fix("VH-001", 10.003, 106.000, base.Add(90*time.Second)), 30, false)
	if ev.Opened == nil {
		t.Fatal("third consecutive above-threshold report should open a trip")
	}

	trip := ev.Opened
	if trip.VehicleID != "VH-001" || trip.Status != model.TripActive {
		t.Errorf("opened trip = %+v, want active trip for VH-001", trip)
	}
	// Start position is where the vehicle last sat idle, start time is the
	// first sample of the motion run.
	if trip.StartLat != 10.000 || trip.StartLon != 106.000 {
		t.Errorf("start position = (%f, %f), want the last idle fix", trip.StartLat, trip.StartLon)
	}
	if !trip.StartTime.Equal(base.Add(30 * time.Second)) {
		t.Errorf("start time = %v, want the first above-threshold sample", trip.StartTime)
	}
	if d.ActiveTripID("VH-001") != trip.ID {
		t.Errorf("ActiveTripID() = %q, want %q", d.ActiveTripID("VH-001"), trip.ID)
	}
}

func TestTripDebounceResetsOnSlowSample(t *testing.T) {
	d := newTestDetector()
	base := time.Now()

	d.Feed(fix("VH-001", 10.000, 106.000, base), 20, false)
	d.Feed(fix("VH-001", 10.001, 106.000, base.Add(30*time.Second)), 20, false)
	// Dip below the threshold: the count starts over.
	d.Feed(fix("VH-001", 10.001, 106.000, base.Add(60*time.Second)), 2, false)
	d.Feed(fix("VH-001", 10.002, 106.000, base.Add(90*time.Second)), 20, false)
	ev := d.Feed(fix("VH-001", 10.003, 106.000, base.Add(120*time.Second)), 20, false)
	if ev.Opened != nil {
		t.Fatal("debounce count should reset after a below-threshold sample")
	}
	ev = d.Feed(fix("VH-001", 10.004, 106.000, base.Add(150*time.Second)), 20, false)
	if ev.Opened == nil {
		t.Error("trip should open once the count is satisfied again")
	}
}

func openTrip(t *testing.T, d *TripDetector, vehicleID string, base time.Time) *model.Trip {
	t.Helper()
	var opened *model.Trip
	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * 30 * time.Second)
		ev := d.Feed(fix(vehicleID, 10.0+float64(i)*0.001, 106.0, at), 20, false)
		opened = ev.Opened
	}
	if opened == nil {
		t.Fatal("failed to open trip")
	}
	return opened
}

func TestTripClosesAfterIdlePeriod(t *testing.T) {
	d := newTestDetector()
	base := time.Now()
	opened := openTrip(t, d, "VH-001", base)

	// Stops at minute 3 and stays parked.
	stopAt := base.Add(3 * time.Minute)
	ev := d.Feed(fix("VH-001", 10.005, 106.000, stopAt), 0, false)
	if ev.Closed != nil {
		t.Fatal("trip should not close the moment the vehicle stops")
	}
	ev = d.Feed(fix("VH-001", 10.005, 106.000, stopAt.Add(3*time.Minute)), 0, false)
	if ev.Closed != nil {
		t.Fatal("idle threshold not yet reached")
	}
	ev = d.Feed(fix("VH-001", 10.005, 106.000, stopAt.Add(5*time.Minute)), 0, false)
	if ev.Closed == nil {
		t.Fatal("trip should close after the idle threshold elapses")
	}

	closed := ev.Closed
	if closed.ID != opened.ID {
		t.Errorf("closed trip ID = %q, want the opened trip %q", closed.ID, opened.ID)
	}
	if closed.Status != model.TripCompleted {
		t.Errorf("closed trip status = %s, want completed", closed.Status)
	}
	// End point and time are where and when the vehicle first stopped, not
	// where the idle timer fired.
	if closed.EndLat == nil || *closed.EndLat != 10.005 {
		t.Errorf("end lat = %v, want 10.005", closed.EndLat)
	}
	if closed.EndTime == nil || !closed.EndTime.Equal(stopAt) {
		t.Errorf("end time = %v, want %v", closed.EndTime, stopAt)
	}
	if d.ActiveTripID("VH-001") != "" {
		t.Error("no trip should remain active after close")
	}
}

func TestTripBriefStopDoesNotClose(t *testing.T) {
	d := newTestDetector()
	base := time.Now()
	opened := openTrip(t, d, "VH-001", base)

	// Red light: two minutes of standstill, then moving again.
	stopAt := base.Add(3 * time.Minute)
	d.Feed(fix("VH-001", 10.005, 106.000, stopAt), 0, false)
	ev := d.Feed(fix("VH-001", 10.006, 106.000, stopAt.Add(2*time.Minute)), 20, false)
	if ev.Closed != nil {
		t.Fatal("a stop shorter than the idle threshold must not close the trip")
	}
	if d.ActiveTripID("VH-001") != opened.ID {
		t.Error("trip should still be active after a brief stop")
	}
}

func TestTripDistanceAccumulation(t *testing.T) {
	d := newTestDetector()
	base := time.Now()
	openTrip(t, d, "VH-001", base)

	// Two fixes 0.01 degrees of latitude apart, roughly 1.1 km each.
	d.Feed(fix("VH-001", 10.012, 106.000, base.Add(2*time.Minute)), 40, false)
	d.Feed(fix("VH-001", 10.022, 106.000, base.Add(3*time.Minute)), 60, false)

	// Close by idling.
	stopAt := base.Add(4 * time.Minute)
	d.Feed(fix("VH-001", 10.022, 106.000, stopAt), 0, false)
	ev := d.Feed(fix("VH-001", 10.022, 106.000, stopAt.Add(5*time.Minute)), 0, false)
	if ev.Closed == nil {
		t.Fatal("trip should close")
	}
	// About 2.2 km of cruising plus the 0.2 km covered while the open was
	// still debouncing.
	if ev.Closed.DistanceKm < 2.2 || ev.Closed.DistanceKm > 2.7 {
		t.Errorf("distance = %f km, want about 2.4", ev.Closed.DistanceKm)
	}
	if ev.Closed.MaxSpeedKmh != 60 {
		t.Errorf("max speed = %f, want 60", ev.Closed.MaxSpeedKmh)
	}
}

func TestTripDistanceIncludesDebounceRun(t *testing.T) {
	d := newTestDetector()
	base := time.Now()

	// Parked, then three above-threshold samples moving north. The ground
	// covered before the third sample confirms the trip still belongs to it.
	d.Feed(fix("VH-001", 10.000, 106.000, base), 0, false)
	d.Feed(fix("VH-001", 10.002, 106.000, base.Add(30*time.Second)), 70, false)
	d.Feed(fix("VH-001", 10.004, 106.000, base.Add(60*time.Second)), 60, false)
	ev := d.Feed(fix("VH-001", 10.006, 106.000, base.Add(90*time.Second)), 60, false)
	if ev.Opened == nil {
		t.Fatal("trip should open on the third above-threshold sample")
	}

	// Three 0.002 degree hops from the idle fix, roughly 0.67 km.
	if ev.Opened.DistanceKm < 0.6 || ev.Opened.DistanceKm > 0.75 {
		t.Errorf("opened distance = %f km, want about 0.67", ev.Opened.DistanceKm)
	}
	if ev.Opened.MaxSpeedKmh != 70 {
		t.Errorf("opened max speed = %f, want the debounce-run peak 70", ev.Opened.MaxSpeedKmh)
	}
}

func TestTripSuspectFixExcludedFromDistance(t *testing.T) {
	d := newTestDetector()
	base := time.Now()
	openTrip(t, d, "VH-001", base)

	// A GPS jump a full degree away, flagged suspect, then back on route.
	d.Feed(fix("VH-001", 11.0, 106.000, base.Add(2*time.Minute)), 40, true)
	d.Feed(fix("VH-001", 10.012, 106.000, base.Add(3*time.Minute)), 40, false)

	stopAt := base.Add(4 * time.Minute)
	d.Feed(fix("VH-001", 10.012, 106.000, stopAt), 0, false)
	ev := d.Feed(fix("VH-001", 10.012, 106.000, stopAt.Add(5*time.Minute)), 0, false)
	if ev.Closed == nil {
		t.Fatal("trip should close")
	}
	// Neither the jump out nor the jump back may count: over 100 km of
	// phantom distance otherwise.
	if ev.Closed.DistanceKm > 5 {
		t.Errorf("distance = %f km, suspect fixes inflated the trip", ev.Closed.DistanceKm)
	}
}

func TestTripRestoreStartsIdle(t *testing.T) {
	d := newTestDetector()
	now := time.Now()

	st := &model.VehicleState{
		VehicleID:       "VH-001",
		Lat:             10.0,
		Lon:             106.0,
		RecordedAt:      now.Add(-time.Minute),
		InsideGeofences: make(map[uint]struct{}),
	}
	d.Restore(st, now)

	if d.ActiveTripID("VH-001") != "" {
		t.Fatal("restored vehicle must not carry an in-memory active trip")
	}

	// Motion after restore opens a fresh trip whose start is the restored
	// position.
	var opened *model.Trip
	for i := 1; i <= 3; i++ {
		ev := d.Feed(fix("VH-001", 10.0+float64(i)*0.001, 106.0, now.Add(time.Duration(i)*30*time.Second)), 20, false)
		opened = ev.Opened
	}
	if opened == nil {
		t.Fatal("trip should open after restore")
	}
	if opened.StartLat != 10.0 || opened.StartLon != 106.0 {
		t.Errorf("start position = (%f, %f), want the restored position", opened.StartLat, opened.StartLon)
	}
}
