package spatial

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/QuocHuannn/fleet-tracker/internal/model"
)

func boundary(t *testing.T, points ...model.GeoPoint) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(model.PolygonBoundary{Points: points})
	if err != nil {
		t.Fatalf("marshal boundary: %v", err)
	}
	return raw
}

func squareFence(t *testing.T, id uint, minLat, minLon, maxLat, maxLon float64) model.Geofence {
	t.Helper()
	return model.Geofence{
		ID:     id,
		Name:   "zone",
		Type:   model.GeofenceInclusion,
		Active: true,
		Boundary: boundary(t,
			model.GeoPoint{Lat: minLat, Lon: minLon},
			model.GeoPoint{Lat: minLat, Lon: maxLon},
			model.GeoPoint{Lat: maxLat, Lon: maxLon},
			model.GeoPoint{Lat: maxLat, Lon: minLon},
		),
	}
}

func TestBuildRejectsBadGeofences(t *testing.T) {
	negLimit := -10.0

	tests := []struct {
		name    string
		fence   model.Geofence
		wantErr string
	}{
		{
			name: "malformed boundary json",
			fence: model.Geofence{
				ID: 1, Name: "broken", Active: true,
				Boundary: json.RawMessage(`{"points": [`),
			},
			wantErr: "decode boundary",
		},
		{
			name: "too few vertices",
			fence: model.Geofence{
				ID: 2, Name: "line", Active: true,
				Boundary: boundary(t, model.GeoPoint{Lat: 0, Lon: 0}, model.GeoPoint{Lat: 1, Lon: 1}),
			},
			wantErr: "at least 3 vertices",
		},
		{
			name: "vertex out of range",
			fence: model.Geofence{
				ID: 3, Name: "offmap", Active: true,
				Boundary: boundary(t,
					model.GeoPoint{Lat: 95, Lon: 0},
					model.GeoPoint{Lat: 0, Lon: 1},
					model.GeoPoint{Lat: 1, Lon: 0},
				),
			},
			wantErr: "out of range",
		},
		{
			name: "self-intersecting ring",
			fence: model.Geofence{
				ID: 4, Name: "bowtie", Active: true,
				Boundary: boundary(t,
					model.GeoPoint{Lat: 0, Lon: 0},
					model.GeoPoint{Lat: 1, Lon: 1},
					model.GeoPoint{Lat: 1, Lon: 0},
					model.GeoPoint{Lat: 0, Lon: 1},
				),
			},
			wantErr: "self-intersecting",
		},
		{
			name: "non-positive speed limit",
			fence: func() model.Geofence {
				f := squareFence(t, 5, 0, 0, 1, 1)
				f.SpeedLimit = &negLimit
				return f
			}(),
			wantErr: "speed limit must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build([]model.Geofence{tt.fence}, 1)
			if err == nil {
				t.Fatal("Build() succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Build() error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestCandidatesFiltersByBounds(t *testing.T) {
	fences := []model.Geofence{
		squareFence(t, 1, 10.00, 106.00, 10.01, 106.01),
		squareFence(t, 2, 10.50, 106.50, 10.51, 106.51),
	}
	idx, err := Build(fences, 1)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if idx.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", idx.Len())
	}

	now := time.Now()

	got := idx.Candidates(10.005, 106.005, now)
	if len(got) != 1 || got[0].Fence.ID != 1 {
		t.Errorf("Candidates near fence 1 = %v, want only fence 1", got)
	}

	got = idx.Candidates(10.505, 106.505, now)
	if len(got) != 1 || got[0].Fence.ID != 2 {
		t.Errorf("Candidates near fence 2 = %v, want only fence 2", got)
	}

	if got := idx.Candidates(20.0, 100.0, now); len(got) != 0 {
		t.Errorf("Candidates far from both = %v, want none", got)
	}
}

func TestCandidatesHonorsActivationWindow(t *testing.T) {
	start, end := 8*60, 18*60
	f := squareFence(t, 1, 10.00, 106.00, 10.01, 106.01)
	f.StartMinute = &start
	f.EndMinute = &end
	f.ActiveDays = []int64{1, 2, 3, 4, 5}

	idx, err := Build([]model.Geofence{f}, 1)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	// Monday noon vs Monday 3 AM vs Sunday noon, all UTC.
	monNoon := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	monNight := time.Date(2026, 8, 24, 3, 0, 0, 0, time.UTC)
	sunNoon := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)

	if got := idx.Candidates(10.005, 106.005, monNoon); len(got) != 1 {
		t.Errorf("inside window: got %d candidates, want 1", len(got))
	}
	if got := idx.Candidates(10.005, 106.005, monNight); len(got) != 0 {
		t.Errorf("before window opens: got %d candidates, want 0", len(got))
	}
	if got := idx.Candidates(10.005, 106.005, sunNoon); len(got) != 0 {
		t.Errorf("inactive weekday: got %d candidates, want 0", len(got))
	}
}

func TestLargeFenceSpansMultipleCells(t *testing.T) {
	// Half a degree on each side, so the bounding box covers many grid cells.
	idx, err := Build([]model.Geofence{squareFence(t, 1, 10.0, 106.0, 10.5, 106.5)}, 1)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	for _, pt := range []struct{ lat, lon float64 }{
		{10.05, 106.05},
		{10.25, 106.25},
		{10.45, 106.45},
	} {
		if got := idx.Candidates(pt.lat, pt.lon, time.Now()); len(got) != 1 {
			t.Errorf("Candidates(%f, %f) = %d entries, want 1", pt.lat, pt.lon, len(got))
		}
	}
}

func TestLookup(t *testing.T) {
	idx, err := Build([]model.Geofence{squareFence(t, 7, 10.0, 106.0, 10.01, 106.01)}, 1)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if e, ok := idx.Lookup(7); !ok || e.Fence.ID != 7 {
		t.Errorf("Lookup(7) = %v, %v; want fence 7", e, ok)
	}
	if _, ok := idx.Lookup(99); ok {
		t.Error("Lookup(99) found a fence that was never indexed")
	}
}

func TestHolderReplace(t *testing.T) {
	h := NewHolder()
	if h.Current().Len() != 0 {
		t.Fatalf("fresh holder index Len() = %d, want 0", h.Current().Len())
	}

	idx, err := Build([]model.Geofence{squareFence(t, 1, 10.0, 106.0, 10.01, 106.01)}, 3)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	h.Replace(idx)

	cur := h.Current()
	if cur.Len() != 1 || cur.Version() != 3 {
		t.Errorf("Current() Len=%d Version=%d, want 1 and 3", cur.Len(), cur.Version())
	}
}
