package geo

import (
	"math"
	"testing"

	"github.com/QuocHuannn/fleet-tracker/internal/model"
)

func TestHaversineM(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		wantM                  float64
		tolerance              float64
	}{
		{"same point", 10.0, 106.0, 10.0, 106.0, 0, 0.001},
		{"one degree of latitude", 10.0, 106.0, 11.0, 106.0, 111195, 200},
		{"hcmc to hanoi", 10.8231, 106.6297, 21.0278, 105.8342, 1137000, 10000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HaversineM(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			if math.Abs(got-tt.wantM) > tt.tolerance {
				t.Errorf("HaversineM() = %f, want %f (+-%f)", got, tt.wantM, tt.tolerance)
			}
		})
	}
}

func TestBearingDeg(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		want                   float64
	}{
		{"due north", 10.0, 106.0, 11.0, 106.0, 0},
		{"due east", 0.0, 106.0, 0.0, 107.0, 90},
		{"due south", 11.0, 106.0, 10.0, 106.0, 180},
		{"due west", 0.0, 107.0, 0.0, 106.0, 270},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BearingDeg(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			if math.Abs(got-tt.want) > 0.5 {
				t.Errorf("BearingDeg() = %f, want %f", got, tt.want)
			}
		})
	}
}

func square(minLat, minLon, maxLat, maxLon float64) []model.GeoPoint {
	return []model.GeoPoint{
		{Lat: minLat, Lon: minLon},
		{Lat: minLat, Lon: maxLon},
		{Lat: maxLat, Lon: maxLon},
		{Lat: maxLat, Lon: minLon},
	}
}

func TestPointInPolygon(t *testing.T) {
	ring := square(10.0, 106.0, 10.01, 106.01)

	tests := []struct {
		name     string
		lat, lon float64
		want     bool
	}{
		{"center", 10.005, 106.005, true},
		{"outside north", 10.02, 106.005, false},
		{"outside west", 10.005, 105.99, false},
		{"on edge", 10.0, 106.005, true},
		{"on vertex", 10.0, 106.0, true},
		{"far away", -33.8, 151.2, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PointInPolygon(tt.lat, tt.lon, ring); got != tt.want {
				t.Errorf("PointInPolygon(%f, %f) = %v, want %v", tt.lat, tt.lon, got, tt.want)
			}
		})
	}
}

func TestPointInPolygonConcave(t *testing.T) {
	// A "U" shape: the notch between the arms is outside.
	ring := []model.GeoPoint{
		{Lat: 0, Lon: 0},
		{Lat: 0, Lon: 3},
		{Lat: 3, Lon: 3},
		{Lat: 3, Lon: 2},
		{Lat: 1, Lon: 2},
		{Lat: 1, Lon: 1},
		{Lat: 3, Lon: 1},
		{Lat: 3, Lon: 0},
	}

	if !PointInPolygon(0.5, 1.5, ring) {
		t.Error("point in the base of the U should be inside")
	}
	if PointInPolygon(2.0, 1.5, ring) {
		t.Error("point in the notch should be outside")
	}
	if !PointInPolygon(2.0, 0.5, ring) {
		t.Error("point in the left arm should be inside")
	}
}

func TestPointInPolygonTooFewVertices(t *testing.T) {
	if PointInPolygon(1, 1, []model.GeoPoint{{Lat: 0, Lon: 0}, {Lat: 2, Lon: 2}}) {
		t.Error("degenerate ring should contain nothing")
	}
}

func TestRingIsSimple(t *testing.T) {
	if !RingIsSimple(square(0, 0, 1, 1)) {
		t.Error("square should be simple")
	}

	// Bowtie: edges cross in the middle.
	bowtie := []model.GeoPoint{
		{Lat: 0, Lon: 0},
		{Lat: 1, Lon: 1},
		{Lat: 1, Lon: 0},
		{Lat: 0, Lon: 1},
	}
	if RingIsSimple(bowtie) {
		t.Error("bowtie should not be simple")
	}

	// Pinched ring: a later vertex lands on the first edge without properly
	// crossing it.
	pinched := []model.GeoPoint{
		{Lat: 0, Lon: 0},
		{Lat: 0, Lon: 4},
		{Lat: 2, Lon: 4},
		{Lat: 0, Lon: 2},
		{Lat: 2, Lon: 0},
	}
	if RingIsSimple(pinched) {
		t.Error("ring touching its own edge should not be simple")
	}

	// Collinear overlap: two non-adjacent edges share a stretch of line.
	overlap := []model.GeoPoint{
		{Lat: 0, Lon: 0},
		{Lat: 0, Lon: 4},
		{Lat: 1, Lon: 4},
		{Lat: 0, Lon: 3},
		{Lat: 0, Lon: 1},
		{Lat: 1, Lon: 1},
	}
	if RingIsSimple(overlap) {
		t.Error("ring with collinearly overlapping edges should not be simple")
	}

	if RingIsSimple([]model.GeoPoint{{Lat: 0, Lon: 0}, {Lat: 1, Lon: 1}}) {
		t.Error("two vertices cannot form a polygon")
	}
}

func TestRingBounds(t *testing.T) {
	bb := RingBounds(square(10.0, 106.0, 10.01, 106.01))
	if bb.MinLat != 10.0 || bb.MaxLat != 10.01 || bb.MinLon != 106.0 || bb.MaxLon != 106.01 {
		t.Errorf("unexpected bounds: %+v", bb)
	}
	if !bb.Contains(10.005, 106.005) {
		t.Error("center should be contained")
	}
	if !bb.Contains(10.0, 106.0) {
		t.Error("corner should be contained (edges inclusive)")
	}
	if bb.Contains(10.02, 106.005) {
		t.Error("point north of the box should not be contained")
	}
}
