// Package geo provides the spherical and planar geometry primitives used by
// the ingestion core: great-circle distance, bearing, and point-in-polygon
// tests over WGS84 coordinates.
package geo

import (
	"math"

	"github.com/QuocHuannn/fleet-tracker/internal/model"
)

const earthRadiusM = 6371000

// onSegmentEpsilon is the tolerance, in degrees, for treating a point as
// lying exactly on a polygon edge. Roughly a meter at the equator.
const onSegmentEpsilon = 1e-5

// HaversineM returns the great-circle distance between two points in meters.
func HaversineM(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLat := (lat2 - lat1) * math.Pi / 180
	deltaLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusM * c
}

// BearingDeg returns the initial bearing from the first point to the second,
// in degrees clockwise from north, normalized to [0, 360).
func BearingDeg(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLon := (lon2 - lon1) * math.Pi / 180

	y := math.Sin(deltaLon) * math.Cos(lat2Rad)
	x := math.Cos(lat1Rad)*math.Sin(lat2Rad) -
		math.Sin(lat1Rad)*math.Cos(lat2Rad)*math.Cos(deltaLon)

	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

// PointInPolygon reports whether the point lies inside the ring using ray
// casting. A point on the boundary counts as inside (closed region
// semantics), so crossing detection is deterministic at the edge.
func PointInPolygon(lat, lon float64, ring []model.GeoPoint) bool {
	if len(ring) < 3 {
		return false
	}
	if pointOnRing(lat, lon, ring) {
		return true
	}

	inside := false
	j := len(ring) - 1
	for i := 0; i < len(ring); i++ {
		pi := ring[i]
		pj := ring[j]
		if ((pi.Lon > lon) != (pj.Lon > lon)) &&
			(lat < (pj.Lat-pi.Lat)*(lon-pi.Lon)/(pj.Lon-pi.Lon)+pi.Lat) {
			inside = !inside
		}
		j = i
	}
	return inside
}

func pointOnRing(lat, lon float64, ring []model.GeoPoint) bool {
	j := len(ring) - 1
	for i := 0; i < len(ring); i++ {
		if pointOnSegment(lat, lon, ring[j], ring[i]) {
			return true
		}
		j = i
	}
	return false
}

func pointOnSegment(lat, lon float64, a, b model.GeoPoint) bool {
	minLat, maxLat := math.Min(a.Lat, b.Lat), math.Max(a.Lat, b.Lat)
	minLon, maxLon := math.Min(a.Lon, b.Lon), math.Max(a.Lon, b.Lon)
	if lat < minLat-onSegmentEpsilon || lat > maxLat+onSegmentEpsilon ||
		lon < minLon-onSegmentEpsilon || lon > maxLon+onSegmentEpsilon {
		return false
	}
	cross := (b.Lon-a.Lon)*(lat-a.Lat) - (b.Lat-a.Lat)*(lon-a.Lon)
	return math.Abs(cross) < onSegmentEpsilon
}

// RingIsSimple reports whether the ring forms a simple (non-self-intersecting)
// polygon. Adjacent edges sharing a vertex are not counted as intersections.
// Polygon counts are small enough that the quadratic check is fine.
func RingIsSimple(ring []model.GeoPoint) bool {
	n := len(ring)
	if n < 3 {
		return false
	}
	for i := 0; i < n; i++ {
		a1 := ring[i]
		a2 := ring[(i+1)%n]
		for j := i + 1; j < n; j++ {
			// Skip the edge itself and edges sharing a vertex.
			if j == i || (j+1)%n == i || (i+1)%n == j {
				continue
			}
			b1 := ring[j]
			b2 := ring[(j+1)%n]
			if segmentsIntersect(a1, a2, b1, b2) {
				return false
			}
		}
	}
	return true
}

func segmentsIntersect(p1, p2, p3, p4 model.GeoPoint) bool {
	d1 := direction(p3, p4, p1)
	d2 := direction(p3, p4, p2)
	d3 := direction(p1, p2, p3)
	d4 := direction(p1, p2, p4)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	// Collinear cases: an endpoint lying on the other segment still counts,
	// so a ring pinched against one of its own edges is not simple.
	if d1 == 0 && onSegment(p3, p4, p1) {
		return true
	}
	if d2 == 0 && onSegment(p3, p4, p2) {
		return true
	}
	if d3 == 0 && onSegment(p1, p2, p3) {
		return true
	}
	if d4 == 0 && onSegment(p1, p2, p4) {
		return true
	}
	return false
}

// onSegment reports whether c, already known collinear with a-b, lies within
// the segment's bounding box.
func onSegment(a, b, c model.GeoPoint) bool {
	return math.Min(a.Lat, b.Lat) <= c.Lat && c.Lat <= math.Max(a.Lat, b.Lat) &&
		math.Min(a.Lon, b.Lon) <= c.Lon && c.Lon <= math.Max(a.Lon, b.Lon)
}

func direction(a, b, c model.GeoPoint) float64 {
	return (b.Lon-a.Lon)*(c.Lat-a.Lat) - (b.Lat-a.Lat)*(c.Lon-a.Lon)
}

// BoundingBox is an axis-aligned lat/lon rectangle.
type BoundingBox struct {
	MinLat, MinLon, MaxLat, MaxLon float64
}

// RingBounds computes the bounding box of a ring.
func RingBounds(ring []model.GeoPoint) BoundingBox {
	bb := BoundingBox{
		MinLat: math.Inf(1), MinLon: math.Inf(1),
		MaxLat: math.Inf(-1), MaxLon: math.Inf(-1),
	}
	for _, p := range ring {
		bb.MinLat = math.Min(bb.MinLat, p.Lat)
		bb.MinLon = math.Min(bb.MinLon, p.Lon)
		bb.MaxLat = math.Max(bb.MaxLat, p.Lat)
		bb.MaxLon = math.Max(bb.MaxLon, p.Lon)
	}
	return bb
}

// Contains reports whether the point lies inside the box, edges inclusive.
func (bb BoundingBox) Contains(lat, lon float64) bool {
	return lat >= bb.MinLat && lat <= bb.MaxLat &&
		lon >= bb.MinLon && lon <= bb.MaxLon
}
