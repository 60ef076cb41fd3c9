// Package spatial holds the in-memory geofence index. An Index is built
// whole from a geofence snapshot and installed with an atomic swap, so
// evaluators always read a fully consistent set of polygons.
package spatial

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/QuocHuannn/fleet-tracker/internal/geo"
	"github.com/QuocHuannn/fleet-tracker/internal/model"
)

// cellSizeDeg is the grid cell size in degrees. 0.1 degree is ~11 km of
// latitude, coarse enough to keep the grid small and fine enough that a
// lookup only touches fences near the point.
const cellSizeDeg = 0.1

// Entry is one indexed geofence with its decoded ring and bounds.
type Entry struct {
	Fence  *model.Geofence
	Ring   []model.GeoPoint
	Bounds geo.BoundingBox
}

type cellKey struct {
	latIdx int
	lonIdx int
}

// Index is an immutable snapshot of the active geofence set with a uniform
// grid over bounding boxes for candidate pre-filtering.
type Index struct {
	entries []Entry
	grid    map[cellKey][]int
	builtAt time.Time
	version uint64
}

// Build validates and indexes the given geofences. Geofences with rings that
// are not simple closed polygons of at least 3 vertices are rejected with an
// error naming the offender; the caller decides whether to keep serving the
// previous index.
func Build(fences []model.Geofence, version uint64) (*Index, error) {
	idx := &Index{
		grid:    make(map[cellKey][]int),
		builtAt: time.Now(),
		version: version,
	}

	for i := range fences {
		f := &fences[i]
		ring, err := f.Ring()
		if err != nil {
			return nil, fmt.Errorf("geofence %d (%s): decode boundary: %w", f.ID, f.Name, err)
		}
		if len(ring) < 3 {
			return nil, fmt.Errorf("geofence %d (%s): polygon needs at least 3 vertices, got %d", f.ID, f.Name, len(ring))
		}
		for _, p := range ring {
			if p.Lat < -90 || p.Lat > 90 || p.Lon < -180 || p.Lon > 180 {
				return nil, fmt.Errorf("geofence %d (%s): vertex out of range (%f, %f)", f.ID, f.Name, p.Lat, p.Lon)
			}
		}
		if !geo.RingIsSimple(ring) {
			return nil, fmt.Errorf("geofence %d (%s): polygon is self-intersecting", f.ID, f.Name)
		}
		if f.SpeedLimit != nil && *f.SpeedLimit <= 0 {
			return nil, fmt.Errorf("geofence %d (%s): speed limit must be positive, got %f", f.ID, f.Name, *f.SpeedLimit)
		}

		entryIdx := len(idx.entries)
		idx.entries = append(idx.entries, Entry{
			Fence:  f,
			Ring:   ring,
			Bounds: geo.RingBounds(ring),
		})
		idx.addToGrid(entryIdx)
	}

	return idx, nil
}

func (idx *Index) addToGrid(entryIdx int) {
	bb := idx.entries[entryIdx].Bounds
	minLat := int(math.Floor(bb.MinLat / cellSizeDeg))
	maxLat := int(math.Floor(bb.MaxLat / cellSizeDeg))
	minLon := int(math.Floor(bb.MinLon / cellSizeDeg))
	maxLon := int(math.Floor(bb.MaxLon / cellSizeDeg))
	for la := minLat; la <= maxLat; la++ {
		for lo := minLon; lo <= maxLon; lo++ {
			k := cellKey{latIdx: la, lonIdx: lo}
			idx.grid[k] = append(idx.grid[k], entryIdx)
		}
	}
}

// Candidates returns the fences whose bounding box contains the point and
// whose activation window covers t. The caller still runs the exact
// point-in-polygon test.
func (idx *Index) Candidates(lat, lon float64, t time.Time) []Entry {
	k := cellKey{
		latIdx: int(math.Floor(lat / cellSizeDeg)),
		lonIdx: int(math.Floor(lon / cellSizeDeg)),
	}
	slots := idx.grid[k]
	if len(slots) == 0 {
		return nil
	}
	out := make([]Entry, 0, len(slots))
	for _, i := range slots {
		e := idx.entries[i]
		if !e.Bounds.Contains(lat, lon) {
			continue
		}
		if !e.Fence.ActiveAt(t) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Lookup returns the indexed entry for a geofence ID, if present.
func (idx *Index) Lookup(geofenceID uint) (Entry, bool) {
	for _, e := range idx.entries {
		if e.Fence.ID == geofenceID {
			return e, true
		}
	}
	return Entry{}, false
}

// Len returns the number of indexed geofences.
func (idx *Index) Len() int {
	return len(idx.entries)
}

// Version identifies the configuration generation this index was built from.
func (idx *Index) Version() uint64 {
	return idx.version
}

// Holder provides atomic whole-index replacement. Readers call Current and
// keep using the returned index for the duration of one evaluation, so a
// concurrent swap never produces a torn read.
type Holder struct {
	current atomic.Pointer[Index]
}

// NewHolder returns a holder seeded with an empty index.
func NewHolder() *Holder {
	h := &Holder{}
	empty, _ := Build(nil, 0)
	h.current.Store(empty)
	return h
}

// Current returns the installed index.
func (h *Holder) Current() *Index {
	return h.current.Load()
}

// Replace atomically installs a fully built index.
func (h *Holder) Replace(idx *Index) {
	h.current.Store(idx)
}
