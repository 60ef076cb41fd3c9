package pipeline

import (
	"sync"
	"time"

	"github.com/QuocHuannn/fleet-tracker/internal/geo"
	"github.com/QuocHuannn/fleet-tracker/internal/model"
	"github.com/QuocHuannn/fleet-tracker/internal/spatial"
)

// GeofenceTransition is one detected membership or in-zone speed event.
type GeofenceTransition struct {
	Type       model.AlertType
	Fence      *model.Geofence
	SpeedLimit *float64
}

type zoneSpeedState struct {
	overLimit   bool
	lastAlertAt time.Time
}

// GeofenceEvaluator diffs a vehicle's new position against its tracked
// geofence membership and decides entry, exit, and in-zone speed events.
// It mutates the membership set on the state it is given, so the caller must
// run it under the vehicle's lock — that is what makes the membership
// compare-and-swap atomic with alert emission.
type GeofenceEvaluator struct {
	// SpeedAlertCooldown re-arms an in-zone speed alert that stays
	// continuously over the limit for this long.
	SpeedAlertCooldown time.Duration

	mu    sync.Mutex
	zones map[string]map[uint]*zoneSpeedState
}

// NewGeofenceEvaluator returns an evaluator with the given cooldown.
func NewGeofenceEvaluator(cooldown time.Duration) *GeofenceEvaluator {
	return &GeofenceEvaluator{
		SpeedAlertCooldown: cooldown,
		zones:              make(map[string]map[uint]*zoneSpeedState),
	}
}

func (e *GeofenceEvaluator) zoneState(vehicleID string, geofenceID uint) *zoneSpeedState {
	e.mu.Lock()
	defer e.mu.Unlock()
	byFence := e.zones[vehicleID]
	if byFence == nil {
		byFence = make(map[uint]*zoneSpeedState)
		e.zones[vehicleID] = byFence
	}
	zs := byFence[geofenceID]
	if zs == nil {
		zs = &zoneSpeedState{}
		byFence[geofenceID] = zs
	}
	return zs
}

// Evaluate checks the vehicle's position against every relevant geofence in
// the index and updates st.InsideGeofences in place. speedKmh is the
// effective speed used for in-zone limit checks. The returned transitions
// are exactly the alerts that gating flags allow, one per discrete change.
func (e *GeofenceEvaluator) Evaluate(st *model.VehicleState, idx *spatial.Index, speedKmh float64, now time.Time) []GeofenceTransition {
	var out []GeofenceTransition

	candidates := idx.Candidates(st.Lat, st.Lon, now)
	seen := make(map[uint]bool, len(candidates))

	for _, entry := range candidates {
		fence := entry.Fence
		seen[fence.ID] = true

		isInside := geo.PointInPolygon(st.Lat, st.Lon, entry.Ring)
		wasInside := st.Inside(fence.ID)

		switch {
		case isInside && !wasInside:
			st.InsideGeofences[fence.ID] = struct{}{}
			if fence.AlertOnEntry {
				out = append(out, GeofenceTransition{Type: model.AlertGeofenceEntry, Fence: fence})
			}
		case !isInside && wasInside:
			delete(st.InsideGeofences, fence.ID)
			e.rearmZone(st.VehicleID, fence.ID)
			if fence.AlertOnExit {
				out = append(out, GeofenceTransition{Type: model.AlertGeofenceExit, Fence: fence})
			}
		case isInside && wasInside:
			if fence.SpeedLimit != nil {
				if t := e.checkZoneSpeed(st.VehicleID, fence, speedKmh, now); t != nil {
					out = append(out, *t)
				}
			}
		}
	}

	// Membership held for fences that are no longer candidates: either the
	// vehicle left their bounding box (a real exit) or the fence was removed
	// or deactivated (membership dropped without an alert).
	for id := range st.InsideGeofences {
		if seen[id] {
			continue
		}
		delete(st.InsideGeofences, id)
		e.rearmZone(st.VehicleID, id)

		entry, ok := idx.Lookup(id)
		if !ok || !entry.Fence.ActiveAt(now) {
			continue
		}
		if entry.Fence.AlertOnExit {
			out = append(out, GeofenceTransition{Type: model.AlertGeofenceExit, Fence: entry.Fence})
		}
	}

	return out
}

// checkZoneSpeed emits at most one speed violation per over-limit episode
// inside a zone. The episode re-arms when the speed drops back under the
// limit, or after the cooldown while continuously over it.
func (e *GeofenceEvaluator) checkZoneSpeed(vehicleID string, fence *model.Geofence, speedKmh float64, now time.Time) *GeofenceTransition {
	zs := e.zoneState(vehicleID, fence.ID)

	if speedKmh <= *fence.SpeedLimit {
		zs.overLimit = false
		return nil
	}

	if zs.overLimit {
		if e.SpeedAlertCooldown <= 0 || now.Sub(zs.lastAlertAt) < e.SpeedAlertCooldown {
			return nil
		}
	}
	zs.overLimit = true
	zs.lastAlertAt = now

	limit := *fence.SpeedLimit
	return &GeofenceTransition{
		Type:       model.AlertSpeedViolation,
		Fence:      fence,
		SpeedLimit: &limit,
	}
}

func (e *GeofenceEvaluator) rearmZone(vehicleID string, geofenceID uint) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if byFence := e.zones[vehicleID]; byFence != nil {
		delete(byFence, geofenceID)
	}
}
