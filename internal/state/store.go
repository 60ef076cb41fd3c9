// Package state implements the authoritative per-vehicle current-state table.
// The store is the unit of serialization for ingestion: every mutation for a
// vehicle runs under that vehicle's lock, so validate/update/evaluate/emit
// execute as one atomic sequence per vehicle while different vehicles proceed
// in parallel.
package state

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/QuocHuannn/fleet-tracker/internal/model"
)

const shardCount = 64

type vehicleEntry struct {
	mu    sync.Mutex
	state *model.VehicleState
}

type shard struct {
	mu       sync.RWMutex
	vehicles map[string]*vehicleEntry
}

// Store holds current vehicle state in memory, sharded by vehicle ID hash.
// Entries are created on first report and never destroyed, only marked
// offline.
type Store struct {
	shards [shardCount]*shard
}

// NewStore returns an empty store.
func NewStore() *Store {
	s := &Store{}
	for i := range s.shards {
		s.shards[i] = &shard{vehicles: make(map[string]*vehicleEntry)}
	}
	return s
}

func (s *Store) shardFor(vehicleID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(vehicleID))
	return s.shards[h.Sum32()%shardCount]
}

func (s *Store) entry(vehicleID string, create bool) *vehicleEntry {
	sh := s.shardFor(vehicleID)

	sh.mu.RLock()
	e := sh.vehicles[vehicleID]
	sh.mu.RUnlock()
	if e != nil || !create {
		return e
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if e = sh.vehicles[vehicleID]; e == nil {
		e = &vehicleEntry{}
		sh.vehicles[vehicleID] = e
	}
	return e
}

// WithVehicle runs fn while holding the vehicle's lock. The state passed to
// fn is the live entry: mutations fn makes are committed when fn returns. A
// nil state means no report has ever been accepted for the vehicle; fn may
// initialize it by returning a non-nil state.
func (s *Store) WithVehicle(vehicleID string, fn func(st *model.VehicleState) *model.VehicleState) {
	e := s.entry(vehicleID, true)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = fn(e.state)
}

// Update applies an accepted report to the vehicle's state and returns the
// previous and new state as copies. The previous state is nil on the first
// report for a vehicle.
func (s *Store) Update(report *model.PositionReport, suspect bool) (prev, cur *model.VehicleState) {
	s.WithVehicle(report.VehicleID, func(st *model.VehicleState) *model.VehicleState {
		if st != nil {
			prev = st.Clone()
		}
		st = ApplyReport(st, report, suspect)
		cur = st.Clone()
		return st
	})
	return prev, cur
}

// ApplyReport folds one accepted report into a vehicle state, creating the
// state on first contact. The caller must hold the vehicle's lock.
func ApplyReport(st *model.VehicleState, report *model.PositionReport, suspect bool) *model.VehicleState {
	if st == nil {
		st = &model.VehicleState{
			VehicleID:       report.VehicleID,
			InsideGeofences: make(map[uint]struct{}),
		}
	}
	st.Lat = report.Lat
	st.Lon = report.Lon
	st.Altitude = report.Altitude
	if report.SpeedKmh != nil {
		st.SpeedKmh = *report.SpeedKmh
	}
	if report.Heading != nil {
		st.Heading = *report.Heading
	}
	st.RecordedAt = report.RecordedAt
	st.LastUpdate = report.ReceivedAt
	st.Online = true
	st.Suspect = suspect
	return st
}

// Snapshot returns a copy of the vehicle's committed state, or false if the
// vehicle is unknown. Reads are linearizable with respect to the vehicle's
// own update stream.
func (s *Store) Snapshot(vehicleID string) (*model.VehicleState, bool) {
	e := s.entry(vehicleID, false)
	if e == nil {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, false
	}
	return e.state.Clone(), true
}

// GeofenceMembership returns the vehicle's current inside-set.
func (s *Store) GeofenceMembership(vehicleID string) ([]uint, bool) {
	st, ok := s.Snapshot(vehicleID)
	if !ok {
		return nil, false
	}
	return st.GeofenceIDs(), true
}

// MarkOfflineSweep flips Online for vehicles whose last update is older than
// threshold and returns a snapshot of each vehicle that transitioned on this
// sweep. Already-offline vehicles are skipped, so a vehicle produces one
// transition per offline episode.
func (s *Store) MarkOfflineSweep(now time.Time, threshold time.Duration) []*model.VehicleState {
	var flipped []*model.VehicleState
	for _, sh := range s.shards {
		sh.mu.RLock()
		entries := make([]*vehicleEntry, 0, len(sh.vehicles))
		for _, e := range sh.vehicles {
			entries = append(entries, e)
		}
		sh.mu.RUnlock()

		for _, e := range entries {
			e.mu.Lock()
			if e.state != nil && e.state.Online && now.Sub(e.state.LastUpdate) > threshold {
				e.state.Online = false
				flipped = append(flipped, e.state.Clone())
			}
			e.mu.Unlock()
		}
	}
	return flipped
}

// Range calls fn with a snapshot of every known vehicle state.
func (s *Store) Range(fn func(st *model.VehicleState)) {
	for _, sh := range s.shards {
		sh.mu.RLock()
		entries := make([]*vehicleEntry, 0, len(sh.vehicles))
		for _, e := range sh.vehicles {
			entries = append(entries, e)
		}
		sh.mu.RUnlock()

		for _, e := range entries {
			e.mu.Lock()
			if e.state != nil {
				fn(e.state.Clone())
			}
			e.mu.Unlock()
		}
	}
}
