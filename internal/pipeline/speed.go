package pipeline

import (
	"sync"
	"time"
)

type speedEpisode struct {
	overLimit  bool
	belowSince time.Time
}

// SpeedRuleEvaluator compares the effective speed against the global road
// limit and emits one violation per continuous over-limit episode. The
// episode re-arms only after the speed stays below the limit for the debounce
// duration, so noisy GPS readings oscillating around the limit do not flap.
type SpeedRuleEvaluator struct {
	RoadSpeedLimitKmh float64
	RearmDebounce     time.Duration

	mu       sync.Mutex
	episodes map[string]*speedEpisode
}

// NewSpeedRuleEvaluator returns an evaluator for the given road limit.
func NewSpeedRuleEvaluator(limitKmh float64, rearmDebounce time.Duration) *SpeedRuleEvaluator {
	return &SpeedRuleEvaluator{
		RoadSpeedLimitKmh: limitKmh,
		RearmDebounce:     rearmDebounce,
		episodes:          make(map[string]*speedEpisode),
	}
}

// Evaluate feeds one effective speed sample and reports whether a road speed
// violation alert is due for it.
func (e *SpeedRuleEvaluator) Evaluate(vehicleID string, speedKmh float64, at time.Time) bool {
	if e.RoadSpeedLimitKmh <= 0 {
		return false
	}

	e.mu.Lock()
	ep := e.episodes[vehicleID]
	if ep == nil {
		ep = &speedEpisode{}
		e.episodes[vehicleID] = ep
	}
	e.mu.Unlock()

	if speedKmh > e.RoadSpeedLimitKmh {
		// A brief dip does not end the episode.
		ep.belowSince = time.Time{}
		if ep.overLimit {
			return false
		}
		ep.overLimit = true
		return true
	}

	if ep.overLimit {
		if ep.belowSince.IsZero() {
			ep.belowSince = at
		}
		if at.Sub(ep.belowSince) >= e.RearmDebounce {
			ep.overLimit = false
			ep.belowSince = time.Time{}
		}
	}
	return false
}
