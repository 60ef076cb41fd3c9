// Package pipeline implements the real-time ingestion and evaluation core:
// validation, state update, trip detection, geofence and speed evaluation,
// and alert emission, executed as one serialized sequence per vehicle.
package pipeline

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/QuocHuannn/fleet-tracker/internal/geo"
	"github.com/QuocHuannn/fleet-tracker/internal/metrics"
	"github.com/QuocHuannn/fleet-tracker/internal/model"
	"github.com/QuocHuannn/fleet-tracker/internal/spatial"
	"github.com/QuocHuannn/fleet-tracker/internal/state"
)

// Pipeline orchestrates processing of one position report end to end.
type Pipeline struct {
	validator *Validator
	store     *state.Store
	index     *spatial.Holder
	trips     *TripDetector
	geofences *GeofenceEvaluator
	speed     *SpeedRuleEvaluator
	emitter   *Emitter
	history   *HistoryWriter
	states    *StateWriter
	tripLog   *TripWriter
	metrics   *metrics.Collector
}

// Options collects the collaborators a Pipeline needs.
type Options struct {
	Validator *Validator
	Store     *state.Store
	Index     *spatial.Holder
	Trips     *TripDetector
	Geofences *GeofenceEvaluator
	Speed     *SpeedRuleEvaluator
	Emitter   *Emitter
	History   *HistoryWriter
	States    *StateWriter
	TripLog   *TripWriter
	Metrics   *metrics.Collector
}

// New assembles a pipeline.
func New(opts Options) *Pipeline {
	return &Pipeline{
		validator: opts.Validator,
		store:     opts.Store,
		index:     opts.Index,
		trips:     opts.Trips,
		geofences: opts.Geofences,
		speed:     opts.Speed,
		emitter:   opts.Emitter,
		history:   opts.History,
		states:    opts.States,
		tripLog:   opts.TripLog,
		metrics:   opts.Metrics,
	}
}

// ProcessReport runs the full sequence for one report: validate, update
// state, detect trip boundaries, evaluate geofence and speed rules, emit
// alerts, then hand the row to the async persistence writers. Everything up
// to and including alert emission holds the vehicle's lock, so reports for
// the same vehicle are fully serialized while other vehicles proceed in
// parallel. The returned error is a *ValidationError for dropped reports.
func (p *Pipeline) ProcessReport(ctx context.Context, report *model.PositionReport) error {
	started := time.Now()
	p.metrics.ReportsReceived.Inc()
	if report.ReceivedAt.IsZero() {
		report.ReceivedAt = started
	}

	var (
		procErr  error
		snapshot *model.VehicleState
		row      *model.Position
		opened   *model.Trip
		closed   *model.Trip
	)

	p.store.WithVehicle(report.VehicleID, func(st *model.VehicleState) *model.VehicleState {
		result, err := p.validator.Validate(report, st)
		if result == model.ReportRejected {
			var verr *ValidationError
			if errors.As(err, &verr) {
				p.metrics.ReportsRejected.WithLabelValues(string(verr.Reason)).Inc()
			}
			procErr = err
			return st
		}
		suspect := result == model.ReportAcceptedSuspect
		if suspect {
			p.metrics.ReportsSuspect.Inc()
		} else {
			p.metrics.ReportsAccepted.Inc()
		}

		speedKmh, heading := p.effectiveMotion(report, st, suspect)

		st = state.ApplyReport(st, report, suspect)
		st.SpeedKmh = speedKmh
		st.Heading = heading

		events := p.trips.Feed(report, speedKmh, suspect)
		if events.Opened != nil {
			st.ActiveTripID = events.Opened.ID
			p.metrics.TripsOpened.Inc()
		}
		if events.Closed != nil {
			st.ActiveTripID = ""
			p.metrics.TripsClosed.Inc()
		}
		opened, closed = events.Opened, events.Closed

		idx := p.index.Current()
		transitions := p.geofences.Evaluate(st, idx, speedKmh, report.RecordedAt)
		for _, tr := range transitions {
			p.emitAlert(ctx, p.transitionAlert(st, &tr, speedKmh, report.RecordedAt))
		}

		if p.speed.Evaluate(st.VehicleID, speedKmh, report.RecordedAt) {
			p.emitAlert(ctx, p.roadSpeedAlert(st, speedKmh, report.RecordedAt))
		}

		snapshot = st.Clone()
		row = &model.Position{
			VehicleID:  report.VehicleID,
			RecordedAt: report.RecordedAt,
			ReceivedAt: report.ReceivedAt,
			Lat:        report.Lat,
			Lon:        report.Lon,
			Altitude:   report.Altitude,
			SpeedKmh:   speedKmh,
			Heading:    heading,
			Satellites: report.Satellites,
			Suspect:    suspect,
			TripID:     st.ActiveTripID,
		}
		if closed != nil {
			row.TripID = closed.ID
		}

		return st
	})

	if procErr != nil {
		return procErr
	}

	// Durable writes happen off the vehicle's critical path. The trip
	// writer's FIFO queue keeps open ahead of close for the same trip.
	if opened != nil {
		if err := p.tripLog.Enqueue(ctx, opened); err != nil {
			return err
		}
	}
	if closed != nil {
		if err := p.tripLog.Enqueue(ctx, closed); err != nil {
			return err
		}
	}

	if err := p.history.Enqueue(ctx, row); err != nil {
		return err
	}
	if err := p.states.Submit(ctx, snapshot); err != nil {
		return err
	}

	p.metrics.ProcessDuration.Observe(time.Since(started).Seconds())
	return nil
}

// effectiveMotion resolves the speed and heading used downstream. Devices
// that omit them get values derived from the previous accepted fix; suspect
// reports never derive speed from the jump itself.
func (p *Pipeline) effectiveMotion(report *model.PositionReport, prev *model.VehicleState, suspect bool) (speedKmh, heading float64) {
	if report.SpeedKmh != nil {
		speedKmh = *report.SpeedKmh
	} else if prev != nil && !suspect {
		elapsed := report.RecordedAt.Sub(prev.RecordedAt)
		if elapsed > 0 {
			distM := geo.HaversineM(prev.Lat, prev.Lon, report.Lat, report.Lon)
			speedKmh = distM / 1000 / elapsed.Hours()
		}
	}

	if report.Heading != nil {
		heading = *report.Heading
	} else if prev != nil && (prev.Lat != report.Lat || prev.Lon != report.Lon) {
		heading = geo.BearingDeg(prev.Lat, prev.Lon, report.Lat, report.Lon)
	} else if prev != nil {
		heading = prev.Heading
	}
	return speedKmh, heading
}

func (p *Pipeline) transitionAlert(st *model.VehicleState, tr *GeofenceTransition, speedKmh float64, at time.Time) *model.Alert {
	fenceID := tr.Fence.ID
	alert := &model.Alert{
		ID:           uuid.NewString(),
		VehicleID:    st.VehicleID,
		GeofenceID:   &fenceID,
		GeofenceName: tr.Fence.Name,
		Type:         tr.Type,
		Lat:          st.Lat,
		Lon:          st.Lon,
		Severity:     transitionSeverity(tr),
		Fingerprint:  model.AlertFingerprint(st.VehicleID, tr.Type, &fenceID, at),
		CreatedAt:    time.Now(),
	}
	if tr.Type == model.AlertSpeedViolation {
		speed := speedKmh
		alert.SpeedKmh = &speed
		alert.SpeedLimit = tr.SpeedLimit
		alert.Kind = string(model.SpeedViolationInZone)
	}
	return alert
}

func (p *Pipeline) roadSpeedAlert(st *model.VehicleState, speedKmh float64, at time.Time) *model.Alert {
	speed := speedKmh
	limit := p.speed.RoadSpeedLimitKmh
	return &model.Alert{
		ID:          uuid.NewString(),
		VehicleID:   st.VehicleID,
		Type:        model.AlertSpeedViolation,
		Kind:        string(model.SpeedViolationRoad),
		Lat:         st.Lat,
		Lon:         st.Lon,
		SpeedKmh:    &speed,
		SpeedLimit:  &limit,
		Severity:    model.SeverityWarning,
		Fingerprint: model.AlertFingerprint(st.VehicleID, model.AlertSpeedViolation, nil, at),
		CreatedAt:   time.Now(),
	}
}

func transitionSeverity(tr *GeofenceTransition) model.AlertSeverity {
	// Entering a forbidden zone is the one transition operators page on.
	if tr.Fence.Type == model.GeofenceExclusion && tr.Type == model.AlertGeofenceEntry {
		return model.SeverityCritical
	}
	if tr.Type == model.AlertSpeedViolation {
		return model.SeverityWarning
	}
	return model.SeverityInfo
}

func (p *Pipeline) emitAlert(ctx context.Context, alert *model.Alert) {
	if err := p.emitter.Emit(ctx, alert); err != nil {
		log.Printf("[Pipeline] Alert emit failed for %s: %v", alert.Fingerprint, err)
	}
}
