package pipeline

import (
	"fmt"
	"time"

	"github.com/QuocHuannn/fleet-tracker/internal/geo"
	"github.com/QuocHuannn/fleet-tracker/internal/model"
)

// ValidationError is returned for reports dropped by validation. It is
// resolved locally: counted, logged, never retried.
type ValidationError struct {
	Reason model.RejectReason
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("report rejected (%s): %s", e.Reason, e.Detail)
}

// Validator performs the stateless checks on a raw report against the
// vehicle's last accepted state.
type Validator struct {
	// ClockSkewTolerance bounds how far a device clock may run ahead of the
	// server clock.
	ClockSkewTolerance time.Duration
	// BackwardJitter is the small backward step in recordedAt tolerated to
	// absorb device clock drift.
	BackwardJitter time.Duration
	// MaxImpliedSpeedKmh is the teleport threshold: a jump implying a higher
	// speed marks the report suspect instead of rejecting it.
	MaxImpliedSpeedKmh float64
}

// Validate classifies a report. prev is the vehicle's current state, nil for
// a vehicle never seen before. The returned error is non-nil exactly when
// the result is ReportRejected.
func (v *Validator) Validate(report *model.PositionReport, prev *model.VehicleState) (model.ValidationResult, error) {
	if report.Lat < -90 || report.Lat > 90 || report.Lon < -180 || report.Lon > 180 {
		return model.ReportRejected, &ValidationError{
			Reason: model.RejectOutOfRange,
			Detail: fmt.Sprintf("coordinates (%f, %f)", report.Lat, report.Lon),
		}
	}
	// A (0,0) fix is a GPS module without signal, not a vehicle in the Gulf
	// of Guinea.
	if report.Lat == 0 && report.Lon == 0 {
		return model.ReportRejected, &ValidationError{
			Reason: model.RejectNullIsland,
			Detail: "null island coordinates",
		}
	}
	if report.RecordedAt.After(report.ReceivedAt.Add(v.ClockSkewTolerance)) {
		return model.ReportRejected, &ValidationError{
			Reason: model.RejectFutureClock,
			Detail: fmt.Sprintf("recorded_at %s ahead of received_at %s", report.RecordedAt, report.ReceivedAt),
		}
	}

	if prev == nil {
		return model.ReportAccepted, nil
	}

	if report.RecordedAt.Equal(prev.RecordedAt) && report.Lat == prev.Lat && report.Lon == prev.Lon {
		return model.ReportRejected, &ValidationError{
			Reason: model.RejectDuplicate,
			Detail: fmt.Sprintf("duplicate of report at %s", report.RecordedAt),
		}
	}
	if report.RecordedAt.Before(prev.RecordedAt.Add(-v.BackwardJitter)) {
		return model.ReportRejected, &ValidationError{
			Reason: model.RejectOutOfOrder,
			Detail: fmt.Sprintf("recorded_at %s older than last accepted %s", report.RecordedAt, prev.RecordedAt),
		}
	}

	// Teleport check: implied speed between the previous and current fix.
	elapsed := report.RecordedAt.Sub(prev.RecordedAt)
	if elapsed > 0 && v.MaxImpliedSpeedKmh > 0 {
		distM := geo.HaversineM(prev.Lat, prev.Lon, report.Lat, report.Lon)
		impliedKmh := distM / 1000 / elapsed.Hours()
		if impliedKmh > v.MaxImpliedSpeedKmh {
			return model.ReportAcceptedSuspect, nil
		}
	}

	return model.ReportAccepted, nil
}
