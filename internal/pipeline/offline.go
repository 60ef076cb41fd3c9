package pipeline

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/QuocHuannn/fleet-tracker/internal/model"
)

// RunOfflineSweep periodically flips vehicles that stopped reporting to
// offline and emits one device_offline alert per transition. The store
// latches the flag, so a vehicle already offline is not re-alerted on the
// next sweep.
func (p *Pipeline) RunOfflineSweep(ctx context.Context, every, threshold time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.sweepOffline(ctx, time.Now(), threshold)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pipeline) sweepOffline(ctx context.Context, now time.Time, threshold time.Duration) {
	flipped := p.store.MarkOfflineSweep(now, threshold)
	for _, st := range flipped {
		p.metrics.VehiclesOffline.Inc()
		log.Printf("[OfflineSweep] Vehicle %s offline (last update %s)", st.VehicleID, st.LastUpdate)

		// The fingerprint epoch is the last report time, so a sweep retried
		// after a crash resolves to the same transition.
		alert := &model.Alert{
			ID:          uuid.NewString(),
			VehicleID:   st.VehicleID,
			Type:        model.AlertDeviceOffline,
			Lat:         st.Lat,
			Lon:         st.Lon,
			Severity:    model.SeverityWarning,
			Fingerprint: model.AlertFingerprint(st.VehicleID, model.AlertDeviceOffline, nil, st.LastUpdate),
			CreatedAt:   now,
		}
		p.emitAlert(ctx, alert)

		if err := p.states.Submit(ctx, st); err != nil {
			log.Printf("[OfflineSweep] State submit failed for %s: %v", st.VehicleID, err)
		}
	}
}
