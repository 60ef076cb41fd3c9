package pipeline

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/QuocHuannn/fleet-tracker/internal/metrics"
	"github.com/QuocHuannn/fleet-tracker/internal/model"
	"github.com/QuocHuannn/fleet-tracker/internal/spatial"
)

// GeofenceSource loads the active geofence set from external storage.
type GeofenceSource interface {
	LoadActiveGeofences(ctx context.Context) ([]model.Geofence, error)
}

// Reloader rebuilds the spatial index from the geofence source and installs
// it with an atomic swap. A failed load or build keeps the last-known-good
// index serving; evaluators never observe a half-built one.
type Reloader struct {
	source  GeofenceSource
	holder  *spatial.Holder
	metrics *metrics.Collector
	version atomic.Uint64
}

// NewReloader wires a reloader around the index holder.
func NewReloader(source GeofenceSource, holder *spatial.Holder, m *metrics.Collector) *Reloader {
	return &Reloader{source: source, holder: holder, metrics: m}
}

// Reload fetches geofences, builds a fresh index, and swaps it in.
func (r *Reloader) Reload(ctx context.Context) error {
	fences, err := r.source.LoadActiveGeofences(ctx)
	if err != nil {
		r.metrics.GeofenceReloadErrs.Inc()
		log.Printf("[GeofenceReloader] Load failed, keeping previous index: %v", err)
		return err
	}

	idx, err := spatial.Build(fences, r.version.Add(1))
	if err != nil {
		r.metrics.GeofenceReloadErrs.Inc()
		log.Printf("[GeofenceReloader] Index build failed, keeping previous index: %v", err)
		return err
	}

	r.holder.Replace(idx)
	r.metrics.GeofenceReloads.Inc()
	r.metrics.GeofencesIndexed.Set(float64(idx.Len()))
	log.Printf("[GeofenceReloader] Installed index v%d with %d geofences", idx.Version(), idx.Len())
	return nil
}

// Run reloads on every tick and on every signal on trigger until ctx is
// cancelled.
func (r *Reloader) Run(ctx context.Context, every time.Duration, trigger <-chan struct{}) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Reload(ctx)
		case <-trigger:
			r.Reload(ctx)
		case <-ctx.Done():
			return
		}
	}
}
