package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/QuocHuannn/fleet-tracker/internal/config"
	"github.com/QuocHuannn/fleet-tracker/internal/metrics"
	"github.com/QuocHuannn/fleet-tracker/internal/model"
	"github.com/QuocHuannn/fleet-tracker/internal/pipeline"
	"github.com/QuocHuannn/fleet-tracker/internal/server"
	"github.com/QuocHuannn/fleet-tracker/internal/spatial"
	"github.com/QuocHuannn/fleet-tracker/internal/state"
	"github.com/QuocHuannn/fleet-tracker/internal/store"
	"github.com/QuocHuannn/fleet-tracker/internal/transport/natsio"
)

func main() {
	log.Println("[Ingest] Starting fleet-tracker ingestion core...")

	cfg := config.Load()

	// Database.
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		log.Fatalf("[Ingest] Failed to connect to database: %v", err)
	}
	log.Println("[Ingest] Connected to database")

	if err := store.Migrate(cfg.DatabaseURL); err != nil {
		log.Fatalf("[Ingest] Failed to migrate database: %v", err)
	}
	log.Println("[Ingest] Database migrated")

	// Redis.
	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisURL,
		DB:   0,
	})
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		pingCancel()
		log.Fatalf("[Ingest] Failed to connect to Redis: %v", err)
	}
	pingCancel()
	log.Println("[Ingest] Connected to Redis")
	defer redisClient.Close()

	// NATS.
	natsConn, err := nats.Connect(cfg.NATSURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		log.Fatalf("[Ingest] Failed to connect to NATS: %v", err)
	}
	log.Println("[Ingest] Connected to NATS")
	defer natsConn.Close()

	// Core components.
	collector := metrics.NewCollector()
	repo := store.NewPostgres(db)
	redisStore := store.NewRedis(redisClient)
	stateStore := state.NewStore()
	indexHolder := spatial.NewHolder()

	reloader := pipeline.NewReloader(repo, indexHolder, collector)
	loadCtx, loadCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := reloader.Reload(loadCtx); err != nil {
		// Startup proceeds on an empty index rather than crashing; the
		// periodic reload will pick the geofences up once storage recovers.
		log.Printf("[Ingest] Initial geofence load failed, starting with empty index: %v", err)
	}
	loadCancel()

	tripDetector := pipeline.NewTripDetector(cfg.MotionThresholdKmh, cfg.MotionDebounceCount, cfg.IdleCloseAfter)
	geofenceEval := pipeline.NewGeofenceEvaluator(cfg.SpeedAlertCooldown)
	speedEval := pipeline.NewSpeedRuleEvaluator(cfg.RoadSpeedLimitKmh, cfg.SpeedRearmDebounce)
	publisher := natsio.NewPublisher(natsConn, cfg.AlarmSubjectPrefix, redisStore)
	emitter := pipeline.NewEmitter(redisStore, repo, publisher, collector, cfg.AlertFingerprintTTL, cfg.AlertPublishAttempts, 1024)
	historyWriter := pipeline.NewHistoryWriter(repo, collector, cfg.HistoryQueueSize, cfg.HistoryBatchSize, cfg.HistoryFlushEvery, cfg.PersistMaxAttempts)
	stateWriter := pipeline.NewStateWriter(repo, redisStore, collector, 50*time.Millisecond, cfg.HistoryQueueSize)
	tripWriter := pipeline.NewTripWriter(repo, collector, cfg.TripQueueSize, cfg.PersistMaxAttempts)

	pipe := pipeline.New(pipeline.Options{
		Validator: &pipeline.Validator{
			ClockSkewTolerance: cfg.ClockSkewTolerance,
			BackwardJitter:     cfg.BackwardJitter,
			MaxImpliedSpeedKmh: cfg.MaxImpliedSpeedKmh,
		},
		Store:     stateStore,
		Index:     indexHolder,
		Trips:     tripDetector,
		Geofences: geofenceEval,
		Speed:     speedEval,
		Emitter:   emitter,
		History:   historyWriter,
		States:    stateWriter,
		TripLog:   tripWriter,
		Metrics:   collector,
	})

	// Recovery: warm the in-memory state from the persisted current-state
	// table and finalize trips the previous process left open.
	warmStart(repo, stateStore, tripDetector, collector)

	// Background workers. The dispatcher gets its own context so it can
	// drain into the writers before they stop.
	ctx, cancel := context.WithCancel(context.Background())
	dispCtx, dispCancel := context.WithCancel(context.Background())
	go emitter.Run(ctx)
	go historyWriter.Run(ctx)
	go stateWriter.Run(ctx)
	go tripWriter.Run(ctx)

	dispatcher := pipeline.NewDispatcher(pipe, cfg.DispatchWorkers, cfg.DispatchQueueSize)
	go dispatcher.Run(dispCtx)

	reloadTrigger := make(chan struct{}, 1)
	go reloader.Run(ctx, cfg.GeofenceRefreshEvery, reloadTrigger)
	go pipe.RunOfflineSweep(ctx, cfg.OfflineSweepEvery, cfg.OfflineThreshold)

	// Transport in.
	subscriber := natsio.NewSubscriber(natsConn, dispatcher)
	if err := subscriber.Start(ctx, cfg.UplinkSubject, cfg.ReloadSubject, reloadTrigger); err != nil {
		log.Fatalf("[Ingest] Failed to subscribe: %v", err)
	}

	// Read path.
	hub := server.NewWSHub(natsConn)
	if err := hub.Start(cfg.AlarmSubjectPrefix); err != nil {
		log.Fatalf("[Ingest] Failed to start WebSocket hub: %v", err)
	}
	srv := server.NewServer(stateStore, repo, hub, collector)
	srv.Start(cfg.HTTPPort)

	log.Println("[Ingest] Ready")

	// Wait for interrupt signal.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Println("[Ingest] Shutting down...")

	// Stop intake first, drain the dispatcher while the writers still run,
	// then give the writers a bounded window to flush.
	subscriber.Drain()
	dispCancel()

	drained := make(chan struct{})
	go func() {
		dispatcher.Wait()
		cancel()
		emitter.Wait()
		historyWriter.Wait()
		stateWriter.Wait()
		tripWriter.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		log.Println("[Ingest] Writers drained")
	case <-time.After(cfg.ShutdownTimeout):
		log.Println("[Ingest] Drain timeout exceeded, forcing exit")
	}

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutCancel()
	hub.Stop()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.Printf("[Ingest] HTTP shutdown: %v", err)
	}

	log.Println("[Ingest] Stopped")
}

// warmStore is the slice of the repository warm start needs.
type warmStore interface {
	LoadStateRecords(ctx context.Context) ([]model.VehicleStateRecord, error)
	RecoverOpenTrips(ctx context.Context) (int, error)
}

// warmStart seeds in-memory state from storage and finalizes every trip the
// previous process left open. The restarted detector starts each vehicle
// idle, so an open trip row with no in-memory track would never close.
func warmStart(repo warmStore, stateStore *state.Store, trips *pipeline.TripDetector, collector *metrics.Collector) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	recs, err := repo.LoadStateRecords(ctx)
	if err != nil {
		log.Printf("[Ingest] State warm-up failed, starting cold: %v", err)
	} else {
		now := time.Now()
		for i := range recs {
			st := recs[i].State()
			// A recovered process cannot assume an open trip survived.
			st.ActiveTripID = ""
			stateStore.WithVehicle(st.VehicleID, func(_ *model.VehicleState) *model.VehicleState {
				return st
			})
			trips.Restore(st, now)
		}
		log.Printf("[Ingest] Warmed state for %d vehicles", len(recs))
	}

	closed, err := repo.RecoverOpenTrips(ctx)
	if err != nil {
		log.Printf("[Ingest] Trip recovery sweep failed: %v", err)
	} else if closed > 0 {
		collector.TripsRecovered.Add(float64(closed))
		log.Printf("[Ingest] Recovered %d open trips", closed)
	}
}
