// Package server exposes the read path: current vehicle state, geofence
// membership, history, trips, and alerts over HTTP, plus the WebSocket
// alert feed and the metrics endpoint.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/QuocHuannn/fleet-tracker/internal/metrics"
	"github.com/QuocHuannn/fleet-tracker/internal/state"
	"github.com/QuocHuannn/fleet-tracker/internal/store"
)

// Server is the HTTP read-path server.
type Server struct {
	router  *gin.Engine
	states  *state.Store
	repo    *store.Postgres
	hub     *WSHub
	metrics *metrics.Collector
	http    *http.Server
}

// NewServer assembles the router.
func NewServer(states *state.Store, repo *store.Postgres, hub *WSHub, m *metrics.Collector) *Server {
	s := &Server{
		states:  states,
		repo:    repo,
		hub:     hub,
		metrics: m,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(m.Handler()))
	router.GET("/ws/alerts", hub.ServeWS)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/vehicles/:id/state", s.getVehicleState)
		v1.GET("/vehicles/:id/geofences", s.getGeofenceMembership)
		v1.GET("/vehicles/:id/history", s.getHistory)
		v1.GET("/vehicles/:id/trips", s.getTrips)
		v1.GET("/alerts", s.getAlerts)
	}

	s.router = router
	return s
}

// Start serves HTTP on the given port without blocking.
func (s *Server) Start(port int) {
	s.http = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[Server] HTTP server failed: %v", err)
		}
	}()
	log.Printf("[Server] Listening on :%d", port)
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// getVehicleState returns the committed in-memory snapshot for one vehicle.
// An unknown vehicle is a 404, not an error.
func (s *Server) getVehicleState(c *gin.Context) {
	st, ok := s.states.Snapshot(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "vehicle not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"vehicle_id":       st.VehicleID,
		"lat":              st.Lat,
		"lon":              st.Lon,
		"speed_kmh":        st.SpeedKmh,
		"heading":          st.Heading,
		"recorded_at":      st.RecordedAt,
		"last_update":      st.LastUpdate,
		"online":           st.Online,
		"suspect":          st.Suspect,
		"active_trip_id":   st.ActiveTripID,
		"inside_geofences": st.GeofenceIDs(),
	})
}

func (s *Server) getGeofenceMembership(c *gin.Context) {
	ids, ok := s.states.GeofenceMembership(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "vehicle not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"vehicle_id": c.Param("id"), "geofence_ids": ids})
}

func (s *Server) getHistory(c *gin.Context) {
	vehicleID := c.Param("id")

	end := time.Now()
	start := end.Add(-24 * time.Hour)
	if v := c.Query("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start time"})
			return
		}
		start = t
	}
	if v := c.Query("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end time"})
			return
		}
		end = t
	}
	limit := queryInt(c, "limit", 1000)

	rows, err := s.repo.GetHistory(c.Request.Context(), vehicleID, start, end, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"vehicle_id": vehicleID, "positions": rows})
}

func (s *Server) getTrips(c *gin.Context) {
	vehicleID := c.Param("id")
	trips, err := s.repo.GetTrips(c.Request.Context(), vehicleID, queryInt(c, "limit", 50))
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusOK, gin.H{"vehicle_id": vehicleID, "trips": []any{}})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load trips"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"vehicle_id": vehicleID, "trips": trips})
}

func (s *Server) getAlerts(c *gin.Context) {
	alerts, err := s.repo.GetAlerts(c.Request.Context(), c.Query("vehicle_id"), queryInt(c, "limit", 100))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load alerts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}

func queryInt(c *gin.Context, key string, def int) int {
	if v := c.Query(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
