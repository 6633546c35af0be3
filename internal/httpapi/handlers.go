package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/transit-dispatch/internal/audit"
	"github.com/example/transit-dispatch/internal/autopilot"
	"github.com/example/transit-dispatch/internal/broadcast"
	"github.com/example/transit-dispatch/internal/fleet"
	"github.com/example/transit-dispatch/internal/geoindex"
	"github.com/example/transit-dispatch/internal/ingest"
	"github.com/example/transit-dispatch/internal/models"
	"github.com/example/transit-dispatch/internal/observability"
	"github.com/example/transit-dispatch/internal/projection"
	"github.com/example/transit-dispatch/internal/rides"
	"github.com/example/transit-dispatch/internal/sim"
	"github.com/example/transit-dispatch/internal/storage"
	"github.com/example/transit-dispatch/internal/token"
)

// Server is the HTTP surface over the dispatch core. It owns no domain state
// of its own; everything is injected.
type Server struct {
	Engine    *autopilot.Engine
	Fleet     *fleet.Store
	Rides     *rides.Store
	Audit     *audit.Log
	Tokens    *token.Issuer
	Ticker    *sim.Ticker
	Nearby    *projection.Service
	Hub       *broadcast.Hub
	Producer  *ingest.Producer         // optional
	GeoMirror *geoindex.RedisGeo       // optional
	Pg        *storage.PostgresArchive // optional

	mux    *mux.Router
	logger *slog.Logger
}

type Deps struct {
	Engine    *autopilot.Engine
	Fleet     *fleet.Store
	Rides     *rides.Store
	Audit     *audit.Log
	Tokens    *token.Issuer
	Ticker    *sim.Ticker
	Nearby    *projection.Service
	Hub       *broadcast.Hub
	Producer  *ingest.Producer
	GeoMirror *geoindex.RedisGeo
	Pg        *storage.PostgresArchive
	Logger    *slog.Logger
}

func NewServer(d Deps) *Server {
	s := &Server{
		Engine:    d.Engine,
		Fleet:     d.Fleet,
		Rides:     d.Rides,
		Audit:     d.Audit,
		Tokens:    d.Tokens,
		Ticker:    d.Ticker,
		Nearby:    d.Nearby,
		Hub:       d.Hub,
		Producer:  d.Producer,
		GeoMirror: d.GeoMirror,
		Pg:        d.Pg,
		mux:       mux.NewRouter(),
		logger:    d.Logger,
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/telemetry", s.handleTelemetry).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/request", s.handleRideRequest).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}", s.handleRideStatus).Methods("GET")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/board", s.handleBoard).Methods("POST")
	s.mux.HandleFunc("/api/v1/vehicles", s.handleVehicles).Methods("GET")
	s.mux.HandleFunc("/api/v1/vehicles/nearby", s.handleNearby).Methods("GET")
	s.mux.HandleFunc("/api/v1/stats", s.handleStats).Methods("GET")
	s.mux.HandleFunc("/api/v1/audit", s.handleAudit).Methods("GET")
	s.mux.HandleFunc("/admin/config", s.handleAdminConfig).Methods("POST")
	s.mux.HandleFunc("/admin/automation", s.handleAdminAutomation).Methods("POST")
	s.mux.HandleFunc("/healthz", s.handleHealthz).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	var t models.Telemetry
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if t.VehicleID == "" || (t.Lat == 0 && t.Lng == 0) {
		writeError(w, http.StatusBadRequest, "vehicle_id, lat and lng are required")
		return
	}
	v := s.Fleet.ApplyTelemetry(t)
	observability.PositionUpdatesTotal.Inc()

	// fan out: kafka and redis mirrors are best-effort, never ride-failures
	if s.Producer != nil {
		if err := s.Producer.PublishTelemetry(t); err != nil {
			s.logger.Warn("telemetry publish failed", "vehicle_id", t.VehicleID, "error", err)
		}
	}
	if s.GeoMirror != nil {
		if err := s.GeoMirror.Upsert(r.Context(), v); err != nil {
			s.logger.Warn("geo mirror write failed", "vehicle_id", t.VehicleID, "error", err)
		}
	}
	s.Hub.Publish(models.Event{Type: models.EventPositionChanged, Data: models.PositionChanged{
		VehicleID: v.ID,
		LineID:    v.LineID,
		Lat:       v.Pos.Lat,
		Lng:       v.Pos.Lng,
		At:        v.LastUpdate,
	}})
	w.WriteHeader(http.StatusNoContent)
}

type rideRequestBody struct {
	PassengerID string `json:"passenger_id"`
	VehicleID   string `json:"vehicle_id"`
	StopID      string `json:"stop_id"`
}

func (s *Server) handleRideRequest(w http.ResponseWriter, r *http.Request) {
	var body rideRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.PassengerID == "" || body.VehicleID == "" {
		writeError(w, http.StatusBadRequest, "passenger_id and vehicle_id are required")
		return
	}
	ride := s.Engine.RequestRide(body.PassengerID, body.VehicleID, body.StopID)
	decision, events := s.Engine.Decide(ride.ID)
	s.Hub.Publish(events...)

	cur, _ := s.Rides.Get(ride.ID)
	writeJSON(w, http.StatusOK, map[string]any{
		"id":       ride.ID,
		"status":   cur.Status,
		"decision": decision,
	})
}

func (s *Server) handleRideStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["ride_id"]
	ride, ok := s.Rides.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "ride not found")
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

type boardBody struct {
	Token string `json:"token"`
}

func (s *Server) handleBoard(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["ride_id"]
	var body boardBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}
	if _, ok := s.Rides.Get(id); !ok {
		writeError(w, http.StatusNotFound, "ride not found")
		return
	}
	ok := s.Tokens.Validate(id, token.HashSecret(body.Token))
	if ok {
		observability.BoardingEvents.WithLabelValues(models.EventBoardingComplete).Inc()
		ride, _ := s.Rides.Get(id)
		s.Hub.Publish(models.Event{Type: models.EventBoardingComplete, Data: models.BoardingEvent{
			RideID:    id,
			VehicleID: ride.VehicleID,
		}})
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": ok})
}

func (s *Server) handleVehicles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Fleet.Snapshot())
}

func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lng, errLng := strconv.ParseFloat(q.Get("lng"), 64)
	if errLat != nil || errLng != nil {
		writeError(w, http.StatusBadRequest, "lat and lng are required")
		return
	}
	query := projection.Query{Lat: lat, Lng: lng, LineID: q.Get("line_id")}
	if dLat, err1 := strconv.ParseFloat(q.Get("dest_lat"), 64); err1 == nil {
		if dLng, err2 := strconv.ParseFloat(q.Get("dest_lng"), 64); err2 == nil {
			query.Dest = &models.LatLng{Lat: dLat, Lng: dLng}
		}
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil {
		query.Limit = limit
	}
	writeJSON(w, http.StatusOK, s.Nearby.Nearby(r.Context(), query))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	counts := s.Rides.CountsByStatus()
	total := 0
	for _, n := range counts {
		total += n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"vehicles":       s.Fleet.Count(),
		"rides_total":    total,
		"rides_pending":  counts[models.RidePending],
		"rides_accepted": counts[models.RideAccepted],
		"rides_rejected": counts[models.RideRejected],
		"rides_complete": counts[models.RideComplete],
		"audits":         s.Audit.Len(),
		"ticker_running": s.Ticker.Running(),
	})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	writeJSON(w, http.StatusOK, s.Audit.Recent(limit))
}

type adminConfigBody struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// handleAdminConfig adjusts the dispatch thresholds at runtime. Only the two
// recognized keys are accepted.
func (s *Server) handleAdminConfig(w http.ResponseWriter, r *http.Request) {
	var body adminConfigBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	val, err := strconv.ParseFloat(body.Value, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "value must be numeric")
		return
	}
	switch body.Key {
	case "MAX_DIST":
		if val <= 0 {
			writeError(w, http.StatusBadRequest, "MAX_DIST must be > 0")
			return
		}
		s.Engine.Thresholds.SetMaxDistM(val)
	case "MAX_OCC":
		if val <= 0 || val > 1 {
			writeError(w, http.StatusBadRequest, "MAX_OCC must be in (0,1]")
			return
		}
		s.Engine.Thresholds.SetMaxOcc(val)
	default:
		writeError(w, http.StatusBadRequest, "key_not_allowed")
		return
	}
	s.Audit.Record("config_update", "admin", map[string]any{"key": body.Key, "value": val})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "key": body.Key, "value": val})
}

type adminAutomationBody struct {
	TickMs       int  `json:"tick_ms"`
	StepPoints   int  `json:"step_points"`
	AutoDispatch bool `json:"auto_dispatch"`
	AutoBoarding bool `json:"auto_boarding"`
}

// handleAdminAutomation reconfigures the simulator. Floors mirror the admin
// form limits: tick >= 200ms, step >= 1.
func (s *Server) handleAdminAutomation(w http.ResponseWriter, r *http.Request) {
	var body adminAutomationBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cfg := models.AutomationConfig{
		TickInterval: time.Duration(body.TickMs) * time.Millisecond,
		StepPoints:   body.StepPoints,
		AutoDispatch: body.AutoDispatch,
		AutoBoarding: body.AutoBoarding,
	}
	// the ticker floors out-of-range values itself
	s.Ticker.Reconfigure(cfg)
	applied := s.Ticker.Config()
	if s.Pg != nil {
		if err := s.Pg.SaveAutomationConfig(applied); err != nil {
			s.logger.Warn("automation config persist failed", "error", err)
		}
	}
	s.Audit.Record("automation_update", "admin", map[string]any{
		"tick_ms":       applied.TickInterval.Milliseconds(),
		"step_points":   applied.StepPoints,
		"auto_dispatch": applied.AutoDispatch,
	})
	writeJSON(w, http.StatusOK, applied)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"server":         true,
		"ticker_running": s.Ticker.Running(),
		"subscribers":    s.Hub.Count(),
	})
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		writeError(w, http.StatusBadRequest, "upgrade failed")
		return
	}
	s.Hub.Add(newID(), conn)
}
