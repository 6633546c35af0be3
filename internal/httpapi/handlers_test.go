package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/example/transit-dispatch/internal/audit"
	"github.com/example/transit-dispatch/internal/autopilot"
	"github.com/example/transit-dispatch/internal/broadcast"
	"github.com/example/transit-dispatch/internal/fleet"
	"github.com/example/transit-dispatch/internal/models"
	"github.com/example/transit-dispatch/internal/projection"
	"github.com/example/transit-dispatch/internal/rides"
	"github.com/example/transit-dispatch/internal/routes"
	"github.com/example/transit-dispatch/internal/sim"
	"github.com/example/transit-dispatch/internal/token"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	fl := fleet.NewStore()
	fl.Seed()
	rs := rides.NewStore()
	al := audit.NewLog()
	iss := token.NewIssuer(rs, al)
	reg := routes.NewRegistry()
	eng := &autopilot.Engine{
		Fleet:      fl,
		Rides:      rs,
		Audit:      al,
		Tokens:     iss,
		Stops:      autopilot.DefaultStops(),
		Thresholds: autopilot.NewThresholds(0, 0),
		Logger:     logger,
	}
	hub := broadcast.NewHub(logger)
	t.Cleanup(hub.Close)
	tk := sim.NewTicker(fl, reg, eng, hub, logger)
	t.Cleanup(tk.Stop)

	return NewServer(Deps{
		Engine: eng,
		Fleet:  fl,
		Rides:  rs,
		Audit:  al,
		Tokens: iss,
		Ticker: tk,
		Nearby: &projection.Service{Fleet: fl, Routes: reg},
		Hub:    hub,
		Logger: logger,
	})
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, into any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(into); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestRideRequestAcceptsColocatedVehicle(t *testing.T) {
	s := testServer(t)
	// bus_102 is seeded at stop_1's coordinates
	rec := doJSON(t, s, http.MethodPost, "/api/v1/rides/request", map[string]string{
		"passenger_id": "p1", "vehicle_id": "bus_102", "stop_id": "stop_1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var resp struct {
		ID       string          `json:"id"`
		Status   string          `json:"status"`
		Decision models.Decision `json:"decision"`
	}
	decode(t, rec, &resp)
	if resp.Decision.Decision != models.DecisionAccepted {
		t.Fatalf("decision = %+v", resp.Decision)
	}
	if resp.Status != string(models.RideAccepted) {
		t.Fatalf("ride status = %q", resp.Status)
	}

	rec = doJSON(t, s, http.MethodGet, "/api/v1/rides/"+resp.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ride lookup status = %d", rec.Code)
	}
}

func TestRideRequestValidation(t *testing.T) {
	s := testServer(t)
	rec := doJSON(t, s, http.MethodPost, "/api/v1/rides/request", map[string]string{"passenger_id": "p1"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRideStatusNotFound(t *testing.T) {
	s := testServer(t)
	rec := doJSON(t, s, http.MethodGet, "/api/v1/rides/r_missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestBoardConsumesToken(t *testing.T) {
	s := testServer(t)
	ride := s.Engine.RequestRide("p1", "bus_102", "stop_1")
	s.Engine.Decide(ride.ID)
	issued := s.Tokens.Issue(ride.ID)
	if issued == nil {
		t.Fatal("expected a token on the accepted ride")
	}

	rec := doJSON(t, s, http.MethodPost, "/api/v1/rides/"+ride.ID+"/board", map[string]string{"token": issued.Secret})
	var resp struct {
		OK bool `json:"ok"`
	}
	decode(t, rec, &resp)
	if !resp.OK {
		t.Fatalf("boarding should succeed, body %s", rec.Body)
	}

	// token is single-use
	rec = doJSON(t, s, http.MethodPost, "/api/v1/rides/"+ride.ID+"/board", map[string]string{"token": issued.Secret})
	decode(t, rec, &resp)
	if resp.OK {
		t.Fatal("second scan must fail")
	}
}

func TestBoardRequiresToken(t *testing.T) {
	s := testServer(t)
	ride := s.Engine.RequestRide("p1", "bus_102", "stop_1")
	rec := doJSON(t, s, http.MethodPost, "/api/v1/rides/"+ride.ID+"/board", map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestVehiclesAndStats(t *testing.T) {
	s := testServer(t)
	rec := doJSON(t, s, http.MethodGet, "/api/v1/vehicles", nil)
	var vehicles []models.Vehicle
	decode(t, rec, &vehicles)
	if len(vehicles) != 2 {
		t.Fatalf("expected the 2 seeded vehicles, got %d", len(vehicles))
	}

	rec = doJSON(t, s, http.MethodGet, "/api/v1/stats", nil)
	var stats map[string]any
	decode(t, rec, &stats)
	if stats["vehicles"].(float64) != 2 {
		t.Fatalf("stats vehicles = %v", stats["vehicles"])
	}
	if stats["ticker_running"].(bool) {
		t.Fatal("ticker should be stopped in the fixture")
	}
}

func TestNearbyRequiresCoordinates(t *testing.T) {
	s := testServer(t)
	rec := doJSON(t, s, http.MethodGet, "/api/v1/vehicles/nearby?lat=-27.595", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	rec = doJSON(t, s, http.MethodGet, "/api/v1/vehicles/nearby?lat=-27.595&lng=-48.548", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestTelemetryUpsertsVehicle(t *testing.T) {
	s := testServer(t)
	rec := doJSON(t, s, http.MethodPost, "/api/v1/telemetry", map[string]any{
		"vehicle_id": "bus_201", "line_id": "1", "lat": -27.60, "lng": -48.60,
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	v, ok := s.Fleet.Get("bus_201")
	if !ok || v.Source != models.SourceTelemetry {
		t.Fatalf("vehicle not upserted: %+v ok=%v", v, ok)
	}
}

func TestTelemetryValidation(t *testing.T) {
	s := testServer(t)
	rec := doJSON(t, s, http.MethodPost, "/api/v1/telemetry", map[string]any{"lat": -27.6, "lng": -48.6})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestAdminConfigUpdatesThresholds(t *testing.T) {
	s := testServer(t)
	rec := doJSON(t, s, http.MethodPost, "/admin/config", map[string]string{"key": "MAX_OCC", "value": "0.5"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if got := s.Engine.Thresholds.MaxOcc(); got != 0.5 {
		t.Fatalf("MaxOcc = %v", got)
	}

	rec = doJSON(t, s, http.MethodPost, "/admin/config", map[string]string{"key": "TICK_MS", "value": "100"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown key must be rejected, status = %d", rec.Code)
	}
	rec = doJSON(t, s, http.MethodPost, "/admin/config", map[string]string{"key": "MAX_OCC", "value": "1.5"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("out-of-range MAX_OCC must be rejected, status = %d", rec.Code)
	}
}

func TestAdminAutomationFloorsTick(t *testing.T) {
	s := testServer(t)
	rec := doJSON(t, s, http.MethodPost, "/admin/automation", map[string]any{
		"tick_ms": 50, "step_points": 0, "auto_dispatch": true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	applied := s.Ticker.Config()
	if applied.TickInterval != sim.MinTickInterval || applied.StepPoints != 1 {
		t.Fatalf("floors not applied: %+v", applied)
	}
	if !s.Ticker.Running() {
		t.Fatal("reconfigure should leave the ticker running")
	}
}

func TestHealthz(t *testing.T) {
	s := testServer(t)
	rec := doJSON(t, s, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}
