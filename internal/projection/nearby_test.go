package projection

import (
	"context"
	"testing"

	"github.com/example/transit-dispatch/internal/fleet"
	"github.com/example/transit-dispatch/internal/models"
	"github.com/example/transit-dispatch/internal/routes"
)

func newService() (*Service, *fleet.Store, *routes.Registry) {
	fs := fleet.NewStore()
	reg := routes.NewRegistry()
	return &Service{Fleet: fs, Routes: reg}, fs, reg
}

func simulatedAt(fs *fleet.Store, reg *routes.Registry, id, lineID string, idx int) {
	fs.ApplyTelemetry(models.Telemetry{VehicleID: id, LineID: lineID, Lat: 0, Lng: 0})
	plan := reg.Get(lineID)
	fs.Mutate(id, func(v *models.Vehicle) {
		v.RouteIndex = idx
		v.Pos = plan.At(idx)
		v.Source = models.SourceSimulated
	})
}

func TestNearbySortsByETA(t *testing.T) {
	s, fs, reg := newService()
	// two vehicles on line 1, one much further back along the route
	simulatedAt(fs, reg, "bus_a", "1", 7)
	simulatedAt(fs, reg, "bus_b", "1", 1)
	// query at the last point of line 1 (Palhoça center)
	got := s.Nearby(context.Background(), Query{Lat: -27.613, Lng: -48.655})
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if got[0].VehicleID != "bus_a" {
		t.Fatalf("closest vehicle should sort first, got %s", got[0].VehicleID)
	}
	if got[0].ETAMinutes > got[1].ETAMinutes {
		t.Fatal("results not sorted by ETA")
	}
}

func TestNearbyLineFilter(t *testing.T) {
	s, fs, reg := newService()
	simulatedAt(fs, reg, "bus_a", "1", 0)
	simulatedAt(fs, reg, "bus_b", "2", 0)
	got := s.Nearby(context.Background(), Query{Lat: -27.613, Lng: -48.655, LineID: "2"})
	if len(got) != 1 || got[0].VehicleID != "bus_b" {
		t.Fatalf("line filter broken: %+v", got)
	}
}

func TestNearbyOmitsVehiclesPastDestination(t *testing.T) {
	s, fs, reg := newService()
	// vehicle near the end of line 1
	simulatedAt(fs, reg, "bus_a", "1", 8)
	// stop early on the route, destination mid-route: bus has passed both
	dest := models.LatLng{Lat: -27.650, Lng: -48.650} // index 2
	got := s.Nearby(context.Background(), Query{Lat: -27.620, Lng: -48.600, Dest: &dest})
	if len(got) != 0 {
		t.Fatalf("vehicle past destination should be omitted: %+v", got)
	}
}

func TestNearbyComputesOnwardETA(t *testing.T) {
	s, fs, reg := newService()
	simulatedAt(fs, reg, "bus_a", "1", 0)
	dest := models.LatLng{Lat: -27.650, Lng: -48.650} // index 2
	got := s.Nearby(context.Background(), Query{Lat: -27.620, Lng: -48.600, Dest: &dest}) // stop at index 1
	if len(got) != 1 {
		t.Fatalf("expected 1 result, got %d", len(got))
	}
	e := got[0]
	if e.ETAToDest <= 0 {
		t.Fatalf("onward ETA missing: %+v", e)
	}
	if e.ETATotal != e.ETAMinutes+e.ETAToDest {
		t.Fatalf("total ETA mismatch: %+v", e)
	}
}

func TestNearbyFallsBackToStraightLine(t *testing.T) {
	s, fs, _ := newService()
	// vehicle on a line with no registered plan
	fs.ApplyTelemetry(models.Telemetry{VehicleID: "bus_x", LineID: "99", Lat: -27.60, Lng: -48.60})
	got := s.Nearby(context.Background(), Query{Lat: -27.613, Lng: -48.655, LineID: "99"})
	if len(got) != 1 {
		t.Fatalf("expected straight-line fallback result, got %d", len(got))
	}
	if got[0].DistMeters <= 0 {
		t.Fatalf("distance not computed: %+v", got[0])
	}
}

type fakeMirror struct {
	vehicles []models.Vehicle
}

func (f *fakeMirror) Near(ctx context.Context, lat, lng, radiusM float64, limit int) []models.Vehicle {
	return f.vehicles
}

func TestNearbyFallsBackToMirrorWhenFleetEmpty(t *testing.T) {
	s, fs, _ := newService()
	s.Mirror = &fakeMirror{vehicles: []models.Vehicle{
		{ID: "bus_m", LineID: "1", Pos: models.LatLng{Lat: -27.60, Lng: -48.60}, Source: models.SourceTelemetry},
	}}
	got := s.Nearby(context.Background(), Query{Lat: -27.613, Lng: -48.655})
	if len(got) != 1 || got[0].VehicleID != "bus_m" {
		t.Fatalf("mirror fallback broken: %+v", got)
	}

	// once the fleet tracks anything, the mirror is not consulted
	fs.ApplyTelemetry(models.Telemetry{VehicleID: "bus_live", LineID: "1", Lat: -27.60, Lng: -48.60})
	got = s.Nearby(context.Background(), Query{Lat: -27.613, Lng: -48.655})
	if len(got) != 1 || got[0].VehicleID != "bus_live" {
		t.Fatalf("live fleet should win over the mirror: %+v", got)
	}
}

func TestNearbyLimit(t *testing.T) {
	s, fs, reg := newService()
	for i, id := range []string{"a", "b", "c"} {
		simulatedAt(fs, reg, id, "1", i)
	}
	got := s.Nearby(context.Background(), Query{Lat: -27.613, Lng: -48.655, Limit: 2})
	if len(got) != 2 {
		t.Fatalf("limit not applied: %d", len(got))
	}
}
