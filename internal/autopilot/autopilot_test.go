package autopilot

import (
	"log/slog"
	"testing"
	"time"

	"github.com/example/transit-dispatch/internal/audit"
	"github.com/example/transit-dispatch/internal/fleet"
	"github.com/example/transit-dispatch/internal/models"
	"github.com/example/transit-dispatch/internal/rides"
	"github.com/example/transit-dispatch/internal/storage"
	"github.com/example/transit-dispatch/internal/token"
)

func newEngine() (*Engine, *fleet.Store, *rides.Store, *audit.Log) {
	fs := fleet.NewStore()
	rs := rides.NewStore()
	al := audit.NewLog()
	e := &Engine{
		Fleet:      fs,
		Rides:      rs,
		Audit:      al,
		Tokens:     token.NewIssuer(rs, al),
		Stops:      DefaultStops(),
		Thresholds: NewThresholds(0, 0),
		Logger:     slog.Default(),
	}
	return e, fs, rs, al
}

func putVehicle(fs *fleet.Store, id string, lat, lng, occ float64) {
	fs.ApplyTelemetry(models.Telemetry{VehicleID: id, Lat: lat, Lng: lng})
	fs.SetOccupancy(id, occ)
}

func TestDecideAcceptsColocatedVehicle(t *testing.T) {
	e, fs, _, _ := newEngine()
	// vehicle parked exactly on stop_2 (Centro Palhoça), occupancy 0.2
	putVehicle(fs, "bus_101", -27.613, -48.655, 0.2)
	r := e.RequestRide("p1", "bus_101", "stop_2")
	d, events := e.Decide(r.ID)
	if d.Decision != models.DecisionAccepted {
		t.Fatalf("expected accepted, got %+v", d)
	}
	if d.ETAMinutes != 0 {
		t.Fatalf("expected eta 0 at distance 0, got %d", d.ETAMinutes)
	}
	if len(events) != 1 || events[0].Type != models.EventRideAccepted {
		t.Fatalf("expected one accepted event, got %+v", events)
	}
}

func TestDecideRejectsHighOccupancy(t *testing.T) {
	e, fs, _, _ := newEngine()
	putVehicle(fs, "bus_101", -27.613, -48.655, 0.95)
	r := e.RequestRide("p1", "bus_101", "stop_2")
	d, _ := e.Decide(r.ID)
	if d.Decision != models.DecisionRejected || d.Reason != models.ReasonHighOccupancy {
		t.Fatalf("expected high_occupancy rejection, got %+v", d)
	}
}

func TestOccupancyBoundaryIsInclusiveReject(t *testing.T) {
	e, fs, _, _ := newEngine()
	// exactly at MAX_OCC rejects
	putVehicle(fs, "bus_101", -27.613, -48.655, DefaultMaxOcc)
	r := e.RequestRide("p1", "bus_101", "stop_2")
	d, _ := e.Decide(r.ID)
	if d.Reason != models.ReasonHighOccupancy {
		t.Fatalf("occupancy == threshold must reject, got %+v", d)
	}
}

func TestDecideRejectsTooFar(t *testing.T) {
	e, fs, _, _ := newEngine()
	// vehicle at Florianópolis center, stop at Palhoça center: ~10.7 km
	putVehicle(fs, "bus_101", -27.595, -48.548, 0.2)
	r := e.RequestRide("p1", "bus_101", "stop_2")
	d, _ := e.Decide(r.ID)
	if d.Decision != models.DecisionRejected || d.Reason != models.ReasonTooFar {
		t.Fatalf("expected too_far rejection, got %+v", d)
	}
}

func TestDecideUnknownVehicleNeverPanics(t *testing.T) {
	e, _, rs, _ := newEngine()
	r := e.RequestRide("p1", "ghost_bus", "stop_1")
	d, _ := e.Decide(r.ID)
	if d.Decision != models.DecisionRejected || d.Reason != models.ReasonBusNotFound {
		t.Fatalf("expected bus_not_found, got %+v", d)
	}
	cur, _ := rs.Get(r.ID)
	if cur.Status != models.RideRejected {
		t.Fatalf("ride not marked rejected: %s", cur.Status)
	}
}

func TestDecideIsIdempotent(t *testing.T) {
	e, fs, _, al := newEngine()
	putVehicle(fs, "bus_101", -27.613, -48.655, 0.2)
	r := e.RequestRide("p1", "bus_101", "stop_2")
	first, _ := e.Decide(r.ID)
	before := al.Len()
	second, events := e.Decide(r.ID)
	if first.Decision != second.Decision || first.ETAMinutes != second.ETAMinutes {
		t.Fatalf("decisions diverged: %+v vs %+v", first, second)
	}
	if al.Len() != before {
		t.Fatal("repeated decide produced extra audit entries")
	}
	if len(events) != 0 {
		t.Fatal("repeated decide re-emitted ride events")
	}
}

func TestUnknownStopFallsBackToDefault(t *testing.T) {
	e, fs, rs, _ := newEngine()
	putVehicle(fs, "bus_101", -27.595, -48.548, 0.2)
	r := e.RequestRide("p1", "bus_101", "stop_unknown")
	cur, _ := rs.Get(r.ID)
	if cur.StopID != "stop_1" {
		t.Fatalf("expected fallback to stop_1, got %s", cur.StopID)
	}
}

func TestSweepIssuesTokenInsideStartRadius(t *testing.T) {
	e, fs, rs, _ := newEngine()
	// ~100 m south of stop_2
	putVehicle(fs, "bus_101", -27.6139, -48.655, 0.2)
	r := e.RequestRide("p1", "bus_101", "stop_2")
	e.Decide(r.ID)
	events := e.Sweep(true)
	if len(events) != 1 || events[0].Type != models.EventBoardingStart {
		t.Fatalf("expected boarding:start, got %+v", events)
	}
	cur, _ := rs.Get(r.ID)
	if cur.Token == nil {
		t.Fatal("token not attached")
	}
	if cur.Token.ExpiresAt.Before(time.Now()) {
		t.Fatal("token already expired at issuance")
	}
	// same tick state again: token exists, still outside complete radius
	if again := e.Sweep(true); len(again) != 0 {
		t.Fatalf("re-sweep outside complete radius emitted %+v", again)
	}
}

func TestSweepCompletesBoardingAtCoLocation(t *testing.T) {
	e, fs, rs, _ := newEngine()
	putVehicle(fs, "bus_101", -27.613, -48.655, 0.2) // on the stop
	r := e.RequestRide("p1", "bus_101", "stop_2")
	e.Decide(r.ID)

	first := e.Sweep(true)
	if len(first) != 1 || first[0].Type != models.EventBoardingStart {
		t.Fatalf("expected boarding:start first, got %+v", first)
	}
	second := e.Sweep(true)
	if len(second) != 1 || second[0].Type != models.EventBoardingComplete {
		t.Fatalf("expected boarding:complete, got %+v", second)
	}
	cur, _ := rs.Get(r.ID)
	if cur.Status != models.RideComplete {
		t.Fatalf("ride not complete: %s", cur.Status)
	}
}

func TestSweepHonorsAutoBoardingFlag(t *testing.T) {
	e, fs, rs, _ := newEngine()
	putVehicle(fs, "bus_101", -27.613, -48.655, 0.2)
	r := e.RequestRide("p1", "bus_101", "stop_2")
	e.Decide(r.ID)
	e.Sweep(false) // issues token
	if events := e.Sweep(false); len(events) != 0 {
		t.Fatalf("auto-boarding disabled but got %+v", events)
	}
	cur, _ := rs.Get(r.ID)
	if cur.Status != models.RideAccepted {
		t.Fatalf("ride advanced with auto-boarding off: %s", cur.Status)
	}
}

func TestThresholdsAreLive(t *testing.T) {
	e, fs, _, _ := newEngine()
	putVehicle(fs, "bus_101", -27.6139, -48.655, 0.2) // ~100 m away
	e.Thresholds.SetMaxDistM(50)
	r := e.RequestRide("p1", "bus_101", "stop_2")
	d, _ := e.Decide(r.ID)
	if d.Reason != models.ReasonTooFar {
		t.Fatalf("tightened MAX_DIST not honored: %+v", d)
	}
}

func TestEngineArchivesRideLifecycle(t *testing.T) {
	e, fs, _, _ := newEngine()
	arch := storage.NewMemoryArchive()
	e.Archive = arch
	putVehicle(fs, "bus_101", -27.613, -48.655, 0.2)

	r := e.RequestRide("p1", "bus_101", "stop_2")
	if got, ok := arch.Ride(r.ID); !ok || got.Status != models.RidePending {
		t.Fatalf("ride not archived at creation: %+v ok=%v", got, ok)
	}

	e.Decide(r.ID)
	if got, _ := arch.Ride(r.ID); got.Status != models.RideAccepted {
		t.Fatalf("archived status not updated: %+v", got)
	}
}
