// Package autopilot is the dispatch engine: it decides boarding requests
// against proximity and occupancy thresholds and drives the automatic
// boarding lifecycle as vehicles approach their stops.
package autopilot

import (
	"log/slog"
	"math"
	"sync"

	"github.com/example/transit-dispatch/internal/audit"
	"github.com/example/transit-dispatch/internal/fleet"
	"github.com/example/transit-dispatch/internal/geo"
	"github.com/example/transit-dispatch/internal/models"
	"github.com/example/transit-dispatch/internal/observability"
	"github.com/example/transit-dispatch/internal/rides"
	"github.com/example/transit-dispatch/internal/storage"
	"github.com/example/transit-dispatch/internal/token"
)

const (
	// StartBoardingRadiusM anticipates arrival: the token is issued early so
	// the passenger has lead time to present it.
	StartBoardingRadiusM = 200.0
	// CompleteBoardingRadiusM confirms physical co-location.
	CompleteBoardingRadiusM = 10.0

	// speedFloorKmh guards ETA math: simulated vehicles report zero speed
	// even while moving along the route.
	speedFloorKmh = 10.0

	DefaultMaxDistM = 2000.0
	DefaultMaxOcc   = 0.9
)

// Thresholds are the admin-tunable dispatch gates, read on every decision.
type Thresholds struct {
	mu       sync.RWMutex
	maxDistM float64
	maxOcc   float64
}

func NewThresholds(maxDistM, maxOcc float64) *Thresholds {
	t := &Thresholds{maxDistM: DefaultMaxDistM, maxOcc: DefaultMaxOcc}
	if maxDistM > 0 {
		t.maxDistM = maxDistM
	}
	if maxOcc > 0 {
		t.maxOcc = maxOcc
	}
	return t
}

func (t *Thresholds) MaxDistM() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.maxDistM
}

func (t *Thresholds) MaxOcc() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.maxOcc
}

func (t *Thresholds) SetMaxDistM(v float64) {
	t.mu.Lock()
	t.maxDistM = v
	t.mu.Unlock()
}

func (t *Thresholds) SetMaxOcc(v float64) {
	t.mu.Lock()
	t.maxOcc = v
	t.mu.Unlock()
}

type Engine struct {
	Fleet      *fleet.Store
	Rides      *rides.Store
	Audit      *audit.Log
	Tokens     *token.Issuer
	Stops      []models.Stop
	Thresholds *Thresholds
	Archive    storage.Archive
	Logger     *slog.Logger
}

// DefaultStops is the static reference stop set served by the demo corridor.
func DefaultStops() []models.Stop {
	return []models.Stop{
		{ID: "stop_1", Name: "Centro Florianópolis", Lat: -27.595, Lng: -48.548},
		{ID: "stop_2", Name: "Centro Palhoça", Lat: -27.613, Lng: -48.655},
		{ID: "stop_3", Name: "Via Expressa", Lat: -27.620, Lng: -48.580},
	}
}

// stopByID resolves a stop, falling back to the first known stop for unknown
// IDs. Permissive on purpose; the fallback is visible in the audit trail.
func (e *Engine) stopByID(id string) (models.Stop, bool) {
	for _, s := range e.Stops {
		if s.ID == id {
			return s, true
		}
	}
	return e.Stops[0], false
}

// RequestRide creates a pending request. It never rejects at creation time;
// unknown stops are remapped to the default stop and audited.
func (e *Engine) RequestRide(passengerID, vehicleID, stopID string) models.RideRequest {
	stop, known := e.stopByID(stopID)
	r := e.Rides.Create(passengerID, vehicleID, stop.ID)
	payload := map[string]any{"rideId": r.ID, "vehicleId": vehicleID, "stopId": stop.ID}
	if !known {
		payload["stopFallback"] = stopID
	}
	e.Audit.Record("ride_request", "received", payload)
	if e.Archive != nil {
		if err := e.Archive.SaveRide(r); err != nil {
			e.Logger.Warn("ride archive write failed", "ride_id", r.ID, "error", err)
		}
	}
	return r
}

// Decide maps (vehicle, stop, thresholds) to accept/reject. Domain rejections
// are outcomes, not errors: an unknown vehicle yields rejected/bus_not_found.
// The status transition and audit entry are applied only the first time; a
// repeated call on unchanged state recomputes the same decision without
// double-logging.
func (e *Engine) Decide(rideID string) (models.Decision, []models.Event) {
	r, ok := e.Rides.Get(rideID)
	if !ok {
		return models.Decision{Decision: models.DecisionRejected, Reason: models.ReasonBusNotFound}, nil
	}

	v, vok := e.Fleet.Get(r.VehicleID)
	if !vok {
		return e.settle(r, models.Decision{Decision: models.DecisionRejected, Reason: models.ReasonBusNotFound}, nil)
	}

	stop, _ := e.stopByID(r.StopID)
	d := geo.Distance(v.Pos, models.LatLng{Lat: stop.Lat, Lng: stop.Lng})

	if v.Occupancy >= e.Thresholds.MaxOcc() {
		return e.settle(r, models.Decision{Decision: models.DecisionRejected, Reason: models.ReasonHighOccupancy, DistMeters: d},
			map[string]any{"rideId": r.ID, "occ": v.Occupancy})
	}
	if d > e.Thresholds.MaxDistM() {
		return e.settle(r, models.Decision{Decision: models.DecisionRejected, Reason: models.ReasonTooFar, DistMeters: d},
			map[string]any{"rideId": r.ID, "dist": d})
	}

	eta := geo.ETAMinutes(d, math.Max(speedFloorKmh, v.SpeedKmh))
	return e.settle(r, models.Decision{Decision: models.DecisionAccepted, ETAMinutes: eta, DistMeters: d},
		map[string]any{"rideId": r.ID, "eta": eta})
}

// settle applies the status transition for a decision and emits the audit
// entry and ride event only when the transition actually took effect.
func (e *Engine) settle(r models.RideRequest, d models.Decision, payload map[string]any) (models.Decision, []models.Event) {
	target := models.RideRejected
	if d.Decision == models.DecisionAccepted {
		target = models.RideAccepted
	}
	updated, applied := e.Rides.UpdateStatus(r.ID, target)
	if !applied {
		return d, nil
	}
	if e.Archive != nil {
		if err := e.Archive.UpdateRide(updated); err != nil {
			e.Logger.Warn("ride archive update failed", "ride_id", r.ID, "error", err)
		}
	}
	if payload == nil {
		payload = map[string]any{"rideId": r.ID}
	}
	reason := d.Reason
	if d.Decision == models.DecisionAccepted {
		reason = models.DecisionAccepted
	}
	e.Audit.Record("autopilot", reason, payload)
	observability.DispatchDecisions.WithLabelValues(d.Decision, d.Reason).Inc()

	evType := models.EventRideRejected
	if d.Decision == models.DecisionAccepted {
		evType = models.EventRideAccepted
	}
	ev := models.Event{Type: evType, Data: models.RideDecided{
		RideID:     r.ID,
		VehicleID:  r.VehicleID,
		Decision:   d.Decision,
		Reason:     d.Reason,
		ETAMinutes: d.ETAMinutes,
	}}
	return d, []models.Event{ev}
}

// Sweep runs once per tick after every position has settled. For each
// accepted ride it measures vehicle-to-stop distance: inside the start radius
// it issues the boarding token; inside the completion radius (with automatic
// boarding enabled) it validates the token server-side and completes the
// ride. The two radii differ by an order of magnitude on purpose.
func (e *Engine) Sweep(autoBoarding bool) []models.Event {
	var events []models.Event
	for _, v := range e.Fleet.Snapshot() {
		for _, r := range e.Rides.AcceptedForVehicle(v.ID) {
			stop, _ := e.stopByID(r.StopID)
			d := geo.Distance(v.Pos, models.LatLng{Lat: stop.Lat, Lng: stop.Lng})

			if r.Token == nil && d <= StartBoardingRadiusM {
				if issued := e.Tokens.Issue(r.ID); issued != nil {
					observability.BoardingEvents.WithLabelValues(models.EventBoardingStart).Inc()
					events = append(events, models.Event{Type: models.EventBoardingStart, Data: models.BoardingEvent{
						RideID:    r.ID,
						VehicleID: v.ID,
						TokenID:   issued.Token.ID,
						ExpiresAt: issued.Token.ExpiresAt,
					}})
				}
				continue
			}

			if r.Token != nil && autoBoarding && d <= CompleteBoardingRadiusM {
				if e.Tokens.ValidateServerSide(r.ID) {
					observability.BoardingEvents.WithLabelValues(models.EventBoardingComplete).Inc()
					events = append(events, models.Event{Type: models.EventBoardingComplete, Data: models.BoardingEvent{
						RideID:    r.ID,
						VehicleID: v.ID,
					}})
				}
			}
		}
	}
	return events
}
