package models

import "time"

type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// PositionSource records who last wrote a vehicle's position. The ticker
// writes simulated positions carrying a route index; external telemetry
// writes reported positions carrying the report timestamp. Last write wins.
type PositionSource string

const (
	SourceSimulated PositionSource = "simulated"
	SourceTelemetry PositionSource = "telemetry"
)

type Vehicle struct {
	ID         string         `json:"id"`
	LineID     string         `json:"line_id,omitempty"`
	Plate      string         `json:"plate,omitempty"`
	Pos        LatLng         `json:"pos"`
	RouteIndex int            `json:"route_index"`
	SpeedKmh   float64        `json:"speed_kmh"`
	Occupancy  float64        `json:"occupancy"` // 0 empty .. 1 full
	Source     PositionSource `json:"source"`
	ReportedAt time.Time      `json:"reported_at,omitempty"` // telemetry only
	LastUpdate time.Time      `json:"last_update"`
}

type Stop struct {
	ID   string  `json:"id"`
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
}

type RideStatus string

const (
	RidePending  RideStatus = "pending"
	RideAccepted RideStatus = "accepted"
	RideRejected RideStatus = "rejected"
	RideComplete RideStatus = "complete"
)

// BoardingToken holds only the one-way hash of the secret; the secret itself
// is handed to the caller once at issuance and never stored.
type BoardingToken struct {
	ID         string    `json:"id"`
	SecretHash string    `json:"-"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type RideRequest struct {
	ID          string         `json:"id"`
	PassengerID string         `json:"passenger_id"`
	VehicleID   string         `json:"vehicle_id"`
	StopID      string         `json:"stop_id"`
	Status      RideStatus     `json:"status"`
	Token       *BoardingToken `json:"token,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

type Decision struct {
	Decision   string  `json:"decision"` // accepted | rejected
	Reason     string  `json:"reason,omitempty"`
	ETAMinutes int     `json:"eta"`
	DistMeters float64 `json:"dist_meters,omitempty"`
}

const (
	DecisionAccepted = "accepted"
	DecisionRejected = "rejected"

	ReasonBusNotFound   = "bus_not_found"
	ReasonHighOccupancy = "high_occupancy"
	ReasonTooFar        = "too_far"
)

// AutomationConfig is the process-wide simulator/dispatch tuning, mutated by
// admin operations and re-read by the ticker on each cycle.
type AutomationConfig struct {
	TickInterval time.Duration `json:"tick_ms"`
	StepPoints   int           `json:"step_points"`
	AutoDispatch bool          `json:"auto_dispatch"`
	AutoBoarding bool          `json:"auto_boarding"`
}

type AuditEntry struct {
	ID      string    `json:"id"`
	Action  string    `json:"action"`
	Reason  string    `json:"reason"`
	Payload any       `json:"payload,omitempty"`
	At      time.Time `json:"ts"`
}

// Telemetry is an externally-reported vehicle fix.
type Telemetry struct {
	VehicleID string    `json:"vehicle_id"`
	LineID    string    `json:"line_id,omitempty"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	SpeedKmh  float64   `json:"speed_kmh,omitempty"`
	AccuracyM float64   `json:"accuracy_m,omitempty"`
	At        time.Time `json:"ts,omitempty"`
}
