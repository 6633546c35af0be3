package models

import "time"

// Event types emitted by the core. State-mutating operations collect events
// and hand them to a Broadcaster in a separate phase, so a slow consumer can
// never stall a tick or a ride transition.
const (
	EventPositionChanged  = "position_changed"
	EventRideAccepted     = "ride:accepted"
	EventRideRejected     = "ride:rejected"
	EventBoardingStart    = "boarding:start"
	EventBoardingComplete = "boarding:complete"
)

type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type PositionChanged struct {
	VehicleID string    `json:"vehicle_id"`
	LineID    string    `json:"line_id,omitempty"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	At        time.Time `json:"ts"`
}

type RideDecided struct {
	RideID     string `json:"ride_id"`
	VehicleID  string `json:"vehicle_id"`
	Decision   string `json:"decision"`
	Reason     string `json:"reason,omitempty"`
	ETAMinutes int    `json:"eta"`
}

type BoardingEvent struct {
	RideID    string    `json:"ride_id"`
	VehicleID string    `json:"vehicle_id"`
	TokenID   string    `json:"token_id,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}
