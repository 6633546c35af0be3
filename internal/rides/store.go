// Package rides owns the boarding-request lifecycle. Status transitions are
// monotonic: pending may move to accepted or rejected, accepted may move to
// complete, and rejected/complete are terminal. Nothing ever reverts to
// pending.
package rides

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/example/transit-dispatch/internal/models"
)

type Store struct {
	mu    sync.RWMutex
	rides map[string]*models.RideRequest
	order []string // creation order, for listing
}

func NewStore() *Store {
	return &Store{rides: make(map[string]*models.RideRequest)}
}

func newID() string {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	return "r_" + hex.EncodeToString(b)
}

// Create registers a new pending request. Creation always succeeds; whether
// the ride is worth accepting is the dispatch engine's problem.
func (s *Store) Create(passengerID, vehicleID, stopID string) models.RideRequest {
	now := time.Now()
	r := &models.RideRequest{
		ID:          newID(),
		PassengerID: passengerID,
		VehicleID:   vehicleID,
		StopID:      stopID,
		Status:      models.RidePending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.mu.Lock()
	s.rides[r.ID] = r
	s.order = append(s.order, r.ID)
	s.mu.Unlock()
	return *r
}

func (s *Store) Get(id string) (models.RideRequest, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rides[id]
	if !ok {
		return models.RideRequest{}, false
	}
	return copyRide(r), true
}

// Mutate runs fn on the live record under the write lock. fn is responsible
// for honoring transition rules via Allowed.
func (s *Store) Mutate(id string, fn func(*models.RideRequest)) (models.RideRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rides[id]
	if !ok {
		return models.RideRequest{}, false
	}
	fn(r)
	r.UpdatedAt = time.Now()
	return copyRide(r), true
}

// Allowed reports whether the lifecycle permits moving from one status to
// another.
func Allowed(from, to models.RideStatus) bool {
	switch from {
	case models.RidePending:
		return to == models.RideAccepted || to == models.RideRejected
	case models.RideAccepted:
		return to == models.RideComplete
	default: // rejected and complete are terminal
		return false
	}
}

// UpdateStatus applies a transition if the lifecycle allows it.
func (s *Store) UpdateStatus(id string, to models.RideStatus) (models.RideRequest, bool) {
	changed := false
	r, ok := s.Mutate(id, func(r *models.RideRequest) {
		if Allowed(r.Status, to) {
			r.Status = to
			changed = true
		}
	})
	return r, ok && changed
}

// AcceptedForVehicle lists accepted rides waiting on a given vehicle, in
// creation order. The proximity sweep walks this every tick.
func (s *Store) AcceptedForVehicle(vehicleID string) []models.RideRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.RideRequest
	for _, id := range s.order {
		r := s.rides[id]
		if r.VehicleID == vehicleID && r.Status == models.RideAccepted {
			out = append(out, copyRide(r))
		}
	}
	return out
}

// All returns every ride in creation order.
func (s *Store) All() []models.RideRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.RideRequest, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, copyRide(s.rides[id]))
	}
	return out
}

func (s *Store) CountsByStatus() map[models.RideStatus]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[models.RideStatus]int, 4)
	for _, r := range s.rides {
		out[r.Status]++
	}
	return out
}

func copyRide(r *models.RideRequest) models.RideRequest {
	cp := *r
	if r.Token != nil {
		tok := *r.Token
		cp.Token = &tok
	}
	return cp
}
