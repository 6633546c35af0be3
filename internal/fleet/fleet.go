// Package fleet holds the mutable per-vehicle state shared by the ticker,
// telemetry ingestion and the dispatch engine.
package fleet

import (
	"sync"
	"time"

	"github.com/example/transit-dispatch/internal/models"
)

// Store serializes all vehicle reads and writes behind one RWMutex, so the
// proximity sweep never observes a vehicle mid-update. Vehicles are never
// destroyed, only reassigned.
type Store struct {
	mu       sync.RWMutex
	vehicles map[string]*models.Vehicle
}

func NewStore() *Store {
	return &Store{vehicles: make(map[string]*models.Vehicle)}
}

// Seed registers the demo fleet when the store starts empty.
func (s *Store) Seed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.vehicles) > 0 {
		return
	}
	now := time.Now()
	for _, v := range []*models.Vehicle{
		{ID: "bus_101", LineID: "2", Plate: "ABC-1234", Pos: models.LatLng{Lat: -27.613, Lng: -48.655}, Occupancy: 0.2, Source: models.SourceSimulated, LastUpdate: now},
		{ID: "bus_102", LineID: "1", Plate: "DEF-5678", Pos: models.LatLng{Lat: -27.595, Lng: -48.548}, Occupancy: 0.3, Source: models.SourceSimulated, LastUpdate: now},
	} {
		s.vehicles[v.ID] = v
	}
}

func (s *Store) Get(id string) (models.Vehicle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vehicles[id]
	if !ok {
		return models.Vehicle{}, false
	}
	return *v, true
}

// Snapshot returns copies of every vehicle, safe to iterate without locks.
func (s *Store) Snapshot() []models.Vehicle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Vehicle, 0, len(s.vehicles))
	for _, v := range s.vehicles {
		out = append(out, *v)
	}
	return out
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vehicles)
}

// ApplyTelemetry upserts an externally-reported fix. Telemetry always wins
// over the last simulated write; the next tick re-anchors the route index to
// the reported position instead of resuming from the stale one.
func (s *Store) ApplyTelemetry(t models.Telemetry) models.Vehicle {
	s.mu.Lock()
	defer s.mu.Unlock()
	at := t.At
	if at.IsZero() {
		at = time.Now()
	}
	v, ok := s.vehicles[t.VehicleID]
	if !ok {
		v = &models.Vehicle{ID: t.VehicleID, Occupancy: 0.3}
		s.vehicles[t.VehicleID] = v
	}
	if t.LineID != "" {
		v.LineID = t.LineID
	}
	v.Pos = models.LatLng{Lat: t.Lat, Lng: t.Lng}
	v.SpeedKmh = t.SpeedKmh
	v.Source = models.SourceTelemetry
	v.ReportedAt = at
	v.LastUpdate = time.Now()
	return *v
}

// Mutate runs fn on the live vehicle record under the write lock. The ticker
// uses this for its read-modify-write advance. Returns false for unknown IDs.
func (s *Store) Mutate(id string, fn func(*models.Vehicle)) (models.Vehicle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vehicles[id]
	if !ok {
		return models.Vehicle{}, false
	}
	fn(v)
	v.LastUpdate = time.Now()
	return *v, true
}

// SetOccupancy adjusts the fractional load, clamped to [0,1].
func (s *Store) SetOccupancy(id string, occ float64) bool {
	if occ < 0 {
		occ = 0
	}
	if occ > 1 {
		occ = 1
	}
	_, ok := s.Mutate(id, func(v *models.Vehicle) { v.Occupancy = occ })
	return ok
}

// AssignLine moves a vehicle to another line without touching its position.
func (s *Store) AssignLine(id, lineID string) bool {
	_, ok := s.Mutate(id, func(v *models.Vehicle) { v.LineID = lineID })
	return ok
}
