package storage

import (
	"sync"

	"github.com/example/transit-dispatch/internal/models"
)

// Archive persists ride snapshots and audit entries outside the process.
// Simulation state itself is process-local and lost on restart; the archive
// exists for diagnostics and for entities that outlive the process.
type Archive interface {
	SaveRide(r models.RideRequest) error
	UpdateRide(r models.RideRequest) error
	SaveAudit(e models.AuditEntry) error
}

// MemoryArchive is the in-process default when no database is configured.
type MemoryArchive struct {
	mu     sync.RWMutex
	rides  map[string]models.RideRequest
	audits []models.AuditEntry
}

func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{rides: make(map[string]models.RideRequest)}
}

func (m *MemoryArchive) SaveRide(r models.RideRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides[r.ID] = r
	return nil
}

func (m *MemoryArchive) UpdateRide(r models.RideRequest) error {
	return m.SaveRide(r)
}

func (m *MemoryArchive) SaveAudit(e models.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits = append(m.audits, e)
	return nil
}

func (m *MemoryArchive) Ride(id string) (models.RideRequest, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	return r, ok
}
