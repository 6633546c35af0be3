package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/transit-dispatch/internal/models"
)

// PostgresArchive persists rides and audit entries, and loads the entities
// that survive restarts: per-line route points and the automation config.
type PostgresArchive struct {
	db *sql.DB
}

func NewPostgresArchive(dsn string) (*PostgresArchive, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresArchive{db: db}, nil
}

func (p *PostgresArchive) SaveRide(r models.RideRequest) error {
	_, err := p.db.Exec(`INSERT INTO rides(id, passenger_id, vehicle_id, stop_id, status, created_at, updated_at) VALUES($1,$2,$3,$4,$5,$6,$7)`,
		r.ID, r.PassengerID, r.VehicleID, r.StopID, r.Status, r.CreatedAt, r.UpdatedAt)
	return err
}

func (p *PostgresArchive) UpdateRide(r models.RideRequest) error {
	_, err := p.db.Exec(`UPDATE rides SET status=$1, updated_at=$2 WHERE id=$3`, r.Status, time.Now(), r.ID)
	return err
}

func (p *PostgresArchive) SaveAudit(e models.AuditEntry) error {
	payload, _ := json.Marshal(e.Payload)
	_, err := p.db.Exec(`INSERT INTO audit_entries(id, action, reason, payload, ts) VALUES($1,$2,$3,$4,$5)`,
		e.ID, e.Action, e.Reason, payload, e.At)
	return err
}

// LoadRoutePoints returns the persisted polyline for a line in sequence
// order, or an empty slice when the line has no geometry.
func (p *PostgresArchive) LoadRoutePoints(lineID string) ([]models.LatLng, error) {
	rows, err := p.db.Query(`SELECT lat, lng FROM route_points WHERE line_id=$1 ORDER BY seq ASC`, lineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var pts []models.LatLng
	for rows.Next() {
		var pt models.LatLng
		if err := rows.Scan(&pt.Lat, &pt.Lng); err != nil {
			return nil, err
		}
		pts = append(pts, pt)
	}
	return pts, rows.Err()
}

// LoadLines returns known line IDs with names for route synthesis.
func (p *PostgresArchive) LoadLines() (map[string]string, error) {
	rows, err := p.db.Query(`SELECT id, name FROM lines`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		out[id] = name
	}
	return out, rows.Err()
}

// LoadAutomationConfig reads the persisted simulator tuning; ok is false when
// none has been saved yet.
func (p *PostgresArchive) LoadAutomationConfig() (models.AutomationConfig, bool, error) {
	var tickMs, step int
	var auto, board bool
	err := p.db.QueryRow(`SELECT tick_ms, step_points, auto_dispatch, auto_boarding FROM automation_config WHERE id=1`).
		Scan(&tickMs, &step, &auto, &board)
	if err == sql.ErrNoRows {
		return models.AutomationConfig{}, false, nil
	}
	if err != nil {
		return models.AutomationConfig{}, false, err
	}
	return models.AutomationConfig{
		TickInterval: time.Duration(tickMs) * time.Millisecond,
		StepPoints:   step,
		AutoDispatch: auto,
		AutoBoarding: board,
	}, true, nil
}

func (p *PostgresArchive) SaveAutomationConfig(cfg models.AutomationConfig) error {
	_, err := p.db.Exec(`INSERT INTO automation_config(id, tick_ms, step_points, auto_dispatch, auto_boarding)
		VALUES(1,$1,$2,$3,$4)
		ON CONFLICT (id) DO UPDATE SET tick_ms=$1, step_points=$2, auto_dispatch=$3, auto_boarding=$4`,
		cfg.TickInterval.Milliseconds(), cfg.StepPoints, cfg.AutoDispatch, cfg.AutoBoarding)
	return err
}

func (p *PostgresArchive) Close() error { return p.db.Close() }
