// Package sim advances every tracked vehicle along its line's route on a
// fixed cadence. The ticker is an explicit two-state machine (stopped,
// running) with a single authoritative handle to the active schedule.
package sim

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/example/transit-dispatch/internal/autopilot"
	"github.com/example/transit-dispatch/internal/broadcast"
	"github.com/example/transit-dispatch/internal/fleet"
	"github.com/example/transit-dispatch/internal/models"
	"github.com/example/transit-dispatch/internal/observability"
	"github.com/example/transit-dispatch/internal/routes"
)

// MinTickInterval is the lowest cadence an admin can configure.
const MinTickInterval = 200 * time.Millisecond

type Ticker struct {
	Fleet     *fleet.Store
	Routes    *routes.Registry
	Engine    *autopilot.Engine
	Broadcast broadcast.Broadcaster
	Logger    *slog.Logger

	mu       sync.Mutex // guards schedule state
	tickMu   sync.Mutex // serializes tick bodies against reconfiguration
	stopCh   chan struct{}
	running  bool
	cfg      models.AutomationConfig
	lastTick atomic.Int64 // unix nanos of the last completed tick
}

func NewTicker(f *fleet.Store, r *routes.Registry, e *autopilot.Engine, b broadcast.Broadcaster, logger *slog.Logger) *Ticker {
	return &Ticker{Fleet: f, Routes: r, Engine: e, Broadcast: b, Logger: logger}
}

func sanitize(cfg models.AutomationConfig) models.AutomationConfig {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.TickInterval < MinTickInterval {
		cfg.TickInterval = MinTickInterval
	}
	if cfg.StepPoints < 1 {
		cfg.StepPoints = 1
	}
	return cfg
}

// Start begins the schedule. If one is already running it is torn down first;
// two schedules never overlap.
func (t *Ticker) Start(cfg models.AutomationConfig) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
	cfg = sanitize(cfg)
	t.cfg = cfg
	stop := make(chan struct{})
	t.stopCh = stop
	t.running = true
	t.lastTick.Store(time.Now().UnixNano())
	t.Logger.Info("ticker started", "interval", cfg.TickInterval, "step_points", cfg.StepPoints, "auto_dispatch", cfg.AutoDispatch)
	go t.loop(cfg, stop)
}

// Stop cancels the schedule; idempotent. A tick already in flight completes
// so consumers always see a consistent snapshot, but no further tick fires.
func (t *Ticker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

func (t *Ticker) stopLocked() {
	if t.stopCh != nil {
		close(t.stopCh)
		t.stopCh = nil
	}
	t.running = false
}

// Reconfigure is stop-then-start with the new parameters.
func (t *Ticker) Reconfigure(cfg models.AutomationConfig) {
	t.Start(cfg)
}

func (t *Ticker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

func (t *Ticker) Config() models.AutomationConfig {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cfg
}

// LastTick is when the most recent tick completed; the supervisor compares
// this against the configured interval to detect stalls.
func (t *Ticker) LastTick() time.Time {
	return time.Unix(0, t.lastTick.Load())
}

func (t *Ticker) loop(cfg models.AutomationConfig, stop chan struct{}) {
	tk := time.NewTicker(cfg.TickInterval)
	defer tk.Stop()
	for {
		select {
		case <-stop:
			return
		case <-tk.C:
			// stop must win over a tick that fired concurrently
			select {
			case <-stop:
				return
			default:
			}
			t.TickOnce(cfg)
		}
	}
}

// TickOnce advances every vehicle one step batch and, when automatic dispatch
// is on, runs the proximity sweep over the settled positions. All state
// mutation happens first; events are published afterwards in one batch.
func (t *Ticker) TickOnce(cfg models.AutomationConfig) {
	t.tickMu.Lock()
	defer t.tickMu.Unlock()

	cfg = sanitize(cfg)
	var events []models.Event
	for _, snap := range t.Fleet.Snapshot() {
		plan := t.Routes.GetOrDefault(snap.LineID)
		if plan == nil || plan.Len() == 0 {
			continue
		}
		v, ok := t.Fleet.Mutate(snap.ID, func(v *models.Vehicle) {
			idx := v.RouteIndex
			if v.Source == models.SourceTelemetry {
				// re-anchor to the reported position so simulation resumes
				// from where the vehicle actually is, not a stale index
				idx = plan.NearestIndex(v.Pos)
			}
			idx = (idx + cfg.StepPoints) % plan.Len()
			v.RouteIndex = idx
			v.Pos = plan.At(idx)
			v.Source = models.SourceSimulated
		})
		if !ok {
			continue
		}
		observability.PositionUpdatesTotal.Inc()
		events = append(events, models.Event{Type: models.EventPositionChanged, Data: models.PositionChanged{
			VehicleID: v.ID,
			LineID:    v.LineID,
			Lat:       v.Pos.Lat,
			Lng:       v.Pos.Lng,
			At:        v.LastUpdate,
		}})
	}

	if cfg.AutoDispatch {
		events = append(events, t.Engine.Sweep(cfg.AutoBoarding)...)
	}

	t.lastTick.Store(time.Now().UnixNano())
	observability.TicksTotal.Inc()
	t.Broadcast.Publish(events...)
}
