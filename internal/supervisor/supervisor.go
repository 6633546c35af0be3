// Package supervisor self-heals the simulation: it clears stale boarding
// tokens, compacts the audit trail, and force-restarts the ticker when ticks
// stop arriving.
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/transit-dispatch/internal/audit"
	"github.com/example/transit-dispatch/internal/fleet"
	"github.com/example/transit-dispatch/internal/observability"
	"github.com/example/transit-dispatch/internal/sim"
	"github.com/example/transit-dispatch/internal/token"
)

// DefaultInterval is independent of the ticker's own cadence.
const DefaultInterval = 5 * time.Second

// stallFactor: no tick for longer than stallFactor× the configured interval
// counts as a stall.
const stallFactor = 3

type Supervisor struct {
	Ticker   *sim.Ticker
	Tokens   *token.Issuer
	Audit    *audit.Log
	Fleet    *fleet.Store
	Interval time.Duration
	Logger   *slog.Logger
	Now      func() time.Time // test hook
}

func New(t *sim.Ticker, iss *token.Issuer, al *audit.Log, fs *fleet.Store, logger *slog.Logger) *Supervisor {
	return &Supervisor{Ticker: t, Tokens: iss, Audit: al, Fleet: fs, Interval: DefaultInterval, Logger: logger, Now: time.Now}
}

// Run blocks until the context is canceled.
func (s *Supervisor) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	tk := time.NewTicker(interval)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
			s.RunOnce()
		}
	}
}

// RunOnce executes one maintenance pass.
func (s *Supervisor) RunOnce() {
	if cleaned := s.Tokens.ExpireStale(); len(cleaned) > 0 {
		s.Logger.Info("expired boarding tokens cleared", "count", len(cleaned))
	}

	if dropped := s.Audit.Compact(); dropped > 0 {
		s.Logger.Info("audit log compacted", "dropped", dropped)
	}

	if s.tickerStalled() {
		diff := s.Now().Sub(s.Ticker.LastTick())
		s.Ticker.Start(s.Ticker.Config())
		s.Audit.Record("supervisor", "ticker_restart", map[string]any{"stalled_for_ms": diff.Milliseconds()})
		observability.TickerRestartsTotal.Inc()
		s.Logger.Warn("ticker stalled, restarted", "stalled_for", diff)
	}

	observability.VehiclesTracked.Set(float64(s.Fleet.Count()))
	observability.AuditEntries.Set(float64(s.Audit.Len()))
}

func (s *Supervisor) tickerStalled() bool {
	if !s.Ticker.Running() {
		return false // deliberately stopped is not a stall
	}
	interval := s.Ticker.Config().TickInterval
	if interval <= 0 {
		return false
	}
	return s.Now().Sub(s.Ticker.LastTick()) > stallFactor*interval
}
