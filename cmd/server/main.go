package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/transit-dispatch/internal/audit"
	"github.com/example/transit-dispatch/internal/autopilot"
	"github.com/example/transit-dispatch/internal/broadcast"
	"github.com/example/transit-dispatch/internal/config"
	"github.com/example/transit-dispatch/internal/fleet"
	"github.com/example/transit-dispatch/internal/geoindex"
	"github.com/example/transit-dispatch/internal/httpapi"
	"github.com/example/transit-dispatch/internal/ingest"
	"github.com/example/transit-dispatch/internal/logging"
	"github.com/example/transit-dispatch/internal/projection"
	"github.com/example/transit-dispatch/internal/rides"
	"github.com/example/transit-dispatch/internal/routes"
	"github.com/example/transit-dispatch/internal/sim"
	"github.com/example/transit-dispatch/internal/storage"
	"github.com/example/transit-dispatch/internal/supervisor"
	"github.com/example/transit-dispatch/internal/token"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	fl := fleet.NewStore()
	fl.Seed()
	rs := rides.NewStore()
	al := audit.NewLog()
	iss := token.NewIssuer(rs, al)
	reg := routes.NewRegistry()

	var pg *storage.PostgresArchive
	var archive storage.Archive = storage.NewMemoryArchive()
	if cfg.PGDSN != "" {
		pg, err = storage.NewPostgresArchive(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres connection failed", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		archive = pg
		loadPersistedRoutes(reg, pg, logger)
		if saved, ok, err := pg.LoadAutomationConfig(); err != nil {
			logger.Warn("automation config load failed", "error", err)
		} else if ok {
			cfg.Automation = saved
		}
	}

	eng := &autopilot.Engine{
		Fleet:      fl,
		Rides:      rs,
		Audit:      al,
		Tokens:     iss,
		Stops:      autopilot.DefaultStops(),
		Thresholds: autopilot.NewThresholds(cfg.MaxDistM, cfg.MaxOcc),
		Archive:    archive,
		Logger:     logger,
	}

	hub := broadcast.NewHub(logger)
	defer hub.Close()

	ticker := sim.NewTicker(fl, reg, eng, hub, logger)
	ticker.Start(cfg.Automation)
	defer ticker.Stop()

	sup := supervisor.New(ticker, iss, al, fl, logger)
	sup.Interval = cfg.SupervisorInterval
	go sup.Run(ctx)

	var producer *ingest.Producer
	if len(cfg.KafkaBrokers) > 0 {
		producer = ingest.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
	}

	var mirror *geoindex.RedisGeo
	nearby := &projection.Service{Fleet: fl, Routes: reg}
	if cfg.RedisAddr != "" {
		mirror = geoindex.NewRedisGeo(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
		defer mirror.Close()
		if err := mirror.Ping(ctx); err != nil {
			logger.Warn("redis unreachable at startup, geo mirror degraded", "error", err)
		}
		nearby.Mirror = mirror
	}

	srv := httpapi.NewServer(httpapi.Deps{
		Engine:    eng,
		Fleet:     fl,
		Rides:     rs,
		Audit:     al,
		Tokens:    iss,
		Ticker:    ticker,
		Nearby:    nearby,
		Hub:       hub,
		Producer:  producer,
		GeoMirror: mirror,
		Pg:        pg,
		Logger:    logger,
	})

	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

// loadPersistedRoutes replaces the built-in demo polylines with persisted
// geometry where it exists, synthesizing from the line name otherwise.
func loadPersistedRoutes(reg *routes.Registry, pg *storage.PostgresArchive, logger *slog.Logger) {
	lines, err := pg.LoadLines()
	if err != nil {
		logger.Warn("line load failed, using built-in routes", "error", err)
		return
	}
	for id, name := range lines {
		pts, err := pg.LoadRoutePoints(id)
		if err != nil {
			logger.Warn("route points load failed", "line_id", id, "error", err)
			continue
		}
		if len(pts) > 0 {
			reg.Set(id, pts)
			continue
		}
		reg.Synthesize(id, name, "", "")
	}
}
