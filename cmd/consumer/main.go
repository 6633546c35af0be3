// The consumer drains the vehicle telemetry topic into the Redis GEO mirror,
// so position queries keep working even when the dispatch process is down.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"github.com/example/transit-dispatch/internal/geoindex"
	"github.com/example/transit-dispatch/internal/logging"
	"github.com/example/transit-dispatch/internal/models"
)

var (
	messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "transit_dispatch",
		Subsystem: "consumer",
		Name:      "messages_total",
		Help:      "Telemetry messages processed, by outcome.",
	}, []string{"outcome"})
	mirrorRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "transit_dispatch",
		Subsystem: "consumer",
		Name:      "mirror_retries_total",
		Help:      "Redis mirror writes that needed a retry.",
	})
)

type geoWriter interface {
	Upsert(ctx context.Context, v models.Vehicle) error
}

type processor struct {
	mirror geoWriter
	logger *slog.Logger
}

// handle parses one telemetry message and mirrors it into Redis, retrying the
// write a few times before giving up. A malformed message is dropped, not
// retried; it will never get better.
func (p *processor) handle(ctx context.Context, value []byte) error {
	var t models.Telemetry
	if err := json.Unmarshal(value, &t); err != nil {
		messagesTotal.WithLabelValues("malformed").Inc()
		p.logger.Warn("dropping malformed telemetry", "error", err)
		return nil
	}
	if t.VehicleID == "" {
		messagesTotal.WithLabelValues("malformed").Inc()
		return nil
	}
	v := models.Vehicle{
		ID:       t.VehicleID,
		LineID:   t.LineID,
		Pos:      models.LatLng{Lat: t.Lat, Lng: t.Lng},
		SpeedKmh: t.SpeedKmh,
		Source:   models.SourceTelemetry,
	}
	if err := p.upsertWithRetry(ctx, v); err != nil {
		messagesTotal.WithLabelValues("mirror_failed").Inc()
		return err
	}
	messagesTotal.WithLabelValues("ok").Inc()
	return nil
}

const mirrorAttempts = 3

func (p *processor) upsertWithRetry(ctx context.Context, v models.Vehicle) error {
	var err error
	for attempt := 0; attempt < mirrorAttempts; attempt++ {
		if attempt > 0 {
			mirrorRetries.Inc()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
			}
		}
		if err = p.mirror.Upsert(ctx, v); err == nil {
			return nil
		}
	}
	return err
}

func main() {
	logger := logging.NewLogger(os.Getenv("LOG_LEVEL"))

	brokers := strings.Split(envOr("KAFKA_BROKERS", "localhost:9092"), ",")
	topic := envOr("KAFKA_TOPIC", "vehicle-telemetry")
	group := envOr("KAFKA_GROUP", "telemetry-mirror")
	redisAddr := envOr("REDIS_ADDR", "localhost:6379")
	geoKey := envOr("REDIS_GEO_KEY", "vehicles_geo")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	mirror := geoindex.NewRedisGeo(redisAddr, os.Getenv("REDIS_PASSWORD"), geoKey)
	defer mirror.Close()
	if err := mirror.Ping(ctx); err != nil {
		logger.Error("redis unreachable", "addr", redisAddr, "error", err)
		os.Exit(1)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: group,
	})
	defer reader.Close()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := mirror.Ping(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	go func() {
		addr := envOr("HTTP_ADDR", ":8081")
		logger.Info("consumer http listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("consumer http failed", "error", err)
		}
	}()

	p := &processor{mirror: mirror, logger: logger}
	logger.Info("consuming telemetry", "topic", topic, "group", group)
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				logger.Info("shutting down")
				return
			}
			logger.Error("fetch failed", "error", err)
			continue
		}
		if err := p.handle(ctx, msg.Value); err != nil {
			logger.Error("telemetry mirror failed, leaving message uncommitted", "error", err)
			continue
		}
		if err := reader.CommitMessages(ctx, msg); err != nil {
			logger.Error("commit failed", "error", err)
		}
	}
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
