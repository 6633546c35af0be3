package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/example/transit-dispatch/internal/models"
)

// ServerConfig captures all tunable parameters for the dispatch process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	// Dispatch thresholds
	MaxDistM float64
	MaxOcc   float64

	// Simulator tuning (admin-mutable at runtime; these are the boot values)
	Automation models.AutomationConfig

	SupervisorInterval time.Duration

	LogLevel string
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RedisGeoKey:     "vehicles_geo",
		KafkaTopic:      "vehicle-telemetry",
		MaxDistM:        2000,
		MaxOcc:          0.9,
		Automation: models.AutomationConfig{
			TickInterval: time.Second,
			StepPoints:   1,
			AutoDispatch: true,
			AutoBoarding: true,
		},
		SupervisorInterval: 5 * time.Second,
		LogLevel:           "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	setFloatFromEnv(&cfg.MaxDistM, "MAX_DIST", &errs)
	setFloatFromEnv(&cfg.MaxOcc, "MAX_OCC", &errs)

	if v := os.Getenv("TICK_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid TICK_MS: %w", err))
		} else {
			cfg.Automation.TickInterval = time.Duration(ms) * time.Millisecond
		}
	}
	setIntFromEnv(&cfg.Automation.StepPoints, "STEP_POINTS", &errs)
	setBoolFromEnv(&cfg.Automation.AutoDispatch, "AUTO_DISPATCH")
	setBoolFromEnv(&cfg.Automation.AutoBoarding, "AUTO_BOARDING")

	setDurationFromEnv(&cfg.SupervisorInterval, "SUPERVISOR_INTERVAL", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.MaxDistM <= 0 {
		errs = append(errs, fmt.Errorf("MAX_DIST must be > 0"))
	}
	if cfg.MaxOcc <= 0 || cfg.MaxOcc > 1 {
		errs = append(errs, fmt.Errorf("MAX_OCC must be in (0,1]"))
	}
	if cfg.Automation.TickInterval < 200*time.Millisecond {
		errs = append(errs, fmt.Errorf("TICK_MS must be >= 200"))
	}
	if cfg.Automation.StepPoints < 1 {
		errs = append(errs, fmt.Errorf("STEP_POINTS must be >= 1"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func setBoolFromEnv(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = strings.EqualFold(v, "true") || v == "1"
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
