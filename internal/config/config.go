package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Components accepted by Validate.
const (
	ComponentScheduler = "scheduler"
	ComponentWorker    = "worker"
	ComponentAdmin     = "admin"
)

type Config struct {
	DatabaseURL string
	DBMaxConns  int32

	LogLevel    string
	LogFile     string
	ServiceName string
	// MetricsAddr enables the metrics and health endpoints when set.
	MetricsAddr string

	// PushgatewayURL receives the results of one-shot cleanup commands.
	PushgatewayURL string

	PollInterval     time.Duration
	GracePeriod      time.Duration
	QueueWindowSize  int
	CleanerBatchSize int

	// WorkerBinary is started as `<binary> execute-run <run_id>` for each
	// run. Defaults to the running executable.
	WorkerBinary string
	// ManagedCommandBinary hosts managed subcommands.
	ManagedCommandBinary string
}

func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		LogFile:              getEnv("LOG_FILE", ""),
		ServiceName:          getEnv("SERVICE_NAME", "batchrun"),
		MetricsAddr:          getEnv("METRICS_ADDR", ""),
		PushgatewayURL:       getEnv("PUSHGATEWAY_URL", ""),
		WorkerBinary:         getEnv("WORKER_BINARY", ""),
		ManagedCommandBinary: getEnv("MANAGED_COMMAND_BINARY", ""),
	}

	var err error
	if cfg.PollInterval, err = getDuration("SCHEDULER_POLL_INTERVAL", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.GracePeriod, err = getDuration("SCHEDULER_GRACE_PERIOD", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.QueueWindowSize, err = getInt("QUEUE_WINDOW_SIZE", 10); err != nil {
		return nil, err
	}
	if cfg.CleanerBatchSize, err = getInt("CLEANER_BATCH_SIZE", 10); err != nil {
		return nil, err
	}
	maxConns, err := getInt("DB_MAX_CONNS", 4)
	if err != nil {
		return nil, err
	}
	cfg.DBMaxConns = int32(maxConns)

	if cfg.WorkerBinary == "" {
		if exe, err := os.Executable(); err == nil {
			cfg.WorkerBinary = exe
		}
	}
	return cfg, nil
}

// Validate checks that the settings component needs are present.
func (c *Config) Validate(component string) error {
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if component == ComponentScheduler && c.WorkerBinary == "" {
		missing = append(missing, "WORKER_BINARY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config for %s: %s", component, strings.Join(missing, ", "))
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("SCHEDULER_POLL_INTERVAL must be positive")
	}
	if c.GracePeriod < 0 {
		return fmt.Errorf("SCHEDULER_GRACE_PERIOD must not be negative")
	}
	if c.QueueWindowSize <= 0 {
		return fmt.Errorf("QUEUE_WINDOW_SIZE must be positive")
	}
	if c.CleanerBatchSize <= 0 {
		return fmt.Errorf("CLEANER_BATCH_SIZE must be positive")
	}
	if c.DBMaxConns <= 0 {
		return fmt.Errorf("DB_MAX_CONNS must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}
