package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/edvin/batchrun/internal/config"
	"github.com/edvin/batchrun/internal/core"
	"github.com/edvin/batchrun/internal/db"
	"github.com/edvin/batchrun/internal/logging"
	"github.com/edvin/batchrun/internal/logpack"
)

// env is what every database-backed command starts from.
type env struct {
	cfg    *config.Config
	logger zerolog.Logger
	pool   *pgxpool.Pool
	svc    *core.Services
}

func loadConfig(component string) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(component); err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("invalid config: %w", err)
	}
	return cfg, logging.NewLogger(cfg), nil
}

func newEnv(ctx context.Context, component string) (*env, error) {
	cfg, logger, err := loadConfig(component)
	if err != nil {
		return nil, err
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	svc := core.NewServices(pool, core.Options{
		GracePeriod:      cfg.GracePeriod,
		QueueWindowSize:  cfg.QueueWindowSize,
		CleanerBatchSize: cfg.CleanerBatchSize,
		ManagedBinary:    cfg.ManagedCommandBinary,
		CompactPrecision: logpack.DefaultPrecision,
	})

	return &env{cfg: cfg, logger: logger.With().Str("component", component).Logger(), pool: pool, svc: svc}, nil
}

func (e *env) Close() {
	e.pool.Close()
}
