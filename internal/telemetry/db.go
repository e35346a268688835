package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/touchlink/gateway/internal/config"
	"github.com/touchlink/gateway/internal/errors"
	"github.com/touchlink/gateway/internal/logger"
	"go.uber.org/zap"
)

// Store wraps the connection pool of the telemetry database. The gateway
// runs fine without it; a nil Store disables recording entirely.
type Store struct {
	Pool *pgxpool.Pool
	log  *zap.Logger
}

// DSN assembles the connection string. An explicit URL wins over the
// server/port fields.
func DSN(cfg config.DatabaseConfig) string {
	if cfg.URL != "" {
		return cfg.URL
	}
	return fmt.Sprintf("postgresql://%s@%s:%d/%s?sslmode=disable",
		cfg.User, cfg.Server, cfg.Port, cfg.Name)
}

// Connect opens the pool with retries and verifies it with a ping.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	log := logger.New("telemetry")
	dsn := DSN(cfg)

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.DatabaseConnectionError(err)
	}
	poolCfg.MaxConns = 8
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 30 * time.Second

	backoff := 2 * time.Second
	var pool *pgxpool.Pool
	for attempt := 1; attempt <= 5; attempt++ {
		pool, err = pgxpool.NewWithConfig(ctx, poolCfg)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				log.Info("Telemetry store connected",
					zap.Int("attempt", attempt),
					zap.Int32("max_conns", poolCfg.MaxConns))
				return &Store{Pool: pool, log: log}, nil
			}
			pool.Close()
		}
		log.Warn("Telemetry store connection failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, errors.DatabaseConnectionError(err)
}

// Ping verifies the store is reachable. Used by the health checker.
func (s *Store) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

// Close drains the pool.
func (s *Store) Close() {
	s.Pool.Close()
	s.log.Info("Telemetry store closed")
}
