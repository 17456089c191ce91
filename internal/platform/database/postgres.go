package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolConfig sizes the job store's connection pool. Zero values keep pgx's
// own defaults.
type PoolConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

func (c PoolConfig) pgxConfig() (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(c.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres DSN: %w", err)
	}
	if c.MaxConns > 0 {
		pc.MaxConns = c.MaxConns
	}
	if c.MinConns > 0 {
		pc.MinConns = c.MinConns
	}
	if c.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = c.MaxConnLifetime
	}
	if c.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = c.MaxConnIdleTime
	}
	pc.HealthCheckPeriod = time.Minute
	return pc, nil
}

// NewDBPool opens the pool and pings once, so a bad DSN fails at startup
// rather than on the first scheduled post.
func NewDBPool(ctx context.Context, cfg PoolConfig, logger *slog.Logger) (*pgxpool.Pool, error) {
	pc, err := cfg.pgxConfig()
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("creating postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres at %s:%d: %w", pc.ConnConfig.Host, pc.ConnConfig.Port, err)
	}

	logger.InfoContext(ctx, "Postgres pool ready",
		"host", pc.ConnConfig.Host, "database", pc.ConnConfig.Database,
		"max_conns", pc.MaxConns, "min_conns", pc.MinConns)
	return pool, nil
}
