// Package db owns the Postgres pool shared by the services. Repositories
// embed nothing of pgx beyond this wrapper, so connection policy lives in
// one place.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/weavr-ai/weavr/common/config"
	"github.com/weavr-ai/weavr/common/logger"
)

const (
	connectTimeout = 5 * time.Second
	healthTimeout  = 3 * time.Second
)

// DB wraps pgxpool with the pool policy applied
type DB struct {
	*pgxpool.Pool
	log *logger.Logger
}

// Connect builds the pool from configuration and verifies the database
// answers before handing it out
func Connect(ctx context.Context, cfg *config.Config, log *logger.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info("database connected",
		"host", cfg.Database.Host,
		"db", cfg.Database.Database,
		"max_conns", cfg.Database.MaxConns,
	)
	return &DB{Pool: pool, log: log}, nil
}

// Close releases the pool
func (db *DB) Close() {
	db.log.Info("closing database connection pool")
	db.Pool.Close()
}

// Health reports whether the database still answers
func (db *DB) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	return db.Pool.Ping(ctx)
}
