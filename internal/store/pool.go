package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"medgraphrag/internal/apperr"
	"medgraphrag/internal/config"
)

// OpenPool opens a pgx connection pool sized per cfg and pings it once
// before returning, so misconfiguration surfaces at startup rather than on
// the first request.
func OpenPool(ctx context.Context, cfg config.StoreConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavailable, "parse store dsn", err)
	}
	poolCfg.MaxConns = int32(cfg.PoolSize)
	poolCfg.MinConns = 0
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavailable, "open store pool", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, apperr.Wrap(apperr.StoreUnavailable, "ping store pool", err)
	}
	return pool, nil
}
