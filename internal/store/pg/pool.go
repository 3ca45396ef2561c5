package pg

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	// The agent is a single device client; a small pool is plenty.
	if cfg.MaxConns > 4 || cfg.MaxConns == 0 {
		cfg.MaxConns = 4
	}
	return pgxpool.NewWithConfig(ctx, cfg)
}
