package db

import (
	"context"
	"fmt"
	"log/slog"

	"yintrade/internal/config"
	"yintrade/internal/kv"
)

// OpenStore builds the configured kv backend. The returned close func
// releases whatever the backend holds.
func OpenStore(ctx context.Context, cfg config.StoreConfig, maxConns int32, logger *slog.Logger) (kv.WatchStore, func(), error) {
	switch cfg.Backend {
	case config.StoreMemory:
		return kv.NewMemory().View(), func() {}, nil
	case config.StoreFile, "":
		path := cfg.Path
		if path == "" {
			p, err := kv.DefaultPath()
			if err != nil {
				return nil, nil, fmt.Errorf("resolve store path: %w", err)
			}
			path = p
		}
		f, err := kv.NewFile(path, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("open store file: %w", err)
		}
		return f, func() {}, nil
	case config.StorePostgres:
		pool, err := Connect(ctx, cfg.DatabaseURL, maxConns)
		if err != nil {
			return nil, nil, err
		}
		pg := kv.NewPostgres(pool, cfg.Table, logger)
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate kv table: %w", err)
		}
		return pg, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
