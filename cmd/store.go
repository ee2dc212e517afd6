package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/playlog-cli/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, &configError{err: eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)}
	}
}
