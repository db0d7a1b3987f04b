package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/rsclarke/echohook/internal/config"
	"github.com/rsclarke/echohook/internal/kv"
	"github.com/rsclarke/echohook/internal/logging"
	"github.com/rsclarke/echohook/internal/ratelimit"
)

// openStore connects to the backend cfg selects.
func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (kv.Store, error) {
	var (
		st  kv.Store
		err error
	)
	switch cfg.Backend {
	case config.BackendMemory:
		log.Warn("using in-memory storage; data is lost on exit")
		st = kv.NewMemory()
	case config.BackendSQLite:
		st, err = kv.OpenSQLite(cfg.DBPath)
	case config.BackendRedis:
		st, err = kv.OpenRedis(ctx, cfg.RedisURL, cfg.RedisPrefix)
	case config.BackendPostgres:
		st, err = kv.OpenPostgres(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Backend, err)
	}
	log.Info("storage ready", logging.Backend(cfg.Backend))
	return st, nil
}

// rateCounter shares window counts across instances when the store is
// Redis and keeps them in process otherwise.
func rateCounter(st kv.Store) ratelimit.Counter {
	if r, ok := st.(*kv.Redis); ok {
		return ratelimit.NewRedis(r.Client(), r.Namespace())
	}
	return ratelimit.NewMemory(nil)
}
