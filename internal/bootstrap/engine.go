// Package bootstrap turns a Config into a ready storage engine for the binaries.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/punchamoorthee/loanledger/internal/config"
	"github.com/punchamoorthee/loanledger/internal/store"
	"github.com/punchamoorthee/loanledger/internal/store/memstore"
)

type migrator interface {
	Migrate(ctx context.Context) error
}

// OpenEngine connects the configured driver and applies the schema.
func OpenEngine(ctx context.Context, cfg *config.Config) (store.Engine, error) {
	var (
		engine store.Engine
		err    error
	)

	opts := []store.Option{
		store.WithPoolSize(cfg.DBMaxConns, cfg.DBMinConns),
		store.WithLockTimeout(cfg.LockTimeout),
	}

	switch cfg.Driver {
	case config.DriverPgx:
		engine, err = store.NewStore(ctx, cfg.DBSource, opts...)
	case config.DriverPostgres:
		engine, err = store.OpenSQL(ctx, store.DriverPostgres, cfg.DBSource, opts...)
	case config.DriverSQLite:
		engine, err = store.OpenSQL(ctx, store.DriverSQLite, store.SQLiteDSN(cfg.DBSource, cfg.LockTimeout), opts...)
	case config.DriverMemory:
		return memstore.New(), nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if m, ok := engine.(migrator); ok {
		if err := m.Migrate(ctx); err != nil {
			engine.Close()
			return nil, err
		}
	}
	return engine, nil
}
