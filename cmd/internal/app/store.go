package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"bouncer/cmd/internal/store"
)

// openedStore pairs a store with the pool it runs on, if any. The app owns the pool.
type openedStore struct {
	store.Store
	pool *pgxpool.Pool
}

func (s openedStore) Close() error {
	err := s.Store.Close()
	if s.pool != nil {
		s.pool.Close()
	}
	return err
}

// storeKind maps BOUNCER_DATABASE_URL to a backend name and its DSN.
func storeKind(url string) (kind, dsn string) {
	u := strings.TrimSpace(url)
	switch {
	case u == "":
		return "memory", ""
	case strings.HasPrefix(u, "postgres://"), strings.HasPrefix(u, "postgresql://"):
		return "postgres", u
	case strings.HasPrefix(u, "sqlite://"):
		return "sqlite", strings.TrimPrefix(u, "sqlite://")
	case strings.HasPrefix(u, "sqlite:"):
		return "sqlite", strings.TrimPrefix(u, "sqlite:")
	default:
		return "sqlite", u
	}
}

// OpenStore selects and opens the record store named by cfg.DatabaseURL. The returned
// store's Close releases the underlying pool or file.
func OpenStore(ctx context.Context, cfg Config, log Logger) (store.Store, error) {
	kind, dsn := storeKind(cfg.DatabaseURL)

	switch kind {
	case "postgres":
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("store: postgres pool: %w", err)
		}
		pg, err := store.NewPostgresStore(pool, store.WithSchema(cfg.DBSchema))
		if err != nil {
			pool.Close()
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		log.Info("store.open", "kind", kind, "schema", cfg.DBSchema)
		return openedStore{Store: pg, pool: pool}, nil

	case "sqlite":
		sq, err := store.OpenSQLite(ctx, dsn)
		if err != nil {
			return nil, err
		}
		log.Info("store.open", "kind", kind, "path", dsn)
		return sq, nil

	default:
		log.Warn("store.open", "kind", kind, "note", "records are lost on restart")
		return store.NewMemoryStore(), nil
	}
}
