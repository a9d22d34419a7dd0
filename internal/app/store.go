package app

import (
	"context"
	"database/sql"
	"fmt"

	gfs "cloud.google.com/go/firestore"
	_ "github.com/lib/pq"
	"go.uber.org/fx"

	"github.com/quintans/dig-scheduler/internal/config"
	"github.com/quintans/dig-scheduler/scheduler"
	"github.com/quintans/dig-scheduler/store/firestore"
	"github.com/quintans/dig-scheduler/store/memory"
	"github.com/quintans/dig-scheduler/store/postgres"
)

// newStore opens the store selected by the configuration. Connections are closed on stop.
func newStore(lc fx.Lifecycle, cfg config.Config) (scheduler.JobStore, error) {
	switch cfg.Store.Driver {
	case config.DriverMemory:
		return memory.New(), nil
	case config.DriverPostgres:
		return newPostgresStore(lc, cfg.Store.Postgres)
	case config.DriverFirestore:
		return newFirestoreStore(lc, cfg.Store.Firestore)
	default:
		return nil, fmt.Errorf("unknown store driver '%s': %w", cfg.Store.Driver, scheduler.ErrInvalidArgument)
	}
}

func newPostgresStore(lc fx.Lifecycle, cfg config.PostgresConfig) (scheduler.JobStore, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	store := postgres.New(
		db,
		postgres.TableOption(cfg.Table),
		postgres.LockDurationOption(cfg.LockDuration),
	)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := db.PingContext(ctx); err != nil {
				return fmt.Errorf("failed to connect to postgres: %w", err)
			}
			if cfg.Migrate {
				return store.Migrate(ctx)
			}
			return nil
		},
		OnStop: func(context.Context) error {
			return db.Close()
		},
	})
	return store, nil
}

func newFirestoreStore(lc fx.Lifecycle, cfg config.FirestoreConfig) (scheduler.JobStore, error) {
	client, err := gfs.NewClient(context.Background(), cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return firestore.New(
		client,
		firestore.CollectionPathOption(cfg.Collection),
		firestore.LockDurationOption(cfg.LockDuration),
	), nil
}
