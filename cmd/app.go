package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"propertyescrow/pkg/config"
	"propertyescrow/pkg/db"
	"propertyescrow/pkg/escrow"
	"propertyescrow/pkg/events"
	"propertyescrow/pkg/parties"
	"propertyescrow/pkg/registry"
)

// backend bundles the storage-facing components. Without DATABASE_URL every
// component is process-local.
type backend struct {
	addrs    config.Addresses
	pool     *pgxpool.Pool
	registry registry.Registry
	store    escrow.Store
	parties  parties.PartyRepository
	journal  events.Journal
}

func openBackend(ctx context.Context, cfg config.Config, logger *zap.Logger) (*backend, error) {
	addrs, err := cfg.Addresses()
	if err != nil {
		return nil, err
	}
	b := &backend{addrs: addrs}

	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set; escrow state is kept in memory")
		b.registry = registry.NewMemoryRegistry(addrs.Registry)
		b.store = escrow.NewMemoryStore()
		b.parties = parties.NewMemoryPartyRepository()
		b.journal = events.NewMemoryJournal()
		return b, nil
	}

	pool, err := db.Connect(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	b.pool = pool
	b.registry = registry.NewPostgresRegistry(pool, addrs.Registry)
	b.store = escrow.NewPostgresStore(pool, addrs.Escrow)
	b.parties = parties.NewPostgresPartyRepository(pool)
	b.journal = events.NewPostgresJournal(pool)
	return b, nil
}

func (b *backend) persistent() bool { return b.pool != nil }

func (b *backend) ping(ctx context.Context) error {
	if b.pool == nil {
		return nil
	}
	return b.pool.Ping(ctx)
}

func (b *backend) Close() {
	if b.pool != nil {
		b.pool.Close()
	}
}

// newEngine builds the engine over the backend and loads its persisted state.
func (b *backend) newEngine(ctx context.Context, logger *zap.Logger, recorder escrow.Recorder, emitter escrow.Emitter) (*escrow.Engine, error) {
	engine, err := escrow.NewEngine(escrow.Options{
		Roles: escrow.Roles{
			SellerAuthority: b.addrs.SellerAuthority,
			Inspector:       b.addrs.Inspector,
			LoanProvider:    b.addrs.LoanProvider,
			Registry:        b.addrs.Registry,
		},
		Self:     b.addrs.Escrow,
		Registry: b.registry,
		Store:    b.store,
		Emitter:  emitter,
		Logger:   logger.Named("escrow"),
		Recorder: recorder,
	})
	if err != nil {
		return nil, fmt.Errorf("build escrow engine: %w", err)
	}
	if err := engine.Restore(ctx); err != nil {
		return nil, err
	}
	return engine, nil
}
