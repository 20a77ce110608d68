package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wagnerlima/memory-cloud/relgraph/internal/config"
	"github.com/wagnerlima/memory-cloud/relgraph/internal/graph"
	"github.com/wagnerlima/memory-cloud/relgraph/internal/storage"
	"github.com/wagnerlima/memory-cloud/relgraph/internal/storage/memstore"
	"github.com/wagnerlima/memory-cloud/relgraph/internal/storage/neo4jstore"
	"github.com/wagnerlima/memory-cloud/relgraph/internal/telemetry"
)

// backend is an open store and the engine over it.
type backend struct {
	store   graph.Store
	engine  *graph.Engine
	closeFn func() error
}

func (b *backend) Close() error {
	return b.closeFn()
}

// openBackend opens the store selected by cfg.Store. metrics may be nil.
func openBackend(ctx context.Context, cfg *config.Config, log *zap.Logger, metrics *telemetry.Metrics) (*backend, error) {
	var (
		store   graph.Store
		closeFn func() error
	)

	switch cfg.Store {
	case config.StoreSQLite:
		s, err := storage.Open(cfg.DataDir, log)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		store, closeFn = s, s.Close
	case config.StoreMemory:
		s := memstore.New()
		store, closeFn = s, s.Close
	case config.StoreNeo4j:
		client, err := neo4jstore.NewClient(ctx, neo4jstore.Config{
			URI:      cfg.Neo4jURI,
			Username: cfg.Neo4jUser,
			Password: cfg.Neo4jPassword,
			Database: cfg.Neo4jDatabase,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("connect to neo4j: %w", err)
		}
		s := neo4jstore.New(client)
		if err := s.EnsureSchema(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("ensure neo4j schema: %w", err)
		}
		store, closeFn = s, s.Close
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}

	// The engine reads 0 as "use the default", so an explicit 0 from config disables retries.
	retries := cfg.ConflictRetries
	if retries == 0 {
		retries = -1
	}

	engine := graph.NewWithStore(store, graph.Options{
		MaxVisitedNodes: cfg.TraversalMaxNodes,
		ConflictRetries: retries,
		Logger:          log,
		Metrics:         metrics,
	})
	return &backend{store: store, engine: engine, closeFn: closeFn}, nil
}
