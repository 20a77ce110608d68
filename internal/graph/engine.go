// Package graph implements the relationship graph engine: edge writes with lazily decayed
// strength, per-entity metrics, bounded traversal and cross-entity search.
package graph

import (
	"time"

	"go.uber.org/zap"

	"github.com/wagnerlima/memory-cloud/relgraph/internal/models"
	"github.com/wagnerlima/memory-cloud/relgraph/internal/telemetry"
)

const (
	// DefaultMaxDepth is used when FindConnectedEntities gets a negative depth.
	DefaultMaxDepth = 2

	defaultMaxVisitedNodes    = 1000
	defaultConflictRetries    = 3
	defaultRefreshConcurrency = 4
	defaultSearchLimit        = 20
	maxSearchLimit            = 100
)

// Options tunes an Engine. Zero values select the defaults.
type Options struct {
	// MaxVisitedNodes caps how many nodes one traversal expands.
	MaxVisitedNodes int
	// ConflictRetries bounds retries of a strengthen that lost a row-level race.
	ConflictRetries int
	// RefreshConcurrency bounds parallel metric recomputes in RefreshMetrics.
	RefreshConcurrency int
	// SearchTypes are the collections UnifiedSearch covers. Defaults to leads, deals and tasks.
	SearchTypes []models.EntityType
	// Now is the clock. Defaults to time.Now in UTC.
	Now     func() time.Time
	Logger  *zap.Logger
	Metrics *telemetry.Metrics
}

// Engine is the relationship graph core. It holds no mutable state of its own; all state
// lives in the stores, so one Engine can be shared by every caller in the process.
type Engine struct {
	rels      RelationshipStore
	metrics   MetricsStore
	directory EntityDirectory
	logger    *zap.Logger
	telemetry *telemetry.Metrics
	now       func() time.Time
	opts      Options
}

// New builds an Engine over the given collaborators. directory may be nil, in which case
// UnifiedSearch reports the store as unavailable.
func New(rels RelationshipStore, metrics MetricsStore, directory EntityDirectory, opts Options) *Engine {
	if opts.MaxVisitedNodes <= 0 {
		opts.MaxVisitedNodes = defaultMaxVisitedNodes
	}
	if opts.ConflictRetries < 0 {
		opts.ConflictRetries = 0
	} else if opts.ConflictRetries == 0 {
		opts.ConflictRetries = defaultConflictRetries
	}
	if opts.RefreshConcurrency <= 0 {
		opts.RefreshConcurrency = defaultRefreshConcurrency
	}
	if len(opts.SearchTypes) == 0 {
		opts.SearchTypes = []models.EntityType{models.EntityLead, models.EntityDeal, models.EntityTask}
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		rels:      rels,
		metrics:   metrics,
		directory: directory,
		logger:    logger.Named("graph"),
		telemetry: opts.Metrics,
		now:       opts.Now,
		opts:      opts,
	}
}

// NewWithStore builds an Engine whose three collaborators are the same backend.
func NewWithStore(store Store, opts Options) *Engine {
	return New(store, store, store, opts)
}
