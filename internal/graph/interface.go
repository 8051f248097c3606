package graph

import (
	"context"
	"io"

	"github.com/ShayCichocki/theoremlib/pkg/models"
)

// ArtifactStore handles node persistence.
type ArtifactStore interface {
	Upsert(ctx context.Context, key models.ArtifactKey) (models.ArtifactRef, error)
	Get(ctx context.Context, key models.ArtifactKey) (models.ArtifactRef, error)
	SetFlag(ctx context.Context, key models.ArtifactKey, flag models.FlagName, value models.Validity) error
	ListArtifacts(ctx context.Context) ([]models.ArtifactRef, error)
}

// EdgeStore handles DEPENDS_ON edges and closure queries.
type EdgeStore interface {
	Connect(ctx context.Context, src, dst models.ArtifactKey) error
	Dependencies(ctx context.Context, key models.ArtifactKey, transitive bool) ([]models.ArtifactRef, error)
	Dependents(ctx context.Context, key models.ArtifactKey) ([]models.ArtifactRef, error)
	RecordIndex(ctx context.Context, result IndexResult) ([]models.ArtifactKey, error)
	FindCycle(ctx context.Context, root models.ArtifactKey) ([]models.ArtifactKey, error)
}

// Migrator handles database schema migrations.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// Store is the full dependency graph store used by the API and callbacks.
type Store interface {
	io.Closer
	Migrator
	ArtifactStore
	EdgeStore
	Ping(ctx context.Context) error
}

// Compile-time verification that DB implements all interfaces.
var (
	_ Store         = (*DB)(nil)
	_ Migrator      = (*DB)(nil)
	_ ArtifactStore = (*DB)(nil)
	_ EdgeStore     = (*DB)(nil)
)
