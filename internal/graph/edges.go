package graph

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ShayCichocki/theoremlib/pkg/models"
)

// Connect merges a DEPENDS_ON edge from src to dst. Both nodes must exist.
// Repeating the call leaves exactly one edge.
func (db *DB) Connect(ctx context.Context, src, dst models.ArtifactKey) error {
	return db.Transaction(ctx, func(tx *sql.Tx) error {
		return connect(ctx, tx, src, dst, time.Now())
	})
}

// DirectDependencies returns the immediate dependencies of key.
func (db *DB) DirectDependencies(ctx context.Context, key models.ArtifactKey) ([]models.ArtifactRef, error) {
	if _, err := getArtifact(ctx, db.conn, key); err != nil {
		return nil, err
	}

	rows, err := db.conn.QueryContext(ctx, `
		SELECT a.source_url, a.revision, a.dependencies_status, a.proof_status, a.paper_status
		FROM depends_on d
		JOIN artifacts a ON a.source_url = d.dst_url AND a.revision = d.dst_rev
		WHERE d.src_url = ? AND d.src_rev = ?
		ORDER BY a.source_url, a.revision
	`, key.SourceURL, key.Revision)
	if err != nil {
		return nil, fmt.Errorf("direct dependencies of %s: %w", key, err)
	}
	return scanArtifacts(rows)
}

// TransitiveDependencies returns every node reachable from key over one or
// more DEPENDS_ON edges. Each node appears once and key itself is excluded,
// even when a cycle leads back to it.
func (db *DB) TransitiveDependencies(ctx context.Context, key models.ArtifactKey) ([]models.ArtifactRef, error) {
	if _, err := getArtifact(ctx, db.conn, key); err != nil {
		return nil, err
	}

	// UNION (not UNION ALL) deduplicates rows, which also terminates cycles.
	rows, err := db.conn.QueryContext(ctx, `
		WITH RECURSIVE reach(url, rev) AS (
			SELECT dst_url, dst_rev FROM depends_on WHERE src_url = ? AND src_rev = ?
			UNION
			SELECT d.dst_url, d.dst_rev
			FROM depends_on d
			JOIN reach r ON d.src_url = r.url AND d.src_rev = r.rev
		)
		SELECT a.source_url, a.revision, a.dependencies_status, a.proof_status, a.paper_status
		FROM artifacts a
		JOIN reach r ON a.source_url = r.url AND a.revision = r.rev
		WHERE NOT (a.source_url = ? AND a.revision = ?)
		ORDER BY a.source_url, a.revision
	`, key.SourceURL, key.Revision, key.SourceURL, key.Revision)
	if err != nil {
		return nil, fmt.Errorf("transitive dependencies of %s: %w", key, err)
	}
	return scanArtifacts(rows)
}

// Dependencies returns the transitive closure of key, or only its direct
// dependencies when transitive is false.
func (db *DB) Dependencies(ctx context.Context, key models.ArtifactKey, transitive bool) ([]models.ArtifactRef, error) {
	if transitive {
		return db.TransitiveDependencies(ctx, key)
	}
	return db.DirectDependencies(ctx, key)
}

// Dependents returns the artifacts that directly depend on key.
func (db *DB) Dependents(ctx context.Context, key models.ArtifactKey) ([]models.ArtifactRef, error) {
	if _, err := getArtifact(ctx, db.conn, key); err != nil {
		return nil, err
	}

	rows, err := db.conn.QueryContext(ctx, `
		SELECT a.source_url, a.revision, a.dependencies_status, a.proof_status, a.paper_status
		FROM depends_on d
		JOIN artifacts a ON a.source_url = d.src_url AND a.revision = d.src_rev
		WHERE d.dst_url = ? AND d.dst_rev = ?
		ORDER BY a.source_url, a.revision
	`, key.SourceURL, key.Revision)
	if err != nil {
		return nil, fmt.Errorf("dependents of %s: %w", key, err)
	}
	return scanArtifacts(rows)
}

// IndexResult is the outcome of an index job for one source artifact.
type IndexResult struct {
	Source       models.ArtifactKey
	Dependencies []models.ArtifactKey
	Valid        bool
}

// RecordIndex applies an index result in one transaction: it upserts the
// source and every dependency, connects source to each dependency and
// sets the dependencies flag. It returns the dependency nodes that did not
// exist before the call, in input order.
func (db *DB) RecordIndex(ctx context.Context, result IndexResult) ([]models.ArtifactKey, error) {
	if err := result.Source.Validate(); err != nil {
		return nil, fmt.Errorf("record index: source: %w", err)
	}
	for i, dep := range result.Dependencies {
		if err := dep.Validate(); err != nil {
			return nil, fmt.Errorf("record index: dependency %d: %w", i, err)
		}
	}

	var created []models.ArtifactKey
	err := db.Transaction(ctx, func(tx *sql.Tx) error {
		now := time.Now()
		if _, err := upsertArtifact(ctx, tx, result.Source, now); err != nil {
			return err
		}

		seen := make(map[models.ArtifactKey]bool, len(result.Dependencies))
		for _, dep := range result.Dependencies {
			if seen[dep] {
				continue
			}
			seen[dep] = true

			isNew, err := upsertArtifact(ctx, tx, dep, now)
			if err != nil {
				return err
			}
			if isNew {
				created = append(created, dep)
			}
			if err := connect(ctx, tx, result.Source, dep, now); err != nil {
				return err
			}
		}

		_, err := tx.ExecContext(ctx,
			`UPDATE artifacts SET dependencies_status = ?, updated_at = ? WHERE source_url = ? AND revision = ?`,
			string(models.ValidityFromBool(result.Valid)), formatTime(now),
			result.Source.SourceURL, result.Source.Revision)
		if err != nil {
			return fmt.Errorf("set dependencies flag on %s: %w", result.Source, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func connect(ctx context.Context, tx *sql.Tx, src, dst models.ArtifactKey, now time.Time) error {
	for _, key := range []models.ArtifactKey{src, dst} {
		if _, err := getArtifact(ctx, tx, key); err != nil {
			return fmt.Errorf("connect %s -> %s: %w", src, dst, err)
		}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO depends_on (src_url, src_rev, dst_url, dst_rev, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (src_url, src_rev, dst_url, dst_rev) DO NOTHING
	`, src.SourceURL, src.Revision, dst.SourceURL, dst.Revision, formatTime(now))
	if err != nil {
		return fmt.Errorf("connect %s -> %s: %w", src, dst, err)
	}
	return nil
}
