package graph

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ShayCichocki/theoremlib/pkg/models"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const artifactColumns = `source_url, revision, dependencies_status, proof_status, paper_status`

// flagColumns maps flag names onto their column. Only these names are ever
// interpolated into SQL.
var flagColumns = map[models.FlagName]string{
	models.FlagDependencies: "dependencies_status",
	models.FlagProof:        "proof_status",
	models.FlagPaper:        "paper_status",
}

// Upsert creates the artifact if it does not exist and returns the stored node.
// An existing node and its flags are left unchanged.
func (db *DB) Upsert(ctx context.Context, key models.ArtifactKey) (models.ArtifactRef, error) {
	if err := key.Validate(); err != nil {
		return models.ArtifactRef{}, fmt.Errorf("upsert artifact: %w", err)
	}

	var ref models.ArtifactRef
	err := db.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := upsertArtifact(ctx, tx, key, time.Now()); err != nil {
			return err
		}
		var err error
		ref, err = getArtifact(ctx, tx, key)
		return err
	})
	if err != nil {
		return models.ArtifactRef{}, err
	}
	return ref, nil
}

// Get retrieves an artifact by key. It returns ErrNotFound if the node does not exist.
func (db *DB) Get(ctx context.Context, key models.ArtifactKey) (models.ArtifactRef, error) {
	return getArtifact(ctx, db.conn, key)
}

// SetFlag overwrites one validity flag. The last write wins.
func (db *DB) SetFlag(ctx context.Context, key models.ArtifactKey, flag models.FlagName, value models.Validity) error {
	column, ok := flagColumns[flag]
	if !ok {
		return fmt.Errorf("set flag: unknown flag %q", flag)
	}
	if !value.Valid() {
		return fmt.Errorf("set flag: invalid value %q", value)
	}

	res, err := db.conn.ExecContext(ctx,
		`UPDATE artifacts SET `+column+` = ?, updated_at = ? WHERE source_url = ? AND revision = ?`,
		string(value), formatTime(time.Now()), key.SourceURL, key.Revision)
	if err != nil {
		return fmt.Errorf("set flag %s on %s: %w", flag, key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set flag %s on %s: %w", flag, key, err)
	}
	if n == 0 {
		return fmt.Errorf("set flag %s: %w: %s", flag, ErrNotFound, key)
	}
	return nil
}

// ListArtifacts returns every node ordered by source URL, then revision.
func (db *DB) ListArtifacts(ctx context.Context) ([]models.ArtifactRef, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+artifactColumns+` FROM artifacts ORDER BY source_url, revision`)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	return scanArtifacts(rows)
}

// upsertArtifact inserts the node if missing and reports whether it was created.
func upsertArtifact(ctx context.Context, q querier, key models.ArtifactKey, now time.Time) (bool, error) {
	ts := formatTime(now)
	res, err := q.ExecContext(ctx, `
		INSERT INTO artifacts (source_url, revision, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (source_url, revision) DO NOTHING
	`, key.SourceURL, key.Revision, ts, ts)
	if err != nil {
		return false, fmt.Errorf("upsert artifact %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("upsert artifact %s: %w", key, err)
	}
	return n > 0, nil
}

func getArtifact(ctx context.Context, q querier, key models.ArtifactKey) (models.ArtifactRef, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE source_url = ? AND revision = ?`,
		key.SourceURL, key.Revision)

	ref, err := scanArtifact(row)
	if err == sql.ErrNoRows {
		return models.ArtifactRef{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return models.ArtifactRef{}, fmt.Errorf("get artifact %s: %w", key, err)
	}
	return ref, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanArtifact(s scanner) (models.ArtifactRef, error) {
	var ref models.ArtifactRef
	err := s.Scan(&ref.SourceURL, &ref.Revision, &ref.DependenciesStatus, &ref.ProofStatus, &ref.PaperStatus)
	return ref, err
}

func scanArtifacts(rows *sql.Rows) ([]models.ArtifactRef, error) {
	defer rows.Close()

	refs := []models.ArtifactRef{}
	for rows.Next() {
		ref, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifacts: %w", err)
	}
	return refs, nil
}
