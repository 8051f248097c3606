package graph

import (
	"context"
	"fmt"

	"github.com/ShayCichocki/theoremlib/pkg/models"
)

// FindCycle reports a dependency cycle reachable from root, if any.
// The returned path starts and ends at the same artifact. A nil path means
// the subgraph below root is acyclic. Cycles are legal in the store; this is
// a diagnostic for operators.
func (db *DB) FindCycle(ctx context.Context, root models.ArtifactKey) ([]models.ArtifactKey, error) {
	if _, err := getArtifact(ctx, db.conn, root); err != nil {
		return nil, err
	}

	edges, err := db.reachableEdges(ctx, root)
	if err != nil {
		return nil, err
	}
	return findCycle(root, edges), nil
}

// reachableEdges loads the adjacency of every node reachable from root, root included.
func (db *DB) reachableEdges(ctx context.Context, root models.ArtifactKey) (map[models.ArtifactKey][]models.ArtifactKey, error) {
	rows, err := db.conn.QueryContext(ctx, `
		WITH RECURSIVE reach(url, rev) AS (
			SELECT ?, ?
			UNION
			SELECT d.dst_url, d.dst_rev
			FROM depends_on d
			JOIN reach r ON d.src_url = r.url AND d.src_rev = r.rev
		)
		SELECT d.src_url, d.src_rev, d.dst_url, d.dst_rev
		FROM depends_on d
		JOIN reach r ON d.src_url = r.url AND d.src_rev = r.rev
		ORDER BY d.src_url, d.src_rev, d.dst_url, d.dst_rev
	`, root.SourceURL, root.Revision)
	if err != nil {
		return nil, fmt.Errorf("load edges below %s: %w", root, err)
	}
	defer rows.Close()

	edges := make(map[models.ArtifactKey][]models.ArtifactKey)
	for rows.Next() {
		var src, dst models.ArtifactKey
		if err := rows.Scan(&src.SourceURL, &src.Revision, &dst.SourceURL, &dst.Revision); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		edges[src] = append(edges[src], dst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate edges: %w", err)
	}
	return edges, nil
}

// findCycle runs a depth-first search with colouring from root and returns
// the first back edge it finds as a closed path.
func findCycle(root models.ArtifactKey, edges map[models.ArtifactKey][]models.ArtifactKey) []models.ArtifactKey {
	const (
		white = iota // unvisited
		gray         // on the current path
		black        // done
	)
	colors := make(map[models.ArtifactKey]int)
	var path []models.ArtifactKey

	var visit func(k models.ArtifactKey) []models.ArtifactKey
	visit = func(k models.ArtifactKey) []models.ArtifactKey {
		colors[k] = gray
		path = append(path, k)

		for _, dep := range edges[k] {
			switch colors[dep] {
			case gray:
				// Back edge: the cycle is the path suffix starting at dep.
				for i, p := range path {
					if p == dep {
						cycle := append([]models.ArtifactKey{}, path[i:]...)
						return append(cycle, dep)
					}
				}
			case white:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}

		path = path[:len(path)-1]
		colors[k] = black
		return nil
	}

	return visit(root)
}
