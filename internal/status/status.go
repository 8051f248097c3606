// Package status is the transient polling facade for asynchronous jobs.
//
// Entries map a job subject key to the job's last known status. Every write
// replaces the previous entry and refreshes its TTL. The store is not
// authoritative; the dependency graph is the durable record of outcomes.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ShayCichocki/theoremlib/pkg/models"
)

// DefaultTTL is how long an entry survives after its last write.
const DefaultTTL = 24 * time.Hour

// ErrNotFound is returned for keys that were never written, have expired,
// or held undecodable content.
var ErrNotFound = errors.New("status not found")

// ErrStale is returned by Set when the write would move a job's status
// backwards, such as a late queued write landing after the job finished.
var ErrStale = errors.New("stale status write")

// Entry is the value stored for a subject key.
type Entry struct {
	Status models.JobStatus `json:"status"`
	JobID  string           `json:"task_id"`
}

// Store reads and writes job status entries.
type Store interface {
	// Set overwrites any prior entry for key and resets its TTL. A write for
	// the same job that does not move its status forward fails with ErrStale
	// and leaves the entry untouched.
	Set(ctx context.Context, key string, e Entry) error
	// Get returns the entry for key or ErrNotFound.
	Get(ctx context.Context, key string) (Entry, error)
	// Ping checks that the backing store is reachable.
	Ping(ctx context.Context) error
}

func encode(e Entry) ([]byte, error) {
	if !e.Status.Valid() {
		return nil, fmt.Errorf("invalid job status %q", e.Status)
	}
	return json.Marshal(e)
}

// decode rejects payloads that parse as JSON but do not describe an entry.
func decode(data []byte) (Entry, error) {
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, err
	}
	if !e.Status.Valid() {
		return Entry{}, fmt.Errorf("invalid job status %q", e.Status)
	}
	return e, nil
}

// replaces reports whether next may overwrite the stored bytes prev. Entries
// of another job, or undecodable ones, are always replaced. For the same job
// only forward moves and rewrites of the same status are allowed.
func replaces(prev []byte, next Entry) bool {
	cur, err := decode(prev)
	if err != nil || cur.JobID != next.JobID {
		return true
	}
	return cur.Status == next.Status || cur.Status.CanTransition(next.Status)
}
