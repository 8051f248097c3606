package status

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/theoremlib/pkg/models"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newMemoryStore(t *testing.T) (*MemoryStore, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := NewMemoryStore(0)
	s.SetClock(clock.Now)
	return s, clock
}

func TestMemoryStore_SetGet(t *testing.T) {
	s, _ := newMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", Entry{Status: models.JobStatusRunning, JobID: "j"}))

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, Entry{Status: models.JobStatusRunning, JobID: "j"}, got)
}

func TestMemoryStore_TTL(t *testing.T) {
	s, clock := newMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", Entry{Status: models.JobStatusQueued, JobID: "j"}))
	clock.Advance(23 * time.Hour)
	require.NoError(t, s.Set(ctx, "k", Entry{Status: models.JobStatusSuccess, JobID: "j"}))
	clock.Advance(23 * time.Hour)

	got, err := s.Get(ctx, "k")
	require.NoError(t, err, "TTL should be refreshed by the second write")
	assert.Equal(t, models.JobStatusSuccess, got.Status)

	clock.Advance(time.Hour)
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_TerminalIsStable(t *testing.T) {
	s, clock := newMemoryStore(t)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "k", Entry{Status: models.JobStatusFail, JobID: "j"}))

	for i := 0; i < 3; i++ {
		clock.Advance(time.Hour)
		got, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusFail, got.Status)
	}
}

func TestMemoryStore_SelfHeals(t *testing.T) {
	s, _ := newMemoryStore(t)
	ctx := context.Background()
	s.SetRaw("k", []byte("not json"))

	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	s.SetRaw("k", []byte("not json"))
	require.NoError(t, s.Set(ctx, "k", Entry{Status: models.JobStatusRunning, JobID: "j"}), "malformed entries are replaced")
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, got.Status)
}

func TestMemoryStore_RefusesBackwardMoves(t *testing.T) {
	tests := []struct {
		name    string
		current Entry
		next    Entry
		stale   bool
	}{
		{"queued after success", Entry{models.JobStatusSuccess, "j"}, Entry{models.JobStatusQueued, "j"}, true},
		{"queued after running", Entry{models.JobStatusRunning, "j"}, Entry{models.JobStatusQueued, "j"}, true},
		{"running after fail", Entry{models.JobStatusFail, "j"}, Entry{models.JobStatusRunning, "j"}, true},
		{"fail after success", Entry{models.JobStatusSuccess, "j"}, Entry{models.JobStatusFail, "j"}, true},
		{"running after queued", Entry{models.JobStatusQueued, "j"}, Entry{models.JobStatusRunning, "j"}, false},
		{"success after queued", Entry{models.JobStatusQueued, "j"}, Entry{models.JobStatusSuccess, "j"}, false},
		{"same status rewrite", Entry{models.JobStatusSuccess, "j"}, Entry{models.JobStatusSuccess, "j"}, false},
		{"new job replaces terminal", Entry{models.JobStatusSuccess, "j"}, Entry{models.JobStatusQueued, "k"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newMemoryStore(t)
			ctx := context.Background()
			require.NoError(t, s.Set(ctx, "k", tt.current))

			err := s.Set(ctx, "k", tt.next)
			got, getErr := s.Get(ctx, "k")
			require.NoError(t, getErr)
			if tt.stale {
				assert.ErrorIs(t, err, ErrStale)
				assert.Equal(t, tt.current, got)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.next, got)
			}
		})
	}
}

func TestMemoryStore_ExpiredEntryIsReplaced(t *testing.T) {
	s, clock := newMemoryStore(t)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "k", Entry{Status: models.JobStatusSuccess, JobID: "j"}))
	clock.Advance(DefaultTTL)

	assert.NoError(t, s.Set(ctx, "k", Entry{Status: models.JobStatusQueued, JobID: "j"}))
}
