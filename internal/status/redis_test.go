package status

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/theoremlib/pkg/models"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s := NewRedisStore(RedisOptions{Addr: mr.Addr(), Prefix: "theoremlib:", TTL: DefaultTTL})
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestRedisStore_SetGet(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "verify:https://example.com/a:1", Entry{Status: models.JobStatusQueued, JobID: "job-1"}))

	got, err := s.Get(ctx, "verify:https://example.com/a:1")
	require.NoError(t, err)
	assert.Equal(t, Entry{Status: models.JobStatusQueued, JobID: "job-1"}, got)

	raw, err := mr.Get("theoremlib:verify:https://example.com/a:1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"queued","task_id":"job-1"}`, raw)
}

func TestRedisStore_OverwriteRefreshesTTL(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()
	key := "index:https://example.com/a:1"

	require.NoError(t, s.Set(ctx, key, Entry{Status: models.JobStatusQueued, JobID: "job-1"}))
	mr.FastForward(20 * time.Hour)
	require.NoError(t, s.Set(ctx, key, Entry{Status: models.JobStatusRunning, JobID: "job-1"}))
	mr.FastForward(20 * time.Hour)

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, got.Status)
	assert.Equal(t, DefaultTTL-20*time.Hour, mr.TTL("theoremlib:"+key))
}

func TestRedisStore_RefusesBackwardMoves(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()
	key := "index:https://example.com/a:1"

	require.NoError(t, s.Set(ctx, key, Entry{Status: models.JobStatusRunning, JobID: "job-1"}))
	require.NoError(t, s.Set(ctx, key, Entry{Status: models.JobStatusSuccess, JobID: "job-1"}))

	err := s.Set(ctx, key, Entry{Status: models.JobStatusQueued, JobID: "job-1"})
	assert.ErrorIs(t, err, ErrStale)

	raw, err := mr.Get("theoremlib:" + key)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"success","task_id":"job-1"}`, raw)

	require.NoError(t, s.Set(ctx, key, Entry{Status: models.JobStatusQueued, JobID: "job-2"}), "a new job replaces the entry")
	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, Entry{Status: models.JobStatusQueued, JobID: "job-2"}, got)
}

func TestRedisStore_ReplacesMalformedEntry(t *testing.T) {
	s, mr := newRedisStore(t)
	key := "verify:https://example.com/a:1"
	require.NoError(t, mr.Set("theoremlib:"+key, "{{{"))

	require.NoError(t, s.Set(context.Background(), key, Entry{Status: models.JobStatusQueued, JobID: "job-1"}))
	got, err := s.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, got.Status)
}

func TestRedisStore_Expiry(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()
	key := "compile:https://example.com/a:1"

	require.NoError(t, s.Set(ctx, key, Entry{Status: models.JobStatusSuccess, JobID: "job-1"}))
	mr.FastForward(DefaultTTL + time.Second)

	_, err := s.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_NeverWritten(t *testing.T) {
	s, _ := newRedisStore(t)

	_, err := s.Get(context.Background(), "verify:https://example.com/none:1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_SelfHeals(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", "{{{"},
		{"wrong shape", `["running"]`},
		{"unknown status", `{"status":"exploded","task_id":"x"}`},
		{"not_found is never stored", `{"status":"not_found","task_id":"x"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mr := newRedisStore(t)
			key := "verify:https://example.com/a:1"
			require.NoError(t, mr.Set("theoremlib:"+key, tt.raw))

			_, err := s.Get(context.Background(), key)
			assert.ErrorIs(t, err, ErrNotFound)
			assert.False(t, mr.Exists("theoremlib:"+key), "malformed entry should be deleted")
		})
	}
}

func TestRedisStore_RejectsInvalidStatus(t *testing.T) {
	s, mr := newRedisStore(t)

	err := s.Set(context.Background(), "k", Entry{Status: models.JobStatusNotFound})
	assert.Error(t, err)
	assert.False(t, mr.Exists("theoremlib:k"))
}

func TestRedisStore_Ping(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	assert.NoError(t, s.Ping(ctx))
	mr.Close()
	assert.Error(t, s.Ping(ctx))
}
