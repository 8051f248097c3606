package executor

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/theoremlib/internal/config"
	"github.com/ShayCichocki/theoremlib/pkg/models"
)

func TestProcess_Run(t *testing.T) {
	base := t.TempDir()
	p := NewProcess(nil)
	p.BaseDir = base

	tests := []struct {
		name     string
		script   string
		wantCode int
		wantLogs string
	}{
		{"success", `echo "$URL@$COMMIT_HASH"`, 0, "https://example.com/a@abc\n"},
		{"failure", `echo nope; exit 7`, 7, "nope\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testEnv()
			env.Command = []string{"sh", "-c", tt.script}

			res, err := p.Run(context.Background(), env)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCode, res.ExitCode)
			assert.Equal(t, tt.wantLogs, res.Logs)

			entries, err := os.ReadDir(base)
			require.NoError(t, err)
			assert.Empty(t, entries, "job directory should be removed")
		})
	}
}

func TestProcess_Timeout(t *testing.T) {
	base := t.TempDir()
	p := NewProcess(nil)
	p.BaseDir = base

	env := testEnv()
	env.Command = []string{"sleep", "10"}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	res, err := p.Run(ctx, env)
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.Equal(t, models.ExitCodeTimeout, res.ExitCode)

	entries, err := os.ReadDir(base)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestProcess_SpawnFailure(t *testing.T) {
	p := NewProcess(nil)
	p.BaseDir = t.TempDir()

	env := testEnv()
	env.Command = []string{"theoremlib-no-such-binary"}
	_, err := p.Run(context.Background(), env)
	assert.ErrorIs(t, err, ErrSpawn)

	env.Command = nil
	_, err = p.Run(context.Background(), env)
	assert.ErrorIs(t, err, ErrSpawn)
}

func TestEnvFor(t *testing.T) {
	cfg := config.Default()
	job := models.Job{
		ID:   "0b5e",
		Kind: models.JobKindCompile,
		Ref:  models.ArtifactKey{SourceURL: "https://example.com/a", Revision: "abc"},
	}

	env := EnvFor(cfg.ProjectName, cfg.Executor, job)
	assert.Equal(t, "theorem-library-compile-task-0b5e", env.Name)
	assert.Equal(t, "theorem-library-latex-task", env.Image)
	assert.Equal(t, cfg.Executor.Network, env.Network)
	assert.Equal(t, []string{"theoremlib", "task", "compile"}, env.Command)
	assert.Equal(t, map[string]string{
		"URL":         "https://example.com/a",
		"COMMIT_HASH": "abc",
		"JOB_ID":      "0b5e",
	}, env.Vars)
}

func TestNew_UnknownBackend(t *testing.T) {
	_, err := New(config.ExecutorConfig{Backend: "lxc"}, nil)
	assert.Error(t, err)
}

func TestNew_DaggerRejectsNetwork(t *testing.T) {
	_, err := New(config.ExecutorConfig{Backend: "dagger", Network: "theorem-library_theorem-library"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "theorem-library_theorem-library")

	exec, err := New(config.ExecutorConfig{Backend: "dagger"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Dagger{}, exec)
}
