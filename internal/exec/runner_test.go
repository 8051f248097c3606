package exec

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestRun(t *testing.T) {
	r := NewRunner()
	out, err := r.Run(context.Background(), t.TempDir(), "sh", "-c", "echo hello")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if strings.TrimSpace(string(out)) != "hello" {
		t.Errorf("output = %q, want %q", out, "hello")
	}
}

func TestRunEnv_ExitCode(t *testing.T) {
	r := NewRunner()

	tests := []struct {
		name     string
		script   string
		wantCode int
		wantOut  string
	}{
		{"success", "echo $GREETING", 0, "hi"},
		{"failure", "echo boom >&2; exit 3", 3, "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := r.RunEnv(context.Background(), "", map[string]string{"GREETING": "hi"}, "sh", "-c", tt.script)
			if err != nil {
				t.Fatalf("RunEnv failed: %v", err)
			}
			if res.ExitCode != tt.wantCode {
				t.Errorf("ExitCode = %d, want %d", res.ExitCode, tt.wantCode)
			}
			if !strings.Contains(string(res.Output), tt.wantOut) {
				t.Errorf("Output = %q, want it to contain %q", res.Output, tt.wantOut)
			}
		})
	}
}

func TestRunEnv_Timeout(t *testing.T) {
	r := NewRunner()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	res, err := r.RunEnv(ctx, "", nil, "sleep", "5")
	if err == nil {
		t.Fatal("expected error on timeout")
	}
	if res.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1", res.ExitCode)
	}
}

func TestRunEnv_NotFound(t *testing.T) {
	r := NewRunner()
	_, err := r.RunEnv(context.Background(), "", nil, "theoremlib-no-such-binary")
	if err == nil {
		t.Error("expected error for missing binary")
	}
}

func TestEnvList(t *testing.T) {
	got := EnvList(map[string]string{"URL": "u", "COMMIT_HASH": "c"})
	want := []string{"COMMIT_HASH=c", "URL=u"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("EnvList()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
