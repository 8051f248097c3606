package git

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// gitCmd runs git in dir with a fixed identity, failing the test on error.
func gitCmd(t *testing.T, dir string, args ...string) string {
	t.Helper()
	full := append([]string{"-c", "user.name=test", "-c", "user.email=test@example.com", "-c", "init.defaultBranch=main"}, args...)
	cmd := exec.Command("git", full...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s: %v: %s", strings.Join(args, " "), err, out)
	}
	return strings.TrimSpace(string(out))
}

// setupRepo creates a repository with two commits and returns its path and
// the hash of the first commit.
func setupRepo(t *testing.T) (string, string) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	dir := t.TempDir()
	gitCmd(t, dir, "init", "--quiet")
	if err := os.WriteFile(filepath.Join(dir, "lakefile.toml"), []byte("name = \"a\"\n"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	gitCmd(t, dir, "add", ".")
	gitCmd(t, dir, "commit", "--quiet", "-m", "first")
	first := gitCmd(t, dir, "rev-parse", "HEAD")

	if err := os.WriteFile(filepath.Join(dir, "lakefile.toml"), []byte("name = \"b\"\n"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	gitCmd(t, dir, "commit", "--quiet", "-am", "second")
	return dir, first
}

func TestCloneAndCheckout(t *testing.T) {
	src, first := setupRepo(t)
	r := NewRunner(nil)
	ctx := context.Background()
	dst := filepath.Join(t.TempDir(), "checkout")

	if err := r.Clone(ctx, src, dst); err != nil {
		t.Fatalf("Clone failed: %v", err)
	}
	if err := r.Checkout(ctx, dst, first); err != nil {
		t.Fatalf("Checkout failed: %v", err)
	}

	head, err := r.Head(ctx, dst)
	if err != nil {
		t.Fatalf("Head failed: %v", err)
	}
	if head != first {
		t.Errorf("Head() = %q, want %q", head, first)
	}

	data, err := os.ReadFile(filepath.Join(dst, "lakefile.toml"))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if string(data) != "name = \"a\"\n" {
		t.Errorf("lakefile.toml = %q, want first revision", data)
	}
}

func TestCheckout_UnknownRevision(t *testing.T) {
	src, _ := setupRepo(t)
	r := NewRunner(nil)
	ctx := context.Background()
	dst := filepath.Join(t.TempDir(), "checkout")

	if err := r.Clone(ctx, src, dst); err != nil {
		t.Fatalf("Clone failed: %v", err)
	}
	err := r.Checkout(ctx, dst, "0000000000000000000000000000000000000000")
	if err == nil {
		t.Fatal("expected error for unknown revision")
	}
	if !strings.Contains(err.Error(), "git -c advice.detachedHead=false checkout") {
		t.Errorf("error = %q, want it to name the command", err)
	}
}

func TestClone_BadURL(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	r := NewRunner(nil)
	err := r.Clone(context.Background(), filepath.Join(t.TempDir(), "missing"), filepath.Join(t.TempDir(), "dst"))
	if err == nil {
		t.Error("expected error cloning a missing repository")
	}
}
