package manifest

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/ShayCichocki/theoremlib/pkg/models"
)

const (
	// LockfileName is the lockfile read from the project root.
	LockfileName = "lakefile.toml"
	// DeclaredName is the declared dependency manifest read from the project root.
	DeclaredName = "math-dependencies.json"
)

// lakefile is the subset of lakefile.toml we read.
type lakefile struct {
	Require []map[string]any `toml:"require"`
}

// ParseLockfile reads [[require]] tables into a git URL -> revision map.
// Tables missing either git or rev are skipped.
func ParseLockfile(r io.Reader) (map[string]string, error) {
	var lf lakefile
	if err := toml.NewDecoder(r).Decode(&lf); err != nil {
		return nil, fmt.Errorf("decode %s: %w", LockfileName, err)
	}

	lock := make(map[string]string, len(lf.Require))
	for _, req := range lf.Require {
		git, _ := req["git"].(string)
		rev, _ := req["rev"].(string)
		if git == "" || rev == "" {
			continue
		}
		lock[git] = rev
	}
	return lock, nil
}

// ParseDeclared reads the JSON declared-dependency list.
// Missing fields decode as empty strings so Validate can report them.
func ParseDeclared(r io.Reader) ([]models.ManifestEntry, error) {
	var entries []models.ManifestEntry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode %s: %w", DeclaredName, err)
	}
	return entries, nil
}

// LoadProject reads both manifests from dir and validates them.
func LoadProject(dir string) ([]models.ManifestEntry, error) {
	lock, err := readFile(filepath.Join(dir, LockfileName), ParseLockfile)
	if err != nil {
		return nil, err
	}
	declared, err := readFile(filepath.Join(dir, DeclaredName), ParseDeclared)
	if err != nil {
		return nil, err
	}
	return Validate(lock, declared)
}

func readFile[T any](path string, parse func(io.Reader) (T, error)) (T, error) {
	var zero T
	f, err := os.Open(path)
	if err != nil {
		return zero, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()
	return parse(f)
}
