package task

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ShayCichocki/theoremlib/pkg/models"
)

// ResultMarker prefixes the single machine-readable line an index job prints.
const ResultMarker = "::theoremlib-result::"

// ErrNoResult is returned when job logs carry no result line.
var ErrNoResult = errors.New("no index result in job output")

// IndexReport is the payload of the result line.
type IndexReport struct {
	Dependencies []models.ArtifactKey `json:"dependencies"`
}

// WriteIndexResult prints the result line for a validated manifest.
func WriteIndexResult(w io.Writer, deps []models.ManifestEntry) error {
	report := IndexReport{Dependencies: make([]models.ArtifactKey, 0, len(deps))}
	for _, d := range deps {
		report.Dependencies = append(report.Dependencies, d.Key())
	}
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode index result: %w", err)
	}
	_, err = fmt.Fprintf(w, "%s %s\n", ResultMarker, data)
	return err
}

// ParseIndexResult extracts the dependencies from job logs. When several
// result lines are present the last one wins.
func ParseIndexResult(logs string) ([]models.ArtifactKey, error) {
	var last string
	found := false

	sc := bufio.NewScanner(strings.NewReader(logs))
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if i := strings.Index(line, ResultMarker); i >= 0 {
			last = strings.TrimSpace(line[i+len(ResultMarker):])
			found = true
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan job output: %w", err)
	}
	if !found {
		return nil, ErrNoResult
	}

	var report IndexReport
	if err := json.Unmarshal([]byte(last), &report); err != nil {
		return nil, fmt.Errorf("decode index result: %w", err)
	}
	for i, dep := range report.Dependencies {
		if err := dep.Validate(); err != nil {
			return nil, fmt.Errorf("index result dependency %d: %w", i, err)
		}
	}
	if report.Dependencies == nil {
		report.Dependencies = []models.ArtifactKey{}
	}
	return report.Dependencies, nil
}
