package manifest

import (
	"fmt"
	"strings"

	"github.com/ShayCichocki/theoremlib/pkg/models"
)

// ValidationError describes one declared entry that failed validation.
type ValidationError struct {
	// Index is the position of the entry in the declared list.
	Index int
	// Entry is the declared entry as read.
	Entry models.ManifestEntry
	// Message is the human-readable reason.
	Message string
}

func (e ValidationError) Error() string {
	return e.Message
}

// ValidationErrors aggregates every failure from one Validate call.
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Message
	}
	return "manifest validation failed: " + strings.Join(msgs, "; ")
}

// Validate checks declared entries against the lockfile.
//
// Every entry is checked; failures accumulate. If any entry fails the result
// is nil and the error is a ValidationErrors. Otherwise declared is returned
// unchanged. Lockfile entries absent from declared are not reported.
func Validate(lock map[string]string, declared []models.ManifestEntry) ([]models.ManifestEntry, error) {
	var errs ValidationErrors

	for i, entry := range declared {
		fail := func(format string, args ...any) {
			errs = append(errs, ValidationError{
				Index:   i,
				Entry:   entry,
				Message: fmt.Sprintf(format, args...),
			})
		}

		if entry.DependencyURL == "" {
			fail("dependency %d: missing git field", i)
			continue
		}
		if entry.DependencyRevision == "" {
			fail("%s: missing commit field", entry.DependencyURL)
			continue
		}

		pinned, ok := lock[entry.DependencyURL]
		if !ok {
			fail("%s not found in lockfile", entry.DependencyURL)
			continue
		}
		if pinned != entry.DependencyRevision {
			fail("%s: commit mismatch: declared %s vs. lockfile %s",
				entry.DependencyURL, entry.DependencyRevision, pinned)
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return declared, nil
}
