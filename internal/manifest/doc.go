// Package manifest cross-checks a project's declared dependency list against
// its pinned-revision lockfile.
//
// Two files are read from a checkout:
//   - math-dependencies.json: the declared list, an array of {"git", "commit"} objects
//   - lakefile.toml: the lockfile, whose [[require]] tables pin git URLs to revisions
//
// Validate is pure. It reports every mismatch at once and rejects the whole
// batch when any entry fails, so callers never index a partial dependency set.
package manifest
