package models

// ManifestEntry is one declared dependency from a project's manifest.
type ManifestEntry struct {
	// DependencyURL is the git location of the dependency.
	DependencyURL string `json:"git"`
	// DependencyRevision is the declared commit.
	DependencyRevision string `json:"commit"`
}

// Key converts the entry to the artifact identity it refers to.
func (e ManifestEntry) Key() ArtifactKey {
	return ArtifactKey{SourceURL: e.DependencyURL, Revision: e.DependencyRevision}
}
