package models

import "fmt"

// Validity is a tri-state flag recorded on an artifact by job callbacks.
type Validity string

const (
	// ValidityUnknown is the default before any callback has landed.
	ValidityUnknown Validity = "unknown"
	// ValidityValid means the last callback asserted success.
	ValidityValid Validity = "valid"
	// ValidityInvalid means the last callback asserted failure.
	ValidityInvalid Validity = "invalid"
)

// Valid returns true if the validity is a known value.
func (v Validity) Valid() bool {
	switch v {
	case ValidityUnknown, ValidityValid, ValidityInvalid:
		return true
	default:
		return false
	}
}

// ValidityFromBool maps a job outcome to a flag value.
func ValidityFromBool(ok bool) Validity {
	if ok {
		return ValidityValid
	}
	return ValidityInvalid
}

// FlagName names one of the three validity flags on an artifact.
type FlagName string

const (
	// FlagDependencies records whether the declared dependency manifest validated.
	FlagDependencies FlagName = "dependencies_status"
	// FlagProof records whether the proof checker accepted the artifact.
	FlagProof FlagName = "proof_status"
	// FlagPaper records whether the paper compiled.
	FlagPaper FlagName = "paper_status"
)

// Valid returns true if the flag name is a known value.
func (f FlagName) Valid() bool {
	switch f {
	case FlagDependencies, FlagProof, FlagPaper:
		return true
	default:
		return false
	}
}

// ArtifactKey is the composite identity of an artifact.
// Both fields are opaque strings; no canonicalization is applied.
type ArtifactKey struct {
	SourceURL string `json:"repo_url"`
	Revision  string `json:"commit"`
}

// String renders the key as url@revision for logs.
func (k ArtifactKey) String() string {
	return fmt.Sprintf("%s@%s", k.SourceURL, k.Revision)
}

// Validate checks that both halves of the key are present.
func (k ArtifactKey) Validate() error {
	if k.SourceURL == "" {
		return fmt.Errorf("repo_url is required")
	}
	if k.Revision == "" {
		return fmt.Errorf("commit is required")
	}
	return nil
}

// Less orders keys by source URL, then revision.
func (k ArtifactKey) Less(other ArtifactKey) bool {
	if k.SourceURL != other.SourceURL {
		return k.SourceURL < other.SourceURL
	}
	return k.Revision < other.Revision
}

// ArtifactRef is a versioned source artifact node in the dependency graph.
type ArtifactRef struct {
	ArtifactKey
	// DependenciesStatus is set by indexing callbacks.
	DependenciesStatus Validity `json:"has_valid_dependencies"`
	// ProofStatus is set by verification callbacks.
	ProofStatus Validity `json:"has_valid_proof"`
	// PaperStatus is set by compilation callbacks.
	PaperStatus Validity `json:"has_valid_paper"`
}

// NewArtifactRef returns a ref with every flag unknown.
func NewArtifactRef(sourceURL, revision string) ArtifactRef {
	return ArtifactRef{
		ArtifactKey:        ArtifactKey{SourceURL: sourceURL, Revision: revision},
		DependenciesStatus: ValidityUnknown,
		ProofStatus:        ValidityUnknown,
		PaperStatus:        ValidityUnknown,
	}
}

// Key returns the composite identity of the artifact.
func (a ArtifactRef) Key() ArtifactKey {
	return a.ArtifactKey
}

// Flag returns the value of the named flag.
func (a ArtifactRef) Flag(name FlagName) Validity {
	switch name {
	case FlagDependencies:
		return a.DependenciesStatus
	case FlagProof:
		return a.ProofStatus
	case FlagPaper:
		return a.PaperStatus
	default:
		return ValidityUnknown
	}
}
