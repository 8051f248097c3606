package models

import (
	"fmt"
	"time"
)

// JobKind identifies what a worker does with an artifact.
type JobKind string

const (
	// JobKindIndex clones the artifact and validates its dependency manifest.
	JobKindIndex JobKind = "index"
	// JobKindVerify runs the proof checker.
	JobKindVerify JobKind = "verify"
	// JobKindCompile compiles the paper.
	JobKindCompile JobKind = "compile"
)

// AllJobKinds lists every job kind in dispatch order.
var AllJobKinds = []JobKind{JobKindIndex, JobKindVerify, JobKindCompile}

// Valid returns true if the kind is a known value.
func (k JobKind) Valid() bool {
	switch k {
	case JobKindIndex, JobKindVerify, JobKindCompile:
		return true
	default:
		return false
	}
}

// Flag returns the artifact flag a job of this kind reports into.
func (k JobKind) Flag() FlagName {
	switch k {
	case JobKindVerify:
		return FlagProof
	case JobKindCompile:
		return FlagPaper
	default:
		return FlagDependencies
	}
}

// ParseJobKind converts a string to a JobKind.
func ParseJobKind(s string) (JobKind, error) {
	k := JobKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown job kind %q", s)
	}
	return k, nil
}

// JobStatus is the externally visible state of a job.
type JobStatus string

const (
	// JobStatusQueued means the broker confirmed the job but no worker has taken it.
	JobStatusQueued JobStatus = "queued"
	// JobStatusRunning means a worker owns the job.
	JobStatusRunning JobStatus = "running"
	// JobStatusSuccess means the environment exited 0.
	JobStatusSuccess JobStatus = "success"
	// JobStatusFail means non-zero exit, timeout, or an orchestration error.
	JobStatusFail JobStatus = "fail"
	// JobStatusNotFound is reported for unknown or expired subjects. It is never stored.
	JobStatusNotFound JobStatus = "not_found"
)

// Valid returns true for statuses that may be stored.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusRunning, JobStatusSuccess, JobStatusFail:
		return true
	default:
		return false
	}
}

// Terminal returns true for success and fail.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSuccess || s == JobStatusFail
}

// CanTransition reports whether a job may move from s to next. Moves only go
// forward; queued may jump straight to a terminal status when the running
// write was lost.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobStatusQueued:
		return next == JobStatusRunning || next.Terminal()
	case JobStatusRunning:
		return next.Terminal()
	default:
		return false
	}
}

// ExitCodeTimeout is the synthetic exit code reported for timed-out environments.
const ExitCodeTimeout = -1

// Job is a unit of work handed to the broker.
type Job struct {
	// ID is the opaque identifier assigned at enqueue time.
	ID string `json:"task_id"`
	// Kind selects the worker handler.
	Kind JobKind `json:"kind"`
	// Ref is the artifact the job operates on.
	Ref ArtifactKey `json:"ref"`
	// Status is the last known state.
	Status JobStatus `json:"status"`
	// EnqueuedAt is when the dispatcher published the job.
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Subject returns the status-store key for the job.
func (j Job) Subject() string {
	return SubjectKey(j.Kind, j.Ref)
}

// SubjectKey builds the status-store key for a kind and artifact.
func SubjectKey(kind JobKind, ref ArtifactKey) string {
	return fmt.Sprintf("%s:%s:%s", kind, ref.SourceURL, ref.Revision)
}
