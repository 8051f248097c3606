package models

import "testing"

func TestJobStatus_Valid(t *testing.T) {
	tests := []struct {
		name   string
		status JobStatus
		want   bool
	}{
		{"queued is valid", JobStatusQueued, true},
		{"running is valid", JobStatusRunning, true},
		{"success is valid", JobStatusSuccess, true},
		{"fail is valid", JobStatusFail, true},
		{"not_found is never stored", JobStatusNotFound, false},
		{"empty string is invalid", JobStatus(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.Valid(); got != tt.want {
				t.Errorf("JobStatus(%q).Valid() = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestJobStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from JobStatus
		to   JobStatus
		want bool
	}{
		{JobStatusQueued, JobStatusRunning, true},
		{JobStatusQueued, JobStatusSuccess, true},
		{JobStatusQueued, JobStatusQueued, false},
		{JobStatusRunning, JobStatusSuccess, true},
		{JobStatusRunning, JobStatusFail, true},
		{JobStatusRunning, JobStatusQueued, false},
		{JobStatusSuccess, JobStatusFail, false},
		{JobStatusFail, JobStatusRunning, false},
		{JobStatusSuccess, JobStatusSuccess, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("CanTransition(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestJobKind_Flag(t *testing.T) {
	tests := []struct {
		kind JobKind
		want FlagName
	}{
		{JobKindIndex, FlagDependencies},
		{JobKindVerify, FlagProof},
		{JobKindCompile, FlagPaper},
	}

	for _, tt := range tests {
		if got := tt.kind.Flag(); got != tt.want {
			t.Errorf("JobKind(%q).Flag() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestParseJobKind(t *testing.T) {
	if _, err := ParseJobKind("index"); err != nil {
		t.Errorf("ParseJobKind(index) returned error: %v", err)
	}
	if _, err := ParseJobKind("latex"); err == nil {
		t.Error("ParseJobKind(latex) should fail")
	}
}

func TestSubjectKey(t *testing.T) {
	ref := ArtifactKey{SourceURL: "http://git/base.git", Revision: "abc123"}

	got := SubjectKey(JobKindVerify, ref)
	want := "verify:http://git/base.git:abc123"
	if got != want {
		t.Errorf("SubjectKey() = %q, want %q", got, want)
	}

	job := Job{Kind: JobKindVerify, Ref: ref}
	if job.Subject() != want {
		t.Errorf("Job.Subject() = %q, want %q", job.Subject(), want)
	}
}
