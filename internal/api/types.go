package api

import (
	"github.com/ShayCichocki/theoremlib/pkg/models"
)

// StatusNotFound is reported for subjects with no live status entry.
const StatusNotFound = "not_found"

// SubmitResponse is returned when a project is accepted for indexing.
type SubmitResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// StatusResponse reports the last known state of a job.
type StatusResponse struct {
	Status string `json:"status"`
	TaskID string `json:"task_id,omitempty"`
}

// DependencyInfo is one entry of a dependency listing.
type DependencyInfo struct {
	models.ArtifactRef
	PaperURL string `json:"paper_url"`
}

// ConnectRequest asks for an edge from Source to Target.
type ConnectRequest struct {
	Source models.ArtifactKey `json:"source"`
	Target models.ArtifactKey `json:"target"`
}

// MessageResponse acknowledges a write.
type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
