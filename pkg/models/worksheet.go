package models

import "time"

// Worksheet states. State on metadata is authoritative for a worksheet and
// takes precedence over the pending-list entry with the same ID.
const (
	WorksheetQueued     = "queued"
	WorksheetProcessing = "processing"
	WorksheetIntegrated = "integrated"
	WorksheetFailed     = "failed"
)

// Pending-list job states.
const (
	JobQueued     = "queued"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobFailed     = "failed"
)

// WorksheetMetadata is the per-worksheet record persisted under
// metadata/<id>.json. It is created by intake in state queued and mutated
// only by the pipeline worker afterwards; records are never deleted by the
// core.
type WorksheetMetadata struct {
	ID               string     `json:"id"`
	Title            string     `json:"title,omitempty"`
	Owner            string     `json:"owner,omitempty"`
	OriginalFilename string     `json:"original_filename"`
	ArtifactPath     string     `json:"artifact_path"` // posix-style, relative to the storage root
	State            string     `json:"state"`
	UploadedAt       time.Time  `json:"uploaded_at"`
	IntegratedAt     *time.Time `json:"integrated_at,omitempty"`
	LastError        string     `json:"last_error,omitempty"`
}

// PendingJob is one entry in the shared pending-list document. At most one
// entry exists per worksheet ID; re-enqueueing updates the entry in place.
type PendingJob struct {
	WorksheetID string     `json:"worksheet_id"`
	State       string     `json:"state"`
	Attempts    int        `json:"attempts"`
	QueuedAt    time.Time  `json:"queued_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"` // set only while processing
}

// PendingList is the queue/pending.json document.
type PendingList struct {
	Jobs []PendingJob `json:"jobs"`
}
