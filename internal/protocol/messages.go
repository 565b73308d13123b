// Package protocol holds the bus message types of the minibook daemon.
package protocol

import "time"

// ComposeRequest asks the daemon to write a minibook.
type ComposeRequest struct {
	Topic                  string   `json:"topic"`
	Chapters               int      `json:"chapters,omitempty"`
	Instructions           []string `json:"instructions,omitempty"`
	AdditionalInstructions string   `json:"additional_instructions,omitempty"`
	// Narrate chains a folder narration onto the finished project.
	Narrate bool `json:"narrate,omitempty"`
}

// NarrateRequest asks the daemon to narrate a project folder, a file or text.
// Exactly one of Folder, File and Text is set.
type NarrateRequest struct {
	Folder string `json:"folder,omitempty"`
	File   string `json:"file,omitempty"`
	Text   string `json:"text,omitempty"`
	Output string `json:"output,omitempty"`
}

// JobAck is the reply to a request.
type JobAck struct {
	JobID    string `json:"job_id,omitempty"`
	Accepted bool   `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

// Job states published on SubjectJobStatus.
const (
	JobAccepted  = "accepted"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// JobStatus reports progress of a queued job.
type JobStatus struct {
	JobID     string    `json:"job_id"`
	Kind      string    `json:"kind"`
	State     string    `json:"state"`
	RunID     string    `json:"run_id,omitempty"`
	Output    string    `json:"output,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectComposeRequest = "minibook.compose.request"
	SubjectNarrateRequest = "minibook.narrate.request"
	SubjectJobStatus      = "minibook.job.status"
)
