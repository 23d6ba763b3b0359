package protocol

import "time"

// EnqueueRequest asks the worker to (re)process a manuscript.
type EnqueueRequest struct {
	ID     string `json:"id"`
	Source string `json:"source,omitempty"`
}

// ProgressEvent is published before each section is synthesized.
type ProgressEvent struct {
	RunID     string    `json:"run_id"`
	ID        string    `json:"id"`
	Section   int       `json:"section"`
	Sections  int       `json:"sections"`
	Progress  float64   `json:"progress"`
	Timestamp time.Time `json:"timestamp"`
}

// StateEvent is published once per processed queue item.
type StateEvent struct {
	RunID     string    `json:"run_id"`
	ID        string    `json:"id"`
	State     string    `json:"state"`
	Generated bool      `json:"generated"`
	Reason    string    `json:"reason,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectEnqueue  = "narrator.enqueue"
	SubjectProgress = "narrator.manuscript.progress"
	SubjectState    = "narrator.manuscript.state"
)
