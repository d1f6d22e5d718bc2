package jobs

import "time"

// State represents the current lifecycle position of a job.
// Transitions are monotonic; no state is ever revisited.
type State string

const (
	// StateQueued is the initial state of every accepted job.
	StateQueued State = "queued"
	// StateRunning means the job holds an execution slot and owns a child process.
	StateRunning State = "running"
	// StateSucceeded is terminal; the job's output is available for download.
	StateSucceeded State = "succeeded"
	// StateFailed is terminal; error detail records the classified failure.
	StateFailed State = "failed"
	// StateCancelled is terminal; the job was cancelled by the caller or at shutdown.
	StateCancelled State = "cancelled"
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateCancelled:
		return true
	}
	return false
}

// validTransition encodes the permitted edges of the state machine.
func validTransition(from, to State) bool {
	switch from {
	case StateQueued:
		return to == StateRunning || to == StateCancelled
	case StateRunning:
		return to == StateSucceeded || to == StateFailed || to == StateCancelled
	}
	return false
}

// Job is one request to process a media input into an output. The Store
// owns the canonical copy; everything handed out is a snapshot.
type Job struct {
	ID           string    `json:"id"`
	Operation    string    `json:"operation"`
	Format       string    `json:"format,omitempty"`
	State        State     `json:"state"`
	CreatedAt    time.Time `json:"created_at"`
	StartedAt    time.Time `json:"started_at,omitzero"`
	FinishedAt   time.Time `json:"finished_at,omitzero"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	ErrorMessage string    `json:"error,omitempty"`
	Retryable    bool      `json:"retryable,omitempty"`

	// Server-side bookkeeping, never serialized to clients.
	IdempotencyKey string `json:"-"`
	InputPath      string `json:"-"`
	OutputPath     string `json:"-"`
	ContentType    string `json:"-"`
}

// Spec describes a job at creation time.
type Spec struct {
	Operation      string
	Format         string
	ContentType    string
	InputPath      string
	OutputPath     string
	IdempotencyKey string
}
