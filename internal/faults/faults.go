// Package faults defines the error taxonomy shared by the pipeline, the
// process runner, and the HTTP gateway. Every error that crosses the
// pipeline boundary is classified into exactly one Kind before it is
// rendered to a client; raw internal errors never leave the process
// undecorated.
package faults

import (
	"errors"
	"fmt"
)

// Kind is the stable classification of a failure.
type Kind string

const (
	// KindValidation covers malformed or unsupported request parameters.
	KindValidation Kind = "ValidationError"
	// KindNotFound covers lookups of unknown job identifiers.
	KindNotFound Kind = "NotFound"
	// KindInvalidTransition covers requests that would move a job along
	// an edge the state machine does not permit.
	KindInvalidTransition Kind = "InvalidTransition"
	// KindAlreadyTerminal covers cancellation of a finished job.
	KindAlreadyTerminal Kind = "AlreadyTerminal"
	// KindExecution covers failures to launch the external binary.
	KindExecution Kind = "ExecutionError"
	// KindProcessing covers non-zero exits of the external binary.
	KindProcessing Kind = "ProcessingError"
	// KindTimeout covers jobs that exceeded their wall-clock deadline.
	KindTimeout Kind = "Timeout"
	// KindInput covers failures reading the job's input stream.
	KindInput Kind = "InputError"
	// KindOutput covers failures writing the job's output stream.
	KindOutput Kind = "OutputError"
	// KindCapacity covers submissions rejected by the admission limit.
	KindCapacity Kind = "CapacityExceeded"
	// KindInternal covers unexpected faults; detail is logged, not surfaced.
	KindInternal Kind = "InternalError"
)

// Retryable reports whether a caller may safely retry the failed request.
// Only deadline expiry is marked retryable; transcoding is not assumed
// idempotent-safe, so nothing is ever retried internally.
func (k Kind) Retryable() bool {
	switch k {
	case KindTimeout, KindCapacity:
		return true
	default:
		return false
	}
}

// Fault is a classified error. ExitCode and Detail are populated for
// process failures only.
type Fault struct {
	Kind     Kind
	Message  string
	ExitCode int
	Detail   string
	cause    error
}

// Error implements the error interface.
func (f *Fault) Error() string {
	if f.cause != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.cause)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (f *Fault) Unwrap() error {
	return f.cause
}

// New creates a Fault with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Fault {
	return &Fault{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error under the given kind.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Fault {
	return &Fault{Kind: kind, Message: fmt.Sprintf(format, args...), cause: err}
}

// KindOf extracts the classification of an error. Unclassified errors
// report KindInternal.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindInternal
}

// As returns the Fault wrapped in err, or nil if err carries none.
func As(err error) *Fault {
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	return nil
}
