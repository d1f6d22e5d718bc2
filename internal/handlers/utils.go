package handlers

import (
	"encoding/json"
	"net/http"

	"media-jobd/internal/faults"
	"media-jobd/internal/logging"
)

// errorBody is the structured failure response. Kind is stable and
// machine-readable; Retryable marks failures a caller may safely retry.
type errorBody struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// statusFor maps each taxonomy kind to its HTTP status code.
func statusFor(kind faults.Kind) int {
	switch kind {
	case faults.KindValidation:
		return http.StatusBadRequest
	case faults.KindNotFound:
		return http.StatusNotFound
	case faults.KindInvalidTransition, faults.KindAlreadyTerminal:
		return http.StatusConflict
	case faults.KindCapacity:
		return http.StatusServiceUnavailable
	case faults.KindExecution, faults.KindProcessing, faults.KindTimeout,
		faults.KindInput, faults.KindOutput:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON encodes v as JSON and writes it to the response writer.
// Encoding errors are logged since the handler cannot recover from them.
func writeJSON(w http.ResponseWriter, v interface{}) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("failed to encode JSON response: %v", err)
	}
}

// writeFault classifies err and writes the structured error response.
// Internal faults are logged in full but surfaced opaquely.
func writeFault(w http.ResponseWriter, err error) {
	fault := faults.As(err)
	if fault == nil {
		logging.Error("unclassified error reached the gateway: %v", err)
		fault = faults.New(faults.KindInternal, "internal error")
	}

	message := fault.Message
	if fault.Kind == faults.KindInternal {
		logging.Error("internal fault: %v", err)
		message = "internal error"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(fault.Kind))
	writeJSON(w, errorBody{
		Kind:      string(fault.Kind),
		Message:   message,
		Retryable: fault.Kind.Retryable(),
	})
}
