package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"media-jobd/internal/faults"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind faults.Kind
		want int
	}{
		{faults.KindValidation, http.StatusBadRequest},
		{faults.KindNotFound, http.StatusNotFound},
		{faults.KindInvalidTransition, http.StatusConflict},
		{faults.KindAlreadyTerminal, http.StatusConflict},
		{faults.KindCapacity, http.StatusServiceUnavailable},
		{faults.KindExecution, http.StatusBadGateway},
		{faults.KindProcessing, http.StatusBadGateway},
		{faults.KindTimeout, http.StatusBadGateway},
		{faults.KindInput, http.StatusBadGateway},
		{faults.KindOutput, http.StatusBadGateway},
		{faults.KindInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := statusFor(tt.kind); got != tt.want {
				t.Errorf("statusFor(%s) = %d, want %d", tt.kind, got, tt.want)
			}
		})
	}
}

func TestWriteFault(t *testing.T) {
	w := httptest.NewRecorder()
	writeFault(w, faults.New(faults.KindValidation, "bad format"))

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected JSON content type, got %s", ct)
	}

	var body errorBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode error body: %v", err)
	}
	if body.Kind != "ValidationError" || body.Message != "bad format" {
		t.Errorf("Unexpected error body: %+v", body)
	}
}

func TestWriteFaultHidesInternalDetail(t *testing.T) {
	w := httptest.NewRecorder()
	writeFault(w, faults.New(faults.KindInternal, "sqlite file corrupted at /database/jobs.db"))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", w.Code)
	}

	var body errorBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode error body: %v", err)
	}
	if body.Message != "internal error" {
		t.Errorf("Internal detail leaked to the client: %s", body.Message)
	}
}

func TestWriteFaultUnclassifiedError(t *testing.T) {
	w := httptest.NewRecorder()
	writeFault(w, errors.New("something unexpected"))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500 for unclassified error, got %d", w.Code)
	}

	var body errorBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode error body: %v", err)
	}
	if body.Kind != "InternalError" {
		t.Errorf("Expected kind=InternalError, got %s", body.Kind)
	}
	if body.Message != "internal error" {
		t.Errorf("Raw error message leaked: %s", body.Message)
	}
}
