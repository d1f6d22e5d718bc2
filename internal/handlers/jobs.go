package handlers

import (
	"net/http"
	"os"
	"strconv"

	"github.com/gorilla/mux"

	"media-jobd/internal/faults"
	"media-jobd/internal/jobs"
	"media-jobd/internal/logging"
	"media-jobd/internal/pipeline"
	"media-jobd/internal/runner"
	"media-jobd/internal/streaming"
)

// SubmitJob accepts a media payload and schedules a processing job.
// POST /api/jobs?operation=transcode&format=mp3&bitrate=128
//
// Operation parameters travel in the query string; the request body is
// the raw media payload, streamed to disk without buffering in memory.
func (h *Handlers) SubmitJob(w http.ResponseWriter, r *http.Request) {
	params, err := parseParams(r)
	if err != nil {
		writeFault(w, err)
		return
	}

	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		key = r.URL.Query().Get("idempotency_key")
	}

	job, err := h.ctrl.Submit(pipeline.SubmitRequest{
		Params:         params,
		Body:           r.Body,
		ContentType:    r.Header.Get("Content-Type"),
		IdempotencyKey: key,
	})
	if err != nil {
		writeFault(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Location", "/api/jobs/"+job.ID)
	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, job)
}

// GetJob returns the current state of a job.
// GET /api/jobs/{id}
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.store.Get(mux.Vars(r)["id"])
	if err != nil {
		writeFault(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, job)
}

// ListJobs returns tracked jobs, optionally filtered by state.
// GET /api/jobs?state=running
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	state := jobs.State(r.URL.Query().Get("state"))
	switch state {
	case "", jobs.StateQueued, jobs.StateRunning, jobs.StateSucceeded, jobs.StateFailed, jobs.StateCancelled:
	default:
		writeFault(w, faults.New(faults.KindValidation, "unknown state filter %q", state))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]interface{}{
		"jobs": h.store.List(state),
	})
}

// GetJobResult streams the output of a succeeded job.
// GET /api/jobs/{id}/result
func (h *Handlers) GetJobResult(w http.ResponseWriter, r *http.Request) {
	job, err := h.ctrl.Result(mux.Vars(r)["id"])
	if err != nil {
		writeFault(w, err)
		return
	}

	f, err := os.Open(job.OutputPath)
	if err != nil {
		writeFault(w, faults.Wrap(faults.KindOutput, err, "job output is no longer available"))
		return
	}
	defer func() {
		if err := f.Close(); err != nil {
			logging.Warn("failed to close result file %s: %v", job.OutputPath, err)
		}
	}()

	w.Header().Set("Content-Type", job.ContentType)
	if info, err := f.Stat(); err == nil {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	}

	if err := streaming.Stream(r.Context(), w, f, h.streamConfig); err != nil {
		// Headers are already gone; all we can do is log.
		logging.Debug("Result stream for job %s ended early: %v", job.ID, err)
	}
}

// CancelJob cancels a queued or running job.
// DELETE /api/jobs/{id}
func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.ctrl.Cancel(mux.Vars(r)["id"])
	if err != nil {
		writeFault(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, job)
}

// JobHistory returns recently finished jobs from the durable ledger.
// GET /api/jobs/history?limit=50
func (h *Handlers) JobHistory(w http.ResponseWriter, r *http.Request) {
	if h.ledger == nil {
		writeFault(w, faults.New(faults.KindNotFound, "job history is disabled"))
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeFault(w, faults.New(faults.KindValidation, "invalid limit %q", raw))
			return
		}
		limit = parsed
	}

	history, err := h.ledger.Recent(r.Context(), limit)
	if err != nil {
		writeFault(w, faults.Wrap(faults.KindInternal, err, "failed to read job history"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]interface{}{
		"jobs": history,
	})
}

// parseParams builds a runner request from the submission query string.
// Numeric parameters that fail to parse are validation errors; schema
// validation proper happens in the pipeline.
func parseParams(r *http.Request) (runner.Request, error) {
	q := r.URL.Query()

	params := runner.Request{
		Operation: q.Get("operation"),
		Format:    q.Get("format"),
	}

	if raw := q.Get("bitrate"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return runner.Request{}, faults.New(faults.KindValidation, "invalid bitrate %q", raw)
		}
		params.Bitrate = v
	}

	if raw := q.Get("width"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return runner.Request{}, faults.New(faults.KindValidation, "invalid width %q", raw)
		}
		params.Width = v
	}

	if raw := q.Get("seek"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return runner.Request{}, faults.New(faults.KindValidation, "invalid seek %q", raw)
		}
		params.Seek = v
	}

	return params, nil
}
