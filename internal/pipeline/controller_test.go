package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"media-jobd/internal/faults"
	"media-jobd/internal/jobs"
	"media-jobd/internal/runner"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("script-based pipeline tests require a POSIX shell")
	}

	path := filepath.Join(t.TempDir(), "fake-ffmpeg")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("Failed to write script: %v", err)
	}
	return path
}

func newTestController(t *testing.T, scriptBody string, opts Options) (*Controller, *jobs.Store) {
	t.Helper()

	bin := writeScript(t, scriptBody)
	if opts.WorkDir == "" {
		opts.WorkDir = t.TempDir()
	}
	if opts.JobTimeout == 0 {
		opts.JobTimeout = 30 * time.Second
	}

	store := jobs.NewStore(time.Hour)
	ctrl := New(store, runner.New(bin, bin), opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = ctrl.Shutdown(ctx)
	})
	return ctrl, store
}

// waitForState polls until the job reaches the state or the test deadline.
func waitForState(t *testing.T, store *jobs.Store, id string, want jobs.State) jobs.Job {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.Get(id)
		if err != nil {
			t.Fatalf("Get(%s) error: %v", id, err)
		}
		if job.State == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	job, _ := store.Get(id)
	t.Fatalf("Job %s never reached %s (currently %s)", id, want, job.State)
	return jobs.Job{}
}

func submit(t *testing.T, ctrl *Controller, body string) (jobs.Job, error) {
	t.Helper()
	return ctrl.Submit(SubmitRequest{
		Params: runner.Request{Operation: runner.OpTranscode, Format: "mp3"},
		Body:   strings.NewReader(body),
	})
}

func TestSubmitAndSucceed(t *testing.T) {
	ctrl, store := newTestController(t, "cat", Options{MaxActive: 2, QueueDepth: 4})

	job, err := ctrl.Submit(SubmitRequest{
		Params: runner.Request{Operation: runner.OpTranscode, Format: "mp3", Bitrate: 128},
		Body:   strings.NewReader("raw audio bytes"),
	})
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	if job.State != jobs.StateQueued {
		t.Errorf("Expected initial state=%s, got %s", jobs.StateQueued, job.State)
	}
	if job.ContentType != "audio/mpeg" {
		t.Errorf("Expected content type audio/mpeg, got %s", job.ContentType)
	}

	done := waitForState(t, store, job.ID, jobs.StateSucceeded)

	// The fake binary copies stdin to stdout, so the staged output must
	// hold the submitted payload.
	output, err := os.ReadFile(done.OutputPath)
	if err != nil {
		t.Fatalf("Failed to read output artifact: %v", err)
	}
	if string(output) != "raw audio bytes" {
		t.Errorf("Unexpected output content: %q", output)
	}

	// The staged input is removed once the job finishes.
	if _, err := os.Stat(done.InputPath); !os.IsNotExist(err) {
		t.Errorf("Expected staged input to be removed, stat err=%v", err)
	}
}

func TestSubmitValidationError(t *testing.T) {
	ctrl, store := newTestController(t, "cat", Options{MaxActive: 1})

	_, err := ctrl.Submit(SubmitRequest{
		Params: runner.Request{Operation: "extract"},
		Body:   strings.NewReader("x"),
	})
	if kind := faults.KindOf(err); kind != faults.KindValidation {
		t.Errorf("Expected kind=%s, got %s", faults.KindValidation, kind)
	}
	if store.Len() != 0 {
		t.Errorf("Expected no job to be created, store has %d", store.Len())
	}
}

func TestSubmitFailedJob(t *testing.T) {
	ctrl, store := newTestController(t, `echo "bad input" >&2
exit 1`, Options{MaxActive: 1})

	job, err := submit(t, ctrl, "x")
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}

	failed := waitForState(t, store, job.ID, jobs.StateFailed)
	if failed.ErrorKind != string(faults.KindProcessing) {
		t.Errorf("Expected error kind=%s, got %s", faults.KindProcessing, failed.ErrorKind)
	}
	if failed.ErrorMessage == "" {
		t.Error("Expected a failure message")
	}

	// Both artifacts are removed on failure.
	if _, err := os.Stat(failed.InputPath); !os.IsNotExist(err) {
		t.Errorf("Expected staged input to be removed, stat err=%v", err)
	}
	if _, err := os.Stat(failed.OutputPath); !os.IsNotExist(err) {
		t.Errorf("Expected staged output to be removed, stat err=%v", err)
	}
}

func TestSubmitTimeout(t *testing.T) {
	ctrl, store := newTestController(t, "exec sleep 10", Options{
		MaxActive:  1,
		JobTimeout: 100 * time.Millisecond,
	})

	job, err := submit(t, ctrl, "x")
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}

	failed := waitForState(t, store, job.ID, jobs.StateFailed)
	if failed.ErrorKind != string(faults.KindTimeout) {
		t.Errorf("Expected error kind=%s, got %s", faults.KindTimeout, failed.ErrorKind)
	}
	if !failed.Retryable {
		t.Error("Expected timeout failure to be marked retryable")
	}
}

func TestCapacityRejection(t *testing.T) {
	ctrl, store := newTestController(t, "exec sleep 10", Options{
		MaxActive:  1,
		QueueDepth: 0,
	})

	first, err := submit(t, ctrl, "x")
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	waitForState(t, store, first.ID, jobs.StateRunning)

	_, err = submit(t, ctrl, "y")
	if kind := faults.KindOf(err); kind != faults.KindCapacity {
		t.Errorf("Expected kind=%s, got %s (err=%v)", faults.KindCapacity, kind, err)
	}
	if !faults.KindOf(err).Retryable() {
		t.Error("Expected capacity rejection to be retryable")
	}

	if _, err := ctrl.Cancel(first.ID); err != nil {
		t.Fatalf("Cancel() error: %v", err)
	}
	waitForState(t, store, first.ID, jobs.StateCancelled)
}

func TestCancelRunningJob(t *testing.T) {
	ctrl, store := newTestController(t, "exec sleep 10", Options{MaxActive: 1})

	job, err := submit(t, ctrl, "x")
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	waitForState(t, store, job.ID, jobs.StateRunning)

	if _, err := ctrl.Cancel(job.ID); err != nil {
		t.Fatalf("Cancel() error: %v", err)
	}

	cancelled := waitForState(t, store, job.ID, jobs.StateCancelled)
	if _, err := os.Stat(cancelled.OutputPath); !os.IsNotExist(err) {
		t.Errorf("Expected staged output to be removed on cancel, stat err=%v", err)
	}
}

func TestCancelQueuedJob(t *testing.T) {
	ctrl, store := newTestController(t, "exec sleep 10", Options{
		MaxActive:  1,
		QueueDepth: 2,
	})

	blocker, err := submit(t, ctrl, "x")
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	waitForState(t, store, blocker.ID, jobs.StateRunning)

	queued, err := submit(t, ctrl, "y")
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}

	// The queued job never acquires a slot, so no process is spawned and
	// cancellation is immediate.
	cancelled, err := ctrl.Cancel(queued.ID)
	if err != nil {
		t.Fatalf("Cancel() error: %v", err)
	}
	if cancelled.State != jobs.StateCancelled {
		t.Errorf("Expected state=%s, got %s", jobs.StateCancelled, cancelled.State)
	}

	if _, err := ctrl.Cancel(blocker.ID); err != nil {
		t.Fatalf("Cancel() error: %v", err)
	}
}

func TestCancelTerminalJob(t *testing.T) {
	ctrl, store := newTestController(t, "cat", Options{MaxActive: 1})

	job, err := submit(t, ctrl, "x")
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	waitForState(t, store, job.ID, jobs.StateSucceeded)

	_, err = ctrl.Cancel(job.ID)
	if kind := faults.KindOf(err); kind != faults.KindAlreadyTerminal {
		t.Errorf("Expected kind=%s, got %s", faults.KindAlreadyTerminal, kind)
	}
}

func TestCancelUnknownJob(t *testing.T) {
	ctrl, _ := newTestController(t, "cat", Options{MaxActive: 1})

	_, err := ctrl.Cancel("no-such-job")
	if kind := faults.KindOf(err); kind != faults.KindNotFound {
		t.Errorf("Expected kind=%s, got %s", faults.KindNotFound, kind)
	}
}

func TestResult(t *testing.T) {
	ctrl, store := newTestController(t, "cat", Options{MaxActive: 1})

	job, err := submit(t, ctrl, "payload")
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}

	waitForState(t, store, job.ID, jobs.StateSucceeded)

	got, err := ctrl.Result(job.ID)
	if err != nil {
		t.Fatalf("Result() error: %v", err)
	}
	if got.OutputPath == "" {
		t.Error("Expected result to carry the output path")
	}
}

func TestResultNotReady(t *testing.T) {
	ctrl, store := newTestController(t, "exec sleep 10", Options{MaxActive: 1})

	job, err := submit(t, ctrl, "x")
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	waitForState(t, store, job.ID, jobs.StateRunning)

	_, err = ctrl.Result(job.ID)
	if kind := faults.KindOf(err); kind != faults.KindInvalidTransition {
		t.Errorf("Expected kind=%s, got %s", faults.KindInvalidTransition, kind)
	}

	if _, err := ctrl.Cancel(job.ID); err != nil {
		t.Fatalf("Cancel() error: %v", err)
	}
}

func TestIdempotentSubmit(t *testing.T) {
	ctrl, store := newTestController(t, "cat", Options{
		MaxActive:          2,
		IdempotencyEnabled: true,
	})

	first, err := ctrl.Submit(SubmitRequest{
		Params:         runner.Request{Operation: runner.OpTranscode, Format: "mp3"},
		Body:           strings.NewReader("x"),
		IdempotencyKey: "key-1",
	})
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}

	second, err := ctrl.Submit(SubmitRequest{
		Params:         runner.Request{Operation: runner.OpTranscode, Format: "mp3"},
		Body:           strings.NewReader("x"),
		IdempotencyKey: "key-1",
	})
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("Expected idempotent submit to return job %s, got %s", first.ID, second.ID)
	}
	if store.Len() != 1 {
		t.Errorf("Expected a single tracked job, got %d", store.Len())
	}
}

func TestIdempotentSubmitConcurrent(t *testing.T) {
	ctrl, store := newTestController(t, "cat", Options{
		MaxActive:          4,
		QueueDepth:         32,
		IdempotencyEnabled: true,
	})

	const submitters = 16
	results := make([]jobs.Job, submitters)
	errs := make([]error, submitters)

	var start sync.WaitGroup
	var done sync.WaitGroup
	start.Add(1)
	for i := 0; i < submitters; i++ {
		done.Add(1)
		go func(i int) {
			defer done.Done()
			start.Wait()
			results[i], errs[i] = ctrl.Submit(SubmitRequest{
				Params:         runner.Request{Operation: runner.OpTranscode, Format: "mp3"},
				Body:           strings.NewReader("x"),
				IdempotencyKey: "shared-key",
			})
		}(i)
	}
	start.Done()
	done.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("Submit() #%d error: %v", i, err)
		}
	}
	for i := 1; i < submitters; i++ {
		if results[i].ID != results[0].ID {
			t.Errorf("Expected every submit to return job %s, got %s", results[0].ID, results[i].ID)
		}
	}
	if store.Len() != 1 {
		t.Errorf("Expected a single tracked job, got %d", store.Len())
	}

	waitForState(t, store, results[0].ID, jobs.StateSucceeded)
}

func TestSubmitAfterShutdown(t *testing.T) {
	ctrl, _ := newTestController(t, "cat", Options{MaxActive: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ctrl.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}

	_, err := submit(t, ctrl, "x")
	if kind := faults.KindOf(err); kind != faults.KindCapacity {
		t.Errorf("Expected kind=%s after shutdown, got %s", faults.KindCapacity, kind)
	}
}

func TestShutdownCancelsRunningJobs(t *testing.T) {
	ctrl, store := newTestController(t, "exec sleep 10", Options{MaxActive: 1})

	job, err := submit(t, ctrl, "x")
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	waitForState(t, store, job.ID, jobs.StateRunning)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ctrl.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}

	got, err := store.Get(job.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.State != jobs.StateCancelled {
		t.Errorf("Expected job to be cancelled at shutdown, got %s", got.State)
	}
}

func TestRemoveArtifacts(t *testing.T) {
	ctrl, store := newTestController(t, "cat", Options{MaxActive: 1})

	job, err := submit(t, ctrl, "payload")
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	done := waitForState(t, store, job.ID, jobs.StateSucceeded)

	if _, err := os.Stat(done.OutputPath); err != nil {
		t.Fatalf("Expected output artifact to exist before removal: %v", err)
	}

	ctrl.RemoveArtifacts(done)

	if _, err := os.Stat(done.OutputPath); !os.IsNotExist(err) {
		t.Errorf("Expected output artifact to be removed, stat err=%v", err)
	}
}
