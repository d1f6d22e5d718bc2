// Package pipeline coordinates job execution: it validates submissions,
// stages input and output artifacts, enforces the admission limit, drives
// the process runner, and records every state transition in the job store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"media-jobd/internal/faults"
	"media-jobd/internal/jobs"
	"media-jobd/internal/logging"
	"media-jobd/internal/metrics"
	"media-jobd/internal/preview"
	"media-jobd/internal/runner"
)

// Options configures a Controller.
type Options struct {
	// WorkDir is where staged input and output artifacts live.
	WorkDir string
	// MaxActive bounds the number of concurrently running jobs.
	MaxActive int
	// QueueDepth bounds the number of jobs waiting for a slot;
	// submissions beyond it are rejected with CapacityExceeded.
	QueueDepth int
	// JobTimeout is the per-job wall-clock deadline.
	JobTimeout time.Duration
	// IdempotencyEnabled maps identical Idempotency-Key values to the
	// same job instead of creating a new one.
	IdempotencyEnabled bool
}

// SubmitRequest carries one submission through the controller.
type SubmitRequest struct {
	Params         runner.Request
	Body           io.Reader
	ContentType    string
	IdempotencyKey string
}

// Controller owns the execution pipeline. At most one runner invocation
// is ever active per job, and staged artifacts are removed on every exit
// path.
type Controller struct {
	store *jobs.Store
	run   *runner.Runner
	opts  Options

	slots  chan struct{}
	queued atomic.Int64

	mu      sync.Mutex
	cancels map[string]context.CancelFunc

	wg      sync.WaitGroup
	baseCtx context.Context
	stop    context.CancelFunc
	closed  atomic.Bool
}

// New creates a Controller. MaxActive and QueueDepth must be positive;
// zero values get conservative defaults.
func New(store *jobs.Store, run *runner.Runner, opts Options) *Controller {
	if opts.MaxActive < 1 {
		opts.MaxActive = 1
	}
	if opts.QueueDepth < 0 {
		opts.QueueDepth = 0
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Controller{
		store:   store,
		run:     run,
		opts:    opts,
		slots:   make(chan struct{}, opts.MaxActive),
		cancels: make(map[string]context.CancelFunc),
		baseCtx: ctx,
		stop:    cancel,
	}
}

// Submit validates the request, stages its input, registers a Queued job
// and schedules it for execution. The returned snapshot is in the Queued
// state (or an existing job when the idempotency key matched).
func (c *Controller) Submit(req SubmitRequest) (jobs.Job, error) {
	if c.closed.Load() {
		return jobs.Job{}, faults.New(faults.KindCapacity, "server is shutting down")
	}

	if err := runner.Validate(req.Params); err != nil {
		return jobs.Job{}, err
	}

	key := ""
	if c.opts.IdempotencyEnabled {
		key = req.IdempotencyKey
	}

	// Fast path for replays: an already-registered key never pays for
	// staging or the admission check. The authoritative reservation is
	// the atomic CreateOrGet below.
	if key != "" {
		if job, ok := c.store.ByIdempotencyKey(key); ok {
			logging.Debug("Idempotency key matched existing job %s", job.ID)
			return job, nil
		}
	}

	if len(c.slots) == cap(c.slots) && c.queued.Load() >= int64(c.opts.QueueDepth) {
		metrics.JobsRejectedTotal.Inc()
		return jobs.Job{}, faults.New(faults.KindCapacity,
			"admission limit reached (%d running, %d queued)", cap(c.slots), c.queued.Load())
	}

	inputPath, err := c.stageInput(req.Body)
	if err != nil {
		return jobs.Job{}, err
	}

	outputPath, err := c.stageOutput()
	if err != nil {
		removeQuiet(inputPath)
		return jobs.Job{}, err
	}

	job, created := c.store.CreateOrGet(jobs.Spec{
		Operation:      req.Params.Operation,
		Format:         req.Params.Format,
		ContentType:    req.Params.ContentType(),
		InputPath:      inputPath,
		OutputPath:     outputPath,
		IdempotencyKey: key,
	})
	if !created {
		// A concurrent submission won the key reservation while this one
		// was staging; its job is the canonical one.
		removeQuiet(inputPath)
		removeQuiet(outputPath)
		logging.Debug("Idempotency key matched existing job %s", job.ID)
		return job, nil
	}

	metrics.JobsSubmittedTotal.WithLabelValues(req.Params.Operation).Inc()
	metrics.JobsQueued.Set(float64(c.queued.Add(1)))

	jobCtx, cancel := context.WithCancel(c.baseCtx)
	c.mu.Lock()
	c.cancels[job.ID] = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go c.execute(jobCtx, job.ID, req.Params, req.ContentType)

	return job, nil
}

// Cancel cancels a Queued or Running job. Terminal jobs report
// AlreadyTerminal and are left untouched.
func (c *Controller) Cancel(id string) (jobs.Job, error) {
	job, err := c.store.Get(id)
	if err != nil {
		return jobs.Job{}, err
	}

	if job.State.Terminal() {
		return jobs.Job{}, faults.New(faults.KindAlreadyTerminal, "job %s already %s", id, job.State)
	}

	// A queued job can be cancelled immediately; its goroutine observes
	// the context and only performs artifact cleanup. Running jobs reach
	// Cancelled once the runner has confirmed the child is dead.
	if job.State == jobs.StateQueued {
		if cancelled, err := c.store.Transition(id, jobs.StateCancelled, nil); err == nil {
			job = cancelled
		}
	}

	c.mu.Lock()
	cancel := c.cancels[id]
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	if current, err := c.store.Get(id); err == nil {
		return current, nil
	}
	return job, nil
}

// Result returns the job when its output is ready to stream. Any
// non-Succeeded state maps to an InvalidTransition fault (HTTP 409).
func (c *Controller) Result(id string) (jobs.Job, error) {
	job, err := c.store.Get(id)
	if err != nil {
		return jobs.Job{}, err
	}
	if job.State != jobs.StateSucceeded {
		return jobs.Job{}, faults.New(faults.KindInvalidTransition,
			"job %s result not available in state %s", id, job.State)
	}
	return job, nil
}

// Active returns the number of jobs currently holding an execution slot.
func (c *Controller) Active() int {
	return len(c.slots)
}

// Queued returns the number of jobs waiting for a slot.
func (c *Controller) Queued() int {
	return int(c.queued.Load())
}

// Shutdown stops intake, cancels every in-flight job and waits for all
// execution goroutines to finish or the context to expire.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.closed.Store(true)
	c.stop()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pipeline drain interrupted: %w", ctx.Err())
	}
}

// RemoveArtifacts deletes any staged files still referenced by the job.
// Called by the eviction loop for expired terminal jobs.
func (c *Controller) RemoveArtifacts(job jobs.Job) {
	removeQuiet(job.InputPath)
	removeQuiet(job.OutputPath)
}

// execute runs one job to a terminal state. It owns the job's slot,
// child process and staged artifacts for the duration.
func (c *Controller) execute(ctx context.Context, id string, params runner.Request, inputType string) {
	defer c.wg.Done()
	defer c.unregister(id)

	select {
	case c.slots <- struct{}{}:
	case <-ctx.Done():
		// Cancelled before a slot was ever acquired; no process was
		// spawned. Cancel() has usually already moved the job.
		metrics.JobsQueued.Set(float64(c.queued.Add(-1)))
		c.finish(id, ctx.Err(), time.Time{})
		return
	}

	metrics.JobsQueued.Set(float64(c.queued.Add(-1)))
	metrics.JobsRunning.Inc()
	defer func() {
		<-c.slots
		metrics.JobsRunning.Dec()
	}()

	job, err := c.store.Transition(id, jobs.StateRunning, nil)
	if err != nil {
		// Lost the race with cancellation; only cleanup remains.
		c.cleanup(id, true)
		return
	}

	started := time.Now()
	runErr := c.process(ctx, job, params, inputType)
	metrics.JobDuration.WithLabelValues(params.Operation).Observe(time.Since(started).Seconds())

	c.finish(id, runErr, started)
}

// process performs the actual media work for a Running job.
func (c *Controller) process(ctx context.Context, job jobs.Job, params runner.Request, inputType string) error {
	// Still-image thumbnails are handled in process; everything else is
	// delegated to the external binary.
	if params.Operation == runner.OpThumbnail && preview.IsImage(inputType) {
		if err := preview.Generate(job.InputPath, job.OutputPath, params.Width); err != nil {
			return faults.Wrap(faults.KindProcessing, err, "thumbnail generation failed")
		}
		return nil
	}

	in, err := os.Open(job.InputPath)
	if err != nil {
		return faults.Wrap(faults.KindInput, err, "failed to open staged input")
	}
	defer closeQuiet(in, job.InputPath)

	out, err := os.Create(job.OutputPath)
	if err != nil {
		return faults.Wrap(faults.KindOutput, err, "failed to create output file")
	}
	defer closeQuiet(out, job.OutputPath)

	return c.run.Run(ctx, params, in, out, c.opts.JobTimeout)
}

// finish maps the execution outcome onto the job's terminal state and
// removes staged artifacts. The output file survives only on success.
func (c *Controller) finish(id string, runErr error, started time.Time) {
	switch {
	case runErr == nil:
		if _, err := c.store.Transition(id, jobs.StateSucceeded, nil); err != nil {
			logging.Warn("Job %s finished but could not be marked succeeded: %v", id, err)
			c.cleanup(id, true)
			return
		}
		c.cleanup(id, false)

	case errors.Is(runErr, context.Canceled):
		if _, err := c.store.Transition(id, jobs.StateCancelled, nil); err != nil {
			logging.Debug("Job %s already cancelled: %v", id, err)
		}
		c.cleanup(id, true)

	default:
		fault := faults.As(runErr)
		if fault == nil {
			logging.Error("Job %s failed with unclassified error: %v", id, runErr)
			fault = faults.New(faults.KindInternal, "internal processing failure")
		}
		if _, err := c.store.Transition(id, jobs.StateFailed, fault); err != nil {
			logging.Debug("Job %s could not be marked failed: %v", id, err)
		}
		c.cleanup(id, true)
	}

	if !started.IsZero() {
		logging.Debug("Job %s finished in %v", id, time.Since(started))
	}
}

// cleanup removes the staged input and, unless the output is being kept
// for download, the output artifact as well.
func (c *Controller) cleanup(id string, removeOutput bool) {
	job, err := c.store.Get(id)
	if err != nil {
		return
	}
	removeQuiet(job.InputPath)
	if removeOutput {
		removeQuiet(job.OutputPath)
	}
}

func (c *Controller) unregister(id string) {
	c.mu.Lock()
	if cancel, ok := c.cancels[id]; ok {
		delete(c.cancels, id)
		cancel()
	}
	c.mu.Unlock()
}

// stageInput copies the submission payload to a working file so the
// child process reads from local disk rather than a half-consumed
// network stream.
func (c *Controller) stageInput(body io.Reader) (string, error) {
	f, err := os.CreateTemp(c.opts.WorkDir, "input-*")
	if err != nil {
		return "", faults.Wrap(faults.KindInternal, err, "failed to stage input")
	}

	if _, err := io.Copy(f, body); err != nil {
		closeQuiet(f, f.Name())
		removeQuiet(f.Name())
		return "", faults.Wrap(faults.KindInput, err, "failed to read submission payload")
	}

	if err := f.Close(); err != nil {
		removeQuiet(f.Name())
		return "", faults.Wrap(faults.KindInput, err, "failed to finalize staged input")
	}

	return f.Name(), nil
}

func (c *Controller) stageOutput() (string, error) {
	f, err := os.CreateTemp(c.opts.WorkDir, "output-*")
	if err != nil {
		return "", faults.Wrap(faults.KindInternal, err, "failed to stage output")
	}
	path := f.Name()
	if err := f.Close(); err != nil {
		removeQuiet(path)
		return "", faults.Wrap(faults.KindInternal, err, "failed to stage output")
	}
	return path, nil
}

func removeQuiet(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logging.Warn("failed to remove staged artifact %s: %v", path, err)
	}
}

func closeQuiet(f *os.File, path string) {
	if err := f.Close(); err != nil {
		logging.Debug("failed to close %s: %v", path, err)
	}
}
