package runner

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"media-jobd/internal/faults"
	"media-jobd/internal/logging"
	"media-jobd/internal/metrics"
)

const (
	// stderrTailLimit bounds the captured diagnostic stream.
	stderrTailLimit = 32 * 1024

	// defaultGrace is how long a child gets between SIGTERM and SIGKILL.
	defaultGrace = 3 * time.Second
)

// Runner spawns and supervises one external process per invocation.
// It owns the process handle for the duration of the call: streams are
// wired before start and the process is guaranteed dead when Run returns.
type Runner struct {
	ffmpegPath  string
	ffprobePath string
	grace       time.Duration
}

// New creates a Runner using the given binary paths.
func New(ffmpegPath, ffprobePath string) *Runner {
	return &Runner{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		grace:       defaultGrace,
	}
}

// Run executes the request's binary with input wired to stdin and output
// to out, enforcing the wall-clock timeout. On expiry the child receives
// SIGTERM, then SIGKILL after the grace interval. The returned error is
// always either nil, a classified fault, or the caller's context error.
func (r *Runner) Run(ctx context.Context, req Request, in io.Reader, out io.Writer, timeout time.Duration) error {
	bin := r.binaryPath(req)

	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	stderr := &tailBuffer{limit: stderrTailLimit}
	input := &trackedReader{r: in}
	output := &trackedWriter{w: out}

	cmd := exec.CommandContext(runCtx, bin, req.Args()...)
	cmd.Stdin = input
	cmd.Stdout = output
	cmd.Stderr = stderr

	// Graceful termination first; CommandContext's default is an
	// immediate kill. WaitDelay escalates to SIGKILL after the grace
	// interval if the child ignores the signal.
	cmd.Cancel = func() error {
		logging.Debug("Signalling %s (pid %d) to terminate", req.Binary(), cmd.Process.Pid)
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = r.grace

	if err := cmd.Start(); err != nil {
		metrics.RunnerInvocationsTotal.WithLabelValues(req.Binary(), "error").Inc()
		return faults.Wrap(faults.KindExecution, err, "failed to start %s", req.Binary())
	}

	waitErr := cmd.Wait()

	if waitErr == nil {
		metrics.RunnerInvocationsTotal.WithLabelValues(req.Binary(), "success").Inc()
		metrics.RunnerBytesOut.Add(float64(output.n))
		return nil
	}

	metrics.RunnerInvocationsTotal.WithLabelValues(req.Binary(), "error").Inc()
	return r.classify(ctx, runCtx, req, waitErr, input, output, stderr)
}

// classify turns a Wait error into exactly one taxonomy kind. Order
// matters: caller cancellation and deadline expiry take precedence over
// the exit status, since a killed child always exits non-zero.
func (r *Runner) classify(ctx, runCtx context.Context, req Request, waitErr error,
	input *trackedReader, output *trackedWriter, stderr *tailBuffer) error {

	if ctx.Err() != nil {
		// Cancelled by the caller, not a processing failure. The
		// pipeline maps this to the Cancelled state.
		return ctx.Err()
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		metrics.RunnerTimeoutsTotal.Inc()
		f := faults.Wrap(faults.KindTimeout, waitErr, "%s exceeded deadline", req.Binary())
		f.Detail = stderr.String()
		return f
	}

	if err := input.takeErr(); err != nil {
		return faults.Wrap(faults.KindInput, err, "failed to read job input")
	}

	if err := output.takeErr(); err != nil {
		return faults.Wrap(faults.KindOutput, err, "failed to write job output")
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		f := faults.New(faults.KindProcessing, "%s exited with status %d", req.Binary(), exitErr.ExitCode())
		f.ExitCode = exitErr.ExitCode()
		f.Detail = stderr.String()
		logging.Error("%s failed (exit %d): %s", req.Binary(), exitErr.ExitCode(), firstLine(f.Detail))
		return f
	}

	return faults.Wrap(faults.KindExecution, waitErr, "%s did not run to completion", req.Binary())
}

func (r *Runner) binaryPath(req Request) string {
	if req.Operation == OpProbe {
		return r.ffprobePath
	}
	return r.ffmpegPath
}

// tailBuffer is an io.Writer that retains only the last limit bytes,
// so a chatty child cannot grow the diagnostic capture without bound.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, p...)
	if overflow := len(t.buf) - t.limit; overflow > 0 {
		t.buf = t.buf[overflow:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}

// trackedReader records the first non-EOF error from the source so read
// failures can be classified as InputError rather than a generic fault.
type trackedReader struct {
	mu  sync.Mutex
	r   io.Reader
	err error
}

func (t *trackedReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		t.mu.Lock()
		if t.err == nil {
			t.err = err
		}
		t.mu.Unlock()
	}
	return n, err
}

func (t *trackedReader) takeErr() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// trackedWriter records the first write error and counts bytes written.
type trackedWriter struct {
	mu  sync.Mutex
	w   io.Writer
	n   int64
	err error
}

func (t *trackedWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	t.mu.Lock()
	t.n += int64(n)
	if err != nil && t.err == nil {
		t.err = err
	}
	t.mu.Unlock()
	return n, err
}

func (t *trackedWriter) takeErr() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx != -1 {
		return s[:idx]
	}
	return s
}
