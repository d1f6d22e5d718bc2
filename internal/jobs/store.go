package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"media-jobd/internal/faults"
	"media-jobd/internal/logging"
	"media-jobd/internal/metrics"
)

// Store is the process-wide registry of in-flight and completed jobs.
// All mutation goes through Transition, which serializes updates and
// enforces the state machine. Terminal jobs are retained for the
// configured window and then evicted.
type Store struct {
	mu        sync.RWMutex
	jobs      map[string]*Job
	byKey     map[string]string // idempotency key -> job id
	retention time.Duration
	notify    func(Job)
}

// NewStore creates an empty store with the given retention window for
// terminal jobs.
func NewStore(retention time.Duration) *Store {
	return &Store{
		jobs:      make(map[string]*Job),
		byKey:     make(map[string]string),
		retention: retention,
	}
}

// SetNotifier installs a callback invoked with a snapshot after every
// creation and transition. Must be set before the store is shared.
func (s *Store) SetNotifier(fn func(Job)) {
	s.notify = fn
}

// Create registers a new job in the Queued state and returns a snapshot.
func (s *Store) Create(spec Spec) Job {
	job, _ := s.CreateOrGet(spec)
	return job
}

// CreateOrGet registers a new Queued job, or returns the job already
// registered under the spec's idempotency key. The key lookup and the
// registration happen under one lock acquisition, so concurrent
// submissions carrying an identical key always resolve to a single job.
// The boolean reports whether a new job was created.
func (s *Store) CreateOrGet(spec Spec) (Job, bool) {
	s.mu.Lock()

	if spec.IdempotencyKey != "" {
		if id, ok := s.byKey[spec.IdempotencyKey]; ok {
			if existing, ok := s.jobs[id]; ok {
				snapshot := *existing
				s.mu.Unlock()
				return snapshot, false
			}
		}
	}

	job := &Job{
		ID:             uuid.New().String(),
		Operation:      spec.Operation,
		Format:         spec.Format,
		State:          StateQueued,
		CreatedAt:      time.Now(),
		IdempotencyKey: spec.IdempotencyKey,
		InputPath:      spec.InputPath,
		OutputPath:     spec.OutputPath,
		ContentType:    spec.ContentType,
	}
	s.jobs[job.ID] = job
	if spec.IdempotencyKey != "" {
		s.byKey[spec.IdempotencyKey] = job.ID
	}
	snapshot := *job
	s.mu.Unlock()

	s.emit(snapshot)
	return snapshot, true
}

// Get returns a snapshot of the job, or a NotFound fault.
func (s *Store) Get(id string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return Job{}, faults.New(faults.KindNotFound, "job %s not found", id)
	}
	return *job, nil
}

// ByIdempotencyKey returns the job previously created under the key.
func (s *Store) ByIdempotencyKey(key string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byKey[key]
	if !ok {
		return Job{}, false
	}
	job, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// List returns snapshots of all jobs in the given state, newest first.
// An empty state matches everything.
func (s *Store) List(state State) []Job {
	s.mu.RLock()
	out := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if state != "" && job.State != state {
			continue
		}
		out = append(out, *job)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Transition moves a job along one edge of the state machine. Failure
// detail is recorded when the destination is Failed (or Cancelled with a
// deadline fault). An invalid edge returns an InvalidTransition fault and
// leaves the job untouched.
func (s *Store) Transition(id string, to State, detail *faults.Fault) (Job, error) {
	s.mu.Lock()

	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return Job{}, faults.New(faults.KindNotFound, "job %s not found", id)
	}

	if !validTransition(job.State, to) {
		from := job.State
		s.mu.Unlock()
		if from.Terminal() {
			return Job{}, faults.New(faults.KindAlreadyTerminal, "job %s already %s", id, from)
		}
		return Job{}, faults.New(faults.KindInvalidTransition, "job %s cannot move %s -> %s", id, from, to)
	}

	now := time.Now()
	job.State = to
	switch {
	case to == StateRunning:
		job.StartedAt = now
	case to.Terminal():
		job.FinishedAt = now
	}

	if detail != nil {
		job.ErrorKind = string(detail.Kind)
		job.ErrorMessage = detail.Message
		job.Retryable = detail.Kind.Retryable()
	}

	snapshot := *job
	s.mu.Unlock()

	if to.Terminal() {
		metrics.JobsCompletedTotal.WithLabelValues(snapshot.Operation, string(to)).Inc()
	}

	s.emit(snapshot)
	return snapshot, nil
}

// RunningCount returns the number of jobs currently in the Running state.
func (s *Store) RunningCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, job := range s.jobs {
		if job.State == StateRunning {
			n++
		}
	}
	return n
}

// Len returns the total number of tracked jobs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// EvictExpired removes terminal jobs whose retention window has elapsed
// and returns their snapshots so the caller can remove staged artifacts.
// Jobs that have not reached a terminal state are never evicted.
func (s *Store) EvictExpired(now time.Time) []Job {
	s.mu.Lock()
	var evicted []Job
	for id, job := range s.jobs {
		if !job.State.Terminal() {
			continue
		}
		if now.Sub(job.FinishedAt) < s.retention {
			continue
		}
		evicted = append(evicted, *job)
		delete(s.jobs, id)
		if job.IdempotencyKey != "" {
			delete(s.byKey, job.IdempotencyKey)
		}
	}
	s.mu.Unlock()

	if len(evicted) > 0 {
		metrics.JobsEvictedTotal.Add(float64(len(evicted)))
		logging.Debug("Evicted %d expired jobs", len(evicted))
	}
	return evicted
}

// Drain blocks until every job has reached a terminal state or the
// context expires. Used during shutdown after intake has stopped.
func (s *Store) Drain(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if s.active() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Store) active() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, job := range s.jobs {
		if !job.State.Terminal() {
			n++
		}
	}
	return n
}

func (s *Store) emit(job Job) {
	if s.notify != nil {
		s.notify(job)
	}
}
