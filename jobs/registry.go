package jobs

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/khoffmann/nexuspipe/store"
)

// Runner is the logic for one job kind: Run drives the job to
// completion or until paused/cancelled/failed, reporting progress
// through emit and checking status via the store between checkpoints.
type Runner interface {
	Kind() string
	Run(ctx context.Context, job *store.Job, emit func(Event)) error
}

// Registry tracks in-flight jobs for every kind: the running goroutine's
// cancel function and its event emitter, keyed by job ID. Terminal jobs
// are dropped from the registry but remain queryable through store.
type Registry struct {
	st      *store.Store
	mu      sync.Mutex
	running map[string]*runningJob
	runners map[string]Runner
}

type runningJob struct {
	cancel  context.CancelFunc
	emitter *Emitter
}

// NewRegistry constructs an empty registry backed by st.
func NewRegistry(st *store.Store) *Registry {
	return &Registry{
		st:      st,
		running: make(map[string]*runningJob),
		runners: make(map[string]Runner),
	}
}

// Register associates a Runner with the job kind it drives.
func (r *Registry) Register(runner Runner) {
	r.runners[runner.Kind()] = runner
}

// RehydrateOnStartup marks any job left in pending/running status by a
// prior process crash as failed, since its goroutine no longer exists.
// Paused jobs are left alone; they resume explicitly via Resume.
func (r *Registry) RehydrateOnStartup(ctx context.Context) error {
	jobs, err := r.st.GetRunningJobs(ctx, "")
	if err != nil {
		return fmt.Errorf("rehydrating jobs: %w", err)
	}
	for _, j := range jobs {
		if err := r.st.SetJobStatus(ctx, j.ID, store.JobStatusFailed, "interrupted by server restart"); err != nil {
			return err
		}
	}
	return nil
}

// Start creates a new job of the given kind and launches its runner in a
// background goroutine, returning the job and an Emitter for its SSE
// stream.
func (r *Registry) Start(ctx context.Context, kind, provider, model string) (*store.Job, *Emitter, error) {
	return r.StartWithState(ctx, kind, provider, model, "")
}

// StartWithState is Start plus an opaque, kind-specific JSON blob stashed
// in the job's state_json column for the Runner to decode on entry (e.g.
// a digest job's date range and clustering strategy). Only one job per
// kind may be running at a time; if one already is, its ID is returned
// instead of launching a second runner over the same cursor.
func (r *Registry) StartWithState(ctx context.Context, kind, provider, model, stateJSON string) (*store.Job, *Emitter, error) {
	runner, ok := r.runners[kind]
	if !ok {
		return nil, nil, fmt.Errorf("jobs: no runner registered for kind %q", kind)
	}

	running, err := r.st.GetRunningJobs(ctx, kind)
	if err != nil {
		return nil, nil, fmt.Errorf("checking for running %s jobs: %w", kind, err)
	}
	if len(running) > 0 {
		existing := running[0]
		r.mu.Lock()
		rj, ok := r.running[existing.ID]
		r.mu.Unlock()
		var emitter *Emitter
		if ok {
			emitter = rj.emitter
		}
		return &existing, emitter, nil
	}

	job := &store.Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		Status:    store.JobStatusPending,
		Provider:  provider,
		Model:     model,
		StateJSON: stateJSON,
	}
	if err := r.st.CreateJob(ctx, job); err != nil {
		return nil, nil, err
	}

	return r.launch(job, runner)
}

// Resume relaunches a paused job's runner from its persisted state.
func (r *Registry) Resume(ctx context.Context, jobID string) (*store.Job, *Emitter, error) {
	job, err := r.st.GetJob(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	if job.Status != store.JobStatusPaused && job.Status != store.JobStatusFailed {
		return nil, nil, fmt.Errorf("jobs: job %s is not resumable (status %s)", jobID, job.Status)
	}
	runner, ok := r.runners[job.Kind]
	if !ok {
		return nil, nil, fmt.Errorf("jobs: no runner registered for kind %q", job.Kind)
	}
	return r.launch(job, runner)
}

func (r *Registry) launch(job *store.Job, runner Runner) (*store.Job, *Emitter, error) {
	runCtx, cancel := context.WithCancel(context.Background())
	emitter := NewEmitter(256)

	r.mu.Lock()
	r.running[job.ID] = &runningJob{cancel: cancel, emitter: emitter}
	r.mu.Unlock()

	bgCtx := context.Background()
	if err := r.st.SetJobStatus(bgCtx, job.ID, store.JobStatusRunning, ""); err != nil {
		cancel()
		return nil, nil, err
	}
	job.Status = store.JobStatusRunning

	go func() {
		defer func() {
			r.mu.Lock()
			delete(r.running, job.ID)
			r.mu.Unlock()
			emitter.Close()
			cancel()
		}()

		emitter.Emit(Event{Kind: EventStarted, JobID: job.ID})
		err := runner.Run(runCtx, job, emitter.Emit)

		final, getErr := r.st.GetJob(bgCtx, job.ID)
		if getErr != nil {
			return
		}
		switch final.Status {
		case store.JobStatusPaused, store.JobStatusCancelled:
			// the runner or Pause/Cancel call already set terminal status
			return
		}
		if err != nil {
			_ = r.st.SetJobStatus(bgCtx, job.ID, store.JobStatusFailed, err.Error())
			emitter.Emit(Event{Kind: EventFailed, JobID: job.ID, Message: err.Error()})
			return
		}
		_ = r.st.SetJobStatus(bgCtx, job.ID, store.JobStatusCompleted, "")
		emitter.Emit(Event{Kind: EventCompleted, JobID: job.ID})
	}()

	return job, emitter, nil
}

// Pause requests cooperative pause: the next checkpoint inside the
// runner's loop will observe the paused status and exit gracefully.
func (r *Registry) Pause(ctx context.Context, jobID string) error {
	return r.st.SetJobStatus(ctx, jobID, store.JobStatusPaused, "")
}

// Cancel requests cooperative cancellation and also cancels the
// goroutine's context immediately, in case the runner is blocked on a
// context-aware call (HTTP request, DB query).
func (r *Registry) Cancel(ctx context.Context, jobID string) error {
	if err := r.st.SetJobStatus(ctx, jobID, store.JobStatusCancelled, ""); err != nil {
		return err
	}
	r.mu.Lock()
	rj, ok := r.running[jobID]
	r.mu.Unlock()
	if ok {
		rj.cancel()
	}
	return nil
}

// Events returns the event stream for a currently running job, if any.
func (r *Registry) Events(jobID string) (<-chan Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rj, ok := r.running[jobID]
	if !ok {
		return nil, false
	}
	return rj.emitter.Events(), true
}

// StatusFunc returns a polling function a Runner can pass down into
// lower-level streaming APIs (e.g. readwise.StreamImport) to implement
// cooperative pause/cancel at their own checkpoints.
func (r *Registry) StatusFunc(ctx context.Context, jobID string) func() (string, error) {
	return func() (string, error) {
		j, err := r.st.GetJob(ctx, jobID)
		if err != nil {
			return "", err
		}
		return j.Status, nil
	}
}
