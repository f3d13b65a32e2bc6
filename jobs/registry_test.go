package jobs

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/khoffmann/nexuspipe/store"
	"github.com/stretchr/testify/require"
)

type echoRunner struct {
	kind string
	ran  chan struct{}
}

func (r *echoRunner) Kind() string { return r.kind }

func (r *echoRunner) Run(ctx context.Context, job *store.Job, emit func(Event)) error {
	emit(Event{Kind: EventProgress, JobID: job.ID})
	close(r.ran)
	return nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestRegistryStartRunsJobToCompletion(t *testing.T) {
	st := newTestStore(t)
	reg := NewRegistry(st)
	runner := &echoRunner{kind: "echo", ran: make(chan struct{})}
	reg.Register(runner)

	job, emitter, err := reg.Start(context.Background(), "echo", "", "")
	require.NoError(t, err)

	select {
	case <-runner.ran:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not execute")
	}

	deadline := time.After(2 * time.Second)
	for {
		got, err := st.GetJob(context.Background(), job.ID)
		require.NoError(t, err)
		if got.Status == store.JobStatusCompleted {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("job never completed, status=%s", got.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}

	var sawProgress bool
	for evt := range emitter.Events() {
		if evt.Kind == EventProgress {
			sawProgress = true
		}
	}
	require.True(t, sawProgress)
}

func TestRegistryPauseTransitionsJobStatus(t *testing.T) {
	st := newTestStore(t)
	reg := NewRegistry(st)
	blocker := make(chan struct{})
	runner := &blockingRunner{unblock: blocker}
	reg.Register(runner)

	job, _, err := reg.Start(context.Background(), "blocking", "", "")
	require.NoError(t, err)

	require.NoError(t, reg.Pause(context.Background(), job.ID))
	close(blocker)

	deadline := time.After(2 * time.Second)
	for {
		got, err := st.GetJob(context.Background(), job.ID)
		require.NoError(t, err)
		if got.Status == store.JobStatusPaused {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("job never paused, status=%s", got.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestRegistryStartReturnsRunningJobInsteadOfDuplicating(t *testing.T) {
	st := newTestStore(t)
	reg := NewRegistry(st)
	blocker := make(chan struct{})
	runner := &blockingRunner{unblock: blocker}
	reg.Register(runner)
	defer close(blocker)

	first, _, err := reg.Start(context.Background(), "blocking", "", "")
	require.NoError(t, err)

	second, _, err := reg.Start(context.Background(), "blocking", "", "")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
}

type blockingRunner struct{ unblock chan struct{} }

func (r *blockingRunner) Kind() string { return "blocking" }
func (r *blockingRunner) Run(ctx context.Context, job *store.Job, emit func(Event)) error {
	<-r.unblock
	return nil
}
