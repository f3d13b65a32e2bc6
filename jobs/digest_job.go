package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/khoffmann/nexuspipe/digest"
	"github.com/khoffmann/nexuspipe/store"
)

// DigestJob runs one FETCH -> CLUSTER -> SUMMARIZE -> COMPILE pipeline.
// Unlike the other runners, digest work is a single Engine.Generate call
// rather than a batch loop, so there is no mid-run pause checkpoint: the
// job's status is only checked before the call starts.
type DigestJob struct {
	Engine *digest.Engine
	Status func(ctx context.Context, jobID string) func() (string, error)
}

func (j *DigestJob) Kind() string { return "digest" }

// digestJobState is the job.StateJSON shape a digest job is started with.
type digestJobState struct {
	Name     string    `json:"name"`
	DateFrom time.Time `json:"date_from"`
	DateTo   time.Time `json:"date_to"`
	Strategy string    `json:"strategy"`
	ClusterK int       `json:"cluster_k"`
}

func (j *DigestJob) Run(ctx context.Context, job *store.Job, emit func(Event)) error {
	status := j.Status(ctx, job.ID)
	st, err := status()
	if err != nil {
		return err
	}
	if st == store.JobStatusPaused {
		emit(Event{Kind: EventPaused, JobID: job.ID})
		return nil
	}
	if st == store.JobStatusCancelled {
		emit(Event{Kind: EventCancelled, JobID: job.ID})
		return nil
	}

	var state digestJobState
	if err := json.Unmarshal([]byte(job.StateJSON), &state); err != nil {
		return fmt.Errorf("digest job: decoding state: %w", err)
	}

	emit(Event{Kind: EventProgress, JobID: job.ID, Message: "fetching and clustering"})

	result, err := j.Engine.Generate(ctx, digest.Request{
		Name:     state.Name,
		DateFrom: state.DateFrom,
		DateTo:   state.DateTo,
		Strategy: state.Strategy,
		ClusterK: state.ClusterK,
	})
	if err != nil {
		return fmt.Errorf("digest job: %w", err)
	}

	job.ItemsSucceeded = result.ChunksAnalyzed
	resultJSON, _ := json.Marshal(result)
	job.StateJSON = string(resultJSON)
	if err := j.Engine.Store.UpdateJobProgress(ctx, job); err != nil {
		return fmt.Errorf("digest job: persisting result: %w", err)
	}

	emit(Event{Kind: EventItemSuccess, JobID: job.ID, Data: map[string]any{
		"digest_id":       result.DigestID,
		"docs_analyzed":   result.DocsAnalyzed,
		"chunks_analyzed": result.ChunksAnalyzed,
		"cost_usd":        result.CostUSD,
	}})
	return nil
}
