package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/khoffmann/nexuspipe/chunker"
	"github.com/khoffmann/nexuspipe/store"
)

// pipeline phases, surfaced on emitted events via Event.Phase.
const (
	PhaseImport = "import"
	PhaseFetch  = "fetch"
	PhaseChunk  = "chunk"
	PhaseEmbed  = "embed"
	PhaseIndex  = "index"
)

const heartbeatInterval = 2 * time.Second

// PipelineJob orchestrates the full Import -> Fetch -> Chunk -> Embed ->
// Index sequence as a single resumable job, running the Import and
// Embed phases through their own Runner and doing chunk/index directly.
type PipelineJob struct {
	Store    *store.Store
	Import   Runner
	Fetch    Runner
	Embed    Runner
	Chunker  *chunker.Chunker
	Status   func(ctx context.Context, jobID string) func() (string, error)
}

func (j *PipelineJob) Kind() string { return "pipeline" }

func (j *PipelineJob) Run(ctx context.Context, job *store.Job, emit func(Event)) error {
	status := j.Status(ctx, job.ID)
	phases := []struct {
		name string
		run  func(context.Context, *store.Job, func(Event)) error
	}{
		{PhaseImport, func(ctx context.Context, job *store.Job, emit func(Event)) error { return j.Import.Run(ctx, job, emit) }},
		{PhaseFetch, func(ctx context.Context, job *store.Job, emit func(Event)) error { return j.Fetch.Run(ctx, job, emit) }},
		{PhaseChunk, j.runChunkPhase},
		{PhaseEmbed, func(ctx context.Context, job *store.Job, emit func(Event)) error { return j.Embed.Run(ctx, job, emit) }},
		{PhaseIndex, j.runIndexPhase},
	}

	startPhase := 0
	for i, p := range phases {
		if job.Phase == p.name {
			startPhase = i
			break
		}
	}

	heartbeatDone := make(chan struct{})
	go j.heartbeat(ctx, job, heartbeatDone)
	defer close(heartbeatDone)

	for i := startPhase; i < len(phases); i++ {
		p := phases[i]
		job.Phase = p.name
		_ = j.Store.UpdateJobProgress(ctx, job)
		emit(Event{Kind: EventStarted, JobID: job.ID, Phase: p.name})

		st, err := status()
		if err != nil {
			return err
		}
		if st == store.JobStatusPaused {
			emit(Event{Kind: EventPaused, JobID: job.ID, Phase: p.name})
			return nil
		}
		if st == store.JobStatusCancelled {
			emit(Event{Kind: EventCancelled, JobID: job.ID, Phase: p.name})
			return nil
		}

		phaseEmit := func(evt Event) {
			evt.Phase = p.name
			emit(evt)
		}
		if err := p.run(ctx, job, phaseEmit); err != nil {
			return fmt.Errorf("pipeline job: phase %s: %w", p.name, err)
		}

		refreshed, err := j.Store.GetJob(ctx, job.ID)
		if err == nil && (refreshed.Status == store.JobStatusPaused || refreshed.Status == store.JobStatusCancelled) {
			return nil
		}
		emit(Event{Kind: EventCompleted, JobID: job.ID, Phase: p.name})
	}

	return nil
}

func (j *PipelineJob) heartbeat(ctx context.Context, job *store.Job, done <-chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = j.Store.UpdateJobProgress(ctx, job)
		}
	}
}

func (j *PipelineJob) runChunkPhase(ctx context.Context, job *store.Job, emit func(Event)) error {
	docs, err := j.Store.ListDocumentsNeedingChunks(ctx)
	if err != nil {
		return fmt.Errorf("chunk phase: %w", err)
	}
	for _, doc := range docs {
		if doc.Fulltext == "" {
			emit(Event{Kind: EventItemSkipped, JobID: job.ID, Data: map[string]any{"document_id": doc.ID}})
			continue
		}
		chunks := j.Chunker.Chunk(doc.Title, doc.Fulltext)
		for i := range chunks {
			chunks[i].DocumentID = doc.ID
		}
		if err := j.Store.SaveChunks(ctx, doc.ID, chunks); err != nil {
			job.ItemsFailed++
			emit(Event{Kind: EventItemFailed, JobID: job.ID, Message: err.Error()})
			continue
		}
		job.ItemsSucceeded++
		emit(Event{Kind: EventItemSuccess, JobID: job.ID, Data: map[string]any{"document_id": doc.ID, "chunks": len(chunks)}})
	}
	_ = j.Store.UpdateJobProgress(ctx, job)
	return nil
}

func (j *PipelineJob) runIndexPhase(ctx context.Context, job *store.Job, emit func(Event)) error {
	if err := j.Store.RebuildFTS(ctx); err != nil {
		return fmt.Errorf("index phase: %w", err)
	}
	n, err := j.Store.CleanupOrphanEmbeddings(ctx)
	if err != nil {
		return fmt.Errorf("index phase: %w", err)
	}
	emit(Event{Kind: EventItemSuccess, JobID: job.ID, Data: map[string]any{"orphans_removed": n}})
	return nil
}
