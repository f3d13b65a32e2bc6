package jobs

import (
	"context"
	"fmt"

	"github.com/khoffmann/nexuspipe/embedding"
	"github.com/khoffmann/nexuspipe/store"
)

const (
	embedBatchSize = 64
	// embedSubBatchSize and embedMaxConcurrent parallelize each fetched
	// batch of chunks across the provider's API, bounded by a semaphore,
	// instead of one request per embedBatchSize chunks.
	embedSubBatchSize  = 16
	embedMaxConcurrent = 4
)

// EmbedJob drives chunks lacking an embedding for a given provider/model
// through that provider, saving results and appending a usage-ledger row
// per batch.
type EmbedJob struct {
	Store    *store.Store
	Provider embedding.Provider
	Status   func(ctx context.Context, jobID string) func() (string, error)
}

func (j *EmbedJob) Kind() string { return "embed" }

func (j *EmbedJob) Run(ctx context.Context, job *store.Job, emit func(Event)) error {
	status := j.Status(ctx, job.ID)
	afterID := job.CursorID

	stats, err := j.Store.CountChunksForEmbedding(ctx, j.Provider.Name(), j.Provider.ModelID())
	if err != nil {
		return fmt.Errorf("embed job: counting chunks: %w", err)
	}
	total := stats.Pending
	job.ItemsTotal = &total
	_ = j.Store.UpdateJobProgress(ctx, job)

	for {
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

		chunks, err := j.Store.GetChunksForEmbedding(ctx, j.Provider.Name(), j.Provider.ModelID(), afterID, embedBatchSize)
		if err != nil {
			return fmt.Errorf("embed job: listing chunks: %w", err)
		}
		if len(chunks) == 0 {
			break
		}

		texts := make([]string, len(chunks))
		tokens := 0
		for i, c := range chunks {
			texts[i] = embedding.Truncate(c.ChunkText)
			tokens += embedding.EstimateTokens(texts[i])
		}

		vecs, err := embedding.ParallelEmbed(ctx, j.Provider, texts, embedSubBatchSize, embedMaxConcurrent)
		if err != nil {
			if !embedding.Retriable(err) {
				return fmt.Errorf("embed job: non-retriable provider error: %w", err)
			}
			job.ItemsFailed += len(chunks)
			emit(Event{Kind: EventItemFailed, JobID: job.ID, Message: err.Error()})
			afterID = chunks[len(chunks)-1].ID
			job.CursorID = afterID
			continue
		}

		embeddings := make([]store.Embedding, len(chunks))
		for i, c := range chunks {
			id := c.ID
			embeddings[i] = store.Embedding{
				ChunkID:  &id,
				Provider: j.Provider.Name(),
				Model:    j.Provider.ModelID(),
				Dims:     j.Provider.Dimensions(),
				Vector:   vecs[i],
			}
		}
		if err := j.Store.SaveEmbeddingsBatch(ctx, embeddings); err != nil {
			return fmt.Errorf("embed job: saving embeddings: %w", err)
		}

		cost := embedding.EstimateCost(j.Provider, tokens)
		_ = j.Store.AppendUsage(ctx, &store.UsageRow{
			Provider:    j.Provider.Name(),
			Model:       j.Provider.ModelID(),
			Operation:   "embed",
			TokensInput: tokens,
			CostUSD:     cost,
			Success:     true,
		})

		job.ItemsSucceeded += len(chunks)
		afterID = chunks[len(chunks)-1].ID
		job.CursorID = afterID
		_ = j.Store.UpdateJobProgress(ctx, job)
		emit(Event{Kind: EventProgress, JobID: job.ID, Data: map[string]any{
			"succeeded": job.ItemsSucceeded, "failed": job.ItemsFailed, "total": total,
		}})
	}

	return nil
}
