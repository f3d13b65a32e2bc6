package embedding

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// ParallelEmbed splits texts into sub-batches of batchSize and embeds
// them concurrently, bounded by maxConcurrent in-flight requests. Order
// of the returned vectors matches the order of texts.
func ParallelEmbed(ctx context.Context, p Provider, texts []string, batchSize, maxConcurrent int) ([]Vector, error) {
	if batchSize <= 0 {
		batchSize = len(texts)
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	type batch struct {
		start int
		texts []string
	}
	var batches []batch
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batches = append(batches, batch{start: start, texts: texts[start:end]})
	}

	out := make([]Vector, len(texts))
	sem := semaphore.NewWeighted(int64(maxConcurrent))
	g, gctx := errgroup.WithContext(ctx)

	for _, b := range batches {
		b := b
		if err := sem.Acquire(gctx, 1); err != nil {
			return nil, err
		}
		g.Go(func() error {
			defer sem.Release(1)
			vecs, err := p.Embed(gctx, b.texts)
			if err != nil {
				return err
			}
			copy(out[b.start:b.start+len(vecs)], vecs)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
