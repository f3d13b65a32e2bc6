package nexuspipe

import (
	"context"
	"fmt"

	"github.com/khoffmann/nexuspipe/chunker"
	"github.com/khoffmann/nexuspipe/digest"
	"github.com/khoffmann/nexuspipe/embedding"
	"github.com/khoffmann/nexuspipe/fetcher"
	"github.com/khoffmann/nexuspipe/jobs"
	"github.com/khoffmann/nexuspipe/llm"
	"github.com/khoffmann/nexuspipe/prompts"
	"github.com/khoffmann/nexuspipe/ratelimit"
	"github.com/khoffmann/nexuspipe/readwise"
	"github.com/khoffmann/nexuspipe/retrieval"
	"github.com/khoffmann/nexuspipe/store"
)

// Engine wires every component package into a single handle cmd/server
// drives: the store, the Readwise client, the fetcher and its rate
// limiter, the chunker, the embedding provider, the job registry, the
// retrieval engine, the prompt registry, and the digest generator.
type Engine struct {
	Store     *store.Store
	Readwise  *readwise.Client
	Fetcher   *fetcher.Fetcher
	Limiter   *ratelimit.Limiter
	Chunker   *chunker.Chunker
	Embedder  embedding.Provider
	Jobs      *jobs.Registry
	Retrieval *retrieval.Engine
	Prompts   *prompts.Registry
	Digest    *digest.Engine

	cfg Config
}

// New constructs an Engine from cfg: opens the database, builds every
// component, registers job runners, and rehydrates any jobs interrupted
// by a prior process crash.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	st, err := store.Open(cfg.resolveDBPath())
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrating store: %w", err)
	}

	embedder, err := newEmbeddingProvider(cfg.EmbeddingProvider)
	if err != nil {
		return nil, fmt.Errorf("building embedding provider: %w", err)
	}

	chunk := chunker.New(chunker.Config{
		ChunkSize: cfg.ChunkSize,
		Overlap:   cfg.ChunkOverlap,
		MinChunk:  cfg.MinChunk,
	})
	fetch := fetcher.New()
	limiter := ratelimit.New()
	rw := readwise.New(cfg.ReadwiseBaseURL, cfg.ReadwiseToken)
	promptReg := prompts.New(st)

	digestAPIKey := cfg.DigestAPIKey
	if digestAPIKey == "" && cfg.resolveDigestProvider() == "anthropic" {
		digestAPIKey = cfg.AnthropicAPIKey
	}
	llmProvider, err := llm.NewProvider(llm.Config{
		Provider: cfg.resolveDigestProvider(),
		Model:    cfg.DigestModel,
		BaseURL:  cfg.DigestBaseURL,
		APIKey:   digestAPIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("building digest llm provider: %w", err)
	}
	digestEngine := digest.New(st, llmProvider, promptReg, digest.Config{
		Model:                 cfg.DigestModel,
		CostPer1MInput:        cfg.DigestCostPer1MInput,
		CostPer1MOutput:       cfg.DigestCostPer1MOutput,
		EmbeddingProviderName: embedder.Name(),
		EmbeddingModel:        embedder.ModelID(),
	})

	retrievalEngine := retrieval.New(st, embedder, retrieval.Config{
		WeightLexical:  cfg.WeightLexical,
		WeightSemantic: cfg.WeightSemantic,
	})

	registry := jobs.NewRegistry(st)
	registry.Register(&jobs.ImportJob{Store: st, Client: rw, Status: registry.StatusFunc})
	registry.Register(&jobs.FetchJob{
		Store: st, Fetcher: fetch, Limiter: limiter, Status: registry.StatusFunc,
		DocumentsNeedingFetch: st.ListDocumentsNeedingFetch,
	})
	registry.Register(&jobs.EmbedJob{Store: st, Provider: embedder, Status: registry.StatusFunc})
	registry.Register(&jobs.PipelineJob{
		Store: st,
		Import: &jobs.ImportJob{Store: st, Client: rw, Status: registry.StatusFunc},
		Fetch: &jobs.FetchJob{
			Store: st, Fetcher: fetch, Limiter: limiter, Status: registry.StatusFunc,
			DocumentsNeedingFetch: st.ListDocumentsNeedingFetch,
		},
		Embed:   &jobs.EmbedJob{Store: st, Provider: embedder, Status: registry.StatusFunc},
		Chunker: chunk,
		Status:  registry.StatusFunc,
	})
	registry.Register(&jobs.DigestJob{Engine: digestEngine, Status: registry.StatusFunc})

	if err := registry.RehydrateOnStartup(ctx); err != nil {
		return nil, fmt.Errorf("rehydrating jobs: %w", err)
	}

	return &Engine{
		Store:     st,
		Readwise:  rw,
		Fetcher:   fetch,
		Limiter:   limiter,
		Chunker:   chunk,
		Embedder:  embedder,
		Jobs:      registry,
		Retrieval: retrievalEngine,
		Prompts:   promptReg,
		Digest:    digestEngine,
		cfg:       cfg,
	}, nil
}

// Close releases the underlying database connection.
func (e *Engine) Close() error {
	return e.Store.Close()
}

func newEmbeddingProvider(cfg EmbeddingConfig) (embedding.Provider, error) {
	switch cfg.Provider {
	case "local":
		return embedding.NewLocalProvider(cfg.BaseURL, cfg.Model, cfg.Dimensions), nil
	case "openai", "":
		return embedding.NewOpenAIProvider(cfg.APIKey, cfg.Model, cfg.Dimensions, cfg.CostPer1M), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}
}
