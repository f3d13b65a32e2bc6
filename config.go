// Package nexuspipe wires together the ingestion, fetch, chunking,
// embedding, retrieval and digest components into a single engine that
// cmd/server exposes over HTTP.
package nexuspipe

import (
	"os"
	"path/filepath"
)

// Config holds all configuration for the nexuspipe engine.
type Config struct {
	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to ~/.nexuspipe/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path"`

	// DBName is the name for the database (used when DBPath is empty).
	DBName string `json:"db_name" yaml:"db_name"`

	// StorageDir controls where the database is created when DBPath is
	// not explicitly set. "home" (default) uses ~/.nexuspipe/, "local"
	// uses the current working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	// Readwise upstream
	ReadwiseBaseURL string `json:"readwise_base_url" yaml:"readwise_base_url"`
	ReadwiseToken   string `json:"readwise_token" yaml:"readwise_token"`

	// Embedding providers
	EmbeddingProvider EmbeddingConfig `json:"embedding" yaml:"embedding"`

	// Digest / LLM provider. DigestProvider selects among the backends
	// llm.NewProvider dispatches to (anthropic, openai, ollama, lmstudio,
	// openrouter, groq, xai, gemini, custom); DigestBaseURL/DigestAPIKey
	// are passed through to whichever backend is selected. AnthropicAPIKey
	// is used as the key only for the anthropic backend when DigestAPIKey
	// is empty.
	DigestProvider          string  `json:"digest_provider" yaml:"digest_provider"`
	DigestModel             string  `json:"digest_model" yaml:"digest_model"`
	DigestBaseURL           string  `json:"digest_base_url" yaml:"digest_base_url"`
	DigestAPIKey            string  `json:"digest_api_key" yaml:"digest_api_key"`
	AnthropicAPIKey         string  `json:"anthropic_api_key" yaml:"anthropic_api_key"`
	DigestCostPer1MInput    float64 `json:"digest_cost_per_1m_input" yaml:"digest_cost_per_1m_input"`
	DigestCostPer1MOutput   float64 `json:"digest_cost_per_1m_output" yaml:"digest_cost_per_1m_output"`

	// Chunking
	ChunkSize    int `json:"chunk_size" yaml:"chunk_size"`
	ChunkOverlap int `json:"chunk_overlap" yaml:"chunk_overlap"`
	MinChunk     int `json:"min_chunk" yaml:"min_chunk"`

	// Retrieval weights for RRF hybrid search
	WeightLexical  float64 `json:"weight_lexical" yaml:"weight_lexical"`
	WeightSemantic float64 `json:"weight_semantic" yaml:"weight_semantic"`

	// Digest clustering
	DigestStrategy  string `json:"digest_strategy" yaml:"digest_strategy"` // "hybrid" or "pure_llm"
	DigestClusterK  int    `json:"digest_cluster_k" yaml:"digest_cluster_k"`
}

// EmbeddingConfig configures a single embedding provider endpoint.
type EmbeddingConfig struct {
	Provider     string  `json:"provider" yaml:"provider"` // openai, local
	Model        string  `json:"model" yaml:"model"`
	BaseURL      string  `json:"base_url" yaml:"base_url"`
	APIKey       string  `json:"api_key" yaml:"api_key"`
	Dimensions   int     `json:"dimensions" yaml:"dimensions"`
	CostPer1M    float64 `json:"cost_per_1m" yaml:"cost_per_1m"`
}

// DefaultConfig returns a Config with sensible defaults for a local,
// OpenAI-backed embedding setup. Database is stored in
// ~/.nexuspipe/nexuspipe.db by default.
func DefaultConfig() Config {
	return Config{
		DBName:          "nexuspipe",
		StorageDir:      "home",
		ReadwiseBaseURL: "https://readwise.io/api/v3",
		EmbeddingProvider: EmbeddingConfig{
			Provider:   "openai",
			Model:      "text-embedding-3-small",
			Dimensions: 1536,
			CostPer1M:  0.02,
		},
		DigestProvider:        "anthropic",
		DigestModel:           "claude-sonnet-4-5",
		DigestCostPer1MInput:  3.00,
		DigestCostPer1MOutput: 15.00,
		ChunkSize:       800,
		ChunkOverlap:    160,
		MinChunk:        100,
		WeightLexical:   1.0,
		WeightSemantic:  1.0,
		DigestStrategy:  "hybrid",
		DigestClusterK:  5,
	}
}

// resolveDigestProvider defaults an unset DigestProvider to "anthropic",
// the backend this tree has shipped historically.
func (c *Config) resolveDigestProvider() string {
	if c.DigestProvider == "" {
		return "anthropic"
	}
	return c.DigestProvider
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "nexuspipe"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db"
		}
		return filepath.Join(home, ".nexuspipe", name+".db")
	}
}
