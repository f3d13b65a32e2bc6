package nexuspipe

import "errors"

var (
	// ErrDocumentNotFound is returned when a document ID does not exist.
	ErrDocumentNotFound = errors.New("nexuspipe: document not found")

	// ErrJobNotFound is returned when a job ID does not exist.
	ErrJobNotFound = errors.New("nexuspipe: job not found")

	// ErrJobNotResumable is returned when resuming a job that isn't paused or failed.
	ErrJobNotResumable = errors.New("nexuspipe: job is not resumable")

	// ErrFetchFailed is returned when a full-text fetch fails.
	ErrFetchFailed = errors.New("nexuspipe: fetch failed")

	// ErrEmbeddingFailed is returned when embedding generation fails non-retriably.
	ErrEmbeddingFailed = errors.New("nexuspipe: embedding generation failed")

	// ErrProviderUnavailable is returned when an embedding or LLM provider is unreachable.
	ErrProviderUnavailable = errors.New("nexuspipe: provider unavailable")

	// ErrNoResults is returned when retrieval yields no matching chunks.
	ErrNoResults = errors.New("nexuspipe: no results found")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("nexuspipe: invalid configuration")

	// ErrInsufficientChunks is returned when a digest is requested over
	// too small a chunk set to cluster meaningfully.
	ErrInsufficientChunks = errors.New("nexuspipe: insufficient chunks for digest")
)
