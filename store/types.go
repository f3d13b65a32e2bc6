package store

import "time"

// Document is a saved article or highlight-source, identified by
// (source, provider_id) and deduplicated by url_canonical within a source.
type Document struct {
	ID           int64
	Source       string
	ProviderID   string
	URLOriginal  string
	URLCanonical string
	Title        string
	Author       string
	PublishedAt  *time.Time
	SavedAt      *time.Time
	Fulltext     string
	FulltextHTML string
	Category     string
	WordCount    *int
	Summary      string
	FetchSource  string
	FetchTime    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Highlight is a user highlight attached to a document, deduplicated by
// the hash of its normalized text.
type Highlight struct {
	ID            int64
	DocumentID    int64
	Text          string
	TextHash      string
	Note          string
	HighlightedAt *time.Time
	Provider      string
	CreatedAt     time.Time
}

// Chunk is a position-anchored slice of a document's full text.
type Chunk struct {
	ID         int64
	DocumentID int64
	ChunkIndex int
	ChunkText  string
	CharStart  int
	CharEnd    int
	TokenCount int
	CreatedAt  time.Time
}

// Embedding is a vector belonging to exactly one of Document or Chunk.
type Embedding struct {
	ID         int64
	DocumentID *int64
	ChunkID    *int64
	Provider   string
	Model      string
	Dims       int
	Vector     []float32
	CreatedAt  time.Time
}

// FetchFailure records the most recent failed full-text fetch for a document.
type FetchFailure struct {
	ID          int64
	DocumentID  int64
	URL         string
	ErrorKind   string
	Message     string
	HTTPStatus  *int
	RetryCount  int
	LastAttempt time.Time
	JobID       string
}

// Job tracks the lifecycle of a long-running background operation.
type Job struct {
	ID             string
	Kind           string
	Status         string
	StartedAt      time.Time
	LastActivity   time.Time
	Error          string
	ItemsTotal     *int
	ItemsImported  int
	ItemsMerged    int
	ItemsSucceeded int
	ItemsFailed    int
	ItemsSkipped   int
	CursorReader   string
	CursorExport   string
	ReaderDone     bool
	ExportDone     bool
	CursorID       int64
	Provider       string
	Model          string
	Phase          string
	ChildImportID  string
	ChildEmbedID   string
	StateJSON      string
}

// Job status values, matching the pending -> running -> terminal state machine.
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusPaused    = "paused"
	JobStatusCancelled = "cancelled"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// Digest is a generated weekly digest over a date range.
type Digest struct {
	ID             int64
	Name           string
	DateFrom       time.Time
	DateTo         time.Time
	Strategy       string
	Model          string
	Summary        string
	TopicsJSON     string
	HighlightsJSON string
	DocsAnalyzed   int
	ChunksAnalyzed int
	TokensInput    int
	TokensOutput   int
	CostUSD        float64
	CreatedAt      time.Time
}

// DigestTopic is one clustered topic within a digest.
type DigestTopic struct {
	ID            int64
	DigestID      int64
	TopicIndex    int
	TopicName     string
	Summary       string
	KeyPointsJSON string
}

// DigestCitation grounds a digest topic's claim in a specific chunk.
type DigestCitation struct {
	ID         int64
	DigestID   int64
	TopicID    int64
	ChunkID    *int64
	DocumentID *int64
	Excerpt    string
}

// DigestChunk is one embedded chunk saved within a digest's date window,
// carrying enough document metadata to cite it without a second lookup.
type DigestChunk struct {
	ChunkID      int64
	DocumentID   int64
	ChunkIndex   int
	ChunkText    string
	Title        string
	Author       string
	Category     string
	URLCanonical string
	Vector       []float32
}

// UsageRow is one append-only entry in the external API usage ledger.
type UsageRow struct {
	ID           int64
	TS           time.Time
	Provider     string
	Model        string
	Operation    string
	TokensInput  int
	TokensOutput int
	CostUSD      float64
	LatencyMS    int
	Success      bool
	ErrorMessage string
	MetadataJSON string
}

// PromptOverride replaces a baked-in prompt template.
type PromptOverride struct {
	PromptKey   string
	Body        string
	Temperature *float64
	MaxTokens   *int
	UpdatedAt   time.Time
}

// ChunkStats summarizes the embedding coverage of all stored chunks for
// one provider/model pair.
type ChunkStats struct {
	Total    int
	Embedded int
	Pending  int
	Orphaned int
}

// ScoredChunk is a chunk ranked by a retrieval method, with optional
// surrounding-chunk context for citation display.
type ScoredChunk struct {
	Chunk         Chunk
	Document      Document
	Score         float64
	ContextBefore string
	ContextAfter  string
}

// LibraryEntry is one row in a library listing or search result.
type LibraryEntry struct {
	Document      Document
	Score         float64
	EffectiveDate time.Time
}
