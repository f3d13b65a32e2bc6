package digest

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"
	"strings"

	"github.com/khoffmann/nexuspipe/llm"
	"github.com/khoffmann/nexuspipe/prompts"
	"github.com/khoffmann/nexuspipe/store"
)

// pureLLMChunkCap is the maximum number of chunks the pure-LLM strategy
// will describe in a single clustering call.
const pureLLMChunkCap = 100

// pureLLMExcerptChars is how far each chunk is abbreviated for the
// pure-LLM clustering prompt.
const pureLLMExcerptChars = 300

// clusterTopic is one named, summarized group of chunks produced by
// either clustering strategy, ready for SUMMARIZE/COMPILE.
type clusterTopic struct {
	Name      string
	Summary   string
	KeyPoints []string
	Chunks    []store.DigestChunk
}

type llmUsage struct {
	TokensInput  int
	TokensOutput int
}

func (u *llmUsage) add(resp *llm.ChatResponse) {
	u.TokensInput += resp.PromptTokens
	u.TokensOutput += resp.CompletionTokens
}

type topicNamingResponse struct {
	TopicName string   `json:"topic_name"`
	Summary   string   `json:"summary"`
	KeyPoints []string `json:"key_points"`
}

// hybridCluster runs k-means++ over chunk vectors (1-cosine-similarity
// distance), discards undersized clusters, and names each surviving
// cluster with one LLM call per cluster.
func hybridCluster(ctx context.Context, chunks []store.DigestChunk, requestedK, minClusterSize int, provider llm.Provider, reg *prompts.Registry, model string) ([]clusterTopic, llmUsage, error) {
	var usage llmUsage
	if len(chunks) == 0 {
		return nil, usage, nil
	}

	k := requestedK
	if max := len(chunks) / minClusterSize; max < k {
		k = max
	}
	if k < 1 {
		k = 1
	}

	points := make([][]float32, len(chunks))
	for i, c := range chunks {
		points[i] = c.Vector
	}
	assignments := kmeansCluster(points, k, rand.New(rand.NewSource(1)))

	groups := make(map[int][]store.DigestChunk, k)
	for i, cluster := range assignments {
		groups[cluster] = append(groups[cluster], chunks[i])
	}

	discardFloor := minClusterSize / 2
	topics := make([]clusterTopic, 0, len(groups))
	for _, members := range groups {
		if len(members) < discardFloor {
			continue
		}

		prompt, err := reg.Get(ctx, prompts.KeyTopicNamingHybrid)
		if err != nil {
			return nil, usage, fmt.Errorf("loading topic naming prompt: %w", err)
		}
		body := prompts.Render(prompt.Body, map[string]string{"excerpts": formatExcerpts(members)})

		resp, err := provider.Chat(ctx, llm.ChatRequest{
			Model:       model,
			Messages:    []llm.Message{{Role: "user", Content: body}},
			Temperature: prompt.Temperature,
			MaxTokens:   prompt.MaxTokens,
		})
		if err != nil {
			return nil, usage, fmt.Errorf("naming cluster: %w", err)
		}
		usage.add(resp)

		topic := clusterTopic{Chunks: members}
		var parsed topicNamingResponse
		if raw, jerr := extractJSON(resp.Content); jerr == nil {
			if jerr := json.Unmarshal([]byte(raw), &parsed); jerr == nil {
				topic.Name = parsed.TopicName
				topic.Summary = parsed.Summary
				topic.KeyPoints = parsed.KeyPoints
			}
		}
		if topic.Name == "" {
			topic.Name = "Theme " + strconv.Itoa(len(topics)+1)
		}
		topics = append(topics, topic)
	}
	return topics, usage, nil
}

type pureLLMClusterEntry struct {
	TopicName    string   `json:"topic_name"`
	Summary      string   `json:"summary"`
	KeyPoints    []string `json:"key_points"`
	ChunkIndices []int    `json:"chunk_indices"`
}

// pureLLMCluster describes up to pureLLMChunkCap abbreviated chunks in a
// single LLM call and maps the returned chunk_indices back to chunks.
func pureLLMCluster(ctx context.Context, chunks []store.DigestChunk, provider llm.Provider, reg *prompts.Registry, model string) ([]clusterTopic, llmUsage, error) {
	var usage llmUsage
	if len(chunks) == 0 {
		return nil, usage, nil
	}

	subset := chunks
	if len(subset) > pureLLMChunkCap {
		subset = subset[:pureLLMChunkCap]
	}

	var sb strings.Builder
	for i, c := range subset {
		excerpt := c.ChunkText
		if len(excerpt) > pureLLMExcerptChars {
			excerpt = excerpt[:pureLLMExcerptChars]
		}
		fmt.Fprintf(&sb, "[%d] %s: %s\n", i, c.Title, excerpt)
	}

	prompt, err := reg.Get(ctx, prompts.KeyClusteringPureLLM)
	if err != nil {
		return nil, usage, fmt.Errorf("loading pure-LLM clustering prompt: %w", err)
	}
	body := prompts.Render(prompt.Body, map[string]string{"excerpts": sb.String()})

	resp, err := provider.Chat(ctx, llm.ChatRequest{
		Model:       model,
		Messages:    []llm.Message{{Role: "user", Content: body}},
		Temperature: prompt.Temperature,
		MaxTokens:   prompt.MaxTokens,
	})
	if err != nil {
		return nil, usage, fmt.Errorf("clustering via LLM: %w", err)
	}
	usage.add(resp)

	var entries []pureLLMClusterEntry
	raw, jerr := extractJSON(resp.Content)
	if jerr == nil {
		jerr = json.Unmarshal([]byte(raw), &entries)
	}
	if jerr != nil {
		return nil, usage, fmt.Errorf("decoding pure-LLM clustering response: %w", jerr)
	}

	topics := make([]clusterTopic, 0, len(entries))
	for i, e := range entries {
		members := make([]store.DigestChunk, 0, len(e.ChunkIndices))
		for _, idx := range e.ChunkIndices {
			if idx >= 0 && idx < len(subset) {
				members = append(members, subset[idx])
			}
		}
		if len(members) == 0 {
			continue
		}
		name := e.TopicName
		if name == "" {
			name = "Theme " + strconv.Itoa(i+1)
		}
		topics = append(topics, clusterTopic{Name: name, Summary: e.Summary, KeyPoints: e.KeyPoints, Chunks: members})
	}
	return topics, usage, nil
}

func formatExcerpts(chunks []store.DigestChunk) string {
	var sb strings.Builder
	for _, c := range chunks {
		fmt.Fprintf(&sb, "- (%s) %s\n", c.Title, c.ChunkText)
	}
	return sb.String()
}
