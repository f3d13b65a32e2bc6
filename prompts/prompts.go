// Package prompts manages the baked-in LLM prompt templates used by the
// digest generator, merged with any per-key customization persisted in
// the store.
package prompts

import (
	"context"
	"fmt"
	"strings"

	"github.com/khoffmann/nexuspipe/store"
)

// Prompt keys baked into the registry.
const (
	KeyDigestSummary      = "digest_summary"
	KeyTopicNamingHybrid  = "topic_naming_hybrid"
	KeyClusteringPureLLM  = "clustering_pure_llm"
)

// Prompt is the effective (default merged with override) view of one
// registry entry.
type Prompt struct {
	Key         string
	Category    string
	Name        string
	Description string
	Body        string
	Variables   []string
	Temperature float64
	MaxTokens   int
	IsCustom    bool
}

type defaultPrompt struct {
	category    string
	name        string
	description string
	body        string
	variables   []string
	temperature float64
	maxTokens   int
}

var defaults = map[string]defaultPrompt{
	KeyDigestSummary: {
		category:    "digest",
		name:        "Digest Summary",
		description: "Produces the overall weekly summary and highlight list from a topic list.",
		body: "You are summarizing a reader's saved articles and highlights from {date_from} to {date_to}.\n" +
			"Topics identified:\n{topics}\n\n" +
			"Write a concise overall summary (2-3 paragraphs) of what was read this period, " +
			"then a list of the most notable highlights. Respond as JSON: " +
			`{"summary": "...", "highlights": ["...", "..."]}`,
		variables:   []string{"date_from", "date_to", "topics"},
		temperature: 0.4,
		maxTokens:   1200,
	},
	KeyTopicNamingHybrid: {
		category:    "digest",
		name:        "Topic Naming (hybrid clustering)",
		description: "Names and summarizes one k-means cluster of chunks.",
		body: "The following excerpts were clustered together by semantic similarity:\n{excerpts}\n\n" +
			"Respond as JSON: " + `{"topic_name": "...", "summary": "...", "key_points": ["...", "..."]}`,
		variables:   []string{"excerpts"},
		temperature: 0.3,
		maxTokens:   600,
	},
	KeyClusteringPureLLM: {
		category:    "digest",
		name:        "Pure LLM Clustering",
		description: "Clusters up to 100 abbreviated chunks into topics in a single call.",
		body: "Group the following numbered excerpts into coherent topics:\n{excerpts}\n\n" +
			"Respond as a JSON list: " +
			`[{"topic_name": "...", "summary": "...", "key_points": ["..."], "chunk_indices": [0, 1]}]`,
		variables:   []string{"excerpts"},
		temperature: 0.3,
		maxTokens:   1500,
	},
}

// Registry serves the effective view of every known prompt key, merging
// baked-in defaults with store.PromptOverride customizations.
type Registry struct {
	store *store.Store
}

// New constructs a Registry backed by st.
func New(st *store.Store) *Registry {
	return &Registry{store: st}
}

// Get returns the effective prompt for key: the stored override's body,
// temperature, and max-tokens if present, else the default. The
// variable list always comes from the default, never the override.
func (r *Registry) Get(ctx context.Context, key string) (Prompt, error) {
	def, ok := defaults[key]
	if !ok {
		return Prompt{}, fmt.Errorf("prompts: unknown key %q", key)
	}

	p := Prompt{
		Key:         key,
		Category:    def.category,
		Name:        def.name,
		Description: def.description,
		Body:        def.body,
		Variables:   def.variables,
		Temperature: def.temperature,
		MaxTokens:   def.maxTokens,
	}

	override, err := r.store.GetPromptOverride(ctx, key)
	if err != nil && err != store.ErrNotFound {
		return Prompt{}, fmt.Errorf("prompts: loading override for %q: %w", key, err)
	}
	if override != nil {
		p.Body = override.Body
		if override.Temperature != nil {
			p.Temperature = *override.Temperature
		}
		if override.MaxTokens != nil {
			p.MaxTokens = *override.MaxTokens
		}
		p.IsCustom = true
	}
	return p, nil
}

// Save persists a customization for key.
func (r *Registry) Save(ctx context.Context, key, body string, temperature float64, maxTokens int) error {
	if _, ok := defaults[key]; !ok {
		return fmt.Errorf("prompts: unknown key %q", key)
	}
	return r.store.SetPromptOverride(ctx, &store.PromptOverride{
		PromptKey:   key,
		Body:        body,
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	})
}

// Reset deletes a customization, reverting key to its baked-in default.
func (r *Registry) Reset(ctx context.Context, key string) error {
	return r.store.ResetPromptOverride(ctx, key)
}

// List returns the effective view of every known prompt key.
func (r *Registry) List(ctx context.Context) ([]Prompt, error) {
	out := make([]Prompt, 0, len(defaults))
	for key := range defaults {
		p, err := r.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Render substitutes {placeholder} markers in the prompt body with vars.
func Render(body string, vars map[string]string) string {
	out := body
	for k, v := range vars {
		out = strings.ReplaceAll(out, "{"+k+"}", v)
	}
	return out
}
