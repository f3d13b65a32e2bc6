package prompts

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/khoffmann/nexuspipe/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestGetReturnsBakedInDefault(t *testing.T) {
	r := New(newTestStore(t))
	p, err := r.Get(context.Background(), KeyDigestSummary)
	require.NoError(t, err)
	assert.False(t, p.IsCustom)
	assert.Contains(t, p.Variables, "topics")
	assert.NotEmpty(t, p.Body)
}

func TestGetUnknownKeyErrors(t *testing.T) {
	r := New(newTestStore(t))
	_, err := r.Get(context.Background(), "nonexistent")
	assert.Error(t, err)
}

func TestSaveOverridesBodyButKeepsDefaultVariables(t *testing.T) {
	r := New(newTestStore(t))
	require.NoError(t, r.Save(context.Background(), KeyTopicNamingHybrid, "custom body {excerpts}", 0.9, 300))

	p, err := r.Get(context.Background(), KeyTopicNamingHybrid)
	require.NoError(t, err)
	assert.True(t, p.IsCustom)
	assert.Equal(t, "custom body {excerpts}", p.Body)
	assert.Equal(t, 0.9, p.Temperature)
	assert.Equal(t, 300, p.MaxTokens)
	assert.Equal(t, defaults[KeyTopicNamingHybrid].variables, p.Variables)
}

func TestResetRestoresDefault(t *testing.T) {
	r := New(newTestStore(t))
	require.NoError(t, r.Save(context.Background(), KeyClusteringPureLLM, "custom", 0.1, 10))
	require.NoError(t, r.Reset(context.Background(), KeyClusteringPureLLM))

	p, err := r.Get(context.Background(), KeyClusteringPureLLM)
	require.NoError(t, err)
	assert.False(t, p.IsCustom)
	assert.Equal(t, defaults[KeyClusteringPureLLM].body, p.Body)
}

func TestListReturnsAllKeys(t *testing.T) {
	r := New(newTestStore(t))
	list, err := r.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestRenderSubstitutesPlaceholders(t *testing.T) {
	out := Render("hello {name}, you have {count} items", map[string]string{"name": "ada", "count": "3"})
	assert.Equal(t, "hello ada, you have 3 items", out)
}
