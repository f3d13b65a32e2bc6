package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkEmptyText(t *testing.T) {
	c := New(DefaultConfig())
	assert.Empty(t, c.Chunk("", ""))
	assert.Empty(t, c.Chunk("", "   \n\n  "))
}

func TestChunkShortTextIsOneChunk(t *testing.T) {
	c := New(DefaultConfig())
	text := "A short article. It has two sentences."
	chunks := c.Chunk("", text)
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].ChunkIndex)
	assert.Equal(t, text, chunks[0].ChunkText)
}

func TestChunkPositionsAreLiteralSubstrings(t *testing.T) {
	c := New(DefaultConfig())
	text := strings.Repeat("This is a sentence about nexuspipe's pipeline design. ", 60)
	chunks := c.Chunk("", text)
	require.NotEmpty(t, chunks)

	for _, ch := range chunks {
		require.Less(t, ch.CharStart, ch.CharEnd)
		require.LessOrEqual(t, ch.CharEnd, len(text))
		substr := strings.TrimSpace(text[ch.CharStart:ch.CharEnd])
		assert.Equal(t, substr, ch.ChunkText)
	}
}

func TestChunkIndicesAreSequential(t *testing.T) {
	c := New(DefaultConfig())
	text := strings.Repeat("Paragraph one sentence. Another sentence follows here.\n\n", 40)
	chunks := c.Chunk("", text)
	require.NotEmpty(t, chunks)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.ChunkIndex)
	}
}

func TestChunkConsecutiveChunksOverlap(t *testing.T) {
	c := New(Config{ChunkSize: 200, Overlap: 60, MinChunk: 40})
	text := strings.Repeat("Sentence number with enough words to matter here. ", 30)
	chunks := c.Chunk("", text)
	require.Greater(t, len(chunks), 1)

	for i := 1; i < len(chunks); i++ {
		// Each chunk after the first should start before the previous
		// chunk's end, proving the overlap window actually backs up.
		assert.Less(t, chunks[i].CharStart, chunks[i-1].CharEnd)
	}
}

func TestChunkHandlesOversizedSingleSentence(t *testing.T) {
	c := New(Config{ChunkSize: 50, Overlap: 10, MinChunk: 10})
	text := strings.Repeat("word ", 100) + "."
	chunks := c.Chunk("", text)
	require.NotEmpty(t, chunks)
	// Must make forward progress even when one "sentence" exceeds ChunkSize.
	assert.Less(t, chunks[0].CharStart, chunks[0].CharEnd)
}

func TestChunkPrependsTitleToAnchorOffsets(t *testing.T) {
	c := New(DefaultConfig())
	title := "On Nexuspipe's Chunking Strategy"
	fulltext := "The article body starts here. It continues for a sentence more."
	combined := title + "\n\n" + fulltext

	chunks := c.Chunk(title, fulltext)
	require.NotEmpty(t, chunks)
	assert.Equal(t, combined[chunks[0].CharStart:chunks[0].CharEnd], chunks[0].ChunkText)
	assert.Contains(t, chunks[0].ChunkText, "On Nexuspipe's Chunking Strategy")
}

func TestEstimateTokensRoughlyCharsOverFour(t *testing.T) {
	assert.Equal(t, 0, estimateTokens(""))
	assert.Equal(t, 1, estimateTokens("abc"))
	assert.Equal(t, 2, estimateTokens("12345678"))
}

func TestSplitParagraphsOnBlankLines(t *testing.T) {
	text := "First paragraph.\n\nSecond paragraph.\n\n\nThird paragraph."
	paras := splitParagraphs(text)
	require.Len(t, paras, 3)
	assert.Equal(t, "First paragraph.", text[paras[0].start:paras[0].end])
	assert.Equal(t, "Second paragraph.", text[paras[1].start:paras[1].end])
	assert.Equal(t, "Third paragraph.", text[paras[2].start:paras[2].end])
}

func TestSplitSentencesBreaksOnTerminalPunctuation(t *testing.T) {
	text := "Hello world. This is Go. Is it working? Yes!"
	sentences := splitSentences(text)
	require.Len(t, sentences, 4)
	assert.Equal(t, "Hello world.", text[sentences[0].start:sentences[0].end])
	assert.Equal(t, "This is Go.", text[sentences[1].start:sentences[1].end])
	assert.Equal(t, "Is it working?", text[sentences[2].start:sentences[2].end])
	assert.Equal(t, "Yes!", text[sentences[3].start:sentences[3].end])
}

func TestSplitSentencesDoesNotBreakOnAbbreviationFollowedByLowercase(t *testing.T) {
	text := "He lives in the U.S. currently and likes it."
	sentences := splitSentences(text)
	// Lowercase "currently" after "U.S." should not trigger a split there.
	require.Len(t, sentences, 1)
}
