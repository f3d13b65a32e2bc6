package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	dims    int
	cost    float64
	calls   [][]string
	failIdx int
	err     error
}

func (f *fakeProvider) Name() string            { return "fake" }
func (f *fakeProvider) ModelID() string         { return "fake-model" }
func (f *fakeProvider) Dimensions() int         { return f.dims }
func (f *fakeProvider) CostPer1MInput() float64 { return f.cost }

func (f *fakeProvider) Embed(ctx context.Context, texts []string) ([]Vector, error) {
	f.calls = append(f.calls, texts)
	if f.err != nil {
		return nil, f.err
	}
	out := make([]Vector, len(texts))
	for i, t := range texts {
		out[i] = Vector{float32(len(t))}
	}
	return out, nil
}

func (f *fakeProvider) EmbedSingle(ctx context.Context, text string) (Vector, error) {
	vs, err := f.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vs[0], nil
}

func (f *fakeProvider) HealthCheck(ctx context.Context) (HealthStatus, error) {
	return HealthStatus{Healthy: true}, nil
}

func TestEstimateTokensRoughlyCharsOverFour(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 25, EstimateTokens(string(make([]byte, 100))))
}

func TestEstimateCost(t *testing.T) {
	p := &fakeProvider{cost: 0.02}
	assert.InDelta(t, 0.00002, EstimateCost(p, 1000), 1e-9)
}

func TestTruncateAppliesSafetyCap(t *testing.T) {
	long := make([]byte, MaxEmbedChars+500)
	for i := range long {
		long[i] = 'a'
	}
	truncated := Truncate(string(long))
	assert.Len(t, truncated, MaxEmbedChars)
}

func TestParallelEmbedPreservesOrder(t *testing.T) {
	p := &fakeProvider{}
	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vecs, err := ParallelEmbed(context.Background(), p, texts, 2, 2)
	require.NoError(t, err)
	require.Len(t, vecs, len(texts))
	for i, text := range texts {
		assert.Equal(t, float32(len(text)), vecs[i][0])
	}
}

func TestParallelEmbedPropagatesError(t *testing.T) {
	p := &fakeProvider{err: assert.AnError}
	_, err := ParallelEmbed(context.Background(), p, []string{"a", "b", "c"}, 1, 2)
	assert.Error(t, err)
}

func TestDecodeFloat32LERoundTrip(t *testing.T) {
	in := []byte{0, 0, 128, 63, 0, 0, 0, 64} // 1.0, 2.0 little-endian float32
	vec, err := decodeFloat32LE(in)
	require.NoError(t, err)
	require.Len(t, vec, 2)
	assert.InDelta(t, 1.0, vec[0], 1e-6)
	assert.InDelta(t, 2.0, vec[1], 1e-6)
}

func TestDecodeFloat32LERejectsMisalignedLength(t *testing.T) {
	_, err := decodeFloat32LE([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestTruncateCharsHandlesMultibyteRunes(t *testing.T) {
	s := truncateChars("héllo wörld", 5)
	assert.Equal(t, []rune("héllo"), []rune(s))
}
