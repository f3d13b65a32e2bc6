package digest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONStripsCodeFence(t *testing.T) {
	raw := "here you go:\n```json\n{\"a\": 1}\n```\nthanks"
	out, err := extractJSON(raw)
	require.NoError(t, err)
	assert.Equal(t, `{"a": 1}`, out)
}

func TestExtractJSONHandlesArray(t *testing.T) {
	raw := "sure, [{\"a\": 1}]"
	out, err := extractJSON(raw)
	require.NoError(t, err)
	assert.Equal(t, `[{"a": 1}]`, out)
}

func TestExtractJSONErrorsWithoutJSON(t *testing.T) {
	_, err := extractJSON("no json here")
	assert.Error(t, err)
}
