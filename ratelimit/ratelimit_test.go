package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordFailureGrowsDelayCappedAtMax(t *testing.T) {
	l := New()
	url := "https://slow.example.com/a"

	l.RecordFailure(url)
	l.mu.Lock()
	d1 := l.state["slow.example.com"].delay
	l.mu.Unlock()
	assert.InDelta(t, float64(MinDelay)*Multiplier, float64(d1), float64(time.Millisecond))

	for i := 0; i < 20; i++ {
		l.RecordFailure(url)
	}
	l.mu.Lock()
	dMax := l.state["slow.example.com"].delay
	l.mu.Unlock()
	assert.Equal(t, MaxDelay, dMax)
}

func TestRecordSuccessResetsDelay(t *testing.T) {
	l := New()
	url := "https://slow.example.com/a"
	for i := 0; i < 5; i++ {
		l.RecordFailure(url)
	}
	l.RecordSuccess(url)

	l.mu.Lock()
	d := l.state["slow.example.com"].delay
	l.mu.Unlock()
	assert.Equal(t, MinDelay, d)
}

func TestWaitForBlocksUntilDelayElapsed(t *testing.T) {
	l := New()
	url := "https://example.com/a"

	start := time.Now()
	l.WaitFor(url) // first call: no prior request, should not block meaningfully
	require.Less(t, time.Since(start), MinDelay)

	l.mu.Lock()
	l.state["example.com"].delay = 30 * time.Millisecond
	l.mu.Unlock()

	start = time.Now()
	l.WaitFor(url)
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestRegistrableDomainStripsWWWAndScheme(t *testing.T) {
	assert.Equal(t, "example.com", registrableDomain("https://www.example.com/path"))
	assert.Equal(t, "example.com", registrableDomain("http://example.com"))
}
