package fetcher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPaywallDomainShortCircuitsWithoutNetworkCall(t *testing.T) {
	f := New()
	result := f.Fetch(context.Background(), "https://www.nytimes.com/2026/07/some-article")
	assert.False(t, result.Success)
	assert.Equal(t, ErrorKindPaywall, result.ErrorKind)
	assert.False(t, result.Retriable())
}

func TestJSRequiredDomainShortCircuits(t *testing.T) {
	f := New()
	result := f.Fetch(context.Background(), "https://x.com/someone/status/1")
	assert.False(t, result.Success)
	assert.Equal(t, ErrorKindJSRequired, result.ErrorKind)
}

func TestInvalidDNSNameIsConnectionErrorAndRetriable(t *testing.T) {
	f := New()
	result := f.Fetch(context.Background(), "https://this-domain-does-not-exist.invalid/page")
	assert.False(t, result.Success)
	assert.Equal(t, ErrorKindConnectionError, result.ErrorKind)
	assert.True(t, result.Retriable())
}

func TestRetriabilityTable(t *testing.T) {
	retriable := []ErrorKind{ErrorKindTimeout, ErrorKindHTTP5xx, ErrorKindConnectionError}
	notRetriable := []ErrorKind{ErrorKindHTTP4xx, ErrorKindPaywall, ErrorKindJSRequired, ErrorKindExtractionFailed, ErrorKindNoContent}

	for _, k := range retriable {
		assert.True(t, k.Retriable(), "%s should be retriable", k)
	}
	for _, k := range notRetriable {
		assert.False(t, k.Retriable(), "%s should not be retriable", k)
	}
}

func TestRegistrableDomainStripsWWW(t *testing.T) {
	assert.Equal(t, "nytimes.com", registrableDomain("www.nytimes.com"))
	assert.Equal(t, "nytimes.com", registrableDomain("NYTimes.com"))
}

func TestPaywallMatchesSubdomains(t *testing.T) {
	assert.True(t, isPaywallDomain("cooking.nytimes.com"))
	assert.True(t, isPaywallDomain("www.nytimes.com"))
	assert.False(t, isPaywallDomain("en.wikipedia.org"))
}
