package fetcher

// ErrorKind is the fetch failure taxonomy. It is a discriminated union:
// every caller that branches on it should handle all variants.
type ErrorKind string

const (
	ErrorKindTimeout          ErrorKind = "timeout"
	ErrorKindHTTP4xx          ErrorKind = "http_4xx"
	ErrorKindHTTP5xx          ErrorKind = "http_5xx"
	ErrorKindPaywall          ErrorKind = "paywall"
	ErrorKindJSRequired       ErrorKind = "js_required"
	ErrorKindExtractionFailed ErrorKind = "extraction_failed"
	ErrorKindConnectionError  ErrorKind = "connection_error"
	ErrorKindNoContent        ErrorKind = "no_content"
)

var retriableKinds = map[ErrorKind]bool{
	ErrorKindTimeout:         true,
	ErrorKindHTTP5xx:         true,
	ErrorKindConnectionError: true,
}

// Retriable reports whether this error kind may be cleared in bulk and
// retried. Computed on demand, not stored, matching the original's
// FetchResult.retriable derived property.
func (k ErrorKind) Retriable() bool {
	return retriableKinds[k]
}

// RetriableKinds lists every error kind that retry-failed bulk-clears.
func RetriableKinds() []string {
	out := make([]string, 0, len(retriableKinds))
	for k := range retriableKinds {
		out = append(out, string(k))
	}
	return out
}
