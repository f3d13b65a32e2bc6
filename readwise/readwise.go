// Package readwise is the reading-service client: it streams documents
// and highlights from two overlapping upstream endpoints and yields
// normalized records plus a resume cursor per endpoint.
package readwise

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const (
	maxRetries     = 5
	baseRetryDelay = 2 * time.Second
	maxRetryDelay  = 60 * time.Second
)

// Client talks to the upstream reading service's two overlapping
// endpoints (document + export) over HTTP.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New returns a Client for the given base URL and bearer token.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Article is the normalized record built from the document endpoint.
type Article struct {
	ProviderID  string
	URL         string
	Title       string
	Author      string
	HTMLContent string
	Summary     string
	WordCount   int
	PublishedAt *time.Time
	SavedAt     *time.Time
	Category    string
	RawJSON     string
}

// Highlight is the normalized record built from the export endpoint.
type Highlight struct {
	ProviderID    string
	DocumentURL   string
	Text          string
	Note          string
	HighlightedAt *time.Time
	Provider      string // sub-service this highlight actually came from
}

// documentPage is the document-endpoint wire shape: a lenient subset of
// fields plus the full raw payload per item, so migrations can later
// backfill attributes this client doesn't yet model.
type documentPage struct {
	Count      *int              `json:"count,omitempty"`
	NextCursor string            `json:"nextPageCursor"`
	Results    []json.RawMessage `json:"results"`
}

type documentRecord struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	Title       string `json:"title"`
	Author      string `json:"author"`
	HTMLContent string `json:"html_content"`
	Summary     string `json:"summary"`
	WordCount   int    `json:"word_count"`
	PublishedAt string `json:"published_date"`
	SavedAt     string `json:"saved_at"`
	Category    string `json:"category"`
	ParentID    string `json:"parent_id"`
}

type exportPage struct {
	Count      *int              `json:"count,omitempty"`
	NextCursor string            `json:"nextPageCursor"`
	Results    []json.RawMessage `json:"results"`
}

type bookRecord struct {
	UserBookID string            `json:"user_book_id"`
	SourceURL  string            `json:"source_url"`
	Source     string            `json:"source"`
	Highlights []highlightRecord `json:"highlights"`
}

type highlightRecord struct {
	ID            string `json:"id"`
	Text          string `json:"text"`
	Note          string `json:"note"`
	HighlightedAt string `json:"highlighted_at"`
}

// fetchDocumentPage retrieves one page of the document endpoint.
func (c *Client) fetchDocumentPage(ctx context.Context, cursor, updatedAfter string) (*documentPage, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("pageCursor", cursor)
	}
	if updatedAfter != "" {
		q.Set("updatedAfter", updatedAfter)
	}
	body, err := c.doGet(ctx, "/api/v2/list/?"+q.Encode())
	if err != nil {
		return nil, err
	}
	var page documentPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("decoding document page: %w", err)
	}
	return &page, nil
}

// fetchExportPage retrieves one page of the export endpoint.
func (c *Client) fetchExportPage(ctx context.Context, cursor string) (*exportPage, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("pageCursor", cursor)
	}
	body, err := c.doGet(ctx, "/api/v2/export/?"+q.Encode())
	if err != nil {
		return nil, err
	}
	var page exportPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("decoding export page: %w", err)
	}
	return &page, nil
}

// ErrAuth is returned for a 401 response; it is never retriable.
var ErrAuth = fmt.Errorf("readwise: authentication failed")

// doGet issues a GET with the retry/backoff policy: 401 aborts
// immediately, 429 sleeps for Retry-After (or exponential backoff) and
// retries, any other 4xx/5xx status propagates immediately, and
// transport or body-read errors are retried until maxRetries is used up.
func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return nil, fmt.Errorf("building request: %w", err)
		}
		req.Header.Set("Authorization", "Token "+c.token)

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			time.Sleep(backoffDelay(attempt))
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = fmt.Errorf("reading response: %w", readErr)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			return nil, ErrAuth
		case resp.StatusCode == http.StatusTooManyRequests:
			delay := retryAfterDelay(resp.Header.Get("Retry-After"), attempt)
			time.Sleep(delay)
			lastErr = fmt.Errorf("rate limited (429)")
			continue
		case resp.StatusCode >= 400:
			return nil, fmt.Errorf("upstream returned status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
		default:
			return body, nil
		}
	}
	return nil, fmt.Errorf("exhausted retries: %w", lastErr)
}

func backoffDelay(attempt int) time.Duration {
	d := baseRetryDelay * time.Duration(1<<attempt)
	if d > maxRetryDelay {
		d = maxRetryDelay
	}
	return d
}

func retryAfterDelay(header string, attempt int) time.Duration {
	if header != "" {
		if secs, err := time.ParseDuration(header + "s"); err == nil {
			return secs
		}
	}
	return backoffDelay(attempt)
}

// NormalizeCategory applies the upstream category table: LinkedIn URLs
// always classify as "linkedin" regardless of the supplied category;
// otherwise plural categories are singularized; empty/unknown defaults
// to "article".
func NormalizeCategory(rawURL, category string) string {
	if isLinkedInURL(rawURL) {
		return "linkedin"
	}
	category = strings.ToLower(strings.TrimSpace(category))
	if singular, ok := pluralToSingular[category]; ok {
		return singular
	}
	if category == "" {
		return "article"
	}
	return category
}

var pluralToSingular = map[string]string{
	"articles": "article",
	"podcasts": "podcast",
	"tweets":   "tweet",
	"books":    "book",
}

func isLinkedInURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(strings.TrimPrefix(u.Host, "www."))
	return host == "linkedin.com" || strings.HasSuffix(host, ".linkedin.com")
}

// NormalizeURL produces the canonical form used for document identity:
// lowercased host, scheme forced to https, "www." stripped, trailing
// slash stripped, query and fragment dropped. Idempotent.
func NormalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return strings.ToLower(strings.TrimSpace(raw))
	}
	u.Scheme = "https"
	u.Host = strings.ToLower(strings.TrimPrefix(strings.ToLower(u.Host), "www."))
	u.RawQuery = ""
	u.Fragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String()
}

// TextHash is the first 16 hex characters of SHA-256 over NFC-normalized,
// whitespace-collapsed, trimmed text — the Highlight dedup key.
func TextHash(text string) string {
	normalized := collapseWhitespace(norm.NFC.String(text))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])[:16]
}

func collapseWhitespace(s string) string {
	var b strings.Builder
	lastWasSpace := false
	for _, r := range strings.TrimSpace(s) {
		if unicode.IsSpace(r) {
			if !lastWasSpace {
				b.WriteRune(' ')
			}
			lastWasSpace = true
			continue
		}
		lastWasSpace = false
		b.WriteRune(r)
	}
	return b.String()
}
