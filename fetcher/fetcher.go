// Package fetcher retrieves a URL's HTML and extracts the main article
// text, classifying failures by retriability.
package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/go-shiori/go-readability"
	"golang.org/x/net/html/charset"
	"golang.org/x/sync/errgroup"
)

const (
	fetchTimeout      = 30 * time.Second
	maxContentBytes    = 10 * 1024 * 1024
	minContentLength  = 200
)

// Result is the outcome of one fetch attempt.
type Result struct {
	Success      bool
	Fulltext     string
	CharCount    int
	ErrorKind    ErrorKind
	ErrorMessage string
	HTTPStatus   int
}

// Retriable reports whether the caller may clear and retry this result.
func (r Result) Retriable() bool {
	return !r.Success && r.ErrorKind.Retriable()
}

// Fetcher fetches and extracts article text from URLs.
type Fetcher struct {
	client *http.Client
	uaList []string
}

// New returns a Fetcher with a hardened transport and browser-like headers.
func New() *Fetcher {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &Fetcher{
		client: &http.Client{Transport: transport, Timeout: fetchTimeout},
		uaList: []string{
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Safari/605.1.15",
		},
	}
}

// Fetch retrieves rawURL and extracts its main article text.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) Result {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Result{ErrorKind: ErrorKindExtractionFailed, ErrorMessage: fmt.Sprintf("invalid url: %v", err)}
	}

	if isPaywallDomain(u.Host) {
		return Result{ErrorKind: ErrorKindPaywall, ErrorMessage: "known paywalled domain"}
	}
	if isJSRequiredDomain(u.Host) {
		return Result{ErrorKind: ErrorKindJSRequired, ErrorMessage: "client-rendered domain"}
	}

	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Result{ErrorKind: ErrorKindExtractionFailed, ErrorMessage: err.Error()}
	}
	req.Header.Set("User-Agent", f.uaList[0])
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return Result{ErrorKind: ErrorKindHTTP5xx, ErrorMessage: resp.Status, HTTPStatus: resp.StatusCode}
	}
	if resp.StatusCode >= 400 {
		return Result{ErrorKind: ErrorKindHTTP4xx, ErrorMessage: resp.Status, HTTPStatus: resp.StatusCode}
	}

	limited := io.LimitReader(resp.Body, maxContentBytes+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return Result{ErrorKind: ErrorKindExtractionFailed, ErrorMessage: err.Error(), HTTPStatus: resp.StatusCode}
	}
	if len(raw) > maxContentBytes {
		return Result{ErrorKind: ErrorKindExtractionFailed, ErrorMessage: "content exceeds size cap", HTTPStatus: resp.StatusCode}
	}

	utf8Body, err := decodeToUTF8(raw, resp.Header.Get("Content-Type"))
	if err != nil {
		return Result{ErrorKind: ErrorKindExtractionFailed, ErrorMessage: err.Error(), HTTPStatus: resp.StatusCode}
	}

	text, extractErr := extractOnWorker(ctx, utf8Body, rawURL)
	if extractErr != nil {
		return Result{ErrorKind: ErrorKindExtractionFailed, ErrorMessage: extractErr.Error(), HTTPStatus: resp.StatusCode}
	}

	if text == "" {
		return Result{ErrorKind: ErrorKindNoContent, HTTPStatus: resp.StatusCode}
	}
	if len(text) < minContentLength {
		return Result{ErrorKind: ErrorKindExtractionFailed, ErrorMessage: "extracted text below minimum length", HTTPStatus: resp.StatusCode}
	}

	return Result{Success: true, Fulltext: text, CharCount: len(text), HTTPStatus: resp.StatusCode}
}

// extractOnWorker runs the CPU-bound readability + markdown conversion on
// a dedicated goroutine managed by an errgroup, so the calling job loop
// never blocks its own scheduling on extraction work.
func extractOnWorker(ctx context.Context, html, rawURL string) (string, error) {
	var text string
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		article, err := readability.FromReader(strings.NewReader(html), mustParseURL(rawURL))
		if err != nil {
			return fmt.Errorf("readability: %w", err)
		}
		md, err := htmltomarkdown.ConvertString(article.Content)
		if err != nil {
			return fmt.Errorf("markdown conversion: %w", err)
		}
		text = strings.TrimSpace(md)
		return nil
	})
	if err := g.Wait(); err != nil {
		return "", err
	}
	return text, nil
}

func mustParseURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		return &url.URL{}
	}
	return u
}

func decodeToUTF8(raw []byte, contentType string) (string, error) {
	reader, err := charset.NewReader(bytes.NewReader(raw), contentType)
	if err != nil {
		return string(raw), nil
	}
	decoded, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("decoding charset: %w", err)
	}
	return string(decoded), nil
}

// classifyTransportError maps a failed http.Client.Do error to a fetch
// error kind: a timed-out context/deadline is TIMEOUT, DNS failures and
// refused connections are CONNECTION_ERROR (both retriable), anything
// else is also treated as a connection error since it happened before a
// response was ever read.
func classifyTransportError(err error) Result {
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return Result{ErrorKind: ErrorKindTimeout, ErrorMessage: err.Error()}
	}
	return Result{ErrorKind: ErrorKindConnectionError, ErrorMessage: err.Error()}
}
