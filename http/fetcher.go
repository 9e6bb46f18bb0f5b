// Package http fetches raw archive groups over HTTP.
//
// Groups are addressed by archive and group id under an OpenRS2-style
// archive host:
//
//	https://<host>/caches/<game>/<cache-version>/archives/<archive>/groups/<group>.dat
//
// A Fetcher issues one GET per call and never retries.
package http //nolint:revive // intentional naming for domain clarity

import (
	"context"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"strings"

	"github.com/meigma/js5/internal/sizing"
)

// Defaults for the public OpenRS2 archive.
const (
	DefaultBaseURL      = "https://archive.openrs2.org"
	DefaultGame         = "runescape"
	DefaultCacheVersion = 2064
	// DefaultMaxBodySize bounds response bodies.
	DefaultMaxBodySize = 64 << 20
)

// ErrFetch is returned, possibly wrapped in a StatusError, when a group
// cannot be retrieved.
var ErrFetch = errors.New("http: fetch failed")

// ErrBodyTooLarge is returned when a response exceeds the configured body limit.
var ErrBodyTooLarge = errors.New("http: response body too large")

// StatusError reports a non-success HTTP response.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http: GET %s: %s", e.URL, e.Status)
}

// Unwrap makes a StatusError match ErrFetch.
func (e *StatusError) Unwrap() error { return ErrFetch }

// NotFound reports whether the archive host does not have the group.
func (e *StatusError) NotFound() bool { return e.StatusCode == nethttp.StatusNotFound }

// Fetcher retrieves raw groups from an archive host.
// It is safe for concurrent use.
type Fetcher struct {
	baseURL      string
	game         string
	cacheVersion int
	client       *nethttp.Client
	headers      nethttp.Header
	maxBodySize  int64
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClient sets the HTTP client used for requests.
func WithClient(client *nethttp.Client) Option {
	return func(f *Fetcher) {
		f.client = client
	}
}

// WithHeaders sets additional headers on each request.
func WithHeaders(headers nethttp.Header) Option {
	return func(f *Fetcher) {
		if headers == nil {
			return
		}
		f.headers = headers.Clone()
	}
}

// WithHeader sets a single header on each request.
func WithHeader(key, value string) Option {
	return func(f *Fetcher) {
		if f.headers == nil {
			f.headers = make(nethttp.Header)
		}
		f.headers.Set(key, value)
	}
}

// WithBaseURL sets the scheme and host of the archive, e.g. "https://archive.openrs2.org".
func WithBaseURL(url string) Option {
	return func(f *Fetcher) {
		f.baseURL = strings.TrimRight(url, "/")
	}
}

// WithGame sets the game path segment.
func WithGame(game string) Option {
	return func(f *Fetcher) {
		f.game = game
	}
}

// WithCacheVersion sets the cache version path segment.
func WithCacheVersion(version int) Option {
	return func(f *Fetcher) {
		f.cacheVersion = version
	}
}

// WithMaxBodySize limits response bodies to n bytes. Values <= 0 restore the default.
func WithMaxBodySize(n int64) Option {
	return func(f *Fetcher) {
		if n <= 0 {
			n = DefaultMaxBodySize
		}
		f.maxBodySize = n
	}
}

// NewFetcher creates a Fetcher for the default archive, adjusted by opts.
func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{
		baseURL:      DefaultBaseURL,
		game:         DefaultGame,
		cacheVersion: DefaultCacheVersion,
		client:       nethttp.DefaultClient,
		maxBodySize:  DefaultMaxBodySize,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = nethttp.DefaultClient
	}
	return f
}

// URL returns the address of a group.
func (f *Fetcher) URL(archive uint8, group uint32) string {
	return fmt.Sprintf("%s/caches/%s/%d/archives/%d/groups/%d.dat",
		f.baseURL, f.game, f.cacheVersion, archive, group)
}

// Fetch downloads the raw container bytes of a group.
//
// A non-2xx response returns a *StatusError. Transport failures wrap ErrFetch.
// If ctx is done, its error is returned instead.
func (f *Fetcher) Fetch(ctx context.Context, archive uint8, group uint32) ([]byte, error) {
	url := f.URL(archive, group)
	req, err := f.newRequest(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: GET %s: %w", ErrFetch, url, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // best-effort drain for connection reuse
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	data, err := sizing.ReadAllWithLimit(resp.Body, f.maxBodySize, ErrBodyTooLarge)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: GET %s: %w", ErrFetch, url, err)
	}
	return data, nil
}

// newRequest creates a GET request with configured headers.
func (f *Fetcher) newRequest(ctx context.Context, url string) (*nethttp.Request, error) {
	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodGet, url, nethttp.NoBody)
	if err != nil {
		return nil, err
	}
	for key, values := range f.headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "identity")
	}
	return req, nil
}
