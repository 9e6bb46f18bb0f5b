package http_test

import (
	"bytes"
	"context"
	"errors"
	nethttp "net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	js5http "github.com/meigma/js5/http"
)

func TestFetcher_URL(t *testing.T) {
	t.Parallel()

	f := js5http.NewFetcher()
	want := "https://archive.openrs2.org/caches/runescape/2064/archives/7/groups/1234.dat"
	if got := f.URL(7, 1234); got != want {
		t.Fatalf("URL() = %q, want %q", got, want)
	}

	f = js5http.NewFetcher(
		js5http.WithBaseURL("http://mirror.local/"),
		js5http.WithGame("oldschool"),
		js5http.WithCacheVersion(99),
	)
	want = "http://mirror.local/caches/oldschool/99/archives/255/groups/0.dat"
	if got := f.URL(255, 0); got != want {
		t.Fatalf("URL() = %q, want %q", got, want)
	}
}

func TestFetcher_Fetch(t *testing.T) {
	t.Parallel()

	data := []byte{0x00, 0x00, 0x00, 0x00, 0x01, 0x2A}
	var gotPath, gotHeader atomic.Value
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		gotPath.Store(r.URL.Path)
		gotHeader.Store(r.Header.Get("X-Test"))
		_, _ = w.Write(data)
	}))
	t.Cleanup(server.Close)

	f := js5http.NewFetcher(js5http.WithBaseURL(server.URL), js5http.WithHeader("X-Test", "yes"))
	got, err := f.Fetch(context.Background(), 2, 10)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("Fetch() = %x, want %x", got, data)
	}
	if p := gotPath.Load(); p != "/caches/runescape/2064/archives/2/groups/10.dat" {
		t.Fatalf("path = %v", p)
	}
	if h := gotHeader.Load(); h != "yes" {
		t.Fatalf("X-Test header = %v", h)
	}
}

func TestFetcher_StatusError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		nethttp.Error(w, "missing", nethttp.StatusNotFound)
	}))
	t.Cleanup(server.Close)

	f := js5http.NewFetcher(js5http.WithBaseURL(server.URL))
	got, err := f.Fetch(context.Background(), 2, 10)
	if got != nil {
		t.Fatalf("Fetch() returned %d bytes on error", len(got))
	}
	if !errors.Is(err, js5http.ErrFetch) {
		t.Fatalf("Fetch() error = %v, want ErrFetch", err)
	}
	var statusErr *js5http.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("Fetch() error = %T, want *StatusError", err)
	}
	if statusErr.StatusCode != nethttp.StatusNotFound || !statusErr.NotFound() {
		t.Fatalf("StatusCode = %d", statusErr.StatusCode)
	}
}

func TestFetcher_BodyLimit(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		_, _ = w.Write(make([]byte, 128))
	}))
	t.Cleanup(server.Close)

	f := js5http.NewFetcher(js5http.WithBaseURL(server.URL), js5http.WithMaxBodySize(64))
	_, err := f.Fetch(context.Background(), 0, 0)
	if !errors.Is(err, js5http.ErrBodyTooLarge) || !errors.Is(err, js5http.ErrFetch) {
		t.Fatalf("Fetch() error = %v, want ErrBodyTooLarge wrapped in ErrFetch", err)
	}
}

func TestFetcher_TransportError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(nethttp.NotFoundHandler())
	url := server.URL
	server.Close()

	f := js5http.NewFetcher(js5http.WithBaseURL(url))
	_, err := f.Fetch(context.Background(), 0, 0)
	if !errors.Is(err, js5http.ErrFetch) {
		t.Fatalf("Fetch() error = %v, want ErrFetch", err)
	}
}

func TestFetcher_Canceled(t *testing.T) {
	t.Parallel()

	var requests atomic.Int32
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		requests.Add(1)
		_, _ = w.Write([]byte{0})
	}))
	t.Cleanup(server.Close)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := js5http.NewFetcher(js5http.WithBaseURL(server.URL))
	_, err := f.Fetch(ctx, 0, 0)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Fetch() error = %v, want context.Canceled", err)
	}
	if n := requests.Load(); n != 0 {
		t.Fatalf("server saw %d requests after cancellation", n)
	}
}
