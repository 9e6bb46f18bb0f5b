package js5

import (
	"errors"
	"log/slog"
	nethttp "net/http"

	"github.com/meigma/js5/cache"
	"github.com/meigma/js5/cache/disk"
	"github.com/meigma/js5/container"
	js5http "github.com/meigma/js5/http"
)

// Option configures a Client.
type Option func(*Client) error

const (
	// DefaultMaxInFlight bounds concurrent group downloads.
	DefaultMaxInFlight = 20

	// DefaultGroupCacheSize is the number of unpacked groups each Archive keeps in memory.
	DefaultGroupCacheSize = 256

	// DefaultDiskCacheSize bounds the cache created by WithCacheDir.
	DefaultDiskCacheSize int64 = 512 << 20 // 512 MB
)

// --- Transport Options ---

// WithFetcher replaces the HTTP fetcher. Transport options are ignored when
// a fetcher is set.
func WithFetcher(f Fetcher) Option {
	return func(c *Client) error {
		if f == nil {
			return errors.New("fetcher is nil")
		}
		c.fetcher = f
		return nil
	}
}

// WithHTTPClient sets the HTTP client used by the default fetcher.
func WithHTTPClient(client *nethttp.Client) Option {
	return func(c *Client) error {
		c.httpOpts = append(c.httpOpts, js5http.WithClient(client))
		return nil
	}
}

// WithBaseURL sets the archive server base URL.
func WithBaseURL(url string) Option {
	return func(c *Client) error {
		if url == "" {
			return errors.New("base URL is empty")
		}
		c.httpOpts = append(c.httpOpts, js5http.WithBaseURL(url))
		return nil
	}
}

// WithGame sets the game name path component.
func WithGame(game string) Option {
	return func(c *Client) error {
		c.httpOpts = append(c.httpOpts, js5http.WithGame(game))
		return nil
	}
}

// WithCacheVersion sets the cache version path component.
func WithCacheVersion(version int) Option {
	return func(c *Client) error {
		if version < 0 {
			return errors.New("cache version must be non-negative")
		}
		c.httpOpts = append(c.httpOpts, js5http.WithCacheVersion(version))
		return nil
	}
}

// WithMaxInFlight sets the maximum number of concurrent downloads.
// Defaults to [DefaultMaxInFlight].
func WithMaxInFlight(n int) Option {
	return func(c *Client) error {
		if n < 1 {
			return errors.New("max in-flight must be at least 1")
		}
		c.maxInFlight = int64(n)
		return nil
	}
}

// --- Caching Options ---

// WithCacheDir caches verified raw groups on disk in dir, limited to
// [DefaultDiskCacheSize].
func WithCacheDir(dir string) Option {
	return func(c *Client) error {
		dc, err := disk.New(dir, disk.WithMaxBytes(DefaultDiskCacheSize))
		if err != nil {
			return err
		}
		c.cache = dc
		return nil
	}
}

// WithCache sets a custom raw group cache.
// Use github.com/meigma/js5/cache/disk or github.com/meigma/js5/cache/memory.
func WithCache(cache cache.Cache) Option {
	return func(c *Client) error {
		c.cache = cache
		return nil
	}
}

// WithGroupCacheSize sets the default number of unpacked groups each
// Archive keeps in memory.
func WithGroupCacheSize(n int) Option {
	return func(c *Client) error {
		if n < 1 {
			return errors.New("group cache size must be at least 1")
		}
		c.groupCacheSize = n
		return nil
	}
}

// --- Decoding Options ---

// WithMaxPayloadSize limits the declared decompressed size of groups.
func WithMaxPayloadSize(n int) Option {
	return func(c *Client) error {
		if n < 1 {
			return errors.New("max payload size must be at least 1")
		}
		c.decoderOpts = append(c.decoderOpts, container.WithMaxPayloadSize(n))
		return nil
	}
}

// WithLZMA enables decoding of LZMA (tag 3) groups, which are rejected
// with [ErrUnsupportedCodec] by default.
func WithLZMA(enabled bool) Option {
	return func(c *Client) error {
		c.decoderOpts = append(c.decoderOpts, container.WithLZMA(enabled))
		return nil
	}
}

// --- Logging ---

// WithLogger sets the logger. Logging is discarded by default.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		if logger == nil {
			return errors.New("logger is nil")
		}
		c.logger = logger
		return nil
	}
}
