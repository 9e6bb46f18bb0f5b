package js5

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/meigma/js5/cache"
	"github.com/meigma/js5/container"
	js5http "github.com/meigma/js5/http"
	"github.com/meigma/js5/index"
	"github.com/meigma/js5/model"
)

// Fetcher downloads raw group containers.
//
// [js5http.Fetcher] is the default implementation.
type Fetcher interface {
	Fetch(ctx context.Context, archive uint8, group uint32) ([]byte, error)
}

// Client fetches and decodes groups from an archive server.
//
// A Client is safe for concurrent use. Concurrent requests for the same group
// share one download, and at most [WithMaxInFlight] downloads run at once.
type Client struct {
	fetcher  Fetcher
	httpOpts []js5http.Option

	cache       cache.Cache // raw containers, keyed by cache.Key
	decoderOpts []container.Option
	decoder     *container.Decoder
	logger      *slog.Logger

	maxInFlight    int64
	groupCacheSize int

	inFlight *semaphore.Weighted
	flight   singleflight.Group
}

// NewClient creates a client for the default archive server, adjusted by opts.
func NewClient(opts ...Option) (*Client, error) {
	c := &Client{
		logger:         slog.New(slog.DiscardHandler),
		maxInFlight:    DefaultMaxInFlight,
		groupCacheSize: DefaultGroupCacheSize,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.fetcher == nil {
		c.fetcher = js5http.NewFetcher(c.httpOpts...)
	}
	c.decoder = container.NewDecoder(c.decoderOpts...)
	c.inFlight = semaphore.NewWeighted(c.maxInFlight)
	return c, nil
}

// FetchGroup downloads the raw container of a group.
//
// Concurrent calls for the same group share one request. The shared request
// is not tied to any one caller: a caller whose ctx ends gets its context
// error while the others keep waiting. The result is not cached; use
// [Client.FetchGroupChecked] when the expected checksum is known.
func (c *Client) FetchGroup(ctx context.Context, archive uint8, grp uint32) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, groupError(archive, grp, err)
	}
	key := fmt.Sprintf("%d/%d", archive, grp)
	shared := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(key, func() (any, error) {
		if err := c.inFlight.Acquire(shared, 1); err != nil {
			return nil, err
		}
		defer c.inFlight.Release(1)

		c.logger.Debug("fetching group", "archive", archive, "group", grp)
		return c.fetcher.Fetch(shared, archive, grp)
	})

	select {
	case <-ctx.Done():
		return nil, groupError(archive, grp, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			c.logger.Debug("fetch failed", "archive", archive, "group", grp, "error", res.Err)
			return nil, groupError(archive, grp, res.Err)
		}
		raw, _ := res.Val.([]byte) //nolint:errcheck // the flight func only returns []byte
		if res.Shared {
			raw = append([]byte(nil), raw...)
		}
		return raw, nil
	}
}

// FetchGroupChecked returns the raw container of a group after verifying it
// against the CRC-32 recorded in the archive index.
//
// Verified containers are stored in the configured cache. Cached entries
// that fail verification are discarded and fetched again.
func (c *Client) FetchGroupChecked(ctx context.Context, archive uint8, grp, checksum uint32) ([]byte, error) {
	key := cache.Key(archive, grp, checksum)
	if c.cache != nil {
		if raw, ok := c.cache.Get(key); ok {
			if err := verifyGroup(raw, checksum); err == nil {
				return raw, nil
			}
			c.logger.Warn("discarding corrupt cache entry", "archive", archive, "group", grp)
			_ = c.cache.Delete(key) //nolint:errcheck // refetched below
		}
	}

	raw, err := c.FetchGroup(ctx, archive, grp)
	if err != nil {
		return nil, err
	}
	if err := verifyGroup(raw, checksum); err != nil {
		return nil, groupError(archive, grp, err)
	}
	if c.cache != nil {
		if err := c.cache.Put(key, raw); err != nil {
			c.logger.Warn("caching group failed", "archive", archive, "group", grp, "error", err)
		}
	}
	return raw, nil
}

// DecodeGroup decodes a raw group container with the client's decoder.
func (c *Client) DecodeGroup(raw []byte) (*container.Container, error) {
	return c.decoder.Decode(raw)
}

// OpenArchive fetches and decodes the index of an archive.
func (c *Client) OpenArchive(ctx context.Context, archive uint8, opts ...ArchiveOption) (*Archive, error) {
	cfg := archiveConfig{groupCacheSize: c.groupCacheSize}
	for _, opt := range opts {
		opt(&cfg)
	}

	var (
		raw []byte
		err error
	)
	if cfg.checksum != nil {
		raw, err = c.FetchGroupChecked(ctx, index.ArchiveID, uint32(archive), *cfg.checksum)
	} else {
		raw, err = c.FetchGroup(ctx, index.ArchiveID, uint32(archive))
	}
	if err != nil {
		return nil, err
	}

	ct, err := c.decoder.Decode(raw)
	if err != nil {
		return nil, groupError(index.ArchiveID, uint32(archive), err)
	}
	idx, err := index.Decode(ct.Payload)
	if err != nil {
		return nil, groupError(index.ArchiveID, uint32(archive), err)
	}
	c.logger.Debug("opened archive",
		"archive", archive,
		"protocol", idx.Protocol,
		"version", idx.Version,
		"groups", len(idx.Groups))
	return newArchive(c, archive, idx, cfg)
}

// DecodeModel decodes a model from a raw group container holding one file.
func DecodeModel(raw []byte) (*model.Model, error) {
	ct, err := container.Decode(raw)
	if err != nil {
		return nil, err
	}
	return model.Decode(ct.Payload)
}

func verifyGroup(raw []byte, checksum uint32) error {
	covered, err := container.ChecksumRange(raw)
	if err != nil {
		return err
	}
	return container.VerifyChecksum(covered, checksum)
}
