package js5

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/meigma/js5/group"
	"github.com/meigma/js5/index"
	"github.com/meigma/js5/model"
)

// ArchiveOption configures an Archive opened by [Client.OpenArchive].
type ArchiveOption func(*archiveConfig)

type archiveConfig struct {
	checksum       *uint32
	groupCacheSize int
}

// WithIndexChecksum verifies the index container against checksum, as listed
// in the master index. Verified indexes are cached like any other group.
func WithIndexChecksum(checksum uint32) ArchiveOption {
	return func(cfg *archiveConfig) {
		cfg.checksum = &checksum
	}
}

// WithArchiveGroupCacheSize overrides the client's unpacked group cache size.
func WithArchiveGroupCacheSize(n int) ArchiveOption {
	return func(cfg *archiveConfig) {
		if n > 0 {
			cfg.groupCacheSize = n
		}
	}
}

// Archive reads groups listed in one archive index.
// An Archive is safe for concurrent use.
type Archive struct {
	client *Client
	id     uint8
	index  *index.Index
	logger *slog.Logger

	groups *lru.Cache[uint32, [][]byte]
	flight singleflight.Group
}

func newArchive(c *Client, id uint8, idx *index.Index, cfg archiveConfig) (*Archive, error) {
	groups, err := lru.New[uint32, [][]byte](cfg.groupCacheSize)
	if err != nil {
		return nil, err
	}
	return &Archive{
		client: c,
		id:     id,
		index:  idx,
		logger: c.logger.With("archive", id),
		groups: groups,
	}, nil
}

// ID returns the archive id.
func (a *Archive) ID() uint8 { return a.id }

// Index returns the decoded archive index. It must not be modified.
func (a *Archive) Index() *index.Index { return a.index }

// FileIDs returns the file ids of a group in index order.
func (a *Archive) FileIDs(grp uint32) ([]uint32, error) {
	entry, ok := a.index.Group(grp)
	if !ok {
		return nil, &GroupError{Archive: a.id, Group: grp, Err: ErrGroupNotFound}
	}
	return slices.Clone(entry.FileIDs), nil
}

// Group fetches, verifies and unpacks a group. Files are returned in the
// order of [Archive.FileIDs] and must not be modified.
//
// Concurrent calls for the same group share one load. Cancelling ctx only
// abandons this caller's wait.
func (a *Archive) Group(ctx context.Context, grp uint32) ([][]byte, error) {
	if files, ok := a.groups.Get(grp); ok {
		return files, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, groupError(a.id, grp, err)
	}
	shared := context.WithoutCancel(ctx)
	ch := a.flight.DoChan(strconv.FormatUint(uint64(grp), 10), func() (any, error) {
		if files, ok := a.groups.Get(grp); ok {
			return files, nil
		}
		files, err := a.loadGroup(shared, grp)
		if err != nil {
			return nil, err
		}
		a.groups.Add(grp, files)
		return files, nil
	})

	select {
	case <-ctx.Done():
		return nil, groupError(a.id, grp, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		files, _ := res.Val.([][]byte) //nolint:errcheck // the flight func only returns [][]byte
		return files, nil
	}
}

func (a *Archive) loadGroup(ctx context.Context, grp uint32) ([][]byte, error) {
	entry, ok := a.index.Group(grp)
	if !ok {
		return nil, &GroupError{Archive: a.id, Group: grp, Err: ErrGroupNotFound}
	}
	raw, err := a.client.FetchGroupChecked(ctx, a.id, grp, entry.Checksum)
	if err != nil {
		return nil, err
	}
	ct, err := a.client.DecodeGroup(raw)
	if err != nil {
		return nil, groupError(a.id, grp, err)
	}
	if ct.HasRevision && ct.Revision != uint16(entry.Version) { //nolint:gosec // revisions store the low 16 bits
		a.logger.Warn("group revision does not match index",
			"group", grp,
			"revision", ct.Revision,
			"version", entry.Version)
	}
	files, err := group.Unpack(ct.Payload, len(entry.FileIDs))
	if err != nil {
		return nil, groupError(a.id, grp, err)
	}
	return files, nil
}

// File returns one file of a group by file id.
func (a *Archive) File(ctx context.Context, grp, file uint32) ([]byte, error) {
	entry, ok := a.index.Group(grp)
	if !ok {
		return nil, &GroupError{Archive: a.id, Group: grp, Err: ErrGroupNotFound}
	}
	i, found := slices.BinarySearch(entry.FileIDs, file)
	if !found {
		return nil, &GroupError{Archive: a.id, Group: grp, Err: fmt.Errorf("%w: file %d", ErrFileNotFound, file)}
	}
	files, err := a.Group(ctx, grp)
	if err != nil {
		return nil, err
	}
	return files[i], nil
}

// Model decodes a file as model geometry.
func (a *Archive) Model(ctx context.Context, grp, file uint32) (*model.Model, error) {
	data, err := a.File(ctx, grp, file)
	if err != nil {
		return nil, err
	}
	m, err := model.Decode(data)
	if err != nil {
		return nil, &GroupError{Archive: a.id, Group: grp, Err: fmt.Errorf("file %d: %w", file, err)}
	}
	return m, nil
}

// Prefetch loads every group in the index, using at most the client's
// in-flight limit of workers. It stops at the first error.
//
// Verified containers land in the client cache; unpacked groups are kept in
// memory up to the archive's group cache size.
func (a *Archive) Prefetch(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(int(a.client.maxInFlight))
	for _, id := range a.index.GroupIDs() {
		eg.Go(func() error {
			_, err := a.Group(ctx, id)
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	a.logger.Debug("prefetched archive", "groups", len(a.index.Groups))
	return nil
}
