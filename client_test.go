package js5_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/js5"
	"github.com/meigma/js5/cache"
	"github.com/meigma/js5/cache/memory"
	"github.com/meigma/js5/container"
	js5http "github.com/meigma/js5/http"
	"github.com/meigma/js5/internal/testutil"
	"github.com/meigma/js5/model"
)

func newTestClient(t *testing.T, srv *testutil.ArchiveServer, opts ...js5.Option) *js5.Client {
	t.Helper()
	opts = append([]js5.Option{js5.WithBaseURL(srv.URL)}, opts...)
	c, err := js5.NewClient(opts...)
	require.NoError(t, err)
	return c
}

func TestFetchGroup(t *testing.T) {
	t.Parallel()

	srv := testutil.NewArchiveServer(t)
	raw := []byte{0x00, 0x00, 0x00, 0x00, 0x04, 0x01, 0x02, 0x03, 0x04}
	srv.Put(2, 10, raw)
	c := newTestClient(t, srv)

	got, err := c.FetchGroup(context.Background(), 2, 10)
	require.NoError(t, err)
	assert.Equal(t, raw, got)
	assert.Equal(t, 1, srv.Hits(2, 10))

	ct, err := c.DecodeGroup(got)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, ct.Payload)
}

func TestFetchGroupNotFound(t *testing.T) {
	t.Parallel()

	srv := testutil.NewArchiveServer(t)
	c := newTestClient(t, srv)

	_, err := c.FetchGroup(context.Background(), 3, 99)
	require.ErrorIs(t, err, js5.ErrFetch)

	var ge *js5.GroupError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, uint8(3), ge.Archive)
	assert.Equal(t, uint32(99), ge.Group)

	var se *js5http.StatusError
	require.ErrorAs(t, err, &se)
	assert.True(t, se.NotFound())
}

func TestFetchGroupCanceled(t *testing.T) {
	t.Parallel()

	srv := testutil.NewArchiveServer(t)
	srv.Put(0, 0, []byte{0, 0, 0, 0, 0})
	c := newTestClient(t, srv)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.FetchGroup(ctx, 0, 0)
	require.ErrorIs(t, err, context.Canceled)
}

func TestFetchGroupDeduplicates(t *testing.T) {
	t.Parallel()

	srv := testutil.NewArchiveServer(t)
	raw := []byte{0x00, 0x00, 0x00, 0x00, 0x01, 0x2A}
	srv.Put(1, 1, raw)
	release := srv.Hold()
	t.Cleanup(release)
	c := newTestClient(t, srv)

	const callers = 10
	var wg sync.WaitGroup
	results := make([][]byte, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = c.FetchGroup(context.Background(), 1, 1)
		}()
	}

	require.Eventually(t, func() bool { return srv.Requests() == 1 }, 5*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, srv.Requests(), "concurrent fetches of one group should share a request")

	release()
	wg.Wait()
	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, raw, results[i])
	}
	// Shared results are copies.
	results[0][0] = 0xFF
	assert.Equal(t, byte(0), results[1][0])
}

func TestFetchGroupCancelOnlyAffectsCaller(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	c, err := js5.NewClient(js5.WithFetcher(fetcherFunc(func(ctx context.Context, _ uint8, _ uint32) ([]byte, error) {
		once.Do(func() { close(started) })
		select {
		case <-release:
			return []byte{0, 0, 0, 0, 1, 7}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})))
	require.NoError(t, err)

	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	errA := make(chan error, 1)
	go func() {
		_, err := c.FetchGroup(ctxA, 2, 7)
		errA <- err
	}()
	<-started

	type result struct {
		raw []byte
		err error
	}
	resB := make(chan result, 1)
	go func() {
		raw, err := c.FetchGroup(context.Background(), 2, 7)
		resB <- result{raw, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelA()
	require.ErrorIs(t, <-errA, context.Canceled)

	close(release)
	b := <-resB
	require.NoError(t, b.err, "a live caller must not see another caller's cancellation")
	assert.Equal(t, []byte{0, 0, 0, 0, 1, 7}, b.raw)
}

func TestFetchGroupMaxInFlight(t *testing.T) {
	t.Parallel()

	srv := testutil.NewArchiveServer(t)
	for g := range uint32(5) {
		srv.Put(4, g, []byte{0, 0, 0, 0, 0})
	}
	release := srv.Hold()
	t.Cleanup(release)
	c := newTestClient(t, srv, js5.WithMaxInFlight(2))

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for g := range uint32(5) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[g] = c.FetchGroup(context.Background(), 4, g)
		}()
	}

	require.Eventually(t, func() bool { return srv.Requests() == 2 }, 5*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, srv.Requests())

	release()
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 5, srv.Requests())
	assert.LessOrEqual(t, srv.PeakInFlight(), 2)
}

func TestFetchGroupChecked(t *testing.T) {
	t.Parallel()

	a := testutil.BuildArchive(t, 6, testutil.Group{ID: 3, Files: [][]byte{[]byte("data")}, Codec: container.CodecGzip, Version: 2})
	raw := a.Groups[3]
	crc := a.Index.Groups[0].Checksum

	srv := testutil.NewArchiveServer(t)
	srv.PutArchive(a)
	mc := testutil.NewMockCache()
	c := newTestClient(t, srv, js5.WithCache(mc))
	ctx := context.Background()

	got, err := c.FetchGroupChecked(ctx, 6, 3, crc)
	require.NoError(t, err)
	assert.Equal(t, raw, got)
	got, err = c.FetchGroupChecked(ctx, 6, 3, crc)
	require.NoError(t, err)
	assert.Equal(t, raw, got)
	assert.Equal(t, 1, srv.Hits(6, 3), "second read should come from the cache")

	_, err = c.FetchGroupChecked(ctx, 6, 3, crc^1)
	require.ErrorIs(t, err, js5.ErrChecksumMismatch)
	_, ok := mc.Get(cache.Key(6, 3, crc^1))
	assert.False(t, ok, "unverified groups must not be cached")
}

func TestFetchGroupCheckedMemoryCacheIsolation(t *testing.T) {
	t.Parallel()

	a := testutil.BuildArchive(t, 6, testutil.Group{ID: 3, Files: [][]byte{[]byte("data")}})
	crc := a.Index.Groups[0].Checksum
	srv := testutil.NewArchiveServer(t)
	srv.PutArchive(a)
	mc, err := memory.New(8)
	require.NoError(t, err)
	c := newTestClient(t, srv, js5.WithCache(mc))
	ctx := context.Background()

	_, err = c.FetchGroupChecked(ctx, 6, 3, crc)
	require.NoError(t, err)
	cached, err := c.FetchGroupChecked(ctx, 6, 3, crc)
	require.NoError(t, err)
	cached[len(cached)-1] ^= 0xFF

	again, err := c.FetchGroupChecked(ctx, 6, 3, crc)
	require.NoError(t, err)
	assert.Equal(t, a.Groups[3], again)
	assert.Equal(t, 1, srv.Hits(6, 3))
}

func TestFetchGroupCheckedDiscardsCorruptCacheEntry(t *testing.T) {
	t.Parallel()

	a := testutil.BuildArchive(t, 6, testutil.Group{ID: 3, Files: [][]byte{[]byte("data")}})
	crc := a.Index.Groups[0].Checksum

	srv := testutil.NewArchiveServer(t)
	srv.PutArchive(a)
	mc := testutil.NewMockCache()
	require.NoError(t, mc.Put(cache.Key(6, 3, crc), []byte{0, 0, 0, 0, 1, 0xEE}))
	c := newTestClient(t, srv, js5.WithCache(mc))

	got, err := c.FetchGroupChecked(context.Background(), 6, 3, crc)
	require.NoError(t, err)
	assert.Equal(t, a.Groups[3], got)
	assert.Equal(t, 1, srv.Hits(6, 3))

	cached, ok := mc.Get(cache.Key(6, 3, crc))
	require.True(t, ok)
	assert.Equal(t, a.Groups[3], cached)
}

func TestNewClientOptions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opt  js5.Option
	}{
		{"zero in-flight", js5.WithMaxInFlight(0)},
		{"empty base url", js5.WithBaseURL("")},
		{"negative cache version", js5.WithCacheVersion(-1)},
		{"nil logger", js5.WithLogger(nil)},
		{"nil fetcher", js5.WithFetcher(nil)},
		{"zero group cache", js5.WithGroupCacheSize(0)},
		{"zero payload size", js5.WithMaxPayloadSize(0)},
		{"empty cache dir", js5.WithCacheDir("")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := js5.NewClient(tt.opt)
			require.Error(t, err)
		})
	}
}

type fetcherFunc func(ctx context.Context, archive uint8, group uint32) ([]byte, error)

func (f fetcherFunc) Fetch(ctx context.Context, archive uint8, group uint32) ([]byte, error) {
	return f(ctx, archive, group)
}

func TestWithFetcher(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	c, err := js5.NewClient(js5.WithFetcher(fetcherFunc(func(context.Context, uint8, uint32) ([]byte, error) {
		return nil, boom
	})))
	require.NoError(t, err)

	_, err = c.FetchGroup(context.Background(), 1, 2)
	require.ErrorIs(t, err, boom)
	assert.EqualError(t, err, "js5: archive 1 group 2: boom")
}

func TestWithCacheDir(t *testing.T) {
	t.Parallel()

	a := testutil.BuildArchive(t, 9, testutil.Group{ID: 0, Files: [][]byte{[]byte("x")}, Codec: container.CodecBzip2})
	crc := a.Index.Groups[0].Checksum
	srv := testutil.NewArchiveServer(t)
	srv.PutArchive(a)
	dir := t.TempDir()

	for range 2 {
		c := newTestClient(t, srv, js5.WithCacheDir(dir))
		_, err := c.FetchGroupChecked(context.Background(), 9, 0, crc)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, srv.Hits(9, 0), "second client should read the disk cache")
}

func TestDecodeModel(t *testing.T) {
	t.Parallel()

	payload := testutil.BuildModel(t, testutil.TestModel{
		Format:   model.FormatLegacy,
		Vertices: []model.Vertex{{X: 1}, {X: 1, Y: 1}, {X: 1, Y: 1, Z: 1}},
		Faces:    []model.Face{{A: 0, B: 1, C: 2}},
		Colours:  []uint16{7},
	})
	raw, err := container.Encode(payload, container.CodecGzip)
	require.NoError(t, err)

	m, err := js5.DecodeModel(raw)
	require.NoError(t, err)
	assert.Equal(t, []model.Face{{A: 0, B: 1, C: 2}}, m.Faces)

	_, err = js5.DecodeModel(raw[:len(raw)-1])
	require.ErrorIs(t, err, js5.ErrTruncatedContainer)
}
