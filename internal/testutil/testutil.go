// Package testutil provides fixtures shared by package tests: in-memory
// caches, encoded archives and a fake archive server.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/js5/container"
	"github.com/meigma/js5/group"
	"github.com/meigma/js5/index"
)

// Game and CacheVersion are the path components served by ArchiveServer.
const (
	Game         = "runescape"
	CacheVersion = 2064
)

// MockCache implements a basic concurrency-safe cache for tests.
type MockCache struct {
	mu   sync.RWMutex
	data map[digest.Digest][]byte
	gets int
	puts int
}

// NewMockCache constructs an empty in-memory cache.
func NewMockCache() *MockCache {
	return &MockCache{data: make(map[digest.Digest][]byte)}
}

// Get returns cached bytes for key.
func (c *MockCache) Get(key digest.Digest) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	raw, ok := c.data[key]
	return raw, ok
}

// Put stores a copy of raw under key.
func (c *MockCache) Put(key digest.Digest, raw []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.puts++
	c.data[key] = append([]byte(nil), raw...)
	return nil
}

// Delete removes key.
func (c *MockCache) Delete(key digest.Digest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

// Counts returns the number of Get and Put calls so far.
func (c *MockCache) Counts() (gets, puts int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gets, c.puts
}

// Group describes a group to encode into a test archive.
type Group struct {
	ID uint32
	// FileIDs defaults to 0..len(Files)-1.
	FileIDs []uint32
	Files   [][]byte
	// Codec defaults to CodecNone.
	Codec container.Codec
	// Version is written to the index and, truncated, as the container revision.
	Version uint32
	// Chunks defaults to 1.
	Chunks int
}

// Archive is an encoded archive: its index and raw group containers.
type Archive struct {
	ID       uint8
	Index    *index.Index
	RawIndex []byte
	Groups   map[uint32][]byte
}

// BuildArchive encodes groups and an index describing them.
func BuildArchive(tb testing.TB, id uint8, groups ...Group) *Archive {
	tb.Helper()

	a := &Archive{
		ID:     id,
		Index:  &index.Index{Protocol: index.ProtocolVersioned, Version: 1},
		Groups: make(map[uint32][]byte, len(groups)),
	}
	for _, g := range groups {
		chunks := max(g.Chunks, 1)
		payload, err := group.Pack(g.Files, chunks)
		must(tb, err)
		raw, err := container.Encode(payload, g.Codec, container.EncodeWithRevision(uint16(g.Version))) //nolint:gosec // truncation is the wire format
		must(tb, err)
		covered, err := container.ChecksumRange(raw)
		must(tb, err)

		fileIDs := g.FileIDs
		if fileIDs == nil {
			fileIDs = make([]uint32, len(g.Files))
			for i := range fileIDs {
				fileIDs[i] = uint32(i) //nolint:gosec // test data is small
			}
		}
		a.Index.Groups = append(a.Index.Groups, index.GroupEntry{
			ID:       g.ID,
			Checksum: container.Checksum(covered),
			Version:  g.Version,
			FileIDs:  fileIDs,
		})
		a.Groups[g.ID] = raw
	}

	payload, err := index.Encode(a.Index)
	must(tb, err)
	a.RawIndex, err = container.Encode(payload, container.CodecGzip)
	must(tb, err)
	return a
}

// Checksum returns the index checksum of the raw index container.
func (a *Archive) Checksum(tb testing.TB) uint32 {
	tb.Helper()
	covered, err := container.ChecksumRange(a.RawIndex)
	must(tb, err)
	return container.Checksum(covered)
}

// ArchiveServer serves raw groups at the archive server's URL layout and
// records every request.
type ArchiveServer struct {
	*httptest.Server

	mu       sync.Mutex
	groups   map[string][]byte
	hits     map[string]int
	inFlight int
	peak     int
	gate     chan struct{}
}

// NewArchiveServer starts a server that is closed when the test ends.
func NewArchiveServer(tb testing.TB) *ArchiveServer {
	tb.Helper()
	s := &ArchiveServer{
		groups: make(map[string][]byte),
		hits:   make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	tb.Cleanup(s.Close)
	return s
}

// Put serves raw at (archive, group).
func (s *ArchiveServer) Put(archive uint8, grp uint32, raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[GroupPath(archive, grp)] = raw
}

// PutArchive serves every group of a and its index.
func (s *ArchiveServer) PutArchive(a *Archive) {
	s.Put(index.ArchiveID, uint32(a.ID), a.RawIndex)
	for id, raw := range a.Groups {
		s.Put(a.ID, id, raw)
	}
}

// Hold makes requests block until the returned release func is called.
func (s *ArchiveServer) Hold() (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.gate = gate
	s.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// Hits returns the number of requests for (archive, group).
func (s *ArchiveServer) Hits(archive uint8, grp uint32) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[GroupPath(archive, grp)]
}

// Requests returns the total number of requests served.
func (s *ArchiveServer) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, h := range s.hits {
		n += h
	}
	return n
}

// PeakInFlight returns the largest number of concurrent requests observed.
func (s *ArchiveServer) PeakInFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peak
}

func (s *ArchiveServer) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.hits[r.URL.Path]++
	s.inFlight++
	s.peak = max(s.peak, s.inFlight)
	raw, ok := s.groups[r.URL.Path]
	gate := s.gate
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()

	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(raw)
}

// GroupPath returns the request path of a group.
func GroupPath(archive uint8, grp uint32) string {
	return fmt.Sprintf("/caches/%s/%d/archives/%d/groups/%d.dat", Game, CacheVersion, archive, grp)
}
