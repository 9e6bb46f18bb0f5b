// Package cache stores raw group containers fetched from an archive server.
//
// Entries are keyed by a digest of the group coordinates and the CRC-32 the
// index records for the group. A group whose CRC changes upstream therefore
// maps to a new key, and stale entries are left for the cache to evict.
package cache

import (
	"fmt"

	"github.com/opencontainers/go-digest"
)

// Cache provides storage for raw (still encoded) group containers.
//
// Implementations should handle their own size limits and eviction policies.
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get returns the cached container for key.
	// Returns nil, false if the container is not cached.
	Get(key digest.Digest) ([]byte, bool)

	// Put stores the container under key.
	Put(key digest.Digest, raw []byte) error

	// Delete removes the container for key.
	// Implementations should treat missing entries as a no-op.
	Delete(key digest.Digest) error
}

// Key returns the cache key for a group container with the given checksum.
func Key(archive uint8, group, checksum uint32) digest.Digest {
	return digest.FromString(fmt.Sprintf("js5/%d/%d/%08x", archive, group, checksum))
}
