// Package sizing provides safe size arithmetic and bounded reads.
package sizing

import (
	"io"
	"math"
)

// ToInt converts a uint32 length field to int, returning overflowErr if it
// does not fit or exceeds limit. A limit of 0 disables the limit check.
func ToInt(size uint32, limit int, overflowErr error) (int, error) {
	if uint64(size) > uint64(math.MaxInt) {
		return 0, overflowErr
	}
	if limit > 0 && int(size) > limit {
		return 0, overflowErr
	}
	return int(size), nil
}

// AddInt adds two non-negative ints, returning (result, false) on overflow.
func AddInt(a, b int) (int, bool) {
	if a < 0 || b < 0 {
		return 0, false
	}
	if a > math.MaxInt-b {
		return 0, false
	}
	return a + b, true
}

// ReadAllWithLimit reads up to maxSize bytes from r.
// Returns overflowErr if more than maxSize bytes are available.
func ReadAllWithLimit(r io.Reader, maxSize int64, overflowErr error) ([]byte, error) {
	if maxSize < 0 || maxSize > math.MaxInt64-1 {
		return nil, overflowErr
	}
	lr := &io.LimitedReader{R: r, N: maxSize + 1}
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxSize {
		return nil, overflowErr
	}
	return data, nil
}
