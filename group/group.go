// Package group splits decoded group payloads into their files.
//
// A group holding more than one file stores the files interleaved in chunks,
// followed by a table of per-chunk file sizes and a final chunk count byte:
//
//	chunk 0: file 0 part, file 1 part, ...
//	chunk 1: ...
//	sizes:   chunks x files int32, delta-coded within each chunk
//	chunks:  1 byte
package group

import (
	"errors"
	"fmt"
	"math"

	"github.com/meigma/js5/internal/packet"
	"github.com/meigma/js5/internal/sizing"
)

// ErrMalformedGroup is returned when a group payload does not match its file count.
var ErrMalformedGroup = errors.New("group: malformed group")

// Unpack splits payload into fileCount files. The returned files do not
// alias payload.
func Unpack(payload []byte, fileCount int) ([][]byte, error) {
	switch {
	case fileCount < 0:
		return nil, fmt.Errorf("%w: negative file count %d", ErrMalformedGroup, fileCount)
	case fileCount == 0:
		return nil, nil
	case fileCount == 1:
		return [][]byte{append([]byte{}, payload...)}, nil
	}

	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload for %d files", ErrMalformedGroup, fileCount)
	}
	chunks := int(payload[len(payload)-1])
	tableSize := chunks * fileCount * 4
	tableStart := len(payload) - 1 - tableSize
	if tableStart < 0 {
		return nil, fmt.Errorf("%w: size table of %d chunks x %d files exceeds %d bytes",
			ErrMalformedGroup, chunks, fileCount, len(payload))
	}

	sizes, totals, err := readSizes(payload[tableStart:len(payload)-1], chunks, fileCount, tableStart)
	if err != nil {
		return nil, err
	}

	files := make([][]byte, fileCount)
	for i := range files {
		files[i] = make([]byte, 0, totals[i])
	}
	data := packet.NewCursor(payload[:tableStart])
	for chunk := range chunks {
		for i := range fileCount {
			part, err := data.Bytes(sizes[chunk*fileCount+i])
			if err != nil {
				return nil, fmt.Errorf("%w: chunk %d file %d: %w", ErrMalformedGroup, chunk, i, err)
			}
			files[i] = append(files[i], part...)
		}
	}
	if data.Remaining() != 0 {
		return nil, fmt.Errorf("%w: %d unused bytes before size table", ErrMalformedGroup, data.Remaining())
	}
	return files, nil
}

// readSizes resolves the delta-coded size table into per-chunk part sizes
// and per-file totals. The sizes must add up to at most available bytes.
func readSizes(table []byte, chunks, fileCount, available int) ([]int, []int, error) {
	c := packet.NewCursor(table)
	sizes := make([]int, chunks*fileCount)
	totals := make([]int, fileCount)
	var sum int
	for chunk := range chunks {
		var size int64
		for i := range fileCount {
			delta, err := c.I32()
			if err != nil {
				return nil, nil, fmt.Errorf("%w: size table: %w", ErrMalformedGroup, err)
			}
			size += int64(delta)
			if size < 0 || size > math.MaxInt32 {
				return nil, nil, fmt.Errorf("%w: chunk %d file %d has size %d", ErrMalformedGroup, chunk, i, size)
			}
			var ok bool
			if sum, ok = sizing.AddInt(sum, int(size)); !ok || sum > available {
				return nil, nil, fmt.Errorf("%w: chunk sizes exceed %d data bytes", ErrMalformedGroup, available)
			}
			sizes[chunk*fileCount+i] = int(size)
			totals[i] += int(size)
		}
	}
	return sizes, totals, nil
}

// Pack joins files into a group payload of the given number of chunks.
// Each file is split as evenly as possible across the chunks.
func Pack(files [][]byte, chunks int) ([]byte, error) {
	switch {
	case len(files) == 1:
		return append([]byte{}, files[0]...), nil
	case len(files) == 0:
		return nil, fmt.Errorf("%w: no files", ErrMalformedGroup)
	case chunks < 1 || chunks > math.MaxUint8:
		return nil, fmt.Errorf("%w: chunk count %d", ErrMalformedGroup, chunks)
	}

	data := packet.NewWriter(0)
	table := packet.NewWriter(chunks * len(files) * 4)
	offsets := make([]int, len(files))
	for chunk := range chunks {
		var prev int
		for i, f := range files {
			end := len(f) * (chunk + 1) / chunks
			part := f[offsets[i]:end]
			offsets[i] = end
			data.PBytes(part)
			if len(part) > math.MaxInt32 || prev > math.MaxInt32 {
				return nil, fmt.Errorf("%w: file %d too large", ErrMalformedGroup, i)
			}
			table.P4(uint32(int32(len(part) - prev))) //nolint:gosec // range checked above
			prev = len(part)
		}
	}
	data.PBytes(table.Bytes())
	data.P1(uint8(chunks))
	return data.Bytes(), nil
}
