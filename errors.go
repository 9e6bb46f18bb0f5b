package js5

import (
	"errors"
	"fmt"

	"github.com/meigma/js5/container"
	"github.com/meigma/js5/group"
	js5http "github.com/meigma/js5/http"
	"github.com/meigma/js5/index"
	"github.com/meigma/js5/internal/packet"
	"github.com/meigma/js5/model"
)

// Errors re-exported from the decoding packages.
var (
	// ErrOutOfBounds is returned when a read runs past the end of its input.
	ErrOutOfBounds = packet.ErrOutOfBounds

	// ErrUnsupportedCodec is returned for unknown container codec tags.
	ErrUnsupportedCodec = container.ErrUnsupportedCodec

	// ErrTruncatedContainer is returned when a container is shorter than its header declares.
	ErrTruncatedContainer = container.ErrTruncatedContainer

	// ErrCodec is returned when a compressed body is corrupt.
	ErrCodec = container.ErrCodec

	// ErrIntegrity is returned when decompressed output does not match its declared length.
	ErrIntegrity = container.ErrIntegrity

	// ErrChecksumMismatch is returned when a group does not match its index checksum.
	ErrChecksumMismatch = container.ErrChecksumMismatch

	// ErrMalformedIndex is returned when an archive index cannot be parsed.
	ErrMalformedIndex = index.ErrMalformedIndex

	// ErrMalformedGroup is returned when a group payload does not match its file count.
	ErrMalformedGroup = group.ErrMalformedGroup

	// ErrMalformedGeometry is returned when model data is inconsistent.
	ErrMalformedGeometry = model.ErrMalformedGeometry
)

// Errors re-exported from http.
var (
	// ErrFetch is returned when a group cannot be downloaded.
	ErrFetch = js5http.ErrFetch
)

var (
	// ErrGroupNotFound is returned when a group id is not listed in the archive index.
	ErrGroupNotFound = errors.New("js5: group not found")

	// ErrFileNotFound is returned when a file id is not listed for its group.
	ErrFileNotFound = errors.New("js5: file not found")
)

// GroupError records the group an operation failed on.
type GroupError struct {
	Archive uint8
	Group   uint32
	Err     error
}

func (e *GroupError) Error() string {
	return fmt.Sprintf("js5: archive %d group %d: %v", e.Archive, e.Group, e.Err)
}

func (e *GroupError) Unwrap() error { return e.Err }

func groupError(archive uint8, grp uint32, err error) error {
	var ge *GroupError
	if errors.As(err, &ge) && ge.Archive == archive && ge.Group == grp {
		return err
	}
	return &GroupError{Archive: archive, Group: grp, Err: err}
}
