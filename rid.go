package fastbit

import (
	"fmt"
	"io"

	"github.com/google/uuid"
)

// RID is the fixed-size, opaque row identifier used to distinguish rows
// across partitions (spec GLOSSARY). A uuid.UUID is exactly the 16-byte
// value the spec describes, so it is used directly rather than inventing
// a parallel fixed-size array type.
type RID = uuid.UUID

// NewRID returns a fresh, randomly generated RID.
func NewRID() RID {
	return uuid.New()
}

// WriteRIDs appends a contiguous array of RIDs to w, the wire format of
// the "rids file" in spec §6.
func WriteRIDs(w io.Writer, rids []RID) error {
	buf := make([]byte, len(rids)*16)
	for i, r := range rids {
		copy(buf[i*16:(i+1)*16], r[:])
	}
	_, err := w.Write(buf)
	if err != nil {
		return fmt.Errorf("fastbit: write rids: %w", err)
	}
	return nil
}

// ReadRIDs reads n RIDs from r.
func ReadRIDs(r io.Reader, n int) ([]RID, error) {
	buf := make([]byte, n*16)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("%w: read rids: %v", ErrIOError, err)
	}
	rids := make([]RID, n)
	for i := range rids {
		copy(rids[i][:], buf[i*16:(i+1)*16])
	}
	return rids, nil
}

// ridAt reads the i'th RID out of a rids file via ReaderAt, used by
// ReadRIDAtFromDir to read a single RID without loading the whole file
// (spec §4.7).
func ridAt(r io.ReaderAt, i int64) (RID, error) {
	var buf [16]byte
	if _, err := r.ReadAt(buf[:], i*16); err != nil {
		return RID{}, fmt.Errorf("%w: read rid at %d: %v", ErrIOError, i, err)
	}
	var rid RID
	copy(rid[:], buf[:])
	return rid, nil
}

// ridRangeOffsets computes the byte range [lo*16, hi*16) for rids
// [lo, hi) in a rids file.
func ridRangeOffsets(lo, hi uint32) (int64, int64) {
	return int64(lo) * 16, int64(hi) * 16
}
