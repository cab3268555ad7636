// Package journal holds the ordered sequence of buffered writes for one
// chunk (the "journal"), addressed by stable positions that survive
// insertion and merging, plus the reusable buffer pool backing their
// payloads.
package journal

import (
	"github.com/chunkfs/chunkwriter/internal/errors"
)

// Block is one addressable unit of buffered data: a chunk-relative block
// index, the byte range within that block, and the payload itself.
//
// Invariant: Offset+Length <= blockSize and len(Payload) == Length. Blocks
// are not shared; once moved into an Operation's dispatch buffers the
// owning journal Position is considered consumed.
type Block struct {
	BlockIndex uint32
	Offset     uint32
	Payload    []byte
}

// Length returns the number of payload bytes, i.e. the byte range's length.
func (b Block) Length() uint32 {
	return uint32(len(b.Payload))
}

// End returns the offset one past the block's last byte within BlockIndex.
func (b Block) End() uint32 {
	return b.Offset + b.Length()
}

// NewBlock constructs a Block, validating that offset+len(payload) fits
// within blockSize.
func NewBlock(blockIndex uint32, offset uint32, payload []byte, blockSize uint32) (Block, error) {
	if offset+uint32(len(payload)) > blockSize {
		return Block{}, errors.Errorf(
			"journal: block %d: offset %d + length %d exceeds block size %d",
			blockIndex, offset, len(payload), blockSize)
	}
	return Block{BlockIndex: blockIndex, Offset: offset, Payload: payload}, nil
}

// adjacentOrOverlapping reports whether the byte range [offset, offset+len) touches or
// overlaps b's range, i.e. whether they can be merged into one contiguous
// or overlapping run.
func (b Block) adjacentOrOverlapping(offset, length uint32) bool {
	end := offset + length
	return offset <= b.End() && end >= b.Offset
}

// Merge combines `other` into b, which must have the same BlockIndex.
// Overlapping bytes use last-writer-wins semantics: wherever other's range
// overlaps b's, other's bytes replace b's. The ranges must be adjacent or
// overlapping; merging disjoint ranges is a caller error.
func (b Block) Merge(other Block, blockSize uint32) (Block, error) {
	if b.BlockIndex != other.BlockIndex {
		return Block{}, errors.Errorf(
			"journal: cannot merge block %d into block %d", other.BlockIndex, b.BlockIndex)
	}
	if !b.adjacentOrOverlapping(other.Offset, other.Length()) {
		return Block{}, errors.Errorf(
			"journal: block %d ranges [%d,%d) and [%d,%d) are not adjacent or overlapping",
			b.BlockIndex, b.Offset, b.End(), other.Offset, other.End())
	}

	start := b.Offset
	if other.Offset < start {
		start = other.Offset
	}
	end := b.End()
	if other.End() > end {
		end = other.End()
	}

	merged := make([]byte, end-start)
	copy(merged[b.Offset-start:], b.Payload)
	// other is the later writer: its bytes win on the overlap.
	copy(merged[other.Offset-start:], other.Payload)

	return NewBlock(b.BlockIndex, start, merged, blockSize)
}
