package chunkwriter

import (
	"math"

	"github.com/chunkfs/chunkwriter/internal/chunktype"
	"github.com/chunkfs/chunkwriter/internal/journal"
)

// OperationID identifies one submitted Operation for the lifetime of its
// ChunkWriter. 0 is never assigned, mirroring WriteId's reserved zero.
type OperationID uint32

// Operation is one stripe-aligned batch of buffered blocks: from the
// moment its first block is buffered, through expansion by later adjacent
// blocks, to dispatch and final completion. It is immutable once
// submitted.
type Operation struct {
	id          OperationID
	stripeIndex uint32
	stripeSize  uint32 // L for XOR layouts, 1 for Standard

	parts map[chunktype.ChunkType]journal.Position

	offsetOfStart uint64
	offsetOfEnd   uint64

	submitted        bool
	unfinishedWrites int

	// scratch holds repair-read buffers borrowed from the ChunkWriter's
	// buffer pool for this Operation's dispatch; they are returned to the
	// pool once the Operation completes. Parity is allocated separately.
	scratch []*journal.Buffer
}

func newOperation(stripeIndex, stripeSize uint32) *Operation {
	return &Operation{
		stripeIndex:   stripeIndex,
		stripeSize:    stripeSize,
		parts:         make(map[chunktype.ChunkType]journal.Position),
		offsetOfStart: math.MaxUint64,
	}
}

// touch extends op's byte range to cover block b at chunk-relative
// blockIndex, using blockSize to translate b's intra-block range to an
// absolute chunk offset.
func (op *Operation) touch(blockIndex uint32, b journal.Block, blockSize uint32) {
	start := uint64(blockIndex)*uint64(blockSize) + uint64(b.Offset)
	end := uint64(blockIndex)*uint64(blockSize) + uint64(b.End())
	if start < op.offsetOfStart {
		op.offsetOfStart = start
	}
	if end > op.offsetOfEnd {
		op.offsetOfEnd = end
	}
}

// isFull reports whether every data part of the stripe row has a buffered
// block: only FULL Operations may be dispatched in XOR layouts without a
// repair read.
func (op *Operation) isFull() bool {
	return uint32(len(op.parts)) >= op.stripeSize
}

// isExpandPossible reports whether op may still absorb a new block for
// part: the candidate must share this stripe's width, not already hold
// `part`, and not have been submitted yet. The stripe row match itself is
// checked by the caller before isExpandPossible is consulted.
func (op *Operation) isExpandPossible(part chunktype.ChunkType, stripeSize uint32) bool {
	if op.submitted {
		return false
	}
	if op.stripeSize != stripeSize {
		return false
	}
	_, alreadyHeld := op.parts[part]
	return !alreadyHeld
}

// collidesWith reports whether op and other must not be dispatched
// concurrently: at least one of the pair must be FULL and their chunk
// byte ranges must overlap.
func (op *Operation) collidesWith(other *Operation) bool {
	if !op.isFull() && !other.isFull() {
		return false
	}
	return rangesOverlap(op.offsetOfStart, op.offsetOfEnd, other.offsetOfStart, other.offsetOfEnd)
}

func rangesOverlap(aStart, aEnd, bStart, bEnd uint64) bool {
	return aStart < bEnd && bStart < aEnd
}
