package chunkwriter

import "github.com/chunkfs/chunkwriter/internal/journal"

// alignedBytes returns b's payload shifted right by its intra-block offset,
// zero-filled before it, so that XOR-ing two blocks at possibly different
// offsets combines matching byte positions rather than matching slice
// indices.
func alignedBytes(b journal.Block) []byte {
	if b.Offset == 0 {
		return b.Payload
	}
	out := make([]byte, int(b.Offset)+len(b.Payload))
	copy(out[b.Offset:], b.Payload)
	return out
}

// xorBlocks combines blocks via bitwise XOR. Shorter operands are treated
// as zero-extended up to the longest one, so the result's length is the
// longest input's length; an all-zero operand (e.g. a trailing repair read
// past the end of a fresh chunk) leaves the others untouched
// (parity = P0 XOR 0 == P0).
func xorBlocks(blocks ...[]byte) []byte {
	n := 0
	for _, b := range blocks {
		if len(b) > n {
			n = len(b)
		}
	}
	out := make([]byte, n)
	for _, b := range blocks {
		for i, v := range b {
			out[i] ^= v
		}
	}
	return out
}
