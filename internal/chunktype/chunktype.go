// Package chunktype implements the ChunkType algebra: the 8-bit tag that
// describes whether a chunk is stored as one whole ("standard") object or
// striped across an XOR-N layout with L data parts plus one parity part.
package chunktype

import (
	"fmt"

	"github.com/chunkfs/chunkwriter/internal/domainerr"
)

// validLevels are the XOR stripe widths the wire encoding recognizes. An
// implementer targeting bit-exact interop with a specific deployment would
// need to reproduce its id packing; this is a greenfield, injective
// encoding within the 8-bit tag (see spec's open questions on this point).
var validLevels = []uint8{2, 3, 4, 6, 7, 10}

// ChunkType is a single 8-bit tag packing the layout variant. It is
// comparable and usable as a map key.
type ChunkType struct {
	tag uint8
}

// levelBase maps a recognized level to the tag assigned to its first data
// part (part 1). Parity for that level is levelBase(level)+level, and data
// part P is levelBase(level)+P-1.
var levelBase = map[uint8]uint8{}

func init() {
	next := uint8(1) // 0 is reserved for Standard
	for _, level := range validLevels {
		levelBase[level] = next
		next += level + 1 // level data ids + one parity id
	}
}

// Standard returns the ChunkType for a chunk stored as one whole object.
func Standard() ChunkType {
	return ChunkType{tag: 0}
}

// Xor returns the ChunkType for data part `part` (1-indexed) of an XOR-level
// chunk.
func Xor(level, part uint8) (ChunkType, error) {
	base, ok := levelBase[level]
	if !ok {
		return ChunkType{}, fmt.Errorf("chunktype: unrecognized XOR level %d", level)
	}
	if part < 1 || part > level {
		return ChunkType{}, fmt.Errorf("chunktype: part %d out of range for level %d", part, level)
	}
	return ChunkType{tag: base + part - 1}, nil
}

// MustXor is Xor but panics on error; useful for tests and constant tables.
func MustXor(level, part uint8) ChunkType {
	ct, err := Xor(level, part)
	if err != nil {
		panic(err)
	}
	return ct
}

// XorParity returns the ChunkType for the parity part of an XOR-level
// chunk.
func XorParity(level uint8) (ChunkType, error) {
	base, ok := levelBase[level]
	if !ok {
		return ChunkType{}, fmt.Errorf("chunktype: unrecognized XOR level %d", level)
	}
	return ChunkType{tag: base + level}, nil
}

// MustXorParity is XorParity but panics on error.
func MustXorParity(level uint8) ChunkType {
	ct, err := XorParity(level)
	if err != nil {
		panic(err)
	}
	return ct
}

// Decode deserializes a wire byte into a ChunkType, rejecting unrecognized
// tags with domainerr.BadEncoding.
func Decode(b byte) (ChunkType, error) {
	if !Validate(b) {
		return ChunkType{}, &domainerr.BadEncoding{Tag: b}
	}
	return ChunkType{tag: b}, nil
}

// Validate reports whether tag is a recognized ChunkType id: 0 (standard)
// or one of the ids assigned to a recognized XOR level's data/parity parts.
func Validate(tag uint8) bool {
	if tag == 0 {
		return true
	}
	for _, level := range validLevels {
		base := levelBase[level]
		if tag >= base && tag <= base+level {
			return true
		}
	}
	return false
}

// Encode serializes the ChunkType to its single wire byte.
func (ct ChunkType) Encode() byte {
	return ct.tag
}

// IsStandard reports whether ct is the standard (unstriped) layout.
func (ct ChunkType) IsStandard() bool {
	return ct.tag == 0
}

// IsXor reports whether ct is any XOR data or parity part.
func (ct ChunkType) IsXor() bool {
	return ct.tag != 0
}

// IsParity reports whether ct is the parity part of an XOR-level chunk.
func (ct ChunkType) IsParity() bool {
	if ct.tag == 0 {
		return false
	}
	level, part := ct.decompose()
	return level != 0 && part == 0
}

// Level returns the XOR stripe width, or 0 for the standard layout.
func (ct ChunkType) Level() uint8 {
	level, _ := ct.decompose()
	return level
}

// Part returns the 1-indexed data part number, or 0 if ct is standard or
// the parity part.
func (ct ChunkType) Part() uint8 {
	_, part := ct.decompose()
	return part
}

// decompose returns (level, part) where part == 0 denotes parity (or
// standard, when level is also 0).
func (ct ChunkType) decompose() (level, part uint8) {
	if ct.tag == 0 {
		return 0, 0
	}
	for _, lvl := range validLevels {
		base := levelBase[lvl]
		if ct.tag < base || ct.tag > base+lvl {
			continue
		}
		offset := ct.tag - base
		if offset == lvl {
			return lvl, 0 // parity
		}
		return lvl, offset + 1
	}
	return 0, 0
}

// StripeSize returns L for XOR layouts, 1 for the standard layout.
func (ct ChunkType) StripeSize() uint32 {
	if ct.IsStandard() {
		return 1
	}
	return uint32(ct.Level())
}

// ProjectLength converts a chunk-global length N (bytes) into the length of
// this part's on-disk object, given the fixed system block size B.
//
// Standard chunks pass the length through unchanged. For XOR layouts, N is
// sliced into stripes of L*B: every full stripe contributes exactly one
// block (B bytes) to every data part and to the parity part; the trailing
// partial stripe contributes a clamped remainder to the parts it actually
// touches.
func (ct ChunkType) ProjectLength(n uint64, blockSize uint32) uint64 {
	if ct.IsStandard() {
		return n
	}
	level := uint64(ct.Level())
	b := uint64(blockSize)
	stripeBytes := level * b

	full := n / stripeBytes
	base := full * b
	rest := n - full*stripeBytes

	var restLen uint64
	if ct.IsParity() {
		if rest > 0 {
			restLen = rest
			if restLen > b {
				restLen = b
			}
		}
	} else {
		offset := uint64(ct.Part()-1) * b
		if rest > offset {
			restLen = rest - offset
			if restLen > b {
				restLen = b
			}
		}
	}
	return base + restLen
}

// String yields a stable, human-readable form: "standard", "xor_<p>_of_<L>"
// or "xor_parity_of_<L>".
func (ct ChunkType) String() string {
	if ct.IsStandard() {
		return "standard"
	}
	level, part := ct.decompose()
	if part == 0 {
		return fmt.Sprintf("xor_parity_of_%d", level)
	}
	return fmt.Sprintf("xor_%d_of_%d", part, level)
}

// Less provides a total order on the 8-bit tag, matching the original's
// operator< so ChunkType sorts and compares deterministically.
func Less(a, b ChunkType) bool {
	return a.tag < b.tag
}
