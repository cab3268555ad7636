// Package locator defines the contract for resolving a chunk's storage
// servers and holding the master-side write lock on it. The concrete
// implementation talking to a real master-server metadata service is
// outside this module's scope (see spec §1); this package only defines the
// interface the coordinator drives and one in-memory reference
// implementation (Fake) used by tests and the demo command.
package locator

import (
	"context"
	"time"

	"github.com/chunkfs/chunkwriter/internal/chunktype"
)

// Layout describes the effective ChunkType family for a chunk: either
// standard (unstriped) or XOR at a given level, with parts {1..Level,
// parity}.
type Layout struct {
	Standard bool
	Level    uint8 // 0 when Standard is true
}

// Parts enumerates the ChunkType values this layout is made of.
func (l Layout) Parts() []chunktype.ChunkType {
	if l.Standard {
		return []chunktype.ChunkType{chunktype.Standard()}
	}
	parts := make([]chunktype.ChunkType, 0, l.Level+1)
	for p := uint8(1); p <= l.Level; p++ {
		parts = append(parts, chunktype.MustXor(l.Level, p))
	}
	return append(parts, chunktype.MustXorParity(l.Level))
}

// Locations is the result of resolving a chunk's storage servers: the
// chunk's current version, its layout, and which server address holds each
// part.
type Locations struct {
	Version uint32
	Layout  Layout
	Servers map[chunktype.ChunkType]string
}

// Locator resolves the servers that host each part of a chunk and manages
// the chunk's master-side write lock on behalf of the coordinator.
type Locator interface {
	// Locations returns the current server mapping and chunk version.
	Locations(ctx context.Context) (Locations, error)

	// LockForWrite acquires a master-side write lock on the chunk. It
	// fails with a *domainerr.Timeout or *domainerr.Locked error. A
	// timeout of 0 means "try once, non-blocking".
	LockForWrite(ctx context.Context, timeout time.Duration) error

	// Unlock releases the lock acquired by LockForWrite. It must be
	// called at most once after a successful LockForWrite.
	Unlock(ctx context.Context) error

	// ChunkLayout returns the effective ChunkType family for this chunk.
	ChunkLayout(ctx context.Context) (Layout, error)

	// ReadBlock performs a repair read of one data block from the
	// already-persisted chunk contents, used to complete a partial
	// stripe before computing parity. Which server to read from is the
	// locator's policy, not the coordinator's (spec §4.3/§9).
	ReadBlock(ctx context.Context, blockIndex uint32, part chunktype.ChunkType) ([]byte, error)
}
