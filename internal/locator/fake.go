package locator

import (
	"context"
	"sync"
	"time"

	"github.com/chunkfs/chunkwriter/internal/chunktype"
	"github.com/chunkfs/chunkwriter/internal/domainerr"
)

// Fake is an in-memory Locator used by tests and the demo command. It
// models a single chunk: a fixed layout, a fixed server mapping, a
// single-holder lock, and a simple byte-addressed store used to answer
// ReadBlock (so repair reads during flush return whatever has "already
// landed" on a simulated chunkserver, or zeros for never-written regions).
type Fake struct {
	ChunkID   uint64
	BlockSize uint32

	mu       sync.Mutex
	version  uint32
	layout   Layout
	servers  map[chunktype.ChunkType]string
	locked   bool
	persisted map[chunktype.ChunkType]map[uint32][]byte // part -> blockIndex -> data
}

// NewFake returns a Fake locator for a chunk with the given layout. servers
// must have one entry per part in layout.Parts().
func NewFake(layout Layout, servers map[chunktype.ChunkType]string, blockSize uint32) *Fake {
	return &Fake{
		BlockSize: blockSize,
		version:   1,
		layout:    layout,
		servers:   servers,
		persisted: make(map[chunktype.ChunkType]map[uint32][]byte),
	}
}

func (f *Fake) Locations(_ context.Context) (Locations, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[chunktype.ChunkType]string, len(f.servers))
	for k, v := range f.servers {
		out[k] = v
	}
	return Locations{Version: f.version, Layout: f.layout, Servers: out}, nil
}

func (f *Fake) LockForWrite(_ context.Context, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.locked {
		return &domainerr.Locked{ChunkID: f.ChunkID}
	}
	f.locked = true
	return nil
}

func (f *Fake) Unlock(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locked = false
	return nil
}

func (f *Fake) ChunkLayout(_ context.Context) (Layout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.layout, nil
}

// ReadBlock returns previously recorded bytes for (part, blockIndex), or a
// full zeroed block when nothing was ever persisted there (the trailing,
// never-written region of a fresh chunk).
func (f *Fake) ReadBlock(_ context.Context, blockIndex uint32, part chunktype.ChunkType) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if byBlock, ok := f.persisted[part]; ok {
		if data, ok := byBlock[blockIndex]; ok {
			out := make([]byte, f.BlockSize)
			copy(out, data)
			return out, nil
		}
	}
	return make([]byte, f.BlockSize), nil
}

// Persist records bytes as already durable for (part, blockIndex), so a
// subsequent ReadBlock observes them. Used by tests to emulate "the chunk
// already holds that block" in spec §4.6.
func (f *Fake) Persist(part chunktype.ChunkType, blockIndex uint32, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	byBlock, ok := f.persisted[part]
	if !ok {
		byBlock = make(map[uint32][]byte)
		f.persisted[part] = byBlock
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	byBlock[blockIndex] = cp
}
