package journal_test

import (
	"testing"

	"github.com/chunkfs/chunkwriter/internal/chunkwritertest"
	"github.com/chunkfs/chunkwriter/internal/journal"
)

func TestBufferPoolReusesReleasedBuffers(t *testing.T) {
	pool := journal.NewBufferPool(2, blockSize)

	b1 := pool.Get()
	chunkwritertest.Equals(t, blockSize, len(b1.Data))
	b1.Release()

	b2 := pool.Get()
	chunkwritertest.Equals(t, blockSize, len(b2.Data))
}

func TestBufferPoolDropsOversizedBuffers(t *testing.T) {
	pool := journal.NewBufferPool(1, blockSize)
	b := pool.Get()
	b.Data = make([]byte, blockSize*2)
	b.Release()

	// the oversized buffer should not have been pooled; Get should
	// allocate a fresh, correctly sized one.
	got := pool.Get()
	if len(got.Data) != blockSize {
		t.Fatalf("len(Data) = %d, want %d", len(got.Data), blockSize)
	}
}
