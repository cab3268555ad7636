package journal

// Buffer is a reusable block-sized buffer. Release puts it back into the
// BufferPool it came from once the coordinator is done with it (after the
// block has been copied into parity-generation scratch space or handed to
// a WriteExecutor's send buffer).
type Buffer struct {
	Data []byte
	pool *BufferPool
}

// Release returns the buffer to its pool. Buffers that have grown past the
// pool's default size are dropped instead of pooled, the same policy
// restic's archiver buffer pool uses for oversized chunker output.
func (b *Buffer) Release() {
	pool := b.pool
	if pool == nil || cap(b.Data) > pool.blockSize {
		return
	}
	select {
	case pool.ch <- b:
	default:
	}
}

// BufferPool is a bounded set of reusable block-sized buffers, used to
// avoid reallocating a blockSize-sized slice for every repair read or
// parity computation.
type BufferPool struct {
	ch        chan *Buffer
	blockSize int
}

// NewBufferPool returns a pool holding at most max buffers, each
// blockSize bytes by default.
func NewBufferPool(max, blockSize int) *BufferPool {
	return &BufferPool{
		ch:        make(chan *Buffer, max),
		blockSize: blockSize,
	}
}

// Get returns a buffer from the pool, or a freshly allocated one if the
// pool is empty.
func (p *BufferPool) Get() *Buffer {
	select {
	case buf := <-p.ch:
		buf.Data = buf.Data[:cap(buf.Data)]
		return buf
	default:
	}
	return &Buffer{
		Data: make([]byte, p.blockSize),
		pool: p,
	}
}
