// Package connector opens and caches the chained connection through the
// servers that hold one chunk's parts. The coordinator treats the returned
// handle opaquely: it only needs one byte stream per part to hand to a
// WriteExecutor.
package connector

import (
	"context"
	"io"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/chunkfs/chunkwriter/internal/chunktype"
	"github.com/chunkfs/chunkwriter/internal/debug"
	"github.com/chunkfs/chunkwriter/internal/domainerr"
	"github.com/chunkfs/chunkwriter/internal/locator"
)

// Conn is one byte stream to one chunkserver. Real implementations are a
// net.Conn; tests and the demo command use in-process pipes.
type Conn interface {
	io.Reader
	io.Writer
	io.Closer
}

// Dialer opens one connection to addr. A chain is built by dialing each
// server in locations.Servers independently; whether that fans out to N
// sockets or multiplexes over fewer is an implementation choice the
// coordinator never observes.
type Dialer func(ctx context.Context, addr string) (Conn, error)

// Handle is the opaque result of ConnectChain: one Conn per chunk part.
type Handle struct {
	Conns map[chunktype.ChunkType]Conn
	key   string
}

// ChunkConnector is the contract the coordinator drives (spec §4.4).
type ChunkConnector interface {
	ConnectChain(ctx context.Context, locations locator.Locations, timeout time.Duration) (*Handle, error)
	ReleaseChain(handle *Handle) error
}

// LRUConnector dials chains on demand and caches idle ones in an LRU,
// keyed by the sorted server addresses that make up the chain, the same
// way restic's internal/blobcache/internal/bloblru cache blob contents by
// content-addressed key — here the key is the chain's address fingerprint
// instead of a blob id.
type LRUConnector struct {
	dial  Dialer
	idle  *lru.Cache[string, *Handle]
	limit *semaphore
}

// NewLRUConnector returns a connector that keeps at most cacheSize idle
// chains around for reuse and allows at most maxConcurrent chains to be
// in the process of connecting at once.
func NewLRUConnector(dial Dialer, cacheSize int, maxConcurrent uint) (*LRUConnector, error) {
	idle, err := lru.NewWithEvict[string, *Handle](cacheSize, func(_ string, h *Handle) {
		closeHandle(h)
	})
	if err != nil {
		return nil, err
	}
	limit, err := newSemaphore(maxConcurrent)
	if err != nil {
		return nil, err
	}
	return &LRUConnector{dial: dial, idle: idle, limit: limit}, nil
}

func chainKey(locations locator.Locations) string {
	addrs := make([]string, 0, len(locations.Servers))
	for part, addr := range locations.Servers {
		addrs = append(addrs, part.String()+"="+addr)
	}
	sort.Strings(addrs)
	return strings.Join(addrs, ";")
}

// ConnectChain returns a Handle fanning out to every server in locations,
// reusing a cached idle chain with a matching fingerprint if one exists.
func (c *LRUConnector) ConnectChain(ctx context.Context, locations locator.Locations, timeout time.Duration) (*Handle, error) {
	key := chainKey(locations)
	if cached, ok := c.idle.Get(key); ok {
		c.idle.Remove(key)
		debug.Log("connector: reusing cached chain for %s", key)
		return cached, nil
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	c.limit.acquire()
	defer c.limit.release()

	conns := make(map[chunktype.ChunkType]Conn, len(locations.Servers))
	for part, addr := range locations.Servers {
		select {
		case <-ctx.Done():
			closeAll(conns)
			return nil, &domainerr.Timeout{Op: "ConnectChain"}
		default:
		}
		conn, err := c.dial(ctx, addr)
		if err != nil {
			closeAll(conns)
			return nil, &domainerr.Unreachable{Server: addr}
		}
		conns[part] = conn
	}

	debug.Log("connector: connected new chain for %s", key)
	return &Handle{Conns: conns, key: key}, nil
}

// ReleaseChain returns the chain to the idle cache for reuse, evicting (and
// closing) the least-recently-used chain if the cache is full.
func (c *LRUConnector) ReleaseChain(handle *Handle) error {
	if handle == nil {
		return nil
	}
	c.idle.Add(handle.key, handle)
	return nil
}

// Close tears down every idle cached chain.
func (c *LRUConnector) Close() {
	c.idle.Purge()
}

func closeAll(conns map[chunktype.ChunkType]Conn) {
	for _, c := range conns {
		_ = c.Close()
	}
}

func closeHandle(h *Handle) {
	if h == nil {
		return
	}
	closeAll(h.Conns)
}
