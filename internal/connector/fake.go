package connector

import (
	"context"
	"net"

	"github.com/chunkfs/chunkwriter/internal/errors"
)

// FakeServers backs an in-process Dialer: dialing an address looks up a
// registered handler and hands back one side of a net.Pipe, with the
// handler driving the other side as a simulated
// chunkserver. Used by tests and cmd/chunkwriterdemo.
type FakeServers struct {
	factories map[string]func(Conn)
}

// NewFakeServers returns an empty server registry.
func NewFakeServers() *FakeServers {
	return &FakeServers{factories: make(map[string]func(Conn))}
}

// Register installs a handler that will run (in its own goroutine) for
// every connection dialed to addr, playing the role of that chunkserver.
func (s *FakeServers) Register(addr string, handle func(Conn)) {
	s.factories[addr] = handle
}

// Dial implements Dialer against the registered handlers.
func (s *FakeServers) Dial(_ context.Context, addr string) (Conn, error) {
	handle, ok := s.factories[addr]
	if !ok {
		return nil, errors.Errorf("connector: no fake server registered for %q", addr)
	}
	client, server := net.Pipe()
	go handle(server)
	return client, nil
}
