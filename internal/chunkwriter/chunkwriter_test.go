package chunkwriter_test

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/chunkfs/chunkwriter/internal/chunktype"
	"github.com/chunkfs/chunkwriter/internal/chunkwriter"
	"github.com/chunkfs/chunkwriter/internal/connector"
	"github.com/chunkfs/chunkwriter/internal/executor"
	"github.com/chunkfs/chunkwriter/internal/journal"
	"github.com/chunkfs/chunkwriter/internal/locator"
	"github.com/chunkfs/chunkwriter/internal/wire"
)

const testBlockSize uint32 = 1024

// recordingServer plays a chunkserver for one chunk part: it accepts
// WRITE_INIT, records every WRITE_DATA frame it receives, and replies with
// a configurable status (StatusOK unless statusFor says otherwise).
type recordingServer struct {
	mu        sync.Mutex
	received  []wire.WriteData
	statusFor func(wire.WriteData) uint32
}

func (s *recordingServer) handle(conn connector.Conn) {
	defer conn.Close()

	typ, _, err := wire.ReadFrame(conn)
	if err != nil || typ != wire.FrameWriteInit {
		return
	}
	if err := wire.EncodeWriteInitStatus(conn, wire.WriteInitStatus{Status: wire.StatusOK}); err != nil {
		return
	}

	for {
		typ, body, err := wire.ReadFrame(conn)
		if err != nil {
			return
		}
		switch typ {
		case wire.FrameWriteData:
			wd, err := wire.DecodeWriteData(body)
			if err != nil {
				return
			}
			s.mu.Lock()
			s.received = append(s.received, wd)
			s.mu.Unlock()

			status := wire.StatusOK
			if s.statusFor != nil {
				status = s.statusFor(wd)
			}
			if err := wire.EncodeWriteStatus(conn, wire.WriteStatus{
				WriteID: wd.WriteID, ChunkID: 1, Status: status,
			}); err != nil {
				return
			}
		case wire.FrameWriteEnd:
			return
		default:
			return
		}
	}
}

func (s *recordingServer) writes() []wire.WriteData {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]wire.WriteData, len(s.received))
	copy(out, s.received)
	return out
}

// harness wires a ChunkWriter to an in-process fake chain: one
// recordingServer per part of layout.
type harness struct {
	cw      *chunkwriter.ChunkWriter
	loc     *locator.Fake
	servers map[chunktype.ChunkType]*recordingServer
}

func newHarness(t *testing.T, layout locator.Layout) *harness {
	t.Helper()
	return newHarnessWithID(t, 1, layout)
}

func newHarnessWithID(t *testing.T, chunkID uint64, layout locator.Layout) *harness {
	t.Helper()

	parts := layout.Parts()
	fake := connector.NewFakeServers()
	servers := make(map[chunktype.ChunkType]*recordingServer, len(parts))
	addrs := make(map[chunktype.ChunkType]string, len(parts))
	for _, part := range parts {
		addr := part.String() + "-addr"
		rs := &recordingServer{}
		servers[part] = rs
		addrs[part] = addr
		fake.Register(addr, rs.handle)
	}

	loc := locator.NewFake(layout, addrs, testBlockSize)

	conn, err := connector.NewLRUConnector(fake.Dial, 8, 8)
	if err != nil {
		t.Fatal(err)
	}

	cw := chunkwriter.New(chunkID, testBlockSize, conn, executor.NewStats())
	if err := cw.Init(context.Background(), loc, time.Second); err != nil {
		t.Fatalf("Init: %v", err)
	}

	return &harness{cw: cw, loc: loc, servers: servers}
}

func (h *harness) totalWrites() int {
	total := 0
	for _, rs := range h.servers {
		total += len(rs.writes())
	}
	return total
}

func xorAll(bs ...[]byte) []byte {
	n := 0
	for _, b := range bs {
		if len(b) > n {
			n = len(b)
		}
	}
	out := make([]byte, n)
	for _, b := range bs {
		for i, v := range b {
			out[i] ^= v
		}
	}
	return out
}

// Scenario 1: Standard chunk, single write.
func TestStandardSingleWrite(t *testing.T) {
	h := newHarness(t, locator.Layout{Standard: true})
	payload := bytes.Repeat([]byte("a"), 100)
	blk, err := journal.NewBlock(0, 0, payload, testBlockSize)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.cw.AddOperation(blk); err != nil {
		t.Fatal(err)
	}

	if err := h.cw.StartFlushMode(); err != nil {
		t.Fatal(err)
	}
	if err := h.cw.Finish(context.Background(), time.Second); err != nil {
		t.Fatal(err)
	}

	writes := h.servers[chunktype.Standard()].writes()
	if len(writes) != 1 {
		t.Fatalf("expected 1 WRITE_DATA, got %d", len(writes))
	}
	if !bytes.Equal(writes[0].Bytes, payload) {
		t.Fatalf("payload mismatch: got %q want %q", writes[0].Bytes, payload)
	}
	if writes[0].CRC != wire.Checksum(payload) {
		t.Fatalf("crc mismatch: got %d want %d", writes[0].CRC, wire.Checksum(payload))
	}
	if len(h.cw.ReleaseJournal()) != 0 {
		t.Fatal("expected empty journal after a successful finish")
	}
}

// Scenario 2: XOR-3, full stripe.
func TestXorFullStripe(t *testing.T) {
	h := newHarness(t, locator.Layout{Level: 3})
	p0 := bytes.Repeat([]byte{0x11}, 50)
	p1 := bytes.Repeat([]byte{0x22}, 50)
	p2 := bytes.Repeat([]byte{0x33}, 50)
	for i, payload := range [][]byte{p0, p1, p2} {
		blk, err := journal.NewBlock(uint32(i), 0, payload, testBlockSize)
		if err != nil {
			t.Fatal(err)
		}
		if err := h.cw.AddOperation(blk); err != nil {
			t.Fatal(err)
		}
	}

	if err := h.cw.StartNewOperations(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := h.cw.ProcessOperations(time.Second); err != nil {
		t.Fatal(err)
	}

	if got := h.totalWrites(); got != 4 {
		t.Fatalf("expected 4 WRITE_DATA frames, got %d", got)
	}
	parity := h.servers[chunktype.MustXorParity(3)].writes()
	if len(parity) != 1 {
		t.Fatalf("expected 1 parity write, got %d", len(parity))
	}
	if want := xorAll(p0, p1, p2); !bytes.Equal(parity[0].Bytes, want) {
		t.Fatalf("parity mismatch: got %x want %x", parity[0].Bytes, want)
	}
	if h.cw.GetPendingOperationsCount() != 0 {
		t.Fatal("expected the stripe to have fully completed")
	}
}

// Scenario 3: XOR-2, partial stripe at flush.
func TestXorPartialStripeAtFlush(t *testing.T) {
	h := newHarness(t, locator.Layout{Level: 2})
	p0 := bytes.Repeat([]byte{0x77}, 40)
	blk, err := journal.NewBlock(0, 0, p0, testBlockSize)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.cw.AddOperation(blk); err != nil {
		t.Fatal(err)
	}

	if err := h.cw.StartFlushMode(); err != nil {
		t.Fatal(err)
	}
	if err := h.cw.Finish(context.Background(), time.Second); err != nil {
		t.Fatal(err)
	}

	if got := h.totalWrites(); got != 3 {
		t.Fatalf("expected 3 WRITE_DATA frames (2 data + parity), got %d", got)
	}
	parity := h.servers[chunktype.MustXorParity(2)].writes()
	if len(parity) != 1 {
		t.Fatalf("expected 1 parity write, got %d", len(parity))
	}
	want := make([]byte, testBlockSize)
	copy(want, p0)
	if !bytes.Equal(parity[0].Bytes, want) {
		t.Fatalf("parity mismatch: got %x want %x", parity[0].Bytes, want)
	}
}

// Scenario 4: late-arriving expansion dispatches one FULL operation, not
// three partial ones.
func TestLateArrivingExpansion(t *testing.T) {
	h := newHarness(t, locator.Layout{Level: 3})
	blk0, err := journal.NewBlock(0, 0, []byte("aaa"), testBlockSize)
	if err != nil {
		t.Fatal(err)
	}
	blk1, err := journal.NewBlock(1, 0, []byte("bbb"), testBlockSize)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.cw.AddOperation(blk0); err != nil {
		t.Fatal(err)
	}
	if err := h.cw.AddOperation(blk1); err != nil {
		t.Fatal(err)
	}

	blk2, err := journal.NewBlock(2, 0, []byte("ccc"), testBlockSize)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.cw.AddOperation(blk2); err != nil {
		t.Fatal(err)
	}

	if err := h.cw.StartNewOperations(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := h.cw.GetPendingOperationsCount(); got != 1 {
		t.Fatalf("expected exactly one dispatched operation, got %d", got)
	}
	if err := h.cw.ProcessOperations(time.Second); err != nil {
		t.Fatal(err)
	}
	if got := h.totalWrites(); got != 4 {
		t.Fatalf("expected 4 WRITE_DATA frames from one FULL stripe, got %d", got)
	}
}

// Scenario 5: executor failure mid-stripe aborts the coordinator and
// preserves the journal.
func TestExecutorFailureMidStripeAborts(t *testing.T) {
	h := newHarness(t, locator.Layout{Level: 3})
	h.servers[chunktype.MustXor(3, 2)].statusFor = func(wire.WriteData) uint32 { return 5 }

	payloads := [][]byte{
		bytes.Repeat([]byte{0xAA}, 20),
		bytes.Repeat([]byte{0xBB}, 20),
		bytes.Repeat([]byte{0xCC}, 20),
	}
	for i, p := range payloads {
		blk, err := journal.NewBlock(uint32(i), 0, p, testBlockSize)
		if err != nil {
			t.Fatal(err)
		}
		if err := h.cw.AddOperation(blk); err != nil {
			t.Fatal(err)
		}
	}

	if err := h.cw.StartNewOperations(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := h.cw.ProcessOperations(time.Second); err == nil {
		t.Fatal("expected a server error to surface")
	}
	if h.cw.State() != chunkwriter.StateAborted {
		t.Fatalf("state = %v, want Aborted", h.cw.State())
	}
	blocks := h.cw.ReleaseJournal()
	if len(blocks) != 3 {
		t.Fatalf("expected 3 blocks preserved in the journal, got %d", len(blocks))
	}
}

// Scenario 6: two overlapping writes to the same block merge, last-writer-
// wins on the overlap, before a single Operation is dispatched.
func TestOverlappingWritesMergeBeforeDispatch(t *testing.T) {
	h := newHarness(t, locator.Layout{Standard: true})
	first, err := journal.NewBlock(0, 0, bytes.Repeat([]byte("a"), 100), testBlockSize)
	if err != nil {
		t.Fatal(err)
	}
	second, err := journal.NewBlock(0, 50, bytes.Repeat([]byte("b"), 100), testBlockSize)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.cw.AddOperation(first); err != nil {
		t.Fatal(err)
	}
	if err := h.cw.AddOperation(second); err != nil {
		t.Fatal(err)
	}

	if err := h.cw.StartFlushMode(); err != nil {
		t.Fatal(err)
	}
	if err := h.cw.Finish(context.Background(), time.Second); err != nil {
		t.Fatal(err)
	}

	writes := h.servers[chunktype.Standard()].writes()
	if len(writes) != 1 {
		t.Fatalf("expected exactly one merged WRITE_DATA, got %d", len(writes))
	}
	want := append(bytes.Repeat([]byte("a"), 50), bytes.Repeat([]byte("b"), 100)...)
	if !bytes.Equal(writes[0].Bytes, want) {
		t.Fatalf("merge mismatch: got %q want %q", writes[0].Bytes, want)
	}
}
