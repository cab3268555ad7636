// Package executor implements the per-server WRITE_INIT/WRITE_DATA/
// WRITE_END state machine (spec §4.5): one WriteExecutor per chunkserver in
// the write chain.
package executor

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/chunkfs/chunkwriter/internal/debug"
	"github.com/chunkfs/chunkwriter/internal/domainerr"
	"github.com/chunkfs/chunkwriter/internal/errors"
	"github.com/chunkfs/chunkwriter/internal/wire"
)

// State is a WriteExecutor's lifecycle stage.
type State int

const (
	StateInitial State = iota
	StateRunning
	StateDraining
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Status is one reconciled WRITE_STATUS event, handed back to the
// coordinator by Poll.
type Status struct {
	WriteID uint32
	Err     error // nil on success
}

// Conn is the byte stream an executor drives; connector.Conn satisfies it,
// as does any net.Conn.
type Conn interface {
	io.Reader
	io.Writer
	io.Closer
}

type deadliner interface {
	SetReadDeadline(time.Time) error
	SetWriteDeadline(time.Time) error
}

// WriteExecutor drives one chunkserver connection through WRITE_INIT,
// buffered WRITE_DATA frames, and WRITE_END. WriteIds it allocates are
// unique for the executor's lifetime and never 0 (0 is reserved for
// WRITE_INIT).
type WriteExecutor struct {
	Server string

	conn        Conn
	state       State
	nextWriteID uint32
	sendQueue   []queuedWrite
	outstanding map[uint32]uint16 // writeId -> blockIndex, for stats/debugging
	stats       *Stats
}

type queuedWrite struct {
	writeID       uint32
	blockIndex    uint16
	offsetInBlock uint32
	bytes         []byte
}

// New returns a WriteExecutor for one chunkserver connection, in
// StateInitial.
func New(server string, conn Conn, stats *Stats) *WriteExecutor {
	return &WriteExecutor{
		Server:      server,
		conn:        conn,
		state:       StateInitial,
		nextWriteID: 1, // 0 is reserved for WRITE_INIT
		outstanding: make(map[uint32]uint16),
		stats:       stats,
	}
}

// State returns the executor's current lifecycle stage.
func (e *WriteExecutor) State() State {
	return e.state
}

// Init sends WRITE_INIT and waits for WRITE_INIT_STATUS, transitioning to
// StateRunning on success.
func (e *WriteExecutor) Init(ctx context.Context, chunkID uint64, version uint32, chunkType uint8, chain []string, deadline time.Duration) error {
	if e.state != StateInitial {
		return &domainerr.InvalidState{Reason: "Init called outside StateInitial"}
	}

	e.setDeadlines(deadline)
	if err := wire.EncodeWriteInit(e.conn, wire.WriteInit{
		ChunkID: chunkID, Version: version, ChunkType: chunkType, Chain: chain,
	}); err != nil {
		e.state = StateFailed
		e.recordFailure()
		return errors.Wrap(err, "executor: sending WRITE_INIT")
	}

	typ, body, err := wire.ReadFrame(e.conn)
	if err != nil {
		e.state = StateFailed
		e.recordFailure()
		return classifyReadErr(err)
	}
	if typ != wire.FrameWriteInitStatus {
		e.state = StateFailed
		return &domainerr.ProtocolViolation{Reason: "expected WRITE_INIT_STATUS, got " + typ.String()}
	}
	status, err := wire.DecodeWriteInitStatus(body)
	if err != nil {
		e.state = StateFailed
		return errors.Wrap(err, "executor: decoding WRITE_INIT_STATUS")
	}
	if status.Status != wire.StatusOK {
		e.state = StateFailed
		e.recordFailure()
		return &domainerr.ServerError{Server: e.Server, Code: status.Status}
	}

	e.state = StateRunning
	debug.Log("executor[%s]: running", e.Server)
	return nil
}

// allocateID returns the next WriteId, which is never 0.
func (e *WriteExecutor) allocateID() uint32 {
	e.nextWriteID++
	return e.nextWriteID - 1
}

// EnqueueWrite appends a WRITE_DATA frame to the send buffer and returns
// its WriteId immediately; the frame is not necessarily on the wire until
// the next Poll.
func (e *WriteExecutor) EnqueueWrite(blockIndex uint16, offsetInBlock uint32, data []byte) (uint32, error) {
	if e.state != StateRunning {
		return 0, &domainerr.InvalidState{Reason: "EnqueueWrite called outside StateRunning"}
	}
	id := e.allocateID()
	e.sendQueue = append(e.sendQueue, queuedWrite{
		writeID: id, blockIndex: blockIndex, offsetInBlock: offsetInBlock, bytes: data,
	})
	e.outstanding[id] = blockIndex
	return id, nil
}

// Poll advances I/O for up to `deadline`: flushes queued WRITE_DATA frames
// and parses whatever WRITE_STATUS frames have arrived, in no particular
// order relative to enqueue.
func (e *WriteExecutor) Poll(deadline time.Duration) ([]Status, error) {
	if e.state != StateRunning && e.state != StateDraining {
		return nil, &domainerr.InvalidState{Reason: "Poll called outside StateRunning/StateDraining"}
	}

	if err := e.flush(deadline); err != nil {
		e.state = StateFailed
		return nil, err
	}

	return e.drainStatuses(deadline)
}

func (e *WriteExecutor) flush(deadline time.Duration) error {
	if len(e.sendQueue) == 0 {
		return nil
	}
	e.setWriteDeadline(deadline)
	for _, qw := range e.sendQueue {
		err := wire.EncodeWriteData(e.conn, wire.WriteData{
			WriteID: qw.writeID, BlockIndex: qw.blockIndex,
			OffsetInBlock: qw.offsetInBlock, Bytes: qw.bytes,
		})
		if err != nil {
			e.recordFailure()
			return classifyReadErr(err)
		}
		if e.stats != nil {
			e.stats.RecordWrite(e.Server, len(qw.bytes))
		}
	}
	e.sendQueue = e.sendQueue[:0]
	return nil
}

func (e *WriteExecutor) drainStatuses(deadline time.Duration) ([]Status, error) {
	e.setReadDeadline(deadline)
	var out []Status
	for {
		typ, body, err := wire.ReadFrame(e.conn)
		if err != nil {
			if isTimeout(err) {
				return out, nil
			}
			e.state = StateFailed
			e.recordFailure()
			return out, classifyReadErr(err)
		}
		if typ != wire.FrameWriteStatus {
			e.state = StateFailed
			return out, &domainerr.ProtocolViolation{Reason: "expected WRITE_STATUS, got " + typ.String()}
		}
		ws, err := wire.DecodeWriteStatus(body)
		if err != nil {
			e.state = StateFailed
			return out, errors.Wrap(err, "executor: decoding WRITE_STATUS")
		}
		if _, ok := e.outstanding[ws.WriteID]; !ok {
			e.state = StateFailed
			return out, &domainerr.ProtocolViolation{Reason: "unknown write id in WRITE_STATUS"}
		}
		delete(e.outstanding, ws.WriteID)

		var statusErr error
		if ws.Status != wire.StatusOK {
			statusErr = &domainerr.ServerError{Server: e.Server, Code: ws.Status}
			e.recordFailure()
		}
		out = append(out, Status{WriteID: ws.WriteID, Err: statusErr})
	}
}

// Shutdown sends WRITE_END, then closes the connection and transitions to
// StateClosed; the protocol does not require an acknowledgement (spec §9's
// open question), so no reply is awaited once the frame is on the wire.
func (e *WriteExecutor) Shutdown(deadline time.Duration) error {
	if e.state != StateRunning {
		return &domainerr.InvalidState{Reason: "Shutdown called outside StateRunning"}
	}
	e.setWriteDeadline(deadline)
	if err := wire.EncodeWriteEnd(e.conn); err != nil {
		e.state = StateFailed
		return classifyReadErr(err)
	}
	e.state = StateDraining
	closeErr := e.conn.Close()
	e.state = StateClosed
	return closeErr
}

// Abort closes the connection immediately, regardless of state.
func (e *WriteExecutor) Abort() error {
	e.state = StateClosed
	return e.conn.Close()
}

func (e *WriteExecutor) recordFailure() {
	if e.stats != nil {
		e.stats.RecordFailure(e.Server)
	}
}

func (e *WriteExecutor) setDeadlines(d time.Duration) {
	e.setReadDeadline(d)
	e.setWriteDeadline(d)
}

func (e *WriteExecutor) setReadDeadline(d time.Duration) {
	if dl, ok := e.conn.(deadliner); ok && d > 0 {
		_ = dl.SetReadDeadline(time.Now().Add(d))
	}
}

func (e *WriteExecutor) setWriteDeadline(d time.Duration) {
	if dl, ok := e.conn.(deadliner); ok && d > 0 {
		_ = dl.SetWriteDeadline(time.Now().Add(d))
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func classifyReadErr(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return &domainerr.ProtocolViolation{Reason: "connection closed unexpectedly: " + err.Error()}
	}
	return errors.Wrap(err, "executor: I/O error")
}
