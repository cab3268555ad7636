// Package chunkwriter implements the per-chunk write coordinator: it
// accepts buffered blocks, groups them into stripe-aligned Operations,
// drives repair reads and parity generation for XOR layouts, submits
// per-part writes to WriteExecutors, and reconciles completions.
package chunkwriter

import (
	"context"
	"sort"
	"time"

	"github.com/chunkfs/chunkwriter/internal/chunktype"
	"github.com/chunkfs/chunkwriter/internal/connector"
	"github.com/chunkfs/chunkwriter/internal/debug"
	"github.com/chunkfs/chunkwriter/internal/domainerr"
	"github.com/chunkfs/chunkwriter/internal/errors"
	"github.com/chunkfs/chunkwriter/internal/executor"
	"github.com/chunkfs/chunkwriter/internal/journal"
	"github.com/chunkfs/chunkwriter/internal/locator"
)

// State is the coordinator's lifecycle stage.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateAccepting
	StateFlushing
	StateDropping
	StateDraining
	StateFinished
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateAccepting:
		return "accepting"
	case StateFlushing:
		return "flushing"
	case StateDropping:
		return "dropping"
	case StateDraining:
		return "draining"
	case StateFinished:
		return "finished"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// writeKey correlates a WRITE_STATUS back to the Operation that issued it.
// WriteIds are only unique within one executor's lifetime, so the server
// address is part of the key.
type writeKey struct {
	server  string
	writeID uint32
}

// ChunkWriter coordinates one chunk's buffered writes through to durable
// acknowledgement. It is not safe for concurrent use: a single driving
// thread is assumed per chunk between Init and Finish/AbortOperations.
type ChunkWriter struct {
	chunkID   uint64
	blockSize uint32

	connector connector.ChunkConnector
	stats     *executor.Stats
	pool      *journal.BufferPool

	state State

	loc       locator.Locator
	layout    locator.Layout
	handle    *connector.Handle
	executors map[chunktype.ChunkType]*executor.WriteExecutor

	journal *journal.Journal

	newOperations        []*Operation
	pendingOperations    map[OperationID]*Operation
	writeIdToOperationID map[writeKey]OperationID

	nextOperationID OperationID
}

// New returns a ChunkWriter for chunkID in StateUninitialized. blockSize is
// normally chunkwriter.BlockSize; tests use smaller values to keep fixtures
// readable.
func New(chunkID uint64, blockSize uint32, conn connector.ChunkConnector, stats *executor.Stats) *ChunkWriter {
	return &ChunkWriter{
		chunkID:              chunkID,
		blockSize:            blockSize,
		connector:            conn,
		stats:                stats,
		pool:                 journal.NewBufferPool(defaultBufferPoolSize, int(blockSize)),
		state:                StateUninitialized,
		journal:              journal.New(),
		pendingOperations:    make(map[OperationID]*Operation),
		writeIdToOperationID: make(map[writeKey]OperationID),
		nextOperationID:      1,
	}
}

// State returns the coordinator's current lifecycle stage.
func (cw *ChunkWriter) State() State {
	return cw.state
}

// AcceptsNewOperations reports whether AddOperation may still be called.
func (cw *ChunkWriter) AcceptsNewOperations() bool {
	return cw.state == StateAccepting
}

func (cw *ChunkWriter) allocateOperationID() OperationID {
	id := cw.nextOperationID
	cw.nextOperationID++
	return id
}

// Init acquires the chunk's write lock, resolves its layout and servers,
// connects the chain and runs WRITE_INIT on every part's executor. If any
// step fails, everything already acquired is unwound before returning.
func (cw *ChunkWriter) Init(ctx context.Context, loc locator.Locator, timeout time.Duration) error {
	if cw.state != StateUninitialized {
		return &domainerr.InvalidState{Reason: "Init called outside Uninitialized"}
	}
	cw.state = StateInitializing

	if err := loc.LockForWrite(ctx, timeout); err != nil {
		cw.state = StateUninitialized
		return err
	}

	locations, err := loc.Locations(ctx)
	if err != nil {
		_ = loc.Unlock(ctx)
		cw.state = StateUninitialized
		return errors.Wrap(err, "chunkwriter: resolving locations")
	}
	layout, err := loc.ChunkLayout(ctx)
	if err != nil {
		_ = loc.Unlock(ctx)
		cw.state = StateUninitialized
		return errors.Wrap(err, "chunkwriter: resolving layout")
	}

	handle, err := cw.connector.ConnectChain(ctx, locations, timeout)
	if err != nil {
		_ = loc.Unlock(ctx)
		cw.state = StateUninitialized
		return err
	}

	chain := sortedAddrs(locations.Servers)
	executors := make(map[chunktype.ChunkType]*executor.WriteExecutor, len(handle.Conns))
	for part, conn := range handle.Conns {
		executors[part] = executor.New(locations.Servers[part], conn, cw.stats)
	}
	for part, exec := range executors {
		if err := exec.Init(ctx, cw.chunkID, locations.Version, part.Encode(), chain, timeout); err != nil {
			for _, e := range executors {
				_ = e.Abort()
			}
			_ = loc.Unlock(ctx)
			cw.state = StateUninitialized
			return err
		}
	}

	cw.loc = loc
	cw.layout = layout
	cw.handle = handle
	cw.executors = executors
	cw.state = StateAccepting
	debug.Log("chunkwriter[%d]: accepting, layout=%+v", cw.chunkID, layout)
	return nil
}

func sortedAddrs(servers map[chunktype.ChunkType]string) []string {
	out := make([]string, 0, len(servers))
	for _, addr := range servers {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

func (cw *ChunkWriter) partForBlock(blockIndex uint32) chunktype.ChunkType {
	if cw.layout.Standard {
		return chunktype.Standard()
	}
	level := cw.layout.Level
	part := uint8(blockIndex%uint32(level)) + 1
	return chunktype.MustXor(level, part)
}

func (cw *ChunkWriter) stripeIndexOf(blockIndex uint32) uint32 {
	return blockIndex / cw.layout.StripeSize()
}

// AddOperation buffers block b into the journal and either merges it into
// an existing not-yet-submitted Operation covering the same stripe row, or
// expands one with a new part, or starts a new Operation.
func (cw *ChunkWriter) AddOperation(b journal.Block) error {
	if cw.state != StateAccepting {
		return &domainerr.InvalidState{Reason: "AddOperation called outside Accepting"}
	}

	stripeSize := cw.layout.StripeSize()
	stripeIndex := cw.stripeIndexOf(b.BlockIndex)
	part := cw.partForBlock(b.BlockIndex)

	for i := len(cw.newOperations) - 1; i >= 0; i-- {
		op := cw.newOperations[i]
		if op.stripeIndex != stripeIndex {
			continue
		}
		if pos, ok := op.parts[part]; ok {
			existing, ok := cw.journal.Get(pos)
			if !ok {
				return errors.New("chunkwriter: dangling journal position in newOperations")
			}
			merged, err := existing.Merge(b, cw.blockSize)
			if err != nil {
				return err
			}
			cw.journal.Set(pos, merged)
			op.touch(b.BlockIndex, merged, cw.blockSize)
			return nil
		}
		if op.isExpandPossible(part, stripeSize) {
			pos := cw.journal.Append(b)
			op.parts[part] = pos
			op.touch(b.BlockIndex, b, cw.blockSize)
			return nil
		}
	}

	op := newOperation(stripeIndex, stripeSize)
	pos := cw.journal.Append(b)
	op.parts[part] = pos
	op.touch(b.BlockIndex, b, cw.blockSize)
	cw.newOperations = append(cw.newOperations, op)
	return nil
}

// canStart reports whether op is eligible to be dispatched given the
// current layout and coordinator state: Standard operations are always
// eligible the moment they exist (they are trivially FULL); XOR operations
// need either a full stripe or flush mode, so that steady-state expansion
// has a chance to complete a partial stripe before it is forced out.
func (cw *ChunkWriter) canStart(op *Operation) bool {
	if cw.layout.Standard {
		return true
	}
	if op.isFull() {
		return true
	}
	return cw.state == StateFlushing
}

func (cw *ChunkWriter) collidesWithPending(op *Operation) bool {
	for _, pending := range cw.pendingOperations {
		if op.collidesWith(pending) {
			return true
		}
	}
	return false
}

// StartNewOperations scans newOperations for ones eligible to start and not
// colliding with a pending Operation, dispatches them, and moves them into
// pendingOperations. Operations left behind stay in newOperations for a
// later call.
func (cw *ChunkWriter) StartNewOperations(ctx context.Context) error {
	if cw.state != StateAccepting && cw.state != StateFlushing {
		return &domainerr.InvalidState{Reason: "StartNewOperations called outside Accepting/Flushing"}
	}

	remaining := make([]*Operation, 0, len(cw.newOperations))
	for _, op := range cw.newOperations {
		if !cw.canStart(op) || cw.collidesWithPending(op) {
			remaining = append(remaining, op)
			continue
		}
		op.id = cw.allocateOperationID()
		if err := cw.dispatch(ctx, op); err != nil {
			cw.fail(err)
			return err
		}
		op.submitted = true
		cw.pendingOperations[op.id] = op
		debug.Log("chunkwriter[%d]: dispatched operation %d (stripe %d)", cw.chunkID, op.id, op.stripeIndex)
	}
	cw.newOperations = remaining
	return nil
}

// dispatch materializes and sends this Operation's per-part WRITE_DATA
// frames, choosing between the Standard, XOR-full and XOR-partial-at-flush
// paths.
func (cw *ChunkWriter) dispatch(ctx context.Context, op *Operation) error {
	if cw.layout.Standard {
		return cw.dispatchStandard(op)
	}
	return cw.dispatchXor(ctx, op)
}

func (cw *ChunkWriter) enqueueAndTrack(op *Operation, part chunktype.ChunkType, offsetInBlock uint32, bytes []byte) error {
	exec, ok := cw.executors[part]
	if !ok {
		return errors.Errorf("chunkwriter: no executor for part %s", part)
	}
	wid, err := exec.EnqueueWrite(uint16(op.stripeIndex), offsetInBlock, bytes)
	if err != nil {
		return err
	}
	cw.writeIdToOperationID[writeKey{server: exec.Server, writeID: wid}] = op.id
	op.unfinishedWrites++
	return nil
}

func (cw *ChunkWriter) dispatchStandard(op *Operation) error {
	part := chunktype.Standard()
	pos, ok := op.parts[part]
	if !ok {
		return errors.New("chunkwriter: standard operation missing its only part")
	}
	blk, ok := cw.journal.Get(pos)
	if !ok {
		return errors.New("chunkwriter: dangling journal position")
	}
	return cw.enqueueAndTrack(op, part, blk.Offset, blk.Payload)
}

func (cw *ChunkWriter) dispatchXor(ctx context.Context, op *Operation) error {
	level := cw.layout.Level
	aligned := make([][]byte, level+1)

	for p := uint8(1); p <= level; p++ {
		part := chunktype.MustXor(level, p)
		if pos, ok := op.parts[part]; ok {
			blk, ok := cw.journal.Get(pos)
			if !ok {
				return errors.New("chunkwriter: dangling journal position")
			}
			if err := cw.enqueueAndTrack(op, part, blk.Offset, blk.Payload); err != nil {
				return err
			}
			aligned[p-1] = alignedBytes(blk)
			continue
		}

		// Missing data part: repair-read it from the already-persisted
		// chunk contents before parity can be computed.
		data, err := cw.loc.ReadBlock(ctx, op.stripeIndex, part)
		if err != nil {
			return err
		}
		buf := cw.pool.Get()
		buf.Data = append(buf.Data[:0], data...)
		op.scratch = append(op.scratch, buf)
		if err := cw.enqueueAndTrack(op, part, 0, buf.Data); err != nil {
			return err
		}
		aligned[p-1] = buf.Data
	}

	parityPart := chunktype.MustXorParity(level)
	parity := xorBlocks(aligned[:level]...)
	return cw.enqueueAndTrack(op, parityPart, 0, parity)
}

func (cw *ChunkWriter) fail(err error) {
	if cw.state == StateAborted || cw.state == StateFinished {
		return
	}
	debug.Log("chunkwriter[%d]: failing: %v", cw.chunkID, err)
	_ = cw.AbortOperations()
}

// ProcessOperations is the coordinator's only suspension point: it polls
// every executor for up to deadline, reconciles WRITE_STATUS events
// against pendingOperations, and escalates the first server error to a
// coordinator-level Aborted transition.
func (cw *ChunkWriter) ProcessOperations(deadline time.Duration) error {
	if cw.state != StateAccepting && cw.state != StateFlushing && cw.state != StateDropping {
		return &domainerr.InvalidState{Reason: "ProcessOperations called outside an active state"}
	}

	for _, exec := range cw.executors {
		statuses, err := exec.Poll(deadline)
		if err != nil {
			cw.fail(err)
			return err
		}
		for _, st := range statuses {
			key := writeKey{server: exec.Server, writeID: st.WriteID}
			opID, ok := cw.writeIdToOperationID[key]
			if !ok {
				continue
			}
			delete(cw.writeIdToOperationID, key)

			if st.Err != nil {
				cw.fail(st.Err)
				return st.Err
			}

			op, ok := cw.pendingOperations[opID]
			if !ok {
				continue
			}
			op.unfinishedWrites--
			if op.unfinishedWrites <= 0 {
				cw.completeOperation(op)
			}
		}
	}
	return nil
}

func (cw *ChunkWriter) completeOperation(op *Operation) {
	for _, pos := range op.parts {
		cw.journal.Remove(pos)
	}
	for _, buf := range op.scratch {
		buf.Release()
	}
	delete(cw.pendingOperations, op.id)
	debug.Log("chunkwriter[%d]: operation %d complete", cw.chunkID, op.id)
}

// GetUnfinishedOperationsCount returns the total outstanding per-write
// acknowledgements across every pending Operation.
func (cw *ChunkWriter) GetUnfinishedOperationsCount() int {
	total := 0
	for _, op := range cw.pendingOperations {
		total += op.unfinishedWrites
	}
	return total
}

// GetPendingOperationsCount returns the number of submitted, not-yet-complete
// Operations.
func (cw *ChunkWriter) GetPendingOperationsCount() int {
	return len(cw.pendingOperations)
}

// GetMinimumBlockCountWorthWriting returns L for XOR layouts, 1 for
// Standard: how many buffered blocks justify a non-flush submission.
func (cw *ChunkWriter) GetMinimumBlockCountWorthWriting() uint32 {
	if cw.layout.Standard {
		return 1
	}
	return uint32(cw.layout.Level)
}

// StartFlushMode transitions Accepting → Flushing: partial stripes become
// eligible for dispatch once expansion stops arriving.
func (cw *ChunkWriter) StartFlushMode() error {
	if cw.state != StateAccepting {
		return &domainerr.InvalidState{Reason: "StartFlushMode called outside Accepting"}
	}
	cw.state = StateFlushing
	return nil
}

// DropNewOperations transitions Accepting → Dropping: every not-yet-submitted
// Operation is discarded (its journal positions freed); only already-pending
// Operations continue draining.
func (cw *ChunkWriter) DropNewOperations() error {
	if cw.state != StateAccepting {
		return &domainerr.InvalidState{Reason: "DropNewOperations called outside Accepting"}
	}
	for _, op := range cw.newOperations {
		for _, pos := range op.parts {
			cw.journal.Remove(pos)
		}
	}
	cw.newOperations = nil
	cw.state = StateDropping
	return nil
}

// Finish waits for all pending and still-eligible new Operations to
// complete, issues WRITE_END on every executor, releases the connection
// chain and unlocks the chunk. A caller must have already called exactly
// one of StartFlushMode or DropNewOperations. On timeout it degrades to
// AbortOperations.
func (cw *ChunkWriter) Finish(ctx context.Context, timeout time.Duration) error {
	if cw.state != StateFlushing && cw.state != StateDropping {
		return &domainerr.InvalidState{Reason: "Finish called outside Flushing/Dropping"}
	}

	deadline := time.Now().Add(timeout)
	for cw.GetPendingOperationsCount() > 0 || len(cw.newOperations) > 0 {
		if cw.state == StateFlushing {
			if err := cw.StartNewOperations(ctx); err != nil {
				return err
			}
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			_ = cw.AbortOperations()
			return &domainerr.Timeout{Op: "Finish"}
		}
		if err := cw.ProcessOperations(remaining); err != nil {
			return err
		}
	}

	cw.state = StateDraining
	for _, exec := range cw.executors {
		if err := exec.Shutdown(time.Until(deadline)); err != nil {
			_ = cw.AbortOperations()
			return err
		}
	}
	_ = cw.connector.ReleaseChain(cw.handle)
	if err := cw.loc.Unlock(ctx); err != nil {
		return err
	}
	cw.state = StateFinished
	debug.Log("chunkwriter[%d]: finished", cw.chunkID)
	return nil
}

// AbortOperations is the hard-cancel primitive: it closes every executor
// immediately, releases the lock, and transitions to Aborted. The journal
// is left intact for ReleaseJournal.
func (cw *ChunkWriter) AbortOperations() error {
	if cw.state == StateAborted || cw.state == StateFinished {
		return nil
	}
	for _, exec := range cw.executors {
		_ = exec.Abort()
	}
	if cw.loc != nil {
		_ = cw.loc.Unlock(context.Background())
	}
	cw.state = StateAborted
	debug.Log("chunkwriter[%d]: aborted", cw.chunkID)
	return nil
}

// ReleaseJournal returns every block not yet durably acknowledged, in
// journal order, so the caller may route it to a freshly-initialized
// ChunkWriter.
func (cw *ChunkWriter) ReleaseJournal() []journal.Block {
	return cw.journal.Blocks()
}
