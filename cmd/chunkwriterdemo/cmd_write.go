package main

import (
	"bytes"
	"context"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"

	"github.com/chunkfs/chunkwriter/internal/chunktype"
	"github.com/chunkfs/chunkwriter/internal/chunkwriter"
	"github.com/chunkfs/chunkwriter/internal/connector"
	"github.com/chunkfs/chunkwriter/internal/executor"
	"github.com/chunkfs/chunkwriter/internal/journal"
	"github.com/chunkfs/chunkwriter/internal/locator"
	"github.com/chunkfs/chunkwriter/internal/wire"
)

type writeOptions struct {
	level     uint8
	blockSize uint32
	chunkID   uint64
	retries   uint64
}

var writeOpts writeOptions

var cmdWrite = &cobra.Command{
	Use:               "write",
	Short:             "Write a handful of demo blocks through a simulated chunkserver chain",
	DisableAutoGenTag: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWrite(writeOpts)
	},
}

func init() {
	flags := cmdWrite.Flags()
	flags.Uint8Var(&writeOpts.level, "level", 3, "XOR stripe level (0 selects the Standard layout)")
	flags.Uint32Var(&writeOpts.blockSize, "block-size", chunkwriter.BlockSize, "block size B in bytes")
	flags.Uint64Var(&writeOpts.chunkID, "chunk-id", 1, "chunk identifier")
	flags.Uint64Var(&writeOpts.retries, "max-retries", 3, "whole-chunk retries on abort")
	cmdRoot.AddCommand(cmdWrite)
}

// ackingServer is the simplest possible chunkserver simulator: it accepts
// WRITE_INIT, acknowledges every WRITE_DATA it receives with StatusOK, and
// exits on WRITE_END.
func ackingServer(conn connector.Conn) {
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
			if err := wire.EncodeWriteStatus(conn, wire.WriteStatus{
				WriteID: wd.WriteID, ChunkID: 1, Status: wire.StatusOK,
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

func demoLayout(opts writeOptions) locator.Layout {
	if opts.level == 0 {
		return locator.Layout{Standard: true}
	}
	return locator.Layout{Level: opts.level}
}

func demoBlocks(opts writeOptions, layout locator.Layout) []journal.Block {
	parts := layout.Parts()
	stripeSize := layout.StripeSize()
	blocks := make([]journal.Block, 0, len(parts))
	for i := uint32(0); i < stripeSize; i++ {
		payload := bytes.Repeat([]byte{byte('A' + i)}, 32)
		b, err := journal.NewBlock(i, 0, payload, opts.blockSize)
		if err != nil {
			panic(err) // demo data, constructed to fit by design
		}
		blocks = append(blocks, b)
	}
	return blocks
}

// runOneChunk drives exactly one ChunkWriter lifecycle: init, buffer a
// single stripe's worth of demo blocks, flush and finish. Any failure
// leaves the caller free to retry with a fresh ChunkWriter; recovery is
// the caller's responsibility, not this coordinator's.
func runOneChunk(opts writeOptions) error {
	layout := demoLayout(opts)
	parts := layout.Parts()

	fake := connector.NewFakeServers()
	addrs := make(map[chunktype.ChunkType]string, len(parts))
	for _, part := range parts {
		addr := part.String() + "-server"
		addrs[part] = addr
		fake.Register(addr, ackingServer)
	}

	loc := locator.NewFake(layout, addrs, opts.blockSize)
	conn, err := connector.NewLRUConnector(fake.Dial, 4, 4)
	if err != nil {
		return err
	}

	cw := chunkwriter.New(opts.chunkID, opts.blockSize, conn, executor.NewStats())
	ctx := context.Background()
	if err := cw.Init(ctx, loc, chunkwriter.DefaultConnectTimeout); err != nil {
		return err
	}

	for _, b := range demoBlocks(opts, layout) {
		if err := cw.AddOperation(b); err != nil {
			_ = cw.AbortOperations()
			return err
		}
	}
	if err := cw.StartNewOperations(ctx); err != nil {
		_ = cw.AbortOperations()
		return err
	}
	if err := cw.StartFlushMode(); err != nil {
		_ = cw.AbortOperations()
		return err
	}
	if err := cw.Finish(ctx, chunkwriter.DefaultIOTimeout); err != nil {
		return err
	}

	fmt.Printf("chunk %d: wrote %d part(s) over %v layout\n", opts.chunkID, len(parts), layout)
	return nil
}

// runWrite retries the whole-chunk cycle with exponential backoff, the same
// shape restic's RetryBackend gives a whole upload after a failure; there
// is no retry below the chunk level.
func runWrite(opts writeOptions) error {
	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), opts.retries)
	return backoff.Retry(func() error {
		return runOneChunk(opts)
	}, b)
}
