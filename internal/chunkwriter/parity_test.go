package chunkwriter

import (
	"bytes"
	"testing"

	"github.com/chunkfs/chunkwriter/internal/journal"
)

func TestAlignedBytesPadsLeadingOffset(t *testing.T) {
	b, err := journal.NewBlock(0, 10, []byte("hi"), 1024)
	if err != nil {
		t.Fatal(err)
	}
	got := alignedBytes(b)
	want := append(make([]byte, 10), []byte("hi")...)
	if !bytes.Equal(got, want) {
		t.Fatalf("got %x want %x", got, want)
	}
}

func TestAlignedBytesNoCopyWhenOffsetZero(t *testing.T) {
	b, err := journal.NewBlock(0, 0, []byte("hi"), 1024)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(alignedBytes(b), []byte("hi")) {
		t.Fatal("expected payload returned unchanged")
	}
}

func TestXorBlocksZeroExtendsShorterOperands(t *testing.T) {
	a := []byte{0xff, 0xff, 0xff}
	b := []byte{0x0f}
	got := xorBlocks(a, b)
	want := []byte{0xf0, 0xff, 0xff}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %x want %x", got, want)
	}
}

func TestXorBlocksSelfCancels(t *testing.T) {
	a := bytes.Repeat([]byte{0x42}, 16)
	got := xorBlocks(a, a)
	if !bytes.Equal(got, make([]byte, 16)) {
		t.Fatalf("a xor a should be all zero, got %x", got)
	}
}
