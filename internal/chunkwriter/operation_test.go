package chunkwriter

import (
	"testing"

	"github.com/chunkfs/chunkwriter/internal/chunktype"
	"github.com/chunkfs/chunkwriter/internal/journal"
)

func TestOperationIsFull(t *testing.T) {
	op := newOperation(0, 3)
	if op.isFull() {
		t.Fatal("empty operation must not be full")
	}
	op.parts[chunktype.MustXor(3, 1)] = 0
	op.parts[chunktype.MustXor(3, 2)] = 1
	if op.isFull() {
		t.Fatal("two of three parts must not be full")
	}
	op.parts[chunktype.MustXor(3, 3)] = 2
	if !op.isFull() {
		t.Fatal("three of three parts must be full")
	}
}

func TestIsExpandPossibleRejectsHeldPartAndSubmitted(t *testing.T) {
	op := newOperation(0, 3)
	part1 := chunktype.MustXor(3, 1)
	part2 := chunktype.MustXor(3, 2)
	op.parts[part1] = 0

	if op.isExpandPossible(part1, 3) {
		t.Fatal("must not expand into an already-held part")
	}
	if !op.isExpandPossible(part2, 3) {
		t.Fatal("must allow expanding into a free part of a matching-width stripe")
	}
	if op.isExpandPossible(part2, 2) {
		t.Fatal("must reject a mismatched stripe width")
	}

	op.submitted = true
	if op.isExpandPossible(part2, 3) {
		t.Fatal("must not expand a submitted operation")
	}
}

func TestCollidesWithRequiresOneFullAndOverlap(t *testing.T) {
	full := newOperation(0, 1)
	full.parts[chunktype.Standard()] = 0
	full.touch(0, mustBlock(t, 0, 50), 1024)

	partialDisjoint := newOperation(1, 3)
	partialDisjoint.touch(1024, mustBlock(t, 0, 50), 1024)

	if full.collidesWith(partialDisjoint) {
		t.Fatal("disjoint ranges must not collide even if one is full")
	}

	overlapping := newOperation(0, 1)
	overlapping.touch(0, mustBlock(t, 25, 50), 1024)
	if !full.collidesWith(overlapping) {
		t.Fatal("overlapping ranges with one FULL operation must collide")
	}

	bothPartialOverlapping := newOperation(0, 3)
	bothPartialOverlapping.touch(0, mustBlock(t, 0, 50), 1024)
	neitherFull := newOperation(0, 3)
	neitherFull.touch(0, mustBlock(t, 10, 20), 1024)
	if bothPartialOverlapping.collidesWith(neitherFull) {
		t.Fatal("two non-full operations must never collide")
	}
}

func mustBlock(t *testing.T, offset uint32, length int) journal.Block {
	t.Helper()
	b, err := journal.NewBlock(0, offset, make([]byte, length), 1024)
	if err != nil {
		t.Fatal(err)
	}
	return b
}
