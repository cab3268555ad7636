package wire_test

import (
	"bytes"
	"testing"

	"github.com/chunkfs/chunkwriter/internal/wire"
)

func TestWriteDataRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello stripe")
	msg := wire.WriteData{
		WriteID:       7,
		BlockIndex:    3,
		OffsetInBlock: 128,
		Bytes:         payload,
	}
	if err := wire.EncodeWriteData(&buf, msg); err != nil {
		t.Fatal(err)
	}

	typ, body, err := wire.ReadFrame(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if typ != wire.FrameWriteData {
		t.Fatalf("expected %v, got %v", wire.FrameWriteData, typ)
	}

	got, err := wire.DecodeWriteData(body)
	if err != nil {
		t.Fatal(err)
	}
	if got.WriteID != msg.WriteID || got.BlockIndex != msg.BlockIndex || got.OffsetInBlock != msg.OffsetInBlock {
		t.Fatalf("roundtrip mismatch: %+v != %+v", got, msg)
	}
	if !bytes.Equal(got.Bytes, payload) {
		t.Fatalf("payload mismatch: %q != %q", got.Bytes, payload)
	}
	if got.CRC != wire.Checksum(payload) {
		t.Fatalf("crc mismatch: %d != %d", got.CRC, wire.Checksum(payload))
	}
}

func TestWriteDataRejectsZeroWriteID(t *testing.T) {
	var buf bytes.Buffer
	err := wire.EncodeWriteData(&buf, wire.WriteData{WriteID: 0, Bytes: []byte("x")})
	if err == nil {
		t.Fatal("expected error for WriteID == 0")
	}
}

func TestWriteStatusRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := wire.EncodeWriteStatus(&buf, wire.WriteStatus{WriteID: 5, ChunkID: 99, Status: 0}); err != nil {
		t.Fatal(err)
	}
	typ, body, err := wire.ReadFrame(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if typ != wire.FrameWriteStatus {
		t.Fatalf("expected %v, got %v", wire.FrameWriteStatus, typ)
	}
	got, err := wire.DecodeWriteStatus(body)
	if err != nil {
		t.Fatal(err)
	}
	if got.WriteID != 5 || got.ChunkID != 99 || got.Status != 0 {
		t.Fatalf("unexpected decode: %+v", got)
	}
}

func TestWriteInitStatusRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := wire.EncodeWriteInitStatus(&buf, wire.WriteInitStatus{Status: wire.StatusOK}); err != nil {
		t.Fatal(err)
	}
	typ, body, err := wire.ReadFrame(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if typ != wire.FrameWriteInitStatus {
		t.Fatalf("expected %v, got %v", wire.FrameWriteInitStatus, typ)
	}
	got, err := wire.DecodeWriteInitStatus(body)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != wire.StatusOK {
		t.Fatalf("unexpected decode: %+v", got)
	}
}
