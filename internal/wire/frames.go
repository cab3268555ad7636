// Package wire implements the length-prefixed, tagged frame protocol spoken
// between a WriteExecutor and one chunkserver in the write chain (see
// WRITE_INIT / WRITE_DATA / WRITE_END in the protocol description). It only
// knows how to encode and decode frames; it has no notion of a chain, a
// chunk, or a stripe.
package wire

import (
	"encoding/binary"
	"io"

	"github.com/klauspost/crc32"

	"github.com/chunkfs/chunkwriter/internal/errors"
)

// FrameType tags the kind of frame that follows the length prefix.
type FrameType uint8

const (
	FrameWriteInit FrameType = iota + 1
	FrameWriteInitStatus
	FrameWriteData
	FrameWriteStatus
	FrameWriteEnd
)

func (t FrameType) String() string {
	switch t {
	case FrameWriteInit:
		return "WRITE_INIT"
	case FrameWriteInitStatus:
		return "WRITE_INIT_STATUS"
	case FrameWriteData:
		return "WRITE_DATA"
	case FrameWriteStatus:
		return "WRITE_STATUS"
	case FrameWriteEnd:
		return "WRITE_END"
	default:
		return "UNKNOWN"
	}
}

// StatusOK is the zero status value; anything else is a server-defined
// error code.
const StatusOK uint32 = 0

// WriteInit is sent once per executor at the start of a chunk write. Chain
// carries server addresses of the write chain; the coordinator sends every
// executor the same sorted list of all of the chunk's servers.
type WriteInit struct {
	ChunkID   uint64
	Version   uint32
	ChunkType uint8
	Chain     []string
}

// WriteInitStatus is the chunkserver's reply to WriteInit.
type WriteInitStatus struct {
	Status uint32
}

// WriteData carries one block's worth of payload. WriteID must never be 0;
// 0 is reserved to correlate WriteInit's implicit handshake.
type WriteData struct {
	WriteID       uint32
	BlockIndex    uint16
	OffsetInBlock uint32
	CRC           uint32
	Bytes         []byte
}

// Checksum computes the project-wide block checksum used to fill in
// WriteData.CRC.
func Checksum(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// WriteStatus is the chunkserver's reply to a WriteData frame.
type WriteStatus struct {
	WriteID uint32
	ChunkID uint64
	Status  uint32
}

// WriteEnd has no payload; sending it asks the chunkserver to drain and
// close the connection for this chunk. No reply is required.
type WriteEnd struct{}

// EncodeWriteInit writes a length-prefixed WRITE_INIT frame to w.
func EncodeWriteInit(w io.Writer, m WriteInit) error {
	body := make([]byte, 0, 13+len(m.Chain)*32)
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:8], m.ChunkID)
	body = append(body, tmp[:8]...)
	binary.BigEndian.PutUint32(tmp[:4], m.Version)
	body = append(body, tmp[:4]...)
	body = append(body, m.ChunkType)
	binary.BigEndian.PutUint32(tmp[:4], uint32(len(m.Chain)))
	body = append(body, tmp[:4]...)
	for _, addr := range m.Chain {
		binary.BigEndian.PutUint32(tmp[:4], uint32(len(addr)))
		body = append(body, tmp[:4]...)
		body = append(body, addr...)
	}
	return writeFrame(w, FrameWriteInit, body)
}

// EncodeWriteData writes a length-prefixed WRITE_DATA frame to w. The CRC
// field is (re)computed from m.Bytes if it is zero.
func EncodeWriteData(w io.Writer, m WriteData) error {
	if m.WriteID == 0 {
		return errors.New("wire: WriteData.WriteID must not be 0")
	}
	crc := m.CRC
	if crc == 0 {
		crc = Checksum(m.Bytes)
	}
	body := make([]byte, 0, 18+len(m.Bytes))
	var tmp [8]byte
	binary.BigEndian.PutUint32(tmp[:4], m.WriteID)
	body = append(body, tmp[:4]...)
	binary.BigEndian.PutUint16(tmp[:2], m.BlockIndex)
	body = append(body, tmp[:2]...)
	binary.BigEndian.PutUint32(tmp[:4], m.OffsetInBlock)
	body = append(body, tmp[:4]...)
	binary.BigEndian.PutUint32(tmp[:4], uint32(len(m.Bytes)))
	body = append(body, tmp[:4]...)
	binary.BigEndian.PutUint32(tmp[:4], crc)
	body = append(body, tmp[:4]...)
	body = append(body, m.Bytes...)
	return writeFrame(w, FrameWriteData, body)
}

// EncodeWriteEnd writes a length-prefixed WRITE_END frame to w.
func EncodeWriteEnd(w io.Writer) error {
	return writeFrame(w, FrameWriteEnd, nil)
}

// EncodeWriteInitStatus writes a length-prefixed WRITE_INIT_STATUS frame to
// w. Used by chunkserver-side code: the real chunkserver implementation is
// out of this module's scope, but the demo/test simulators need to speak
// both sides of the protocol.
func EncodeWriteInitStatus(w io.Writer, m WriteInitStatus) error {
	var body [4]byte
	binary.BigEndian.PutUint32(body[:], m.Status)
	return writeFrame(w, FrameWriteInitStatus, body[:])
}

// EncodeWriteStatus writes a length-prefixed WRITE_STATUS frame to w.
func EncodeWriteStatus(w io.Writer, m WriteStatus) error {
	body := make([]byte, 16)
	binary.BigEndian.PutUint32(body[0:4], m.WriteID)
	binary.BigEndian.PutUint64(body[4:12], m.ChunkID)
	binary.BigEndian.PutUint32(body[12:16], m.Status)
	return writeFrame(w, FrameWriteStatus, body)
}

// ReadFrame reads one length-prefixed frame from r and returns its type and
// raw body. Callers decode the body with the Decode* function matching the
// returned type.
func ReadFrame(r io.Reader) (FrameType, []byte, error) {
	var hdr [5]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	length := binary.BigEndian.Uint32(hdr[:4])
	typ := FrameType(hdr[4])
	body := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return 0, nil, errors.Wrapf(err, "reading %v body", typ)
		}
	}
	return typ, body, nil
}

// DecodeWriteInitStatus parses a WRITE_INIT_STATUS frame body.
func DecodeWriteInitStatus(body []byte) (WriteInitStatus, error) {
	if len(body) < 4 {
		return WriteInitStatus{}, errors.Errorf("wire: short WRITE_INIT_STATUS frame (%d bytes)", len(body))
	}
	return WriteInitStatus{Status: binary.BigEndian.Uint32(body[:4])}, nil
}

// DecodeWriteStatus parses a WRITE_STATUS frame body.
func DecodeWriteStatus(body []byte) (WriteStatus, error) {
	if len(body) < 16 {
		return WriteStatus{}, errors.Errorf("wire: short WRITE_STATUS frame (%d bytes)", len(body))
	}
	return WriteStatus{
		WriteID: binary.BigEndian.Uint32(body[0:4]),
		ChunkID: binary.BigEndian.Uint64(body[4:12]),
		Status:  binary.BigEndian.Uint32(body[12:16]),
	}, nil
}

// DecodeWriteData parses a WRITE_DATA frame body, mainly used by tests and
// by the demo chunkserver simulator.
func DecodeWriteData(body []byte) (WriteData, error) {
	if len(body) < 18 {
		return WriteData{}, errors.Errorf("wire: short WRITE_DATA frame (%d bytes)", len(body))
	}
	size := binary.BigEndian.Uint32(body[10:14])
	if uint32(len(body)-18) != size {
		return WriteData{}, errors.Errorf("wire: WRITE_DATA size mismatch: header says %d, got %d", size, len(body)-18)
	}
	return WriteData{
		WriteID:       binary.BigEndian.Uint32(body[0:4]),
		BlockIndex:    binary.BigEndian.Uint16(body[4:6]),
		OffsetInBlock: binary.BigEndian.Uint32(body[6:10]),
		CRC:           binary.BigEndian.Uint32(body[14:18]),
		Bytes:         body[18:],
	}, nil
}

func writeFrame(w io.Writer, typ FrameType, body []byte) error {
	var hdr [5]byte
	binary.BigEndian.PutUint32(hdr[:4], uint32(len(body)))
	hdr[4] = byte(typ)
	if _, err := w.Write(hdr[:]); err != nil {
		return errors.Wrapf(err, "writing %v header", typ)
	}
	if len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			return errors.Wrapf(err, "writing %v body", typ)
		}
	}
	return nil
}
