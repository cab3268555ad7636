// Package domainerr collects the error kinds from the write pipeline's
// error handling design: BadEncoding, Timeout, Unreachable, ServerError,
// ProtocolViolation, Locked, VersionMismatch and InvalidState. Every package
// in this module that needs to raise one of these imports this package
// instead of defining its own, so callers can type-switch or errors.As
// against a single shared vocabulary regardless of which component raised
// the error.
package domainerr

import "fmt"

// BadEncoding is returned when deserializing a malformed on-wire tag, e.g.
// an unrecognized ChunkType id.
type BadEncoding struct {
	Tag byte
}

func (e *BadEncoding) Error() string {
	return fmt.Sprintf("bad encoding: unrecognized tag 0x%02x", e.Tag)
}

// Timeout is returned when a deadline elapses before an operation
// completes. It is distinct from a server error: the operation is not
// retried at this layer, the caller decides.
type Timeout struct {
	Op string
}

func (e *Timeout) Error() string {
	return fmt.Sprintf("timeout: %s", e.Op)
}

// Unreachable is returned when a required server could not be connected.
type Unreachable struct {
	Server string
}

func (e *Unreachable) Error() string {
	return fmt.Sprintf("unreachable: %s", e.Server)
}

// ServerError is returned when a chunkserver reports a non-zero status.
type ServerError struct {
	Server string
	Code   uint32
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error from %s: code %d", e.Server, e.Code)
}

// ProtocolViolation is returned for unexpected frames or unknown write ids.
type ProtocolViolation struct {
	Reason string
}

func (e *ProtocolViolation) Error() string {
	return fmt.Sprintf("protocol violation: %s", e.Reason)
}

// Locked is returned by the locator when a chunk is already locked by
// another writer.
type Locked struct {
	ChunkID uint64
}

func (e *Locked) Error() string {
	return fmt.Sprintf("chunk %d is locked", e.ChunkID)
}

// VersionMismatch is returned by the locator when the caller's assumed
// chunk version is stale.
type VersionMismatch struct {
	Have, Want uint32
}

func (e *VersionMismatch) Error() string {
	return fmt.Sprintf("version mismatch: have %d, want %d", e.Have, e.Want)
}

// InvalidState is returned for API misuse, e.g. calling addOperation after
// startFlushMode.
type InvalidState struct {
	Reason string
}

func (e *InvalidState) Error() string {
	return fmt.Sprintf("invalid state: %s", e.Reason)
}
