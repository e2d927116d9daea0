package mtcl

import (
	"bytes"
	"encoding/binary"
)

// FrameHeaderSize is the size in bytes of a frame's length header: one
// big-endian uint64 giving the payload length. A header of 0 is end-of-stream.
const FrameHeaderSize = 8

// BuildFrame writes a length-prefixed frame to writeBuf. Callers must
// serialize access to writeBuf themselves; this mirrors the teacher
// repo's BuildFrame, simplified to the bare size-header format used on the
// wire here — no per-frame type byte, EOS is a frame of length 0.
func BuildFrame(writeBuf *bytes.Buffer, payload []byte) {
	writeBuf.Grow(FrameHeaderSize + len(payload))
	var hdr [FrameHeaderSize]byte
	binary.BigEndian.PutUint64(hdr[:], uint64(len(payload)))
	writeBuf.Write(hdr[:])
	writeBuf.Write(payload)
}

// EncodeFrame returns a freshly allocated, length-prefixed frame.
func EncodeFrame(payload []byte) []byte {
	out := make([]byte, FrameHeaderSize+len(payload))
	binary.BigEndian.PutUint64(out[:FrameHeaderSize], uint64(len(payload)))
	copy(out[FrameHeaderSize:], payload)
	return out
}

// DecodeHeader parses a frame's length header.
func DecodeHeader(hdr []byte) uint64 {
	return binary.BigEndian.Uint64(hdr[:FrameHeaderSize])
}

// eosFrame is the wire encoding of end-of-stream: a bare zero header.
var eosFrame = func() []byte {
	var hdr [FrameHeaderSize]byte
	return hdr[:]
}()
