// Package codec implements the venue wire protocol: length-prefixed frames
// with a type byte, fixed little-endian layouts, integer prices throughout.
package codec

import (
	"encoding/binary"
	"errors"
)

var (
	ErrFrameTooLarge = errors.New("frame exceeds max body size")
	ErrShortBody     = errors.New("frame body shorter than message layout")
)

// Message type bytes. Market data flows venue to engine, order messages
// engine to venue, execution messages venue to engine.
const (
	MsgSnapshot  byte = 0x01
	MsgDelta     byte = 0x02
	MsgTrade     byte = 0x03
	MsgStatus    byte = 0x04
	MsgHeartbeat byte = 0x05
	// MsgSnapshotRequest flows engine to venue to re-request book state
	// for one instrument after a sequence gap.
	MsgSnapshotRequest byte = 0x06

	MsgOrderSubmit byte = 0x10
	MsgOrderCancel byte = 0x11
	MsgOrderModify byte = 0x12

	MsgAck       byte = 0x20
	MsgReject    byte = 0x21
	MsgFill      byte = 0x22
	MsgCancelled byte = 0x23
	MsgExpired   byte = 0x24
)

// MaxBodySize bounds a single frame body. Large enough for a snapshot at
// full configured depth on both sides.
const MaxBodySize = 1 << 16

// frameHeaderSize is the uint32 body length plus the type byte.
const frameHeaderSize = 5

// AppendFrame appends a framed message to dst.
func AppendFrame(dst []byte, msgType byte, body []byte) ([]byte, error) {
	if len(body) > MaxBodySize {
		return dst, ErrFrameTooLarge
	}
	var hdr [frameHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(len(body)))
	hdr[4] = msgType
	dst = append(dst, hdr[:]...)
	return append(dst, body...), nil
}

// ReadFrame extracts one frame from buf. consumed is 0 when the frame is
// incomplete; the caller retries once more bytes arrive. The returned body
// aliases buf and must be consumed before the buffer is reused.
func ReadFrame(buf []byte) (msgType byte, body []byte, consumed int, err error) {
	if len(buf) < frameHeaderSize {
		return 0, nil, 0, nil
	}
	n := binary.LittleEndian.Uint32(buf[0:4])
	if n > MaxBodySize {
		return 0, nil, 0, ErrFrameTooLarge
	}
	total := frameHeaderSize + int(n)
	if len(buf) < total {
		return 0, nil, 0, nil
	}
	return buf[4], buf[frameHeaderSize:total], total, nil
}
