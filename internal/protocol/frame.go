package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"chatty/internal/chattyerr"
)

// FrameHeaderLen is the size of the length prefix: a big-endian uint32.
const FrameHeaderLen = 4

// DefaultMaxFrameBytes is the ceiling used before Welcome negotiates one.
const DefaultMaxFrameBytes = 1 << 20 // 1 MiB

// Encode serializes env as a length-prefixed frame. Returns ErrTooLarge if
// the encoded envelope would exceed maxBytes.
func Encode(env *Envelope, maxBytes uint32) ([]byte, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	if uint32(len(body)) > maxBytes {
		return nil, chattyerr.ErrTooLarge
	}
	out := make([]byte, FrameHeaderLen+len(body))
	binary.BigEndian.PutUint32(out[:FrameHeaderLen], uint32(len(body)))
	copy(out[FrameHeaderLen:], body)
	return out, nil
}

// EncodeEvent is the events-stream analogue of Encode.
func EncodeEvent(env *EventEnvelope, maxBytes uint32) ([]byte, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode event envelope: %w", err)
	}
	if uint32(len(body)) > maxBytes {
		return nil, chattyerr.ErrTooLarge
	}
	out := make([]byte, FrameHeaderLen+len(body))
	binary.BigEndian.PutUint32(out[:FrameHeaderLen], uint32(len(body)))
	copy(out[FrameHeaderLen:], body)
	return out, nil
}

// TryDecode attempts to decode one frame from the front of buf. It is
// non-destructive: on ErrNeedsMore the caller's buffer is untouched and
// bytesConsumed is 0. On success bytesConsumed tells the caller how much of
// buf to drop before the next call.
func TryDecode(buf []byte, maxBytes uint32) (env *Envelope, bytesConsumed int, err error) {
	if len(buf) < FrameHeaderLen {
		return nil, 0, chattyerr.ErrNeedsMore
	}
	length := binary.BigEndian.Uint32(buf[:FrameHeaderLen])
	if length > maxBytes {
		return nil, 0, chattyerr.ErrTooLarge
	}
	total := FrameHeaderLen + int(length)
	if len(buf) < total {
		return nil, 0, chattyerr.ErrNeedsMore
	}
	var e Envelope
	if err := json.Unmarshal(buf[FrameHeaderLen:total], &e); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", chattyerr.ErrMalformed, err)
	}
	return &e, total, nil
}
