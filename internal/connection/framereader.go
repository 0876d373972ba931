package connection

import (
	"chatty/internal/chattyerr"
	"chatty/internal/protocol"
)

// frameReader accumulates bytes off a Stream and yields decoded
// envelopes one at a time, matching protocol.TryDecode's non-destructive
// contract: only consumed bytes are dropped from the internal buffer.
type frameReader struct {
	r         Stream
	maxBytes  uint32
	buf       []byte
	chunkSize int
}

func newFrameReader(r Stream, maxBytes uint32) *frameReader {
	return &frameReader{r: r, maxBytes: maxBytes, chunkSize: 4096}
}

// Next blocks until a full envelope is available, reading more off the
// underlying stream as needed.
func (f *frameReader) Next() (*protocol.Envelope, error) {
	for {
		env, n, err := protocol.TryDecode(f.buf, f.maxBytes)
		if err == nil {
			f.buf = f.buf[n:]
			return env, nil
		}
		if err != chattyerr.ErrNeedsMore {
			return nil, err
		}

		chunk := make([]byte, f.chunkSize)
		n2, rerr := f.r.Read(chunk)
		if n2 > 0 {
			f.buf = append(f.buf, chunk[:n2]...)
		}
		if rerr != nil {
			return nil, rerr
		}
	}
}
