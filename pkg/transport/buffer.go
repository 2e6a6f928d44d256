package transport

import (
	"encoding/binary"
	"errors"
)

// maxBufferMultiple bounds how many unconsumed bytes a connection's Buffer
// may hold before Append refuses more input — a client that never sends a
// complete frame cannot grow the buffer without limit.
const maxBufferMultiple = 2

// ErrBufferOverflow indicates a connection accumulated more unconsumed
// bytes than the buffer's cap allows without ever completing a frame.
var ErrBufferOverflow = errors.New("transport: receive buffer overflow")

// Buffer accumulates raw bytes read off one connection and yields complete
// frame bodies as they become available. It is the Go expression of the
// per-connection buffer: owned by exactly one reader goroutine and never
// read concurrently, so it carries no internal lock.
type Buffer struct {
	data    []byte
	maxSize uint32
}

// NewBuffer creates a buffer that rejects frames over maxSize bytes and
// refuses to accumulate more than maxSize*2 unconsumed bytes.
func NewBuffer(maxSize uint32) *Buffer {
	return &Buffer{maxSize: maxSize}
}

// Append copies data onto the end of the buffer. It fails with
// ErrBufferOverflow if doing so would exceed the buffer's cap; the caller
// should close the connection with a protocol-error reason in that case.
func (b *Buffer) Append(data []byte) error {
	if uint64(len(b.data))+uint64(len(data)) > uint64(b.maxSize)*maxBufferMultiple {
		return ErrBufferOverflow
	}
	b.data = append(b.data, data...)
	return nil
}

// Extract greedily removes and returns every complete frame body currently
// available in the buffer, advancing the read cursor past each one. It
// returns zero or more bodies; a partial frame at the tail is left in the
// buffer for the next Append. If a declared frame length exceeds maxSize,
// the buffer is cleared and ErrMessageTooLarge is returned — the
// connection is now in protocol error and must be closed.
func (b *Buffer) Extract() ([][]byte, error) {
	var bodies [][]byte

	for {
		if len(b.data) < LengthPrefixSize {
			break
		}
		length := binary.BigEndian.Uint32(b.data[:LengthPrefixSize])
		if length > b.maxSize {
			b.data = nil
			return bodies, ErrMessageTooLarge
		}

		total := LengthPrefixSize + int(length)
		if len(b.data) < total {
			break
		}

		body := make([]byte, length)
		copy(body, b.data[LengthPrefixSize:total])
		bodies = append(bodies, body)
		b.data = b.data[total:]
	}

	return bodies, nil
}

// Len reports the number of unconsumed bytes currently buffered.
func (b *Buffer) Len() int {
	return len(b.data)
}
