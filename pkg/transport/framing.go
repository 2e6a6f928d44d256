package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"
)

// Framing constants.
const (
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4

	// DefaultMaxMessageSize is the default maximum message size (64 KiB),
	// matching the boundary named in the protocol's framing law.
	DefaultMaxMessageSize = 65536

	// MinMessageSize is the minimum valid message size. A zero-length body
	// is legal (it is how the framing law's boundary case is expressed) so
	// this constant exists only for documentation; ReadFrame/WriteFrame do
	// not reject a 0-byte payload.
	MinMessageSize = 0

	// MaxLogFrameBytes is the maximum frame byte count logged at debug
	// level before truncation, to avoid excessive log volume.
	MaxLogFrameBytes = 256
)

// Framing errors.
var (
	// ErrMessageTooLarge indicates the message exceeds the maximum size.
	ErrMessageTooLarge = errors.New("transport: message too large")

	// ErrFrameTruncated indicates the frame was truncated mid-read.
	ErrFrameTruncated = errors.New("transport: frame truncated")
)

// FrameWriter writes length-prefixed frames to an underlying writer.
type FrameWriter struct {
	w              io.Writer
	maxMessageSize uint32
	mu             sync.Mutex

	log zerolog.Logger
}

// NewFrameWriter creates a new frame writer using the default max size.
func NewFrameWriter(w io.Writer, logger zerolog.Logger) *FrameWriter {
	return NewFrameWriterWithMaxSize(w, DefaultMaxMessageSize, logger)
}

// NewFrameWriterWithMaxSize creates a frame writer with a custom max size.
func NewFrameWriterWithMaxSize(w io.Writer, maxSize uint32, logger zerolog.Logger) *FrameWriter {
	return &FrameWriter{
		w:              w,
		maxMessageSize: maxSize,
		log:            logger,
	}
}

// WriteFrame writes a length-prefixed frame. A 0-byte payload is valid and
// writes only the 4-byte length prefix. Thread-safe: can be called from
// multiple goroutines, since a forwarder and a handler may write to the
// same connection concurrently.
func (fw *FrameWriter) WriteFrame(data []byte) error {
	if uint32(len(data)) > fw.maxMessageSize {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(data), fw.maxMessageSize)
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()

	var lengthBuf [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(lengthBuf[:], uint32(len(data)))

	if _, err := fw.w.Write(lengthBuf[:]); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	if len(data) > 0 {
		if _, err := fw.w.Write(data); err != nil {
			return fmt.Errorf("write payload: %w", err)
		}
	}

	if fw.log.GetLevel() <= zerolog.TraceLevel {
		fw.log.Trace().Int("bytes", len(data)).Bytes("body", truncateForLog(data)).Msg("frame out")
	}

	return nil
}

// FrameReader reads length-prefixed frames from an underlying reader.
type FrameReader struct {
	r              io.Reader
	maxMessageSize uint32
	lengthBuf      [LengthPrefixSize]byte

	log zerolog.Logger
}

// NewFrameReader creates a new frame reader using the default max size.
func NewFrameReader(r io.Reader, logger zerolog.Logger) *FrameReader {
	return NewFrameReaderWithMaxSize(r, DefaultMaxMessageSize, logger)
}

// NewFrameReaderWithMaxSize creates a frame reader with a custom max size.
func NewFrameReaderWithMaxSize(r io.Reader, maxSize uint32, logger zerolog.Logger) *FrameReader {
	return &FrameReader{
		r:              r,
		maxMessageSize: maxSize,
		log:            logger,
	}
}

// ReadFrame reads one length-prefixed frame and returns its payload
// (without the length prefix). A payload of length 0 is returned as a
// non-nil empty slice, not an error. io.EOF is returned verbatim when the
// peer closed before any bytes of a new frame arrived; a close mid-frame is
// reported as ErrFrameTruncated so callers can distinguish a clean
// disconnect from a violated framing law.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	if _, err := io.ReadFull(fr.r, fr.lengthBuf[:]); err != nil {
		if err == io.EOF {
			return nil, err
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrFrameTruncated
		}
		return nil, fmt.Errorf("read length prefix: %w", err)
	}

	length := binary.BigEndian.Uint32(fr.lengthBuf[:])
	if length > fr.maxMessageSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, length, fr.maxMessageSize)
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(fr.r, payload); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || err == io.EOF {
				return nil, ErrFrameTruncated
			}
			return nil, fmt.Errorf("read payload: %w", err)
		}
	}

	if fr.log.GetLevel() <= zerolog.TraceLevel {
		fr.log.Trace().Int("bytes", len(payload)).Bytes("body", truncateForLog(payload)).Msg("frame in")
	}

	return payload, nil
}

// SetMaxMessageSize updates the maximum message size.
func (fr *FrameReader) SetMaxMessageSize(size uint32) {
	fr.maxMessageSize = size
}

// Framer combines frame reading and writing over a single connection.
type Framer struct {
	*FrameReader
	*FrameWriter
}

// NewFramer creates a new framer for bidirectional communication using the
// default max message size.
func NewFramer(rw io.ReadWriter, logger zerolog.Logger) *Framer {
	return NewFramerWithMaxSize(rw, DefaultMaxMessageSize, logger)
}

// NewFramerWithMaxSize creates a framer with a custom max message size.
func NewFramerWithMaxSize(rw io.ReadWriter, maxSize uint32, logger zerolog.Logger) *Framer {
	return &Framer{
		FrameReader: NewFrameReaderWithMaxSize(rw, maxSize, logger),
		FrameWriter: NewFrameWriterWithMaxSize(rw, maxSize, logger),
	}
}

// FrameSize returns the total frame size including the length prefix.
func FrameSize(payloadSize int) int {
	return LengthPrefixSize + payloadSize
}

func truncateForLog(data []byte) []byte {
	if len(data) <= MaxLogFrameBytes {
		return data
	}
	return data[:MaxLogFrameBytes]
}
