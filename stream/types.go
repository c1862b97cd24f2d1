// Package stream frames serialized object-graph sessions for storage and
// transport.
//
// Every frame carries the output of exactly one session:
//
//	@frame{v=1 seq=N len=N [crc=XXXXXXXX] [enc=zstd]}\n
//	<payload bytes>\n
//
// len counts the payload bytes as stored, after compression. crc covers the
// stored bytes, so corruption is detected before decompression runs.
// The payload itself is an ordinary stream understood by package objgraph.
package stream

import (
	"errors"
	"fmt"
)

// Version is the envelope version.
const Version uint8 = 1

// MaxPayloadSize is the default maximum payload size (64 MiB).
const MaxPayloadSize = 64 * 1024 * 1024

// Encoding names how a payload is stored inside its frame.
type Encoding uint8

const (
	EncodingNone Encoding = iota // payload stored as written
	EncodingZstd                 // payload compressed with zstd
)

// String returns the header spelling of the encoding.
func (e Encoding) String() string {
	switch e {
	case EncodingNone:
		return "none"
	case EncodingZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", e)
	}
}

// ParseEncoding parses the enc= header value.
func ParseEncoding(s string) (Encoding, bool) {
	switch s {
	case "", "none":
		return EncodingNone, true
	case "zstd":
		return EncodingZstd, true
	}
	return 0, false
}

// Frame is one framed session.
type Frame struct {
	Version  uint8
	Seq      uint64   // position of the session in the stream, from 0
	Encoding Encoding // storage encoding of the payload
	Payload  []byte   // decoded payload

	CRC *uint32 // CRC-32 of the stored payload (nil if not present)
}

// HasCRC returns true if a CRC was written or read for the frame.
func (f *Frame) HasCRC() bool {
	return f.CRC != nil
}

var (
	// ErrPayloadTooLarge is returned when a frame exceeds the reader's limit.
	ErrPayloadTooLarge = errors.New("stream: payload too large")

	// ErrUnsupportedVersion is returned for frames with v other than 1.
	ErrUnsupportedVersion = errors.New("stream: unsupported version")
)

// ParseError reports a malformed frame header.
type ParseError struct {
	Reason string
	Offset int64
}

func (e *ParseError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("stream: %s at offset %d", e.Reason, e.Offset)
	}
	return fmt.Sprintf("stream: %s", e.Reason)
}

// CRCMismatchError is returned when CRC verification fails.
type CRCMismatchError struct {
	Seq      uint64
	Expected uint32
	Got      uint32
}

func (e *CRCMismatchError) Error() string {
	return fmt.Sprintf("stream: frame %d: CRC mismatch: expected %08x, got %08x", e.Seq, e.Expected, e.Got)
}

// SequenceError is returned when frames arrive out of order.
type SequenceError struct {
	Expected uint64
	Got      uint64
}

func (e *SequenceError) Error() string {
	if e.Got < e.Expected {
		return fmt.Sprintf("stream: sequence not monotonic: got %d, expected %d", e.Got, e.Expected)
	}
	return fmt.Sprintf("stream: sequence gap: expected %d, got %d", e.Expected, e.Got)
}
