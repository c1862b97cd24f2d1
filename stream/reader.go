package stream

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Reader reads framed sessions from an io.Reader.
type Reader struct {
	r          *bufio.Reader
	maxPayload int
	verifyCRC  bool
	checkSeq   bool

	dec     *zstd.Decoder
	offset  int64
	nextSeq uint64
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithMaxPayload sets the maximum payload size, stored and decoded
// (default: 64 MiB).
func WithMaxPayload(max int) ReaderOption {
	return func(r *Reader) {
		r.maxPayload = max
	}
}

// WithCRCVerification turns CRC verification on or off (default on).
func WithCRCVerification(verify bool) ReaderOption {
	return func(r *Reader) {
		r.verifyCRC = verify
	}
}

// WithSequenceCheck requires frames to be numbered 0, 1, 2, ...
func WithSequenceCheck() ReaderOption {
	return func(r *Reader) {
		r.checkSeq = true
	}
}

// NewReader creates a frame reader.
func NewReader(r io.Reader, opts ...ReaderOption) *Reader {
	reader := &Reader{
		r:          bufio.NewReader(r),
		maxPayload: MaxPayloadSize,
		verifyCRC:  true,
	}
	for _, opt := range opts {
		opt(reader)
	}
	return reader
}

// Next reads and returns the next frame with its payload decoded.
// Returns io.EOF when no more frames are available.
func (r *Reader) Next() (*Frame, error) {
	var start int64
	var headerLine string
	for {
		start = r.offset
		line, err := r.r.ReadString('\n')
		r.offset += int64(len(line))
		blank := strings.TrimSpace(line) == ""
		if err != nil {
			if err == io.EOF && blank {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("read header: %w", err)
		}
		// Blank lines between frames are tolerated.
		if !blank {
			headerLine = line
			break
		}
	}

	frame, storedLen, err := parseHeader(headerLine, start)
	if err != nil {
		return nil, err
	}
	if storedLen > r.maxPayload {
		return nil, fmt.Errorf("%w: frame %d stores %d bytes, limit %d", ErrPayloadTooLarge, frame.Seq, storedLen, r.maxPayload)
	}
	if r.checkSeq {
		if frame.Seq != r.nextSeq {
			return nil, &SequenceError{Expected: r.nextSeq, Got: frame.Seq}
		}
		r.nextSeq++
	}

	var stored []byte
	if storedLen > 0 {
		stored = make([]byte, storedLen)
		n, err := io.ReadFull(r.r, stored)
		r.offset += int64(n)
		if err != nil {
			return nil, fmt.Errorf("read payload: %w", err)
		}
	}

	// The trailing newline is optional at EOF.
	if b, err := r.r.ReadByte(); err == nil {
		if b == '\n' {
			r.offset++
		} else {
			r.r.UnreadByte()
		}
	}

	if r.verifyCRC && frame.CRC != nil {
		if !VerifyCRC(stored, *frame.CRC) {
			return nil, &CRCMismatchError{Seq: frame.Seq, Expected: *frame.CRC, Got: ComputeCRC(stored)}
		}
	}

	frame.Payload, err = r.decode(frame, stored)
	if err != nil {
		return nil, err
	}
	return frame, nil
}

func (r *Reader) decode(f *Frame, stored []byte) ([]byte, error) {
	if f.Encoding == EncodingNone || len(stored) == 0 {
		return stored, nil
	}
	if r.dec == nil {
		d, err := zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderMaxMemory(uint64(r.maxPayload)))
		if err != nil {
			return nil, fmt.Errorf("create decoder: %w", err)
		}
		r.dec = d
	}
	out, err := r.dec.DecodeAll(stored, nil)
	if err != nil {
		if errors.Is(err, zstd.ErrDecoderSizeExceeded) || errors.Is(err, zstd.ErrWindowSizeExceeded) {
			return nil, fmt.Errorf("%w: frame %d decodes past %d bytes", ErrPayloadTooLarge, f.Seq, r.maxPayload)
		}
		return nil, fmt.Errorf("decompress frame %d: %w", f.Seq, err)
	}
	if len(out) > r.maxPayload {
		return nil, fmt.Errorf("%w: frame %d decodes to %d bytes, limit %d", ErrPayloadTooLarge, f.Seq, len(out), r.maxPayload)
	}
	return out, nil
}

// parseHeader parses the @frame{...} header line and returns the stored
// payload length.
func parseHeader(line string, offset int64) (*Frame, int, error) {
	line = strings.TrimSpace(line)

	if !strings.HasPrefix(line, "@frame{") {
		return nil, 0, &ParseError{Reason: "expected @frame{", Offset: offset}
	}
	endIdx := strings.LastIndex(line, "}")
	if endIdx < 0 {
		return nil, 0, &ParseError{Reason: "missing closing }", Offset: offset + int64(len(line))}
	}

	frame := &Frame{Version: Version}
	storedLen := -1

	for _, pair := range strings.FieldsFunc(line[len("@frame{"):endIdx], isSeparator) {
		key, val, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}

		switch key {
		case "v":
			v, err := strconv.ParseUint(val, 10, 8)
			if err != nil {
				return nil, 0, &ParseError{Reason: "invalid version", Offset: offset}
			}
			if uint8(v) != Version {
				return nil, 0, fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
			}
			frame.Version = uint8(v)

		case "seq":
			seq, err := strconv.ParseUint(val, 10, 64)
			if err != nil {
				return nil, 0, &ParseError{Reason: "invalid seq", Offset: offset}
			}
			frame.Seq = seq

		case "len":
			l, err := strconv.ParseUint(val, 10, 32)
			if err != nil {
				return nil, 0, &ParseError{Reason: "invalid len", Offset: offset}
			}
			storedLen = int(l)

		case "crc":
			crc, ok := parseCRC(val)
			if !ok {
				return nil, 0, &ParseError{Reason: "invalid crc: " + val, Offset: offset}
			}
			frame.CRC = &crc

		case "enc":
			enc, ok := ParseEncoding(val)
			if !ok {
				return nil, 0, &ParseError{Reason: "unknown encoding: " + val, Offset: offset}
			}
			frame.Encoding = enc
		}
	}

	if storedLen < 0 {
		return nil, 0, &ParseError{Reason: "missing len", Offset: offset}
	}
	return frame, storedLen, nil
}

func isSeparator(r rune) bool {
	return r == ' ' || r == ',' || r == '\t'
}

// ReadAll reads all frames until EOF.
func (r *Reader) ReadAll() ([]*Frame, error) {
	var frames []*Frame
	for {
		frame, err := r.Next()
		if err == io.EOF {
			return frames, nil
		}
		if err != nil {
			return frames, err
		}
		frames = append(frames, frame)
	}
}

// Close releases the decompressor. It does not close the underlying reader.
func (r *Reader) Close() {
	if r.dec != nil {
		r.dec.Close()
		r.dec = nil
	}
}
