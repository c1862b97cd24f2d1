package stream

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Writer writes framed sessions to an io.Writer.
type Writer struct {
	w        io.Writer
	withCRC  bool
	encoding Encoding
	level    zstd.EncoderLevel
	enc      *zstd.Encoder
	seq      uint64
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithCRC adds a CRC-32 of the stored payload to every frame.
func WithCRC() WriterOption {
	return func(w *Writer) {
		w.withCRC = true
	}
}

// WithZstd compresses every payload written through WritePayload.
func WithZstd() WriterOption {
	return func(w *Writer) {
		w.encoding = EncodingZstd
	}
}

// WithZstdLevel compresses payloads at the given level.
func WithZstdLevel(level zstd.EncoderLevel) WriterOption {
	return func(w *Writer) {
		w.encoding = EncodingZstd
		w.level = level
	}
}

// NewWriter creates a frame writer.
func NewWriter(w io.Writer, opts ...WriterOption) *Writer {
	fw := &Writer{w: w, level: zstd.SpeedDefault}
	for _, opt := range opts {
		opt(fw)
	}
	return fw
}

// WritePayload frames one session payload under the next sequence number.
func (w *Writer) WritePayload(payload []byte) error {
	err := w.WriteFrame(&Frame{
		Version:  Version,
		Seq:      w.seq,
		Encoding: w.encoding,
		Payload:  payload,
	})
	if err != nil {
		return err
	}
	w.seq++
	return nil
}

// WriteFrame writes a single frame.
//
// Format:
//
//	@frame{v=1 seq=N len=N [crc=XXXXXXXX] [enc=zstd]}\n
//	<payload bytes>\n
func (w *Writer) WriteFrame(f *Frame) error {
	stored, err := w.encode(f.Encoding, f.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	var header strings.Builder
	header.WriteString("@frame{v=")
	if f.Version == 0 {
		header.WriteByte('1')
	} else {
		header.WriteString(strconv.Itoa(int(f.Version)))
	}

	header.WriteString(" seq=")
	header.WriteString(strconv.FormatUint(f.Seq, 10))

	header.WriteString(" len=")
	header.WriteString(strconv.Itoa(len(stored)))

	crc := f.CRC
	if crc == nil && w.withCRC {
		computed := ComputeCRC(stored)
		crc = &computed
	}
	if crc != nil {
		header.WriteString(" crc=")
		header.WriteString(formatCRC(*crc))
	}

	if f.Encoding != EncodingNone {
		header.WriteString(" enc=")
		header.WriteString(f.Encoding.String())
	}

	header.WriteString("}\n")

	if _, err := io.WriteString(w.w, header.String()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if len(stored) > 0 {
		if _, err := w.w.Write(stored); err != nil {
			return fmt.Errorf("write payload: %w", err)
		}
	}
	if _, err := io.WriteString(w.w, "\n"); err != nil {
		return fmt.Errorf("write trailing newline: %w", err)
	}
	return nil
}

func (w *Writer) encode(enc Encoding, payload []byte) ([]byte, error) {
	switch enc {
	case EncodingNone:
		return payload, nil
	case EncodingZstd:
		if w.enc == nil {
			e, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(w.level))
			if err != nil {
				return nil, err
			}
			w.enc = e
		}
		return w.enc.EncodeAll(payload, nil), nil
	default:
		return nil, fmt.Errorf("unsupported encoding %s", enc)
	}
}

// Close releases the compressor. It does not close the underlying writer.
func (w *Writer) Close() error {
	if w.enc != nil {
		err := w.enc.Close()
		w.enc = nil
		return err
	}
	return nil
}
