package stream

import (
	"bytes"
	"io"

	"github.com/Neumenon/objgraph/objgraph"
)

// Encoder serializes values into consecutive frames, one session per value.
type Encoder struct {
	fw  *Writer
	s   *objgraph.Serializer
	buf bytes.Buffer
	w   *objgraph.Writer
}

// NewEncoder creates an encoder. A nil serializer uses compact defaults.
func NewEncoder(w io.Writer, s *objgraph.Serializer, opts ...WriterOption) *Encoder {
	if s == nil {
		s = objgraph.NewSerializer(objgraph.CompactOptions())
	}
	e := &Encoder{fw: NewWriter(w, opts...), s: s}
	e.w = objgraph.NewWriter(&e.buf, objgraph.NewSerializationContext(s.Options()))
	return e
}

// Encode serializes v as one session and writes it as the next frame.
func (e *Encoder) Encode(v any) error {
	e.buf.Reset()
	if err := e.s.SerializeWith(e.w, v); err != nil {
		return err
	}
	return e.fw.WritePayload(e.buf.Bytes())
}

// Close releases the frame writer's compressor.
func (e *Encoder) Close() error {
	return e.fw.Close()
}

// Decoder reads consecutive frames and deserializes one session per frame.
type Decoder struct {
	fr *Reader
	s  *objgraph.Serializer
}

// NewDecoder creates a decoder. A nil serializer uses default options.
func NewDecoder(r io.Reader, s *objgraph.Serializer, opts ...ReaderOption) *Decoder {
	if s == nil {
		s = objgraph.NewSerializer(objgraph.DefaultOptions())
	}
	return &Decoder{fr: NewReader(r, opts...), s: s}
}

// Decode reads the next frame into target. It returns io.EOF after the last
// frame.
func (d *Decoder) Decode(target any) error {
	f, err := d.fr.Next()
	if err != nil {
		return err
	}
	return d.s.Deserialize(bytes.NewReader(f.Payload), target)
}

// Close releases the frame reader's decompressor.
func (d *Decoder) Close() {
	d.fr.Close()
}
