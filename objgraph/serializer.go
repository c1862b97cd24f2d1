package objgraph

import (
	"bytes"
	"io"
	"reflect"
)

// Serializer runs serialization and deserialization sessions with fixed
// options. It is safe for concurrent use; every call is its own session.
type Serializer struct {
	opts Options
}

// NewSerializer creates a serializer. Unset collaborators in opts take
// their defaults.
func NewSerializer(opts Options) *Serializer {
	return &Serializer{opts: opts.withDefaults()}
}

// Options returns the serializer's options.
func (s *Serializer) Options() Options {
	return s.opts
}

// Serialize writes v as the root of one session. The root node always
// carries its type so that it can be read back into an interface.
func (s *Serializer) Serialize(sink io.Writer, v any) (err error) {
	w := NewWriter(sink, NewSerializationContext(s.opts))
	return s.SerializeWith(w, v)
}

// SerializeWith starts a new session on w and writes v as its root.
// Reusing a writer keeps its buffer across sessions. A failed session
// leaves nothing in the buffer.
func (s *Serializer) SerializeWith(w *Writer, v any) (err error) {
	w.PrepareNewSession()
	defer func() {
		if err != nil {
			w.DiscardSession()
		}
	}()
	defer recoverAbort(&err)
	w.WriteValue("", reflect.ValueOf(v), anyType)
	return w.Flush()
}

// Deserialize reads one session from src into target, which must be a
// non-nil pointer.
func (s *Serializer) Deserialize(src io.Reader, target any) (err error) {
	r := NewReader(src, NewDeserializationContext(s.opts))
	return s.DeserializeWith(r, target)
}

// DeserializeWith starts a new session on r and reads its root into target.
func (s *Serializer) DeserializeWith(r *Reader, target any) (err error) {
	dst := reflect.ValueOf(target)
	if dst.Kind() != reflect.Pointer || dst.IsNil() {
		return NewError(CodeUsage, "deserialize target must be a non-nil pointer, got %T", target)
	}
	r.PrepareNewSession()
	defer recoverAbort(&err)
	r.ReadValueInto(dst.Elem())
	if err := r.Err(); err != nil {
		return WrapError(CodeIO, err, "reading source")
	}
	return nil
}

// ============================================================
// Convenience functions
// ============================================================

// Marshal serializes v with DefaultOptions.
func Marshal(v any) ([]byte, error) {
	return MarshalWithOptions(v, DefaultOptions())
}

// MarshalWithOptions serializes v with opts.
func MarshalWithOptions(v any, opts Options) ([]byte, error) {
	var buf bytes.Buffer
	if err := NewSerializer(opts).Serialize(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal deserializes data into target with DefaultOptions.
func Unmarshal(data []byte, target any) error {
	return UnmarshalWithOptions(data, target, DefaultOptions())
}

// UnmarshalWithOptions deserializes data into target with opts.
func UnmarshalWithOptions(data []byte, target any, opts Options) error {
	return NewSerializer(opts).Deserialize(bytes.NewReader(data), target)
}
