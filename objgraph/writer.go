package objgraph

import (
	"io"
	"math"
	"reflect"
	"strconv"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Writer emits entries in the structured grammar.
//
// Output is staged in a buffer that is flushed to the sink only when the
// next entry does not fit, so an entry is never split across flushes.
// A Writer belongs to one session at a time and is not safe for concurrent use.
type Writer struct {
	sink io.Writer
	ctx  *SerializationContext

	buf     []byte
	scratch []byte

	stack nodeStack
	types map[reflect.Type]int // session type aliases

	justStarted bool // no sibling written yet at the current depth
	wroteAny    bool

	format        Format
	optimizeTypes bool

	err error
}

// NewWriter creates a writer over sink for the given session context.
func NewWriter(sink io.Writer, ctx *SerializationContext) *Writer {
	if ctx == nil {
		ctx = NewSerializationContext(DefaultOptions())
	}
	opts := ctx.Options()
	w := &Writer{
		sink:          sink,
		ctx:           ctx,
		buf:           make([]byte, 0, opts.BufferSize),
		scratch:       make([]byte, 0, 128),
		types:         make(map[reflect.Type]int),
		format:        opts.Format,
		optimizeTypes: opts.OptimizeTypeNames,
	}
	w.PrepareNewSession()
	return w
}

// Context returns the session context.
func (w *Writer) Context() *SerializationContext {
	return w.ctx
}

// PrepareNewSession clears the node stack, the type alias table and the
// context's reference ids. Buffered output is kept.
func (w *Writer) PrepareNewSession() {
	w.stack.reset()
	clear(w.types)
	w.ctx.Reset()
	w.justStarted = true
	w.wroteAny = false
}

// DiscardSession drops output not yet flushed to the sink and closes every
// open node. Bytes already handed to the sink are not recalled.
func (w *Writer) DiscardSession() {
	w.buf = w.buf[:0]
	w.stack.reset()
	w.justStarted = true
	w.wroteAny = false
}

// Depth returns the number of open nodes and arrays.
func (w *Writer) Depth() int {
	return w.stack.depth()
}

// CurrentNode returns the innermost open node.
func (w *Writer) CurrentNode() NodeInfo {
	return w.stack.current()
}

// Err returns the first sink error.
func (w *Writer) Err() error {
	return w.err
}

// Flush writes buffered output to the sink.
func (w *Writer) Flush() error {
	w.flushBuffer()
	return w.err
}

// ============================================================
// Nodes and arrays
// ============================================================

// BeginReferenceNode opens a node carrying reference id and, when typ is not
// nil, a type entry.
func (w *Writer) BeginReferenceNode(name string, typ reflect.Type, id int) {
	w.openNode(name)
	w.stack.push(NodeInfo{Name: name, ID: id, Type: typ})
	w.writeEntry(SigID, strconv.Itoa(id))
	if typ != nil {
		w.writeTypeEntry(typ)
	}
}

// BeginStructNode opens a node without a reference id.
func (w *Writer) BeginStructNode(name string, typ reflect.Type) {
	w.openNode(name)
	w.stack.push(NodeInfo{Name: name, ID: -1, Type: typ})
	if typ != nil {
		w.writeTypeEntry(typ)
	}
}

// EndNode closes the node opened under name.
func (w *Writer) EndNode(name string) {
	node := w.stack.pop(name)
	if node.IsArray {
		panic("objgraph: EndNode called on an open array")
	}
	w.closeScope('}')
}

// BeginArrayNode writes the length and content-start entries of an array.
func (w *Writer) BeginArrayNode(length int) {
	w.writeEntry(SigRegularLength, strconv.Itoa(length))
	w.openArray(SigRegularContent)
}

// EndArrayNode closes the innermost array.
func (w *Writer) EndArrayNode() {
	node := w.stack.popAny()
	if !node.IsArray {
		panic("objgraph: EndArrayNode called on an open node")
	}
	w.closeScope(']')
}

func (w *Writer) openNode(name string) {
	w.beginEntry(name)
	w.scratch = append(w.scratch, '{')
	w.commit()
	w.justStarted = true
}

func (w *Writer) openArray(sig string) {
	w.beginEntry(sig)
	w.scratch = append(w.scratch, '[')
	w.commit()
	w.stack.push(NodeInfo{ID: -1, IsArray: true})
	w.justStarted = true
}

// closeScope writes a terminator. An empty scope closes on the same line.
func (w *Writer) closeScope(terminator byte) {
	w.scratch = w.scratch[:0]
	if w.format == FormatReadable && !w.justStarted {
		w.scratch = append(w.scratch, '\n')
		w.scratch = appendIndent(w.scratch, w.stack.depth())
	}
	w.scratch = append(w.scratch, terminator)
	w.emit(w.scratch)
	w.justStarted = false
	w.wroteAny = true
}

// ============================================================
// Primitive arrays
// ============================================================

// PrimitiveElement lists the fixed-width element types a primitive array may hold.
type PrimitiveElement interface {
	~bool |
		~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr |
		~float32 | ~float64
}

// WritePrimitiveArray writes values as a primitive array of unnamed leaves.
func WritePrimitiveArray[T PrimitiveElement](w *Writer, values []T) {
	// The constraint guarantees a fixed-width element, so no error is possible.
	_ = w.WritePrimitiveArrayValue(reflect.ValueOf(values))
}

// WritePrimitiveArrayValue writes a slice or array of fixed-width primitives.
func (w *Writer) WritePrimitiveArrayValue(v reflect.Value) error {
	if (v.Kind() != reflect.Slice && v.Kind() != reflect.Array) || !isFixedWidthKind(v.Type().Elem().Kind()) {
		return WrapError(CodeUsage, ErrNotPrimitiveArray, "writing %s", v.Type())
	}
	n := v.Len()
	w.writeEntry(SigPrimitiveLength, strconv.Itoa(n))
	w.openArray(SigPrimitiveContent)
	for i := 0; i < n; i++ {
		w.writePrimitive("", v.Index(i))
	}
	w.EndArrayNode()
	return nil
}

// ============================================================
// Leaves
// ============================================================

// WriteInt writes a signed integer.
func (w *Writer) WriteInt(name string, v int64) {
	w.beginEntry(name)
	w.scratch = strconv.AppendInt(w.scratch, v, 10)
	w.commit()
}

// WriteUint writes an unsigned integer.
func (w *Writer) WriteUint(name string, v uint64) {
	w.beginEntry(name)
	w.scratch = strconv.AppendUint(w.scratch, v, 10)
	w.commit()
}

// WriteFloat64 writes a float in its shortest round-trip form.
func (w *Writer) WriteFloat64(name string, f float64) {
	w.beginEntry(name)
	w.scratch = appendFloat(w.scratch, f, 64)
	w.commit()
}

// WriteFloat32 writes a float32 in its shortest round-trip form.
func (w *Writer) WriteFloat32(name string, f float32) {
	w.beginEntry(name)
	w.scratch = appendFloat(w.scratch, float64(f), 32)
	w.commit()
}

// WriteBool writes true or false.
func (w *Writer) WriteBool(name string, b bool) {
	w.beginEntry(name)
	w.scratch = strconv.AppendBool(w.scratch, b)
	w.commit()
}

// WriteString writes a quoted, escaped string.
func (w *Writer) WriteString(name, s string) {
	w.beginEntry(name)
	w.scratch = appendQuoted(w.scratch, s)
	w.commit()
}

// WriteChar writes a single character as a one-character string.
func (w *Writer) WriteChar(name string, r rune) {
	w.beginEntry(name)
	w.scratch = append(w.scratch, '"')
	w.scratch = appendEscapedRune(w.scratch, r)
	w.scratch = append(w.scratch, '"')
	w.commit()
}

// WriteGuid writes an unquoted GUID.
func (w *Writer) WriteGuid(name string, g uuid.UUID) {
	w.beginEntry(name)
	w.scratch = append(w.scratch, g.String()...)
	w.commit()
}

// WriteNull writes null.
func (w *Writer) WriteNull(name string) {
	w.writeEntry(name, "null")
}

// WriteInternalReference writes a reference to node id in this stream.
func (w *Writer) WriteInternalReference(name string, id int) {
	w.writeEntry(name, SigInternalRef+":"+strconv.Itoa(id))
}

// WriteExternalReferenceByIndex writes a reference resolved by the host by index.
func (w *Writer) WriteExternalReferenceByIndex(name string, index int) {
	w.writeEntry(name, SigExternalIndexRef+":"+strconv.Itoa(index))
}

// WriteExternalReferenceByGuid writes a reference resolved by the host by GUID.
func (w *Writer) WriteExternalReferenceByGuid(name string, g uuid.UUID) {
	w.writeEntry(name, SigExternalGuidRef+":"+g.String())
}

// WriteExternalReferenceByString writes a reference resolved by the host by key.
func (w *Writer) WriteExternalReferenceByString(name, key string) {
	w.beginEntry(name)
	w.scratch = append(w.scratch, SigExternalStringRef...)
	w.scratch = append(w.scratch, ':')
	w.scratch = appendQuoted(w.scratch, key)
	w.commit()
}

// writePrimitive writes a primitive-kinded value, including named types.
func (w *Writer) writePrimitive(name string, v reflect.Value) {
	switch v.Kind() {
	case reflect.Bool:
		w.WriteBool(name, v.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		w.WriteInt(name, v.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		w.WriteUint(name, v.Uint())
	case reflect.Float32:
		w.WriteFloat32(name, float32(v.Float()))
	case reflect.Float64:
		w.WriteFloat64(name, v.Float())
	case reflect.String:
		w.WriteString(name, v.String())
	default:
		if v.Type() == guidType {
			w.WriteGuid(name, v.Interface().(uuid.UUID))
			return
		}
		panic("objgraph: writePrimitive called with " + v.Type().String())
	}
}

// writeTypeEntry writes the type of the current node. With type name
// optimization the first use in a session carries "alias|FullName" and
// later uses only the alias.
func (w *Writer) writeTypeEntry(t reflect.Type) {
	if w.optimizeTypes {
		if alias, ok := w.types[t]; ok {
			w.writeEntry(SigType, strconv.Itoa(alias))
			return
		}
	}

	name, err := w.ctx.opts.Binder.BindToName(t)
	if err != nil {
		w.ctx.logError(CodeResolution, "cannot bind type to a name", "type", t, "err", err)
		return
	}

	if !w.optimizeTypes {
		w.beginEntry(SigType)
		w.scratch = appendQuoted(w.scratch, name)
		w.commit()
		return
	}

	alias := len(w.types)
	w.types[t] = alias
	w.beginEntry(SigType)
	w.scratch = appendQuoted(w.scratch, strconv.Itoa(alias)+string(typeAliasSeparator)+name)
	w.commit()
}

// ============================================================
// Entry plumbing
// ============================================================

func (w *Writer) writeEntry(name, content string) {
	w.beginEntry(name)
	w.scratch = append(w.scratch, content...)
	w.commit()
}

// beginEntry starts composing an entry in the scratch buffer: separator,
// line break and indentation, then the quoted name.
func (w *Writer) beginEntry(name string) {
	w.scratch = w.scratch[:0]
	if !w.justStarted {
		w.scratch = append(w.scratch, ',')
	}
	if w.format == FormatReadable && w.wroteAny {
		w.scratch = append(w.scratch, '\n')
		w.scratch = appendIndent(w.scratch, w.stack.depth())
	}
	if name != "" {
		w.scratch = appendQuoted(w.scratch, name)
		w.scratch = append(w.scratch, ':')
		if w.format == FormatReadable {
			w.scratch = append(w.scratch, ' ')
		}
	}
}

func (w *Writer) commit() {
	w.emit(w.scratch)
	w.justStarted = false
	w.wroteAny = true
}

// emit stages one complete entry, flushing first if it does not fit.
func (w *Writer) emit(entry []byte) {
	if w.err != nil {
		return
	}
	if len(w.buf)+len(entry) > cap(w.buf) {
		w.flushBuffer()
		if len(entry) > cap(w.buf) {
			w.buf = make([]byte, 0, 2*len(entry))
		}
	}
	w.buf = append(w.buf, entry...)
}

func (w *Writer) flushBuffer() {
	if w.err != nil || len(w.buf) == 0 {
		w.buf = w.buf[:0]
		return
	}
	if _, err := w.sink.Write(w.buf); err != nil {
		w.err = WrapError(CodeIO, err, "writing to sink")
	}
	w.buf = w.buf[:0]
}

// ============================================================
// Formatting helpers
// ============================================================

const indentUnit = "    "

func appendIndent(b []byte, depth int) []byte {
	for i := 0; i < depth; i++ {
		b = append(b, indentUnit...)
	}
	return b
}

// appendFloat appends the shortest round-trip form of f. Finite values
// without an exponent always carry a decimal point.
func appendFloat(b []byte, f float64, bits int) []byte {
	start := len(b)
	b = strconv.AppendFloat(b, f, 'g', -1, bits)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return b
	}
	for _, c := range b[start:] {
		if c == '.' || c == 'e' {
			return b
		}
	}
	return append(b, '.', '0')
}

// hexTable maps a byte to its two upper-case hex digits.
var hexTable = func() (t [256][2]byte) {
	const digits = "0123456789ABCDEF"
	for i := range t {
		t[i] = [2]byte{digits[i>>4], digits[i&0x0F]}
	}
	return t
}()

func appendQuoted(b []byte, s string) []byte {
	b = append(b, '"')
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		b = appendEscapedRune(b, r)
		i += size
	}
	return append(b, '"')
}

// appendEscapedRune appends r with string escaping. Every non-ASCII
// character is written as \uXXXX, using surrogate pairs above U+FFFF.
func appendEscapedRune(b []byte, r rune) []byte {
	switch r {
	case '"':
		return append(b, '\\', '"')
	case '\\':
		return append(b, '\\', '\\')
	case '\a':
		return append(b, '\\', 'a')
	case '\b':
		return append(b, '\\', 'b')
	case '\f':
		return append(b, '\\', 'f')
	case '\n':
		return append(b, '\\', 'n')
	case '\r':
		return append(b, '\\', 'r')
	case '\t':
		return append(b, '\\', 't')
	case 0:
		return append(b, '\\', '0')
	}
	if r >= 0x20 && r < 0x7F {
		return append(b, byte(r))
	}
	if r > 0xFFFF {
		hi, lo := utf16.EncodeRune(r)
		b = appendUnicodeEscape(b, hi)
		return appendUnicodeEscape(b, lo)
	}
	return appendUnicodeEscape(b, r)
}

func appendUnicodeEscape(b []byte, r rune) []byte {
	hi := hexTable[byte(r>>8)]
	lo := hexTable[byte(r)]
	return append(b, '\\', 'u', hi[0], hi[1], lo[0], lo[1])
}
