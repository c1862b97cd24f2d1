package objgraph

import (
	"io"
	"math"
	"reflect"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Reader consumes entries from a Lexer.
//
// It holds one lazily pulled entry; reads inspect that entry and consume it
// on success. Terminators are never consumed by leaf reads so that the
// enclosing node or array can close. A Reader belongs to one session at a
// time and is not safe for concurrent use.
type Reader struct {
	lex *Lexer
	ctx *DeserializationContext

	peeked  Entry
	hasPeek bool
	reads   int // entries consumed, used to detect stalled member reads

	stack nodeStack
	types map[int]reflect.Type // session type aliases
}

// NewReader creates a reader over src for the given session context.
func NewReader(src io.Reader, ctx *DeserializationContext) *Reader {
	if ctx == nil {
		ctx = NewDeserializationContext(DefaultOptions())
	}
	r := &Reader{
		lex:   NewLexer(src),
		ctx:   ctx,
		types: make(map[int]reflect.Type),
	}
	r.PrepareNewSession()
	return r
}

// Context returns the session context.
func (r *Reader) Context() *DeserializationContext {
	return r.ctx
}

// PrepareNewSession clears the node stack, the type alias table and the
// reference table. The input position is kept.
func (r *Reader) PrepareNewSession() {
	r.stack.reset()
	clear(r.types)
	r.ctx.Reset()
}

// Err returns the first error of the underlying source.
func (r *Reader) Err() error {
	return r.lex.Err()
}

// Depth returns the number of open nodes and arrays.
func (r *Reader) Depth() int {
	return r.stack.depth()
}

// CurrentNode returns the innermost open node.
func (r *Reader) CurrentNode() NodeInfo {
	return r.stack.current()
}

// Peek returns the next entry without consuming it.
func (r *Reader) Peek() Entry {
	if !r.hasPeek {
		r.peeked = r.lex.Next()
		r.hasPeek = true
	}
	return r.peeked
}

// PeekEntry returns the kind and name of the next entry.
func (r *Reader) PeekEntry() (EntryType, string) {
	e := r.Peek()
	return e.Type, e.Name
}

// ReadToNextEntry consumes the next entry.
func (r *Reader) ReadToNextEntry() {
	r.Peek()
	if r.peeked.Type == EntryEndOfStream {
		return
	}
	r.hasPeek = false
	r.reads++
}

// HasMoreElements reports whether the current node or array has another
// member before its terminator.
func (r *Reader) HasMoreElements() bool {
	t := r.Peek().Type
	return !t.IsTerminator() && t != EntryEndOfStream
}

// RegisterReference records v as the value of the current node's id.
func (r *Reader) RegisterReference(v reflect.Value) {
	r.ctx.RegisterInternalReference(r.stack.current().ID, v)
}

// ReadMembers calls read with the name of each remaining member of the
// current node. read must consume the member and return true, or return
// false to have it skipped.
func (r *Reader) ReadMembers(read func(name string) bool) {
	for r.HasMoreElements() {
		before := r.reads
		e := r.Peek()
		if !read(e.Name) || r.reads == before {
			r.SkipEntry()
		}
	}
}

// ============================================================
// Nodes and arrays
// ============================================================

// EnterNode opens the node at the current position and returns its declared
// type, if any. On any other entry kind the entry is skipped and EnterNode
// reports false.
func (r *Reader) EnterNode() (reflect.Type, bool) {
	e := r.Peek()
	if e.Type != EntryStartOfNode {
		r.unexpected("start of node", e)
		r.SkipEntry()
		return nil, false
	}
	r.ReadToNextEntry()

	node := NodeInfo{Name: e.Name, ID: -1}
	if p := r.Peek(); p.Name == SigID && p.Type == EntryInteger {
		r.ReadToNextEntry()
		id, err := strconv.Atoi(p.Content)
		if err != nil || id < 0 {
			r.ctx.logError(CodeValueParse, "invalid node id", "content", p.Content, "pos", p.Pos)
		} else {
			node.ID = id
		}
	}
	if p := r.Peek(); p.Name == SigType && (p.Type == EntryString || p.Type == EntryInteger) {
		r.ReadToNextEntry()
		node.Type = r.resolveTypeEntry(p)
	}
	r.stack.push(node)
	return node.Type, true
}

// ExitNode drains what is left of the current node and closes it. An
// end-of-array in its place is reported and taken as the node's end.
func (r *Reader) ExitNode() {
	if r.ctx.aborted {
		r.unwind()
		return
	}
	for {
		e := r.Peek()
		switch e.Type {
		case EntryEndOfNode:
			r.ReadToNextEntry()
			r.stack.popAny()
			return
		case EntryEndOfArray:
			r.ReadToNextEntry()
			r.stack.popAny()
			r.ctx.logError(CodeCrossBoundary, "end of array while closing node", "node", r.stack.current().Name, "pos", e.Pos)
			return
		case EntryEndOfStream:
			r.stack.popAny()
			r.ctx.logError(CodeStreamShape, "end of stream inside node", "pos", e.Pos)
			return
		default:
			r.SkipEntry()
		}
	}
}

// EnterArray opens a regular array and returns its declared length.
func (r *Reader) EnterArray() (int, bool) {
	return r.enterArray(SigRegularLength, SigRegularContent, EntryStartOfArray)
}

// ExitArray drains what is left of the current array and closes it. An
// end-of-node in its place is reported and taken as the array's end.
func (r *Reader) ExitArray() {
	if r.ctx.aborted {
		r.unwind()
		return
	}
	for {
		e := r.Peek()
		switch e.Type {
		case EntryEndOfArray:
			r.ReadToNextEntry()
			r.stack.popAny()
			return
		case EntryEndOfNode:
			r.ReadToNextEntry()
			r.stack.popAny()
			r.ctx.logError(CodeCrossBoundary, "end of node while closing array", "pos", e.Pos)
			return
		case EntryEndOfStream:
			r.stack.popAny()
			r.ctx.logError(CodeStreamShape, "end of stream inside array", "pos", e.Pos)
			return
		default:
			r.SkipEntry()
		}
	}
}

func (r *Reader) enterArray(lengthSig, contentSig string, start EntryType) (int, bool) {
	e := r.Peek()
	if e.Type != EntryInteger || e.Name != lengthSig {
		r.unexpected(lengthSig, e)
		r.SkipEntry()
		return 0, false
	}
	r.ReadToNextEntry()
	n, err := strconv.Atoi(e.Content)
	if err != nil || n < 0 {
		r.ctx.logError(CodeValueParse, "invalid array length", "content", e.Content, "pos", e.Pos)
		n = 0
	}

	e = r.Peek()
	if e.Type != start || e.Name != contentSig {
		r.unexpected(contentSig, e)
		r.SkipEntry()
		return 0, false
	}
	r.ReadToNextEntry()
	r.stack.push(NodeInfo{Name: contentSig, ID: -1, IsArray: true})
	return n, true
}

// unwind pops one level while a session is aborting.
func (r *Reader) unwind() {
	if r.stack.depth() > 0 {
		r.stack.popAny()
	}
}

// resolveTypeEntry interprets a "$type" entry. A quoted "alias|name"
// registers the alias; a bare integer is looked up in the alias table.
func (r *Reader) resolveTypeEntry(e Entry) reflect.Type {
	if e.Type == EntryInteger {
		alias, err := strconv.Atoi(e.Content)
		if err != nil {
			r.ctx.logError(CodeValueParse, "invalid type alias", "content", e.Content, "pos", e.Pos)
			return nil
		}
		t, ok := r.types[alias]
		if !ok {
			r.ctx.logError(CodeStreamShape, "undefined type alias", "alias", alias, "pos", e.Pos)
		}
		return t
	}

	name := unquote(e.Content)
	alias := -1
	if prefix, rest, ok := strings.Cut(name, string(typeAliasSeparator)); ok {
		if n, err := strconv.Atoi(prefix); err == nil {
			alias, name = n, rest
		}
	}
	t, ok := r.ctx.opts.Binder.BindToType(name)
	if !ok {
		r.ctx.logWarning(CodeResolution, "unknown type name", "name", name, "pos", e.Pos)
	}
	if alias >= 0 {
		// Unknown types are remembered too, so later aliases stay quiet.
		r.types[alias] = t
	}
	return t
}

// ============================================================
// Skipping
// ============================================================

// SkipEntry consumes the next entry together with its subtree. Terminators
// and the end of the stream are left in place.
//
// Skipped values are not returned, but a referenced node of a known type is
// still materialized and registered so that later internal references to it
// resolve.
func (r *Reader) SkipEntry() {
	e := r.Peek()
	switch e.Type {
	case EntryEndOfNode, EntryEndOfArray, EntryEndOfStream:
		return
	case EntryStartOfNode:
		r.skipNode()
	case EntryStartOfArray, EntryPrimitiveArray:
		r.ReadToNextEntry()
		r.stack.push(NodeInfo{Name: e.Name, ID: -1, IsArray: true})
		r.ExitArray()
	default:
		r.ReadToNextEntry()
	}
}

func (r *Reader) skipNode() {
	t, ok := r.EnterNode()
	if !ok {
		return
	}
	node := r.stack.current()
	if t != nil && node.ID >= 0 && !r.ctx.IsRegistered(node.ID) && isReferenceKind(t.Kind()) {
		if f, err := r.ctx.tryFormatterFor(t); err == nil {
			f.Deserialize(reflect.New(t).Elem(), r)
		}
	}
	r.ExitNode()
}

// ============================================================
// Primitive arrays
// ============================================================

// ReadPrimitiveArray reads a primitive array of T.
func ReadPrimitiveArray[T PrimitiveElement](r *Reader) ([]T, error) {
	v, err := r.ReadPrimitiveArrayValue(reflect.TypeFor[[]T]())
	if err != nil {
		return nil, err
	}
	return v.Interface().([]T), nil
}

// ReadPrimitiveArrayValue reads a primitive array into a new slice of
// sliceType, whose elements must be fixed-width primitives.
func (r *Reader) ReadPrimitiveArrayValue(sliceType reflect.Type) (reflect.Value, error) {
	if sliceType.Kind() != reflect.Slice || !isFixedWidthKind(sliceType.Elem().Kind()) {
		return reflect.Value{}, WrapError(CodeUsage, ErrNotPrimitiveArray, "reading %s", sliceType)
	}
	read := primitiveReaders[sliceType.Elem().Kind()]

	n, ok := r.enterArray(SigPrimitiveLength, SigPrimitiveContent, EntryPrimitiveArray)
	if !ok {
		return reflect.Value{}, NewError(CodeStreamShape, "expected primitive array of %s", sliceType.Elem())
	}
	defer r.ExitArray()

	out := reflect.MakeSlice(sliceType, 0, min(n, maxArrayLength))
	elem := reflect.New(sliceType.Elem()).Elem()
	for r.HasMoreElements() {
		elem.SetZero()
		read(r, elem)
		out = reflect.Append(out, elem)
	}
	if out.Len() != n {
		r.ctx.logWarning(CodeStreamShape, "primitive array length mismatch", "length", n, "read", out.Len())
	}
	return out, nil
}

type primitiveReader func(r *Reader, dst reflect.Value) bool

// primitiveReaders reads one element into dst, indexed by element kind.
var primitiveReaders = [...]primitiveReader{
	reflect.Bool:    readBoolInto,
	reflect.Int:     readIntInto,
	reflect.Int8:    readIntInto,
	reflect.Int16:   readIntInto,
	reflect.Int32:   readIntInto,
	reflect.Int64:   readIntInto,
	reflect.Uint:    readUintInto,
	reflect.Uint8:   readUintInto,
	reflect.Uint16:  readUintInto,
	reflect.Uint32:  readUintInto,
	reflect.Uint64:  readUintInto,
	reflect.Uintptr: readUintInto,
	reflect.Float32: readFloatInto,
	reflect.Float64: readFloatInto,
	reflect.String:  readStringInto,
}

func readBoolInto(r *Reader, dst reflect.Value) bool {
	b, ok := r.ReadBool()
	dst.SetBool(b)
	return ok
}

// readIntInto narrows to dst's width, storing zero on overflow.
func readIntInto(r *Reader, dst reflect.Value) bool {
	n, ok := r.ReadInt64()
	if dst.OverflowInt(n) {
		n = 0
	}
	dst.SetInt(n)
	return ok
}

func readUintInto(r *Reader, dst reflect.Value) bool {
	n, ok := r.ReadUint64()
	if dst.OverflowUint(n) {
		n = 0
	}
	dst.SetUint(n)
	return ok
}

func readFloatInto(r *Reader, dst reflect.Value) bool {
	f, ok := r.ReadFloat64()
	if dst.Kind() == reflect.Float32 && !math.IsInf(f, 0) && dst.OverflowFloat(f) {
		f = 0
	}
	dst.SetFloat(f)
	return ok
}

func readStringInto(r *Reader, dst reflect.Value) bool {
	s, ok := r.ReadString()
	dst.SetString(s)
	return ok
}

// ============================================================
// Leaves
// ============================================================

// expect consumes the next entry if it has one of the given kinds. Any other
// entry is reported and skipped.
func (r *Reader) expect(kinds ...EntryType) (Entry, bool) {
	e := r.Peek()
	for _, k := range kinds {
		if e.Type == k {
			r.ReadToNextEntry()
			return e, true
		}
	}
	r.unexpected(kinds[0].String(), e)
	r.SkipEntry()
	return e, false
}

func (r *Reader) unexpected(want string, e Entry) {
	r.ctx.logError(CodeStreamShape, "unexpected entry",
		"want", want, "got", e.Type, "name", e.Name, "pos", e.Pos)
}

func (r *Reader) parseFailed(e Entry, err error) {
	r.ctx.logError(CodeValueParse, "cannot parse entry",
		"kind", e.Type, "content", e.Content, "pos", e.Pos, "err", err)
}

// ReadInt64 reads an integer.
func (r *Reader) ReadInt64() (int64, bool) {
	e, ok := r.expect(EntryInteger)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(e.Content, 10, 64)
	if err != nil {
		r.parseFailed(e, err)
		return 0, false
	}
	return n, true
}

// ReadUint64 reads an unsigned integer.
func (r *Reader) ReadUint64() (uint64, bool) {
	e, ok := r.expect(EntryInteger)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(e.Content, 10, 64)
	if err != nil {
		r.parseFailed(e, err)
		return 0, false
	}
	return n, true
}

// The narrower integer reads return zero when the value does not fit.

// ReadInt32 reads an integer into 32 bits.
func (r *Reader) ReadInt32() (int32, bool) {
	n, ok := r.ReadInt64()
	return narrowInt[int32](n), ok
}

// ReadInt16 reads an integer into 16 bits.
func (r *Reader) ReadInt16() (int16, bool) {
	n, ok := r.ReadInt64()
	return narrowInt[int16](n), ok
}

// ReadInt8 reads an integer into 8 bits.
func (r *Reader) ReadInt8() (int8, bool) {
	n, ok := r.ReadInt64()
	return narrowInt[int8](n), ok
}

// ReadUint32 reads an unsigned integer into 32 bits.
func (r *Reader) ReadUint32() (uint32, bool) {
	n, ok := r.ReadUint64()
	return narrowUint[uint32](n), ok
}

// ReadUint16 reads an unsigned integer into 16 bits.
func (r *Reader) ReadUint16() (uint16, bool) {
	n, ok := r.ReadUint64()
	return narrowUint[uint16](n), ok
}

// ReadUint8 reads an unsigned integer into 8 bits.
func (r *Reader) ReadUint8() (uint8, bool) {
	n, ok := r.ReadUint64()
	return narrowUint[uint8](n), ok
}

func narrowInt[T ~int8 | ~int16 | ~int32](n int64) T {
	v := T(n)
	if int64(v) != n {
		return 0
	}
	return v
}

func narrowUint[T ~uint8 | ~uint16 | ~uint32](n uint64) T {
	v := T(n)
	if uint64(v) != n {
		return 0
	}
	return v
}

// ReadFloat64 reads a float. Integer entries are accepted.
func (r *Reader) ReadFloat64() (float64, bool) {
	e, ok := r.expect(EntryFloat, EntryInteger)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(e.Content, 64)
	if err != nil {
		r.parseFailed(e, err)
		return 0, false
	}
	return f, true
}

// ReadFloat32 reads a float into 32 bits.
func (r *Reader) ReadFloat32() (float32, bool) {
	f, ok := r.ReadFloat64()
	return float32(f), ok
}

// ReadBool reads true or false in any letter case.
func (r *Reader) ReadBool() (bool, bool) {
	e, ok := r.expect(EntryBoolean)
	if !ok {
		return false, false
	}
	return strings.EqualFold(e.Content, "true"), true
}

// ReadString reads a string. null reads as the empty string.
func (r *Reader) ReadString() (string, bool) {
	e, ok := r.expect(EntryString, EntryNull)
	if !ok || e.Type == EntryNull {
		return "", ok
	}
	return unquote(e.Content), true
}

// ReadChar reads the first character of a string entry. Characters after
// the first are ignored; an empty string reads as failure.
func (r *Reader) ReadChar() (rune, bool) {
	e, ok := r.expect(EntryString)
	if !ok {
		return 0, false
	}
	s := unquote(e.Content)
	if s == "" {
		r.parseFailed(e, ErrEmptyChar)
		return 0, false
	}
	c, _ := utf8.DecodeRuneInString(s)
	return c, true
}

// ReadGuid reads a GUID.
func (r *Reader) ReadGuid() (uuid.UUID, bool) {
	e, ok := r.expect(EntryGuid, EntryString)
	if !ok {
		return uuid.Nil, false
	}
	g, err := uuid.Parse(unquote(e.Content))
	if err != nil {
		r.parseFailed(e, err)
		return uuid.Nil, false
	}
	return g, true
}

// ReadNull reads null.
func (r *Reader) ReadNull() bool {
	_, ok := r.expect(EntryNull)
	return ok
}

// ReadInternalReference reads a reference to a node in this stream.
func (r *Reader) ReadInternalReference() (int, bool) {
	e, ok := r.expect(EntryInternalReference)
	if !ok {
		return -1, false
	}
	id, err := strconv.Atoi(e.Content)
	if err != nil || id < 0 {
		r.parseFailed(e, err)
		return -1, false
	}
	return id, true
}

// ReadExternalReferenceByIndex reads a host reference by index.
func (r *Reader) ReadExternalReferenceByIndex() (int, bool) {
	e, ok := r.expect(EntryExternalReferenceByIndex)
	if !ok {
		return -1, false
	}
	idx, err := strconv.Atoi(e.Content)
	if err != nil {
		r.parseFailed(e, err)
		return -1, false
	}
	return idx, true
}

// ReadExternalReferenceByGuid reads a host reference by GUID.
func (r *Reader) ReadExternalReferenceByGuid() (uuid.UUID, bool) {
	e, ok := r.expect(EntryExternalReferenceByGuid)
	if !ok {
		return uuid.Nil, false
	}
	g, err := uuid.Parse(e.Content)
	if err != nil {
		r.parseFailed(e, err)
		return uuid.Nil, false
	}
	return g, true
}

// ReadExternalReferenceByString reads a host reference by key. Both the
// quoted form and the legacy bare form are accepted.
func (r *Reader) ReadExternalReferenceByString() (string, bool) {
	e, ok := r.expect(EntryExternalReferenceByString)
	if !ok {
		return "", false
	}
	return unquote(e.Content), true
}
