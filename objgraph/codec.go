package objgraph

import (
	"reflect"

	"github.com/google/uuid"
)

var (
	guidType = reflect.TypeFor[uuid.UUID]()
	anyType  = reflect.TypeFor[any]()
)

// isPrimitiveType reports whether values of t are written as leaves.
func isPrimitiveType(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.String:
		return true
	}
	return t == guidType
}

// isFixedWidthKind reports whether k may be the element of a primitive array.
func isFixedWidthKind(k reflect.Kind) bool {
	switch k {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// isReferenceKind reports whether values of kind k have identity and are
// written as reference nodes.
func isReferenceKind(k reflect.Kind) bool {
	return k == reflect.Pointer || k == reflect.Map || k == reflect.Slice
}

func isNilable(k reflect.Kind) bool {
	switch k {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface, reflect.UnsafePointer:
		return true
	}
	return false
}

// ============================================================
// Writing values
// ============================================================

// WriteValue writes v as a member named name. declared is the static type of
// the slot holding v; a node gets a type entry when its concrete type differs.
//
// Pointers, maps and slices become reference nodes: the first occurrence is
// written in full and later ones as internal references. Other composite
// values become struct nodes without an id. A primitive in a slot of another
// type, such as an interface, is boxed in a node with a "value" member.
func (w *Writer) WriteValue(name string, v reflect.Value, declared reflect.Type) {
	if v.IsValid() && v.Kind() == reflect.Interface {
		if v.IsNil() {
			w.WriteNull(name)
			return
		}
		v = v.Elem()
	}
	if !v.IsValid() || (isNilable(v.Kind()) && v.IsNil()) {
		w.WriteNull(name)
		return
	}

	t := v.Type()
	if isPrimitiveType(t) {
		if t == declared {
			w.writePrimitive(name, v)
			return
		}
		w.BeginStructNode(name, t)
		w.writePrimitive(memberValue, v)
		w.EndNode(name)
		return
	}

	if w.writeExternalReference(name, v) {
		return
	}

	if isReferenceKind(t.Kind()) {
		id, isNew := w.ctx.TryRegisterInternalReference(v)
		if !isNew {
			w.WriteInternalReference(name, id)
			return
		}
		f := w.ctx.formatterFor(t)
		w.BeginReferenceNode(name, t, id)
		f.Serialize(v, w)
		w.EndNode(name)
		return
	}

	f := w.ctx.formatterFor(t)
	var typ reflect.Type
	if t != declared {
		typ = t
	}
	w.BeginStructNode(name, typ)
	f.Serialize(v, w)
	w.EndNode(name)
}

// writeExternalReference writes v as an external reference when a host
// resolver claims it.
func (w *Writer) writeExternalReference(name string, v reflect.Value) bool {
	opts := &w.ctx.opts
	if opts.IndexReferences == nil && opts.GuidReferences == nil && opts.StringReferences == nil {
		return false
	}
	if !v.CanInterface() {
		return false
	}
	x := v.Interface()
	if opts.IndexReferences != nil {
		if idx, ok := opts.IndexReferences.IndexOf(x); ok {
			w.WriteExternalReferenceByIndex(name, idx)
			return true
		}
	}
	if opts.GuidReferences != nil {
		if g, ok := opts.GuidReferences.GuidOf(x); ok {
			w.WriteExternalReferenceByGuid(name, g)
			return true
		}
	}
	if opts.StringReferences != nil {
		if key, ok := opts.StringReferences.KeyOf(x); ok {
			w.WriteExternalReferenceByString(name, key)
			return true
		}
	}
	return false
}

// ============================================================
// Reading values
// ============================================================

// ReadValue reads the next value as type t.
func (r *Reader) ReadValue(t reflect.Type) reflect.Value {
	v := reflect.New(t).Elem()
	r.ReadValueInto(v)
	return v
}

// ReadValueInto reads the next value into dst, which must be settable.
// Nodes carrying a type assignable to dst's type are decoded as that type;
// nodes of an unknown type in an interface slot are skipped.
func (r *Reader) ReadValueInto(dst reflect.Value) {
	declared := dst.Type()
	e := r.Peek()

	switch e.Type {
	case EntryNull:
		r.ReadToNextEntry()
		dst.SetZero()

	case EntryStartOfNode:
		r.readNode(dst)

	case EntryInternalReference:
		id, ok := r.ReadInternalReference()
		if !ok {
			return
		}
		v, ok := r.ctx.GetInternalReference(id)
		if !ok {
			r.ctx.logError(CodeStreamShape, "unresolved internal reference", "id", id, "pos", e.Pos)
			return
		}
		r.assign(dst, v, e)

	case EntryExternalReferenceByIndex, EntryExternalReferenceByGuid, EntryExternalReferenceByString:
		if v, ok := r.readExternalReference(e); ok {
			r.assign(dst, v, e)
		}

	case EntryEndOfNode, EntryEndOfArray, EntryEndOfStream:
		r.unexpected("value", e)

	default:
		switch {
		case isPrimitiveType(declared):
			r.readPrimitiveInto(dst)
		case declared.Kind() == reflect.Interface:
			r.readUntypedLeaf(dst, e)
		default:
			r.unexpected("node", e)
			r.SkipEntry()
		}
	}
}

func (r *Reader) readNode(dst reflect.Value) {
	declared := dst.Type()
	t, ok := r.EnterNode()
	if !ok {
		return
	}
	defer r.ExitNode()

	concrete := declared
	switch {
	case t != nil && t.AssignableTo(declared):
		concrete = t
	case t != nil:
		r.ctx.logWarning(CodeStreamShape, "node type is not assignable to its slot", "type", t, "slot", declared)
		if declared.Kind() == reflect.Interface {
			return
		}
	}
	if concrete.Kind() == reflect.Interface {
		// Unknown type in an interface slot: opaque, drained by ExitNode.
		return
	}

	target := dst
	if concrete != declared {
		target = reflect.New(concrete).Elem()
	}

	if isPrimitiveType(concrete) {
		r.ReadMembers(func(name string) bool {
			if name != memberValue {
				return false
			}
			r.readPrimitiveInto(target)
			return true
		})
	} else {
		r.ctx.formatterFor(concrete).Deserialize(target, r)
	}

	if concrete != declared {
		dst.Set(target)
	}
}

// readPrimitiveInto reads a leaf into a primitive-kinded dst.
func (r *Reader) readPrimitiveInto(dst reflect.Value) {
	if dst.Type() == guidType {
		if g, ok := r.ReadGuid(); ok {
			dst.Set(reflect.ValueOf(g))
		}
		return
	}
	primitiveReaders[dst.Kind()](r, dst)
}

// readUntypedLeaf reads a leaf into an interface slot by the entry's kind.
func (r *Reader) readUntypedLeaf(dst reflect.Value, e Entry) {
	var v any
	switch e.Type {
	case EntryInteger:
		n, ok := r.ReadInt64()
		if !ok {
			return
		}
		v = n
	case EntryFloat:
		f, ok := r.ReadFloat64()
		if !ok {
			return
		}
		v = f
	case EntryBoolean:
		b, _ := r.ReadBool()
		v = b
	case EntryString:
		s, _ := r.ReadString()
		v = s
	case EntryGuid:
		g, ok := r.ReadGuid()
		if !ok {
			return
		}
		v = g
	default:
		r.unexpected("value", e)
		r.SkipEntry()
		return
	}
	r.assign(dst, reflect.ValueOf(v), e)
}

func (r *Reader) readExternalReference(e Entry) (reflect.Value, bool) {
	opts := &r.ctx.opts
	var (
		x     any
		found bool
	)
	switch e.Type {
	case EntryExternalReferenceByIndex:
		idx, ok := r.ReadExternalReferenceByIndex()
		if !ok {
			return reflect.Value{}, false
		}
		if opts.IndexReferences != nil {
			x, found = opts.IndexReferences.ResolveIndex(idx)
		}
	case EntryExternalReferenceByGuid:
		g, ok := r.ReadExternalReferenceByGuid()
		if !ok {
			return reflect.Value{}, false
		}
		if opts.GuidReferences != nil {
			x, found = opts.GuidReferences.ResolveGuid(g)
		}
	default:
		key, ok := r.ReadExternalReferenceByString()
		if !ok {
			return reflect.Value{}, false
		}
		if opts.StringReferences != nil {
			x, found = opts.StringReferences.ResolveKey(key)
		}
	}
	if !found {
		r.ctx.logError(CodeStreamShape, "unresolved external reference", "kind", e.Type, "content", e.Content, "pos", e.Pos)
		return reflect.Value{}, false
	}
	if x == nil {
		return reflect.Zero(anyType), true
	}
	return reflect.ValueOf(x), true
}

// assign stores a resolved reference or leaf into dst.
func (r *Reader) assign(dst, v reflect.Value, e Entry) {
	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			dst.SetZero()
			return
		}
		v = v.Elem()
	}
	if !v.Type().AssignableTo(dst.Type()) {
		r.ctx.logError(CodeStreamShape, "value type does not match its slot",
			"type", v.Type(), "slot", dst.Type(), "pos", e.Pos)
		return
	}
	dst.Set(v)
}
