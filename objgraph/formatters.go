package objgraph

import (
	"cmp"
	"fmt"
	"reflect"
	"slices"
)

// Member names used by the built-in formatters.
const (
	memberReal = "real"
	memberImag = "imag"
	memberText = "text"
	memberName = "name"
)

// maxArrayLength bounds the length a reader will allocate for.
const maxArrayLength = 1 << 24

// ============================================================
// Pointers
// ============================================================

// pointerFormatter shares the pointer's node with its pointee. A struct
// pointee is written inline; anything else goes in a "value" member.
type pointerFormatter struct {
	t      reflect.Type
	inline bool
}

func newPointerFormatter(t reflect.Type, _ MemberPolicy) (Formatter, error) {
	switch t.Elem().Kind() {
	case reflect.Chan, reflect.UnsafePointer:
		return nil, WrapError(CodeInstantiation, ErrUnsupportedShape, "pointer to %s", t.Elem())
	}
	return &pointerFormatter{t: t, inline: t.Elem().Kind() == reflect.Struct}, nil
}

func (f *pointerFormatter) Type() reflect.Type { return f.t }

func (f *pointerFormatter) Serialize(v reflect.Value, w *Writer) {
	elem := v.Elem()
	if f.inline {
		w.ctx.formatterFor(elem.Type()).Serialize(elem, w)
		return
	}
	w.WriteValue(memberValue, elem, f.t.Elem())
}

func (f *pointerFormatter) Deserialize(v reflect.Value, r *Reader) {
	ptr := reflect.New(f.t.Elem())
	v.Set(ptr)
	r.RegisterReference(v)
	if f.inline {
		r.ctx.formatterFor(f.t.Elem()).Deserialize(ptr.Elem(), r)
		return
	}
	r.ReadMembers(func(name string) bool {
		if name != memberValue {
			return false
		}
		r.ReadValueInto(ptr.Elem())
		return true
	})
}

// ============================================================
// Complex numbers
// ============================================================

type complexFormatter struct {
	t reflect.Type
}

func newComplexFormatter(t reflect.Type, _ MemberPolicy) (Formatter, error) {
	return complexFormatter{t: t}, nil
}

func (f complexFormatter) Type() reflect.Type { return f.t }

func (f complexFormatter) Serialize(v reflect.Value, w *Writer) {
	c := v.Complex()
	if f.t.Kind() == reflect.Complex64 {
		w.WriteFloat32(memberReal, float32(real(c)))
		w.WriteFloat32(memberImag, float32(imag(c)))
		return
	}
	w.WriteFloat64(memberReal, real(c))
	w.WriteFloat64(memberImag, imag(c))
}

func (f complexFormatter) Deserialize(v reflect.Value, r *Reader) {
	var re, im float64
	r.ReadMembers(func(name string) bool {
		switch name {
		case memberReal:
			re, _ = r.ReadFloat64()
		case memberImag:
			im, _ = r.ReadFloat64()
		default:
			return false
		}
		return true
	})
	v.SetComplex(complex(re, im))
}

// ============================================================
// Slices and arrays
// ============================================================

// arrayFormatter writes slices and Go arrays. Fixed-width primitive elements
// use the primitive array form, anything else a regular array of unnamed
// values.
type arrayFormatter struct {
	t         reflect.Type
	primitive bool
}

func newArrayFormatter(t reflect.Type, _ MemberPolicy) (Formatter, error) {
	return &arrayFormatter{t: t, primitive: isFixedWidthKind(t.Elem().Kind())}, nil
}

func (f *arrayFormatter) Type() reflect.Type { return f.t }

func (f *arrayFormatter) Serialize(v reflect.Value, w *Writer) {
	if f.primitive {
		_ = w.WritePrimitiveArrayValue(v)
		return
	}
	n := v.Len()
	w.BeginArrayNode(n)
	for i := 0; i < n; i++ {
		w.WriteValue("", v.Index(i), f.t.Elem())
	}
	w.EndArrayNode()
}

func (f *arrayFormatter) Deserialize(v reflect.Value, r *Reader) {
	isSlice := f.t.Kind() == reflect.Slice
	if f.primitive {
		f.deserializePrimitive(v, r, isSlice)
		return
	}

	n, ok := r.EnterArray()
	if !ok {
		return
	}
	defer r.ExitArray()

	if isSlice {
		if n > maxArrayLength {
			r.ctx.logError(CodeValueParse, "array length out of range", "length", n, "type", f.t)
			return
		}
		v.Set(reflect.MakeSlice(f.t, n, n))
		r.RegisterReference(v)
	}

	i := 0
	for ; r.HasMoreElements(); i++ {
		if i >= v.Len() {
			r.ctx.logWarning(CodeStreamShape, "array has more elements than expected", "type", f.t, "length", v.Len())
			r.SkipEntry()
			continue
		}
		r.ReadValueInto(v.Index(i))
	}
	if i < v.Len() {
		r.ctx.logWarning(CodeStreamShape, "array has fewer elements than expected", "type", f.t, "length", v.Len(), "read", i)
		if isSlice {
			v.SetLen(i)
			r.RegisterReference(v)
		}
	}
}

func (f *arrayFormatter) deserializePrimitive(v reflect.Value, r *Reader, isSlice bool) {
	sliceType := f.t
	if !isSlice {
		sliceType = reflect.SliceOf(f.t.Elem())
	}
	got, err := r.ReadPrimitiveArrayValue(sliceType)
	if err != nil {
		return
	}
	if isSlice {
		v.Set(got)
		r.RegisterReference(v)
		return
	}
	if got.Len() != v.Len() {
		r.ctx.logWarning(CodeStreamShape, "array length mismatch", "type", f.t, "read", got.Len())
	}
	reflect.Copy(v, got)
}

// ============================================================
// Maps
// ============================================================

// mapFormatter writes a map as a regular array of key/value nodes, ordered
// by key.
type mapFormatter struct {
	t reflect.Type
}

func newMapFormatter(t reflect.Type, _ MemberPolicy) (Formatter, error) {
	return &mapFormatter{t: t}, nil
}

func (f *mapFormatter) Type() reflect.Type { return f.t }

func (f *mapFormatter) Serialize(v reflect.Value, w *Writer) {
	keys := v.MapKeys()
	slices.SortFunc(keys, compareKeys)

	w.BeginArrayNode(len(keys))
	for _, k := range keys {
		w.BeginStructNode("", nil)
		w.WriteValue(memberKey, k, f.t.Key())
		w.WriteValue(memberVal, v.MapIndex(k), f.t.Elem())
		w.EndNode("")
	}
	w.EndArrayNode()
}

func (f *mapFormatter) Deserialize(v reflect.Value, r *Reader) {
	n, ok := r.EnterArray()
	if !ok {
		return
	}
	defer r.ExitArray()

	v.Set(reflect.MakeMapWithSize(f.t, min(n, 1024)))
	r.RegisterReference(v)

	for r.HasMoreElements() {
		if _, ok := r.EnterNode(); !ok {
			continue
		}
		key := reflect.New(f.t.Key()).Elem()
		val := reflect.New(f.t.Elem()).Elem()
		hasKey := false
		r.ReadMembers(func(name string) bool {
			switch name {
			case memberKey:
				r.ReadValueInto(key)
				hasKey = true
			case memberVal:
				r.ReadValueInto(val)
			default:
				return false
			}
			return true
		})
		r.ExitNode()

		if !hasKey {
			r.ctx.logWarning(CodeStreamShape, "map entry without a key", "type", f.t)
			continue
		}
		if !key.Comparable() {
			r.ctx.logError(CodeStreamShape, "map key is not comparable", "type", f.t)
			continue
		}
		v.SetMapIndex(key, val)
	}
}

// compareKeys orders map keys numerically or lexically by kind, falling
// back to their formatted form.
func compareKeys(a, b reflect.Value) int {
	if a.Kind() == reflect.Interface && !a.IsNil() && !b.IsNil() {
		a, b = a.Elem(), b.Elem()
	}
	if a.Kind() == b.Kind() {
		switch a.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return cmp.Compare(a.Int(), b.Int())
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
			return cmp.Compare(a.Uint(), b.Uint())
		case reflect.Float32, reflect.Float64:
			return cmp.Compare(a.Float(), b.Float())
		case reflect.String:
			return cmp.Compare(a.String(), b.String())
		case reflect.Bool:
			return cmp.Compare(boolRank(a.Bool()), boolRank(b.Bool()))
		}
	}
	return cmp.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func boolRank(b bool) int {
	if b {
		return 1
	}
	return 0
}
