package objgraph

import (
	"encoding"
	"reflect"
)

// Built-in priorities. Locators and templates run in descending order.
const (
	PriorityComplex        = 10
	PriorityPointer        = 0
	PriorityDelegate       = -50
	PrioritySelfDescribing = -60
	PriorityTypeValue      = -70
	PriorityArray          = -80
	PriorityCollection     = -100
	PriorityLegacy         = -110
)

// RegisterBuiltins adds the built-in templates and locators to g. Functions
// are named through funcs.
func RegisterBuiltins(g *Registry, funcs *FuncRegistry) {
	g.RegisterTemplate(Template{
		Name:     "pointer",
		Priority: PriorityPointer,
		Shape:    ShapePointer,
		New:      newPointerFormatter,
		Fallback: newEmptyFormatter,
	})
	g.RegisterTemplate(Template{
		Name:     "complex64",
		Priority: PriorityComplex,
		Type:     reflect.TypeFor[complex64](),
		New:      newComplexFormatter,
	})
	g.RegisterTemplate(Template{
		Name:     "complex128",
		Priority: PriorityComplex,
		Type:     reflect.TypeFor[complex128](),
		New:      newComplexFormatter,
	})

	g.RegisterLocator(NewLocator("self-describing", StepBefore, PrioritySelfDescribing, func(t reflect.Type, _ MemberPolicy) Formatter {
		if !isSelfDescribing(t) {
			return nil
		}
		return selfFormatter{t: t}
	}))
	g.RegisterLocator(NewLocator("type-value", StepBefore, PriorityTypeValue, func(t reflect.Type, _ MemberPolicy) Formatter {
		if t.Kind() == reflect.Interface || !t.Implements(reflectTypeType) {
			return nil
		}
		return typeValueFormatter{t: t}
	}))
	g.RegisterLocator(NewLocator("delegate", StepAfter, PriorityDelegate, func(t reflect.Type, _ MemberPolicy) Formatter {
		if !ShapeDelegate.Match(t) {
			return nil
		}
		return &funcFormatter{t: t, funcs: funcs}
	}))
	g.RegisterLocator(NewLocator("array", StepAfter, PriorityArray, func(t reflect.Type, m MemberPolicy) Formatter {
		if !ShapeArray.Match(t) {
			return nil
		}
		f, _ := newArrayFormatter(t, m)
		return f
	}))
	g.RegisterLocator(NewLocator("collection", StepAfter, PriorityCollection, func(t reflect.Type, m MemberPolicy) Formatter {
		if !ShapeCollection.Match(t) {
			return nil
		}
		f, _ := newMapFormatter(t, m)
		return f
	}))
	g.RegisterLocator(NewLocator("legacy", StepAfter, PriorityLegacy, func(t reflect.Type, _ MemberPolicy) Formatter {
		switch {
		case isTextCodec(t):
			return textFormatter{t: t}
		case isBinaryCodec(t):
			return binaryFormatter{t: t}
		}
		return nil
	}))
}

var (
	selfSerializerType    = reflect.TypeFor[SelfSerializer]()
	reflectTypeType       = reflect.TypeFor[reflect.Type]()
	textMarshalerType     = reflect.TypeFor[encoding.TextMarshaler]()
	textUnmarshalerType   = reflect.TypeFor[encoding.TextUnmarshaler]()
	binaryMarshalerType   = reflect.TypeFor[encoding.BinaryMarshaler]()
	binaryUnmarshalerType = reflect.TypeFor[encoding.BinaryUnmarshaler]()
)

// addressable returns a pointer to v, copying v if it is not addressable.
func addressable(v reflect.Value) reflect.Value {
	if v.CanAddr() {
		return v.Addr()
	}
	p := reflect.New(v.Type())
	p.Elem().Set(v)
	return p
}

// ============================================================
// Self-describing types
// ============================================================

// SelfSerializer is implemented by struct types that write and read their
// own members.
type SelfSerializer interface {
	SerializeGraph(w *Writer)
	DeserializeGraph(r *Reader)
}

func isSelfDescribing(t reflect.Type) bool {
	return t.Kind() == reflect.Struct && reflect.PointerTo(t).Implements(selfSerializerType)
}

type selfFormatter struct {
	t reflect.Type
}

func (f selfFormatter) Type() reflect.Type { return f.t }

func (f selfFormatter) Serialize(v reflect.Value, w *Writer) {
	addressable(v).Interface().(SelfSerializer).SerializeGraph(w)
}

func (f selfFormatter) Deserialize(v reflect.Value, r *Reader) {
	v.Addr().Interface().(SelfSerializer).DeserializeGraph(r)
}

// ============================================================
// reflect.Type values
// ============================================================

// typeValueFormatter writes a reflect.Type as its bound name.
type typeValueFormatter struct {
	t reflect.Type
}

func (f typeValueFormatter) Type() reflect.Type { return f.t }

func (f typeValueFormatter) Serialize(v reflect.Value, w *Writer) {
	name, err := w.ctx.opts.Binder.BindToName(v.Interface().(reflect.Type))
	if err != nil {
		w.ctx.logError(CodeResolution, "cannot bind type value", "err", err)
		w.WriteNull(memberName)
		return
	}
	w.WriteString(memberName, name)
}

func (f typeValueFormatter) Deserialize(v reflect.Value, r *Reader) {
	r.ReadMembers(func(member string) bool {
		if member != memberName {
			return false
		}
		name, ok := r.ReadString()
		if !ok {
			return true
		}
		t, ok := r.ctx.opts.Binder.BindToType(name)
		if !ok {
			r.ctx.logWarning(CodeResolution, "unknown type name", "name", name)
			return true
		}
		if tv := reflect.ValueOf(t); tv.Type().AssignableTo(f.t) {
			v.Set(tv)
			r.RegisterReference(v)
		}
		return true
	})
}

// ============================================================
// Legacy text and binary marshalers
// ============================================================

// legacyKind excludes the kinds the codec treats as references.
func legacyKind(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return false
	}
	return true
}

func isTextCodec(t reflect.Type) bool {
	p := reflect.PointerTo(t)
	return legacyKind(t) && p.Implements(textMarshalerType) && p.Implements(textUnmarshalerType)
}

func isBinaryCodec(t reflect.Type) bool {
	p := reflect.PointerTo(t)
	return legacyKind(t) && p.Implements(binaryMarshalerType) && p.Implements(binaryUnmarshalerType)
}

// textFormatter writes a "text" member from encoding.TextMarshaler.
type textFormatter struct {
	t reflect.Type
}

func (f textFormatter) Type() reflect.Type { return f.t }

func (f textFormatter) Serialize(v reflect.Value, w *Writer) {
	text, err := addressable(v).Interface().(encoding.TextMarshaler).MarshalText()
	if err != nil {
		w.ctx.logError(CodeValueParse, "marshal text failed", "type", f.t, "err", err)
		w.WriteNull(memberText)
		return
	}
	w.WriteString(memberText, string(text))
}

func (f textFormatter) Deserialize(v reflect.Value, r *Reader) {
	r.ReadMembers(func(name string) bool {
		if name != memberText {
			return false
		}
		s, ok := r.ReadString()
		if !ok {
			return true
		}
		if err := v.Addr().Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(s)); err != nil {
			r.ctx.logError(CodeValueParse, "unmarshal text failed", "type", f.t, "err", err)
		}
		return true
	})
}

// binaryFormatter writes encoding.BinaryMarshaler output as a primitive
// byte array.
type binaryFormatter struct {
	t reflect.Type
}

func (f binaryFormatter) Type() reflect.Type { return f.t }

func (f binaryFormatter) Serialize(v reflect.Value, w *Writer) {
	data, err := addressable(v).Interface().(encoding.BinaryMarshaler).MarshalBinary()
	if err != nil {
		w.ctx.logError(CodeValueParse, "marshal binary failed", "type", f.t, "err", err)
		data = nil
	}
	WritePrimitiveArray(w, data)
}

func (f binaryFormatter) Deserialize(v reflect.Value, r *Reader) {
	data, err := ReadPrimitiveArray[byte](r)
	if err != nil {
		return
	}
	if err := v.Addr().Interface().(encoding.BinaryUnmarshaler).UnmarshalBinary(data); err != nil {
		r.ctx.logError(CodeValueParse, "unmarshal binary failed", "type", f.t, "err", err)
	}
}
