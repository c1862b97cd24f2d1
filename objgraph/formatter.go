package objgraph

import (
	"reflect"
)

// Formatter encodes and decodes values of one type.
//
// The writer or reader is positioned inside the value's node when a formatter
// runs: Serialize writes members and Deserialize reads them, while opening
// and closing the node is left to the caller. Deserialize fills v, which is
// always addressable. Formatters of pointer, map and slice types must call
// Reader.RegisterReference as soon as v holds its final identity so that
// cycles back to v resolve.
//
// Formatters are shared across sessions and goroutines and must be immutable.
type Formatter interface {
	Type() reflect.Type
	Serialize(v reflect.Value, w *Writer)
	Deserialize(v reflect.Value, r *Reader)
}

// FormatterFunc builds a formatter for t. Constructors must not resolve
// other formatters; child types are resolved when a value is encoded.
type FormatterFunc func(t reflect.Type, members MemberPolicy) (Formatter, error)

// ============================================================
// Empty formatter
// ============================================================

// emptyFormatter writes nothing and reads nothing. It is the weak fallback
// of the best-effort resolution path.
type emptyFormatter struct {
	t reflect.Type
}

func newEmptyFormatter(t reflect.Type, _ MemberPolicy) (Formatter, error) {
	return emptyFormatter{t: t}, nil
}

func (f emptyFormatter) Type() reflect.Type { return f.t }

func (f emptyFormatter) Serialize(reflect.Value, *Writer) {}

func (f emptyFormatter) Deserialize(reflect.Value, *Reader) {}

// ============================================================
// Member-walking formatter
// ============================================================

// memberFormatter writes each member selected by a MemberPolicy as a named
// value and reads members back by name, in any order.
type memberFormatter struct {
	t       reflect.Type
	members []Member
	byName  map[string]int
}

func newMemberFormatter(t reflect.Type, policy MemberPolicy) (Formatter, error) {
	members, err := policy.Members(t)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]int, len(members))
	for i, m := range members {
		byName[m.Name] = i
	}
	return &memberFormatter{t: t, members: members, byName: byName}, nil
}

func (f *memberFormatter) Type() reflect.Type { return f.t }

func (f *memberFormatter) Serialize(v reflect.Value, w *Writer) {
	for _, m := range f.members {
		field, ok := fieldByIndex(v, m.Index)
		if !ok {
			w.WriteNull(m.Name)
			continue
		}
		w.WriteValue(m.Name, field, m.Type)
	}
}

func (f *memberFormatter) Deserialize(v reflect.Value, r *Reader) {
	r.ReadMembers(func(name string) bool {
		i, ok := f.byName[name]
		if !ok {
			return false
		}
		field, ok := fieldByIndex(v, f.members[i].Index)
		if !ok {
			return false
		}
		r.ReadValueInto(field)
		return true
	})
}

// fieldByIndex is reflect.Value.FieldByIndex without the panic on a nil
// embedded pointer.
func fieldByIndex(v reflect.Value, index []int) (reflect.Value, bool) {
	for i, x := range index {
		if i > 0 && v.Kind() == reflect.Pointer {
			if v.IsNil() {
				return reflect.Value{}, false
			}
			v = v.Elem()
		}
		v = v.Field(x)
	}
	return v, true
}
