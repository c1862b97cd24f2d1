package objgraph

import (
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TypeBinder maps runtime types to stable names and back.
type TypeBinder interface {
	BindToName(t reflect.Type) (string, error)
	BindToType(name string) (reflect.Type, bool)
}

// ============================================================
// Default binder
// ============================================================

// Binder is a registry-backed TypeBinder.
//
// Named types bind as "pkgpath.Name". Unnamed composite types bind
// structurally ("*X", "[]X", "[N]X", "map[K]V") and are resolved back from
// their element names, so only named types need registering. Binding a type
// registers it, which makes any stream written in this process readable
// again in this process.
type Binder struct {
	mu     sync.RWMutex
	byName map[string]reflect.Type
	byType map[reflect.Type]string
}

// NewBinder creates a binder with the built-in types registered.
func NewBinder() *Binder {
	b := &Binder{
		byName: make(map[string]reflect.Type),
		byType: make(map[reflect.Type]string),
	}
	for _, t := range builtinTypes {
		b.Register(t)
	}
	return b
}

var builtinTypes = []reflect.Type{
	reflect.TypeFor[bool](),
	reflect.TypeFor[int](),
	reflect.TypeFor[int8](),
	reflect.TypeFor[int16](),
	reflect.TypeFor[int32](),
	reflect.TypeFor[int64](),
	reflect.TypeFor[uint](),
	reflect.TypeFor[uint8](),
	reflect.TypeFor[uint16](),
	reflect.TypeFor[uint32](),
	reflect.TypeFor[uint64](),
	reflect.TypeFor[uintptr](),
	reflect.TypeFor[float32](),
	reflect.TypeFor[float64](),
	reflect.TypeFor[complex64](),
	reflect.TypeFor[complex128](),
	reflect.TypeFor[string](),
	reflect.TypeFor[any](),
	reflect.TypeFor[error](),
	reflect.TypeFor[uuid.UUID](),
	reflect.TypeFor[time.Time](),
	reflect.TypeFor[time.Duration](),
	rtypeType,
}

// rtypeType is the unexported struct behind reflect.Type values.
var rtypeType = reflect.TypeOf(reflect.TypeFor[int]()).Elem()

var (
	defaultBinderOnce sync.Once
	defaultBinder     *Binder
)

// DefaultBinder returns the process-wide binder.
func DefaultBinder() *Binder {
	defaultBinderOnce.Do(func() {
		defaultBinder = NewBinder()
	})
	return defaultBinder
}

// Register makes T resolvable by name in the default binder.
func Register[T any]() {
	DefaultBinder().Register(reflect.TypeFor[T]())
}

// Register records t under its bound name.
func (b *Binder) Register(t reflect.Type) {
	b.RegisterName(typeName(t), t)
}

// RegisterName records t under an explicit name. A later registration of the
// same name replaces the earlier one.
func (b *Binder) RegisterName(name string, t reflect.Type) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byName[name] = t
	b.byType[t] = name
}

// BindToName implements TypeBinder.
func (b *Binder) BindToName(t reflect.Type) (string, error) {
	if t == nil {
		return "", NewError(CodeUsage, "cannot bind a nil type")
	}
	b.mu.RLock()
	name, ok := b.byType[t]
	b.mu.RUnlock()
	if ok {
		return name, nil
	}

	name = typeName(t)
	b.mu.Lock()
	defer b.mu.Unlock()
	if other, taken := b.byName[name]; taken && other != t {
		return "", NewError(CodeResolution, "type %v cannot use name %q, already bound to %v", t, name, other)
	}
	b.byName[name] = t
	b.byType[t] = name
	return name, nil
}

// BindToType implements TypeBinder.
func (b *Binder) BindToType(name string) (reflect.Type, bool) {
	b.mu.RLock()
	t, ok := b.byName[name]
	b.mu.RUnlock()
	if ok {
		return t, true
	}

	t, ok = b.resolveComposite(name)
	if !ok {
		return nil, false
	}
	b.mu.Lock()
	b.byName[name] = t
	if _, named := b.byType[t]; !named {
		b.byType[t] = name
	}
	b.mu.Unlock()
	return t, true
}

// resolveComposite builds a pointer, slice, array or map type from the
// names of its parts.
func (b *Binder) resolveComposite(name string) (reflect.Type, bool) {
	switch {
	case strings.HasPrefix(name, "*"):
		elem, ok := b.BindToType(name[1:])
		if !ok {
			return nil, false
		}
		return reflect.PointerTo(elem), true

	case strings.HasPrefix(name, "[]"):
		elem, ok := b.BindToType(name[2:])
		if !ok {
			return nil, false
		}
		return reflect.SliceOf(elem), true

	case strings.HasPrefix(name, "["):
		end := strings.IndexByte(name, ']')
		if end < 0 {
			return nil, false
		}
		n, err := strconv.Atoi(name[1:end])
		if err != nil || n < 0 {
			return nil, false
		}
		elem, ok := b.BindToType(name[end+1:])
		if !ok {
			return nil, false
		}
		return reflect.ArrayOf(n, elem), true

	case strings.HasPrefix(name, "map["):
		end := matchingBracket(name, len("map"))
		if end < 0 {
			return nil, false
		}
		key, ok := b.BindToType(name[len("map["):end])
		if !ok || !key.Comparable() {
			return nil, false
		}
		elem, ok := b.BindToType(name[end+1:])
		if !ok {
			return nil, false
		}
		return reflect.MapOf(key, elem), true
	}
	return nil, false
}

// matchingBracket returns the index of the ']' closing the '[' at open.
func matchingBracket(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// typeName computes the default name of t.
func typeName(t reflect.Type) string {
	if t.Name() != "" {
		if t.PkgPath() == "" {
			return t.Name()
		}
		return t.PkgPath() + "." + t.Name()
	}
	switch t.Kind() {
	case reflect.Pointer:
		return "*" + typeName(t.Elem())
	case reflect.Slice:
		return "[]" + typeName(t.Elem())
	case reflect.Array:
		return "[" + strconv.Itoa(t.Len()) + "]" + typeName(t.Elem())
	case reflect.Map:
		return "map[" + typeName(t.Key()) + "]" + typeName(t.Elem())
	}
	// Anonymous structs, funcs, chans and interfaces.
	return t.String()
}
