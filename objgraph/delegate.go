package objgraph

import (
	"reflect"
	"sync"
)

// FuncRegistry names functions so they can be written to a stream and
// restored by name.
//
// Functions are identified by their code pointer: closures created from the
// same function literal share one name.
type FuncRegistry struct {
	mu     sync.RWMutex
	byName map[string]reflect.Value
	byCode map[uintptr]string
}

// NewFuncRegistry creates an empty registry.
func NewFuncRegistry() *FuncRegistry {
	return &FuncRegistry{
		byName: make(map[string]reflect.Value),
		byCode: make(map[uintptr]string),
	}
}

var (
	defaultFuncsOnce sync.Once
	defaultFuncs     *FuncRegistry
)

// DefaultFuncs returns the registry used by the default resolver.
func DefaultFuncs() *FuncRegistry {
	defaultFuncsOnce.Do(func() {
		defaultFuncs = NewFuncRegistry()
	})
	return defaultFuncs
}

// RegisterFunc registers fn in the default registry.
func RegisterFunc(name string, fn any) error {
	return DefaultFuncs().Register(name, fn)
}

// Register records fn under name.
func (g *FuncRegistry) Register(name string, fn any) error {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return NewError(CodeUsage, "cannot register %T as function %q", fn, name)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.byName[name] = v
	g.byCode[v.Pointer()] = name
	return nil
}

// NameOf returns the name fn was registered under.
func (g *FuncRegistry) NameOf(fn reflect.Value) (string, bool) {
	if fn.Kind() != reflect.Func || fn.IsNil() {
		return "", false
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	name, ok := g.byCode[fn.Pointer()]
	return name, ok
}

// Lookup returns the function registered under name.
func (g *FuncRegistry) Lookup(name string) (reflect.Value, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	fn, ok := g.byName[name]
	return fn, ok
}

// ============================================================
// Delegate formatter
// ============================================================

// funcFormatter writes a function as its registered name.
type funcFormatter struct {
	t     reflect.Type
	funcs *FuncRegistry
}

func (f *funcFormatter) Type() reflect.Type { return f.t }

func (f *funcFormatter) Serialize(v reflect.Value, w *Writer) {
	name, ok := f.funcs.NameOf(v)
	if !ok {
		w.ctx.logWarning(CodeResolution, "function is not registered", "type", f.t)
		w.WriteNull(memberName)
		return
	}
	w.WriteString(memberName, name)
}

func (f *funcFormatter) Deserialize(v reflect.Value, r *Reader) {
	r.ReadMembers(func(member string) bool {
		if member != memberName {
			return false
		}
		if t, _ := r.PeekEntry(); t == EntryNull {
			r.ReadNull()
			return true
		}
		name, ok := r.ReadString()
		if !ok {
			return true
		}
		fn, ok := f.funcs.Lookup(name)
		switch {
		case !ok:
			r.ctx.logWarning(CodeResolution, "function is not registered", "name", name)
		case fn.Type().AssignableTo(f.t):
			v.Set(fn)
		case fn.Type().ConvertibleTo(f.t):
			v.Set(fn.Convert(f.t))
		default:
			r.ctx.logError(CodeStreamShape, "registered function has the wrong type", "name", name, "want", f.t, "got", fn.Type())
		}
		return true
	})
}
