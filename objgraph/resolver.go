package objgraph

import (
	"cmp"
	"errors"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"
)

// LocatorStep places a locator before or after the template table.
type LocatorStep uint8

const (
	StepBefore LocatorStep = iota
	StepAfter
)

// String returns the step name.
func (s LocatorStep) String() string {
	if s == StepBefore {
		return "before"
	}
	return "after"
}

// Locator produces formatters for types the template table does not cover.
type Locator interface {
	Name() string
	Step() LocatorStep
	Priority() int
	// Locate returns a formatter for t, or nil if t is not handled.
	Locate(t reflect.Type, members MemberPolicy) Formatter
}

// LocateFunc adapts a function to a Locator.
type LocateFunc func(t reflect.Type, members MemberPolicy) Formatter

type funcLocator struct {
	name     string
	step     LocatorStep
	priority int
	locate   LocateFunc
}

// NewLocator creates a locator from a function.
func NewLocator(name string, step LocatorStep, priority int, locate LocateFunc) Locator {
	return &funcLocator{name: name, step: step, priority: priority, locate: locate}
}

func (l *funcLocator) Name() string      { return l.name }
func (l *funcLocator) Step() LocatorStep { return l.step }
func (l *funcLocator) Priority() int     { return l.priority }

func (l *funcLocator) Locate(t reflect.Type, members MemberPolicy) Formatter {
	return l.locate(t, members)
}

// ============================================================
// Templates
// ============================================================

// Shape is a closed set of type families a template can target.
type Shape uint8

const (
	ShapeNone Shape = iota
	ShapePointer
	ShapeArray // slices and Go arrays
	ShapeCollection
	ShapeDelegate
	ShapeSelfDescribing
	ShapeLegacy
	ShapeStruct
)

// String returns the shape name.
func (s Shape) String() string {
	switch s {
	case ShapeNone:
		return "none"
	case ShapePointer:
		return "pointer"
	case ShapeArray:
		return "array"
	case ShapeCollection:
		return "collection"
	case ShapeDelegate:
		return "delegate"
	case ShapeSelfDescribing:
		return "self-describing"
	case ShapeLegacy:
		return "legacy"
	case ShapeStruct:
		return "struct"
	default:
		return "unknown"
	}
}

// Match reports whether t belongs to the shape.
func (s Shape) Match(t reflect.Type) bool {
	switch s {
	case ShapePointer:
		return t.Kind() == reflect.Pointer
	case ShapeArray:
		return t.Kind() == reflect.Slice || t.Kind() == reflect.Array
	case ShapeCollection:
		return t.Kind() == reflect.Map
	case ShapeDelegate:
		return t.Kind() == reflect.Func
	case ShapeSelfDescribing:
		return isSelfDescribing(t)
	case ShapeLegacy:
		return isTextCodec(t) || isBinaryCodec(t)
	case ShapeStruct:
		return t.Kind() == reflect.Struct
	}
	return false
}

// Template is an entry of the resolver's template table. It targets either
// one exact Type or every type of a Shape that satisfies Constraint.
type Template struct {
	Name     string
	Priority int

	Type       reflect.Type
	Shape      Shape
	Constraint func(t reflect.Type) bool

	New FormatterFunc
	// Fallback is used in best-effort mode when New fails.
	Fallback FormatterFunc
}

func (tpl *Template) matches(t reflect.Type) bool {
	if tpl.Type != nil {
		return tpl.Type == t
	}
	if !tpl.Shape.Match(t) {
		return false
	}
	return tpl.Constraint == nil || tpl.Constraint(t)
}

// ============================================================
// Registry
// ============================================================

// Registry collects locators and templates at start-up. Build freezes it
// into a Resolver.
type Registry struct {
	locators  []Locator
	templates []Template
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// RegisterLocator adds a locator.
func (g *Registry) RegisterLocator(l Locator) {
	g.locators = append(g.locators, l)
}

// RegisterTemplate adds a template.
func (g *Registry) RegisterTemplate(tpl Template) {
	g.templates = append(g.templates, tpl)
}

// RegisterFormatter adds an exact-type template that always yields f.
func (g *Registry) RegisterFormatter(f Formatter, priority int) {
	g.RegisterTemplate(Template{
		Name:     "exact:" + f.Type().String(),
		Priority: priority,
		Type:     f.Type(),
		New: func(reflect.Type, MemberPolicy) (Formatter, error) {
			return f, nil
		},
	})
}

// Build returns an immutable resolver over the registered entries.
// Locators and templates are ordered by descending priority; template ties
// are broken by name.
func (g *Registry) Build() *Resolver {
	r := &Resolver{
		templates: slices.Clone(g.templates),
		strict:    make(map[cacheKey]Formatter),
		lenient:   make(map[cacheKey]Formatter),
	}
	for _, l := range g.locators {
		if l.Step() == StepBefore {
			r.before = append(r.before, l)
		} else {
			r.after = append(r.after, l)
		}
	}
	byPriority := func(a, b Locator) int { return cmp.Compare(b.Priority(), a.Priority()) }
	slices.SortStableFunc(r.before, byPriority)
	slices.SortStableFunc(r.after, byPriority)
	slices.SortStableFunc(r.templates, func(a, b Template) int {
		if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return r
}

// ============================================================
// Resolver
// ============================================================

type cacheKey struct {
	t      reflect.Type
	policy string
}

// Resolver maps types to formatters and caches the results for its lifetime.
//
// Strict and best-effort lookups use separate caches, each behind its own
// lock. A lock is held for find-or-create only, so every formatter is built
// exactly once per (type, policy) and encoding never runs under a lock.
type Resolver struct {
	before    []Locator
	after     []Locator
	templates []Template

	strictMu sync.Mutex
	strict   map[cacheKey]Formatter

	lenientMu sync.Mutex
	lenient   map[cacheKey]Formatter

	constructions atomic.Int64
}

var (
	defaultResolverOnce sync.Once
	defaultResolver     *Resolver
)

// DefaultResolver returns the process-wide resolver with the built-in
// templates and locators.
func DefaultResolver() *Resolver {
	defaultResolverOnce.Do(func() {
		defaultResolver = NewResolver()
	})
	return defaultResolver
}

// NewResolver returns a fresh resolver with the built-in templates and
// locators and an empty cache.
func NewResolver() *Resolver {
	g := NewRegistry()
	RegisterBuiltins(g, DefaultFuncs())
	return g.Build()
}

// Get resolves t strictly: a type no strategy can handle is an error.
func (r *Resolver) Get(t reflect.Type, members MemberPolicy) (Formatter, error) {
	return r.get(t, members, false)
}

// GetBestEffort resolves t, substituting weak fallbacks where strict
// resolution would fail.
func (r *Resolver) GetBestEffort(t reflect.Type, members MemberPolicy) (Formatter, error) {
	return r.get(t, members, true)
}

// Constructions returns how many formatters this resolver has built.
func (r *Resolver) Constructions() int64 {
	return r.constructions.Load()
}

func (r *Resolver) get(t reflect.Type, members MemberPolicy, bestEffort bool) (Formatter, error) {
	if t == nil {
		return nil, NewError(CodeUsage, "cannot resolve a nil type")
	}
	if members == nil {
		members = ExportedMembers
	}
	if isPrimitiveType(t) {
		return nil, WrapError(CodeUsage, ErrPrimitiveType, "resolving %s", t)
	}

	mu, cache := &r.strictMu, r.strict
	if bestEffort {
		mu, cache = &r.lenientMu, r.lenient
	}
	key := cacheKey{t: t, policy: members.ID()}

	mu.Lock()
	defer mu.Unlock()
	if f, ok := cache[key]; ok {
		return f, nil
	}
	f, err := r.resolve(t, members, bestEffort)
	if err != nil {
		return nil, err
	}
	r.constructions.Add(1)
	cache[key] = f
	return f, nil
}

func (r *Resolver) resolve(t reflect.Type, members MemberPolicy, bestEffort bool) (Formatter, error) {
	for _, l := range r.before {
		if f := l.Locate(t, members); f != nil {
			return f, nil
		}
	}

	for i := range r.templates {
		tpl := &r.templates[i]
		if !tpl.matches(t) {
			continue
		}
		f, err := tpl.New(t, members)
		if err == nil {
			return f, nil
		}
		if bestEffort && tpl.Fallback != nil {
			if f, ferr := tpl.Fallback(t, members); ferr == nil {
				return f, nil
			}
		}
		return nil, WrapError(CodeInstantiation, err, "template %s for %s", tpl.Name, t)
	}

	for _, l := range r.after {
		if f := l.Locate(t, members); f != nil {
			return f, nil
		}
	}

	f, err := newMemberFormatter(t, members)
	if err == nil {
		return f, nil
	}
	if bestEffort {
		return newEmptyFormatter(t, members)
	}
	return nil, WrapError(CodeResolution, errors.Join(ErrNoFormatter, err), "resolving %s", t)
}
